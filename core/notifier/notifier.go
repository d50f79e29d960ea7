/*
Package notifier publishes item changes to a Kafka topic.

Every committed create, update or delete becomes one message. The message
key is "<resource>/<id>", so all changes of one item land in the same
partition and keep their order. The value is a JSON envelope:

	{
	  "resource": "items",
	  "operation": "update",
	  "id": "42",
	  "payload": {...},
	  "timestamp": "2024-01-02T03:04:05Z"
	}
*/
package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/relabs-tech/itemsvc/core"
	"github.com/relabs-tech/itemsvc/core/logger"
)

// messageWriter is the part of kafka.Writer the notifier needs
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Event is the JSON envelope of a change notification
type Event struct {
	Resource  string          `json:"resource"`
	Operation core.Operation  `json:"operation"`
	ID        string          `json:"id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Kafka is a core.Notifier which writes to a Kafka topic
type Kafka struct {
	writer messageWriter
	topic  string
	now    func() time.Time
}

// NewKafka returns a notifier for topic on the comma separated list of brokers
func NewKafka(brokers, topic string) (*Kafka, error) {
	var addrs []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	if topic == "" {
		return nil, fmt.Errorf("no kafka topic configured")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(addrs...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	logger.Default().Infof("publishing changes to kafka topic %s on %s", topic, strings.Join(addrs, ","))
	return newWithWriter(writer, topic), nil
}

func newWithWriter(writer messageWriter, topic string) *Kafka {
	return &Kafka{writer: writer, topic: topic, now: time.Now}
}

// Notify implements core.Notifier
func (k *Kafka) Notify(ctx context.Context, resource string, operation core.Operation, id string, payload []byte) error {
	event := Event{
		Resource:  resource,
		Operation: operation,
		ID:        id,
		Payload:   payload,
		Timestamp: k.now().UTC(),
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	headers := []kafka.Header{{Key: "operation", Value: []byte(operation)}}
	if requestID := logger.RequestIDFromContext(ctx); requestID != "" {
		headers = append(headers, kafka.Header{Key: logger.RequestIDHeader, Value: []byte(requestID)})
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(resource + "/" + id),
		Value:   value,
		Headers: headers,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", k.topic, err)
	}
	return nil
}

// Close flushes pending messages and closes the writer
func (k *Kafka) Close() error {
	return k.writer.Close()
}
