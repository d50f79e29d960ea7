package notifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/itemsvc/core"
	"github.com/relabs-tech/itemsvc/core/logger"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestNotify(t *testing.T) {
	writer := &fakeWriter{}
	k := newWithWriter(writer, "changes")
	k.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	ctx := logger.ContextWithRequestID(context.Background(), "req-1")
	require.NoError(t, k.Notify(ctx, "items", core.OperationUpdate, "42", []byte(`{"id":42,"title":"x"}`)))
	require.NoError(t, k.Notify(context.Background(), "items", core.OperationDelete, "42", nil))
	require.Len(t, writer.messages, 2)

	msg := writer.messages[0]
	assert.Equal(t, "items/42", string(msg.Key))
	assert.JSONEq(t, `{"resource":"items","operation":"update","id":"42","payload":{"id":42,"title":"x"},"timestamp":"2024-01-02T03:04:05Z"}`, string(msg.Value))
	assert.Equal(t, []kafka.Header{
		{Key: "operation", Value: []byte("update")},
		{Key: logger.RequestIDHeader, Value: []byte("req-1")},
	}, msg.Headers)

	var event Event
	require.NoError(t, json.Unmarshal(writer.messages[1].Value, &event))
	assert.Equal(t, core.OperationDelete, event.Operation)
	assert.Nil(t, event.Payload)
	assert.Len(t, writer.messages[1].Headers, 1)

	require.NoError(t, k.Close())
	assert.True(t, writer.closed)
}

func TestNotifyFailure(t *testing.T) {
	failure := errors.New("leader not available")
	k := newWithWriter(&fakeWriter{err: failure}, "changes")
	err := k.Notify(context.Background(), "items", core.OperationCreate, "1", []byte(`{}`))
	assert.True(t, errors.Is(err, failure))
}

func TestNewKafka(t *testing.T) {
	_, err := NewKafka(" , ", "changes")
	assert.Error(t, err)
	_, err = NewKafka("localhost:9092", "")
	assert.Error(t, err)
	k, err := NewKafka("localhost:9092, localhost:9093", "changes")
	require.NoError(t, err)
	writer := k.writer.(*kafka.Writer)
	assert.Equal(t, "tcp,tcp", writer.Addr.Network())
	assert.Equal(t, "localhost:9092,localhost:9093", writer.Addr.String())
	assert.Equal(t, "changes", writer.Topic)
}
