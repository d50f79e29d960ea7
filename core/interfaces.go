package core

import "context"

// Notifier is an interface to receive item change notifications. Notify is
// called after the change was committed to the store.
type Notifier interface {
	Notify(ctx context.Context, resource string, operation Operation, id string, payload []byte) error
}

// NotifierFunc adapts an ordinary function to a Notifier
type NotifierFunc func(ctx context.Context, resource string, operation Operation, id string, payload []byte) error

// Notify calls f
func (f NotifierFunc) Notify(ctx context.Context, resource string, operation Operation, id string, payload []byte) error {
	return f(ctx, resource, operation, id, payload)
}
