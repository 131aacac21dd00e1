package nats

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/consolewiz/internal/logger"
	"github.com/nats-io/nats.go"
)

// Bus is the messaging channel over a NATS connection. Event names map to
// subjects through Subject.
type Bus struct {
	nc *nats.Conn
}

// NewBus wraps nc.
func NewBus(nc *nats.Conn) *Bus {
	return &Bus{nc: nc}
}

// Subscribe delivers every payload published for event to handler, in the
// order the server delivers them. Handlers run on the subscription's own
// goroutine and must not block for long.
func (b *Bus) Subscribe(event string, handler func(payload []byte)) (func() error, error) {
	subject := Subject(event)
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	// Make sure the server knows about the subscription before returning, so a
	// publish issued right after Subscribe is not missed.
	if err := b.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flushing subscription to %s: %w", subject, err)
	}
	logger.Debug("Subscribed to %s", subject)
	return sub.Unsubscribe, nil
}

// Publish sends payload for event without persistence guarantees beyond
// what the server provides for the subject.
func (b *Bus) Publish(event string, payload []byte) error {
	subject := Subject(event)
	if err := b.nc.Publish(subject, payload); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

// PublishJSON marshals v and publishes it for event.
func (b *Bus) PublishJSON(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", event, err)
	}
	return b.Publish(event, data)
}
