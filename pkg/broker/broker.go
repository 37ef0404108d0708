package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Publisher delivers JSON messages under a routing key. With Kafka the key
// becomes the message key, the topic is fixed by configuration.
type Publisher interface {
	PublishJSON(ctx context.Context, key string, v interface{}) error
	Close() error
}

// Event is the envelope of every domain event the service emits.
type Event struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	Version    int         `json:"version"`
	OccurredAt time.Time   `json:"occurred_at"`
	Data       interface{} `json:"data"`
}

func NewEvent(eventType string, data interface{}) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Version:    1,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

// NopPublisher drops messages, it is used when no broker is configured.
type NopPublisher struct {
	log *logrus.Entry
}

func NewNopPublisher(log *logrus.Entry) *NopPublisher {
	return &NopPublisher{log: log}
}

func (p *NopPublisher) PublishJSON(_ context.Context, key string, _ interface{}) error {
	p.log.WithField("routing_key", key).Debug("Broker disabled, message dropped")
	return nil
}

func (p *NopPublisher) Close() error {
	return nil
}

// MemoryPublisher keeps published messages in order. Tests use it to
// assert on emitted events.
type MemoryPublisher struct {
	mu       sync.Mutex
	messages []Message
}

type Message struct {
	Key   string
	Value interface{}
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) PublishJSON(_ context.Context, key string, v interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, Message{Key: key, Value: v})
	return nil
}

func (p *MemoryPublisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

// Keys returns the routing keys in publish order.
func (p *MemoryPublisher) Keys() []string {
	msgs := p.Messages()
	keys := make([]string, len(msgs))
	for i, m := range msgs {
		keys[i] = m.Key
	}
	return keys
}

func (p *MemoryPublisher) Close() error {
	return nil
}
