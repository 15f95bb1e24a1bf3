package pipeline

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBroker routes messages between in-process queues using the same
// topology as the AMQP broker. It backs tests and single-process runs where
// no external broker is available.
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[string]chan Delivery
	closed bool
}

// NewMemoryBroker creates a broker with one buffered channel per queue in the
// shared topology.
func NewMemoryBroker() *MemoryBroker {
	queues := make(map[string]chan Delivery, len(topology))
	for _, b := range topology {
		queues[b.queue] = make(chan Delivery, 256)
	}
	return &MemoryBroker{queues: queues}
}

// Publish copies the body into every queue whose binding matches the
// exchange and routing key.
func (b *MemoryBroker) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("memory broker is closed")
	}

	matched := false
	for _, bind := range topology {
		if bind.exchange != exchange {
			continue
		}
		var hit bool
		switch bind.kind {
		case kindTopic:
			hit = matchRoutingKey(bind.pattern, routingKey)
		case kindDirect:
			hit = bind.pattern == routingKey
		}
		if !hit {
			continue
		}
		matched = true

		payload := make([]byte, len(body))
		copy(payload, body)
		queue := b.queues[bind.queue]
		delivery := Delivery{
			Body: payload,
			Ack:  func() error { return nil },
			Nack: func(requeue bool) error {
				if requeue {
					queue <- Delivery{Body: payload, Ack: func() error { return nil }, Nack: func(bool) error { return nil }}
				}
				return nil
			},
		}
		select {
		case queue <- delivery:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if !matched {
		return fmt.Errorf("no binding for exchange %q routing key %q", exchange, routingKey)
	}
	return nil
}

// Consume returns the queue's delivery channel.
func (b *MemoryBroker) Consume(ctx context.Context, queue string) (<-chan Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.queues[queue]
	if !ok {
		return nil, fmt.Errorf("unknown queue %q", queue)
	}
	return ch, nil
}

// Close closes all queue channels. Publish after Close returns an error.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, ch := range b.queues {
		close(ch)
	}
	return nil
}
