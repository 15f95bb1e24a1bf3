package pipeline

import (
	"context"
	"strings"
)

// Delivery is one message handed to a consumer. Ack must be called exactly
// once after the handler finishes; Nack with requeue returns the message to
// the queue for redelivery.
type Delivery struct {
	Body []byte
	Ack  func() error
	Nack func(requeue bool) error
}

// Broker publishes stage messages to exchanges and consumes them from queues.
// Implementations guarantee at-least-once delivery; consumers must tolerate
// duplicates.
type Broker interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
	Consume(ctx context.Context, queue string) (<-chan Delivery, error)
	Close() error
}

type exchangeKind string

const (
	kindTopic  exchangeKind = "topic"
	kindDirect exchangeKind = "direct"
)

type binding struct {
	exchange string
	kind     exchangeKind
	queue    string
	pattern  string
}

// topology is the full exchange/queue/binding layout, shared by every broker
// implementation so the in-memory broker routes exactly like the real one.
var topology = []binding{
	{exchange: ExchangeFetch, kind: kindTopic, queue: QueueFetchProducts, pattern: "fetch.products.#"},
	{exchange: ExchangePrices, kind: kindTopic, queue: QueueFetchPrices, pattern: "fetch.prices.#"},
	{exchange: ExchangeCombine, kind: kindTopic, queue: QueueCombineProducts, pattern: "combine.products.#"},
	{exchange: ExchangeSave, kind: kindDirect, queue: QueueSaveProducts, pattern: SaveRoutingKey},
}

// matchRoutingKey reports whether a topic pattern matches a routing key.
// Segments are dot-separated; "*" matches one segment, "#" matches the rest.
func matchRoutingKey(pattern, key string) bool {
	pp := strings.Split(pattern, ".")
	kp := strings.Split(key, ".")

	for i, seg := range pp {
		if seg == "#" {
			return true
		}
		if i >= len(kp) {
			return false
		}
		if seg != "*" && seg != kp[i] {
			return false
		}
	}
	return len(pp) == len(kp)
}
