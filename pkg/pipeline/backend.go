package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/catalog-harvester/pkg/catalog"
)

// Backend stores per-run pipeline state, results and persistence outcomes,
// and tracks delivered message ids for duplicate suppression.
type Backend interface {
	// SetState records the run's lifecycle state.
	SetState(ctx context.Context, runID string, state State) error

	// State returns the run's state, or "" if the run is unknown.
	State(ctx context.Context, runID string) (State, error)

	// StoreResult stores the run's combined products.
	StoreResult(ctx context.Context, runID string, products []catalog.Product) error

	// Result returns the stored products. ok is false until StoreResult ran.
	Result(ctx context.Context, runID string) (products []catalog.Product, ok bool, err error)

	// CompleteSave records the persistence outcome. saveErr is "" on success.
	CompleteSave(ctx context.Context, runID string, saveErr string) error

	// SaveStatus reports whether the save stage finished and with what error.
	SaveStatus(ctx context.Context, runID string) (done bool, saveErr string, err error)

	// FirstDelivery reports whether messageID has not been seen before and
	// atomically marks it seen. Handlers use it to make redelivery a no-op.
	FirstDelivery(ctx context.Context, messageID string) (bool, error)
}

// runTTL bounds how long run state outlives the chain. Long enough for any
// caller to collect results, short enough that keys do not pile up.
const runTTL = 24 * time.Hour

// RedisBackend is the production Backend.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend wraps an existing Redis client.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func runKey(runID, field string) string {
	return "harvester:run:" + runID + ":" + field
}

func (b *RedisBackend) SetState(ctx context.Context, runID string, state State) error {
	if err := b.client.Set(ctx, runKey(runID, "state"), string(state), runTTL).Err(); err != nil {
		return fmt.Errorf("set run state: %w", err)
	}
	return nil
}

func (b *RedisBackend) State(ctx context.Context, runID string) (State, error) {
	val, err := b.client.Get(ctx, runKey(runID, "state")).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get run state: %w", err)
	}
	return State(val), nil
}

func (b *RedisBackend) StoreResult(ctx context.Context, runID string, products []catalog.Product) error {
	data, err := json.Marshal(products)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := b.client.Set(ctx, runKey(runID, "result"), data, runTTL).Err(); err != nil {
		return fmt.Errorf("store result: %w", err)
	}
	return nil
}

func (b *RedisBackend) Result(ctx context.Context, runID string) ([]catalog.Product, bool, error) {
	data, err := b.client.Get(ctx, runKey(runID, "result")).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get result: %w", err)
	}
	var products []catalog.Product
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, false, fmt.Errorf("unmarshal result: %w", err)
	}
	return products, true, nil
}

func (b *RedisBackend) CompleteSave(ctx context.Context, runID string, saveErr string) error {
	// Empty string cannot double as the "not done" marker, so done and error
	// live in separate keys.
	if err := b.client.Set(ctx, runKey(runID, "save:done"), "1", runTTL).Err(); err != nil {
		return fmt.Errorf("mark save done: %w", err)
	}
	if saveErr != "" {
		if err := b.client.Set(ctx, runKey(runID, "save:error"), saveErr, runTTL).Err(); err != nil {
			return fmt.Errorf("store save error: %w", err)
		}
	}
	return nil
}

func (b *RedisBackend) SaveStatus(ctx context.Context, runID string) (bool, string, error) {
	_, err := b.client.Get(ctx, runKey(runID, "save:done")).Result()
	if errors.Is(err, redis.Nil) {
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("get save status: %w", err)
	}
	saveErr, err := b.client.Get(ctx, runKey(runID, "save:error")).Result()
	if errors.Is(err, redis.Nil) {
		return true, "", nil
	}
	if err != nil {
		return true, "", fmt.Errorf("get save error: %w", err)
	}
	return true, saveErr, nil
}

func (b *RedisBackend) FirstDelivery(ctx context.Context, messageID string) (bool, error) {
	first, err := b.client.SetNX(ctx, "harvester:msg:"+messageID, "1", runTTL).Result()
	if err != nil {
		return false, fmt.Errorf("mark message delivered: %w", err)
	}
	return first, nil
}

// MemoryBackend is an in-process Backend for tests and single-process runs.
type MemoryBackend struct {
	mu        sync.Mutex
	states    map[string]State
	results   map[string][]catalog.Product
	saveDone  map[string]bool
	saveErrs  map[string]string
	delivered map[string]bool
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		states:    make(map[string]State),
		results:   make(map[string][]catalog.Product),
		saveDone:  make(map[string]bool),
		saveErrs:  make(map[string]string),
		delivered: make(map[string]bool),
	}
}

func (b *MemoryBackend) SetState(ctx context.Context, runID string, state State) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states[runID] = state
	return nil
}

func (b *MemoryBackend) State(ctx context.Context, runID string) (State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.states[runID], nil
}

func (b *MemoryBackend) StoreResult(ctx context.Context, runID string, products []catalog.Product) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	stored := make([]catalog.Product, len(products))
	copy(stored, products)
	b.results[runID] = stored
	return nil
}

func (b *MemoryBackend) Result(ctx context.Context, runID string) ([]catalog.Product, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	products, ok := b.results[runID]
	return products, ok, nil
}

func (b *MemoryBackend) CompleteSave(ctx context.Context, runID string, saveErr string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saveDone[runID] = true
	if saveErr != "" {
		b.saveErrs[runID] = saveErr
	}
	return nil
}

func (b *MemoryBackend) SaveStatus(ctx context.Context, runID string) (bool, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saveDone[runID], b.saveErrs[runID], nil
}

func (b *MemoryBackend) FirstDelivery(ctx context.Context, messageID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.delivered[messageID] {
		return false, nil
	}
	b.delivered[messageID] = true
	return true, nil
}
