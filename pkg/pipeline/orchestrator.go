package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/catalog-harvester/pkg/catalog"
)

var (
	// ErrChainTimeout means the fetch-price-combine chain did not finish
	// within the configured deadline. The run is marked FAILED.
	ErrChainTimeout = errors.New("pipeline chain timed out")

	// ErrSaveTimeout means the persistence stage did not report within the
	// configured deadline.
	ErrSaveTimeout = errors.New("save stage timed out")
)

var runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "harvester_runs_total",
	Help: "Pipeline runs by outcome",
}, []string{"outcome"})

// Request identifies one harvest: a category in a city with a minimum goods
// threshold below which the fetch yields nothing.
type Request struct {
	CategoryID string
	CityID     string
	MinGoods   int
}

// OrchestratorConfig holds the orchestrator's timing knobs.
type OrchestratorConfig struct {
	// ChainTimeout bounds how long Wait blocks on a run.
	ChainTimeout time.Duration

	// PollInterval is the state-polling cadence during Wait.
	PollInterval time.Duration
}

// DefaultOrchestratorConfig returns the standard timings.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		ChainTimeout: 5 * time.Minute,
		PollInterval: 500 * time.Millisecond,
	}
}

// Orchestrator dispatches runs into the pipeline and waits for their results.
// It never computes anything itself; workers do the work, the backend carries
// the answers back.
type Orchestrator struct {
	broker  Broker
	backend Backend
	config  OrchestratorConfig
	logger  zerolog.Logger
}

// NewOrchestrator wires an orchestrator.
func NewOrchestrator(broker Broker, backend Backend, cfg OrchestratorConfig, logger zerolog.Logger) *Orchestrator {
	if cfg.ChainTimeout <= 0 {
		cfg.ChainTimeout = 5 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	return &Orchestrator{broker: broker, backend: backend, config: cfg, logger: logger}
}

// Dispatch starts a run and returns its id. The run begins in FETCH_PENDING;
// a worker picks the message up from the city/category lane.
func (o *Orchestrator) Dispatch(ctx context.Context, req Request) (string, error) {
	runID := uuid.NewString()

	if err := o.backend.SetState(ctx, runID, StateFetchPending); err != nil {
		return "", fmt.Errorf("initialize run state: %w", err)
	}

	msg := FetchMessage{
		MessageID:  uuid.NewString(),
		RunID:      runID,
		CityID:     req.CityID,
		CategoryID: req.CategoryID,
		MinGoods:   req.MinGoods,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal fetch message: %w", err)
	}
	if err := o.broker.Publish(ctx, ExchangeFetch, FetchRoutingKey(req.CityID, req.CategoryID), body); err != nil {
		return "", fmt.Errorf("dispatch run: %w", err)
	}

	o.logger.Info().
		Str("run_id", runID).
		Str("city_id", req.CityID).
		Str("category_id", req.CategoryID).
		Int("min_goods", req.MinGoods).
		Msg("Run dispatched")
	return runID, nil
}

// Wait blocks until the run reaches DONE and returns its combined products.
// If the chain does not finish within ChainTimeout the run is marked FAILED
// and ErrChainTimeout is returned; a run that lost messages stays pending
// forever otherwise.
func (o *Orchestrator) Wait(ctx context.Context, runID string) ([]catalog.Product, error) {
	deadline := time.NewTimer(o.config.ChainTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(o.config.PollInterval)
	defer ticker.Stop()

	for {
		products, ok, err := o.backend.Result(ctx, runID)
		if err != nil {
			return nil, fmt.Errorf("poll run result: %w", err)
		}
		if ok {
			runsTotal.WithLabelValues("done").Inc()
			o.logger.Info().Str("run_id", runID).Int("products", len(products)).Msg("Run complete")
			return products, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			if err := o.backend.SetState(ctx, runID, StateFailed); err != nil {
				o.logger.Error().Err(err).Str("run_id", runID).Msg("Failed to mark run FAILED")
			}
			runsTotal.WithLabelValues("timeout").Inc()
			state, _ := o.backend.State(ctx, runID)
			o.logger.Error().
				Str("run_id", runID).
				Str("state", string(state)).
				Dur("timeout", o.config.ChainTimeout).
				Msg("Run timed out")
			return nil, fmt.Errorf("run %s: %w", runID, ErrChainTimeout)
		case <-ticker.C:
		}
	}
}

// DispatchSave sends the run's products to the persistence stage.
func (o *Orchestrator) DispatchSave(ctx context.Context, runID string, products []catalog.Product, path string) error {
	msg := SaveMessage{
		MessageID: uuid.NewString(),
		RunID:     runID,
		Products:  products,
		Path:      path,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal save message: %w", err)
	}
	if err := o.broker.Publish(ctx, ExchangeSave, SaveRoutingKey, body); err != nil {
		return fmt.Errorf("dispatch save: %w", err)
	}

	o.logger.Info().Str("run_id", runID).Str("path", path).Msg("Save dispatched")
	return nil
}

// WaitSave blocks until the persistence stage reports. A recorded save error
// is returned as-is; silence past ChainTimeout is ErrSaveTimeout.
func (o *Orchestrator) WaitSave(ctx context.Context, runID string) error {
	deadline := time.NewTimer(o.config.ChainTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(o.config.PollInterval)
	defer ticker.Stop()

	for {
		done, saveErr, err := o.backend.SaveStatus(ctx, runID)
		if err != nil {
			return fmt.Errorf("poll save status: %w", err)
		}
		if done {
			if saveErr != "" {
				return fmt.Errorf("save run %s: %s", runID, saveErr)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("run %s: %w", runID, ErrSaveTimeout)
		case <-ticker.C:
		}
	}
}
