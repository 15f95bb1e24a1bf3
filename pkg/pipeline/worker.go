package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/catalog-harvester/pkg/catalog"
	"github.com/Sternrassler/catalog-harvester/pkg/combine"
	"github.com/Sternrassler/catalog-harvester/pkg/export"
	"github.com/Sternrassler/catalog-harvester/pkg/pricing"
)

var stageMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "harvester_stage_messages_total",
	Help: "Stage messages processed by stage and result",
}, []string{"stage", "result"})

// Worker consumes all stage queues and runs the handlers. Every handler is
// idempotent: delivery is at-least-once, so a message seen twice must change
// nothing the second time. Dedupe happens on message id before side effects.
type Worker struct {
	broker  Broker
	backend Backend
	catalog *catalog.Fetcher
	pricing *pricing.Fetcher
	logger  zerolog.Logger
}

// NewWorker wires a worker from its collaborators.
func NewWorker(broker Broker, backend Backend, cat *catalog.Fetcher, prc *pricing.Fetcher, logger zerolog.Logger) *Worker {
	return &Worker{
		broker:  broker,
		backend: backend,
		catalog: cat,
		pricing: prc,
		logger:  logger,
	}
}

// Run consumes the four stage queues until ctx is cancelled. It returns the
// first consumer error, or nil on clean shutdown.
func (w *Worker) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	consumers := []struct {
		queue   string
		handler func(context.Context, Delivery)
	}{
		{QueueFetchProducts, w.handleFetch},
		{QueueFetchPrices, w.handlePrice},
		{QueueCombineProducts, w.handleCombine},
		{QueueSaveProducts, w.handleSave},
	}

	for _, consumer := range consumers {
		deliveries, err := w.broker.Consume(ctx, consumer.queue)
		if err != nil {
			return fmt.Errorf("consume %s: %w", consumer.queue, err)
		}
		handler := consumer.handler
		queue := consumer.queue
		group.Go(func() error {
			w.logger.Info().Str("queue", queue).Msg("Consuming queue")
			for {
				select {
				case <-ctx.Done():
					return nil
				case d, ok := <-deliveries:
					if !ok {
						return nil
					}
					handler(ctx, d)
				}
			}
		})
	}

	return group.Wait()
}

// accept unmarshals the delivery and runs the duplicate check. A malformed
// body or a duplicate is acked and dropped; only a fresh, well-formed message
// returns true.
//
// The message is marked seen before the handler runs, so a handler that fails
// after acceptance stalls its run (caught by the chain timeout) instead of
// repeating side effects on redelivery.
func (w *Worker) accept(ctx context.Context, stage string, d Delivery, messageID string, unmarshalErr error) bool {
	if unmarshalErr != nil {
		w.logger.Error().Err(unmarshalErr).Str("stage", stage).Msg("Dropping malformed message")
		stageMessagesTotal.WithLabelValues(stage, "malformed").Inc()
		d.Ack()
		return false
	}

	first, err := w.backend.FirstDelivery(ctx, messageID)
	if err != nil {
		// Backend unavailable: requeue so the message is retried once the
		// backend is back, rather than processed possibly twice.
		w.logger.Error().Err(err).Str("stage", stage).Msg("Duplicate check failed, requeueing")
		stageMessagesTotal.WithLabelValues(stage, "error").Inc()
		d.Nack(true)
		return false
	}
	if !first {
		w.logger.Debug().Str("stage", stage).Str("message_id", messageID).Msg("Duplicate delivery, skipping")
		stageMessagesTotal.WithLabelValues(stage, "duplicate").Inc()
		d.Ack()
		return false
	}
	return true
}

func (w *Worker) publish(ctx context.Context, stage, exchange, routingKey string, msg any, d Delivery) {
	body, err := json.Marshal(msg)
	if err != nil {
		w.logger.Error().Err(err).Str("stage", stage).Msg("Failed to marshal next-stage message")
		stageMessagesTotal.WithLabelValues(stage, "error").Inc()
		d.Nack(true)
		return
	}
	if err := w.broker.Publish(ctx, exchange, routingKey, body); err != nil {
		w.logger.Error().Err(err).Str("stage", stage).Msg("Failed to publish next-stage message")
		stageMessagesTotal.WithLabelValues(stage, "error").Inc()
		d.Nack(true)
		return
	}
	stageMessagesTotal.WithLabelValues(stage, "ok").Inc()
	d.Ack()
}

func (w *Worker) handleFetch(ctx context.Context, d Delivery) {
	var msg FetchMessage
	err := json.Unmarshal(d.Body, &msg)
	if !w.accept(ctx, "fetch", d, msg.MessageID, err) {
		return
	}

	logger := w.logger.With().
		Str("run_id", msg.RunID).
		Str("city_id", msg.CityID).
		Str("category_id", msg.CategoryID).
		Logger()
	logger.Info().Int("min_goods", msg.MinGoods).Msg("Fetch stage started")

	products := w.catalog.FetchProducts(ctx, msg.CategoryID, msg.CityID, msg.MinGoods)

	if err := w.backend.SetState(ctx, msg.RunID, StatePricePending); err != nil {
		logger.Error().Err(err).Msg("Failed to advance run state")
	}

	next := PriceMessage{
		MessageID:  uuid.NewString(),
		RunID:      msg.RunID,
		CityID:     msg.CityID,
		CategoryID: msg.CategoryID,
		Products:   products,
	}
	logger.Info().Int("products", len(products)).Msg("Fetch stage finished")
	w.publish(ctx, "fetch", ExchangePrices, PriceRoutingKey(msg.CityID, msg.CategoryID), next, d)
}

func (w *Worker) handlePrice(ctx context.Context, d Delivery) {
	var msg PriceMessage
	err := json.Unmarshal(d.Body, &msg)
	if !w.accept(ctx, "price", d, msg.MessageID, err) {
		return
	}

	logger := w.logger.With().Str("run_id", msg.RunID).Logger()
	logger.Info().Int("products", len(msg.Products)).Msg("Price stage started")

	ids := make([]int64, len(msg.Products))
	for i, product := range msg.Products {
		ids[i] = product.ID
	}
	prices := w.pricing.FetchPrices(ctx, ids)

	if err := w.backend.SetState(ctx, msg.RunID, StateCombinePending); err != nil {
		logger.Error().Err(err).Msg("Failed to advance run state")
	}

	next := CombineMessage{
		MessageID:  uuid.NewString(),
		RunID:      msg.RunID,
		CityID:     msg.CityID,
		CategoryID: msg.CategoryID,
		Products:   msg.Products,
		Prices:     prices,
	}
	logger.Info().Int("prices", len(prices)).Msg("Price stage finished")
	w.publish(ctx, "price", ExchangeCombine, CombineRoutingKey(msg.CityID, msg.CategoryID), next, d)
}

func (w *Worker) handleCombine(ctx context.Context, d Delivery) {
	var msg CombineMessage
	err := json.Unmarshal(d.Body, &msg)
	if !w.accept(ctx, "combine", d, msg.MessageID, err) {
		return
	}

	logger := w.logger.With().Str("run_id", msg.RunID).Logger()

	merged := combine.Merge(msg.Products, msg.Prices, logger)

	if err := w.backend.StoreResult(ctx, msg.RunID, merged); err != nil {
		logger.Error().Err(err).Msg("Failed to store result, requeueing")
		stageMessagesTotal.WithLabelValues("combine", "error").Inc()
		d.Nack(true)
		return
	}
	if err := w.backend.SetState(ctx, msg.RunID, StateDone); err != nil {
		logger.Error().Err(err).Msg("Failed to advance run state")
	}

	stageMessagesTotal.WithLabelValues("combine", "ok").Inc()
	logger.Info().Int("products", len(merged)).Msg("Combine stage finished, run complete")
	d.Ack()
}

func (w *Worker) handleSave(ctx context.Context, d Delivery) {
	var msg SaveMessage
	err := json.Unmarshal(d.Body, &msg)
	if !w.accept(ctx, "save", d, msg.MessageID, err) {
		return
	}

	logger := w.logger.With().Str("run_id", msg.RunID).Str("path", msg.Path).Logger()
	logger.Info().Int("products", len(msg.Products)).Msg("Saving products")

	saveErr := ""
	if err := export.Save(msg.Products, msg.Path); err != nil {
		// The outcome is recorded either way so the waiting caller gets the
		// error instead of a timeout.
		logger.Error().Err(err).Msg("Save failed")
		saveErr = err.Error()
	}

	if err := w.backend.CompleteSave(ctx, msg.RunID, saveErr); err != nil {
		logger.Error().Err(err).Msg("Failed to record save outcome, requeueing")
		stageMessagesTotal.WithLabelValues("save", "error").Inc()
		d.Nack(true)
		return
	}

	result := "ok"
	if saveErr != "" {
		result = "failed"
	}
	stageMessagesTotal.WithLabelValues("save", result).Inc()
	d.Ack()
}
