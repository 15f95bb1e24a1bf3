// Package pricing fetches current prices for product ids in bounded-
// concurrency batches.
package pricing

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/Sternrassler/catalog-harvester/pkg/auth"
	"github.com/Sternrassler/catalog-harvester/pkg/client"
)

// Prometheus metrics for price fetching.
var (
	priceBatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_price_batches_total",
		Help: "Total price batch requests by status",
	}, []string{"status"})

	priceRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvester_price_requests_in_flight",
		Help: "Price batch requests currently in flight",
	})

	pricesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_prices_fetched_total",
		Help: "Total price records fetched across all runs",
	})
)

// PriceRecord holds the two price points of one offer.
type PriceRecord struct {
	RegularPrice int64 `json:"regular_price"`
	PromoPrice   int64 `json:"promo_price"`
}

// PriceBook maps product ids to their price records. Keys are the ids the
// server asserts (active offer ids), which may differ from the requested ids.
type PriceBook map[int64]PriceRecord

// TokenSource supplies a valid API token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Config holds price fetcher configuration.
type Config struct {
	// BaseURL is the catalog API base URL.
	BaseURL string

	// Headers are the shared request headers.
	Headers map[string]string

	// BatchSize bounds how many ids travel in one price request.
	BatchSize int

	// MaxConcurrentRequests bounds simultaneous in-flight batch requests.
	MaxConcurrentRequests int
}

// Fetcher fetches prices in deduplicated, size-bounded batches.
type Fetcher struct {
	api    *client.Adapter
	tokens TokenSource
	signer *auth.Signer
	config Config
	sem    *semaphore.Weighted
	logger zerolog.Logger
}

// New creates a price fetcher.
func New(api *client.Adapter, tokens TokenSource, signer *auth.Signer, cfg Config, logger zerolog.Logger) *Fetcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.MaxConcurrentRequests <= 0 {
		cfg.MaxConcurrentRequests = 5
	}

	return &Fetcher{
		api:    api,
		tokens: tokens,
		signer: signer,
		config: cfg,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrentRequests)),
		logger: logger,
	}
}

// priceListResponse is the batch price lookup envelope.
type priceListResponse struct {
	Data struct {
		Products []priceItem `json:"products"`
	} `json:"data"`
}

type priceItem struct {
	ActiveOfferID int64          `json:"active_offer_id"`
	Variants      []priceVariant `json:"variants"`
}

type priceVariant struct {
	Price struct {
		Old    int64 `json:"old"`
		Actual int64 `json:"actual"`
	} `json:"price"`
}

// FetchPrices returns a price book for the given product ids.
//
// Ids are deduplicated and partitioned into batches of at most BatchSize; each
// batch is one signed request, issued under the shared concurrency permit. A
// batch that fails after the adapter's retries is dropped; its ids simply end
// up unpriced. Records are keyed by the server-returned active offer id.
func (f *Fetcher) FetchPrices(ctx context.Context, ids []int64) PriceBook {
	unique := dedupe(ids)
	batches := partition(unique, f.config.BatchSize)

	f.logger.Info().
		Int("ids", len(ids)).
		Int("unique", len(unique)).
		Int("batches", len(batches)).
		Msg("Fetching prices")

	book := make(PriceBook, len(unique))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for index, batch := range batches {
		wg.Add(1)
		go func(index int, batch []int64) {
			defer wg.Done()

			if err := f.sem.Acquire(ctx, 1); err != nil {
				f.logger.Warn().Err(err).Int("batch", index).Msg("Batch cancelled before dispatch")
				priceBatchesTotal.WithLabelValues("cancelled").Inc()
				return
			}
			priceRequestsInFlight.Inc()
			partial, ok := f.fetchBatch(ctx, index, batch)
			priceRequestsInFlight.Dec()
			f.sem.Release(1)

			if !ok {
				return
			}

			mu.Lock()
			for id, record := range partial {
				book[id] = record
			}
			mu.Unlock()
		}(index, batch)
	}
	wg.Wait()

	pricesFetchedTotal.Add(float64(len(book)))
	f.logger.Info().Int("prices", len(book)).Msg("Price fetch complete")

	return book
}

// fetchBatch issues one signed price lookup for a batch of ids.
func (f *Fetcher) fetchBatch(ctx context.Context, index int, batch []int64) (PriceBook, bool) {
	token, err := f.tokens.Token(ctx)
	if err != nil {
		f.logger.Warn().Err(err).Int("batch", index).Msg("Token acquisition failed, dropping batch")
		priceBatchesTotal.WithLabelValues("degraded").Inc()
		return nil, false
	}

	form := url.Values{}
	signValues := make([]string, 0, len(batch)+1)
	for position, id := range batch {
		value := strconv.FormatInt(id, 10)
		form.Set("offers["+strconv.Itoa(position)+"]", value)
		signValues = append(signValues, value)
	}
	form.Set("token", token)
	signValues = append(signValues, token)
	form.Set("sign", f.signer.SignValues(signValues))

	res := f.api.Request(ctx, client.Spec{
		Method:  http.MethodPost,
		URL:     f.config.BaseURL + "/v2/catalog/product/info-list/",
		Headers: f.config.Headers,
		Form:    form,
	})

	var parsed priceListResponse
	if err := client.DecodeJSON(res, "/v2/catalog/product/info-list/", &parsed); err != nil {
		f.logger.Warn().
			Err(err).
			Int("batch", index).
			Int("ids", len(batch)).
			Msg("Price batch dropped")
		priceBatchesTotal.WithLabelValues("degraded").Inc()
		return nil, false
	}

	partial := make(PriceBook, len(parsed.Data.Products))
	for _, item := range parsed.Data.Products {
		// The server keys records by its active offer id; that id wins over
		// whatever was requested.
		if item.ActiveOfferID == 0 || len(item.Variants) == 0 {
			continue
		}
		partial[item.ActiveOfferID] = PriceRecord{
			RegularPrice: item.Variants[0].Price.Old,
			PromoPrice:   item.Variants[0].Price.Actual,
		}
	}

	f.logger.Debug().Int("batch", index).Int("prices", len(partial)).Msg("Price batch parsed")
	priceBatchesTotal.WithLabelValues("ok").Inc()

	return partial, true
}

// dedupe removes duplicate ids, preserving first-seen order.
func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	unique := make([]int64, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}
	return unique
}

// partition splits ids into slices of at most size elements.
func partition(ids []int64, size int) [][]int64 {
	if len(ids) == 0 {
		return nil
	}
	batches := make([][]int64, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, ids[start:end])
	}
	return batches
}
