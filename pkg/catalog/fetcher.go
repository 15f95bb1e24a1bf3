package catalog

import (
	"context"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/catalog-harvester/pkg/auth"
	"github.com/Sternrassler/catalog-harvester/pkg/client"
)

// Prometheus metrics for catalog fetching.
var (
	catalogPagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_catalog_pages_total",
		Help: "Total catalog pages fetched by status",
	}, []string{"status"})

	productsDiscoveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_products_discovered_total",
		Help: "Total available products discovered across all runs",
	})
)

// TokenSource supplies a valid API token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Config holds fetcher configuration.
type Config struct {
	// BaseURL is the catalog API base URL.
	BaseURL string

	// Headers are the shared request headers.
	Headers map[string]string
}

// Fetcher enumerates in-stock products page by page.
type Fetcher struct {
	api    *client.Adapter
	tokens TokenSource
	signer *auth.Signer
	config Config
	logger zerolog.Logger
}

// New creates a catalog fetcher.
func New(api *client.Adapter, tokens TokenSource, signer *auth.Signer, cfg Config, logger zerolog.Logger) *Fetcher {
	return &Fetcher{
		api:    api,
		tokens: tokens,
		signer: signer,
		config: cfg,
		logger: logger,
	}
}

// FetchProducts returns the available products of a category in a city.
//
// Page 1 establishes total_pages and total_items. When total_items is not
// strictly greater than minGoods the fetch stops with an empty result. The
// remaining pages fan out concurrently without an inner bound; a page that
// fails after the adapter's retries contributes nothing, and the fetch as a
// whole still succeeds. Page arrival order is not guaranteed; the output is a
// set, not a sequence.
func (f *Fetcher) FetchProducts(ctx context.Context, categoryID, cityID string, minGoods int) []Product {
	first, totalPages, totalItems, ok := f.fetchPage(ctx, categoryID, cityID, minGoods, 1)
	if !ok {
		return []Product{}
	}
	if totalPages < 1 {
		totalPages = 1
	}

	f.logger.Info().
		Str("category_id", categoryID).
		Str("city_id", cityID).
		Int("total_pages", totalPages).
		Int("total_items", totalItems).
		Msg("Catalog page totals discovered")

	if totalItems <= minGoods {
		f.logger.Info().
			Int("total_items", totalItems).
			Int("min_goods", minGoods).
			Msg("Not enough products in stock, skipping category")
		return []Product{}
	}

	// Remaining pages fan out unbounded. Stock categories top out at a few
	// hundred pages, so the risk is scale, not correctness.
	pages := make([][]Product, totalPages+1)
	pages[1] = first

	var wg sync.WaitGroup
	for page := 2; page <= totalPages; page++ {
		wg.Add(1)
		go func(page int) {
			defer wg.Done()
			items, _, _, ok := f.fetchPage(ctx, categoryID, cityID, minGoods, page)
			if !ok {
				return
			}
			pages[page] = items
		}(page)
	}
	wg.Wait()

	var products []Product
	for _, items := range pages {
		products = append(products, items...)
	}

	productsDiscoveredTotal.Add(float64(len(products)))
	f.logger.Info().
		Str("category_id", categoryID).
		Int("products", len(products)).
		Msg("Catalog fetch complete")

	return products
}

// fetchPage requests one catalog page and filters it to available items.
// A degraded request or malformed body yields ok=false.
func (f *Fetcher) fetchPage(ctx context.Context, categoryID, cityID string, minGoods, page int) ([]Product, int, int, bool) {
	token, err := f.tokens.Token(ctx)
	if err != nil {
		f.logger.Error().Err(err).Int("page", page).Msg("Token acquisition failed")
		catalogPagesTotal.WithLabelValues("degraded").Inc()
		return nil, 0, 0, false
	}

	params := map[string]string{
		"category_id": categoryID,
		"count":       strconv.Itoa(minGoods),
		"page":        strconv.Itoa(page),
		"token":       token,
	}
	params["sign"] = f.signer.Sign(params)

	f.logger.Debug().Int("page", page).Msg("Fetching catalog page")

	res := f.api.Request(ctx, client.Spec{
		URL:     f.config.BaseURL + "/v2/catalog/product/list/",
		Params:  params,
		Headers: withCity(f.config.Headers, cityID),
	})

	var parsed productListResponse
	if err := client.DecodeJSON(res, "/v2/catalog/product/list/", &parsed); err != nil {
		f.logger.Warn().Err(err).Int("page", page).Msg("No products on page or malformed response")
		catalogPagesTotal.WithLabelValues("degraded").Inc()
		return nil, 0, 0, false
	}

	products := availableProducts(parsed.Data.Goods)
	f.logger.Debug().Int("page", page).Int("products", len(products)).Msg("Catalog page parsed")
	catalogPagesTotal.WithLabelValues("ok").Inc()

	return products, parsed.Data.TotalPages, parsed.Data.TotalItems, true
}

// availableProducts keeps only items flagged as available.
func availableProducts(goods []goodsItem) []Product {
	products := make([]Product, 0, len(goods))
	for _, item := range goods {
		if !item.IsAvailable {
			continue
		}
		brand := item.BrandName
		if brand == "" {
			brand = "Unknown"
		}
		products = append(products, Product{
			ID:    item.ID,
			Name:  item.Title,
			Link:  item.Webpage,
			Brand: brand,
		})
	}
	return products
}

// withCity adds the city selection cookie to the shared headers.
func withCity(headers map[string]string, cityID string) map[string]string {
	merged := make(map[string]string, len(headers)+1)
	for key, value := range headers {
		merged[key] = value
	}
	merged["Cookie"] = "selected_city_code=" + cityID
	return merged
}
