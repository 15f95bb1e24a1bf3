// Package combine merges price records into product records.
package combine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/catalog-harvester/pkg/catalog"
	"github.com/Sternrassler/catalog-harvester/pkg/pricing"
)

var productsUnpricedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "harvester_products_unpriced_total",
	Help: "Total products retained without a matching price record",
})

// Merge sets each product's prices from the matching price record.
//
// A product with no matching record keeps its zero prices and is retained;
// the output always has exactly the length of the input. Products are never
// dropped here, whatever the price fetch managed to deliver.
func Merge(products []catalog.Product, prices pricing.PriceBook, logger zerolog.Logger) []catalog.Product {
	logger.Info().
		Int("products", len(products)).
		Int("prices", len(prices)).
		Msg("Merging products with prices")

	merged := make([]catalog.Product, len(products))
	for i, product := range products {
		record, found := prices[product.ID]
		if found {
			product.RegularPrice = record.RegularPrice
			product.PromoPrice = record.PromoPrice
		} else {
			logger.Warn().
				Int64("product_id", product.ID).
				Str("name", product.Name).
				Msg("No price record for product, keeping zero prices")
			productsUnpricedTotal.Inc()
		}
		merged[i] = product
	}

	return merged
}
