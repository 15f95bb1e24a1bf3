// Package metrics provides the centralized Prometheus metrics registry for
// the catalog harvester. All metrics are defined in their respective packages
// (client, catalog, pricing, combine, pipeline) to maintain modularity and
// avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the harvester.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the HTTP handler serving the registry, for mounting at
// /metrics in the worker binary.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - harvester_api_requests_total{endpoint, status} (Counter): Total requests by endpoint and HTTP status
//   - harvester_api_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - harvester_api_retries_total (Counter): Retry attempts after transport errors
//   - harvester_api_retry_exhausted_total (Counter): Requests that exhausted all attempts
//
// Catalog Metrics (pkg/catalog):
//   - harvester_catalog_pages_total{status} (Counter): Catalog page fetches by status
//   - harvester_products_discovered_total (Counter): Products discovered across all runs
//
// Pricing Metrics (pkg/pricing):
//   - harvester_price_batches_total{status} (Counter): Price batch requests by status
//   - harvester_price_requests_in_flight (Gauge): Price batch requests currently in flight
//   - harvester_prices_fetched_total (Counter): Price records fetched across all runs
//
// Combine Metrics (pkg/combine):
//   - harvester_products_unpriced_total (Counter): Products retained without a price record
//
// Pipeline Metrics (pkg/pipeline):
//   - harvester_stage_messages_total{stage, result} (Counter): Stage messages by result (ok, duplicate, malformed, error, failed)
//   - harvester_runs_total{outcome} (Counter): Runs by outcome (done, timeout)
//
// Example Prometheus Queries:
//
//   # Unpriced product rate
//   rate(harvester_products_unpriced_total[5m]) / rate(harvester_products_discovered_total[5m])
//
//   # Duplicate delivery rate
//   sum(rate(harvester_stage_messages_total{result="duplicate"}[5m]))
//
//   # P95 API latency
//   histogram_quantile(0.95, rate(harvester_api_request_duration_seconds_bucket[5m]))
//
//   # Batch failure rate
//   rate(harvester_price_batches_total{status="error"}[5m])
