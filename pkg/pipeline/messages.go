// Package pipeline chains the fetch, price and combine stages through routed
// message queues and exposes the orchestrator the driver talks to.
//
// Each stage is an independently schedulable unit of work. Topic exchanges
// route stage messages by "<stage>.<city_id>.<category_id>" so concurrent runs
// for distinct city/category pairs ride distinct logical lanes while sharing
// one worker pool. Persistence rides a direct exchange on a single lane.
// Delivery is at-least-once; handlers dedupe by message id.
package pipeline

import (
	"github.com/Sternrassler/catalog-harvester/pkg/catalog"
	"github.com/Sternrassler/catalog-harvester/pkg/pricing"
)

// State is the lifecycle position of one pipeline run.
type State string

const (
	// StateFetchPending is the initial state after dispatch.
	StateFetchPending State = "FETCH_PENDING"

	// StatePricePending means the catalog fetch completed.
	StatePricePending State = "PRICE_PENDING"

	// StateCombinePending means the price fetch completed.
	StateCombinePending State = "COMBINE_PENDING"

	// StateDone means the combined result is stored.
	StateDone State = "DONE"

	// StateFailed is set by the caller when the bounded wait expires.
	StateFailed State = "FAILED"
)

// Broker topology names.
const (
	ExchangeFetch   = "fetch"
	ExchangePrices  = "prices"
	ExchangeCombine = "combine"
	ExchangeSave    = "save"

	QueueFetchProducts   = "fetch.products"
	QueueFetchPrices     = "fetch.prices"
	QueueCombineProducts = "combine.products"
	QueueSaveProducts    = "save.products"

	// SaveRoutingKey is the single direct-exchange lane for persistence.
	SaveRoutingKey = "save.products"
)

// FetchRoutingKey routes a catalog fetch onto its city/category lane.
func FetchRoutingKey(cityID, categoryID string) string {
	return "fetch.products." + cityID + "." + categoryID
}

// PriceRoutingKey routes a price fetch onto its city/category lane.
func PriceRoutingKey(cityID, categoryID string) string {
	return "fetch.prices." + cityID + "." + categoryID
}

// CombineRoutingKey routes a combine onto its city/category lane.
func CombineRoutingKey(cityID, categoryID string) string {
	return "combine.products." + cityID + "." + categoryID
}

// FetchMessage starts a run's catalog fetch stage.
type FetchMessage struct {
	MessageID  string `json:"message_id"`
	RunID      string `json:"run_id"`
	CityID     string `json:"city_id"`
	CategoryID string `json:"category_id"`
	MinGoods   int    `json:"min_goods"`
}

// PriceMessage carries the fetch result into the price stage. City and
// category ride along explicitly so the routing key can be recomputed.
type PriceMessage struct {
	MessageID  string            `json:"message_id"`
	RunID      string            `json:"run_id"`
	CityID     string            `json:"city_id"`
	CategoryID string            `json:"category_id"`
	Products   []catalog.Product `json:"products"`
}

// CombineMessage carries products and prices into the combine stage.
type CombineMessage struct {
	MessageID  string            `json:"message_id"`
	RunID      string            `json:"run_id"`
	CityID     string            `json:"city_id"`
	CategoryID string            `json:"category_id"`
	Products   []catalog.Product `json:"products"`
	Prices     pricing.PriceBook `json:"prices"`
}

// SaveMessage dispatches the finished result to the persistence stage.
type SaveMessage struct {
	MessageID string            `json:"message_id"`
	RunID     string            `json:"run_id"`
	Products  []catalog.Product `json:"products"`
	Path      string            `json:"path"`
}
