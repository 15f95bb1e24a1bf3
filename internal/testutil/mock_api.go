// Package testutil provides testing utilities for the catalog harvester.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
)

// MockProduct is one raw catalog item served by the mock API.
type MockProduct struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Webpage     string `json:"webpage"`
	BrandName   string `json:"brand_name"`
	IsAvailable bool   `json:"isAvailable"`
}

// MockPrice is one price entry keyed by active offer id.
type MockPrice struct {
	ActiveOfferID int64
	Old           int64
	Actual        int64
}

// MockAPI is a configurable mock catalog API server for testing.
type MockAPI struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc

	// Tracking
	RequestCount  int
	PriceRequests int
	PageRequests  map[int]int
}

// NewMockAPI creates a new mock catalog API server.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		handlers:     make(map[string]http.HandlerFunc),
		PageRequests: make(map[int]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.mu.Unlock()

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// SetHandler sets a custom handler for a specific path.
func (m *MockAPI) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetToken configures the /start/ token endpoint.
func (m *MockAPI) SetToken(token string) {
	m.SetHandler("/start/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"data": map[string]any{"token": token}})
	})
}

// SetCities configures the city directory endpoint.
func (m *MockAPI) SetCities(cities map[string]string) {
	list := make([]map[string]any, 0, len(cities))
	for id, title := range cities {
		list = append(list, map[string]any{"id": id, "title": title})
	}
	m.SetHandler("/city_list_users/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"data": map[string]any{"cities": list}})
	})
}

// SetCategories configures the category tree endpoint with raw tree nodes.
func (m *MockAPI) SetCategories(tree []map[string]any) {
	m.SetHandler("/categories/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"data": map[string]any{"categories": tree}})
	})
}

// SetCatalogPages serves the paginated product list. pages[i] is page i+1;
// totalItems is reported on every page. Pages listed in failPages answer 500.
func (m *MockAPI) SetCatalogPages(pages [][]MockProduct, totalItems int, failPages ...int) {
	failing := make(map[int]bool, len(failPages))
	for _, page := range failPages {
		failing[page] = true
	}

	m.SetHandler("/v2/catalog/product/list/", func(w http.ResponseWriter, r *http.Request) {
		page := 1
		fmt.Sscanf(r.URL.Query().Get("page"), "%d", &page)

		m.mu.Lock()
		m.PageRequests[page]++
		m.mu.Unlock()

		if failing[page] {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		goods := []MockProduct{}
		if page >= 1 && page <= len(pages) {
			goods = pages[page-1]
		}
		writeJSON(w, map[string]any{"data": map[string]any{
			"goods":       goods,
			"total_pages": len(pages),
			"total_items": totalItems,
		}})
	})
}

// SetPrices serves the batch price endpoint. Requested offer ids present in
// prices are returned keyed by their ActiveOfferID; extra entries with ids
// outside any request can be injected via alwaysInclude.
func (m *MockAPI) SetPrices(prices map[int64]MockPrice, alwaysInclude ...MockPrice) {
	m.SetHandler("/v2/catalog/product/info-list/", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.PriceRequests++
		m.mu.Unlock()

		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var products []map[string]any
		for key, values := range r.PostForm {
			if len(values) == 0 || len(key) < 7 || key[:7] != "offers[" {
				continue
			}
			var id int64
			fmt.Sscanf(values[0], "%d", &id)
			price, ok := prices[id]
			if !ok {
				continue
			}
			products = append(products, priceEntry(price))
		}
		for _, price := range alwaysInclude {
			products = append(products, priceEntry(price))
		}

		writeJSON(w, map[string]any{"data": map[string]any{"products": products}})
	})
}

func priceEntry(price MockPrice) map[string]any {
	return map[string]any{
		"active_offer_id": price.ActiveOfferID,
		"variants": []map[string]any{
			{"price": map[string]any{"old": price.Old, "actual": price.Actual}},
		},
	}
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockAPI) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetPriceRequests returns the number of price batch requests received.
func (m *MockAPI) GetPriceRequests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.PriceRequests
}

// GetPageRequests returns how often a given catalog page was requested.
func (m *MockAPI) GetPageRequests(page int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.PageRequests[page]
}

// defaultHandler answers unconfigured paths with an empty envelope.
func (m *MockAPI) defaultHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"data": map[string]any{}})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}
