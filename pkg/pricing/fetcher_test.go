package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/catalog-harvester/internal/testutil"
	"github.com/Sternrassler/catalog-harvester/pkg/auth"
	"github.com/Sternrassler/catalog-harvester/pkg/client"
)

type staticTokens struct{}

func (staticTokens) Token(ctx context.Context) (string, error) {
	return "test-token", nil
}

func newTestFetcher(baseURL string, batchSize, maxConcurrent int) *Fetcher {
	adapter := client.New(client.Config{Retries: 1, RetryDelay: time.Millisecond}, zerolog.Nop())
	return New(adapter, staticTokens{}, auth.NewSigner("salt"), Config{
		BaseURL:               baseURL,
		BatchSize:             batchSize,
		MaxConcurrentRequests: maxConcurrent,
	}, zerolog.Nop())
}

func TestDedupe(t *testing.T) {
	tests := []struct {
		name  string
		input []int64
		want  []int64
	}{
		{"no duplicates", []int64{1, 2, 3}, []int64{1, 2, 3}},
		{"duplicates removed", []int64{1, 2, 1, 3, 2}, []int64{1, 2, 3}},
		{"all same", []int64{7, 7, 7}, []int64{7}},
		{"empty", nil, []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := dedupe(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("dedupe()[%d] = %d, want %d (first-seen order)", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestPartition(t *testing.T) {
	ids := make([]int64, 450)
	for i := range ids {
		ids[i] = int64(i + 1)
	}

	batches := partition(ids, 200)

	if len(batches) != 3 {
		t.Fatalf("len(batches) = %d, want 3", len(batches))
	}
	wantSizes := []int{200, 200, 50}
	for i, batch := range batches {
		if len(batch) != wantSizes[i] {
			t.Errorf("batch %d size = %d, want %d", i, len(batch), wantSizes[i])
		}
	}
}

func TestPartition_Empty(t *testing.T) {
	if got := partition(nil, 200); got != nil {
		t.Errorf("partition(nil) = %v, want nil", got)
	}
}

func TestFetchPrices_BatchCount(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()
	api.SetPrices(map[int64]testutil.MockPrice{})

	fetcher := newTestFetcher(api.URL(), 200, 5)

	// 450 distinct ids with duplicates sprinkled in: exactly 3 batches.
	ids := make([]int64, 0, 500)
	for i := int64(1); i <= 450; i++ {
		ids = append(ids, i)
	}
	ids = append(ids, 1, 2, 3, 4, 5) // duplicates must not create extra lookups

	fetcher.FetchPrices(context.Background(), ids)

	if got := api.GetPriceRequests(); got != 3 {
		t.Errorf("price requests = %d, want 3 (200/200/50)", got)
	}
}

func TestFetchPrices_MergesBatches(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()

	prices := map[int64]testutil.MockPrice{
		1: {ActiveOfferID: 1, Old: 100, Actual: 80},
		2: {ActiveOfferID: 2, Old: 200, Actual: 200},
		3: {ActiveOfferID: 3, Old: 300, Actual: 250},
	}
	api.SetPrices(prices)

	fetcher := newTestFetcher(api.URL(), 2, 5) // forces 2 batches
	book := fetcher.FetchPrices(context.Background(), []int64{1, 2, 3})

	if len(book) != 3 {
		t.Fatalf("len(book) = %d, want 3", len(book))
	}
	if book[1].RegularPrice != 100 || book[1].PromoPrice != 80 {
		t.Errorf("book[1] = %+v, want {100 80}", book[1])
	}
	if book[3].RegularPrice != 300 || book[3].PromoPrice != 250 {
		t.Errorf("book[3] = %+v, want {300 250}", book[3])
	}
}

func TestFetchPrices_ServerAssertedIDWins(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()

	// The server answers with an active offer id that was never requested.
	api.SetPrices(map[int64]testutil.MockPrice{}, testutil.MockPrice{
		ActiveOfferID: 999, Old: 50, Actual: 40,
	})

	fetcher := newTestFetcher(api.URL(), 200, 5)
	book := fetcher.FetchPrices(context.Background(), []int64{1})

	record, ok := book[999]
	if !ok {
		t.Fatalf("book missing server-asserted id 999: %v", book)
	}
	if record.RegularPrice != 50 || record.PromoPrice != 40 {
		t.Errorf("book[999] = %+v, want {50 40}", record)
	}
}

func TestFetchPrices_FailedBatchDropped(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()

	var requests int32
	api.SetHandler("/v2/catalog/product/info-list/", func(w http.ResponseWriter, r *http.Request) {
		// Every second batch fails.
		if atomic.AddInt32(&requests, 1)%2 == 0 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		r.ParseForm()
		var products []map[string]any
		for key, values := range r.PostForm {
			if len(key) < 7 || key[:7] != "offers[" {
				continue
			}
			var id int64
			fmt.Sscanf(values[0], "%d", &id)
			products = append(products, map[string]any{
				"active_offer_id": id,
				"variants":        []map[string]any{{"price": map[string]any{"old": id * 10, "actual": id * 9}}},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"products": products}})
	})

	fetcher := newTestFetcher(api.URL(), 1, 1) // one id per batch, sequential
	book := fetcher.FetchPrices(context.Background(), []int64{1, 2, 3, 4})

	// Half the batches failed; their ids are simply unpriced, the call as a
	// whole does not fail.
	if len(book) != 2 {
		t.Errorf("len(book) = %d, want 2 (failed batches dropped)", len(book))
	}
}

func TestFetchPrices_ConcurrencyBound(t *testing.T) {
	const bound = 3

	var inFlight, maxInFlight int32
	var mu sync.Mutex

	api := testutil.NewMockAPI()
	defer api.Close()
	api.SetHandler("/v2/catalog/product/info-list/", func(w http.ResponseWriter, r *http.Request) {
		current := atomic.AddInt32(&inFlight, 1)
		mu.Lock()
		if current > maxInFlight {
			maxInFlight = current
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": {"products": []}}`))
	})

	fetcher := newTestFetcher(api.URL(), 1, bound) // 20 ids -> 20 batches
	ids := make([]int64, 20)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	fetcher.FetchPrices(context.Background(), ids)

	mu.Lock()
	defer mu.Unlock()
	if maxInFlight > bound {
		t.Errorf("max in-flight = %d, want <= %d", maxInFlight, bound)
	}
	if maxInFlight == 0 {
		t.Error("No batch requests observed")
	}
}

func TestFetchPrices_SignsEveryBatch(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()

	var gotSign, gotToken string
	api.SetHandler("/v2/catalog/product/info-list/", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotSign = r.PostForm.Get("sign")
		gotToken = r.PostForm.Get("token")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": {"products": []}}`))
	})

	fetcher := newTestFetcher(api.URL(), 200, 5)
	fetcher.FetchPrices(context.Background(), []int64{1001, 1002})

	if gotToken != "test-token" {
		t.Errorf("token = %q, want test-token", gotToken)
	}
	want := auth.NewSigner("salt").SignValues([]string{"1001", "1002", "test-token"})
	if gotSign != want {
		t.Errorf("sign = %q, want %q", gotSign, want)
	}
}
