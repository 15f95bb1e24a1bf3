package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testAdapter(retries int) *Adapter {
	return New(Config{
		Retries:    retries,
		RetryDelay: time.Millisecond,
		Timeout:    5 * time.Second,
	}, zerolog.Nop())
}

// failingTransport fails the first n round trips with a transport error.
type failingTransport struct {
	failures int32
	attempts int32
	inner    http.RoundTripper
}

func (t *failingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	attempt := atomic.AddInt32(&t.attempts, 1)
	if attempt <= atomic.LoadInt32(&t.failures) {
		return nil, errors.New("connection reset")
	}
	return t.inner.RoundTrip(req)
}

func TestRequest_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"data": {"token": "abc"}}`)
	}))
	defer server.Close()

	adapter := testAdapter(3)
	res := adapter.Request(context.Background(), Spec{URL: server.URL + "/start/"})

	if !res.OK() {
		t.Fatalf("Outcome = %v, want OK (err: %v)", res.Outcome, res.Err)
	}
	if res.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", res.StatusCode)
	}
	if string(res.Body) != `{"data": {"token": "abc"}}` {
		t.Errorf("Unexpected body: %s", res.Body)
	}
}

func TestRequest_TransportRetryThenSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	transport := &failingTransport{failures: 2, inner: http.DefaultTransport}
	adapter := testAdapter(3)
	adapter.SetHTTPClient(&http.Client{Transport: transport})

	res := adapter.Request(context.Background(), Spec{URL: server.URL})

	if !res.OK() {
		t.Fatalf("Outcome = %v, want OK after retries (err: %v)", res.Outcome, res.Err)
	}
	if got := atomic.LoadInt32(&transport.attempts); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestRequest_TransportRetryExhausted(t *testing.T) {
	transport := &failingTransport{failures: 100, inner: http.DefaultTransport}
	adapter := testAdapter(3)
	adapter.SetHTTPClient(&http.Client{Transport: transport})

	res := adapter.Request(context.Background(), Spec{URL: "http://localhost:1/unused"})

	if res.Outcome != OutcomeTransport {
		t.Fatalf("Outcome = %v, want %v", res.Outcome, OutcomeTransport)
	}
	if !errors.Is(res.Err, ErrRetryExhausted) {
		t.Errorf("Err = %v, want ErrRetryExhausted", res.Err)
	}
	if got := atomic.LoadInt32(&transport.attempts); got != 3 {
		t.Errorf("attempts = %d, want exactly 3 (fixed attempt count)", got)
	}
	if len(res.Body) != 0 {
		t.Errorf("Degraded result must carry an empty body, got %d bytes", len(res.Body))
	}
}

func TestRequest_ErrorStatusNotRetried(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	adapter := testAdapter(3)
	res := adapter.Request(context.Background(), Spec{URL: server.URL})

	if res.Outcome != OutcomeStatus {
		t.Fatalf("Outcome = %v, want %v", res.Outcome, OutcomeStatus)
	}
	if res.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", res.StatusCode)
	}
	// Retry policy applies to transport errors only.
	if got := atomic.LoadInt32(&requests); got != 1 {
		t.Errorf("requests = %d, want 1 (error statuses are not retried)", got)
	}

	var statusErr *StatusError
	if !errors.As(res.Err, &statusErr) {
		t.Errorf("Err = %T, want *StatusError", res.Err)
	}
}

func TestRequest_StripsEmptyParams(t *testing.T) {
	var gotQuery url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	adapter := testAdapter(1)
	res := adapter.Request(context.Background(), Spec{
		URL: server.URL,
		Params: map[string]string{
			"category_id": "42",
			"token":       "",
			"page":        "3",
		},
	})
	if !res.OK() {
		t.Fatalf("Request failed: %v", res.Err)
	}

	if gotQuery.Get("category_id") != "42" || gotQuery.Get("page") != "3" {
		t.Errorf("Expected params missing, got: %v", gotQuery)
	}
	if _, present := gotQuery["token"]; present {
		t.Errorf("Empty param was not stripped: %v", gotQuery)
	}
}

func TestRequest_FormPost(t *testing.T) {
	var gotContentType string
	var gotForm url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		r.ParseForm()
		gotForm = r.PostForm
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	form := url.Values{}
	form.Set("offers[0]", "1001")
	form.Set("token", "tok")

	adapter := testAdapter(1)
	res := adapter.Request(context.Background(), Spec{
		Method: http.MethodPost,
		URL:    server.URL,
		Form:   form,
	})
	if !res.OK() {
		t.Fatalf("Request failed: %v", res.Err)
	}

	if gotContentType != "application/x-www-form-urlencoded" {
		t.Errorf("Content-Type = %q, want form-urlencoded", gotContentType)
	}
	if gotForm.Get("offers[0]") != "1001" {
		t.Errorf("Form not transmitted, got: %v", gotForm)
	}
}

func TestRequest_ContextCancelledDuringRetry(t *testing.T) {
	transport := &failingTransport{failures: 100, inner: http.DefaultTransport}
	adapter := New(Config{Retries: 3, RetryDelay: time.Minute, Timeout: time.Second}, zerolog.Nop())
	adapter.SetHTTPClient(&http.Client{Transport: transport})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res := adapter.Request(ctx, Spec{URL: "http://localhost:1/unused"})
	if time.Since(start) > 5*time.Second {
		t.Fatal("Request did not return promptly after cancellation")
	}
	if res.Outcome != OutcomeTransport {
		t.Errorf("Outcome = %v, want %v", res.Outcome, OutcomeTransport)
	}
	if !errors.Is(res.Err, ErrContextCancelled) {
		t.Errorf("Err = %v, want ErrContextCancelled", res.Err)
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}

	tests := []struct {
		name      string
		res       Result
		wantErr   bool
		wantToken string
	}{
		{
			name:      "valid body",
			res:       Result{Outcome: OutcomeOK, Body: []byte(`{"data":{"token":"abc"}}`)},
			wantToken: "abc",
		},
		{
			name:    "malformed body",
			res:     Result{Outcome: OutcomeOK, Body: []byte(`{"data":`)},
			wantErr: true,
		},
		{
			name:    "degraded result",
			res:     Result{Outcome: OutcomeTransport, Err: ErrRetryExhausted},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v payload
			err := DecodeJSON(tt.res, "/test/", &v)

			if tt.wantErr {
				var parseErr *ParseError
				if !errors.As(err, &parseErr) {
					t.Fatalf("err = %v, want *ParseError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeJSON() error = %v", err)
			}
			if v.Data.Token != tt.wantToken {
				t.Errorf("Token = %q, want %q", v.Data.Token, tt.wantToken)
			}
		})
	}
}
