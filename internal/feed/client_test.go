package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestFetchPricesDecodesBatch(t *testing.T) {
	var gotPath, gotSymbols, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotSymbols = r.URL.Query().Get("symbols")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"quotes":[
			{"symbol":"BTCUSDT","source_id":"binance","price":64250.5,"currency":"USD","last_updated":1700000000000},
			{"symbol":"ETHUSDT","price":3120.25,"currency":"USD","last_updated":1700000000000}
		]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, WithAPIKey("test-key"))

	quotes, err := client.FetchPrices(context.Background(), "binance", []string{"BTCUSDT", "ETHUSDT"})
	if err != nil {
		t.Fatalf("FetchPrices() error = %v", err)
	}

	if gotPath != "/v1/prices/binance" {
		t.Errorf("path = %q, want /v1/prices/binance", gotPath)
	}
	if gotSymbols != "BTCUSDT,ETHUSDT" {
		t.Errorf("symbols = %q, want BTCUSDT,ETHUSDT", gotSymbols)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("auth header = %q", gotAuth)
	}

	if len(quotes) != 2 {
		t.Fatalf("got %d quotes, want 2", len(quotes))
	}
	if quotes[0].Symbol != "BTCUSDT" || quotes[0].Price != 64250.5 {
		t.Errorf("quote[0] = %+v", quotes[0])
	}
	if quotes[1].SourceID != "binance" {
		t.Errorf("quote[1].SourceID = %q, want stamped binance", quotes[1].SourceID)
	}
}

func TestFetchPricesEmptySymbols(t *testing.T) {
	client := NewClient("http://unused.invalid")

	quotes, err := client.FetchPrices(context.Background(), "binance", nil)
	if err != nil {
		t.Fatalf("FetchPrices() error = %v", err)
	}
	if quotes != nil {
		t.Errorf("got %v, want nil", quotes)
	}
}

func TestFetchPricesAggregateError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad symbol", http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient(server.URL)

	_, err := client.FetchPrices(context.Background(), "binance", []string{"BTCUSDT", "NOPE"})
	if err == nil {
		t.Fatal("expected error for 400 response")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400", apiErr.StatusCode)
	}
	if apiErr.IsRetryable() {
		t.Error("400 should not be retryable")
	}
}

func TestFetchPricesRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "try later", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"quotes":[{"symbol":"BTCUSDT","price":64000,"last_updated":1700000000000}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, WithRetries(3, time.Millisecond))

	quotes, err := client.FetchPrices(context.Background(), "binance", []string{"BTCUSDT"})
	if err != nil {
		t.Fatalf("FetchPrices() error = %v", err)
	}
	if len(quotes) != 1 {
		t.Fatalf("got %d quotes, want 1", len(quotes))
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server called %d times, want 3", got)
	}
}

func TestFetchPricesRetryExhaustionKeepsCause(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "try later", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, WithRetries(2, time.Millisecond))

	_, err := client.FetchPrices(context.Background(), "binance", []string{"BTCUSDT"})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}

	// The wrapped exhaustion error still unwraps to the last response.
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error %v does not unwrap to *APIError", err)
	}
	if apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, want 503", apiErr.StatusCode)
	}
}

func TestFetchPricesNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, WithRetries(3, time.Millisecond))

	_, err := client.FetchPrices(context.Background(), "binance", []string{"BTCUSDT"})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server called %d times, want 1", got)
	}
}

func TestReportVisibleSwallowsFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL)

	// Must not panic or block regardless of backend failures.
	client.ReportVisible(context.Background(), []string{"id-1", "id-2"}, "dashboard")

	server.Close()
	client.ReportVisible(context.Background(), []string{"id-1"}, "")
}

func TestReportVisiblePayload(t *testing.T) {
	var gotBody atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody.Store(string(buf))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	client.ReportVisible(context.Background(), []string{"a", "b"}, "watchlist")

	body, _ := gotBody.Load().(string)
	want := `{"ids":["a","b"],"scope":"watchlist"}`
	if body != want {
		t.Errorf("body = %q, want %q", body, want)
	}
}
