package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testRESTClient(url string, attempts int) *RESTClient {
	return NewRESTClient(RESTOptions{
		BaseURL:     url,
		Timeout:     2 * time.Second,
		MaxAttempts: attempts,
		RPS:         1000,
		MinBackoff:  time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	})
}

func TestFetch24hTickers(t *testing.T) {
	var gotSymbols string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/ticker/24hr" {
			http.NotFound(w, r)
			return
		}
		gotSymbols = r.URL.Query().Get("symbols")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"symbol":"BTCUSDT","lastPrice":"43000.10","priceChangePercent":"2.5","quoteVolume":"1000000"},
			{"symbol":"ETHUSDT","lastPrice":"2300","priceChangePercent":"-0.4","quoteVolume":"500000"}
		]`))
	}))
	defer server.Close()

	c := testRESTClient(server.URL, 1)
	stats, latency, err := c.Fetch24hTickers(context.Background(), []string{"BTCUSDT", "ETHUSDT"})
	if err != nil {
		t.Fatalf("Fetch24hTickers failed: %v", err)
	}
	if !strings.Contains(gotSymbols, `"BTCUSDT"`) || !strings.Contains(gotSymbols, `"ETHUSDT"`) {
		t.Errorf("unexpected symbols param: %s", gotSymbols)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 stats, got %d", len(stats))
	}
	if stats[0].Symbol != "BTCUSDT" || stats[0].LastPrice != 43000.1 || stats[0].ChangePercent != 2.5 || stats[0].QuoteVolume != 1000000 {
		t.Errorf("unexpected stat: %+v", stats[0])
	}
	if latency < 0 {
		t.Errorf("negative latency: %v", latency)
	}
}

func TestFetch24hTickersRetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"code":-1000,"msg":"internal"}`))
	}))
	defer server.Close()

	c := testRESTClient(server.URL, 3)
	_, _, err := c.Fetch24hTickers(context.Background(), []string{"BTCUSDT"})
	if err == nil {
		t.Fatalf("expected error")
	}
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %T", err)
	}
	if fe.Attempts != 3 || calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d (server saw %d)", fe.Attempts, calls.Load())
	}
}

func TestFetch24hTickersRecoversOnRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[{"symbol":"BTCUSDT","lastPrice":"1","priceChangePercent":"0","quoteVolume":"2"}]`))
	}))
	defer server.Close()

	c := testRESTClient(server.URL, 3)
	stats, _, err := c.Fetch24hTickers(context.Background(), []string{"BTCUSDT"})
	if err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if len(stats) != 1 || calls.Load() != 2 {
		t.Errorf("expected one stat after two calls, got %d stats / %d calls", len(stats), calls.Load())
	}
}

func TestFetch24hTickersCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := testRESTClient(server.URL, 3)
	if _, _, err := c.Fetch24hTickers(ctx, []string{"BTCUSDT"}); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}
