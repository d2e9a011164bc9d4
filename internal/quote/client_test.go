package quote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func quoteBody(symbol string, changePct *float64, price, prevClose float64, marketTime int64) map[string]any {
	result := map[string]any{
		"symbol":                     symbol,
		"regularMarketPrice":         price,
		"regularMarketPreviousClose": prevClose,
		"regularMarketTime":          marketTime,
	}
	if changePct != nil {
		result["regularMarketChangePercent"] = *changePct
	}
	return map[string]any{
		"quoteResponse": map[string]any{"result": []any{result}},
	}
}

func serveQuote(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 2*time.Second, ClientConfig{MaxRetries: 3, RetryDelayBase: time.Millisecond})
}

func TestQuote_UsesProviderChangePercent(t *testing.T) {
	pct := -2.23
	now := time.Now().Unix()
	c := serveQuote(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbols"); got != "^KS11" {
			t.Errorf("symbols param = %q, want ^KS11", got)
		}
		_ = json.NewEncoder(w).Encode(quoteBody("^KS11", &pct, 2510.3, 2567.5, now))
	})

	q, err := c.Quote(context.Background(), "^KS11")
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if q.ChangePct != -2.23 {
		t.Errorf("change pct = %f, want -2.23", q.ChangePct)
	}
	if q.MarketTime.Unix() != now {
		t.Errorf("market time = %v, want %d", q.MarketTime.Unix(), now)
	}
}

func TestQuote_FallsBackToPreviousClose(t *testing.T) {
	c := serveQuote(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(quoteBody("^GSPC", nil, 101.0, 100.0, time.Now().Unix()))
	})
	q, err := c.Quote(context.Background(), "^GSPC")
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if q.ChangePct < 0.999 || q.ChangePct > 1.001 {
		t.Errorf("change pct = %f, want 1.0", q.ChangePct)
	}
}

func TestQuote_RetriesServerErrors(t *testing.T) {
	var calls int32
	pct := 0.5
	c := serveQuote(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(quoteBody("^VIX", &pct, 15.0, 14.9, time.Now().Unix()))
	})
	if _, err := c.Quote(context.Background(), "^VIX"); err != nil {
		t.Fatalf("Quote after retries: %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("got %d calls, want 3", calls)
	}
}

func TestQuote_ExhaustsRetries(t *testing.T) {
	c := serveQuote(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	if _, err := c.Quote(context.Background(), "^VIX"); err == nil {
		t.Fatal("expected error after exhausted retries")
	}
}

func TestQuote_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	c := serveQuote(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	})
	if _, err := c.Quote(context.Background(), "NOPE"); err == nil {
		t.Fatal("expected error for 404")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("got %d calls, want 1 (no retry on client error)", calls)
	}
}

func TestDelta_FallbackChain(t *testing.T) {
	pct := 1.2
	c := serveQuote(t, func(w http.ResponseWriter, r *http.Request) {
		sym := r.URL.Query().Get("symbols")
		if sym == "^KS11" {
			// Provider answers but with an empty result set.
			_ = json.NewEncoder(w).Encode(map[string]any{
				"quoteResponse": map[string]any{"result": []any{}},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(quoteBody(sym, &pct, 330.0, 326.0, time.Now().Unix()))
	})

	q, err := c.Delta(context.Background(), []string{"^KS11", "^KS200"})
	if err != nil {
		t.Fatalf("Delta: %v", err)
	}
	if q.Symbol != "^KS200" {
		t.Errorf("fallback symbol = %s, want ^KS200", q.Symbol)
	}
}

func TestDelta_AllFail(t *testing.T) {
	c := serveQuote(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"quoteResponse": map[string]any{"result": []any{}},
		})
	})
	_, err := c.Delta(context.Background(), []string{"A", "B"})
	if err == nil {
		t.Fatal("expected error when all symbols fail")
	}
	if !errors.Is(err, ErrNoQuote) {
		t.Errorf("error = %v, want ErrNoQuote in chain", err)
	}
}
