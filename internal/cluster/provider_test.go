package cluster

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

func TestClientGetLiquidationClusters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "BTCUSDT" {
			t.Errorf("symbol query = %q, want BTCUSDT", got)
		}
		if got := r.URL.Query().Get("price"); got != "50000" {
			t.Errorf("price query = %q, want 50000", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q, want Bearer test-key", got)
		}
		w.Header().Set("Content-Type", "application/json")
		// Three below levels, deliberately out of order: the client must
		// keep only the two nearest, sorted nearest-first.
		w.Write([]byte(`{
			"above":[{"price":"50400","strength":"0.8","volume":"1250000"}],
			"below":[
				{"price":"47000","strength":"0.3","volume":"400000"},
				{"price":"49100","strength":"0.6","volume":"900000"},
				{"price":"48500","strength":"0.5","volume":"700000"}
			]
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	set, err := c.GetLiquidationClusters(context.Background(), "BTCUSDT", decimal.RequireFromString("50000"))
	if err != nil {
		t.Fatalf("GetLiquidationClusters: %v", err)
	}

	if set.Symbol != "BTCUSDT" {
		t.Errorf("symbol = %q, want BTCUSDT", set.Symbol)
	}
	if len(set.Above) != 1 {
		t.Fatalf("above clusters = %d, want 1", len(set.Above))
	}
	if len(set.Below) != 2 {
		t.Fatalf("below clusters = %d, want 2", len(set.Below))
	}
	if !set.Below[0].Price.Equal(decimal.RequireFromString("49100")) {
		t.Errorf("nearest below = %s, want 49100", set.Below[0].Price)
	}
	if !set.Below[1].Price.Equal(decimal.RequireFromString("48500")) {
		t.Errorf("second below = %s, want 48500", set.Below[1].Price)
	}
	if !set.Below[0].Distance.Equal(decimal.RequireFromString("0.018")) {
		t.Errorf("nearest below distance = %s, want 0.018", set.Below[0].Distance)
	}
}

func TestClientRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	if _, err := c.GetLiquidationClusters(context.Background(), "BTCUSDT", decimal.RequireFromString("50000")); err == nil {
		t.Fatal("expected error on 429 response")
	}
}
