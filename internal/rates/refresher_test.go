package rates

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pricestream/internal/store"
)

func TestRefreshNowReplacesRates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":"success","rates":{"USD":1,"EUR":0.92,"GBP":0.79}}`))
	}))
	defer srv.Close()

	rs := store.NewRates("USD")
	r := NewRefresher(srv.URL, time.Hour, rs)

	if err := r.RefreshNow(context.Background()); err != nil {
		t.Fatalf("RefreshNow: %v", err)
	}

	if rate, ok := rs.Rate("EUR"); !ok || rate != 0.92 {
		t.Fatalf("EUR = %v, %v; want 0.92", rate, ok)
	}
	if rs.UpdatedAt().IsZero() {
		t.Fatal("UpdatedAt not recorded")
	}
}

func TestRefreshFailureKeepsStaleRates(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"rates":{"EUR":0.92}}`))
	}))
	defer srv.Close()

	rs := store.NewRates("USD")
	r := NewRefresher(srv.URL, time.Hour, rs)

	if err := r.RefreshNow(context.Background()); err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	healthy = false
	if err := r.RefreshNow(context.Background()); err == nil {
		t.Fatal("expected an error from the failing API")
	}

	// The last good table keeps serving.
	if rate, ok := rs.Rate("EUR"); !ok || rate != 0.92 {
		t.Fatalf("EUR after failed refresh = %v, %v; want stale 0.92", rate, ok)
	}
}

func TestRefreshRejectsEmptyPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"rates":{}}`))
	}))
	defer srv.Close()

	rs := store.NewRates("USD")
	rs.Replace(map[string]float64{"EUR": 0.9})
	r := NewRefresher(srv.URL, time.Hour, rs)

	if err := r.RefreshNow(context.Background()); err == nil {
		t.Fatal("expected an error for an empty rate table")
	}
	if rate, ok := rs.Rate("EUR"); !ok || rate != 0.9 {
		t.Fatalf("EUR = %v, %v; want untouched 0.9", rate, ok)
	}
}
