package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/brantberg/rest-query-cache/internal/testutil"
	"github.com/brantberg/rest-query-cache/pkg/store"
)

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if w.Body.String() != "OK" {
		t.Errorf("body = %q, want OK", w.Body.String())
	}
}

func TestReadyEndpoint(t *testing.T) {
	t.Run("memory store ready", func(t *testing.T) {
		handler := readyHandler(store.NewMemoryStore())

		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		w := httptest.NewRecorder()
		handler(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
		if w.Body.String() != "OK" {
			t.Errorf("body = %q, want OK", w.Body.String())
		}
	})

	t.Run("unreachable redis not ready", func(t *testing.T) {
		st := store.NewRedisStore(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}))
		handler := readyHandler(st)

		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		w := httptest.NewRecorder()
		handler(w, req)

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", w.Code)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	backend := testutil.NewMockBackend()
	defer backend.Close()
	backend.SetRecords("Products", backendRecords(5))

	// Drive one request through the proxy so cache metrics have samples
	p := newTestProxy(t, backend.URL(), "5m")
	doGet(t, p, "/records/Products?offset=0&limit=5")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "# HELP") {
		t.Error("metrics output missing HELP lines")
	}
	if !strings.Contains(body, "querycache_misses_total") {
		t.Error("metrics output missing querycache_misses_total")
	}
}
