package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/autospook/internal/queue/streams"
)

func quietOptions() Options {
	return Options{Version: "1.2.3", Logger: log.New(io.Discard, "", 0)}
}

func get(t *testing.T, opts Options, path string) *httptest.ResponseRecorder {
	t.Helper()
	e := New(opts)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	rec := get(t, quietOptions(), "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["service"] != "autospook" || body["version"] != "1.2.3" {
		t.Fatalf("unexpected body %v", body)
	}
	if _, ok := body["queue"]; ok {
		t.Fatalf("queue should be omitted without a lag func")
	}
}

func TestHealthzReportsQueueLag(t *testing.T) {
	opts := quietOptions()
	opts.Lag = func(ctx context.Context) (streams.LagMetrics, error) {
		return streams.LagMetrics{Pending: 2, Lag: 5, Consumers: 1}, nil
	}
	rec := get(t, opts, "/healthz")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"lag":5`) {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}

	opts.Lag = func(ctx context.Context) (streams.LagMetrics, error) {
		return streams.LagMetrics{}, errors.New("redis unreachable")
	}
	rec = get(t, opts, "/healthz")
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "degraded") {
		t.Fatalf("expected degraded 503, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestMetricsAndUnknownRoute(t *testing.T) {
	opts := quietOptions()
	opts.Metrics = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "autospook_investigations_total 3\n")
	})
	rec := get(t, opts, "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "autospook_investigations_total") {
		t.Fatalf("unexpected metrics response %d %s", rec.Code, rec.Body.String())
	}

	rec = get(t, opts, "/nope")
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), `"error"`) {
		t.Fatalf("expected JSON 404, got %d %s", rec.Code, rec.Body.String())
	}
}
