package http

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRequestIDMiddleware_GeneratesID(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(RequestIDKey).(string)
	})
	handler := RequestIDMiddleware(discardLogger())(inner)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == "" {
		t.Fatal("no request ID in context")
	}
	if _, err := uuid.Parse(seen); err != nil {
		t.Errorf("generated ID %q is not a UUID: %v", seen, err)
	}
	if got := rec.Header().Get("X-Request-ID"); got != seen {
		t.Errorf("response header = %q, context = %q", got, seen)
	}
}

func TestRequestIDMiddleware_PropagatesClientID(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(RequestIDKey).(string)
	})
	handler := RequestIDMiddleware(discardLogger())(inner)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "client-chosen-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != "client-chosen-id" {
		t.Errorf("context ID = %q, want client-chosen-id", seen)
	}
	if got := rec.Header().Get("X-Request-ID"); got != "client-chosen-id" {
		t.Errorf("echoed header = %q", got)
	}
}

func TestRequestIDMiddleware_EnrichesLogger(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if LoggerFromContext(r.Context()) == slog.Default() {
			t.Error("context logger not enriched, fell back to default")
		}
	})
	handler := RequestIDMiddleware(discardLogger())(inner)
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestMetricsMiddleware_RecordsByClass(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	handler := MetricsMiddleware(metrics)(inner)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/orders/1", nil))

	if n := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("GET", "4xx")); n != 1 {
		t.Errorf("requests_total{GET,4xx} = %v, want 1", n)
	}
}

func TestMetricsMiddleware_DefaultsTo200(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("implicit 200"))
	})
	handler := MetricsMiddleware(metrics)(inner)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/orders", nil))

	if n := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("POST", "2xx")); n != 1 {
		t.Errorf("requests_total{POST,2xx} = %v, want 1", n)
	}
}

func TestMetricsMiddleware_SkipsOperationalPaths(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	handler := MetricsMiddleware(metrics)(inner)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if n := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("GET", "2xx")); n != 0 {
		t.Errorf("requests_total{GET,2xx} = %v, want 0 for operational paths", n)
	}
}

func TestStatusToLabel(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"},
		{204, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{429, "4xx"},
		{500, "5xx"},
		{504, "5xx"},
	}
	for _, tt := range tests {
		if got := statusToLabel(tt.code); got != tt.want {
			t.Errorf("statusToLabel(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}
