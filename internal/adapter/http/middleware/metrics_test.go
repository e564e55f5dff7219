package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/iho/goescrow/internal/infrastructure/metrics"
)

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	testCases := []struct {
		name       string
		method     string
		path       string
		route      string
		statusCode int
	}{
		{
			name:       "labels by route pattern",
			method:     http.MethodGet,
			path:       "/api/v1/transactions/6f1c2d9e",
			route:      "/api/v1/transactions/{id}",
			statusCode: http.StatusTeapot,
		},
		{
			name:       "static route",
			method:     http.MethodPost,
			path:       "/health",
			route:      "/health",
			statusCode: http.StatusCreated,
		},
		{
			name:       "unmatched path",
			method:     http.MethodGet,
			path:       "/nope/123",
			route:      unmatchedRoute,
			statusCode: http.StatusNotFound,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := metrics.New(prometheus.NewRegistry())

			handlerCalled := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handlerCalled = true
				w.WriteHeader(tc.statusCode)
			})

			r := chi.NewRouter()
			r.Use(Metrics(m))
			r.Get("/api/v1/transactions/{id}", next)
			r.Post("/health", next)
			r.NotFound(next)

			req := httptest.NewRequest(tc.method, tc.path, nil)
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			if !handlerCalled {
				t.Fatalf("next handler was not invoked")
			}

			if got := testutil.ToFloat64(m.HTTPRequestsInFlight); got != 0 {
				t.Fatalf("expected in-flight gauge to return to 0, got %v", got)
			}

			counter := m.HTTPRequests.WithLabelValues(tc.method, tc.route, strconv.Itoa(tc.statusCode))
			if got := testutil.ToFloat64(counter); got != 1 {
				t.Fatalf("expected counter to be 1, got %v", got)
			}
		})
	}
}
