package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/forgeline/forgeline/internal/orders"
	"github.com/forgeline/forgeline/internal/shared"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/api/orders/{id}")
	req := httptest.NewRequest(http.MethodGet, "/api/orders/7", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	require.Contains(t, body, `forgeline_http_requests_total{code="418",route="/api/orders/{id}"} 1`)
	require.Contains(t, body, `forgeline_http_request_duration_seconds_bucket{route="/api/orders/{id}"`)
}

func TestOrderMetricsCountOutcomes(t *testing.T) {
	metrics := NewMetrics()
	om := NewOrderMetrics(metrics.Registerer())

	om.OrderCreated(orders.TypePurchase)
	om.OrderCreated(orders.TypePurchase)
	om.StatusChanged(orders.StatusCancelled)
	om.Rejected("create order", shared.KindBusinessRule)
	om.Rejected("transition order", shared.KindConflict)

	body := scrape(t, metrics)
	require.Contains(t, body, `forgeline_orders_created_total{type="PURCHASE"} 2`)
	require.Contains(t, body, `forgeline_order_transitions_total{status="CANCELLED"} 1`)
	require.Contains(t, body, `forgeline_order_rejections_total{kind="business_rule",op="create order"} 1`)
	require.Contains(t, body, `forgeline_order_rejections_total{kind="conflict",op="transition order"} 1`)
}

func TestNilMetricsHandlerIsUnavailable(t *testing.T) {
	var m *Metrics
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
