package orders

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/forgeline/forgeline/internal/shared"
)

func serve(t *testing.T, router http.Handler, actor *shared.Actor, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	if actor != nil {
		req = req.WithContext(shared.ContextWithActor(req.Context(), *actor))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlerOrderLifecycle(t *testing.T) {
	repo := newMemoryRepo(product(1, "BLT-M8", 10, "25.00"))
	router := chi.NewRouter()
	router.Route("/orders", NewHandler(nil, newTestService(t, repo)).MountRoutes)

	rec := serve(t, router, &individual, http.MethodPost, "/orders",
		`{"items":[{"product_id":1,"quantity":7}],"shipping_address":"Jl. Industri 5","shipping_method":"STANDARD"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "ORD26-00001", created.Number)
	require.Equal(t, "190", created.Total.String())

	rec = serve(t, router, &individual, http.MethodPost, "/orders",
		`{"items":[{"product_id":1,"quantity":5}],"shipping_address":"Jl. Industri 5","shipping_method":"STANDARD"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = serve(t, router, &individual, http.MethodPost, "/orders/1/transitions", `{"status":"VALIDATING"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(t, router, &staff, http.MethodPost, "/orders/1/transitions", `{"status":"VALIDATING","expected_version":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(t, router, &staff, http.MethodPost, "/orders/1/transitions", `{"status":"APPROVED","expected_version":1}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(t, router, &individual, http.MethodPost, "/orders/1/cancel", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, router, &individual, http.MethodPost, "/orders/1/cancel", `{"reason":"ordered twice"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, int64(10), repo.stockOf(1))

	rec = serve(t, router, &business, http.MethodGet, "/orders/1", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, router, &individual, http.MethodGet, "/orders?status=CANCELLED", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"order_number":"ORD26-00001"`)

	rec = serve(t, router, &individual, http.MethodDelete, "/orders/1", `{"version":3}`)
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = serve(t, router, &staff, http.MethodDelete, "/orders/1", `{"version":3}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = serve(t, router, &individual, http.MethodGet, "/orders/1", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = serve(t, router, &staff, http.MethodPost, "/orders/1/restore", `{"version":4}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), `"version":5`)

	rec = serve(t, router, nil, http.MethodGet, "/orders", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
