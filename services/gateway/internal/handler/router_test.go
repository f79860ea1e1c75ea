package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/order-saga/services/gateway/internal/proxy"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestRequest работает как httptest.NewRequest, но наделяет запрос
// отменяемым контекстом (как в реальном http.Server), иначе
// httputil.ReverseProxy пытается использовать устаревший CloseNotifier,
// которым httptest.ResponseRecorder не реализует.
func newTestRequest(method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	ctx, cancel := context.WithCancel(req.Context())
	_ = cancel
	return req.WithContext(ctx)
}

// newTestRouter собирает роутер с тремя фиктивными upstream, каждый из
// которых отвечает своим именем.
func newTestRouter(t *testing.T) (*Router, map[string]*httptest.Server) {
	t.Helper()

	backends := make(map[string]*httptest.Server, 3)
	upstreams := make(map[string]*proxy.Upstream, 3)

	for _, name := range []string{"order-service", "payment-service", "inventory-service"} {
		name := name
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"served_by":"` + name + `"}`))
		}))
		t.Cleanup(backend.Close)
		backends[name] = backend

		upstream, err := proxy.NewUpstream(name, backend.URL)
		require.NoError(t, err)
		upstreams[name] = upstream
	}

	router := NewRouter(RouterConfig{
		Order:     upstreams["order-service"],
		Payment:   upstreams["payment-service"],
		Inventory: upstreams["inventory-service"],
	})

	return router, backends
}

func TestRouter_PathPrefixDispatch(t *testing.T) {
	router, _ := newTestRouter(t)

	tests := []struct {
		name     string
		method   string
		path     string
		servedBy string
	}{
		{"создание заказа", http.MethodPost, "/orders", "order-service"},
		{"чтение заказа", http.MethodGet, "/orders/abc", "order-service"},
		{"отмена заказа", http.MethodPost, "/orders/abc/cancel", "order-service"},
		{"заказы клиента", http.MethodGet, "/customers/c1/orders", "order-service"},
		{"чтение платежа", http.MethodGet, "/payments/p1", "payment-service"},
		{"резервирование", http.MethodPost, "/inventory/allocate", "inventory-service"},
		{"товары", http.MethodGet, "/inventory/products", "inventory-service"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.Engine().ServeHTTP(rec, newTestRequest(tt.method, tt.path, nil))

			require.Equal(t, http.StatusOK, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.servedBy, body["served_by"])
		})
	}
}

func TestRouter_UnknownPrefix(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.Engine().ServeHTTP(rec, newTestRequest(http.MethodGet, "/unknown/path", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Not Found", body["detail"])
}

func TestRouter_Health(t *testing.T) {
	router, backends := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.Engine().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status    string            `json:"status"`
		Service   string            `json:"service"`
		Upstreams map[string]string `json:"upstreams"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "api-gateway", body.Service)
	// Health перечисляет настроенные адреса вышестоящих сервисов
	for name, backend := range backends {
		assert.Equal(t, backend.URL, body.Upstreams[name])
	}
}

func TestRouter_Readiness(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.Engine().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}
