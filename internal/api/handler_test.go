package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCheckout struct {
	req  *service.CheckoutRequest
	key  string
	resp *service.CheckoutResponse
	err  error
}

func (f *fakeCheckout) StartCheckout(_ context.Context, req *service.CheckoutRequest, key string) (*service.CheckoutResponse, error) {
	f.req = req
	f.key = key
	return f.resp, f.err
}

type fakeWebhooks struct {
	payload   []byte
	signature string
	err       error
}

func (f *fakeWebhooks) HandleWebhook(_ context.Context, payload []byte, signature string) error {
	f.payload = payload
	f.signature = signature
	return f.err
}

type fakeOrders struct {
	details *service.OrderDetails
	err     error
	lastArg string
}

func (f *fakeOrders) GetOrder(_ context.Context, id string) (*service.OrderDetails, error) {
	f.lastArg = id
	return f.details, f.err
}

func (f *fakeOrders) GetTicketBySession(_ context.Context, sessionID string) (*service.OrderDetails, error) {
	f.lastArg = sessionID
	return f.details, f.err
}

type pingerFunc func(ctx context.Context) error

func (p pingerFunc) Ping(ctx context.Context) error { return p(ctx) }

type testServer struct {
	router   *gin.Engine
	checkout *fakeCheckout
	webhooks *fakeWebhooks
	orders   *fakeOrders
}

func newTestServer(checks map[string]Pinger) *testServer {
	gin.SetMode(gin.TestMode)
	util.SetLogger(zap.NewNop())

	s := &testServer{
		router:   gin.New(),
		checkout: &fakeCheckout{},
		webhooks: &fakeWebhooks{},
		orders:   &fakeOrders{},
	}
	NewHandler(s.checkout, s.webhooks, s.orders, HandlerConfig{
		SiteURL:             "https://shop.example",
		MaxWebhookBodyBytes: 1024,
		ReadinessChecks:     checks,
	}).SetupRoutes(s.router)
	return s
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestStartCheckout(t *testing.T) {
	s := newTestServer(nil)
	s.checkout.resp = &service.CheckoutResponse{ClientSessionToken: "secret", PublicKey: "pk", PendingOrderID: "po-1"}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout",
		strings.NewReader(`{"customer":{"name":"Ana","phone":"600"},"items":[{"product_id":"A","qty":2}],"total":1}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "key-1")
	w := s.do(req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://shop.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, map[string]interface{}{
		"client_session_token": "secret",
		"public_key":           "pk",
		"pending_order_id":     "po-1",
	}, decode(t, w))
	assert.Equal(t, "key-1", s.checkout.key)
	assert.Equal(t, []service.CheckoutItemRequest{{ProductID: "A", Qty: 2}}, s.checkout.req.Items)
	assert.Equal(t, models.Customer{Name: "Ana", Phone: "600"}, s.checkout.req.Customer)
}

func TestStartCheckoutPreflight(t *testing.T) {
	s := newTestServer(nil)

	w := s.do(httptest.NewRequest(http.MethodOptions, "/api/v1/checkout", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://shop.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key")
}

func TestStartCheckoutErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"malformed json", `{"customer":`, nil, http.StatusBadRequest},
		{"validation", `{}`, apperr.Validation("cart is empty"), http.StatusBadRequest},
		{"conflict", `{}`, apperr.Conflict("some items cannot be fulfilled", []apperr.Problem{
			{ProductID: "A", Reason: apperr.ReasonInsufficientStock, Requested: 2, Available: 1},
		}), http.StatusConflict},
		{"dependency", `{}`, apperr.Dependency("failed to create payment session", errors.New("timeout")), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(nil)
			s.checkout.err = tt.err

			req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := s.do(req)

			assert.Equal(t, tt.status, w.Code)
			body := decode(t, w)
			if tt.status == http.StatusConflict {
				assert.Equal(t, []interface{}{map[string]interface{}{
					"product_id": "A", "reason": "insufficient_stock", "requested": float64(2), "available": float64(1),
				}}, body["problems"])
			}
			if tt.status == http.StatusInternalServerError {
				assert.NotContains(t, body["error"], "timeout")
			}
		})
	}
}

func TestPaymentWebhook(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"processed", nil, http.StatusOK},
		{"bad signature", apperr.Authenticity("invalid webhook signature", nil), http.StatusBadRequest},
		{"missing correlation", apperr.Validation("event has no pending order id"), http.StatusBadRequest},
		{"unknown pending order", apperr.NotFound("pending order po-1 not found"), http.StatusInternalServerError},
		{"insufficient stock", apperr.Conflict("insufficient stock", nil), http.StatusInternalServerError},
		{"store down", apperr.Dependency("failed to read pending order", errors.New("refused")), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(nil)
			s.webhooks.err = tt.err
			payload := `{"id":"evt_1",  "type":"checkout.session.completed"}`

			req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment", strings.NewReader(payload))
			req.Header.Set("Stripe-Signature", "t=1,v1=abc")
			w := s.do(req)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, payload, string(s.webhooks.payload), "raw body must reach the verifier untouched")
			assert.Equal(t, "t=1,v1=abc", s.webhooks.signature)
			if tt.status == http.StatusOK {
				assert.Equal(t, map[string]interface{}{"received": true}, decode(t, w))
			}
		})
	}
}

func TestPaymentWebhookRejectsOversizedBody(t *testing.T) {
	s := newTestServer(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment", strings.NewReader(strings.Repeat("x", 2048)))
	w := s.do(req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, s.webhooks.payload)
}

func TestOrderEndpoints(t *testing.T) {
	s := newTestServer(nil)
	s.orders.details = &service.OrderDetails{Order: &models.Order{ID: "order-1", TicketNumber: "T-00001"}}

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/orders/order-1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "order-1", s.orders.lastArg)

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/tickets?session_id=cs_1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cs_1", s.orders.lastArg)
	order := decode(t, w)["order"].(map[string]interface{})
	assert.Equal(t, "T-00001", order["ticket_number"])

	s.orders.err = apperr.NotFound("ticket for session cs_2 is not ready")
	w = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/tickets?session_id=cs_2", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAndReadiness(t *testing.T) {
	healthy := pingerFunc(func(context.Context) error { return nil })
	broken := pingerFunc(func(context.Context) error { return errors.New("connection refused") })

	s := newTestServer(map[string]Pinger{"postgres": healthy, "redis": healthy})
	assert.Equal(t, http.StatusOK, s.do(httptest.NewRequest(http.MethodGet, "/health", nil)).Code)
	assert.Equal(t, http.StatusOK, s.do(httptest.NewRequest(http.MethodGet, "/ready", nil)).Code)

	s = newTestServer(map[string]Pinger{"postgres": healthy, "redis": broken})
	w := s.do(httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	checks := decode(t, w)["checks"].(map[string]interface{})
	assert.Equal(t, "ok", checks["postgres"])
	assert.Equal(t, "connection refused", checks["redis"])
}
