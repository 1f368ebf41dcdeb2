package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iurnickita/teapot/internal/auth"
	authConfig "github.com/iurnickita/teapot/internal/auth/config"
	"github.com/iurnickita/teapot/internal/eligibility"
	"github.com/iurnickita/teapot/internal/metrics"
	"github.com/iurnickita/teapot/internal/model"
	"github.com/iurnickita/teapot/internal/service"
	"github.com/iurnickita/teapot/internal/token"
)

const testSecret = "test-secret"

type fakeService struct {
	stock       model.Stock
	lastUser    string
	lastAmount  string
	pingErr     error
	countdownFn func(onTick func(time.Duration)) (eligibility.Decision, error)
}

func (s *fakeService) Ping(context.Context) error { return s.pingErr }

func (s *fakeService) CheckPurchase(_ context.Context, customerID string) (eligibility.Decision, error) {
	id, err := eligibility.ParseCustomerID(customerID)
	if err != nil {
		return eligibility.Decision{}, err
	}
	return eligibility.NewCustomer(id), nil
}

func (s *fakeService) Purchase(ctx context.Context, customerID string, quantity int, username string) (eligibility.Decision, error) {
	d, err := s.CheckPurchase(ctx, customerID)
	if err != nil {
		return d, err
	}
	if err = d.Allows(quantity); err != nil {
		return d, err
	}
	s.lastUser = username
	now := time.Now()
	return eligibility.Evaluate(d.Customer, []model.Transaction{{ID: 1, Data: model.TransactionData{
		Customer: d.Customer, Quantity: -quantity, CreatedAt: now, CreatedBy: username,
	}}}, now), nil
}

func (s *fakeService) WatchCountdown(_ context.Context, _ string, onTick func(time.Duration)) (eligibility.Decision, error) {
	return s.countdownFn(onTick)
}

func (s *fakeService) GetStock(context.Context) (model.Stock, error) { return s.stock, nil }

func (s *fakeService) AdjustStock(_ context.Context, direction string, amount string, username string) (model.Stock, error) {
	s.lastAmount = amount
	s.lastUser = username
	if direction == service.DirectionDecrease && amount == "100" {
		return model.Stock{}, service.ErrInsufficientStock
	}
	if amount == "x" {
		return model.Stock{}, service.ErrInvalidAmount
	}
	return s.stock, nil
}

func (s *fakeService) GetDashboard(_ context.Context, period string) (model.Dashboard, error) {
	if period != "all" && period != "24h" {
		return model.Dashboard{}, service.ErrInvalidPeriod
	}
	return model.Dashboard{
		Period: period,
		Stats:  model.DashboardStats{TotalTransactions: 2, UniqueCustomers: 2, TotalQuantity: 8, AverageQuantity: 4},
		Transactions: []model.Transaction{
			{ID: 2, Data: model.TransactionData{Customer: 1234, Quantity: -2}},
			{ID: 1, Data: model.TransactionData{Customer: 1, CustomerName: "inventory", Quantity: 10, CreatedBy: "keeper"}},
		},
	}, nil
}

func newTestRouter(t *testing.T, svc *fakeService) *gin.Engine {
	t.Helper()
	a := auth.NewAuth(authConfig.Config{TokenSecret: testSecret}, nil, nil, nil)
	return newHandler(a, svc, metrics.New(), nil).newRouter()
}

func do(t *testing.T, r http.Handler, method, path string, role model.Role, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		user := model.User{ID: "u-" + string(role), Data: model.UserData{Username: string(role) + "-clerk", Role: role}}
		tokenString, err := token.BuildJWTString(user, "", testSecret, time.Hour)
		require.NoError(t, err)
		req.AddCookie(&http.Cookie{Name: "teapotUserToken", Value: tokenString})
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRoleGates(t *testing.T) {
	r := newTestRouter(t, &fakeService{})

	tests := []struct {
		name   string
		method string
		path   string
		role   model.Role
		want   int
	}{
		{"no session", http.MethodGet, "/api/stock", "", http.StatusUnauthorized},
		{"inventory stock", http.MethodGet, "/api/stock", model.RoleInventory, http.StatusOK},
		{"inventory purchases", http.MethodGet, "/api/purchases/1234", model.RoleInventory, http.StatusForbidden},
		{"customer purchases", http.MethodGet, "/api/purchases/1234", model.RoleCustomer, http.StatusOK},
		{"customer stock", http.MethodGet, "/api/stock", model.RoleCustomer, http.StatusForbidden},
		{"customer dashboard", http.MethodGet, "/api/dashboard", model.RoleCustomer, http.StatusForbidden},
		{"admin dashboard", http.MethodGet, "/api/dashboard", model.RoleAdmin, http.StatusOK},
		{"admin purchases", http.MethodGet, "/api/purchases/1234", model.RoleAdmin, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, tt.method, tt.path, tt.role, nil)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestMe(t *testing.T) {
	r := newTestRouter(t, &fakeService{})

	w := do(t, r, http.MethodGet, "/api/auth/me", model.RoleInventory, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var me auth.UserJSONResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &me))
	assert.Equal(t, "inventory-clerk", me.Username)
	assert.Equal(t, "inventory", me.Role)
}

func TestEligibility(t *testing.T) {
	r := newTestRouter(t, &fakeService{})

	w := do(t, r, http.MethodGet, "/api/purchases/1234", model.RoleCustomer, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp EligibilityJSONResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1234, resp.CustomerID)
	assert.Equal(t, "allowed", resp.Status)
	assert.Equal(t, 5, resp.Remaining)
	assert.True(t, resp.NewCustomer)
	assert.Nil(t, resp.NextAllowedAt)

	w = do(t, r, http.MethodGet, "/api/purchases/0001", model.RoleCustomer, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "reserved")

	w = do(t, r, http.MethodGet, "/api/purchases/12", model.RoleCustomer, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPostPurchase(t *testing.T) {
	svc := &fakeService{}
	r := newTestRouter(t, svc)

	w := do(t, r, http.MethodPost, "/api/purchases/1234", model.RoleCustomer, PostPurchaseJSONRequest{Quantity: 5})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "customer-clerk", svc.lastUser)

	var resp EligibilityJSONResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "denied", resp.Status)
	require.NotNil(t, resp.NextAllowedAt)
	assert.Equal(t, "23:59:59", resp.Countdown)
	require.Len(t, resp.Transactions, 1)
	assert.Equal(t, -5, resp.Transactions[0].Quantity)

	w = do(t, r, http.MethodPost, "/api/purchases/1234", model.RoleCustomer, PostPurchaseJSONRequest{Quantity: 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStockAdjustment(t *testing.T) {
	svc := &fakeService{stock: model.Stock{Level: 4, Low: true}}
	r := newTestRouter(t, svc)

	w := do(t, r, http.MethodPost, "/api/stock/increase", model.RoleInventory, map[string]any{"amount": 12})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "12", svc.lastAmount)
	assert.Equal(t, "inventory-clerk", svc.lastUser)

	var resp StockJSONResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 4, resp.Level)
	assert.True(t, resp.Low)

	w = do(t, r, http.MethodPost, "/api/stock/decrease", model.RoleInventory, map[string]any{"amount": "100"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, r, http.MethodPost, "/api/stock/increase", model.RoleInventory, map[string]any{"amount": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/api/stock/increase", model.RoleInventory, map[string]any{"amount": true})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDashboard(t *testing.T) {
	r := newTestRouter(t, &fakeService{})

	w := do(t, r, http.MethodGet, "/api/dashboard?period=24h", model.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp DashboardJSONResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "24h", resp.Period)
	assert.Equal(t, 2, resp.Stats.UniqueCustomers)
	assert.Equal(t, 4.0, resp.Stats.AverageQuantity)
	require.Len(t, resp.Transactions, 2)
	assert.Equal(t, "System", resp.Transactions[0].CreatedBy)
	assert.Equal(t, "keeper", resp.Transactions[1].CreatedBy)

	w = do(t, r, http.MethodGet, "/api/dashboard?period=1y", model.RoleAdmin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCountdown(t *testing.T) {
	svc := &fakeService{countdownFn: func(onTick func(time.Duration)) (eligibility.Decision, error) {
		onTick(2 * time.Second)
		onTick(time.Second)
		onTick(0)
		return eligibility.Evaluate(1234, nil, time.Now()), nil
	}}
	r := newTestRouter(t, svc)

	w := do(t, r, http.MethodGet, "/api/purchases/1234/countdown", model.RoleCustomer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Equal(t, 3, strings.Count(body, "event:tick"))
	assert.Contains(t, body, "00:00:02")
	assert.Contains(t, body, "event:eligibility")
	assert.Contains(t, body, `"status":"allowed"`)
}

func TestCountdownWithGzipClient(t *testing.T) {
	var flushed []int
	w := httptest.NewRecorder()
	svc := &fakeService{countdownFn: func(onTick func(time.Duration)) (eligibility.Decision, error) {
		for _, left := range []time.Duration{2 * time.Second, time.Second} {
			onTick(left)
			flushed = append(flushed, w.Body.Len())
		}
		return eligibility.Evaluate(1234, nil, time.Now()), nil
	}}
	r := newTestRouter(t, svc)

	user := model.User{ID: "u-customer", Data: model.UserData{Username: "customer-clerk", Role: model.RoleCustomer}}
	tokenString, err := token.BuildJWTString(user, "", testSecret, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/purchases/1234/countdown", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	req.AddCookie(&http.Cookie{Name: "teapotUserToken", Value: tokenString})
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	// каждое событие уходит клиенту сразу
	require.Len(t, flushed, 2)
	assert.Greater(t, flushed[0], 0)
	assert.Greater(t, flushed[1], flushed[0])
	assert.Equal(t, 2, strings.Count(w.Body.String(), "event:tick"))
}

func TestCountdownInvalidCustomer(t *testing.T) {
	svc := &fakeService{countdownFn: func(func(time.Duration)) (eligibility.Decision, error) {
		return eligibility.Decision{}, eligibility.ErrInvalidCustomerID
	}}
	r := newTestRouter(t, svc)

	w := do(t, r, http.MethodGet, "/api/purchases/abc/countdown", model.RoleCustomer, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealth(t *testing.T) {
	svc := &fakeService{}
	r := newTestRouter(t, svc)

	w := do(t, r, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	svc.pingErr = errors.New("db down")
	w = do(t, r, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = do(t, r, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "teapot_http_request_duration_seconds")
}
