package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/iurnickita/teapot/internal/auth"
	"github.com/iurnickita/teapot/internal/eligibility"
	"github.com/iurnickita/teapot/internal/gzip"
	"github.com/iurnickita/teapot/internal/handler/config"
	"github.com/iurnickita/teapot/internal/logger"
	"github.com/iurnickita/teapot/internal/metrics"
	"github.com/iurnickita/teapot/internal/model"
	"github.com/iurnickita/teapot/internal/service"
)

// Serve runs the HTTP server until ctx is cancelled, then shuts it down gracefully.
func Serve(ctx context.Context, cfg config.Config, auth auth.Auth, service service.Service, metrics *metrics.Metrics, zaplog *zap.Logger) error {
	h := newHandler(auth, service, metrics, zaplog)

	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           h.newRouter(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zaplog.Info("server starting", zap.String("addr", cfg.ServerAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zaplog.Info("shutdown signal received")
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type handler struct {
	auth    auth.Auth
	service service.Service
	metrics *metrics.Metrics
	zaplog  *zap.Logger
}

func newHandler(auth auth.Auth, service service.Service, m *metrics.Metrics, zaplog *zap.Logger) *handler {
	if zaplog == nil {
		zaplog = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	return &handler{
		auth:    auth,
		service: service,
		metrics: m,
		zaplog:  zaplog,
	}
}

func (h *handler) newRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.RequestLogMdlw(h.zaplog))
	r.Use(h.metricsMdlw())

	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(h.metrics.Handler()))

	api := r.Group("/api", gzip.GzipMiddleware())
	api.POST("/auth/login", h.auth.Login)

	session := api.Group("", h.auth.Middleware())
	session.POST("/auth/logout", h.auth.Logout)
	session.GET("/auth/me", h.auth.Me)

	purchases := session.Group("/purchases", h.auth.RequireRole(model.RoleAdmin, model.RoleCustomer))
	purchases.GET("/:customer", h.GetEligibility)
	purchases.POST("/:customer", h.PostPurchase)
	purchases.GET("/:customer/countdown", h.GetCountdown)

	stock := session.Group("/stock", h.auth.RequireRole(model.RoleAdmin, model.RoleInventory))
	stock.GET("", h.GetStock)
	stock.POST("/:direction", h.PostStockAdjustment)

	admin := session.Group("", h.auth.RequireRole(model.RoleAdmin))
	admin.GET("/dashboard", h.GetDashboard)

	return r
}

func (h *handler) metricsMdlw() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		h.metrics.RequestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// writeError переводит ошибку сервиса в код ответа
func (h *handler) writeError(c *gin.Context, err error) {
	var status int
	switch {
	case errors.Is(err, service.ErrInvalidCustomerID),
		errors.Is(err, service.ErrReservedCustomerID),
		errors.Is(err, service.ErrInvalidQuantity),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrNonPositiveAmount),
		errors.Is(err, service.ErrInvalidDirection),
		errors.Is(err, service.ErrInvalidPeriod),
		errors.Is(err, service.ErrInsufficientData):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrNotEligible),
		errors.Is(err, service.ErrExceedsRemaining),
		errors.Is(err, service.ErrInsufficientStock):
		status = http.StatusConflict
	case errors.Is(err, context.Canceled):
		status = 499
	default:
		status = http.StatusInternalServerError
		h.zaplog.Error("request failed",
			zap.String("request_id", logger.RequestID(c)),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.service.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type TransactionJSONResponse struct {
	ID           int64     `json:"id"`
	CustomerID   int       `json:"customer_id"`
	CustomerName string    `json:"customer_name,omitempty"`
	Quantity     int       `json:"quantity"`
	CreatedAt    time.Time `json:"created_at"`
	CreatedBy    string    `json:"created_by"`
}

func transactionsJSON(txs []model.Transaction) []TransactionJSONResponse {
	out := make([]TransactionJSONResponse, 0, len(txs))
	for _, tx := range txs {
		createdBy := tx.Data.CreatedBy
		if createdBy == "" {
			createdBy = "System"
		}
		out = append(out, TransactionJSONResponse{
			ID:           tx.ID,
			CustomerID:   tx.Data.Customer,
			CustomerName: tx.Data.CustomerName,
			Quantity:     tx.Data.Quantity,
			CreatedAt:    tx.Data.CreatedAt,
			CreatedBy:    createdBy,
		})
	}
	return out
}

type EligibilityJSONResponse struct {
	CustomerID    int                       `json:"customer_id"`
	Status        string                    `json:"status"`
	NewCustomer   bool                      `json:"new_customer"`
	TotalBought   int                       `json:"total_bought"`
	Remaining     int                       `json:"remaining"`
	NextAllowedAt *time.Time                `json:"next_allowed_at,omitempty"`
	Countdown     string                    `json:"countdown,omitempty"`
	SecondsLeft   int64                     `json:"seconds_left"`
	Transactions  []TransactionJSONResponse `json:"transactions"`
}

func eligibilityJSON(d eligibility.Decision, now time.Time) EligibilityJSONResponse {
	resp := EligibilityJSONResponse{
		CustomerID:   d.Customer,
		Status:       string(d.Status),
		NewCustomer:  d.NewCustomer,
		TotalBought:  d.TotalBought,
		Remaining:    d.Remaining,
		Transactions: transactionsJSON(d.Transactions),
	}
	if d.Status == eligibility.StatusDenied {
		next := d.NextAllowedAt
		left := d.TimeLeft(now)
		resp.NextAllowedAt = &next
		resp.Countdown = eligibility.FormatCountdown(left)
		resp.SecondsLeft = int64(left / time.Second)
	}
	return resp
}

func (h *handler) GetEligibility(c *gin.Context) {
	decision, err := h.service.CheckPurchase(c.Request.Context(), c.Param("customer"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, eligibilityJSON(decision, time.Now()))
}

type PostPurchaseJSONRequest struct {
	Quantity int `json:"quantity"`
}

func (h *handler) PostPurchase(c *gin.Context) {
	var req PostPurchaseJSONRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, _ := auth.CurrentUser(c)
	decision, err := h.service.Purchase(c.Request.Context(), c.Param("customer"), req.Quantity, user.Data.Username)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, eligibilityJSON(decision, time.Now()))
}

// GetCountdown streams the time left as server-sent events and finishes with
// the re-evaluated eligibility once the customer may purchase again.
func (h *handler) GetCountdown(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	decision, err := h.service.WatchCountdown(c.Request.Context(), c.Param("customer"), func(left time.Duration) {
		c.SSEvent("tick", gin.H{
			"countdown":    eligibility.FormatCountdown(left),
			"seconds_left": int64(left / time.Second),
		})
		c.Writer.Flush()
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		if !c.Writer.Written() {
			c.Header("Content-Type", "application/json")
			h.writeError(c, err)
			return
		}
		c.SSEvent("error", gin.H{"error": err.Error()})
		c.Writer.Flush()
		return
	}

	c.SSEvent("eligibility", eligibilityJSON(decision, time.Now()))
	c.Writer.Flush()
}

type StockJSONResponse struct {
	Level int                       `json:"level"`
	Low   bool                      `json:"low"`
	Logs  []TransactionJSONResponse `json:"logs"`
}

func stockJSON(stock model.Stock) StockJSONResponse {
	return StockJSONResponse{Level: stock.Level, Low: stock.Low, Logs: transactionsJSON(stock.Logs)}
}

func (h *handler) GetStock(c *gin.Context) {
	stock, err := h.service.GetStock(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stockJSON(stock))
}

type PostStockJSONRequest struct {
	Amount any `json:"amount"`
}

func (h *handler) PostStockAdjustment(c *gin.Context) {
	var req PostStockJSONRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// количество принимается числом или строкой, проверяет сервис
	var amount string
	switch v := req.Amount.(type) {
	case string:
		amount = v
	case float64:
		amount = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		h.writeError(c, service.ErrInvalidAmount)
		return
	}

	user, _ := auth.CurrentUser(c)
	stock, err := h.service.AdjustStock(c.Request.Context(), c.Param("direction"), amount, user.Data.Username)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, stockJSON(stock))
}

type DashboardStatsJSON struct {
	TotalTransactions int     `json:"total_transactions"`
	UniqueCustomers   int     `json:"unique_customers"`
	TotalQuantity     int     `json:"total_quantity"`
	AverageQuantity   float64 `json:"average_quantity"`
}

type DashboardJSONResponse struct {
	Period       string                    `json:"period"`
	Stats        DashboardStatsJSON        `json:"stats"`
	Transactions []TransactionJSONResponse `json:"transactions"`
}

func (h *handler) GetDashboard(c *gin.Context) {
	dashboard, err := h.service.GetDashboard(c.Request.Context(), c.DefaultQuery("period", "all"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, DashboardJSONResponse{
		Period: dashboard.Period,
		Stats: DashboardStatsJSON{
			TotalTransactions: dashboard.Stats.TotalTransactions,
			UniqueCustomers:   dashboard.Stats.UniqueCustomers,
			TotalQuantity:     dashboard.Stats.TotalQuantity,
			AverageQuantity:   dashboard.Stats.AverageQuantity,
		},
		Transactions: transactionsJSON(dashboard.Transactions),
	})
}
