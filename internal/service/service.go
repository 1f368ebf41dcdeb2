package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iurnickita/teapot/internal/dashboard"
	"github.com/iurnickita/teapot/internal/eligibility"
	"github.com/iurnickita/teapot/internal/inventory"
	"github.com/iurnickita/teapot/internal/metrics"
	"github.com/iurnickita/teapot/internal/model"
	"github.com/iurnickita/teapot/internal/service/config"
	"github.com/iurnickita/teapot/internal/store"
)

type Service interface {
	Ping(ctx context.Context) error
	CheckPurchase(ctx context.Context, customerID string) (eligibility.Decision, error)
	Purchase(ctx context.Context, customerID string, quantity int, username string) (eligibility.Decision, error)
	WatchCountdown(ctx context.Context, customerID string, onTick func(left time.Duration)) (eligibility.Decision, error)
	GetStock(ctx context.Context) (model.Stock, error)
	AdjustStock(ctx context.Context, direction string, amount string, username string) (model.Stock, error)
	GetDashboard(ctx context.Context, period string) (model.Dashboard, error)
}

const (
	DirectionIncrease = "increase"
	DirectionDecrease = "decrease"

	countdownTick = time.Second
)

var (
	ErrInsufficientData   = errors.New("insufficient data")
	ErrInvalidAmount      = errors.New("amount must be a whole number")
	ErrNonPositiveAmount  = errors.New("amount must be positive")
	ErrInvalidDirection   = errors.New("direction must be increase or decrease")
	ErrInsufficientStock  = errors.New("cannot decrease stock below 0")
	ErrInvalidCustomerID  = eligibility.ErrInvalidCustomerID
	ErrReservedCustomerID = eligibility.ErrReservedCustomerID
	ErrInvalidQuantity    = eligibility.ErrInvalidQuantity
	ErrNotEligible        = eligibility.ErrNotEligible
	ErrExceedsRemaining   = eligibility.ErrExceedsRemaining
	ErrInvalidPeriod      = dashboard.ErrInvalidPeriod
)

type service struct {
	cfg       config.Config
	store     store.Store
	inventory inventory.Inventory
	metrics   *metrics.Metrics
	zaplog    *zap.Logger
	now       func() time.Time
	tick      time.Duration
}

func NewService(cfg config.Config, store store.Store, metrics *metrics.Metrics, zaplog *zap.Logger) Service {
	return newService(cfg, store, metrics, zaplog)
}

func newService(cfg config.Config, store store.Store, m *metrics.Metrics, zaplog *zap.Logger) *service {
	if zaplog == nil {
		zaplog = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	return &service{
		cfg:       cfg,
		store:     store,
		inventory: inventory.NewInventory(store, cfg.LowStockThreshold, cfg.StockLogSize),
		metrics:   m,
		zaplog:    zaplog,
		now:       time.Now,
		tick:      countdownTick,
	}
}

func (service *service) Ping(ctx context.Context) error {
	return service.store.Ping(ctx)
}

func (service *service) CheckPurchase(ctx context.Context, customerID string) (eligibility.Decision, error) {
	id, err := eligibility.ParseCustomerID(customerID)
	if err != nil {
		return eligibility.Decision{}, err
	}

	// Новый покупатель получает полную квоту
	_, err = service.store.CustomerGet(ctx, id)
	switch {
	case errors.Is(err, store.ErrNoRows):
		_, err = service.store.CustomerCreate(ctx, id)
		if err == nil {
			service.zaplog.Info("customer created", zap.Int("customer", id))
			service.metrics.EligibilityChecks.WithLabelValues(string(eligibility.StatusAllowed)).Inc()
			return eligibility.NewCustomer(id), nil
		}
		// создан параллельным запросом - считаем по журналу
		if !errors.Is(err, store.ErrAlreadyExists) {
			return eligibility.Decision{}, err
		}
	case err != nil:
		return eligibility.Decision{}, err
	}

	now := service.now()
	txs, err := service.store.TransactionGetByCustomer(ctx, id, now.Add(-eligibility.Window))
	if err != nil {
		return eligibility.Decision{}, err
	}

	decision := eligibility.Evaluate(id, txs, now)
	service.metrics.EligibilityChecks.WithLabelValues(string(decision.Status)).Inc()
	return decision, nil
}

func (service *service) Purchase(ctx context.Context, customerID string, quantity int, username string) (eligibility.Decision, error) {
	if username == "" {
		return eligibility.Decision{}, ErrInsufficientData
	}
	if _, err := eligibility.ParseCustomerID(customerID); err != nil {
		return eligibility.Decision{}, err
	}
	if quantity <= 0 || quantity > eligibility.Limit {
		return eligibility.Decision{}, ErrInvalidQuantity
	}

	decision, err := service.CheckPurchase(ctx, customerID)
	if err != nil {
		return eligibility.Decision{}, err
	}
	if err = decision.Allows(quantity); err != nil {
		service.metrics.Purchases.WithLabelValues("rejected").Inc()
		return decision, err
	}

	// Запись покупки. Квота перепроверяется под блокировкой покупателя
	now := service.now()
	tx := model.Transaction{Data: model.TransactionData{
		Customer:  decision.Customer,
		Quantity:  -quantity,
		CreatedBy: username,
	}}
	inserted, err := service.store.TransactionPurchase(ctx, tx, now.Add(-eligibility.Window),
		func(window []model.Transaction) error {
			return eligibility.Evaluate(decision.Customer, window, now).Allows(quantity)
		})
	if err != nil {
		if errors.Is(err, ErrNotEligible) || errors.Is(err, ErrExceedsRemaining) {
			service.metrics.Purchases.WithLabelValues("rejected").Inc()
			return decision, err
		}
		service.metrics.Purchases.WithLabelValues("error").Inc()
		return decision, err
	}

	service.metrics.Purchases.WithLabelValues("ok").Inc()
	service.metrics.PurchasedUnits.Add(float64(quantity))
	service.zaplog.Info("purchase recorded",
		zap.Int("customer", decision.Customer),
		zap.Int("quantity", quantity),
		zap.Int64("transaction", inserted.ID),
		zap.String("created_by", username))

	// Обновление состояния после покупки
	return service.CheckPurchase(ctx, customerID)
}

func (service *service) WatchCountdown(ctx context.Context, customerID string, onTick func(left time.Duration)) (eligibility.Decision, error) {
	decision, err := service.CheckPurchase(ctx, customerID)
	if err != nil {
		return eligibility.Decision{}, err
	}

	for decision.Status == eligibility.StatusDenied {
		err = eligibility.Watch(ctx, decision.NextAllowedAt, service.tick, service.now, onTick)
		if err != nil {
			return decision, err
		}
		decision, err = service.CheckPurchase(ctx, customerID)
		if err != nil {
			return eligibility.Decision{}, err
		}
	}
	return decision, nil
}

func (service *service) GetStock(ctx context.Context) (model.Stock, error) {
	stock, err := service.inventory.Get(ctx)
	if err != nil {
		return model.Stock{}, err
	}
	service.metrics.StockLevel.Set(float64(stock.Level))
	return stock, nil
}

func (service *service) AdjustStock(ctx context.Context, direction string, amount string, username string) (model.Stock, error) {
	if username == "" {
		return model.Stock{}, ErrInsufficientData
	}
	// колонка quantity - INTEGER
	parsed, err := strconv.ParseInt(strings.TrimSpace(amount), 10, 32)
	if err != nil {
		return model.Stock{}, ErrInvalidAmount
	}
	value := int(parsed)
	if value <= 0 {
		return model.Stock{}, ErrNonPositiveAmount
	}

	var tx model.Transaction
	switch direction {
	case DirectionIncrease:
		tx, err = service.inventory.Increase(ctx, value, username)
	case DirectionDecrease:
		tx, err = service.inventory.Decrease(ctx, value, username)
		if errors.Is(err, store.ErrInsufficientStock) {
			return model.Stock{}, ErrInsufficientStock
		}
	default:
		return model.Stock{}, ErrInvalidDirection
	}
	if err != nil {
		return model.Stock{}, err
	}

	service.metrics.StockAdjustments.WithLabelValues(direction).Inc()
	service.zaplog.Info("stock adjusted",
		zap.String("direction", direction),
		zap.Int("quantity", tx.Data.Quantity),
		zap.Int64("transaction", tx.ID),
		zap.String("created_by", username))

	return service.GetStock(ctx)
}

func (service *service) GetDashboard(ctx context.Context, period string) (model.Dashboard, error) {
	if period == "" {
		period = dashboard.PeriodAll
	}
	since, err := dashboard.Since(period, service.now())
	if err != nil {
		return model.Dashboard{}, err
	}

	txs, err := service.store.TransactionGetAll(ctx, since)
	if err != nil {
		return model.Dashboard{}, err
	}

	return model.Dashboard{
		Period:       period,
		Stats:        dashboard.Aggregate(txs),
		Transactions: txs,
	}, nil
}
