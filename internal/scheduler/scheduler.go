package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/iurnickita/teapot/internal/dashboard"
	"github.com/iurnickita/teapot/internal/model"
	"github.com/iurnickita/teapot/internal/reports"
	"github.com/iurnickita/teapot/internal/scheduler/config"
	"github.com/iurnickita/teapot/internal/service"
)

const dateLayout = "2006-01-02"

// Scheduler runs the periodic stock check and the daily report.
type Scheduler struct {
	cron    *cron.Cron
	cfg     config.Config
	service service.Service
	reports reports.Repository
	zaplog  *zap.Logger
	now     func() time.Time
}

// NewScheduler creates a scheduler; reports may be nil, then reports are only logged.
func NewScheduler(cfg config.Config, service service.Service, reports reports.Repository, zaplog *zap.Logger) (*Scheduler, error) {
	if zaplog == nil {
		zaplog = zap.NewNop()
	}

	loc := time.Local
	if cfg.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %s: %w", cfg.Timezone, err)
		}
	}

	return &Scheduler{
		cron:    cron.New(cron.WithLocation(loc)),
		cfg:     cfg,
		service: service,
		reports: reports,
		zaplog:  zaplog,
		now:     func() time.Time { return time.Now().In(loc) },
	}, nil
}

func (s *Scheduler) Start() error {
	s.zaplog.Info("starting scheduler")

	if s.cfg.LowStockSchedule != "" {
		if _, err := s.cron.AddFunc(s.cfg.LowStockSchedule, s.checkLowStock); err != nil {
			return fmt.Errorf("schedule low stock check: %w", err)
		}
	}
	if s.cfg.ReportSchedule != "" {
		if _, err := s.cron.AddFunc(s.cfg.ReportSchedule, s.sendDailyReport); err != nil {
			return fmt.Errorf("schedule daily report: %w", err)
		}
	}

	s.cron.Start()
	return nil
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.zaplog.Info("stopping scheduler")
	<-s.cron.Stop().Done()
}

func (s *Scheduler) checkLowStock() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stock, err := s.service.GetStock(ctx)
	if err != nil {
		s.zaplog.Error("failed to check stock", zap.Error(err))
		return
	}
	if stock.Low {
		s.zaplog.Warn("low stock alert", zap.Int("level", stock.Level))
	}
}

func (s *Scheduler) buildDailyReport(ctx context.Context) (reports.DailyReport, error) {
	day, err := s.service.GetDashboard(ctx, dashboard.Period24h)
	if err != nil {
		return reports.DailyReport{}, fmt.Errorf("load dashboard: %w", err)
	}
	stock, err := s.service.GetStock(ctx)
	if err != nil {
		return reports.DailyReport{}, fmt.Errorf("load stock: %w", err)
	}

	now := s.now()
	return reports.DailyReport{
		Date:              now.Format(dateLayout),
		GeneratedAt:       now.UTC(),
		TotalTransactions: day.Stats.TotalTransactions,
		UniqueCustomers:   day.Stats.UniqueCustomers,
		TotalQuantity:     day.Stats.TotalQuantity,
		AverageQuantity:   day.Stats.AverageQuantity,
		UnitsSold:         unitsSold(day.Transactions),
		StockLevel:        stock.Level,
		LowStock:          stock.Low,
	}, nil
}

// unitsSold - сумма покупок без учета операций склада
func unitsSold(txs []model.Transaction) int {
	var sold int
	for _, tx := range txs {
		if tx.Data.Customer != model.ReservedCustomerID && tx.Data.Quantity < 0 {
			sold -= tx.Data.Quantity
		}
	}
	return sold
}

func (s *Scheduler) sendDailyReport() {
	s.zaplog.Info("generating daily report")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	report, err := s.buildDailyReport(ctx)
	if err != nil {
		s.zaplog.Error("failed to generate daily report", zap.Error(err))
		return
	}

	s.zaplog.Info("daily report",
		zap.String("date", report.Date),
		zap.Int("transactions", report.TotalTransactions),
		zap.Int("customers", report.UniqueCustomers),
		zap.Int("units_sold", report.UnitsSold),
		zap.Int("stock_level", report.StockLevel))

	if s.reports == nil {
		return
	}
	if err := s.reports.SaveDailyReport(ctx, report); err != nil {
		s.zaplog.Error("failed to archive daily report", zap.Error(err))
	}
}
