package dashboard

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iurnickita/teapot/internal/model"
)

const (
	PeriodAll = "all"
	Period24h = "24h"
	Period7d  = "7d"
	Period30d = "30d"
)

var ErrInvalidPeriod = errors.New("period must be one of all, 24h, 7d, 30d")

// Since returns the lower bound for a period. The zero time means no bound.
func Since(period string, now time.Time) (time.Time, error) {
	switch period {
	case "", PeriodAll:
		return time.Time{}, nil
	case Period24h:
		return now.Add(-24 * time.Hour), nil
	case Period7d:
		return now.Add(-7 * 24 * time.Hour), nil
	case Period30d:
		return now.Add(-30 * 24 * time.Hour), nil
	default:
		return time.Time{}, ErrInvalidPeriod
	}
}

// Aggregate reduces a transaction set to dashboard statistics. Quantities are
// summed with their sign; the average is rounded to one decimal place.
func Aggregate(txs []model.Transaction) model.DashboardStats {
	var stats model.DashboardStats
	if len(txs) == 0 {
		return stats
	}

	customers := make(map[int]struct{})
	for _, tx := range txs {
		customers[tx.Data.Customer] = struct{}{}
		stats.TotalQuantity += tx.Data.Quantity
	}
	stats.TotalTransactions = len(txs)
	stats.UniqueCustomers = len(customers)

	avg := decimal.NewFromInt(int64(stats.TotalQuantity)).
		DivRound(decimal.NewFromInt(int64(stats.TotalTransactions)), 8).
		Round(1)
	stats.AverageQuantity = avg.InexactFloat64()

	return stats
}
