package inventory

import (
	"context"

	"github.com/iurnickita/teapot/internal/model"
	"github.com/iurnickita/teapot/internal/store"
)

const (
	DefaultLowStockThreshold = 10
	DefaultLogSize           = 10
)

type Inventory interface {
	Increase(ctx context.Context, amount int, username string) (model.Transaction, error)
	Decrease(ctx context.Context, amount int, username string) (model.Transaction, error)
	Get(ctx context.Context) (model.Stock, error)
}

type inventory struct {
	store     store.Store
	threshold int
	logSize   int
}

func NewInventory(store store.Store, threshold int, logSize int) Inventory {
	if threshold <= 0 {
		threshold = DefaultLowStockThreshold
	}
	if logSize <= 0 {
		logSize = DefaultLogSize
	}
	return &inventory{store: store, threshold: threshold, logSize: logSize}
}

// Get returns the authoritative stock level with the latest stock movements.
func (inventory *inventory) Get(ctx context.Context) (model.Stock, error) {
	level, err := inventory.store.StockGet(ctx)
	if err != nil {
		return model.Stock{}, err
	}

	logs, err := inventory.store.StockLogGet(ctx, inventory.logSize)
	if err != nil {
		return model.Stock{}, err
	}

	return model.Stock{
		Level: level,
		Low:   level < inventory.threshold,
		Logs:  logs,
	}, nil
}

func (inventory *inventory) Increase(ctx context.Context, amount int, username string) (model.Transaction, error) {
	return inventory.store.StockIncrease(ctx, amount, username)
}

func (inventory *inventory) Decrease(ctx context.Context, amount int, username string) (model.Transaction, error) {
	return inventory.store.StockDecrease(ctx, amount, username)
}
