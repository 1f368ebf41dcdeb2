package config

type Config struct {
	LowStockThreshold int
	StockLogSize      int
}
