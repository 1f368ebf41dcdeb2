package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	authConfig "github.com/iurnickita/teapot/internal/auth/config"
	handlerConfig "github.com/iurnickita/teapot/internal/handler/config"
	loggerConfig "github.com/iurnickita/teapot/internal/logger/config"
	reportsConfig "github.com/iurnickita/teapot/internal/reports/config"
	schedulerConfig "github.com/iurnickita/teapot/internal/scheduler/config"
	serviceConfig "github.com/iurnickita/teapot/internal/service/config"
	identityConfig "github.com/iurnickita/teapot/internal/service/identityclient/config"
	storeConfig "github.com/iurnickita/teapot/internal/store/config"
)

type Config struct {
	Handler   handlerConfig.Config
	Auth      authConfig.Config
	Service   serviceConfig.Config
	Store     storeConfig.Config
	Logger    loggerConfig.Config
	Identity  identityConfig.Config
	Scheduler schedulerConfig.Config
	Reports   reportsConfig.Config
}

// GetConfig читает переменные окружения, при наличии - из файла envFile (или .env).
func GetConfig(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("failed loading env file %s: %w", envFile, err)
		}
	} else {
		// .env не обязателен
		_ = godotenv.Load()
	}

	var err error
	cfg := Config{
		Handler: handlerConfig.Config{
			ServerAddr: getenvWithDefault("TEAPOT_ADDR", ":8080"),
		},
		Auth: authConfig.Config{
			TokenSecret: os.Getenv("TOKEN_SECRET"),
		},
		Store: storeConfig.Config{
			DBDsn: os.Getenv("DATABASE_URI"),
		},
		Logger: loggerConfig.Config{
			LogLevel: getenvWithDefault("LOG_LEVEL", "info"),
		},
		Identity: identityConfig.Config{
			BaseURL: os.Getenv("IDENTITY_URL"),
			APIKey:  os.Getenv("IDENTITY_API_KEY"),
		},
		Scheduler: schedulerConfig.Config{
			LowStockSchedule: getenvWithDefault("LOW_STOCK_CRON_SCHEDULE", "*/15 * * * *"),
			ReportSchedule:   getenvWithDefault("REPORT_CRON_SCHEDULE", "0 20 * * *"),
			Timezone:         os.Getenv("TIMEZONE"),
		},
		Reports: reportsConfig.Config{
			MongoURI:    os.Getenv("MONGODB_URI"),
			MongoDBName: getenvWithDefault("MONGODB_DB_NAME", "teapot"),
		},
	}

	if cfg.Handler.ShutdownTimeout, err = getenvDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Auth.TokenExpire, err = getenvDuration("TOKEN_EXPIRE", 12*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.Auth.SecureCookie, err = getenvBool("SECURE_COOKIE", false); err != nil {
		return Config{}, err
	}
	if cfg.Identity.Timeout, err = getenvDuration("IDENTITY_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Service.LowStockThreshold, err = getenvInt("LOW_STOCK_THRESHOLD", 10); err != nil {
		return Config{}, err
	}
	if cfg.Service.StockLogSize, err = getenvInt("STOCK_LOG_SIZE", 10); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет обязательные параметры.
func (c Config) Validate() error {
	switch {
	case c.Handler.ServerAddr == "":
		return errors.New("TEAPOT_ADDR must not be empty")
	case c.Store.DBDsn == "":
		return errors.New("DATABASE_URI must be provided")
	case c.Auth.TokenSecret == "":
		return errors.New("TOKEN_SECRET must be provided")
	case c.Identity.BaseURL == "":
		return errors.New("IDENTITY_URL must be provided")
	case c.Identity.APIKey == "":
		return errors.New("IDENTITY_API_KEY must be provided")
	}

	if c.Service.LowStockThreshold < 0 {
		return errors.New("LOW_STOCK_THRESHOLD must not be negative")
	}
	if c.Service.StockLogSize <= 0 {
		return errors.New("STOCK_LOG_SIZE must be positive")
	}
	return nil
}

func getenvWithDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getenvBool(key string, fallback bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getenvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
