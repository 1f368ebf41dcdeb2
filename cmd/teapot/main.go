package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/iurnickita/teapot/internal/auth"
	"github.com/iurnickita/teapot/internal/config"
	"github.com/iurnickita/teapot/internal/handler"
	"github.com/iurnickita/teapot/internal/logger"
	"github.com/iurnickita/teapot/internal/metrics"
	"github.com/iurnickita/teapot/internal/reports"
	"github.com/iurnickita/teapot/internal/scheduler"
	"github.com/iurnickita/teapot/internal/service"
	"github.com/iurnickita/teapot/internal/service/identityclient"
	"github.com/iurnickita/teapot/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	envFile := flag.String("env", "", "path to .env file")
	flag.Parse()

	cfg, err := config.GetConfig(*envFile)
	if err != nil {
		return err
	}

	zaplog, err := logger.NewZapLog(cfg.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = zaplog.Sync() }()

	store, err := store.NewStore(cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	metrics := metrics.New()
	identity := identityclient.NewIdentityClient(cfg.Identity)
	auth := auth.NewAuth(cfg.Auth, store, identity, zaplog.Named("auth"))
	service := service.NewService(cfg.Service, store, metrics, zaplog.Named("service"))

	// архив отчетов необязателен
	var archive reports.Repository
	if cfg.Reports.MongoURI != "" {
		connCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		repo, err := reports.NewMongoRepository(connCtx, cfg.Reports)
		cancel()
		if err != nil {
			return err
		}
		defer func() {
			if err := repo.Close(context.Background()); err != nil {
				zaplog.Error("failed to close mongodb connection", zap.Error(err))
			}
		}()
		archive = repo
	} else {
		zaplog.Warn("MONGODB_URI is not set, daily reports are only logged")
	}

	sched, err := scheduler.NewScheduler(cfg.Scheduler, service, archive, zaplog.Named("scheduler"))
	if err != nil {
		return err
	}
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return handler.Serve(ctx, cfg.Handler, auth, service, metrics, zaplog)
}
