package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/agrimarket/internal/config"
	"github.com/ariefcatur/agrimarket/internal/inventory"
	kafkax "github.com/ariefcatur/agrimarket/internal/kafka"
	"github.com/ariefcatur/agrimarket/internal/logger"
	"github.com/ariefcatur/agrimarket/internal/postgres"
	"github.com/ariefcatur/agrimarket/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Development: cfg.Development()}).
		With(zap.String("component", "stock"))
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("stock worker exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	prodCtx, cancelProd := context.WithCancel(context.Background())
	defer cancelProd()
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log.Named("producer"))
	prod.Start(prodCtx)

	svc := &inventory.Service{
		Store:       &inventory.Repo{DB: db},
		Redis:       rdb,
		Events:      prod,
		ServiceName: cfg.ServiceName + "-stock",
		Log:         log,
	}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.StockGroup, inventory.Topics, cfg.StockWorkers, log.Named("consumer"))

	log.Info("consumer started",
		zap.String("group", cfg.StockGroup),
		zap.Strings("topics", inventory.Topics),
		zap.Int("workers", cfg.StockWorkers))
	err = cons.Start(ctx, svc.Handle)

	// workers have returned; flush their reservation events
	prod.Close()
	cancelProd()
	prod.WaitClosed()
	return err
}
