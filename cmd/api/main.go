package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/agrimarket/internal/audit"
	"github.com/ariefcatur/agrimarket/internal/catalog"
	"github.com/ariefcatur/agrimarket/internal/config"
	"github.com/ariefcatur/agrimarket/internal/httpx"
	kafkax "github.com/ariefcatur/agrimarket/internal/kafka"
	"github.com/ariefcatur/agrimarket/internal/logger"
	"github.com/ariefcatur/agrimarket/internal/notify"
	"github.com/ariefcatur/agrimarket/internal/orders"
	"github.com/ariefcatur/agrimarket/internal/payments"
	"github.com/ariefcatur/agrimarket/internal/postgres"
	"github.com/ariefcatur/agrimarket/internal/redisx"
	"github.com/ariefcatur/agrimarket/internal/reviews"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Development: cfg.Development()})
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("api exited", zap.Error(err))
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

	if cfg.AutoMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
		log.Info("schema applied")
	}

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	pricing, err := orders.NewPricing(cfg.ShippingFlatCents, cfg.TaxRate)
	if err != nil {
		return err
	}

	prodCtx, cancelProd := context.WithCancel(context.Background())
	defer cancelProd()
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log.Named("producer"))
	prod.Start(prodCtx)

	products := &catalog.Repo{DB: db}
	ledger := &payments.Ledger{DB: db}
	recorder := &audit.Recorder{Store: &audit.Repo{DB: db}, Log: log.Named("audit")}

	orderSvc := &orders.Service{
		Store:    &orders.Repo{DB: db},
		Catalog:  products,
		Payments: ledger,
		Pricing:  pricing,
		Audit:    recorder,
		Notifier: &notify.EmailNotifier{
			Mailer: &notify.SMTPMailer{
				Host:     cfg.SMTPHost,
				Port:     cfg.SMTPPort,
				Username: cfg.SMTPUser,
				Password: cfg.SMTPPass,
				From:     cfg.MailFrom,
			},
			StoreName: cfg.StoreName,
			Log:       log.Named("notify"),
		},
		Events:      prod,
		ServiceName: cfg.ServiceName,
		Log:         log.Named("orders"),
	}
	reviewSvc := &reviews.Service{
		Store:       &reviews.Repo{DB: db},
		Events:      prod,
		ServiceName: cfg.ServiceName,
		Log:         log.Named("reviews"),
	}

	router := httpx.NewRouter(log.Named("http"))
	h := &httpx.Handler{
		Orders:    orderSvc,
		Reviews:   reviewSvc,
		Audit:     recorder,
		Products:  products,
		Redis:     rdb,
		JWTSecret: cfg.JWTSecret,
		Log:       log.Named("http"),
	}
	h.Register(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)

		// in-flight requests are done; flush what they published
		prod.Close()
		cancelProd()
		prod.WaitClosed()
		return err
	})
	return g.Wait()
}
