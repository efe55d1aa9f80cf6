package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-order-engine/internal/config"
	"github.com/ariefcatur/go-order-engine/internal/coordinator"
	"github.com/ariefcatur/go-order-engine/internal/inventory"
	kafkax "github.com/ariefcatur/go-order-engine/internal/kafka"
	"github.com/ariefcatur/go-order-engine/internal/logging"
	"github.com/ariefcatur/go-order-engine/internal/observability"
	"github.com/ariefcatur/go-order-engine/internal/orders"
	"github.com/ariefcatur/go-order-engine/internal/payments"
	"github.com/ariefcatur/go-order-engine/internal/postgres"
	"github.com/ariefcatur/go-order-engine/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if cfg.Memory() {
		panic("payments consumer needs STORE=postgres: callbacks must reach the same orders as the api")
	}
	service := cfg.ServiceName + "-payments"
	log, err := logging.New(service, cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, service, cfg.OTELEndpoint)
	if err != nil {
		log.Fatal("tracing setup", zap.Error(err))
	}

	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	prod := kafkax.NewProducer(cfg.KafkaBrokers, cfg.OrderEventsTopic, 1024, log.Named("producer"))
	prod.Start(ctx)

	svc := coordinator.New(
		&inventory.PostgresLedger{DB: db},
		redisx.NewCachedRepo(&orders.Repo{DB: db}, rdb, log),
		coordinator.WithLogger(log.Named("coordinator")),
		coordinator.WithPublisher(prod),
		coordinator.WithServiceName(service),
	)
	h := &payments.Handler{Orders: svc, Redis: rdb, ServiceName: service, Log: log.Named("payments")}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.PaymentsGroup, cfg.PaymentTopic, cfg.PaymentsWorkers, log.Named("consumer"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("payments consumer started",
			zap.String("group", cfg.PaymentsGroup), zap.String("topic", cfg.PaymentTopic), zap.Int("workers", cfg.PaymentsWorkers))
		return cons.Start(gctx, h.HandleMessage)
	})
	err = g.Wait()

	prod.Close()
	prod.WaitClosed()
	if terr := shutdownTracing(context.Background()); terr != nil {
		log.Warn("tracing shutdown", zap.Error(terr))
	}
	if err != nil {
		log.Error("consumer exited", zap.Error(err))
	}
}
