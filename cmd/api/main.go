package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-order-engine/internal/config"
	"github.com/ariefcatur/go-order-engine/internal/coordinator"
	"github.com/ariefcatur/go-order-engine/internal/httpx"
	"github.com/ariefcatur/go-order-engine/internal/inventory"
	kafkax "github.com/ariefcatur/go-order-engine/internal/kafka"
	"github.com/ariefcatur/go-order-engine/internal/logging"
	"github.com/ariefcatur/go-order-engine/internal/observability"
	"github.com/ariefcatur/go-order-engine/internal/orders"
	"github.com/ariefcatur/go-order-engine/internal/postgres"
	"github.com/ariefcatur/go-order-engine/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type store struct {
	ledger  inventory.Ledger
	catalog inventory.Catalog
	repo    orders.Repository
	close   func()
}

func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (store, error) {
	if cfg.Memory() {
		l := inventory.NewMemoryLedger()
		return store{ledger: l, catalog: l, repo: orders.NewMemoryRepo(), close: func() {}}, nil
	}

	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		return store{}, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		db.Close()
		return store{}, err
	}
	rdb := redisx.New(cfg.RedisAddr)
	l := &inventory.PostgresLedger{DB: db}
	return store{
		ledger:  l,
		catalog: l,
		repo:    redisx.NewCachedRepo(&orders.Repo{DB: db}, rdb, log),
		close: func() {
			_ = rdb.Close()
			db.Close()
		},
	}, nil
}

// seedCatalog loads SEED_FILE into the in-memory catalog. A durable catalog
// is never seeded: upserting would reset stock that live orders still hold.
func seedCatalog(ctx context.Context, cfg config.Config, cat inventory.Catalog, log *zap.Logger) error {
	if cfg.SeedFile == "" {
		return nil
	}
	if !cfg.Memory() {
		log.Warn("SEED_FILE ignored outside memory store", zap.String("store", cfg.Store), zap.String("file", cfg.SeedFile))
		return nil
	}
	n, err := inventory.Seed(ctx, cat, cfg.SeedFile)
	if err != nil {
		return err
	}
	log.Info("catalog seeded", zap.Int("variants", n), zap.String("file", cfg.SeedFile))
	return nil
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.ServiceName, cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceName, cfg.OTELEndpoint)
	if err != nil {
		log.Fatal("tracing setup", zap.Error(err))
	}

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("open store", zap.String("store", cfg.Store), zap.Error(err))
	}
	defer st.close()

	if err := seedCatalog(ctx, cfg, st.catalog, log); err != nil {
		log.Fatal("seed catalog", zap.Error(err))
	}

	opts := []coordinator.Option{
		coordinator.WithLogger(log.Named("coordinator")),
		coordinator.WithServiceName(cfg.ServiceName),
	}
	var prod *kafkax.Producer
	if !cfg.Memory() && len(cfg.KafkaBrokers) > 0 {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, cfg.OrderEventsTopic, 1024, log.Named("producer"))
		prod.Start(ctx)
		opts = append(opts, coordinator.WithPublisher(prod))
	}
	svc := coordinator.New(st.ledger, st.repo, opts...)

	router := httpx.NewRouter(log.Named("http"), 3*cfg.RequestTimeout)
	oh := &httpx.OrdersHandler{Orders: svc, Catalog: st.catalog, Log: log.Named("http"), Timeout: cfg.RequestTimeout}
	oh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(sctx)
		if prod != nil {
			prod.Close()
			prod.WaitClosed()
		}
		if terr := shutdownTracing(sctx); terr != nil {
			log.Warn("tracing shutdown", zap.Error(terr))
		}
		return err
	})
	if err := g.Wait(); err != nil {
		log.Error("api exited", zap.Error(err))
	}
}
