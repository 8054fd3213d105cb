package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/xtrntr/spotex/internal/api"
	"github.com/xtrntr/spotex/internal/auth"
	"github.com/xtrntr/spotex/internal/config"
	"github.com/xtrntr/spotex/internal/db"
	"github.com/xtrntr/spotex/internal/exchange"
	"github.com/xtrntr/spotex/internal/ledger"
	"github.com/xtrntr/spotex/internal/litedb"
	"github.com/xtrntr/spotex/internal/logger"
	"github.com/xtrntr/spotex/internal/matches"
	"github.com/xtrntr/spotex/internal/metrics"
	"github.com/xtrntr/spotex/internal/notify"
	"github.com/xtrntr/spotex/internal/orders"
	"github.com/xtrntr/spotex/internal/queue"
	"github.com/xtrntr/spotex/internal/store"
)

const shutdownTimeout = 10 * time.Second

// Main entry point: wires storage, queue, engine and HTTP server
func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Options{}).Error(err, logger.NewField("action", "load_config"))
		os.Exit(1)
	}

	log := logger.New(logger.Options{Level: logger.Level(cfg.App.LogLevel), File: cfg.App.LogFile}).
		WithFields(logger.NewField("service", cfg.App.Name), logger.NewField("env", cfg.App.Environment))
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error(err, logger.NewField("action", "run"))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log logger.Interface) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database connection
	database, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer database.Close()

	m := metrics.New()
	hub := notify.NewHub(m, log)

	// Initialize the match_created channel
	var (
		pub     queue.Publisher
		workers []func(ctx context.Context, handle queue.Handler)
		closers []func()
	)
	deadLetter := func(ctx context.Context, letter queue.DeadLetter) {
		log.WarnContext(ctx, "match_created dead letter",
			logger.NewField("match_id", letter.MatchRecordID),
			logger.NewField("error", letter.Error),
			logger.NewField("payload", letter.Payload))
	}
	switch cfg.Queue.Driver {
	case "kafka":
		kcfg := queue.KafkaConfig{
			Brokers:       cfg.Queue.Brokers,
			Topic:         cfg.Queue.Topic,
			ErrorTopic:    cfg.Queue.ErrorTopic,
			ConsumerGroup: cfg.Queue.ConsumerGroup,
		}
		publisher := queue.NewKafkaPublisher(kcfg, log)
		consumer := queue.NewKafkaConsumer(kcfg, log)
		errConsumer := queue.NewErrorConsumer(kcfg, log)
		pub = publisher
		workers = append(workers,
			func(ctx context.Context, handle queue.Handler) { consumer.Run(ctx, handle) },
			func(ctx context.Context, _ queue.Handler) { errConsumer.Run(ctx, deadLetter) },
		)
		closers = append(closers,
			func() { publisher.Close() },
			func() { consumer.Close() },
			func() { errConsumer.Close() },
		)
	default:
		local := queue.NewLocal(cfg.Queue.Buffer, log)
		pub = local
		workers = append(workers, func(ctx context.Context, handle queue.Handler) {
			local.Run(ctx, cfg.Queue.Workers, handle, deadLetter)
		})
		closers = append(closers, local.Close)
	}
	defer func() {
		for _, c := range closers {
			c()
		}
	}()

	// Initialize services
	l := ledger.New(log)
	ms := matches.New(database, pub, hub, log)
	orderService := orders.NewService(database, l, ms, hub, m, log)
	engine := exchange.NewEngine(database, l, ms, hub, exchange.Fees{
		Maker: cfg.Exchange.MakerFee,
		Taker: cfg.Exchange.TakerFee,
	}, m, log)
	authService := auth.NewAuthService(database, auth.Options{
		Secret:      cfg.App.JWTSecret,
		TokenTTL:    cfg.App.TokenTTL,
		StartingBTC: cfg.Exchange.StartingBTC,
		StartingUSD: cfg.Exchange.StartingUSD,
	}, log)

	sweeper := &queue.Sweeper{
		Lister:    database,
		Publisher: pub,
		Every:     cfg.Exchange.SweepEvery,
		Age:       cfg.Exchange.SweepAge,
		Batch:     cfg.Exchange.SweepBatch,
		Log:       log,
	}

	// Set up HTTP router
	handler := api.NewHandler(database, orderService, ms, authService, hub, log)
	srv := &http.Server{
		Addr:              cfg.App.HTTPAddr,
		Handler:           api.NewRouter(handler, api.RouterOptions{AllowedOrigins: cfg.App.CORSOrigins, Metrics: m}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w func(context.Context, queue.Handler)) {
			defer wg.Done()
			w(ctx, engine.Handler())
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting server", logger.NewField("addr", cfg.App.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			stop()
			wg.Wait()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, logger.NewField("action", "http_shutdown"))
	}
	stop()
	wg.Wait()
	return nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	if cfg.Driver == "sqlite" {
		return litedb.Open(cfg.SQLitePath)
	}

	database, err := db.NewDB(ctx, cfg.PostgresDSN, db.Options{MaxConns: cfg.MaxConns})
	if err != nil {
		return nil, err
	}
	if cfg.Migrate {
		if err := database.Migrate(ctx); err != nil {
			database.Close()
			return nil, err
		}
	}
	return database, nil
}
