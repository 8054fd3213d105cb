package main

import (
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/spotex/internal/apperror"
	"github.com/xtrntr/spotex/internal/auth"
	"github.com/xtrntr/spotex/internal/config"
	"github.com/xtrntr/spotex/internal/db"
	"github.com/xtrntr/spotex/internal/exchange"
	"github.com/xtrntr/spotex/internal/ledger"
	"github.com/xtrntr/spotex/internal/litedb"
	"github.com/xtrntr/spotex/internal/logger"
	"github.com/xtrntr/spotex/internal/matches"
	"github.com/xtrntr/spotex/internal/models"
	"github.com/xtrntr/spotex/internal/notify"
	"github.com/xtrntr/spotex/internal/orders"
	"github.com/xtrntr/spotex/internal/queue"
	"github.com/xtrntr/spotex/internal/store"
)

const seedPassword = "password123"

type seedOrder struct {
	trader string
	side   models.Side
	amount string
	price  string
}

// resting book first, then orders that cross it
var seedOrders = []seedOrder{
	{"trader2", models.Sell, "0.1", "30000"},
	{"trader2", models.Sell, "0.2", "31000"},
	{"trader2", models.Sell, "0.15", "32000"},
	{"trader1", models.Buy, "0.1", "30000"},
	{"trader1", models.Buy, "0.2", "31500"},
	{"trader1", models.Buy, "0.05", "29000"},
	{"trader2", models.Sell, "0.5", "35000"},
}

// Seed the database with two traders and a few trades, running the matching
// engine in-process
func main() {
	ctx := context.Background()
	log := logger.New(logger.Options{Level: logger.InfoLevel})
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		fail(log, err)
	}

	database, err := openStore(ctx, cfg.Store)
	if err != nil {
		fail(log, err)
	}
	defer database.Close()

	existing, err := database.ListMatches(ctx, 1)
	if err != nil {
		fail(log, err)
	}
	if len(existing) > 0 {
		fmt.Println("Database already has match records. No need to seed.")
		return
	}

	q := queue.NewLocal(len(seedOrders)*4, log)
	defer q.Close()

	sink := notify.Nop{}
	l := ledger.New(log)
	ms := matches.New(database, q, sink, log)
	orderService := orders.NewService(database, l, ms, sink, nil, log)
	engine := exchange.NewEngine(database, l, ms, sink, exchange.Fees{
		Maker: cfg.Exchange.MakerFee,
		Taker: cfg.Exchange.TakerFee,
	}, nil, log)
	authService := auth.NewAuthService(database, auth.Options{
		Secret:      cfg.App.JWTSecret,
		TokenTTL:    cfg.App.TokenTTL,
		StartingBTC: cfg.Exchange.StartingBTC,
		StartingUSD: cfg.Exchange.StartingUSD,
	}, log)

	traders := map[string]int{}
	for _, name := range []string{"trader1", "trader2"} {
		id, err := ensureUser(ctx, authService, database, name)
		if err != nil {
			fail(log, err)
		}
		traders[name] = id
	}

	for _, o := range seedOrders {
		order, err := orderService.Create(ctx, traders[o.trader], o.side,
			decimal.RequireFromString(o.amount), decimal.RequireFromString(o.price))
		if err != nil {
			fail(log, err)
		}
		if err := q.Drain(ctx, engine.Handler()); err != nil {
			fail(log, err)
		}
		fmt.Printf("%s placed %s %s BTC @ %s (order %d)\n", o.trader, o.side, o.amount, o.price, order.ID)
	}

	stats, err := ms.MarketStats(ctx)
	if err != nil {
		fail(log, err)
	}
	fmt.Printf("Successfully seeded the database: last price %s, volume %s BTC\n", stats.LastPrice, stats.BTCVolume)
}

func ensureUser(ctx context.Context, a *auth.AuthService, s store.Store, username string) (int, error) {
	u, err := a.Register(ctx, username, seedPassword)
	if err == nil {
		return u.ID, nil
	}
	if !apperror.Is(err, apperror.Conflict) {
		return 0, err
	}
	existing, err := s.GetUserByUsername(ctx, username)
	if err != nil {
		return 0, err
	}
	return existing.ID, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	if cfg.Driver == "sqlite" {
		return litedb.Open(cfg.SQLitePath)
	}
	database, err := db.NewDB(ctx, cfg.PostgresDSN, db.Options{MaxConns: cfg.MaxConns})
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

func fail(log logger.Interface, err error) {
	log.Error(err, logger.NewField("action", "seed"))
	log.Sync()
	os.Exit(1)
}
