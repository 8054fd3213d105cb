package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/spotex/internal/apperror"
	"github.com/xtrntr/spotex/internal/litedb"
	"github.com/xtrntr/spotex/internal/litedb/litedbtest"
	"github.com/xtrntr/spotex/internal/logger"
	"github.com/xtrntr/spotex/internal/models"
	"github.com/xtrntr/spotex/internal/store"
	"pgregory.net/rapid"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type balances struct {
	btcAvailable, btcOnHold, usdAvailable, usdOnHold string
}

func assertBalances(t *testing.T, db *litedb.DB, userID int, want balances) {
	t.Helper()
	u, err := db.GetUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, want.btcAvailable, u.BTCAvailable.String(), "btc available")
	assert.Equal(t, want.btcOnHold, u.BTCOnHold.String(), "btc on hold")
	assert.Equal(t, want.usdAvailable, u.USDAvailable.String(), "usd available")
	assert.Equal(t, want.usdOnHold, u.USDOnHold.String(), "usd on hold")
}

func inTx(t *testing.T, db *litedb.DB, fn func(tx store.Tx) error) error {
	t.Helper()
	return db.InTx(context.Background(), fn)
}

func TestCheckAvailable(t *testing.T) {
	u := &models.User{BTCAvailable: dec("1"), USDAvailable: dec("100")}

	tests := []struct {
		name   string
		side   models.Side
		amount string
		price  string
		want   bool
	}{
		{name: "BuyExact", side: models.Buy, amount: "2", price: "50", want: true},
		{name: "BuyShort", side: models.Buy, amount: "2", price: "50.01", want: false},
		{name: "BuyRoundsDown", side: models.Buy, amount: "0.333", price: "300.01", want: true},
		{name: "SellExact", side: models.Sell, amount: "1", price: "1000000", want: true},
		{name: "SellShort", side: models.Sell, amount: "1.00000001", price: "1", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckAvailable(u, tt.side, dec(tt.amount), dec(tt.price)))
		})
	}
}

func TestLedger_Reserve(t *testing.T) {
	tests := []struct {
		name     string
		side     models.Side
		amount   string
		price    string
		want     balances
		wantCode apperror.Code
	}{
		{name: "Buy", side: models.Buy, amount: "0.5", price: "100.01", want: balances{"10", "0", "949.99", "50.01"}},
		{name: "Sell", side: models.Sell, amount: "2.5", price: "100", want: balances{"7.5", "2.5", "1000", "0"}},
		{name: "BuyInsufficient", side: models.Buy, amount: "10.01", price: "100", wantCode: apperror.InsufficientBalance},
		{name: "SellInsufficient", side: models.Sell, amount: "10.00000001", price: "1", wantCode: apperror.InsufficientBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := litedbtest.Open(t)
			u := litedbtest.User(t, db, "alice", "10", "1000")
			l := New(logger.Nop())

			err := inTx(t, db, func(tx store.Tx) error {
				_, err := l.Reserve(context.Background(), tx, u.ID, tt.side, dec(tt.amount), dec(tt.price))
				return err
			})
			if tt.wantCode != "" {
				assert.True(t, apperror.Is(err, tt.wantCode), "err = %v", err)
				assertBalances(t, db, u.ID, balances{"10", "0", "1000", "0"})
				return
			}
			require.NoError(t, err)
			assertBalances(t, db, u.ID, tt.want)
		})
	}
}

func TestLedger_ReserveUnknownUser(t *testing.T) {
	db := litedbtest.Open(t)
	l := New(logger.Nop())

	err := inTx(t, db, func(tx store.Tx) error {
		_, err := l.Reserve(context.Background(), tx, 42, models.Buy, dec("1"), dec("1"))
		return err
	})
	assert.True(t, apperror.Is(err, apperror.UserNotFound))
}

func TestLedger_ReleaseFundsClamps(t *testing.T) {
	db := litedbtest.Open(t)
	u := litedbtest.User(t, db, "alice", "10", "1000")
	l := New(logger.Nop())
	ctx := context.Background()

	require.NoError(t, inTx(t, db, func(tx store.Tx) error {
		_, err := l.Reserve(ctx, tx, u.ID, models.Sell, dec("1"), dec("100"))
		return err
	}))
	require.NoError(t, inTx(t, db, func(tx store.Tx) error {
		_, err := l.ReleaseFunds(ctx, tx, u.ID, models.BTC, dec("5"))
		return err
	}))
	assertBalances(t, db, u.ID, balances{"10", "0", "1000", "0"})

	require.NoError(t, inTx(t, db, func(tx store.Tx) error {
		_, err := l.ReleaseFunds(ctx, tx, u.ID, models.USD, decimal.Zero)
		return err
	}))
	assertBalances(t, db, u.ID, balances{"10", "0", "1000", "0"})
}

func TestLedger_Settle(t *testing.T) {
	tests := []struct {
		name       string
		takerSide  models.Side
		price      string
		wantBuyer  balances
		wantSeller balances
	}{
		{
			name:       "BuyTaker",
			takerSide:  models.Buy,
			price:      "100",
			wantBuyer:  balances{"1.5", "0", "800", "50"},
			wantSeller: balances{"3", "0.5", "150", "0"},
		},
		{
			name:       "SellTaker",
			takerSide:  models.Sell,
			price:      "100",
			wantBuyer:  balances{"1.5", "0", "800", "50"},
			wantSeller: balances{"3", "0.5", "150", "0"},
		},
		{
			// the buyer reserved 150 at its limit but pays 135
			name:       "PriceImprovement",
			takerSide:  models.Buy,
			price:      "90",
			wantBuyer:  balances{"1.5", "0", "815", "50"},
			wantSeller: balances{"3", "0.5", "135", "0"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := litedbtest.Open(t)
			buyer := litedbtest.User(t, db, "buyer", "0", "1000")
			seller := litedbtest.User(t, db, "seller", "5", "0")
			l := New(logger.Nop())
			ctx := context.Background()

			require.NoError(t, inTx(t, db, func(tx store.Tx) error {
				if _, err := l.Reserve(ctx, tx, buyer.ID, models.Buy, dec("2"), dec("100")); err != nil {
					return err
				}
				_, err := l.Reserve(ctx, tx, seller.ID, models.Sell, dec("2"), dec("100"))
				return err
			}))

			s := Settlement{Side: tt.takerSide, Amount: dec("1.5"), Price: dec(tt.price), BuyerReserved: dec("150")}
			s.TakerID, s.MakerID = buyer.ID, seller.ID
			if tt.takerSide == models.Sell {
				s.TakerID, s.MakerID = seller.ID, buyer.ID
			}
			var taker, maker *models.User
			require.NoError(t, inTx(t, db, func(tx store.Tx) error {
				var err error
				taker, maker, err = l.Settle(ctx, tx, s)
				return err
			}))
			assert.Equal(t, s.TakerID, taker.ID)
			assert.Equal(t, s.MakerID, maker.ID)

			assertBalances(t, db, buyer.ID, tt.wantBuyer)
			assertBalances(t, db, seller.ID, tt.wantSeller)
		})
	}
}

func TestLedger_SettleRejectsSelfTrade(t *testing.T) {
	db := litedbtest.Open(t)
	u := litedbtest.User(t, db, "alice", "5", "1000")
	l := New(logger.Nop())

	err := inTx(t, db, func(tx store.Tx) error {
		_, _, err := l.Settle(context.Background(), tx, Settlement{TakerID: u.ID, MakerID: u.ID, Side: models.Buy, Amount: dec("1"), Price: dec("1")})
		return err
	})
	assert.Error(t, err)
}

func TestLedger_SettleShortfall(t *testing.T) {
	db := litedbtest.Open(t)
	// buyer holds one cent less than the trade costs but has it available
	buyer := litedbtest.User(t, db, "buyer", "0", "0.01")
	seller := litedbtest.User(t, db, "seller", "1", "0")
	poor := litedbtest.User(t, db, "poor", "0", "0")
	l := New(logger.Nop())
	ctx := context.Background()

	require.NoError(t, inTx(t, db, func(tx store.Tx) error {
		_, err := l.Reserve(ctx, tx, seller.ID, models.Sell, dec("1"), dec("0.01"))
		return err
	}))

	require.NoError(t, inTx(t, db, func(tx store.Tx) error {
		_, _, err := l.Settle(ctx, tx, Settlement{TakerID: buyer.ID, MakerID: seller.ID, Side: models.Buy, Amount: dec("0.5"), Price: dec("0.01"), BuyerReserved: dec("0.01")})
		return err
	}))
	assertBalances(t, db, buyer.ID, balances{"0.5", "0", "0", "0"})

	err := inTx(t, db, func(tx store.Tx) error {
		_, _, err := l.Settle(ctx, tx, Settlement{TakerID: poor.ID, MakerID: seller.ID, Side: models.Buy, Amount: dec("0.5"), Price: dec("1"), BuyerReserved: dec("0.5")})
		return err
	})
	assert.True(t, apperror.Is(err, apperror.InsufficientBalance))
	assertBalances(t, db, poor.ID, balances{"0", "0", "0", "0"})
}

// Reserving and then releasing what an order holds returns every balance to
// where it started
func TestLedger_ReserveReleaseRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		side := rapid.SampledFrom([]models.Side{models.Buy, models.Sell}).Draw(rt, "side")
		amount := decimal.New(rapid.Int64Range(1, 1_000_000_000).Draw(rt, "amount"), -models.BTCScale)
		price := decimal.New(rapid.Int64Range(1, 10_000_000).Draw(rt, "price"), -models.USDScale)

		db := litedbtest.Open(t)
		u := litedbtest.User(t, db, "alice", "10", "1000000")
		l := New(logger.Nop())
		ctx := context.Background()

		o := models.NewOrder(u.ID, side, amount, price)
		err := db.InTx(ctx, func(tx store.Tx) error {
			_, err := l.Reserve(ctx, tx, u.ID, side, amount, price)
			return err
		})
		if apperror.Is(err, apperror.InsufficientBalance) {
			return
		}
		require.NoError(rt, err)

		// an unfilled order holds exactly what Release gives back
		currency, held := o.Held()
		_, required := Required(side, amount, price)
		assert.True(rt, held.Equal(required), "%s held %s, required %s", currency, held, required)
		require.NoError(rt, db.InTx(ctx, func(tx store.Tx) error {
			_, err := l.Release(ctx, tx, u.ID, side, amount, price)
			return err
		}))

		got, err := db.GetUser(ctx, u.ID)
		require.NoError(rt, err)
		assert.True(rt, got.BTCAvailable.Equal(dec("10")))
		assert.True(rt, got.USDAvailable.Equal(dec("1000000")))
		assert.True(rt, got.BTCOnHold.IsZero())
		assert.True(rt, got.USDOnHold.IsZero())
	})
}

func TestLedger_SettleRoundingDebit(t *testing.T) {
	db := litedbtest.Open(t)
	buyer := litedbtest.User(t, db, "buyer", "0", "2")
	seller := litedbtest.User(t, db, "seller", "1", "0")
	l := New(logger.Nop())
	ctx := context.Background()

	require.NoError(t, inTx(t, db, func(tx store.Tx) error {
		if _, err := l.Reserve(ctx, tx, buyer.ID, models.Buy, dec("1"), dec("1.99")); err != nil {
			return err
		}
		_, err := l.Reserve(ctx, tx, seller.ID, models.Sell, dec("1"), dec("1.99"))
		return err
	}))
	assertBalances(t, db, buyer.ID, balances{"0", "0", "0.01", "1.99"})

	settle := func(reserved string) error {
		return inTx(t, db, func(tx store.Tx) error {
			_, _, err := l.Settle(ctx, tx, Settlement{TakerID: buyer.ID, MakerID: seller.ID, Side: models.Buy, Amount: dec("0.5"), Price: dec("1.99"), BuyerReserved: dec(reserved)})
			return err
		})
	}
	// each half costs 1.00 but the second only has 0.99 of reservation left
	require.NoError(t, settle("1"))
	assertBalances(t, db, buyer.ID, balances{"0.5", "0", "0.01", "0.99"})
	require.NoError(t, settle("0.99"))
	assertBalances(t, db, buyer.ID, balances{"1", "0", "0", "0"})
	assertBalances(t, db, seller.ID, balances{"0", "0", "2", "0"})
}

func TestLedger_Release(t *testing.T) {
	tests := []struct {
		name    string
		side    models.Side
		reserve string
		release string
		price   string
		want    balances
	}{
		{name: "Buy", side: models.Buy, reserve: "0.3", release: "0.3", price: "33.33", want: balances{"1", "0", "1000", "0"}},
		{name: "BuyPart", side: models.Buy, reserve: "2", release: "0.5", price: "100", want: balances{"1", "0", "850", "150"}},
		{name: "Sell", side: models.Sell, reserve: "0.75", release: "0.25", price: "100", want: balances{"0.5", "0.5", "1000", "0"}},
		{name: "ClampedToOnHold", side: models.Sell, reserve: "0.5", release: "2", price: "100", want: balances{"1", "0", "1000", "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := litedbtest.Open(t)
			u := litedbtest.User(t, db, "alice", "1", "1000")
			l := New(logger.Nop())
			ctx := context.Background()

			require.NoError(t, inTx(t, db, func(tx store.Tx) error {
				_, err := l.Reserve(ctx, tx, u.ID, tt.side, dec(tt.reserve), dec(tt.price))
				return err
			}))
			require.NoError(t, inTx(t, db, func(tx store.Tx) error {
				_, err := l.Release(ctx, tx, u.ID, tt.side, dec(tt.release), dec(tt.price))
				return err
			}))
			assertBalances(t, db, u.ID, tt.want)
		})
	}
}

// Concurrent reservations against one balance never reserve more than it
// held, and every successful one is on hold
func TestLedger_ConcurrentReserve(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		side := rapid.SampledFrom([]models.Side{models.Buy, models.Sell}).Draw(rt, "side")
		price := decimal.New(rapid.Int64Range(100, 100_000).Draw(rt, "price"), -models.USDScale)
		amounts := make([]decimal.Decimal, rapid.IntRange(2, 8).Draw(rt, "workers"))
		for i := range amounts {
			amounts[i] = decimal.New(rapid.Int64Range(1, 500_000_000).Draw(rt, "amount"), -models.BTCScale)
		}

		db := litedbtest.Open(t)
		u := litedbtest.User(t, db, "alice", "10", "10000")
		l := New(logger.Nop())
		ctx := context.Background()

		errs := make([]error, len(amounts))
		var wg sync.WaitGroup
		for i := range amounts {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = db.InTx(ctx, func(tx store.Tx) error {
					_, err := l.Reserve(ctx, tx, u.ID, side, amounts[i], price)
					return err
				})
			}(i)
		}
		wg.Wait()

		currency, reserved := Required(side, decimal.Zero, price)
		for i, err := range errs {
			if apperror.Is(err, apperror.InsufficientBalance) {
				continue
			}
			require.NoError(rt, err)
			_, r := Required(side, amounts[i], price)
			reserved = reserved.Add(r)
		}

		start := dec("10")
		if currency == models.USD {
			start = dec("10000")
		}
		got, err := db.GetUser(ctx, u.ID)
		require.NoError(rt, err)
		available, onHold := got.Funds(currency)
		assert.False(rt, available.IsNegative())
		assert.True(rt, onHold.Equal(reserved), "on hold %s, reserved %s", onHold, reserved)
		assert.True(rt, available.Add(*onHold).Equal(start))
	})
}
