// Package exchange runs matching passes: it pairs an unresolved taker leg
// with the oldest eligible resting leg, settles the trade and spawns legs
// for any remainder, all in one transaction
package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/spotex/internal/apperror"
	"github.com/xtrntr/spotex/internal/ledger"
	"github.com/xtrntr/spotex/internal/logger"
	"github.com/xtrntr/spotex/internal/matches"
	"github.com/xtrntr/spotex/internal/metrics"
	"github.com/xtrntr/spotex/internal/models"
	"github.com/xtrntr/spotex/internal/notify"
	"github.com/xtrntr/spotex/internal/queue"
	"github.com/xtrntr/spotex/internal/store"
)

// Engine resolves match records one at a time
type Engine struct {
	db      store.Store
	ledger  *ledger.Ledger
	matches *matches.Store
	sink    notify.Sink
	fees    Fees
	metrics *metrics.Metrics
	log     logger.Interface
}

// NewEngine wires the engine. m may be nil
func NewEngine(db store.Store, l *ledger.Ledger, ms *matches.Store, sink notify.Sink, fees Fees, m *metrics.Metrics, log logger.Interface) *Engine {
	return &Engine{db: db, ledger: l, matches: ms, sink: sink, fees: fees, metrics: m, log: log}
}

// Result describes the outcome of one pass. Traded is false when the pass
// was a no-op or found no counterparty
type Result struct {
	Traded         bool
	Amount         decimal.Decimal
	Price          decimal.Decimal
	TakerLeg       models.Match
	MakerLeg       models.Match
	TakerOrder     models.Order
	MakerOrder     models.Order
	TakerRemainder *models.Match
	MakerRemainder *models.Match
}

// Handler adapts Resolve to a queue consumer
func (e *Engine) Handler() queue.Handler {
	return func(ctx context.Context, matchID int) error {
		_, err := e.Resolve(ctx, matchID)
		return err
	}
}

// Resolve runs one matching pass for the given taker leg. Resolving a
// missing or already resolved leg is a no-op, so redelivery is harmless.
// Any failure rolls the whole pass back and is returned as SettlementFailed
func (e *Engine) Resolve(ctx context.Context, matchID int) (*Result, error) {
	var (
		res   *Result
		users map[int]*models.User
	)
	err := e.db.InTx(ctx, func(tx store.Tx) error {
		users = map[int]*models.User{}
		r, err := e.resolve(ctx, tx, matchID, users)
		res = r
		return err
	})
	if err != nil {
		e.metrics.SettlementFailed()
		e.log.ErrorContext(ctx, err, logger.NewField("action", "resolve_match"), logger.NewField("match_id", matchID))
		if apperror.Is(err, apperror.SettlementFailed) {
			return nil, err
		}
		return nil, apperror.Wrap(apperror.SettlementFailed, fmt.Sprintf("settlement of match record %d failed", matchID), err)
	}

	if !res.Traded {
		e.metrics.MatchPassEmpty()
		return res, nil
	}
	e.metrics.MatchResolved(res.Amount.InexactFloat64())
	e.log.InfoContext(ctx, "match resolved",
		logger.NewField("match_id", matchID),
		logger.NewField("taker_order_id", res.TakerOrder.ID),
		logger.NewField("maker_order_id", res.MakerOrder.ID),
		logger.NewField("amount", res.Amount.String()),
		logger.NewField("price", res.Price.String()))
	return res, nil
}

func (e *Engine) resolve(ctx context.Context, tx store.Tx, matchID int, users map[int]*models.User) (*Result, error) {
	if err := tx.LockMatching(ctx); err != nil {
		return nil, err
	}

	takerLeg, err := tx.LockMatch(ctx, matchID)
	if errors.Is(err, store.ErrNotFound) {
		e.log.DebugContext(ctx, "match record gone, skipping", logger.NewField("match_id", matchID))
		return &Result{}, nil
	}
	if err != nil {
		return nil, err
	}
	if takerLeg.Resolved() {
		e.log.DebugContext(ctx, "match record already resolved, skipping", logger.NewField("match_id", matchID))
		return &Result{}, nil
	}

	takerOrder, err := tx.LockOrder(ctx, takerLeg.OrderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperror.New(apperror.OrderNotFound, fmt.Sprintf("order %d of match record %d not found", takerLeg.OrderID, matchID))
		}
		return nil, err
	}
	if takerOrder.IsTerminal() {
		return nil, apperror.New(apperror.Internal, fmt.Sprintf("match record %d belongs to %s order %d", matchID, takerOrder.Status, takerOrder.ID))
	}

	candidates, err := tx.LockCandidates(ctx, takerOrder.Side.Opposite())
	if err != nil {
		return nil, err
	}
	maker := SelectMaker(*takerLeg, *takerOrder, candidates)
	if maker == nil {
		return &Result{}, nil
	}
	makerLeg, makerOrder := maker.Match, maker.Order

	amount := decimal.Min(takerLeg.Amount, makerLeg.Amount, takerOrder.Remaining(), makerOrder.Remaining())
	if !amount.IsPositive() {
		return &Result{}, nil
	}
	price := makerOrder.Price
	fees := e.fees.Compute(takerOrder.Side, amount, takerOrder.Price)

	buyOrder := takerOrder
	if takerOrder.Side == models.Sell {
		buyOrder = &makerOrder
	}
	reserved := buyerReserved(buyOrder, amount)

	taker, mk, err := e.ledger.Settle(ctx, tx, ledger.Settlement{
		TakerID:       takerOrder.UserID,
		MakerID:       makerOrder.UserID,
		Side:          takerOrder.Side,
		Amount:        amount,
		Price:         price,
		BuyerReserved: reserved,
	})
	if err != nil {
		return nil, err
	}
	users[taker.ID], users[mk.ID] = taker, mk

	if err := takerOrder.ApplyFill(amount); err != nil {
		return nil, err
	}
	if err := makerOrder.ApplyFill(amount); err != nil {
		return nil, err
	}
	if err := tx.UpdateOrder(ctx, takerOrder); err != nil {
		return nil, err
	}
	if err := tx.UpdateOrder(ctx, &makerOrder); err != nil {
		return nil, err
	}

	makerOwner := makerOrder.UserID
	takerLeg.CounterOrderID = intPtr(makerOrder.ID)
	takerLeg.MakerID = intPtr(makerOwner)
	takerLeg.Amount, takerLeg.Price = amount, price
	takerLeg.TakerFee = decPtr(fees.Taker)
	if err := tx.UpdateMatch(ctx, takerLeg); err != nil {
		return nil, err
	}
	makerLeg.CounterOrderID = intPtr(takerOrder.ID)
	makerLeg.MakerID = intPtr(makerOwner)
	makerLeg.Amount, makerLeg.Price = amount, price
	makerLeg.MakerFee = decPtr(fees.Maker)
	if err := tx.UpdateMatch(ctx, &makerLeg); err != nil {
		return nil, err
	}

	res := &Result{
		Traded:     true,
		Amount:     amount,
		Price:      price,
		TakerLeg:   *takerLeg,
		MakerLeg:   makerLeg,
		TakerOrder: *takerOrder,
		MakerOrder: makerOrder,
	}
	if res.TakerRemainder, err = e.carryRemainder(ctx, tx, takerOrder, true, users); err != nil {
		return nil, err
	}
	if res.MakerRemainder, err = e.carryRemainder(ctx, tx, &makerOrder, false, users); err != nil {
		return nil, err
	}

	tx.AfterCommit(func() {
		e.sink.NotifyMatched(res.TakerOrder.UserID, res.TakerLeg)
		e.sink.NotifyMatched(res.MakerOrder.UserID, res.MakerLeg)
		for _, u := range users {
			notify.NotifyBalances(e.sink, u)
		}
	})
	return res, nil
}

// buyerReserved is the part of a BUY order's USD reservation that a fill of
// amount consumes. Reservations are QuoteValue(amount, limit) and are consumed
// cumulatively, so the parts of successive fills always add up to the
// original reservation
func buyerReserved(buy *models.Order, amount decimal.Decimal) decimal.Decimal {
	before := models.QuoteValue(buy.Filled, buy.Price)
	after := models.QuoteValue(buy.Filled.Add(amount), buy.Price)
	return after.Sub(before)
}

// carryRemainder opens a new unresolved leg for an order that still has
// quantity left. A taker remainder is queued to look for another
// counterparty; a maker remainder rests. A completed order gives back any
// reservation left over by a dust remainder
func (e *Engine) carryRemainder(ctx context.Context, tx store.Tx, o *models.Order, taker bool, users map[int]*models.User) (*models.Match, error) {
	if o.Status == models.Completed {
		currency, held := o.Held()
		if !held.IsPositive() {
			return nil, nil
		}
		u, err := e.ledger.ReleaseFunds(ctx, tx, o.UserID, currency, held)
		if err != nil {
			return nil, err
		}
		users[u.ID] = u
		return nil, nil
	}
	return e.matches.CreateUnresolved(ctx, tx, o.ID, o.UserID, o.Remaining(), o.Price, taker)
}

// Eligible reports whether candidate may trade against the taker leg: a
// different order of a different owner on the opposite side, with mirrored
// currency legs and a limit price that crosses the taker's
func Eligible(takerLeg models.Match, takerOrder models.Order, c models.MatchCandidate) bool {
	switch {
	case c.Match.Resolved():
		return false
	case c.Match.OrderID == takerLeg.OrderID:
		return false
	case c.Match.TakerID == takerLeg.TakerID || c.Order.UserID == takerOrder.UserID:
		return false
	case c.Order.IsTerminal():
		return false
	case c.Order.Side != takerOrder.Side.Opposite():
		return false
	case c.Order.BaseCurrency != takerOrder.QuoteCurrency || c.Order.QuoteCurrency != takerOrder.BaseCurrency:
		return false
	}
	if takerOrder.Side == models.Buy {
		return c.Order.Price.LessThanOrEqual(takerOrder.Price)
	}
	return c.Order.Price.GreaterThanOrEqual(takerOrder.Price)
}

// SelectMaker returns the eligible candidate created first, ties broken by
// lower id, or nil when none is eligible. Price only filters
func SelectMaker(takerLeg models.Match, takerOrder models.Order, candidates []models.MatchCandidate) *models.MatchCandidate {
	var best *models.MatchCandidate
	for i := range candidates {
		c := &candidates[i]
		if !Eligible(takerLeg, takerOrder, *c) {
			continue
		}
		if best == nil || earlier(c.Match, best.Match) {
			best = c
		}
	}
	if best == nil {
		return nil
	}
	out := *best
	return &out
}

func earlier(a, b models.Match) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func intPtr(v int) *int { return &v }

func decPtr(d decimal.Decimal) *decimal.Decimal { return &d }
