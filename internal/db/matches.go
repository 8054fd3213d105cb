package db

import (
	"context"
	"fmt"
	"time"

	"github.com/xtrntr/spotex/internal/models"
	"github.com/xtrntr/spotex/internal/store"
)

const matchColumns = `m.id, m.order_id, m.counter_order_id, m.taker_id, m.maker_id,
	m.amount::text, m.price::text, m.taker_fee::text, m.maker_fee::text, m.created_at, m.updated_at`

const joinedOrderColumns = `o.id, o.user_id, o.type, o.amount::text, o.price::text, o.status, o.filled::text,
	o.base_currency, o.quote_currency, o.created_at, o.updated_at`

type matchRow struct {
	m        models.Match
	amount   numeric
	price    numeric
	takerFee nullNumeric
	makerFee nullNumeric
}

func newMatchRow() *matchRow {
	r := &matchRow{}
	r.amount.dst = &r.m.Amount
	r.price.dst = &r.m.Price
	r.takerFee = nullNumeric{dst: &r.m.TakerFee}
	r.makerFee = nullNumeric{dst: &r.m.MakerFee}
	return r
}

func (r *matchRow) dest() []any {
	return []any{&r.m.ID, &r.m.OrderID, &r.m.CounterOrderID, &r.m.TakerID, &r.m.MakerID,
		&r.amount.raw, &r.price.raw, &r.takerFee.raw, &r.makerFee.raw, &r.m.CreatedAt, &r.m.UpdatedAt}
}

func (r *matchRow) finish() (*models.Match, error) {
	if err := parseAll(&r.amount, &r.price, &r.takerFee, &r.makerFee); err != nil {
		return nil, err
	}
	return &r.m, nil
}

func scanMatch(row scanner) (*models.Match, error) {
	r := newMatchRow()
	if err := row.Scan(r.dest()...); err != nil {
		return nil, err
	}
	return r.finish()
}

func (t *tx) InsertMatch(ctx context.Context, m *models.Match) error {
	err := t.q.QueryRow(ctx,
		`INSERT INTO match_records (order_id, counter_order_id, taker_id, maker_id, amount, price, taker_fee, maker_fee)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id, created_at, updated_at`,
		m.OrderID, m.CounterOrderID, m.TakerID, m.MakerID, m.Amount.String(), m.Price.String(),
		nullString(m.TakerFee), nullString(m.MakerFee),
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to create match record: order %d already has an unresolved leg: %w", m.OrderID, store.ErrDuplicate)
		}
		return fmt.Errorf("failed to create match record: %w", err)
	}
	return nil
}

func (t *tx) LockMatch(ctx context.Context, id int) (*models.Match, error) {
	m, err := scanMatch(t.q.QueryRow(ctx,
		"SELECT "+matchColumns+" FROM match_records m WHERE m.id = $1 FOR UPDATE", id))
	if err != nil {
		return nil, notFound(err)
	}
	return m, nil
}

func (t *tx) LockCandidates(ctx context.Context, side models.Side) ([]models.MatchCandidate, error) {
	rows, err := t.q.Query(ctx,
		`SELECT `+matchColumns+`, `+joinedOrderColumns+`
		 FROM match_records m JOIN orders o ON o.id = m.order_id
		 WHERE m.counter_order_id IS NULL AND o.type = $1 AND o.status IN ('ACTIVE', 'PARTIALLY_FILLED')
		 ORDER BY m.created_at, m.id
		 FOR UPDATE OF m, o`, side)
	if err != nil {
		return nil, fmt.Errorf("failed to lock candidates: %w", err)
	}
	defer rows.Close()

	var out []models.MatchCandidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanCandidate(row scanner) (*models.MatchCandidate, error) {
	r := newMatchRow()
	o := models.Order{}
	amount := numeric{dst: &o.Amount}
	price := numeric{dst: &o.Price}
	filled := numeric{dst: &o.Filled}
	dest := append(r.dest(), &o.ID, &o.UserID, &o.Side, &amount.raw, &price.raw, &o.Status, &filled.raw,
		&o.BaseCurrency, &o.QuoteCurrency, &o.CreatedAt, &o.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	m, err := r.finish()
	if err != nil {
		return nil, err
	}
	if err := parseAll(&amount, &price, &filled); err != nil {
		return nil, err
	}
	return &models.MatchCandidate{Match: *m, Order: o}, nil
}

func (t *tx) LockUnresolved(ctx context.Context, orderID int) ([]models.Match, error) {
	rows, err := t.q.Query(ctx,
		"SELECT "+matchColumns+" FROM match_records m WHERE m.order_id = $1 AND m.counter_order_id IS NULL ORDER BY m.id FOR UPDATE",
		orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock match records: %w", err)
	}
	defer rows.Close()

	var out []models.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match record: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (t *tx) UpdateMatch(ctx context.Context, m *models.Match) error {
	err := t.q.QueryRow(ctx,
		`UPDATE match_records SET counter_order_id = $1, maker_id = $2, amount = $3, price = $4,
		 taker_fee = $5, maker_fee = $6, updated_at = NOW() WHERE id = $7 RETURNING updated_at`,
		m.CounterOrderID, m.MakerID, m.Amount.String(), m.Price.String(),
		nullString(m.TakerFee), nullString(m.MakerFee), m.ID,
	).Scan(&m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update match record %d: %w", m.ID, notFound(err))
	}
	return nil
}

func (t *tx) DeleteUnresolved(ctx context.Context, orderID int) (int, error) {
	tag, err := t.q.Exec(ctx, "DELETE FROM match_records WHERE order_id = $1 AND counter_order_id IS NULL", orderID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete match records: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListMatches retrieves the latest match records, newest first
func (db *DB) ListMatches(ctx context.Context, limit int) ([]models.Match, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT "+matchColumns+" FROM match_records m ORDER BY m.created_at DESC, m.id DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get match records: %w", err)
	}
	defer rows.Close()

	var out []models.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match record: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// ListBook retrieves unresolved legs of open orders with their owners
func (db *DB) ListBook(ctx context.Context) ([]models.BookEntry, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT m.id, o.id, o.type, m.price::text, m.amount::text, o.amount::text, o.status, u.username, m.created_at
		 FROM match_records m
		 JOIN orders o ON o.id = m.order_id
		 JOIN users u ON u.id = o.user_id
		 WHERE m.counter_order_id IS NULL AND o.status IN ('ACTIVE', 'PARTIALLY_FILLED')
		 ORDER BY m.created_at, m.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	defer rows.Close()

	var out []models.BookEntry
	for rows.Next() {
		var e models.BookEntry
		price := numeric{dst: &e.Price}
		amount := numeric{dst: &e.Amount}
		orderAmount := numeric{dst: &e.OrderAmount}
		if err := rows.Scan(&e.MatchID, &e.OrderID, &e.Side, &price.raw, &amount.raw, &orderAmount.raw,
			&e.OrderStatus, &e.Username, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan book entry: %w", err)
		}
		if err := parseAll(&price, &amount, &orderAmount); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListTrades retrieves executions since the given time, newest first. Each
// execution is counted once through its taker leg
func (db *DB) ListTrades(ctx context.Context, since time.Time, limit int) ([]models.Trade, error) {
	query := `SELECT m.price::text, m.amount::text, o.type, m.updated_at
		 FROM match_records m JOIN orders o ON o.id = m.order_id
		 WHERE m.counter_order_id IS NOT NULL AND m.taker_fee IS NOT NULL AND m.updated_at >= $1
		 ORDER BY m.updated_at DESC, m.id DESC`
	args := []any{since}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get trades: %w", err)
	}
	defer rows.Close()

	var out []models.Trade
	for rows.Next() {
		var tr models.Trade
		price := numeric{dst: &tr.Price}
		amount := numeric{dst: &tr.Amount}
		if err := rows.Scan(&price.raw, &amount.raw, &tr.Side, &tr.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		if err := parseAll(&price, &amount); err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// ListStale retrieves ids after afterID of unresolved legs created before the given time
func (db *DB) ListStale(ctx context.Context, before time.Time, afterID, limit int) ([]int, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id FROM match_records WHERE counter_order_id IS NULL AND created_at < $1 AND id > $2
		 ORDER BY id LIMIT $3`, before, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get stale match records: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan match record id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
