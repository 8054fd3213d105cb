package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/xtrntr/spotex/internal/models"
	"github.com/xtrntr/spotex/internal/store"
)

const orderColumns = `id, user_id, type, amount::text, price::text, status, filled::text,
	base_currency, quote_currency, created_at, updated_at`

func scanOrder(row scanner) (*models.Order, error) {
	o := &models.Order{}
	amount := numeric{dst: &o.Amount}
	price := numeric{dst: &o.Price}
	filled := numeric{dst: &o.Filled}
	if err := row.Scan(&o.ID, &o.UserID, &o.Side, &amount.raw, &price.raw, &o.Status, &filled.raw,
		&o.BaseCurrency, &o.QuoteCurrency, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	if err := parseAll(&amount, &price, &filled); err != nil {
		return nil, err
	}
	return o, nil
}

func (t *tx) InsertOrder(ctx context.Context, o *models.Order) error {
	err := t.q.QueryRow(ctx,
		`INSERT INTO orders (user_id, type, amount, price, status, filled, base_currency, quote_currency)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id, created_at, updated_at`,
		o.UserID, o.Side, o.Amount.String(), o.Price.String(), o.Status, o.Filled.String(),
		o.BaseCurrency, o.QuoteCurrency,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func (t *tx) GetOrder(ctx context.Context, id int) (*models.Order, error) {
	o, err := scanOrder(t.q.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id))
	if err != nil {
		return nil, notFound(err)
	}
	return o, nil
}

func (t *tx) LockOrder(ctx context.Context, id int) (*models.Order, error) {
	o, err := scanOrder(t.q.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		return nil, notFound(err)
	}
	return o, nil
}

func (t *tx) LockUserOrder(ctx context.Context, userID, orderID int) (*models.Order, error) {
	o, err := scanOrder(t.q.QueryRow(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1 AND user_id = $2 FOR UPDATE", orderID, userID))
	if err != nil {
		return nil, notFound(err)
	}
	return o, nil
}

func (t *tx) UpdateOrder(ctx context.Context, o *models.Order) error {
	err := t.q.QueryRow(ctx,
		"UPDATE orders SET status = $1, filled = $2, updated_at = NOW() WHERE id = $3 RETURNING updated_at",
		o.Status, o.Filled.String(), o.ID,
	).Scan(&o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update order %d: %w", o.ID, notFound(err))
	}
	return nil
}

// ListOrders retrieves orders matching f, newest first
func (db *DB) ListOrders(ctx context.Context, f store.OrderFilter) ([]models.Order, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != 0 {
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}

	query := "SELECT " + orderColumns + " FROM orders"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}
