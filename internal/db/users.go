package db

import (
	"context"
	"fmt"

	"github.com/xtrntr/spotex/internal/models"
	"github.com/xtrntr/spotex/internal/store"
)

const userColumns = `id, username, password_hash,
	btc_available::text, btc_on_hold::text, usd_available::text, usd_on_hold::text,
	created_at, updated_at`

func scanUser(row scanner) (*models.User, error) {
	u := &models.User{}
	btcA := numeric{dst: &u.BTCAvailable}
	btcH := numeric{dst: &u.BTCOnHold}
	usdA := numeric{dst: &u.USDAvailable}
	usdH := numeric{dst: &u.USDOnHold}
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash,
		&btcA.raw, &btcH.raw, &usdA.raw, &usdH.raw,
		&u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	if err := parseAll(&btcA, &btcH, &usdA, &usdH); err != nil {
		return nil, err
	}
	return u, nil
}

// CreateUser inserts a new user with its starting balances
func (db *DB) CreateUser(ctx context.Context, u *models.User) error {
	err := db.Pool.QueryRow(ctx,
		`INSERT INTO users (username, password_hash, btc_available, btc_on_hold, usd_available, usd_on_hold)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at, updated_at`,
		u.Username, u.PasswordHash,
		u.BTCAvailable.String(), u.BTCOnHold.String(), u.USDAvailable.String(), u.USDOnHold.String(),
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by id
func (db *DB) GetUser(ctx context.Context, id int) (*models.User, error) {
	u, err := scanUser(db.Pool.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id))
	if err != nil {
		return nil, notFound(err)
	}
	return u, nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	u, err := scanUser(db.Pool.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE username = $1", username))
	if err != nil {
		return nil, notFound(err)
	}
	return u, nil
}

func (t *tx) LockUser(ctx context.Context, id int) (*models.User, error) {
	u, err := scanUser(t.q.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		return nil, notFound(err)
	}
	return u, nil
}

func (t *tx) SaveUser(ctx context.Context, u *models.User) error {
	err := t.q.QueryRow(ctx,
		`UPDATE users SET btc_available = $1, btc_on_hold = $2, usd_available = $3, usd_on_hold = $4, updated_at = NOW()
		 WHERE id = $5 RETURNING updated_at`,
		u.BTCAvailable.String(), u.BTCOnHold.String(), u.USDAvailable.String(), u.USDOnHold.String(), u.ID,
	).Scan(&u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save user %d: %w", u.ID, notFound(err))
	}
	return nil
}
