// Package litedbtest opens throwaway in-memory stores for tests
package litedbtest

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/spotex/internal/litedb"
	"github.com/xtrntr/spotex/internal/models"
)

// Open returns an empty, migrated store that is closed when t ends
func Open(t testing.TB) *litedb.DB {
	t.Helper()
	db, err := litedb.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

// User creates a user holding btc and usd, nothing on hold
func User(t testing.TB, db *litedb.DB, username, btc, usd string) *models.User {
	t.Helper()
	u := &models.User{
		Username:     username,
		PasswordHash: "x",
		BTCAvailable: decimal.RequireFromString(btc),
		BTCOnHold:    decimal.Zero,
		USDAvailable: decimal.RequireFromString(usd),
		USDOnHold:    decimal.Zero,
	}
	require.NoError(t, db.CreateUser(context.Background(), u))
	return u
}
