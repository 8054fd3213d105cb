// Package store declares the transactional persistence contract shared by the
// Postgres and embedded SQLite backends
package store

import (
	"context"
	"errors"
	"time"

	"github.com/xtrntr/spotex/internal/models"
)

var (
	// ErrNotFound is returned when a requested row does not exist
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when an insert violates a unique constraint
	ErrDuplicate = errors.New("duplicate")
)

// Tx is a unit of work. Every Lock* method takes an exclusive row lock that is
// held until the transaction ends. Callers lock match records before orders
// and orders before users
type Tx interface {
	// LockMatching serialises matching passes against each other
	LockMatching(ctx context.Context) error

	LockUser(ctx context.Context, id int) (*models.User, error)
	SaveUser(ctx context.Context, u *models.User) error

	InsertOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, id int) (*models.Order, error)
	LockOrder(ctx context.Context, id int) (*models.Order, error)
	// LockUserOrder locks an order only if it belongs to userID
	LockUserOrder(ctx context.Context, userID, orderID int) (*models.Order, error)
	UpdateOrder(ctx context.Context, o *models.Order) error

	InsertMatch(ctx context.Context, m *models.Match) error
	LockMatch(ctx context.Context, id int) (*models.Match, error)
	// LockCandidates locks every unresolved leg whose order has the given side,
	// oldest first
	LockCandidates(ctx context.Context, side models.Side) ([]models.MatchCandidate, error)
	// LockUnresolved locks the unresolved legs of one order
	LockUnresolved(ctx context.Context, orderID int) ([]models.Match, error)
	UpdateMatch(ctx context.Context, m *models.Match) error
	// DeleteUnresolved removes the unresolved legs of one order and returns how many
	DeleteUnresolved(ctx context.Context, orderID int) (int, error)

	// AfterCommit registers fn to run once the transaction has committed.
	// Hooks never run for a rolled-back transaction
	AfterCommit(fn func())
}

// OrderFilter narrows ListOrders. Zero values mean "any"
type OrderFilter struct {
	UserID   int
	Statuses []models.OrderStatus
	Limit    int
	Offset   int
}

// Store opens transactions and serves read-only projections
type Store interface {
	// InTx runs fn in a transaction, committing if fn returns nil and rolling
	// back otherwise. After-commit hooks run in registration order
	InTx(ctx context.Context, fn func(tx Tx) error) error

	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id int) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)

	// ListOrders returns orders newest first
	ListOrders(ctx context.Context, f OrderFilter) ([]models.Order, error)
	// ListMatches returns the latest match records of any state, newest first
	ListMatches(ctx context.Context, limit int) ([]models.Match, error)
	// ListBook returns unresolved legs of open orders joined with order and owner
	ListBook(ctx context.Context) ([]models.BookEntry, error)
	// ListTrades returns executions (resolved taker legs) since the given time, newest first
	ListTrades(ctx context.Context, since time.Time, limit int) ([]models.Trade, error)
	// ListStale returns ids greater than afterID of unresolved legs created
	// before the given time, in id order
	ListStale(ctx context.Context, before time.Time, afterID, limit int) ([]int, error)

	Close()
}

// Hooks collects after-commit callbacks for a transaction implementation
type Hooks struct {
	fns []func()
}

// Add registers fn
func (h *Hooks) Add(fn func()) {
	h.fns = append(h.fns, fn)
}

// Run invokes the registered callbacks in order
func (h *Hooks) Run() {
	for _, fn := range h.fns {
		fn()
	}
}
