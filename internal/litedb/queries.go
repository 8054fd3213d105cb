package litedb

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/xtrntr/spotex/internal/models"
	"github.com/xtrntr/spotex/internal/store"
)

func (s *DB) CreateUser(ctx context.Context, u *models.User) error {
	r := userRow{
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		BTCAvailable: u.BTCAvailable,
		BTCOnHold:    u.BTCOnHold,
		USDAvailable: u.USDAvailable,
		USDOnHold:    u.USDOnHold,
	}
	if err := s.db.WithContext(ctx).Create(&r).Error; err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	u.ID, u.CreatedAt, u.UpdatedAt = r.ID, r.CreatedAt, r.UpdatedAt
	return nil
}

func (s *DB) GetUser(ctx context.Context, id int) (*models.User, error) {
	var r userRow
	if err := s.db.WithContext(ctx).First(&r, id).Error; err != nil {
		return nil, notFound(err)
	}
	return toUser(r), nil
}

func (s *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var r userRow
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&r).Error; err != nil {
		return nil, notFound(err)
	}
	return toUser(r), nil
}

func (s *DB) ListOrders(ctx context.Context, f store.OrderFilter) ([]models.Order, error) {
	q := s.db.WithContext(ctx).Model(&orderRow{})
	if f.UserID != 0 {
		q = q.Where("user_id = ?", f.UserID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		q = q.Where("status IN ?", statuses)
	}
	q = q.Order("id DESC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	var rows []orderRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to get orders: %w", err)
	}
	out := make([]models.Order, len(rows))
	for i, r := range rows {
		out[i] = toOrder(r)
	}
	return out, nil
}

func (s *DB) ListMatches(ctx context.Context, limit int) ([]models.Match, error) {
	var rows []matchRow
	if err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to get match records: %w", err)
	}
	out := make([]models.Match, len(rows))
	for i, r := range rows {
		out[i] = toMatch(r)
	}
	return out, nil
}

func (s *DB) ListBook(ctx context.Context) ([]models.BookEntry, error) {
	var legs []matchRow
	if err := s.db.WithContext(ctx).Where("counter_order_id IS NULL").Order("id").Find(&legs).Error; err != nil {
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	if len(legs) == 0 {
		return nil, nil
	}

	orderIDs := make([]int, len(legs))
	for i, l := range legs {
		orderIDs[i] = l.OrderID
	}
	var orders []orderRow
	if err := s.db.WithContext(ctx).Where("id IN ?", orderIDs).Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to get book orders: %w", err)
	}
	byID := make(map[int]orderRow, len(orders))
	userIDs := make([]int, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		userIDs = append(userIDs, o.UserID)
	}
	var users []userRow
	if err := s.db.WithContext(ctx).Where("id IN ?", userIDs).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to get book owners: %w", err)
	}
	names := make(map[int]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Username
	}

	var out []models.BookEntry
	for _, l := range legs {
		o, ok := byID[l.OrderID]
		if !ok {
			continue
		}
		status := models.OrderStatus(o.Status)
		if status != models.Active && status != models.PartiallyFilled {
			continue
		}
		out = append(out, models.BookEntry{
			MatchID:     l.ID,
			OrderID:     o.ID,
			Side:        models.Side(o.Type),
			Price:       l.Price,
			Amount:      l.Amount,
			OrderAmount: o.Amount,
			OrderStatus: status,
			Username:    names[o.UserID],
			CreatedAt:   l.CreatedAt,
		})
	}
	return out, nil
}

func (s *DB) ListTrades(ctx context.Context, since time.Time, limit int) ([]models.Trade, error) {
	q := s.db.WithContext(ctx).
		Where("counter_order_id IS NOT NULL AND taker_fee IS NOT NULL AND updated_at >= ?", since).
		Order("updated_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var legs []matchRow
	if err := q.Find(&legs).Error; err != nil {
		return nil, fmt.Errorf("failed to get trades: %w", err)
	}

	sides := make(map[int]models.Side)
	if len(legs) > 0 {
		ids := make([]int, len(legs))
		for i, l := range legs {
			ids[i] = l.OrderID
		}
		var orders []orderRow
		if err := s.db.WithContext(ctx).Select("id", "type").Where("id IN ?", ids).Find(&orders).Error; err != nil {
			return nil, fmt.Errorf("failed to get trade orders: %w", err)
		}
		for _, o := range orders {
			sides[o.ID] = models.Side(o.Type)
		}
	}

	out := make([]models.Trade, len(legs))
	for i, l := range legs {
		out[i] = models.Trade{Price: l.Price, Amount: l.Amount, Side: sides[l.OrderID], ExecutedAt: l.UpdatedAt}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExecutedAt.After(out[j].ExecutedAt) })
	return out, nil
}

func (s *DB) ListStale(ctx context.Context, before time.Time, afterID, limit int) ([]int, error) {
	var ids []int
	err := s.db.WithContext(ctx).Model(&matchRow{}).
		Where("counter_order_id IS NULL AND created_at < ? AND id > ?", before, afterID).
		Order("id").Limit(limit).Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get stale match records: %w", err)
	}
	return ids, nil
}

func (t *tx) LockUser(ctx context.Context, id int) (*models.User, error) {
	var r userRow
	if err := t.db.WithContext(ctx).First(&r, id).Error; err != nil {
		return nil, notFound(err)
	}
	return toUser(r), nil
}

func (t *tx) SaveUser(ctx context.Context, u *models.User) error {
	now := time.Now()
	res := t.db.WithContext(ctx).Model(&userRow{}).Where("id = ?", u.ID).Updates(map[string]any{
		"btc_available": u.BTCAvailable,
		"btc_on_hold":   u.BTCOnHold,
		"usd_available": u.USDAvailable,
		"usd_on_hold":   u.USDOnHold,
		"updated_at":    now,
	})
	if res.Error != nil {
		return fmt.Errorf("failed to save user %d: %w", u.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("failed to save user %d: %w", u.ID, store.ErrNotFound)
	}
	u.UpdatedAt = now
	return nil
}

func (t *tx) InsertOrder(ctx context.Context, o *models.Order) error {
	r := fromOrder(o)
	if err := t.db.WithContext(ctx).Create(&r).Error; err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	o.ID, o.CreatedAt, o.UpdatedAt = r.ID, r.CreatedAt, r.UpdatedAt
	return nil
}

func (t *tx) GetOrder(ctx context.Context, id int) (*models.Order, error) {
	var r orderRow
	if err := t.db.WithContext(ctx).First(&r, id).Error; err != nil {
		return nil, notFound(err)
	}
	o := toOrder(r)
	return &o, nil
}

func (t *tx) LockOrder(ctx context.Context, id int) (*models.Order, error) {
	return t.GetOrder(ctx, id)
}

func (t *tx) LockUserOrder(ctx context.Context, userID, orderID int) (*models.Order, error) {
	var r orderRow
	if err := t.db.WithContext(ctx).Where("id = ? AND user_id = ?", orderID, userID).First(&r).Error; err != nil {
		return nil, notFound(err)
	}
	o := toOrder(r)
	return &o, nil
}

func (t *tx) UpdateOrder(ctx context.Context, o *models.Order) error {
	now := time.Now()
	res := t.db.WithContext(ctx).Model(&orderRow{}).Where("id = ?", o.ID).Updates(map[string]any{
		"status":     string(o.Status),
		"filled":     o.Filled,
		"updated_at": now,
	})
	if res.Error != nil {
		return fmt.Errorf("failed to update order %d: %w", o.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("failed to update order %d: %w", o.ID, store.ErrNotFound)
	}
	o.UpdatedAt = now
	return nil
}

func (t *tx) InsertMatch(ctx context.Context, m *models.Match) error {
	var existing int64
	if m.CounterOrderID == nil {
		err := t.db.WithContext(ctx).Model(&matchRow{}).
			Where("order_id = ? AND counter_order_id IS NULL", m.OrderID).Count(&existing).Error
		if err != nil {
			return fmt.Errorf("failed to check match records: %w", err)
		}
		if existing > 0 {
			return fmt.Errorf("failed to create match record: order %d already has an unresolved leg: %w", m.OrderID, store.ErrDuplicate)
		}
	}

	r := fromMatch(m)
	if err := t.db.WithContext(ctx).Create(&r).Error; err != nil {
		return fmt.Errorf("failed to create match record: %w", err)
	}
	m.ID, m.CreatedAt, m.UpdatedAt = r.ID, r.CreatedAt, r.UpdatedAt
	return nil
}

func (t *tx) LockMatch(ctx context.Context, id int) (*models.Match, error) {
	var r matchRow
	if err := t.db.WithContext(ctx).First(&r, id).Error; err != nil {
		return nil, notFound(err)
	}
	m := toMatch(r)
	return &m, nil
}

func (t *tx) LockCandidates(ctx context.Context, side models.Side) ([]models.MatchCandidate, error) {
	var orders []orderRow
	err := t.db.WithContext(ctx).
		Where("type = ? AND status IN ?", string(side), []string{string(models.Active), string(models.PartiallyFilled)}).
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to lock candidate orders: %w", err)
	}
	if len(orders) == 0 {
		return nil, nil
	}
	byID := make(map[int]orderRow, len(orders))
	ids := make([]int, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	var legs []matchRow
	err = t.db.WithContext(ctx).
		Where("counter_order_id IS NULL AND order_id IN ?", ids).
		Order("created_at, id").Find(&legs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to lock candidates: %w", err)
	}

	out := make([]models.MatchCandidate, 0, len(legs))
	for _, l := range legs {
		out = append(out, models.MatchCandidate{Match: toMatch(l), Order: toOrder(byID[l.OrderID])})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Match, out[j].Match
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return out, nil
}

func (t *tx) LockUnresolved(ctx context.Context, orderID int) ([]models.Match, error) {
	var rows []matchRow
	if err := t.db.WithContext(ctx).Where("order_id = ? AND counter_order_id IS NULL", orderID).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to lock match records: %w", err)
	}
	out := make([]models.Match, len(rows))
	for i, r := range rows {
		out[i] = toMatch(r)
	}
	return out, nil
}

func (t *tx) UpdateMatch(ctx context.Context, m *models.Match) error {
	r := fromMatch(m)
	r.UpdatedAt = time.Now()
	res := t.db.WithContext(ctx).Model(&matchRow{}).Where("id = ?", m.ID).Updates(map[string]any{
		"counter_order_id": r.CounterOrderID,
		"maker_id":         r.MakerID,
		"amount":           r.Amount,
		"price":            r.Price,
		"taker_fee":        r.TakerFee,
		"maker_fee":        r.MakerFee,
		"updated_at":       r.UpdatedAt,
	})
	if res.Error != nil {
		return fmt.Errorf("failed to update match record %d: %w", m.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("failed to update match record %d: %w", m.ID, store.ErrNotFound)
	}
	m.UpdatedAt = r.UpdatedAt
	return nil
}

func (t *tx) DeleteUnresolved(ctx context.Context, orderID int) (int, error) {
	res := t.db.WithContext(ctx).Where("order_id = ? AND counter_order_id IS NULL", orderID).Delete(&matchRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete match records: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}
