package queue

import (
	"context"
	"time"

	"github.com/xtrntr/spotex/internal/logger"
)

// StaleLister returns ids above afterID of unresolved match records created
// before a time, in id order
type StaleLister interface {
	ListStale(ctx context.Context, before time.Time, afterID, limit int) ([]int, error)
}

// Sweeper periodically re-publishes unresolved match records older than Age.
// It covers events lost between a commit and its publish, and resting legs
// that a later order could now cross. Re-publishing is safe because a
// matching pass on a resolved or missing record is a no-op.
//
// Each sweep continues after the last id of the previous one and wraps
// around once it reaches the end, so resting legs never starve newer ones.
// A Sweeper must not run SweepOnce concurrently
type Sweeper struct {
	Lister    StaleLister
	Publisher Publisher
	Every     time.Duration
	Age       time.Duration
	Batch     int
	Log       logger.Interface
	now       func() time.Time
	cursor    int
}

// Run sweeps every s.Every until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context) {
	if s.Every <= 0 {
		return
	}
	ticker := time.NewTicker(s.Every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.Log.ErrorContext(ctx, err, logger.NewField("action", "sweep"))
			}
		}
	}
}

// SweepOnce re-publishes one batch and returns how many ids were published
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	batch := s.Batch
	if batch <= 0 {
		batch = 100
	}

	ids, err := s.Lister.ListStale(ctx, now().Add(-s.Age), s.cursor, batch)
	if err != nil {
		return 0, err
	}
	if len(ids) < batch {
		s.cursor = 0
	} else {
		s.cursor = ids[len(ids)-1]
	}
	published := 0
	for _, id := range ids {
		if err := s.Publisher.PublishMatchCreated(ctx, id); err != nil {
			return published, err
		}
		published++
	}
	if published > 0 {
		s.Log.InfoContext(ctx, "re-published stale match records", logger.NewField("count", published))
	}
	return published, nil
}
