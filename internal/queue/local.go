package queue

import (
	"context"
	"sync"

	"github.com/xtrntr/spotex/internal/apperror"
	"github.com/xtrntr/spotex/internal/logger"
	"github.com/xtrntr/spotex/internal/requestid"
)

// Local is an in-process queue backed by a buffered channel. Publishing
// never blocks: events that do not fit the buffer wait in an overflow list
// that consumers move into the channel as they take events. It loses pending
// events on restart; the Sweeper re-enqueues them
type Local struct {
	events chan int
	log    logger.Interface
	closed chan struct{}
	once   sync.Once

	mu       sync.Mutex
	overflow []int
}

var _ Publisher = (*Local)(nil)

// NewLocal creates a queue whose channel holds up to buffer events
func NewLocal(buffer int, log logger.Interface) *Local {
	if buffer <= 0 {
		buffer = 1
	}
	return &Local{
		events: make(chan int, buffer),
		log:    log,
		closed: make(chan struct{}),
	}
}

// PublishMatchCreated enqueues matchID. It is called from after-commit hooks
// running on worker goroutines, so it must not wait for a consumer
func (q *Local) PublishMatchCreated(ctx context.Context, matchID int) error {
	select {
	case <-q.closed:
		return apperror.New(apperror.Internal, "queue closed")
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.overflow) == 0 {
		select {
		case q.events <- matchID:
			return nil
		default:
		}
	}
	q.overflow = append(q.overflow, matchID)
	return nil
}

// refill moves overflowed events into the channel while it has room
func (q *Local) refill() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.overflow) > 0 {
		select {
		case q.events <- q.overflow[0]:
			q.overflow = q.overflow[1:]
		default:
			return
		}
	}
	q.overflow = nil
}

// Run starts workers goroutines that feed events to handle until ctx is
// cancelled or the queue is closed. Failed events go to deadLetter
func (q *Local) Run(ctx context.Context, workers int, handle Handler, deadLetter DeadLetterHandler) {
	if workers <= 0 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.closed:
					return
				case id := <-q.events:
					q.refill()
					msgCtx := requestid.With(ctx, "")
					if err := handle(msgCtx, id); err != nil {
						q.log.ErrorContext(msgCtx, err,
							logger.NewField("action", "handle_match_created"),
							logger.NewField("match_id", id))
						if deadLetter != nil {
							deadLetter(msgCtx, DeadLetter{MatchRecordID: id, Error: err.Error()})
						}
					}
				}
			}
		}()
	}
	wg.Wait()
}

// Drain processes pending events on the calling goroutine until the buffer
// is empty, returning the first handler error. Tests use it to run matching
// deterministically
func (q *Local) Drain(ctx context.Context, handle Handler) error {
	var first error
	for {
		select {
		case id := <-q.events:
			q.refill()
			if err := handle(ctx, id); err != nil && first == nil {
				first = err
			}
		default:
			return first
		}
	}
}

// Pending returns the number of events waiting for a consumer
func (q *Local) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events) + len(q.overflow)
}

// Close stops accepting events and stops the workers
func (q *Local) Close() {
	q.once.Do(func() { close(q.closed) })
}
