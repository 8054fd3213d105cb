// Package queuetest provides a Publisher mock that records ids for assertions
package queuetest

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
	"github.com/xtrntr/spotex/internal/queue"
)

// Recorder is a concurrency-safe queue.Publisher built on testify's mock.
// Successful publishes are also kept in order for Take and IDs
type Recorder struct {
	mock.Mock

	mu  sync.Mutex
	ids []int
}

var _ queue.Publisher = (*Recorder)(nil)

// NewRecorder returns a Recorder that accepts every publish
func NewRecorder() *Recorder {
	r := &Recorder{}
	r.On("PublishMatchCreated", mock.Anything, mock.Anything).Return(nil)
	return r
}

// Failing returns a Recorder whose publishes all fail with err
func Failing(err error) *Recorder {
	r := &Recorder{}
	r.On("PublishMatchCreated", mock.Anything, mock.Anything).Return(err)
	return r
}

func (r *Recorder) PublishMatchCreated(ctx context.Context, matchID int) error {
	if err := r.Called(ctx, matchID).Error(0); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, matchID)
	return nil
}

// IDs returns the published ids in order
func (r *Recorder) IDs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.ids...)
}

// Take returns the published ids and forgets them
func (r *Recorder) Take() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.ids
	r.ids = nil
	return ids
}
