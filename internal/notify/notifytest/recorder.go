// Package notifytest provides a Sink mock that records events for assertions
package notifytest

import (
	"sync"

	"github.com/stretchr/testify/mock"
	"github.com/xtrntr/spotex/internal/models"
	"github.com/xtrntr/spotex/internal/notify"
)

// Event is one recorded notification
type Event struct {
	Name    string
	UserID  int
	Payload any
}

// Recorder is a concurrency-safe notify.Sink built on testify's mock. It also
// keeps every event in order for Named and Events
type Recorder struct {
	mock.Mock

	mu     sync.Mutex
	events []Event
}

var _ notify.Sink = (*Recorder)(nil)

// NewRecorder returns a Recorder that accepts every notification
func NewRecorder() *Recorder {
	r := &Recorder{}
	r.On("NotifyOrderCreated", mock.Anything, mock.Anything).Return()
	r.On("NotifyMatched", mock.Anything, mock.Anything).Return()
	r.On("NotifyOrderCancelled", mock.Anything, mock.Anything).Return()
	r.On("NotifyBalanceChanged", mock.Anything, mock.Anything, mock.Anything).Return()
	return r
}

func (r *Recorder) add(name string, userID int, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Name: name, UserID: userID, Payload: payload})
}

func (r *Recorder) NotifyOrderCreated(userID int, order models.Order) {
	r.Called(userID, order)
	r.add(notify.EventOrderCreated, userID, order)
}

func (r *Recorder) NotifyMatched(userID int, match models.Match) {
	r.Called(userID, match)
	r.add(notify.EventOrderMatched, userID, match)
}

func (r *Recorder) NotifyOrderCancelled(userID int, orderID int) {
	r.Called(userID, orderID)
	r.add(notify.EventOrderCancelled, userID, orderID)
}

func (r *Recorder) NotifyBalanceChanged(userID int, currency models.Currency, balance notify.Balance) {
	r.Called(userID, currency, balance)
	r.add(notify.EventBalanceUpdated, userID, balance)
}

// Events returns a copy of everything recorded so far
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Named returns recorded events with the given name
func (r *Recorder) Named(name string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Reset drops everything recorded so far, including the mock's call log
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
	r.Calls = nil
}
