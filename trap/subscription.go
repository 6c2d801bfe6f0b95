package trap

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Subscription delivers records published after it was created.
type Subscription struct {
	id       string
	ch       chan Record
	listener *Listener
	once     sync.Once
	dropped  atomic.Int64
}

func newSubscription(l *Listener, buffer int) *Subscription {
	return &Subscription{
		id:       uuid.NewString(),
		ch:       make(chan Record, buffer),
		listener: l,
	}
}

// ID identifies the subscription in logs.
func (s *Subscription) ID() string {
	return s.id
}

// C returns the record channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan Record {
	return s.ch
}

// Dropped returns the number of records missed because the buffer was full.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Unsubscribe removes the subscription and closes its channel. It is safe to
// call more than once.
func (s *Subscription) Unsubscribe() {
	s.listener.unsubscribe(s)
}

func (s *Subscription) closeChannel() {
	s.once.Do(func() { close(s.ch) })
}
