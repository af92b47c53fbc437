package realtime

import (
	"sync"

	"github.com/google/uuid"
)

const defaultBuffer = 64

// Subscription delivers the events of one room until Close.
type Subscription struct {
	ID     uuid.UUID
	RoomID string

	events  chan Event
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	once    sync.Once
	onClose func()
}

// NewSubscription is used by transports. onClose runs once, before the
// events channel is closed.
func NewSubscription(roomID string, buffer int, onClose func()) *Subscription {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Subscription{
		ID:      uuid.New(),
		RoomID:  roomID,
		events:  make(chan Event, buffer),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

func (s *Subscription) Events() <-chan Event { return s.events }

func (s *Subscription) Done() <-chan struct{} { return s.done }

// Send blocks until the event is queued or the subscription closes.
func (s *Subscription) Send(ev Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// Offer queues the event without blocking; false means dropped.
func (s *Subscription) Offer(ev Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

// Close stops delivery and closes Events. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		if s.onClose != nil {
			s.onClose()
		}
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	})
}
