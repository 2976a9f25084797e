package agent

import (
	"context"
	"sync"
	"time"
)

// DefaultQueueCapacity bounds the EventsManager's internal buffer absent an
// explicit configuration. The Python source is effectively unbounded; this
// implementation chooses a generous bound and enforces backpressure on the
// producer side, per spec's recommended bounded-with-backpressure variant.
const DefaultQueueCapacity = 10000

// EventsManager is a bounded, in-memory FIFO of events built on a buffered
// channel. It implements the exact "wait-for-first-then-drain" semantics
// GetEvents requires, which a raw channel alone cannot express.
type EventsManager struct {
	mu       sync.RWMutex
	ch       chan Event
	capacity int

	closeOnce sync.Once
	closed    chan struct{}
}

// NewEventsManager builds an EventsManager with the given capacity. A
// non-positive capacity falls back to DefaultQueueCapacity.
func NewEventsManager(capacity int) *EventsManager {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &EventsManager{
		ch:       make(chan Event, capacity),
		capacity: capacity,
		closed:   make(chan struct{}),
	}
}

func (m *EventsManager) currentChan() chan Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ch
}

// WriteEvent enqueues e. It suspends only if the buffer is full, never
// indefinitely beyond ctx cancellation or Close.
func (m *EventsManager) WriteEvent(ctx context.Context, e Event) error {
	select {
	case m.currentChan() <- e:
		return nil
	case <-m.closed:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetEvent dequeues one event, suspending until one is available, ctx is
// done, or the manager is closed.
func (m *EventsManager) GetEvent(ctx context.Context) (Event, bool) {
	return m.getEventTimeout(ctx, 0)
}

func (m *EventsManager) getEventTimeout(ctx context.Context, timeout time.Duration) (Event, bool) {
	ch := m.currentChan()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case e, ok := <-ch:
		return e, ok
	case <-m.closed:
		return nil, false
	case <-ctx.Done():
		return nil, false
	case <-timeoutCh:
		return nil, false
	}
}

// GetEvents returns up to maxSize events per the spec's precise semantics:
// block for the first event up to timeout, then drain non-blockingly
// without ever waiting again.
func (m *EventsManager) GetEvents(ctx context.Context, maxSize int, timeout time.Duration) []Event {
	if maxSize < 1 {
		return nil
	}

	first, ok := m.getEventTimeout(ctx, timeout)
	if !ok {
		return nil
	}

	batch := make([]Event, 0, maxSize)
	batch = append(batch, first)

	ch := m.currentChan()
	for len(batch) < maxSize {
		select {
		case e, ok := <-ch:
			if !ok {
				return batch
			}
			batch = append(batch, e)
		default:
			return batch
		}
	}
	return batch
}

// IsEmpty is a snapshot probe of whether the queue currently has no events.
func (m *EventsManager) IsEmpty() bool {
	return len(m.currentChan()) == 0
}

// Clean drops all pending events, used by the supervisor on restart to
// avoid forwarding a stale backlog.
func (m *EventsManager) Clean() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ch = make(chan Event, m.capacity)
}

// Close puts the manager into its terminal state: any blocked GetEvent or
// GetEvents call returns immediately instead of hanging forever, resolving
// the open question the Python source leaves undefined.
func (m *EventsManager) Close() {
	m.closeOnce.Do(func() {
		close(m.closed)
	})
}
