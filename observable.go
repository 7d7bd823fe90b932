package bunny

import "sync"

// ============================================================================
// Observable value cell
// ============================================================================

// Observable is the read-only view of a Value handed to consumers.
type Observable[T any] interface {
	Get() T
	Subscribe(fn func(T)) (cancel func())
}

// Value holds a current value and notifies subscribers on every change.
//
// Subscribers are called synchronously, in registration order, on the
// goroutine that changed the value. A subscriber must not write to the
// cell it is subscribed to.
type Value[T any] struct {
	mu     sync.RWMutex
	v      T
	subs   map[uint64]func(T)
	order  []uint64
	nextID uint64

	// serializes change+notify so subscribers observe changes in order
	notifyMu sync.Mutex
}

// NewValue creates a cell holding initial.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{
		v:    initial,
		subs: make(map[uint64]func(T)),
	}
}

// Get returns the current value.
func (c *Value[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v
}

// Set replaces the value and notifies subscribers.
func (c *Value[T]) Set(v T) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	c.v = v
	handlers := c.snapshotLocked()
	c.mu.Unlock()

	for _, h := range handlers {
		h(v)
	}
}

// Update applies fn atomically. Subscribers are notified only when fn
// reports a change. It returns the resulting value.
func (c *Value[T]) Update(fn func(T) (T, bool)) T {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	next, changed := fn(c.v)
	if !changed {
		cur := c.v
		c.mu.Unlock()
		return cur
	}
	c.v = next
	handlers := c.snapshotLocked()
	c.mu.Unlock()

	for _, h := range handlers {
		h(next)
	}
	return next
}

// Subscribe registers fn and immediately calls it with the current value.
func (c *Value[T]) Subscribe(fn func(T)) (cancel func()) {
	c.notifyMu.Lock()
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.order = append(c.order, id)
	cur := c.v
	c.mu.Unlock()
	fn(cur)
	c.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs, id)
			for i, o := range c.order {
				if o == id {
					c.order = append(c.order[:i:i], c.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (c *Value[T]) snapshotLocked() []func(T) {
	handlers := make([]func(T), 0, len(c.order))
	for _, id := range c.order {
		handlers = append(handlers, c.subs[id])
	}
	return handlers
}

// ============================================================================
// One-shot signal
// ============================================================================

// Signal is an edge-triggered, single-slot notification. An emission that
// is not consumed before the next one is replaced by it.
type Signal[T any] struct {
	ch chan T
}

func newSignal[T any]() *Signal[T] {
	return &Signal[T]{ch: make(chan T, 1)}
}

// Emit publishes v without blocking.
func (s *Signal[T]) Emit(v T) {
	for {
		select {
		case s.ch <- v:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

// C returns the channel a consumer receives emissions from.
func (s *Signal[T]) C() <-chan T {
	return s.ch
}
