package courtside

import (
	"context"
	"sync"
)

// Status records whether session resolution has completed at least once
type Status int

const (
	StatusUninitialized Status = iota
	StatusLoading
	StatusResolved
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusLoading:
		return "loading"
	case StatusResolved:
		return "resolved"
	}
	return "unknown"
}

// SessionState is the single authoritative view of who is signed in.
// Values are immutable once published; every transition publishes a new one.
type SessionState struct {
	Identity *Identity
	Profile  *Profile
	Status   Status
}

// IsAuthenticated returns true if there is a signed-in identity
func (s *SessionState) IsAuthenticated() bool {
	return s != nil && s.Identity != nil
}

// IsLoading returns true until resolution has completed
func (s *SessionState) IsLoading() bool {
	return s == nil || s.Status != StatusResolved
}

// unauthenticated returns the signed-out baseline
func unauthenticated() *SessionState {
	return &SessionState{Status: StatusResolved}
}

// SessionCell holds the current SessionState and notifies observers on
// every write.  Writes replace the whole value; observers receive writes in
// the order they were made and must not write back to the cell.
type SessionCell struct {
	mu        sync.Mutex
	current   *SessionState
	observers map[int]func(*SessionState)
	nextID    int

	// held while observers run so deliveries never interleave
	deliverMu sync.Mutex
}

// NewSessionCell creates a cell in the uninitialized state
func NewSessionCell() *SessionCell {
	return &SessionCell{
		current:   &SessionState{Status: StatusUninitialized},
		observers: make(map[int]func(*SessionState)),
	}
}

// Get returns the current state.  All callers see the same pointer until the next write.
func (c *SessionCell) Get() *SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Subscribe registers fn to be called with every new state.
// The returned func removes the observer.
func (c *SessionCell) Subscribe(fn func(*SessionState)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.observers[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.observers, id)
	}
}

// publish replaces the state and notifies observers
func (c *SessionCell) publish(next *SessionState) {
	c.update(func(*SessionState) *SessionState { return next })
}

// update computes the next state from the current one under the write
// lock.  Returning nil leaves the state untouched.  It reports whether a
// write happened.
func (c *SessionCell) update(fn func(cur *SessionState) *SessionState) bool {
	c.mu.Lock()
	next := fn(c.current)
	if next == nil {
		c.mu.Unlock()
		return false
	}
	next = normalize(next)
	c.current = next
	observers := make([]func(*SessionState), 0, len(c.observers))
	for _, obs := range c.observers {
		observers = append(observers, obs)
	}
	c.deliverMu.Lock()
	c.mu.Unlock()

	defer c.deliverMu.Unlock()
	for _, obs := range observers {
		obs(next)
	}
	return true
}

// normalize enforces that a profile never outlives its identity
func normalize(s *SessionState) *SessionState {
	if s.Identity == nil && s.Profile != nil {
		return &SessionState{Status: s.Status}
	}
	return s
}

// WaitFor blocks until the current state satisfies pred or ctx is done
func (c *SessionCell) WaitFor(ctx context.Context, pred func(*SessionState) bool) (*SessionState, error) {
	matched := make(chan *SessionState, 1)
	offer := func(s *SessionState) {
		if pred(s) {
			select {
			case matched <- s:
			default:
			}
		}
	}
	unsubscribe := c.Subscribe(offer)
	defer unsubscribe()

	offer(c.Get())

	select {
	case s := <-matched:
		return s, nil
	case <-ctx.Done():
		return c.Get(), ctx.Err()
	}
}

// WaitResolved blocks until status is resolved or ctx is done
func (c *SessionCell) WaitResolved(ctx context.Context) (*SessionState, error) {
	return c.WaitFor(ctx, func(s *SessionState) bool { return s.Status == StatusResolved })
}
