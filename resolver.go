package courtside

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// Default resolver timeouts
const (
	DefaultLookupTimeout   = 10 * time.Second
	DefaultFallbackTimeout = 15 * time.Second
)

// Resolver is the only writer of the SessionState.  It reconciles a
// one-shot cold-start lookup with the gateway's auth-event stream.
//
// Every operation that may write the state (Initialize, Refresh, Reset and
// each auth event) takes a new generation number; a result is applied only
// if its generation is still the newest, so late results from superseded
// lookups are dropped instead of resurrecting an old session.
type Resolver struct {
	gateway Gateway
	cell    *SessionCell
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *Metrics

	lookupTimeout       time.Duration
	fallbackTimeout     time.Duration
	placeholderProfiles bool

	generation atomic.Uint64
	// last cold-start generation that has been applied; written only inside cell.update
	settled atomic.Uint64

	subMu       sync.Mutex
	unsubscribe Unsubscribe

	mu          sync.Mutex
	started     bool
	fallback    clockwork.Timer
	fallbackGen uint64
	closed      chan struct{}
	closeOnce   sync.Once
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithLookupTimeout bounds the cold-start lookup.  Zero disables the bound
// and leaves only the fallback timeout.
func WithLookupTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.lookupTimeout = d
	}
}

// WithFallbackTimeout sets the hard limit after which a still-loading state
// is forced to the signed-out baseline
func WithFallbackTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.fallbackTimeout = d
	}
}

// WithClock sets the clock used for all timers
func WithClock(clock clockwork.Clock) ResolverOption {
	return func(r *Resolver) {
		r.clock = clock
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *Metrics) ResolverOption {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// WithSessionCell makes the resolver write to an existing cell
func WithSessionCell(cell *SessionCell) ResolverOption {
	return func(r *Resolver) {
		r.cell = cell
	}
}

// WithPlaceholderProfiles controls whether the sign-up placeholder profile
// is published into the state.  By default it is published as a nil
// profile so routing sends the user to onboarding; with true, any profile
// row counts.
func WithPlaceholderProfiles(publish bool) ResolverOption {
	return func(r *Resolver) {
		r.placeholderProfiles = publish
	}
}

// NewResolver creates a resolver over a gateway.  A nil gateway means NullGateway.
func NewResolver(gateway Gateway, opts ...ResolverOption) *Resolver {
	if gateway == nil {
		gateway = NullGateway{}
	}
	r := &Resolver{
		gateway:         gateway,
		clock:           clockwork.NewRealClock(),
		logger:          slog.Default(),
		lookupTimeout:   DefaultLookupTimeout,
		fallbackTimeout: DefaultFallbackTimeout,
		closed:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cell == nil {
		r.cell = NewSessionCell()
	}
	return r
}

// Cell returns the state cell this resolver writes
func (r *Resolver) Cell() *SessionCell {
	return r.cell
}

// State returns the current session state
func (r *Resolver) State() *SessionState {
	return r.cell.Get()
}

// Subscribe registers with the gateway's auth-event stream.  Calling it
// more than once has no effect.
func (r *Resolver) Subscribe() {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	if r.unsubscribe != nil || r.isClosed() {
		return
	}
	r.unsubscribe = r.gateway.SubscribeToAuthEvents(r.HandleAuthEvent)
}

// Initialize starts the cold-start lookup.  It returns without waiting for
// the result; callers observe the cell.  If a lookup is in flight or has
// already completed, Initialize does nothing.
func (r *Resolver) Initialize(ctx context.Context) {
	r.mu.Lock()
	if r.started || r.isClosed() {
		r.mu.Unlock()
		return
	}
	r.started = true
	if r.cell.Get().Status == StatusResolved {
		// an auth event got here first and is newer than anything a lookup could return
		r.mu.Unlock()
		return
	}
	gen := r.generation.Add(1)
	r.mu.Unlock()

	r.begin(ctx, gen, false)
}

// Refresh puts the state back into loading and re-runs the cold-start
// lookup.  Use it after local changes the event stream does not report,
// such as finishing onboarding.
func (r *Resolver) Refresh(ctx context.Context) {
	r.mu.Lock()
	if r.isClosed() {
		r.mu.Unlock()
		return
	}
	r.started = true
	gen := r.generation.Add(1)
	r.mu.Unlock()

	r.begin(ctx, gen, true)
}

// Reset publishes the signed-out baseline and supersedes every in-flight lookup
func (r *Resolver) Reset() {
	gen := r.generation.Add(1)
	r.stopFallback(0)
	r.apply(gen, unauthenticated())
}

// Close unsubscribes from the gateway and stops pending timers
func (r *Resolver) Close() {
	r.closeOnce.Do(func() {
		r.subMu.Lock()
		unsubscribe := r.unsubscribe
		r.unsubscribe = nil
		close(r.closed)
		r.subMu.Unlock()

		r.stopFallback(0)
		if unsubscribe != nil {
			unsubscribe()
		}
	})
}

func (r *Resolver) isClosed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}

type lookupResult struct {
	state *SessionState
	err   error
}

func (r *Resolver) begin(ctx context.Context, gen uint64, refresh bool) {
	entered := r.cell.update(func(cur *SessionState) *SessionState {
		if r.generation.Load() != gen {
			return nil
		}
		if !refresh && cur.Status == StatusResolved {
			return nil
		}
		return &SessionState{Identity: cur.Identity, Profile: cur.Profile, Status: StatusLoading}
	})
	if !entered {
		return
	}

	// Both timers are armed before begin returns
	r.armFallback(gen, func() {
		if r.settle(gen, unauthenticated()) {
			r.metrics.resolution("fallback_timeout")
			r.logger.Warn("session still loading after fallback timeout, continuing signed out",
				"timeout", r.fallbackTimeout)
		}
	})
	var primary clockwork.Timer
	if r.lookupTimeout > 0 {
		primary = r.clock.NewTimer(r.lookupTimeout)
	}

	// The lookup outlives the caller's context; only the timeout cancels it
	lookupCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan lookupResult, 1)
	go func() {
		state, err := r.lookup(lookupCtx)
		done <- lookupResult{state, err}
	}()
	go r.await(gen, done, primary, cancel)
}

func (r *Resolver) await(gen uint64, done <-chan lookupResult, primary clockwork.Timer, cancel context.CancelFunc) {
	defer cancel()

	var timeout <-chan time.Time
	if primary != nil {
		defer primary.Stop()
		timeout = primary.Chan()
	}

	select {
	case res := <-done:
		if res.err != nil {
			authErr := Normalize(res.err)
			r.logger.Warn("session lookup failed, continuing signed out",
				"code", authErr.Code, "error", res.err)
			if r.settle(gen, unauthenticated()) {
				r.metrics.resolution("error")
			}
			break
		}
		if r.settle(gen, res.state) {
			if res.state.IsAuthenticated() {
				r.metrics.resolution("signed_in")
			} else {
				r.metrics.resolution("signed_out")
			}
		} else {
			r.logger.Debug("discarding superseded session lookup result")
		}
	case <-timeout:
		r.logger.Warn("session lookup timed out, continuing signed out",
			"code", CodeTimeout, "timeout", r.lookupTimeout)
		if r.settle(gen, unauthenticated()) {
			r.metrics.resolution("timeout")
		}
	case <-r.closed:
		return
	}
	r.stopFallback(gen)
}

// lookup reads any persisted session and its profile
func (r *Resolver) lookup(ctx context.Context) (*SessionState, error) {
	session, err := r.gateway.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return unauthenticated(), nil
	}

	identity := session.Identity
	if identity == nil {
		identity, err = r.gateway.GetCurrentIdentity(ctx)
		if err != nil {
			return nil, err
		}
		if identity == nil {
			return unauthenticated(), nil
		}
	}

	return &SessionState{
		Identity: identity,
		Profile:  r.fetchProfile(ctx, identity),
		Status:   StatusResolved,
	}, nil
}

// fetchProfile never fails: a profile error leaves the identity signed in without a profile
func (r *Resolver) fetchProfile(ctx context.Context, identity *Identity) *Profile {
	profile, err := r.gateway.GetProfile(ctx, identity.ID)
	if err != nil {
		r.logger.Warn("error fetching profile, keeping identity without profile",
			"identity", identity.ID, "code", Normalize(err).Code, "error", err)
		return nil
	}
	if profile.IsPlaceholder() && !r.placeholderProfiles {
		return nil
	}
	return profile
}

// HandleAuthEvent is the handler registered with the gateway by Subscribe
func (r *Resolver) HandleAuthEvent(event AuthEvent, session *Session) {
	r.metrics.authEvent(event)
	gen := r.generation.Add(1)

	if event == EventSignedOut || session == nil || session.Identity == nil {
		r.logger.Info("auth event: signed out", "event", event)
		r.stopFallback(0)
		r.apply(gen, unauthenticated())
		return
	}

	identity := session.Identity
	if event == EventTokenRefreshed {
		kept := r.cell.update(func(cur *SessionState) *SessionState {
			if r.generation.Load() != gen || cur.Identity == nil || cur.Identity.ID != identity.ID {
				return nil
			}
			return &SessionState{Identity: identity, Profile: cur.Profile, Status: StatusResolved}
		})
		if kept {
			return
		}
	}

	r.logger.Info("auth event: signed in", "event", event, "identity", identity.ID)
	if r.cell.Get().IsLoading() {
		// this generation now owns the loading state, so it owns the fallback too
		r.armFallback(gen, func() {
			if r.apply(gen, &SessionState{Identity: identity, Status: StatusResolved}) {
				r.metrics.resolution("fallback_timeout")
				r.logger.Warn("profile still loading after fallback timeout, continuing without profile",
					"identity", identity.ID, "timeout", r.fallbackTimeout)
			}
		})
	}
	go r.install(gen, identity)
}

// install publishes a signed-in identity once its profile lookup finishes
func (r *Resolver) install(gen uint64, identity *Identity) {
	timeout := r.lookupTimeout
	if timeout <= 0 {
		timeout = r.fallbackTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	profile := r.fetchProfile(ctx, identity)
	if r.apply(gen, &SessionState{Identity: identity, Profile: profile, Status: StatusResolved}) {
		r.stopFallback(0)
	} else {
		r.logger.Debug("discarding superseded sign-in", "identity", identity.ID)
	}
}

// apply publishes next if gen is still the newest generation
func (r *Resolver) apply(gen uint64, next *SessionState) bool {
	return r.cell.update(func(*SessionState) *SessionState {
		if r.generation.Load() != gen {
			return nil
		}
		return next
	})
}

// settle is apply for cold-start results: only the first result of a generation lands
func (r *Resolver) settle(gen uint64, next *SessionState) bool {
	return r.cell.update(func(*SessionState) *SessionState {
		if r.generation.Load() != gen || r.settled.Load() == gen {
			return nil
		}
		r.settled.Store(gen)
		return next
	})
}

// armFallback replaces the fallback timer with one owned by gen.  A
// superseded gen leaves the newer generation's timer in place.
func (r *Resolver) armFallback(gen uint64, fire func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isClosed() || r.generation.Load() != gen {
		return
	}
	if r.fallback != nil {
		r.fallback.Stop()
	}
	r.fallbackGen = gen
	r.fallback = r.clock.AfterFunc(r.fallbackTimeout, fire)
}

// stopFallback stops the fallback timer if it belongs to gen (or any generation when gen is 0)
func (r *Resolver) stopFallback(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fallback != nil && (gen == 0 || r.fallbackGen == gen) {
		r.fallback.Stop()
		r.fallback = nil
	}
}
