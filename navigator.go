package courtside

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Default navigator timings
const (
	DefaultCooldown       = 750 * time.Millisecond
	DefaultLoadingTimeout = 15 * time.Second
)

// Router is the app's router as seen by the navigator
type Router interface {
	// CurrentRoute returns the path of the screen being shown
	CurrentRoute() string

	// NavigateTo replaces the current screen with route
	NavigateTo(route string)
}

// NavigatorConfig holds the navigator's settings
type NavigatorConfig struct {
	// Routes maps screen groups to paths.  Defaults to DefaultRoutes().
	Routes Routes

	// Cooldown is how long the navigation lock is held after a redirect.
	// Decisions made while locked are computed but not executed.
	Cooldown time.Duration

	// LoadingTimeout is how long the session may stay loading before the
	// navigator sends the user to login anyway.
	LoadingTimeout time.Duration

	Clock   clockwork.Clock
	Logger  *slog.Logger
	Metrics *Metrics
}

// EnsureDefaults fills in default values for any unset fields.
func (c *NavigatorConfig) EnsureDefaults() {
	if c.Routes == (Routes{}) {
		c.Routes = DefaultRoutes()
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.LoadingTimeout <= 0 {
		c.LoadingTimeout = DefaultLoadingTimeout
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Navigator executes guard decisions against a Router whenever the session
// or the location changes, issuing at most one redirect per cooldown.
type Navigator struct {
	cell   *SessionCell
	router Router
	config NavigatorConfig

	mu           sync.Mutex
	running      bool
	locked       bool
	forced       bool
	unlockTimer  clockwork.Timer
	loadingTimer clockwork.Timer
	unsubscribe  func()
}

// NewNavigator creates a navigator.  config may be nil.
func NewNavigator(cell *SessionCell, router Router, config *NavigatorConfig) *Navigator {
	var cfg NavigatorConfig
	if config != nil {
		cfg = *config
	}
	cfg.EnsureDefaults()
	return &Navigator{
		cell:   cell,
		router: router,
		config: cfg,
	}
}

// Start subscribes to session changes and evaluates the current screen
func (n *Navigator) Start() {
	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return
	}
	n.running = true
	n.mu.Unlock()

	unsubscribe := n.cell.Subscribe(func(*SessionState) { n.Evaluate() })
	n.mu.Lock()
	n.unsubscribe = unsubscribe
	n.mu.Unlock()

	n.Evaluate()
}

// Stop unsubscribes and cancels pending timers
func (n *Navigator) Stop() {
	n.mu.Lock()
	n.running = false
	unsubscribe := n.unsubscribe
	n.unsubscribe = nil
	if n.unlockTimer != nil {
		n.unlockTimer.Stop()
		n.unlockTimer = nil
	}
	if n.loadingTimer != nil {
		n.loadingTimer.Stop()
		n.loadingTimer = nil
	}
	n.locked = false
	n.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// RouteChanged tells the navigator the location changed
func (n *Navigator) RouteChanged() {
	n.Evaluate()
}

// Evaluate computes the decision for the current state and location and
// executes it unless the navigation lock is held
func (n *Navigator) Evaluate() Decision {
	state := n.cell.Get()
	decision := Decide(state, n.config.Routes.GroupOf(n.router.CurrentRoute()))

	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return decision
	}
	n.trackLoading(state)
	if !decision.Redirect {
		n.mu.Unlock()
		return decision
	}
	if n.locked {
		n.mu.Unlock()
		n.config.Metrics.suppressed()
		n.config.Logger.Debug("navigation locked, not redirecting", "decision", decision.String())
		return decision
	}
	n.locked = true
	n.unlockTimer = n.config.Clock.AfterFunc(n.config.Cooldown, n.release)
	n.mu.Unlock()

	n.navigate(decision.Target, "session")
	return decision
}

// release clears the navigation lock and re-evaluates decisions deferred while locked
func (n *Navigator) release() {
	n.mu.Lock()
	n.locked = false
	n.unlockTimer = nil
	running := n.running
	n.mu.Unlock()

	if running {
		n.Evaluate()
	}
}

// trackLoading arms the loading timeout while the session is loading.  Caller must hold n.mu
func (n *Navigator) trackLoading(state *SessionState) {
	if state.IsLoading() {
		if n.loadingTimer == nil && !n.forced {
			n.loadingTimer = n.config.Clock.AfterFunc(n.config.LoadingTimeout, n.loadingExpired)
		}
		return
	}
	n.forced = false
	if n.loadingTimer != nil {
		n.loadingTimer.Stop()
		n.loadingTimer = nil
	}
}

func (n *Navigator) loadingExpired() {
	n.mu.Lock()
	n.loadingTimer = nil
	if !n.running || !n.cell.Get().IsLoading() {
		n.mu.Unlock()
		return
	}
	n.forced = true
	if n.config.Routes.GroupOf(n.router.CurrentRoute()) == GroupAuth {
		n.mu.Unlock()
		return
	}
	// the forced redirect takes the lock like any other and restarts the cooldown
	if n.unlockTimer != nil {
		n.unlockTimer.Stop()
	}
	n.locked = true
	n.unlockTimer = n.config.Clock.AfterFunc(n.config.Cooldown, n.release)
	n.mu.Unlock()

	n.config.Logger.Warn("session still loading, sending user to login",
		"timeout", n.config.LoadingTimeout)
	n.navigate(GroupAuth, "loading_timeout")
}

func (n *Navigator) navigate(target ScreenGroup, reason string) {
	route := n.config.Routes.RouteFor(target)
	n.config.Logger.Info("redirecting", "route", route, "reason", reason)
	n.config.Metrics.redirect(target)
	n.router.NavigateTo(route)
}
