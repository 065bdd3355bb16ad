// Package local implements courtside.Gateway on the device itself: accounts
// and profiles live in an AccountStore/ProfileStore and the session is kept
// in a courtside.SessionStore.  It stands in for the hosted backend when
// running offline and in development.
package local

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/panyam/courtside"
)

// DefaultSessionKey is the SessionStore key the local gateway uses
const DefaultSessionKey = "local"

// DefaultSessionTTL is how long an access token stays valid before it must be refreshed
const DefaultSessionTTL = time.Hour

// Gateway is a courtside.Gateway backed by local stores
type Gateway struct {
	accounts AccountStore
	profiles courtside.ProfileStore
	sessions courtside.SessionStore

	key        string
	sessionTTL time.Duration
	clock      clockwork.Clock
	logger     *slog.Logger

	// serializes session reads and writes
	sessionMu sync.Mutex

	handlersMu sync.Mutex
	handlers   map[int]courtside.AuthEventHandler
	nextID     int
}

var _ courtside.Gateway = (*Gateway)(nil)

// Option configures a Gateway
type Option func(*Gateway)

// WithSessionKey sets the key used in the SessionStore
func WithSessionKey(key string) Option {
	return func(g *Gateway) {
		g.key = key
	}
}

// WithSessionTTL sets the access token lifetime
func WithSessionTTL(ttl time.Duration) Option {
	return func(g *Gateway) {
		g.sessionTTL = ttl
	}
}

// WithClock sets the clock used for token expiry
func WithClock(clock clockwork.Clock) Option {
	return func(g *Gateway) {
		g.clock = clock
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// New creates a local gateway
func New(accounts AccountStore, profiles courtside.ProfileStore, sessions courtside.SessionStore, opts ...Option) *Gateway {
	g := &Gateway{
		accounts:   accounts,
		profiles:   profiles,
		sessions:   sessions,
		key:        DefaultSessionKey,
		sessionTTL: DefaultSessionTTL,
		clock:      clockwork.NewRealClock(),
		logger:     slog.Default(),
		handlers:   make(map[int]courtside.AuthEventHandler),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SubscribeToAuthEvents registers a handler.  Handlers run on the goroutine
// that caused the event, after the gateway has released its locks.
func (g *Gateway) SubscribeToAuthEvents(handler courtside.AuthEventHandler) courtside.Unsubscribe {
	g.handlersMu.Lock()
	defer g.handlersMu.Unlock()
	id := g.nextID
	g.nextID++
	g.handlers[id] = handler
	return func() {
		g.handlersMu.Lock()
		defer g.handlersMu.Unlock()
		delete(g.handlers, id)
	}
}

func (g *Gateway) emit(event courtside.AuthEvent, session *courtside.Session) {
	g.handlersMu.Lock()
	handlers := make([]courtside.AuthEventHandler, 0, len(g.handlers))
	for _, h := range g.handlers {
		handlers = append(handlers, h)
	}
	g.handlersMu.Unlock()

	for _, h := range handlers {
		h(event, session)
	}
}

// GetSession returns the stored session.  An expired session is refreshed
// (emitting TOKEN_REFRESHED) if it has a refresh token and its account still
// exists; otherwise it is discarded.
func (g *Gateway) GetSession(ctx context.Context) (*courtside.Session, error) {
	g.sessionMu.Lock()
	session, err := g.sessions.GetSession(g.key)
	if err != nil {
		g.sessionMu.Unlock()
		return nil, fmt.Errorf("read session: %w", err)
	}
	if session == nil || g.clock.Now().Before(session.ExpiresAt) {
		g.sessionMu.Unlock()
		return session, nil
	}

	refreshed, err := g.refreshLocked(ctx, session)
	g.sessionMu.Unlock()
	if err != nil {
		return nil, err
	}
	if refreshed != nil {
		g.emit(courtside.EventTokenRefreshed, refreshed)
	}
	return refreshed, nil
}

// refreshLocked rotates the tokens of an expired session.  Caller must hold sessionMu.
func (g *Gateway) refreshLocked(ctx context.Context, session *courtside.Session) (*courtside.Session, error) {
	var account *Account
	if session.HasRefreshToken() && session.Identity != nil {
		var err error
		account, err = g.accounts.GetAccount(ctx, session.Identity.ID)
		if err != nil {
			return nil, fmt.Errorf("refresh session: %w", err)
		}
	}
	if account == nil {
		g.logger.Info("discarding expired session")
		if err := g.dropSessionLocked(); err != nil {
			return nil, err
		}
		return nil, nil
	}

	refreshed, err := g.newSessionLocked(&account.Identity)
	if err != nil {
		return nil, err
	}
	g.logger.Debug("refreshed local session", "identity", account.Identity.ID)
	return refreshed, nil
}

// GetCurrentIdentity returns the identity of the stored session, or nil, nil
func (g *Gateway) GetCurrentIdentity(ctx context.Context) (*courtside.Identity, error) {
	session, err := g.GetSession(ctx)
	if err != nil || session == nil || session.Identity == nil {
		return nil, err
	}
	account, err := g.accounts.GetAccount(ctx, session.Identity.ID)
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	if account == nil {
		return nil, nil
	}
	return &account.Identity, nil
}

// SignInWithCredential checks the password, stores a new session and emits SIGNED_IN
func (g *Gateway) SignInWithCredential(ctx context.Context, email, password string) (*courtside.Identity, error) {
	account, err := g.accounts.GetAccountByEmail(ctx, courtside.NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	if account == nil || !CheckPassword(account.PasswordHash, password) {
		return nil, courtside.ErrInvalidCredential
	}

	now := g.clock.Now()
	if err := g.accounts.RecordSignIn(ctx, account.Identity.ID, now); err != nil {
		g.logger.Warn("error recording sign-in", "identity", account.Identity.ID, "error", err)
	} else {
		account.Identity.LastSignInAt = now
	}
	return g.startSession(&account.Identity)
}

// SignUpWithCredential creates an account and signs it in
func (g *Gateway) SignUpWithCredential(ctx context.Context, email, password string, attrs courtside.IdentityAttributes) (*courtside.Identity, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := g.clock.Now()
	account := &Account{
		Identity: courtside.Identity{
			ID:           uuid.NewString(),
			Email:        courtside.NormalizeEmail(email),
			DisplayName:  attrs.DisplayName,
			AvatarURL:    attrs.AvatarURL,
			Phone:        attrs.Phone,
			CreatedAt:    now,
			UpdatedAt:    now,
			LastSignInAt: now,
		},
		PasswordHash: hash,
	}
	if err := g.accounts.CreateAccount(ctx, account); err != nil {
		return nil, err
	}
	g.logger.Info("created local account", "identity", account.Identity.ID)
	return g.startSession(&account.Identity)
}

func (g *Gateway) startSession(identity *courtside.Identity) (*courtside.Identity, error) {
	g.sessionMu.Lock()
	session, err := g.newSessionLocked(identity)
	g.sessionMu.Unlock()
	if err != nil {
		return nil, err
	}

	g.emit(courtside.EventSignedIn, session)
	return identity, nil
}

// newSessionLocked issues and stores fresh tokens.  Caller must hold sessionMu.
func (g *Gateway) newSessionLocked(identity *courtside.Identity) (*courtside.Session, error) {
	accessToken, err := GenerateSecureToken()
	if err != nil {
		return nil, err
	}
	refreshToken, err := GenerateSecureToken()
	if err != nil {
		return nil, err
	}

	now := g.clock.Now()
	id := *identity
	session := &courtside.Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresAt:    now.Add(g.sessionTTL),
		CreatedAt:    now,
		Identity:     &id,
	}
	if err := g.sessions.SetSession(g.key, session); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	if err := g.sessions.Save(); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return session, nil
}

// SignOut forgets the stored session and emits SIGNED_OUT
func (g *Gateway) SignOut(ctx context.Context) error {
	g.sessionMu.Lock()
	err := g.dropSessionLocked()
	g.sessionMu.Unlock()

	g.emit(courtside.EventSignedOut, nil)
	return err
}

func (g *Gateway) dropSessionLocked() error {
	if err := g.sessions.RemoveSession(g.key); err != nil {
		return fmt.Errorf("remove session: %w", err)
	}
	if err := g.sessions.Save(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// GetProfile returns the profile for an identity, or nil, nil
func (g *Gateway) GetProfile(ctx context.Context, identityID string) (*courtside.Profile, error) {
	return g.profiles.GetProfile(ctx, identityID)
}

// UpsertProfile creates or replaces the profile for an identity
func (g *Gateway) UpsertProfile(ctx context.Context, identityID string, fields courtside.ProfileFields) (*courtside.Profile, error) {
	account, err := g.accounts.GetAccount(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("upsert profile: %w", err)
	}
	if account == nil {
		return nil, fmt.Errorf("upsert profile: no account %s", identityID)
	}
	return g.profiles.UpsertProfile(ctx, identityID, fields)
}
