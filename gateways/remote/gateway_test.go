package remote_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panyam/courtside"
	"github.com/panyam/courtside/gateways/remote"
	"github.com/panyam/courtside/internal/devserver"
	"github.com/panyam/courtside/stores/fs"
	"github.com/panyam/courtside/stores/sqlite"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []courtside.AuthEvent
}

func (r *eventRecorder) handle(event courtside.AuthEvent, session *courtside.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) names() []courtside.AuthEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]courtside.AuthEvent(nil), r.events...)
}

type backend struct {
	store *sqlite.Store
	http  *httptest.Server
}

func newBackend(t *testing.T, accessExpiry time.Duration) *backend {
	t.Helper()
	store, err := sqlite.Open(sqlite.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return startBackend(t, store, accessExpiry)
}

// startBackend serves store with a fresh server, so previously issued refresh tokens are unknown
func startBackend(t *testing.T, store *sqlite.Store, accessExpiry time.Duration) *backend {
	t.Helper()
	server, err := devserver.New(store, devserver.Config{
		JWTSecret:         "remote-gateway-test-secret",
		AccessTokenExpiry: accessExpiry,
	})
	require.NoError(t, err)
	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)
	return &backend{store: store, http: ts}
}

type fixture struct {
	gateway  *remote.Gateway
	sessions *fs.SessionStore
	events   *eventRecorder
}

func newGateway(t *testing.T, baseURL string, sessions *fs.SessionStore, opts ...remote.Option) *fixture {
	t.Helper()
	if sessions == nil {
		var err error
		sessions, err = fs.NewSessionStore(filepath.Join(t.TempDir(), "sessions.json"))
		require.NoError(t, err)
	}
	gw, err := remote.New(baseURL, sessions, opts...)
	require.NoError(t, err)
	f := &fixture{gateway: gw, sessions: sessions, events: &eventRecorder{}}
	gw.SubscribeToAuthEvents(f.events.handle)
	return f
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := remote.New("not a url", nil)
	assert.Error(t, err)

	gw, err := remote.New("http://localhost:8080/api/v1", nil)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", gw.BaseURL())
}

func TestSignUpAndSignIn(t *testing.T) {
	b := newBackend(t, time.Hour)
	f := newGateway(t, b.http.URL, nil)
	ctx := context.Background()

	identity, err := f.gateway.SignUpWithCredential(ctx, "ana@example.com", "secret123",
		courtside.IdentityAttributes{DisplayName: "Ana"})
	require.NoError(t, err)
	require.NotNil(t, identity)
	assert.NotEmpty(t, identity.ID)
	assert.Equal(t, "ana@example.com", identity.Email)
	assert.Equal(t, "Ana", identity.DisplayName)
	assert.Equal(t, []courtside.AuthEvent{courtside.EventSignedIn}, f.events.names())

	session, err := f.gateway.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, identity.ID, session.Identity.ID)
	assert.True(t, session.HasRefreshToken())
	assert.Equal(t, "Bearer", session.TokenType)

	stored, err := f.sessions.GetSession(b.http.URL)
	require.NoError(t, err)
	require.NotNil(t, stored)

	current, err := f.gateway.GetCurrentIdentity(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, identity.ID, current.ID)

	_, err = f.gateway.SignUpWithCredential(ctx, "ana@example.com", "secret123", courtside.IdentityAttributes{})
	assert.ErrorIs(t, err, courtside.ErrEmailTaken)

	_, err = f.gateway.SignUpWithCredential(ctx, "bad-email", "secret123", courtside.IdentityAttributes{})
	assert.ErrorIs(t, err, courtside.ErrInvalidCredential)

	_, err = f.gateway.SignInWithCredential(ctx, "ana@example.com", "wrong-password")
	assert.ErrorIs(t, err, courtside.ErrInvalidCredential)
	assert.Equal(t, courtside.CodeInvalidCredential, courtside.Normalize(err).Code)

	again, err := f.gateway.SignInWithCredential(ctx, "ana@example.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, identity.ID, again.ID)
}

func TestProfiles(t *testing.T) {
	b := newBackend(t, time.Hour)
	f := newGateway(t, b.http.URL, nil)
	ctx := context.Background()

	identity, err := f.gateway.SignUpWithCredential(ctx, "ana@example.com", "secret123", courtside.IdentityAttributes{})
	require.NoError(t, err)

	profile, err := f.gateway.GetProfile(ctx, identity.ID)
	require.NoError(t, err)
	assert.Nil(t, profile, "404 means no profile")

	profile, err = f.gateway.UpsertProfile(ctx, identity.ID, courtside.OnboardingData{
		DisplayName: "Ana",
		Sports:      []string{"padel"},
		Location:    courtside.Location{City: "Porto"},
	}.Fields())
	require.NoError(t, err)
	assert.True(t, profile.Onboarded)

	profile, err = f.gateway.GetProfile(ctx, identity.ID)
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, "Porto", profile.Location.City)

	_, err = f.gateway.GetProfile(ctx, "someone-else")
	assert.Error(t, err)
}

func TestSessionRefresh(t *testing.T) {
	// Tokens that live less than the refresh threshold are refreshed on every read
	b := newBackend(t, time.Minute)
	f := newGateway(t, b.http.URL, nil, remote.WithRefreshThreshold(5*time.Minute))
	ctx := context.Background()

	identity, err := f.gateway.SignUpWithCredential(ctx, "ana@example.com", "secret123", courtside.IdentityAttributes{})
	require.NoError(t, err)
	original, err := f.sessions.GetSession(b.http.URL)
	require.NoError(t, err)

	refreshed, err := f.gateway.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, refreshed)
	assert.Equal(t, identity.ID, refreshed.Identity.ID)
	assert.NotEqual(t, original.RefreshToken, refreshed.RefreshToken, "refresh tokens rotate")

	// The rotated token works too
	_, err = f.gateway.GetSession(ctx)
	require.NoError(t, err)

	assert.Equal(t, []courtside.AuthEvent{
		courtside.EventSignedIn,
		courtside.EventTokenRefreshed,
		courtside.EventTokenRefreshed,
	}, f.events.names())
}

func TestRefusedRefreshDropsSession(t *testing.T) {
	b := newBackend(t, time.Minute)
	f := newGateway(t, b.http.URL, nil, remote.WithRefreshThreshold(5*time.Minute))
	ctx := context.Background()

	_, err := f.gateway.SignUpWithCredential(ctx, "ana@example.com", "secret123", courtside.IdentityAttributes{})
	require.NoError(t, err)

	// A restarted backend no longer knows the refresh token
	restarted := startBackend(t, b.store, time.Minute)
	g := newGateway(t, restarted.http.URL, nil, remote.WithRefreshThreshold(5*time.Minute))
	stored, err := f.sessions.GetSession(b.http.URL)
	require.NoError(t, err)
	require.NoError(t, g.sessions.SetSession(restarted.http.URL, stored))

	session, err := g.gateway.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, session)

	remaining, err := g.sessions.GetSession(restarted.http.URL)
	require.NoError(t, err)
	assert.Nil(t, remaining)
}

func TestSignOut(t *testing.T) {
	b := newBackend(t, time.Hour)
	f := newGateway(t, b.http.URL, nil)
	ctx := context.Background()

	_, err := f.gateway.SignUpWithCredential(ctx, "ana@example.com", "secret123", courtside.IdentityAttributes{})
	require.NoError(t, err)

	require.NoError(t, f.gateway.SignOut(ctx))

	session, err := f.gateway.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, session)
	assert.Equal(t, []courtside.AuthEvent{courtside.EventSignedIn, courtside.EventSignedOut}, f.events.names())
}

func TestSignOutWhileOffline(t *testing.T) {
	b := newBackend(t, time.Hour)
	f := newGateway(t, b.http.URL, nil)
	ctx := context.Background()

	_, err := f.gateway.SignUpWithCredential(ctx, "ana@example.com", "secret123", courtside.IdentityAttributes{})
	require.NoError(t, err)

	b.http.Close()

	err = f.gateway.SignOut(ctx)
	assert.Error(t, err)
	assert.Equal(t, courtside.CodeNetworkUnavailable, courtside.Normalize(err).Code)

	// The local session is gone regardless
	session, err := f.gateway.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, session)
	assert.Equal(t, []courtside.AuthEvent{courtside.EventSignedIn, courtside.EventSignedOut}, f.events.names())
}

func TestNetworkUnavailable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	f := newGateway(t, url, nil)
	_, err := f.gateway.SignInWithCredential(context.Background(), "ana@example.com", "secret123")
	require.Error(t, err)
	assert.Equal(t, courtside.CodeNetworkUnavailable, courtside.Normalize(err).Code)
	assert.Empty(t, f.events.names())
}

func TestProviderOverRemote(t *testing.T) {
	b := newBackend(t, time.Hour)
	sessionsPath := filepath.Join(t.TempDir(), "sessions.json")
	sessions, err := fs.NewSessionStore(sessionsPath)
	require.NoError(t, err)
	f := newGateway(t, b.http.URL, sessions)
	ctx := context.Background()

	provider := courtside.NewProvider(f.gateway)
	provider.Start(ctx)
	defer provider.Close()

	wait := func(p *courtside.Provider, pred func(*courtside.SessionState) bool) *courtside.SessionState {
		t.Helper()
		waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		state, err := p.Cell().WaitFor(waitCtx, pred)
		require.NoError(t, err)
		return state
	}

	wait(provider, func(s *courtside.SessionState) bool { return !s.IsLoading() })

	user, err := provider.SignUp(ctx, courtside.Credential{Email: "ana@example.com", Password: "secret123"},
		courtside.IdentityAttributes{DisplayName: "Ana"})
	require.NoError(t, err)

	_, err = provider.CompleteOnboarding(ctx, user.Identity.ID, courtside.OnboardingData{DisplayName: "Ana", Sports: []string{"tennis"}})
	require.NoError(t, err)
	state := wait(provider, func(s *courtside.SessionState) bool { return s.Profile != nil && !s.IsLoading() })
	assert.Equal(t, courtside.RedirectTo(courtside.GroupMain), courtside.Decide(state, courtside.GroupAuth))

	// Restart with the persisted session
	reloaded, err := fs.NewSessionStore(sessionsPath)
	require.NoError(t, err)
	gw, err := remote.New(b.http.URL, reloaded)
	require.NoError(t, err)
	restarted := courtside.NewProvider(gw)
	restarted.Start(ctx)
	defer restarted.Close()

	state = wait(restarted, func(s *courtside.SessionState) bool { return !s.IsLoading() })
	require.True(t, state.IsAuthenticated())
	require.NotNil(t, state.Profile)
	assert.Equal(t, user.Identity.ID, state.Identity.ID)
}
