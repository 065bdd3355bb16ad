package local_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panyam/courtside"
	"github.com/panyam/courtside/gateways/local"
	"github.com/panyam/courtside/stores/fs"
	"github.com/panyam/courtside/stores/sqlite"
)

func waitFor(t *testing.T, p *courtside.Provider, what string, pred func(*courtside.SessionState) bool) *courtside.SessionState {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	state, err := p.Cell().WaitFor(ctx, pred)
	require.NoError(t, err, "waiting for %s, last state %+v", what, state)
	return state
}

func routeFor(state *courtside.SessionState, current courtside.ScreenGroup) courtside.Decision {
	return courtside.Decide(state, current)
}

// Drives a provider over the local gateway through the whole account lifecycle
func TestProviderLifecycle(t *testing.T) {
	ctx := context.Background()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "courtside.db"))
	require.NoError(t, err)
	defer db.Close()
	sessionsPath := filepath.Join(t.TempDir(), "sessions.json")
	sessions, err := fs.NewSessionStore(sessionsPath)
	require.NoError(t, err)

	provider := courtside.NewProvider(local.New(db, db, sessions))
	provider.Start(ctx)
	defer provider.Close()

	// Fresh install: nobody is signed in
	state := waitFor(t, provider, "cold start", func(s *courtside.SessionState) bool { return !s.IsLoading() })
	assert.False(t, state.IsAuthenticated())
	assert.Equal(t, courtside.RedirectTo(courtside.GroupAuth), routeFor(state, courtside.GroupMain))

	// Sign up lands on onboarding
	user, err := provider.SignUp(ctx, courtside.Credential{Email: "ana@example.com", Password: "secret123"},
		courtside.IdentityAttributes{DisplayName: "Ana"})
	require.NoError(t, err)
	require.NotNil(t, user.Identity)
	require.NotNil(t, user.Profile, "placeholder profile is returned")
	assert.False(t, user.Profile.Onboarded)

	state = waitFor(t, provider, "sign-up", func(s *courtside.SessionState) bool {
		return s.IsAuthenticated() && !s.IsLoading()
	})
	assert.Nil(t, state.Profile)
	assert.Equal(t, courtside.RedirectTo(courtside.GroupOnboarding), routeFor(state, courtside.GroupAuth))

	// Onboarding completes the profile and moves to main
	profile, err := provider.CompleteOnboarding(ctx, user.Identity.ID, courtside.OnboardingData{
		DisplayName: "Ana",
		Sports:      []string{"padel"},
	})
	require.NoError(t, err)
	assert.True(t, profile.Onboarded)

	state = waitFor(t, provider, "onboarding", func(s *courtside.SessionState) bool {
		return s.Profile != nil && !s.IsLoading()
	})
	assert.Equal(t, []string{"padel"}, state.Profile.Sports)
	assert.Equal(t, courtside.Stay, routeFor(state, courtside.GroupMain))
	// Leaving onboarding is the onboarding screen's job
	assert.Equal(t, courtside.Stay, routeFor(state, courtside.GroupOnboarding))
	assert.Equal(t, courtside.RedirectTo(courtside.GroupMain), routeFor(state, courtside.GroupAuth))

	// Sign out is visible immediately
	provider.SignOut(ctx)
	view := provider.Session()
	assert.False(t, view.IsAuthenticated)
	assert.False(t, view.IsLoading)

	// Sign in again
	user, err = provider.SignIn(ctx, courtside.Credential{Email: "ana@example.com", Password: "secret123"})
	require.NoError(t, err)
	assert.True(t, user.Profile.Onboarded)
	waitFor(t, provider, "sign-in", func(s *courtside.SessionState) bool { return s.Profile != nil })

	// Wrong password is an inline error
	_, err = provider.SignIn(ctx, courtside.Credential{Email: "ana@example.com", Password: "wrong-pass"})
	assert.Equal(t, courtside.CodeInvalidCredential, courtside.CodeOf(err))

	// A restart restores the persisted session
	reloaded, err := fs.NewSessionStore(sessionsPath)
	require.NoError(t, err)
	restarted := courtside.NewProvider(local.New(db, db, reloaded))
	restarted.Start(ctx)
	defer restarted.Close()

	state = waitFor(t, restarted, "restart", func(s *courtside.SessionState) bool { return !s.IsLoading() })
	require.True(t, state.IsAuthenticated())
	require.NotNil(t, state.Profile)
	assert.Equal(t, user.Identity.ID, state.Identity.ID)
}
