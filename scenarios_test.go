package courtside

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// app wires a provider and a navigator the way a client would
type app struct {
	gateway  *fakeGateway
	provider *Provider
	router   *fakeRouter
	nav      *Navigator
	clock    *clockwork.FakeClock
}

func newApp(t *testing.T, route string, gw *fakeGateway, opts ...ResolverOption) *app {
	t.Helper()
	a := &app{
		gateway: gw,
		router:  &fakeRouter{route: route},
		clock:   clockwork.NewFakeClock(),
	}
	a.provider = NewProvider(gw, append([]ResolverOption{WithClock(a.clock)}, opts...)...)
	a.nav = NewNavigator(a.provider.Cell(), a.router, &NavigatorConfig{
		Cooldown:       testCooldown,
		LoadingTimeout: time.Minute,
		Clock:          a.clock,
	})
	t.Cleanup(func() {
		a.nav.Stop()
		a.provider.Close()
	})
	a.nav.Start()
	a.provider.Start(context.Background())
	return a
}

func (a *app) waitFor(t *testing.T, pred func(*SessionState) bool) *SessionState {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	state, err := a.provider.Cell().WaitFor(ctx, pred)
	require.NoError(t, err)
	return state
}

// expectNavigations waits for observers that may still be running on another goroutine
func (a *app) expectNavigations(t *testing.T, want ...string) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return slices.Equal(a.router.navigations(), want)
	}, time.Second, 5*time.Millisecond)
}

func (a *app) cooldown() {
	a.clock.Advance(testCooldown)
}

func resolved(s *SessionState) bool { return !s.IsLoading() }

func TestScenarioColdStartSignedOut(t *testing.T) {
	a := newApp(t, "/(tabs)", newFakeGateway())

	state := a.waitFor(t, resolved)
	assert.Equal(t, &SessionState{Status: StatusResolved}, state)
	a.expectNavigations(t, "/(auth)/login")
}

func TestScenarioSignInEventWithProfile(t *testing.T) {
	gw := newFakeGateway()
	ana := testIdentity("ana")
	gw.addAccount("secret123", ana, onboardedProfile("ana"))
	a := newApp(t, "/(auth)/login", gw)
	a.waitFor(t, resolved)
	a.expectNavigations(t)

	gw.emit(EventSignedIn, &Session{Identity: ana})
	state := a.waitFor(t, signedInAs("ana"))
	assert.NotNil(t, state.Profile)
	a.expectNavigations(t, "/(tabs)")
}

func TestScenarioSignInEventProfileUnavailable(t *testing.T) {
	gw := newFakeGateway()
	a := newApp(t, "/(auth)/login", gw)
	a.waitFor(t, resolved)

	gw.profileErr = ErrNetworkUnavailable
	gw.emit(EventSignedIn, &Session{Identity: testIdentity("ana")})
	state := a.waitFor(t, signedInAs("ana"))
	assert.Nil(t, state.Profile)
	a.expectNavigations(t, "/onboarding")
}

func TestScenarioSignOutWhileLoading(t *testing.T) {
	gw := newFakeGateway()
	gw.hold = make(chan struct{})
	ana := testIdentity("ana")
	gw.addAccount("secret123", ana, onboardedProfile("ana"))
	gw.setSession(ana)
	a := newApp(t, "/(tabs)", gw)
	require.True(t, a.provider.Session().IsLoading)
	a.expectNavigations(t)

	a.provider.SignOut(context.Background())
	assert.Equal(t, SessionView{}, a.provider.Session())
	a.expectNavigations(t, "/(auth)/login")

	gw.setSession(ana)
	close(gw.hold)
	assert.Eventually(t, func() bool { return gw.profileCalls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return a.provider.Session().IsAuthenticated }, 50*time.Millisecond, 5*time.Millisecond)
	a.expectNavigations(t, "/(auth)/login")
}

func TestScenarioSignUpRoutesToOnboarding(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	a := newApp(t, "/(auth)/signup", gw)
	a.waitFor(t, resolved)

	user, err := a.provider.SignUp(ctx, Credential{Email: "ana@example.com", Password: "secret123"}, IdentityAttributes{DisplayName: "Ana"})
	require.NoError(t, err)
	require.NotNil(t, user.Profile)
	assert.True(t, user.Profile.IsPlaceholder())

	a.waitFor(t, func(s *SessionState) bool { return resolved(s) && s.IsAuthenticated() })
	a.expectNavigations(t, "/onboarding")

	// the placeholder row does not count as a finished profile
	a.provider.RefreshSession(ctx)
	state := a.waitFor(t, func(s *SessionState) bool { return resolved(s) && s.IsAuthenticated() })
	assert.Nil(t, state.Profile)
	a.cooldown()
	assert.Equal(t, "/onboarding", a.router.CurrentRoute())

	_, err = a.provider.CompleteOnboarding(ctx, user.Identity.ID, OnboardingData{DisplayName: "Ana", Sports: []string{"padel"}})
	require.NoError(t, err)
	a.waitFor(t, func(s *SessionState) bool { return resolved(s) && s.Profile != nil })

	// onboarding finishes by navigating to the main screens itself
	a.router.setRoute("/(tabs)")
	a.nav.RouteChanged()
	a.expectNavigations(t, "/onboarding")
}

func TestScenarioLookupHangs(t *testing.T) {
	gw := newFakeGateway()
	gw.hold = make(chan struct{})
	a := newApp(t, "/(tabs)", gw, WithLookupTimeout(0), WithFallbackTimeout(15*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// navigator loading timer and resolver fallback timer
	require.NoError(t, a.clock.BlockUntilContext(ctx, 2))

	a.clock.Advance(15 * time.Second)
	state := a.waitFor(t, resolved)
	assert.Nil(t, state.Identity)
	assert.Eventually(t, func() bool {
		return a.router.CurrentRoute() == "/(auth)/login"
	}, time.Second, 5*time.Millisecond)
}
