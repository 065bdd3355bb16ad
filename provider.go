package courtside

import (
	"context"
	"log/slog"
)

// SessionView is the read-only session shape handed to screens
type SessionView struct {
	Identity        *Identity
	Profile         *Profile
	IsAuthenticated bool
	IsLoading       bool
}

// ViewOf converts a state into a SessionView
func ViewOf(state *SessionState) SessionView {
	return SessionView{
		Identity:        state.Identity,
		Profile:         state.Profile,
		IsAuthenticated: state.IsAuthenticated(),
		IsLoading:       state.IsLoading(),
	}
}

// Provider wires a Resolver and an Auth façade around one gateway and is
// the single entry point screens use.
type Provider struct {
	resolver *Resolver
	auth     *Auth
}

// NewProvider creates a provider.  Resolver options configure timing, logging and metrics.
func NewProvider(gateway Gateway, opts ...ResolverOption) *Provider {
	resolver := NewResolver(gateway, opts...)
	auth := NewAuth(resolver.gateway, resolver)
	auth.Logger = resolver.logger
	auth.Metrics = resolver.metrics
	return &Provider{resolver: resolver, auth: auth}
}

// Resolver returns the provider's resolver
func (p *Provider) Resolver() *Resolver {
	return p.resolver
}

// Auth returns the provider's auth façade
func (p *Provider) Auth() *Auth {
	return p.auth
}

// Cell returns the session state cell
func (p *Provider) Cell() *SessionCell {
	return p.resolver.Cell()
}

// Start subscribes to auth events and starts cold-start resolution
func (p *Provider) Start(ctx context.Context) {
	p.resolver.Subscribe()
	p.resolver.Initialize(ctx)
}

// Close releases the gateway subscription
func (p *Provider) Close() {
	p.resolver.Close()
}

// Session returns the current session view
func (p *Provider) Session() SessionView {
	return ViewOf(p.resolver.State())
}

// Subscribe calls fn with a fresh view on every session change
func (p *Provider) Subscribe(fn func(SessionView)) func() {
	return p.resolver.Cell().Subscribe(func(s *SessionState) { fn(ViewOf(s)) })
}

// WaitResolved blocks until the session has resolved
func (p *Provider) WaitResolved(ctx context.Context) (SessionView, error) {
	state, err := p.resolver.Cell().WaitResolved(ctx)
	return ViewOf(state), err
}

// SignIn see Auth.SignIn
func (p *Provider) SignIn(ctx context.Context, cred Credential) (*User, error) {
	return p.auth.SignIn(ctx, cred)
}

// SignUp see Auth.SignUp
func (p *Provider) SignUp(ctx context.Context, cred Credential, attrs IdentityAttributes) (*User, error) {
	return p.auth.SignUp(ctx, cred, attrs)
}

// SignOut see Auth.SignOut
func (p *Provider) SignOut(ctx context.Context) {
	p.auth.SignOut(ctx)
}

// RefreshSession re-runs session resolution
func (p *Provider) RefreshSession(ctx context.Context) {
	p.auth.RefreshSession(ctx)
}

// CompleteOnboarding writes the profile and refreshes the session so the
// guard sees the completed profile
func (p *Provider) CompleteOnboarding(ctx context.Context, identityID string, data OnboardingData) (*Profile, error) {
	profile, err := p.auth.CompleteOnboarding(ctx, identityID, data)
	if err != nil {
		return nil, err
	}
	p.resolver.Refresh(ctx)
	return profile, nil
}

// Logger returns the provider's logger
func (p *Provider) Logger() *slog.Logger {
	return p.resolver.logger
}

type providerKey struct{}

// NewContext returns a context carrying the provider
func NewContext(ctx context.Context, p *Provider) context.Context {
	return context.WithValue(ctx, providerKey{}, p)
}

// FromContext returns the provider carried by ctx, if any
func FromContext(ctx context.Context) (*Provider, bool) {
	p, ok := ctx.Value(providerKey{}).(*Provider)
	return p, ok && p != nil
}

// UseSession returns the current session view of the provider in ctx.
// Calling it without a provider is a programming error and panics.
func UseSession(ctx context.Context) SessionView {
	p, ok := FromContext(ctx)
	if !ok {
		panic("courtside: UseSession called without a Provider in the context")
	}
	return p.Session()
}
