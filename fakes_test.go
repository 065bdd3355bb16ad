package courtside

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type fakeAccount struct {
	password string
	identity *Identity
}

// fakeGateway is an in-memory Gateway whose lookups can be held open
type fakeGateway struct {
	mu       sync.Mutex
	session  *Session
	accounts map[string]fakeAccount
	profiles map[string]*Profile
	handlers map[int]AuthEventHandler
	nextID   int

	// when set, GetSession waits for a value on hold (or ctx) before answering
	hold chan struct{}
	// when set, GetProfile waits for a value on profileHold and ignores ctx
	profileHold chan struct{}

	sessionErr error
	profileErr error
	upsertErr  error
	signOutErr error

	sessionCalls atomic.Int32
	profileCalls atomic.Int32
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		accounts: make(map[string]fakeAccount),
		profiles: make(map[string]*Profile),
		handlers: make(map[int]AuthEventHandler),
	}
}

func testIdentity(id string) *Identity {
	return &Identity{ID: id, Email: id + "@example.com", DisplayName: id}
}

func onboardedProfile(identityID string) *Profile {
	return &Profile{IdentityID: identityID, DisplayName: identityID, Sports: []string{"tennis"}, Onboarded: true}
}

func (g *fakeGateway) addAccount(password string, identity *Identity, profile *Profile) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.accounts[identity.Email] = fakeAccount{password: password, identity: identity}
	if profile != nil {
		g.profiles[identity.ID] = profile
	}
}

func (g *fakeGateway) setSession(identity *Identity) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if identity == nil {
		g.session = nil
		return
	}
	g.session = &Session{AccessToken: "token-" + identity.ID, ExpiresAt: time.Now().Add(time.Hour), Identity: identity}
}

func (g *fakeGateway) emit(event AuthEvent, session *Session) {
	g.mu.Lock()
	handlers := make([]AuthEventHandler, 0, len(g.handlers))
	for _, h := range g.handlers {
		handlers = append(handlers, h)
	}
	g.mu.Unlock()
	for _, h := range handlers {
		h(event, session)
	}
}

func (g *fakeGateway) subscribers() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.handlers)
}

func (g *fakeGateway) GetSession(ctx context.Context) (*Session, error) {
	g.sessionCalls.Add(1)
	if g.hold != nil {
		select {
		case <-g.hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session, g.sessionErr
}

func (g *fakeGateway) GetCurrentIdentity(ctx context.Context) (*Identity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session == nil {
		return nil, nil
	}
	return g.session.Identity, nil
}

func (g *fakeGateway) SubscribeToAuthEvents(handler AuthEventHandler) Unsubscribe {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextID
	g.nextID++
	g.handlers[id] = handler
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.handlers, id)
	}
}

func (g *fakeGateway) SignInWithCredential(ctx context.Context, email, password string) (*Identity, error) {
	g.mu.Lock()
	account, ok := g.accounts[email]
	if !ok || account.password != password {
		g.mu.Unlock()
		return nil, ErrInvalidCredential
	}
	g.session = &Session{AccessToken: "token-" + account.identity.ID, Identity: account.identity}
	session := g.session
	g.mu.Unlock()

	g.emit(EventSignedIn, session)
	return account.identity, nil
}

func (g *fakeGateway) SignUpWithCredential(ctx context.Context, email, password string, attrs IdentityAttributes) (*Identity, error) {
	g.mu.Lock()
	if _, ok := g.accounts[email]; ok {
		g.mu.Unlock()
		return nil, ErrEmailTaken
	}
	identity := &Identity{ID: "id-" + email, Email: email, DisplayName: attrs.DisplayName}
	g.accounts[email] = fakeAccount{password: password, identity: identity}
	g.session = &Session{AccessToken: "token-" + identity.ID, Identity: identity}
	session := g.session
	g.mu.Unlock()

	g.emit(EventSignedIn, session)
	return identity, nil
}

func (g *fakeGateway) SignOut(ctx context.Context) error {
	g.mu.Lock()
	g.session = nil
	err := g.signOutErr
	g.mu.Unlock()

	g.emit(EventSignedOut, nil)
	return err
}

func (g *fakeGateway) GetProfile(ctx context.Context, identityID string) (*Profile, error) {
	g.profileCalls.Add(1)
	if g.profileHold != nil {
		<-g.profileHold
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.profileErr != nil {
		return nil, g.profileErr
	}
	return g.profiles[identityID], nil
}

func (g *fakeGateway) UpsertProfile(ctx context.Context, identityID string, fields ProfileFields) (*Profile, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.upsertErr != nil {
		return nil, g.upsertErr
	}
	p := &Profile{
		IdentityID:  identityID,
		DisplayName: fields.DisplayName,
		Sports:      fields.Sports,
		SkillLevels: fields.SkillLevels,
		Location:    fields.Location,
		Bio:         fields.Bio,
		Visibility:  fields.Visibility,
		Onboarded:   fields.Onboarded,
	}
	g.profiles[identityID] = p
	return p, nil
}

// fakeRouter records navigations
type fakeRouter struct {
	mu      sync.Mutex
	route   string
	history []string
}

func (r *fakeRouter) CurrentRoute() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.route
}

func (r *fakeRouter) NavigateTo(route string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.route = route
	r.history = append(r.history, route)
}

func (r *fakeRouter) setRoute(route string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.route = route
}

func (r *fakeRouter) navigations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.history...)
}
