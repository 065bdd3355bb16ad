package courtside

import "context"

// AuthEvent is a notification pushed by the identity provider
type AuthEvent string

const (
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	EventUserUpdated    AuthEvent = "USER_UPDATED"
)

// AuthEventHandler receives auth events.  session is nil for sign-out.
type AuthEventHandler func(event AuthEvent, session *Session)

// Unsubscribe removes a previously registered handler
type Unsubscribe func()

// IdentityProvider is the identity half of the backend
type IdentityProvider interface {
	// GetSession returns the persisted session, or nil, nil if there is none
	GetSession(ctx context.Context) (*Session, error)

	// GetCurrentIdentity returns the identity for the current session, or nil, nil
	GetCurrentIdentity(ctx context.Context) (*Identity, error)

	// SubscribeToAuthEvents registers a handler for sign-in/sign-out events.
	// Handlers may be invoked from any goroutine.
	SubscribeToAuthEvents(handler AuthEventHandler) Unsubscribe

	// SignInWithCredential authenticates and emits EventSignedIn on success
	SignInWithCredential(ctx context.Context, email, password string) (*Identity, error)

	// SignUpWithCredential creates an identity.  Providers that sign the new
	// user in immediately also emit EventSignedIn.
	SignUpWithCredential(ctx context.Context, email, password string, attrs IdentityAttributes) (*Identity, error)

	// SignOut invalidates the session and emits EventSignedOut
	SignOut(ctx context.Context) error
}

// ProfileStore is the row-level profile half of the backend
type ProfileStore interface {
	// GetProfile returns the profile for an identity, or nil, nil if none exists
	GetProfile(ctx context.Context, identityID string) (*Profile, error)

	// UpsertProfile creates or replaces the profile for an identity
	UpsertProfile(ctx context.Context, identityID string, fields ProfileFields) (*Profile, error)
}

// Gateway is everything this package needs from the backend
type Gateway interface {
	IdentityProvider
	ProfileStore
}

// NullGateway is the gateway used when no backend is configured.  It never
// has a session, never emits events, and fails every operation with
// ErrNotConfigured.
type NullGateway struct{}

var _ Gateway = NullGateway{}

func (NullGateway) GetSession(ctx context.Context) (*Session, error) {
	return nil, nil
}

func (NullGateway) GetCurrentIdentity(ctx context.Context) (*Identity, error) {
	return nil, nil
}

func (NullGateway) SubscribeToAuthEvents(handler AuthEventHandler) Unsubscribe {
	return func() {}
}

func (NullGateway) SignInWithCredential(ctx context.Context, email, password string) (*Identity, error) {
	return nil, ErrNotConfigured
}

func (NullGateway) SignUpWithCredential(ctx context.Context, email, password string, attrs IdentityAttributes) (*Identity, error) {
	return nil, ErrNotConfigured
}

func (NullGateway) SignOut(ctx context.Context) error {
	return nil
}

func (NullGateway) GetProfile(ctx context.Context, identityID string) (*Profile, error) {
	return nil, nil
}

func (NullGateway) UpsertProfile(ctx context.Context, identityID string, fields ProfileFields) (*Profile, error) {
	return nil, ErrNotConfigured
}
