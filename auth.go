package courtside

import (
	"context"
	"log/slog"
)

// Auth wraps the gateway with domain-shaped sign-in, sign-up, onboarding
// and sign-out operations.  Every non-nil error it returns is an *AuthError.
//
// Auth never writes the session state itself: sign-in and sign-up reach the
// resolver through the gateway's event stream.  The exception is SignOut,
// which asks the resolver to reset before talking to the gateway.
type Auth struct {
	Gateway  Gateway
	Resolver *Resolver

	// Validates credentials before they are sent (defaults to DefaultCredentialValidator)
	ValidateCredential CredentialValidator

	Logger  *slog.Logger
	Metrics *Metrics
}

// NewAuth creates the façade for a gateway and the resolver that owns the session state
func NewAuth(gateway Gateway, resolver *Resolver) *Auth {
	if gateway == nil {
		gateway = NullGateway{}
	}
	return &Auth{
		Gateway:            gateway,
		Resolver:           resolver,
		ValidateCredential: DefaultCredentialValidator,
		Logger:             slog.Default(),
	}
}

func (a *Auth) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

func (a *Auth) validate(cred Credential, signup bool) error {
	validate := a.ValidateCredential
	if validate == nil {
		validate = DefaultCredentialValidator
	}
	if err := validate(cred, signup); err != nil {
		return NewAuthError(CodeInvalidCredential, err.Error(), nil)
	}
	return nil
}

// fail normalizes err, logs unknown failures with full detail and records the operation
func (a *Auth) fail(op string, err error) error {
	authErr := Normalize(err)
	if authErr.Code == CodeUnknown {
		a.logger().Error("auth operation failed", "operation", op, "error", err)
	} else {
		a.logger().Info("auth operation failed", "operation", op, "code", authErr.Code)
	}
	a.Metrics.operation(op, authErr)
	return authErr
}

// SignIn authenticates a user.  A valid credential without a profile row
// fails with CodeProfileNotFound so the caller can route to onboarding
// instead of showing a login error.
func (a *Auth) SignIn(ctx context.Context, cred Credential) (*User, error) {
	if err := a.validate(cred, false); err != nil {
		return nil, a.fail("sign_in", err)
	}

	identity, err := a.Gateway.SignInWithCredential(ctx, NormalizeEmail(cred.Email), cred.Password)
	if err != nil {
		return nil, a.fail("sign_in", err)
	}
	if identity == nil {
		return nil, a.fail("sign_in", ErrInvalidCredential)
	}

	profile, err := a.Gateway.GetProfile(ctx, identity.ID)
	if err != nil {
		return nil, a.fail("sign_in", err)
	}
	if profile == nil {
		return nil, a.fail("sign_in", NewAuthError(CodeProfileNotFound, "No profile for this account", nil))
	}

	a.Metrics.operation("sign_in", nil)
	return &User{Identity: identity, Profile: profile}, nil
}

// SignUp creates an identity and a placeholder profile for it.  The
// placeholder is not marked onboarded; onboarding completes it.  If the
// placeholder cannot be written the new identity is still returned, with a
// nil profile.
func (a *Auth) SignUp(ctx context.Context, cred Credential, attrs IdentityAttributes) (*User, error) {
	if err := a.validate(cred, true); err != nil {
		return nil, a.fail("sign_up", err)
	}

	identity, err := a.Gateway.SignUpWithCredential(ctx, NormalizeEmail(cred.Email), cred.Password, attrs)
	if err != nil {
		return nil, a.fail("sign_up", err)
	}
	if identity == nil {
		return nil, a.fail("sign_up", NewAuthError(CodeUnknown, "Gateway returned no identity", nil))
	}

	profile, err := a.Gateway.UpsertProfile(ctx, identity.ID, ProfileFields{
		DisplayName: attrs.DisplayName,
		Onboarded:   false,
	})
	if err != nil {
		a.logger().Warn("error creating placeholder profile", "identity", identity.ID, "error", err)
		profile = nil
	}

	a.Metrics.operation("sign_up", nil)
	return &User{Identity: identity, Profile: profile}, nil
}

// CompleteOnboarding writes the full profile for an identity.  Retrying
// with the same or updated data is safe.
func (a *Auth) CompleteOnboarding(ctx context.Context, identityID string, data OnboardingData) (*Profile, error) {
	if identityID == "" {
		return nil, a.fail("complete_onboarding", NewAuthError(CodeInvalidCredential, "identity is required", nil))
	}

	profile, err := a.Gateway.UpsertProfile(ctx, identityID, data.Fields())
	if err != nil {
		return nil, a.fail("complete_onboarding", err)
	}

	a.Metrics.operation("complete_onboarding", nil)
	return profile, nil
}

// SignOut clears the local session first, then invalidates it remotely.
// It always succeeds from the caller's point of view.
func (a *Auth) SignOut(ctx context.Context) {
	if a.Resolver != nil {
		a.Resolver.Reset()
	}
	if err := a.Gateway.SignOut(ctx); err != nil {
		a.logger().Warn("error signing out remotely, local session already cleared", "error", err)
	}
	a.Metrics.operation("sign_out", nil)
}

// RefreshSession re-runs session resolution
func (a *Auth) RefreshSession(ctx context.Context) {
	if a.Resolver != nil {
		a.Resolver.Refresh(ctx)
	}
}
