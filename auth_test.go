package courtside

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuth(t *testing.T) (*Auth, *fakeGateway, *Resolver) {
	t.Helper()
	gw := newFakeGateway()
	r := NewResolver(gw)
	t.Cleanup(r.Close)
	auth := NewAuth(gw, r)
	auth.Metrics = NewMetrics(prometheus.NewRegistry())
	return auth, gw, r
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	auth, gw, _ := newTestAuth(t)
	gw.addAccount("secret123", testIdentity("ana"), onboardedProfile("ana"))
	gw.addAccount("secret123", testIdentity("bo"), nil)

	tests := []struct {
		name     string
		cred     Credential
		wantCode ErrorCode
	}{
		{"valid", Credential{Email: "ana@example.com", Password: "secret123"}, ""},
		{"email normalized", Credential{Email: "  ANA@Example.com ", Password: "secret123"}, ""},
		{"wrong password", Credential{Email: "ana@example.com", Password: "nope"}, CodeInvalidCredential},
		{"unknown email", Credential{Email: "cy@example.com", Password: "secret123"}, CodeInvalidCredential},
		{"malformed email", Credential{Email: "not-an-email", Password: "secret123"}, CodeInvalidCredential},
		{"missing password", Credential{Email: "ana@example.com"}, CodeInvalidCredential},
		{"no profile", Credential{Email: "bo@example.com", Password: "secret123"}, CodeProfileNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, err := auth.SignIn(ctx, tt.cred)
			if tt.wantCode == "" {
				require.NoError(t, err)
				assert.Equal(t, "ana", user.Identity.ID)
				assert.Equal(t, "ana", user.Profile.IdentityID)
				return
			}
			require.Error(t, err)
			assert.Nil(t, user)
			var authErr *AuthError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, tt.wantCode, authErr.Code)
		})
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(auth.Metrics.Operations.WithLabelValues("sign_in", "ok")))
	assert.Equal(t, 4.0, testutil.ToFloat64(auth.Metrics.Operations.WithLabelValues("sign_in", string(CodeInvalidCredential))))
	assert.Equal(t, 1.0, testutil.ToFloat64(auth.Metrics.Operations.WithLabelValues("sign_in", string(CodeProfileNotFound))))
}

func TestSignInValidationSkipsGateway(t *testing.T) {
	auth, gw, _ := newTestAuth(t)
	gw.addAccount("x", &Identity{ID: "bad", Email: "bad"}, onboardedProfile("bad"))

	_, err := auth.SignIn(context.Background(), Credential{Email: "bad", Password: "x"})
	assert.Equal(t, CodeInvalidCredential, CodeOf(err))
	assert.Nil(t, gw.session)
}

func TestSignInNetworkFailure(t *testing.T) {
	auth, _, _ := newTestAuth(t)
	auth.Gateway = NullGateway{}

	_, err := auth.SignIn(context.Background(), Credential{Email: "ana@example.com", Password: "secret123"})
	require.Error(t, err)
	assert.Equal(t, CodeNetworkUnavailable, CodeOf(err))
	assert.True(t, Normalize(err).Retryable())
}

func TestSignUpCreatesPlaceholder(t *testing.T) {
	auth, gw, _ := newTestAuth(t)

	user, err := auth.SignUp(context.Background(), Credential{Email: "Ana@example.com", Password: "secret123"}, IdentityAttributes{DisplayName: "Ana"})
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", user.Identity.Email)
	require.NotNil(t, user.Profile)
	assert.True(t, user.Profile.IsPlaceholder())
	assert.Equal(t, "Ana", user.Profile.DisplayName)

	stored, err := gw.GetProfile(context.Background(), user.Identity.ID)
	require.NoError(t, err)
	assert.False(t, stored.Onboarded)
}

func TestSignUpFailures(t *testing.T) {
	ctx := context.Background()
	auth, gw, _ := newTestAuth(t)
	gw.addAccount("secret123", testIdentity("ana"), nil)

	_, err := auth.SignUp(ctx, Credential{Email: "ana@example.com", Password: "secret123"}, IdentityAttributes{})
	assert.Equal(t, CodeInvalidCredential, CodeOf(err))
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, err = auth.SignUp(ctx, Credential{Email: "bo@example.com", Password: "short"}, IdentityAttributes{})
	assert.Equal(t, CodeInvalidCredential, CodeOf(err))
	assert.Contains(t, err.Error(), "at least 6 characters")
}

func TestSignUpKeepsIdentityWhenPlaceholderFails(t *testing.T) {
	auth, gw, _ := newTestAuth(t)
	gw.upsertErr = ErrNetworkUnavailable

	user, err := auth.SignUp(context.Background(), Credential{Email: "ana@example.com", Password: "secret123"}, IdentityAttributes{})
	require.NoError(t, err)
	assert.NotNil(t, user.Identity)
	assert.Nil(t, user.Profile)
}

func TestCompleteOnboarding(t *testing.T) {
	ctx := context.Background()
	auth, _, _ := newTestAuth(t)

	data := OnboardingData{
		DisplayName: "Ana",
		Sports:      []string{"tennis", "padel"},
		SkillLevels: map[string]SkillLevel{"tennis": SkillAdvanced},
		Location:    Location{City: "Lisbon"},
		Visibility:  Visibility{Discoverable: true},
	}
	profile, err := auth.CompleteOnboarding(ctx, "ana", data)
	require.NoError(t, err)
	assert.True(t, profile.Onboarded)
	assert.Equal(t, SkillAdvanced, profile.SkillLevels["tennis"])

	// retrying with updated data is safe
	data.Bio = "weekend player"
	profile, err = auth.CompleteOnboarding(ctx, "ana", data)
	require.NoError(t, err)
	assert.Equal(t, "weekend player", profile.Bio)

	_, err = auth.CompleteOnboarding(ctx, "", data)
	assert.Equal(t, CodeInvalidCredential, CodeOf(err))
}

func TestCompleteOnboardingFailure(t *testing.T) {
	auth, gw, _ := newTestAuth(t)
	gw.upsertErr = errors.New("row level security violation")

	_, err := auth.CompleteOnboarding(context.Background(), "ana", OnboardingData{DisplayName: "Ana"})
	require.Error(t, err)
	assert.Equal(t, CodeUnknown, CodeOf(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(auth.Metrics.Operations.WithLabelValues("complete_onboarding", string(CodeUnknown))))
}

func TestSignOutAlwaysClearsState(t *testing.T) {
	auth, gw, r := newTestAuth(t)
	r.Cell().publish(completeState("ana"))
	gw.signOutErr = ErrNetworkUnavailable

	auth.SignOut(context.Background())

	state := r.State()
	assert.False(t, state.IsAuthenticated())
	assert.Nil(t, state.Profile)
	assert.Equal(t, StatusResolved, state.Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(auth.Metrics.Operations.WithLabelValues("sign_out", "ok")))
}

func TestCustomCredentialValidator(t *testing.T) {
	auth, gw, _ := newTestAuth(t)
	gw.addAccount("pw", testIdentity("ana"), onboardedProfile("ana"))
	auth.ValidateCredential = func(cred Credential, signup bool) error { return nil }

	_, err := auth.SignIn(context.Background(), Credential{Email: "ana@example.com", Password: "pw"})
	assert.NoError(t, err)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.resolution("signed_in")
		m.authEvent(EventSignedIn)
		m.redirect(GroupMain)
		m.suppressed()
		m.operation("sign_in", nil)
	})
}
