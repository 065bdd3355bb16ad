package courtside

import "time"

// Identity is the externally authenticated principal issued by the gateway.
type Identity struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name,omitempty"`
	AvatarURL    string    `json:"avatar_url,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	LastSignInAt time.Time `json:"last_sign_in_at,omitempty"`
}

// IdentityAttributes are the optional attributes supplied at sign-up
type IdentityAttributes struct {
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

// SkillLevel is a self-reported skill level for one sport
type SkillLevel string

const (
	SkillBeginner     SkillLevel = "beginner"
	SkillIntermediate SkillLevel = "intermediate"
	SkillAdvanced     SkillLevel = "advanced"
	SkillPro          SkillLevel = "pro"
)

// Location is where a player usually plays
type Location struct {
	City      string  `json:"city,omitempty"`
	Region    string  `json:"region,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

// Visibility controls which parts of a profile other players can see
type Visibility struct {
	ShowLocation    bool `json:"show_location"`
	ShowSkillLevels bool `json:"show_skill_levels"`
	Discoverable    bool `json:"discoverable"`
}

// Profile is the application-owned onboarding record tied to an Identity.
//
// A profile with Onboarded == false is the placeholder row written at
// sign-up; it exists before the user has gone through onboarding.
type Profile struct {
	IdentityID  string                `json:"identity_id"`
	DisplayName string                `json:"display_name,omitempty"`
	Sports      []string              `json:"sports,omitempty"`
	SkillLevels map[string]SkillLevel `json:"skill_levels,omitempty"`
	Location    Location              `json:"location"`
	Bio         string                `json:"bio,omitempty"`
	Visibility  Visibility            `json:"visibility"`
	Onboarded   bool                  `json:"onboarded"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// IsPlaceholder returns true for the minimal row created at sign-up
func (p *Profile) IsPlaceholder() bool {
	return p != nil && !p.Onboarded
}

// ProfileFields is the writable part of a Profile (used for upserts)
type ProfileFields struct {
	DisplayName string                `json:"display_name,omitempty"`
	Sports      []string              `json:"sports,omitempty"`
	SkillLevels map[string]SkillLevel `json:"skill_levels,omitempty"`
	Location    Location              `json:"location"`
	Bio         string                `json:"bio,omitempty"`
	Visibility  Visibility            `json:"visibility"`
	Onboarded   bool                  `json:"onboarded"`
}

// OnboardingData is what the onboarding wizard collects
type OnboardingData struct {
	DisplayName string
	Sports      []string
	SkillLevels map[string]SkillLevel
	Location    Location
	Bio         string
	Visibility  Visibility
}

// Fields converts onboarding data into a completed profile upsert
func (d OnboardingData) Fields() ProfileFields {
	return ProfileFields{
		DisplayName: d.DisplayName,
		Sports:      d.Sports,
		SkillLevels: d.SkillLevels,
		Location:    d.Location,
		Bio:         d.Bio,
		Visibility:  d.Visibility,
		Onboarded:   true,
	}
}

// Session is a gateway-issued session: tokens plus the identity they belong to
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
	Identity     *Identity `json:"user,omitempty"`
}

// IsExpired returns true if the access token has expired
func (s *Session) IsExpired() bool {
	return !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt)
}

// IsExpiringSoon returns true if the token expires within the given duration
func (s *Session) IsExpiringSoon(within time.Duration) bool {
	return !s.ExpiresAt.IsZero() && time.Now().Add(within).After(s.ExpiresAt)
}

// HasRefreshToken returns true if a refresh token is available
func (s *Session) HasRefreshToken() bool {
	return s.RefreshToken != ""
}

// User is the domain shape handed back to the UI by sign-in and sign-up
type User struct {
	Identity *Identity
	Profile  *Profile
}

// Credential is an email/password pair
type Credential struct {
	Email    string
	Password string
}
