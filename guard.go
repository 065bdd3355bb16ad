package courtside

import "strings"

// ScreenGroup is a set of screens the guard routes between
type ScreenGroup int

const (
	GroupUnknown ScreenGroup = iota
	GroupAuth
	GroupOnboarding
	GroupMain
)

func (g ScreenGroup) String() string {
	switch g {
	case GroupAuth:
		return "auth"
	case GroupOnboarding:
		return "onboarding"
	case GroupMain:
		return "main"
	}
	return "unknown"
}

// Decision is the outcome of Decide.  The zero value means stay.
type Decision struct {
	Redirect bool
	Target   ScreenGroup
}

// Stay is the no-redirect decision
var Stay = Decision{}

// RedirectTo returns a decision to redirect to target
func RedirectTo(target ScreenGroup) Decision {
	return Decision{Redirect: true, Target: target}
}

func (d Decision) String() string {
	if !d.Redirect {
		return "stay"
	}
	return "redirect:" + d.Target.String()
}

// Decide maps the session state and the current screen group to a navigation decision.
// Rules are evaluated in order; the first match wins.
func Decide(state *SessionState, current ScreenGroup) Decision {
	switch {
	case state.IsLoading():
		return Stay
	case state.Identity == nil && current != GroupAuth:
		return RedirectTo(GroupAuth)
	case state.Identity != nil && state.Profile == nil && current != GroupOnboarding:
		return RedirectTo(GroupOnboarding)
	case state.Identity != nil && state.Profile != nil && current == GroupAuth:
		return RedirectTo(GroupMain)
	}
	return Stay
}

// Routes maps screen groups to router paths.  Groups are recognized by the
// first path segment, e.g. "/(auth)/login" is in the "(auth)" group.
type Routes struct {
	Login      string
	Onboarding string
	Main       string

	AuthSegment       string
	OnboardingSegment string
	MainSegment       string
}

// DefaultRoutes returns the app's route layout
func DefaultRoutes() Routes {
	return Routes{
		Login:             "/(auth)/login",
		Onboarding:        "/onboarding",
		Main:              "/(tabs)",
		AuthSegment:       "(auth)",
		OnboardingSegment: "onboarding",
		MainSegment:       "(tabs)",
	}
}

// RouteFor returns the landing route for a group
func (r Routes) RouteFor(group ScreenGroup) string {
	switch group {
	case GroupAuth:
		return r.Login
	case GroupOnboarding:
		return r.Onboarding
	case GroupMain:
		return r.Main
	}
	return ""
}

// GroupOf classifies a route by its first segment
func (r Routes) GroupOf(route string) ScreenGroup {
	segment, _, _ := strings.Cut(strings.TrimPrefix(route, "/"), "/")
	switch segment {
	case r.AuthSegment:
		return GroupAuth
	case r.OnboardingSegment:
		return GroupOnboarding
	case r.MainSegment:
		return GroupMain
	}
	return GroupUnknown
}
