package courtside

import (
	"fmt"
	"regexp"
	"strings"
)

// MinPasswordLength is the shortest password accepted at sign-up
const MinPasswordLength = 6

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// CredentialValidator checks a credential before it is sent to the gateway
type CredentialValidator func(cred Credential, signup bool) error

// DefaultCredentialValidator requires a well-formed email and, at sign-up, a
// password of at least MinPasswordLength characters
var DefaultCredentialValidator CredentialValidator = func(cred Credential, signup bool) error {
	email := strings.TrimSpace(cred.Email)
	if email == "" || cred.Password == "" {
		return fmt.Errorf("email and password required")
	}
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format")
	}
	if signup && len(cred.Password) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	return nil
}

// NormalizeEmail lowercases and trims an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
