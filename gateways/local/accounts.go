package local

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/panyam/courtside"
)

// Account is an identity plus the secret used to sign in as it
type Account struct {
	Identity     courtside.Identity
	PasswordHash string
}

// AccountStore persists accounts for the local gateway
type AccountStore interface {
	// CreateAccount stores a new account.  Returns courtside.ErrEmailTaken
	// if the email is already registered.
	CreateAccount(ctx context.Context, account *Account) error

	// GetAccount returns an account by identity id, or nil, nil
	GetAccount(ctx context.Context, id string) (*Account, error)

	// GetAccountByEmail returns an account by normalized email, or nil, nil
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)

	// RecordSignIn sets the account's last sign-in time
	RecordSignIn(ctx context.Context, id string, at time.Time) error
}

// HashPassword hashes a password with bcrypt
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// GenerateSecureToken returns a random 64 character hex token
func GenerateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
