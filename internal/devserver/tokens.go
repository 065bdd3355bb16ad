package devserver

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/panyam/courtside"
	"github.com/panyam/courtside/gateways/local"
)

// refreshToken is an issued, not yet rotated, refresh token
type refreshToken struct {
	UserID    string
	ClientID  string
	ExpiresAt time.Time
}

// refreshTokens is an in-memory refresh token table.  Tokens are single use:
// a refresh rotates the token and the old one stops working.
type refreshTokens struct {
	mu     sync.Mutex
	tokens map[string]refreshToken
}

func newRefreshTokens() *refreshTokens {
	return &refreshTokens{tokens: make(map[string]refreshToken)}
}

func (t *refreshTokens) issue(userID, clientID string, expiresAt time.Time) (string, error) {
	token, err := local.GenerateSecureToken()
	if err != nil {
		return "", err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens[token] = refreshToken{UserID: userID, ClientID: clientID, ExpiresAt: expiresAt}
	return token, nil
}

// take removes and returns a refresh token if it exists and has not expired
func (t *refreshTokens) take(token string, now time.Time) (refreshToken, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rt, ok := t.tokens[token]
	if !ok {
		return refreshToken{}, false
	}
	delete(t.tokens, token)
	if now.After(rt.ExpiresAt) {
		return refreshToken{}, false
	}
	return rt, true
}

func (t *refreshTokens) revoke(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tokens, token)
}

// createAccessToken signs an HS256 access token carrying the identity
func (s *Server) createAccessToken(identity *courtside.Identity) (string, int64, error) {
	now := s.clock.Now()
	claims := jwt.MapClaims{
		"sub":   identity.ID,
		"email": identity.Email,
		"name":  identity.DisplayName,
		"type":  "access",
		"iat":   now.Unix(),
		"exp":   now.Add(s.config.AccessTokenExpiry).Unix(),
	}
	if s.config.Issuer != "" {
		claims["iss"] = s.config.Issuer
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, int64(s.config.AccessTokenExpiry.Seconds()), nil
}

// validateAccessToken checks an access token and returns its subject
func (s *Server) validateAccessToken(tokenString string) (string, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
	}
	if s.config.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(s.config.Issuer))
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return []byte(s.config.JWTSecret), nil
	}, parserOpts...)
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid claims")
	}
	if tokenType, ok := claims["type"].(string); !ok || tokenType != "access" {
		return "", fmt.Errorf("invalid token type")
	}
	userID, ok := claims["sub"].(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("missing subject")
	}
	return userID, nil
}

type contextKey string

const contextKeyUserID contextKey = "user_id"

func userIDFrom(ctx context.Context) string {
	userID, _ := ctx.Value(contextKeyUserID).(string)
	return userID
}

// authenticate requires a valid bearer access token and puts its subject in the request context
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			s.errorResponse(w, "invalid_token", "Missing bearer token", http.StatusUnauthorized)
			return
		}
		userID, err := s.validateAccessToken(strings.TrimSpace(token))
		if err != nil {
			s.logger.Debug("rejecting access token", "error", err)
			s.errorResponse(w, "invalid_token", "Invalid or expired token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKeyUserID, userID)))
	})
}
