// Package remote implements courtside.Gateway against the hosted backend's
// HTTP API.  Tokens are obtained with the OAuth2 password grant and kept
// fresh with the refresh-token grant; the session is persisted in a
// courtside.SessionStore keyed by the backend URL.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/panyam/courtside"
)

// RefreshThreshold is how long before expiry a session is proactively refreshed
const RefreshThreshold = 5 * time.Minute

// DefaultClientID identifies this app to the token endpoint
const DefaultClientID = "courtside-mobile"

// Gateway talks to the backend over HTTP
type Gateway struct {
	baseURL    string
	oauth      *oauth2.Config
	httpClient *http.Client
	sessions   courtside.SessionStore
	logger     *slog.Logger

	refreshThreshold time.Duration

	// serializes session reads, refreshes and writes
	sessionMu sync.Mutex

	handlersMu sync.Mutex
	handlers   map[int]courtside.AuthEventHandler
	nextID     int
}

var _ courtside.Gateway = (*Gateway)(nil)

// Option configures a Gateway
type Option func(*Gateway)

// WithHTTPClient sets the HTTP client used for every request (timeouts, TLS, proxies)
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) {
		if client != nil {
			g.httpClient = client
		}
	}
}

// WithClientID sets the OAuth2 client id
func WithClientID(clientID string) Option {
	return func(g *Gateway) {
		g.oauth.ClientID = clientID
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithRefreshThreshold sets how long before expiry the session is refreshed
func WithRefreshThreshold(d time.Duration) Option {
	return func(g *Gateway) {
		g.refreshThreshold = d
	}
}

// New creates a gateway for the backend at baseURL
func New(baseURL string, sessions courtside.SessionStore, opts ...Option) (*Gateway, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend URL %q", baseURL)
	}
	baseURL = fmt.Sprintf("%s://%s", u.Scheme, u.Host)

	g := &Gateway{
		baseURL: baseURL,
		oauth: &oauth2.Config{
			ClientID: DefaultClientID,
			Endpoint: oauth2.Endpoint{
				TokenURL:  baseURL + "/auth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient:       &http.Client{Timeout: 30 * time.Second},
		sessions:         sessions,
		logger:           slog.Default(),
		refreshThreshold: RefreshThreshold,
		handlers:         make(map[int]courtside.AuthEventHandler),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// BaseURL returns the backend this gateway talks to
func (g *Gateway) BaseURL() string {
	return g.baseURL
}

// SubscribeToAuthEvents registers a handler.  Handlers run on the goroutine
// that caused the event, after the gateway has released its locks.
func (g *Gateway) SubscribeToAuthEvents(handler courtside.AuthEventHandler) courtside.Unsubscribe {
	g.handlersMu.Lock()
	defer g.handlersMu.Unlock()
	id := g.nextID
	g.nextID++
	g.handlers[id] = handler
	return func() {
		g.handlersMu.Lock()
		defer g.handlersMu.Unlock()
		delete(g.handlers, id)
	}
}

func (g *Gateway) emit(event courtside.AuthEvent, session *courtside.Session) {
	g.handlersMu.Lock()
	handlers := make([]courtside.AuthEventHandler, 0, len(g.handlers))
	for _, h := range g.handlers {
		handlers = append(handlers, h)
	}
	g.handlersMu.Unlock()

	for _, h := range handlers {
		h(event, session)
	}
}

// oauthContext makes the oauth2 package use our HTTP client
func (g *Gateway) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
}

// GetSession returns the stored session, refreshing it first when it is
// about to expire.  A session the backend refuses to refresh is discarded.
func (g *Gateway) GetSession(ctx context.Context) (*courtside.Session, error) {
	g.sessionMu.Lock()
	session, err := g.sessions.GetSession(g.baseURL)
	if err != nil {
		g.sessionMu.Unlock()
		return nil, fmt.Errorf("read session: %w", err)
	}
	if session == nil || !session.IsExpiringSoon(g.refreshThreshold) {
		g.sessionMu.Unlock()
		return session, nil
	}
	if !session.HasRefreshToken() {
		var dropErr error
		if session.IsExpired() {
			dropErr = g.dropSessionLocked()
			session = nil
		}
		g.sessionMu.Unlock()
		return session, dropErr
	}

	refreshed, err := g.refreshLocked(ctx, session)
	g.sessionMu.Unlock()
	if err != nil {
		return nil, err
	}
	if refreshed != session && refreshed != nil {
		g.emit(courtside.EventTokenRefreshed, refreshed)
	}
	return refreshed, nil
}

// refreshLocked runs the refresh-token grant.  Caller must hold sessionMu.
func (g *Gateway) refreshLocked(ctx context.Context, session *courtside.Session) (*courtside.Session, error) {
	tok, err := g.oauth.TokenSource(g.oauthContext(ctx), &oauth2.Token{RefreshToken: session.RefreshToken}).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			g.logger.Info("backend refused session refresh, discarding session",
				"error", retrieveErr.ErrorCode)
			if dropErr := g.dropSessionLocked(); dropErr != nil {
				return nil, dropErr
			}
			return nil, nil
		}
		if !session.IsExpired() {
			// still usable; try again next time
			g.logger.Warn("error refreshing session, using current token", "error", err)
			return session, nil
		}
		return nil, networkError(err)
	}

	refreshed := sessionFromToken(tok)
	if refreshed.Identity == nil {
		refreshed.Identity = session.Identity
	}
	if err := g.storeSessionLocked(refreshed); err != nil {
		return nil, err
	}
	return refreshed, nil
}

// GetCurrentIdentity returns the identity the backend associates with the current session
func (g *Gateway) GetCurrentIdentity(ctx context.Context) (*courtside.Identity, error) {
	session, err := g.GetSession(ctx)
	if err != nil || session == nil {
		return nil, err
	}

	var identity courtside.Identity
	status, err := g.doJSON(ctx, session, http.MethodGet, "/auth/user", nil, &identity)
	if err != nil {
		if status == http.StatusUnauthorized {
			return nil, nil
		}
		return nil, err
	}
	return &identity, nil
}

// SignInWithCredential runs the password grant, stores the session and emits SIGNED_IN
func (g *Gateway) SignInWithCredential(ctx context.Context, email, password string) (*courtside.Identity, error) {
	tok, err := g.oauth.PasswordCredentialsToken(g.oauthContext(ctx), email, password)
	if err != nil {
		return nil, tokenError(err)
	}

	session := sessionFromToken(tok)
	if session.Identity == nil {
		identity := courtside.Identity{Email: email}
		if _, err := g.doJSON(ctx, session, http.MethodGet, "/auth/user", nil, &identity); err != nil {
			return nil, err
		}
		session.Identity = &identity
	}

	g.sessionMu.Lock()
	err = g.storeSessionLocked(session)
	g.sessionMu.Unlock()
	if err != nil {
		return nil, err
	}

	g.emit(courtside.EventSignedIn, session)
	return session.Identity, nil
}

type signupRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

// SignUpWithCredential registers a new account and signs it in
func (g *Gateway) SignUpWithCredential(ctx context.Context, email, password string, attrs courtside.IdentityAttributes) (*courtside.Identity, error) {
	req := signupRequest{
		Email:       email,
		Password:    password,
		DisplayName: attrs.DisplayName,
		AvatarURL:   attrs.AvatarURL,
		Phone:       attrs.Phone,
	}
	status, err := g.doJSON(ctx, nil, http.MethodPost, "/auth/signup", req, nil)
	if err != nil {
		switch status {
		case http.StatusConflict:
			return nil, fmt.Errorf("%w: %v", courtside.ErrEmailTaken, err)
		case http.StatusBadRequest:
			return nil, fmt.Errorf("%w: %v", courtside.ErrInvalidCredential, err)
		}
		return nil, err
	}
	return g.SignInWithCredential(ctx, email, password)
}

// SignOut revokes the refresh token on the backend, forgets the local
// session and emits SIGNED_OUT.  The local session is cleared even when the
// backend cannot be reached; that error is returned.
func (g *Gateway) SignOut(ctx context.Context) error {
	g.sessionMu.Lock()
	session, _ := g.sessions.GetSession(g.baseURL)
	dropErr := g.dropSessionLocked()
	g.sessionMu.Unlock()

	var remoteErr error
	if session != nil {
		body := map[string]string{"refresh_token": session.RefreshToken}
		_, remoteErr = g.doJSON(ctx, session, http.MethodPost, "/auth/logout", body, nil)
	}

	g.emit(courtside.EventSignedOut, nil)
	if dropErr != nil {
		return dropErr
	}
	return remoteErr
}

// GetProfile returns the profile for an identity, or nil, nil if none exists
func (g *Gateway) GetProfile(ctx context.Context, identityID string) (*courtside.Profile, error) {
	session, err := g.GetSession(ctx)
	if err != nil {
		return nil, err
	}

	var profile courtside.Profile
	status, err := g.doJSON(ctx, session, http.MethodGet, "/profiles/"+url.PathEscape(identityID), nil, &profile)
	if err != nil {
		if status == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

// UpsertProfile creates or replaces the profile for an identity
func (g *Gateway) UpsertProfile(ctx context.Context, identityID string, fields courtside.ProfileFields) (*courtside.Profile, error) {
	session, err := g.GetSession(ctx)
	if err != nil {
		return nil, err
	}

	var profile courtside.Profile
	if _, err := g.doJSON(ctx, session, http.MethodPut, "/profiles/"+url.PathEscape(identityID), fields, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// doJSON sends a JSON request, authenticated with session's access token
// when session is not nil, and decodes a JSON response into out.  The
// status code is returned alongside any error so callers can map it.
func (g *Gateway) doJSON(ctx context.Context, session *courtside.Session, method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	client := g.httpClient
	if session != nil && session.AccessToken != "" {
		client = &http.Client{
			Timeout: g.httpClient.Timeout,
			Transport: &oauth2.Transport{
				Source: oauth2.StaticTokenSource(tokenFromSession(session)),
				Base:   g.httpClient.Transport,
			},
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, networkError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, networkError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		if resp.StatusCode == http.StatusUnauthorized {
			return resp.StatusCode, fmt.Errorf("%w: %v", courtside.ErrInvalidCredential, apiErr)
		}
		return resp.StatusCode, apiErr
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("invalid response from server: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (g *Gateway) storeSessionLocked(session *courtside.Session) error {
	if err := g.sessions.SetSession(g.baseURL, session); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	if err := g.sessions.Save(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (g *Gateway) dropSessionLocked() error {
	if err := g.sessions.RemoveSession(g.baseURL); err != nil {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	if err := g.sessions.Save(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// APIError is a non-2xx response from the backend
type APIError struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *APIError) Error() string {
	switch {
	case e.Description != "":
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Description)
	case e.Code != "":
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// tokenError classifies a token endpoint failure
func tokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		if retrieveErr.ErrorCode == "invalid_grant" || status == http.StatusUnauthorized {
			return fmt.Errorf("%w: %v", courtside.ErrInvalidCredential, err)
		}
		return fmt.Errorf("token request failed: %w", err)
	}
	return networkError(err)
}

// networkError marks transport failures as network errors, keeping timeouts distinguishable
func networkError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return fmt.Errorf("%w: %w", courtside.ErrNetworkUnavailable, err)
}

// accessClaims are the claims this app reads from an access token
type accessClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Type  string `json:"type"`
	jwt.RegisteredClaims
}

// identityFromToken reads the identity out of a JWT access token.  The
// signature is not checked: the token came straight from the token
// endpoint and the backend verifies it on every request.
func identityFromToken(accessToken string) *courtside.Identity {
	var claims accessClaims
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return nil
	}
	if claims.Subject == "" {
		return nil
	}
	identity := &courtside.Identity{
		ID:          claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.Name,
	}
	if claims.IssuedAt != nil {
		identity.LastSignInAt = claims.IssuedAt.Time
	}
	return identity
}

func sessionFromToken(tok *oauth2.Token) *courtside.Session {
	return &courtside.Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
		ExpiresAt:    tok.Expiry,
		CreatedAt:    time.Now(),
		Identity:     identityFromToken(tok.AccessToken),
	}
}

func tokenFromSession(session *courtside.Session) *oauth2.Token {
	tokenType := session.TokenType
	if tokenType == "" || strings.EqualFold(tokenType, "bearer") {
		tokenType = "Bearer"
	}
	return &oauth2.Token{
		AccessToken:  session.AccessToken,
		TokenType:    tokenType,
		RefreshToken: session.RefreshToken,
		Expiry:       session.ExpiresAt,
	}
}
