// Package devserver is a development backend that speaks the HTTP contract
// the remote gateway expects.  It keeps accounts and profiles in SQLite and
// issues HS256 JWT access tokens with rotating refresh tokens.
package devserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/panyam/courtside"
	"github.com/panyam/courtside/gateways/local"
)

// Store is what the server persists accounts and profiles in
type Store interface {
	local.AccountStore
	courtside.ProfileStore
}

// Config holds the server's settings
type Config struct {
	JWTSecret string
	Issuer    string

	// Defaults to 15 minutes
	AccessTokenExpiry time.Duration
	// Defaults to 30 days
	RefreshTokenExpiry time.Duration

	Clock    clockwork.Clock
	Logger   *slog.Logger
	Registry *prometheus.Registry
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.AccessTokenExpiry <= 0 {
		c.AccessTokenExpiry = 15 * time.Minute
	}
	if c.RefreshTokenExpiry <= 0 {
		c.RefreshTokenExpiry = 30 * 24 * time.Hour
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Registry == nil {
		c.Registry = prometheus.NewRegistry()
	}
}

// Server serves the backend API
type Server struct {
	store    Store
	config   Config
	clock    clockwork.Clock
	logger   *slog.Logger
	refresh  *refreshTokens
	requests *prometheus.CounterVec
	router   *mux.Router
}

// New creates a server.  JWTSecret is required.
func New(store Store, config Config) (*Server, error) {
	if config.JWTSecret == "" {
		return nil, fmt.Errorf("JWT secret is required")
	}
	config.EnsureDefaults()

	s := &Server{
		store:   store,
		config:  config,
		clock:   config.Clock,
		logger:  config.Logger,
		refresh: newRefreshTokens(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "courtside",
			Subsystem: "devserver",
			Name:      "requests_total",
			Help:      "API requests by route and status code.",
		}, []string{"route", "code"}),
	}
	if err := config.Registry.Register(s.requests); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.instrument)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "OK")
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.config.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.HandleFunc("/auth/token", s.HandleToken).Methods(http.MethodPost)
	r.HandleFunc("/auth/signup", s.HandleSignup).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", s.HandleLogout).Methods(http.MethodPost)

	api := r.NewRoute().Subrouter()
	api.Use(s.authenticate)
	api.HandleFunc("/auth/user", s.HandleUser).Methods(http.MethodGet)
	api.HandleFunc("/profiles/{id}", s.HandleGetProfile).Methods(http.MethodGet)
	api.HandleFunc("/profiles/{id}", s.HandlePutProfile).Methods(http.MethodPut)
	return r
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument counts requests by route template and logs them
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := s.clock.Now()
		next.ServeHTTP(rec, r)
		s.requests.WithLabelValues(route, fmt.Sprint(rec.status)).Inc()
		s.logger.Debug("request", "method", r.Method, "route", route, "status", rec.status,
			"duration", s.clock.Since(start))
	})
}

// tokenRequest carries both grants; fields arrive form-encoded (RFC 6749) or as JSON
type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	RefreshToken string `json:"refresh_token"`
	ClientID     string `json:"client_id"`
}

func parseTokenRequest(r *http.Request) (*tokenRequest, error) {
	var req tokenRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, err
		}
		return &req, nil
	}
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	req.GrantType = r.PostForm.Get("grant_type")
	req.Username = r.PostForm.Get("username")
	req.Password = r.PostForm.Get("password")
	req.RefreshToken = r.PostForm.Get("refresh_token")
	req.ClientID = r.PostForm.Get("client_id")
	return &req, nil
}

// HandleToken serves POST /auth/token (password and refresh_token grants)
func (s *Server) HandleToken(w http.ResponseWriter, r *http.Request) {
	req, err := parseTokenRequest(r)
	if err != nil {
		s.errorResponse(w, "invalid_request", "Invalid request body", http.StatusBadRequest)
		return
	}

	switch req.GrantType {
	case "password":
		s.handlePasswordGrant(w, r, req)
	case "refresh_token":
		s.handleRefreshTokenGrant(w, r, req)
	default:
		s.errorResponse(w, "unsupported_grant_type", "Grant type not supported", http.StatusBadRequest)
	}
}

func (s *Server) handlePasswordGrant(w http.ResponseWriter, r *http.Request, req *tokenRequest) {
	account, err := s.store.GetAccountByEmail(r.Context(), req.Username)
	if err != nil {
		s.logger.Error("error looking up account", "error", err)
		s.errorResponse(w, "server_error", "Failed to look up account", http.StatusInternalServerError)
		return
	}
	if account == nil || !local.CheckPassword(account.PasswordHash, req.Password) {
		s.errorResponse(w, "invalid_grant", "Invalid credentials", http.StatusUnauthorized)
		return
	}

	now := s.clock.Now()
	if err := s.store.RecordSignIn(r.Context(), account.Identity.ID, now); err != nil {
		s.logger.Warn("error recording sign-in", "identity", account.Identity.ID, "error", err)
	}
	account.Identity.LastSignInAt = now
	s.issueTokens(w, &account.Identity, req.ClientID)
}

func (s *Server) handleRefreshTokenGrant(w http.ResponseWriter, r *http.Request, req *tokenRequest) {
	if req.RefreshToken == "" {
		s.errorResponse(w, "invalid_request", "Refresh token required", http.StatusBadRequest)
		return
	}
	rt, ok := s.refresh.take(req.RefreshToken, s.clock.Now())
	if !ok {
		s.errorResponse(w, "invalid_grant", "Invalid or expired refresh token", http.StatusUnauthorized)
		return
	}

	account, err := s.store.GetAccount(r.Context(), rt.UserID)
	if err != nil {
		s.logger.Error("error looking up account", "error", err)
		s.errorResponse(w, "server_error", "Failed to look up account", http.StatusInternalServerError)
		return
	}
	if account == nil {
		s.errorResponse(w, "invalid_grant", "Account no longer exists", http.StatusUnauthorized)
		return
	}
	s.issueTokens(w, &account.Identity, rt.ClientID)
}

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) issueTokens(w http.ResponseWriter, identity *courtside.Identity, clientID string) {
	accessToken, expiresIn, err := s.createAccessToken(identity)
	if err != nil {
		s.logger.Error("error creating access token", "error", err)
		s.errorResponse(w, "server_error", "Failed to create token", http.StatusInternalServerError)
		return
	}
	refreshToken, err := s.refresh.issue(identity.ID, clientID, s.clock.Now().Add(s.config.RefreshTokenExpiry))
	if err != nil {
		s.logger.Error("error creating refresh token", "error", err)
		s.errorResponse(w, "server_error", "Failed to create session", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	s.jsonResponse(w, http.StatusOK, tokenPair{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
		RefreshToken: refreshToken,
	})
}

type signupRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	Phone       string `json:"phone"`
}

// HandleSignup serves POST /auth/signup
func (s *Server) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "invalid_request", "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := courtside.DefaultCredentialValidator(courtside.Credential{Email: req.Email, Password: req.Password}, true); err != nil {
		s.errorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}

	hash, err := local.HashPassword(req.Password)
	if err != nil {
		s.errorResponse(w, "server_error", "Failed to create account", http.StatusInternalServerError)
		return
	}
	now := s.clock.Now()
	account := &local.Account{
		Identity: courtside.Identity{
			ID:          uuid.NewString(),
			Email:       courtside.NormalizeEmail(req.Email),
			DisplayName: req.DisplayName,
			AvatarURL:   req.AvatarURL,
			Phone:       req.Phone,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		PasswordHash: hash,
	}
	if err := s.store.CreateAccount(r.Context(), account); err != nil {
		if errors.Is(err, courtside.ErrEmailTaken) {
			s.errorResponse(w, "email_taken", "Email is already registered", http.StatusConflict)
			return
		}
		s.logger.Error("error creating account", "error", err)
		s.errorResponse(w, "server_error", "Failed to create account", http.StatusInternalServerError)
		return
	}

	s.logger.Info("created account", "identity", account.Identity.ID)
	s.jsonResponse(w, http.StatusCreated, account.Identity)
}

// HandleLogout serves POST /auth/logout.  Unknown tokens are not an error.
func (s *Server) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		s.errorResponse(w, "invalid_request", "Refresh token required", http.StatusBadRequest)
		return
	}
	s.refresh.revoke(req.RefreshToken)
	w.WriteHeader(http.StatusNoContent)
}

// HandleUser serves GET /auth/user
func (s *Server) HandleUser(w http.ResponseWriter, r *http.Request) {
	account, err := s.store.GetAccount(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		s.logger.Error("error looking up account", "error", err)
		s.errorResponse(w, "server_error", "Failed to look up account", http.StatusInternalServerError)
		return
	}
	if account == nil {
		s.errorResponse(w, "invalid_token", "Account no longer exists", http.StatusUnauthorized)
		return
	}
	s.jsonResponse(w, http.StatusOK, account.Identity)
}

// ownProfileID returns the {id} path variable if it belongs to the caller
func (s *Server) ownProfileID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := mux.Vars(r)["id"]
	if id != userIDFrom(r.Context()) {
		s.errorResponse(w, "forbidden", "Profiles can only be accessed by their owner", http.StatusForbidden)
		return "", false
	}
	return id, true
}

// HandleGetProfile serves GET /profiles/{id}
func (s *Server) HandleGetProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := s.ownProfileID(w, r)
	if !ok {
		return
	}
	profile, err := s.store.GetProfile(r.Context(), id)
	if err != nil {
		s.logger.Error("error fetching profile", "identity", id, "error", err)
		s.errorResponse(w, "server_error", "Failed to fetch profile", http.StatusInternalServerError)
		return
	}
	if profile == nil {
		s.errorResponse(w, "not_found", "No profile", http.StatusNotFound)
		return
	}
	s.jsonResponse(w, http.StatusOK, profile)
}

// HandlePutProfile serves PUT /profiles/{id}
func (s *Server) HandlePutProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := s.ownProfileID(w, r)
	if !ok {
		return
	}
	var fields courtside.ProfileFields
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		s.errorResponse(w, "invalid_request", "Invalid request body", http.StatusBadRequest)
		return
	}
	profile, err := s.store.UpsertProfile(r.Context(), id, fields)
	if err != nil {
		s.logger.Error("error writing profile", "identity", id, "error", err)
		s.errorResponse(w, "server_error", "Failed to write profile", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, http.StatusOK, profile)
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("error writing response", "error", err)
	}
}

// errorResponse sends an OAuth 2.0 style error body
func (s *Server) errorResponse(w http.ResponseWriter, code, description string, status int) {
	s.jsonResponse(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}
