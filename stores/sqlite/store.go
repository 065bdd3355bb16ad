// Package sqlite stores accounts and profiles in a SQLite database with
// hand-written SQL.  It backs the development server and implements both
// local.AccountStore and courtside.ProfileStore.
//
// OpenDB is shared with stores/gorm, which runs on the same driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"

	"github.com/panyam/courtside"
	"github.com/panyam/courtside/gateways/local"
)

// MemoryPath opens a private in-memory database
const MemoryPath = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	avatar_url TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	last_sign_in_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS profiles (
	identity_id TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	sports_json TEXT NOT NULL DEFAULT '[]',
	skill_levels_json TEXT NOT NULL DEFAULT '{}',
	city TEXT NOT NULL DEFAULT '',
	region TEXT NOT NULL DEFAULT '',
	latitude REAL NOT NULL DEFAULT 0,
	longitude REAL NOT NULL DEFAULT 0,
	bio TEXT NOT NULL DEFAULT '',
	show_location INTEGER NOT NULL DEFAULT 0,
	show_skill_levels INTEGER NOT NULL DEFAULT 0,
	discoverable INTEGER NOT NULL DEFAULT 0,
	onboarded INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// Store provides SQLite-backed persistence for accounts and profiles
type Store struct {
	sqlDB *sql.DB
	clock clockwork.Clock
}

var (
	_ local.AccountStore     = (*Store)(nil)
	_ courtside.ProfileStore = (*Store)(nil)
)

// Option configures a Store
type Option func(*Store)

// WithClock sets the clock used for created/updated timestamps
func WithClock(clock clockwork.Clock) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// OpenDB opens (creating if needed) the SQLite database at path with the
// pragmas every courtside store expects.  Use MemoryPath for a throwaway
// database.
func OpenDB(path string) (*sql.DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := path
	if path != MemoryPath {
		dsn = filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == MemoryPath {
		// every connection to :memory: is a separate database
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return sqlDB, nil
}

// Open opens the database at path and creates the schema
func Open(path string, opts ...Option) (*Store, error) {
	sqlDB, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	store := &Store{sqlDB: sqlDB, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Close releases the database
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// CreateAccount inserts a new account
func (s *Store) CreateAccount(ctx context.Context, account *local.Account) error {
	if account == nil || account.Identity.ID == "" {
		return fmt.Errorf("account id is required")
	}
	email := courtside.NormalizeEmail(account.Identity.Email)
	if email == "" {
		return fmt.Errorf("account email is required")
	}

	now := s.clock.Now()
	if account.Identity.CreatedAt.IsZero() {
		account.Identity.CreatedAt = now
	}
	account.Identity.UpdatedAt = now
	account.Identity.Email = email

	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO accounts (id, email, password_hash, display_name, avatar_url, phone, created_at, updated_at, last_sign_in_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(email) DO NOTHING`,
		account.Identity.ID,
		email,
		account.PasswordHash,
		account.Identity.DisplayName,
		account.Identity.AvatarURL,
		account.Identity.Phone,
		toMillis(account.Identity.CreatedAt),
		toMillis(account.Identity.UpdatedAt),
		toMillis(account.Identity.LastSignInAt),
	)
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	if n == 0 {
		return courtside.ErrEmailTaken
	}
	return nil
}

const accountColumns = `id, email, password_hash, display_name, avatar_url, phone, created_at, updated_at, last_sign_in_at`

// GetAccount returns the account with the given id, or nil, nil
func (s *Store) GetAccount(ctx context.Context, id string) (*local.Account, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

// GetAccountByEmail returns the account registered with email, or nil, nil
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*local.Account, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = ?`,
		courtside.NormalizeEmail(email))
	return scanAccount(row)
}

// RecordSignIn updates the account's last sign-in time
func (s *Store) RecordSignIn(ctx context.Context, id string, at time.Time) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE accounts SET last_sign_in_at = ?, updated_at = ? WHERE id = ?`,
		toMillis(at), toMillis(s.clock.Now()), id)
	if err != nil {
		return fmt.Errorf("record sign-in: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("record sign-in: account %s not found", id)
	}
	return nil
}

func scanAccount(row *sql.Row) (*local.Account, error) {
	var account local.Account
	var createdAt, updatedAt, lastSignInAt int64
	if err := row.Scan(
		&account.Identity.ID,
		&account.Identity.Email,
		&account.PasswordHash,
		&account.Identity.DisplayName,
		&account.Identity.AvatarURL,
		&account.Identity.Phone,
		&createdAt,
		&updatedAt,
		&lastSignInAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	account.Identity.CreatedAt = fromMillis(createdAt)
	account.Identity.UpdatedAt = fromMillis(updatedAt)
	account.Identity.LastSignInAt = fromMillis(lastSignInAt)
	return &account, nil
}

// GetProfile returns the profile for an identity, or nil, nil
func (s *Store) GetProfile(ctx context.Context, identityID string) (*courtside.Profile, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT identity_id, display_name, sports_json, skill_levels_json, city, region, latitude, longitude,
		        bio, show_location, show_skill_levels, discoverable, onboarded, created_at, updated_at
		 FROM profiles WHERE identity_id = ?`, identityID)

	var p courtside.Profile
	var sportsJSON, skillsJSON string
	var showLocation, showSkills, discoverable, onboarded int64
	var createdAt, updatedAt int64
	if err := row.Scan(
		&p.IdentityID,
		&p.DisplayName,
		&sportsJSON,
		&skillsJSON,
		&p.Location.City,
		&p.Location.Region,
		&p.Location.Latitude,
		&p.Location.Longitude,
		&p.Bio,
		&showLocation,
		&showSkills,
		&discoverable,
		&onboarded,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if err := json.Unmarshal([]byte(sportsJSON), &p.Sports); err != nil {
		return nil, fmt.Errorf("decode sports: %w", err)
	}
	if err := json.Unmarshal([]byte(skillsJSON), &p.SkillLevels); err != nil {
		return nil, fmt.Errorf("decode skill levels: %w", err)
	}
	p.Visibility = courtside.Visibility{
		ShowLocation:    showLocation != 0,
		ShowSkillLevels: showSkills != 0,
		Discoverable:    discoverable != 0,
	}
	p.Onboarded = onboarded != 0
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	return &p, nil
}

// UpsertProfile creates or replaces the profile for an identity.  The
// original creation time is kept.
func (s *Store) UpsertProfile(ctx context.Context, identityID string, fields courtside.ProfileFields) (*courtside.Profile, error) {
	if strings.TrimSpace(identityID) == "" {
		return nil, fmt.Errorf("identity id is required")
	}

	sports := fields.Sports
	if sports == nil {
		sports = []string{}
	}
	sportsJSON, err := json.Marshal(sports)
	if err != nil {
		return nil, fmt.Errorf("encode sports: %w", err)
	}
	skills := fields.SkillLevels
	if skills == nil {
		skills = map[string]courtside.SkillLevel{}
	}
	skillsJSON, err := json.Marshal(skills)
	if err != nil {
		return nil, fmt.Errorf("encode skill levels: %w", err)
	}

	now := toMillis(s.clock.Now())
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO profiles (identity_id, display_name, sports_json, skill_levels_json, city, region, latitude, longitude,
		                       bio, show_location, show_skill_levels, discoverable, onboarded, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(identity_id) DO UPDATE SET
		   display_name = excluded.display_name,
		   sports_json = excluded.sports_json,
		   skill_levels_json = excluded.skill_levels_json,
		   city = excluded.city,
		   region = excluded.region,
		   latitude = excluded.latitude,
		   longitude = excluded.longitude,
		   bio = excluded.bio,
		   show_location = excluded.show_location,
		   show_skill_levels = excluded.show_skill_levels,
		   discoverable = excluded.discoverable,
		   onboarded = excluded.onboarded,
		   updated_at = excluded.updated_at`,
		identityID,
		fields.DisplayName,
		string(sportsJSON),
		string(skillsJSON),
		fields.Location.City,
		fields.Location.Region,
		fields.Location.Latitude,
		fields.Location.Longitude,
		fields.Bio,
		boolToInt(fields.Visibility.ShowLocation),
		boolToInt(fields.Visibility.ShowSkillLevels),
		boolToInt(fields.Visibility.Discoverable),
		boolToInt(fields.Onboarded),
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert profile: %w", err)
	}
	return s.GetProfile(ctx, identityID)
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
