package gorm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/panyam/courtside"
	"github.com/panyam/courtside/gateways/local"
	"github.com/panyam/courtside/stores/sqlite"
)

// AutoMigrate runs database migrations for all courtside tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&AccountModel{},
		&ProfileModel{},
	)
}

// Store implements local.AccountStore and courtside.ProfileStore using GORM
type Store struct {
	db *gorm.DB
}

var (
	_ local.AccountStore     = (*Store)(nil)
	_ courtside.ProfileStore = (*Store)(nil)
)

// New wraps an already migrated database
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Option configures Open
type Option func(*gorm.Config)

// WithClock sets the clock GORM uses for created/updated timestamps
func WithClock(clock clockwork.Clock) Option {
	return func(c *gorm.Config) {
		c.NowFunc = func() time.Time { return clock.Now().UTC() }
	}
}

// Open opens the SQLite database at path through GORM and migrates it.  Use
// sqlite.MemoryPath for a throwaway database.
func Open(path string, opts ...Option) (*Store, error) {
	sqlDB, err := sqlite.OpenDB(path)
	if err != nil {
		return nil, err
	}

	config := &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(config)
	}
	db, err := gorm.Open(&gormsqlite.Dialector{DriverName: "sqlite", Conn: sqlDB}, config)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("open gorm db: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return New(db), nil
}

// Close releases the underlying connection pool
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
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

	model := &AccountModel{
		ID:           account.Identity.ID,
		Email:        email,
		PasswordHash: account.PasswordHash,
		DisplayName:  account.Identity.DisplayName,
		AvatarURL:    account.Identity.AvatarURL,
		Phone:        account.Identity.Phone,
		LastSignInAt: account.Identity.LastSignInAt,
		CreatedAt:    account.Identity.CreatedAt,
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "email"}}, DoNothing: true}).
		Create(model)
	if res.Error != nil {
		return fmt.Errorf("create account: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return courtside.ErrEmailTaken
	}

	account.Identity.Email = email
	account.Identity.CreatedAt = model.CreatedAt
	account.Identity.UpdatedAt = model.UpdatedAt
	return nil
}

// GetAccount returns the account with the given id, or nil, nil
func (s *Store) GetAccount(ctx context.Context, id string) (*local.Account, error) {
	return s.findAccount(ctx, "id = ?", id)
}

// GetAccountByEmail returns the account registered with email, or nil, nil
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*local.Account, error) {
	return s.findAccount(ctx, "email = ?", courtside.NormalizeEmail(email))
}

func (s *Store) findAccount(ctx context.Context, query string, arg string) (*local.Account, error) {
	var model AccountModel
	if err := s.db.WithContext(ctx).First(&model, query, arg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return model.ToAccount(), nil
}

// RecordSignIn updates the account's last sign-in time
func (s *Store) RecordSignIn(ctx context.Context, id string, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&AccountModel{}).
		Where("id = ?", id).
		Update("last_sign_in_at", at.UTC())
	if res.Error != nil {
		return fmt.Errorf("record sign-in: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("record sign-in: account %s not found", id)
	}
	return nil
}

// GetProfile returns the profile for an identity, or nil, nil
func (s *Store) GetProfile(ctx context.Context, identityID string) (*courtside.Profile, error) {
	var model ProfileModel
	if err := s.db.WithContext(ctx).First(&model, "identity_id = ?", identityID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return model.ToProfile(), nil
}

// UpsertProfile creates or replaces the profile for an identity.  The
// original creation time is kept.
func (s *Store) UpsertProfile(ctx context.Context, identityID string, fields courtside.ProfileFields) (*courtside.Profile, error) {
	if strings.TrimSpace(identityID) == "" {
		return nil, fmt.Errorf("identity id is required")
	}

	model := profileModelFrom(identityID, fields)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "identity_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"display_name", "sports", "skill_levels", "city", "region", "latitude", "longitude",
				"bio", "show_location", "show_skill_levels", "discoverable", "onboarded", "updated_at",
			}),
		}).
		Create(model).Error
	if err != nil {
		return nil, fmt.Errorf("upsert profile: %w", err)
	}
	return s.GetProfile(ctx, identityID)
}
