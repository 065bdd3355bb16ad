package gorm

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/panyam/courtside"
	"github.com/panyam/courtside/gateways/local"
)

// StringSlice stores a string slice as a JSON column
type StringSlice []string

func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(s))
	return string(b), err
}

func (s *StringSlice) Scan(value any) error {
	return scanJSON(value, s)
}

// SkillMap stores per-sport skill levels as a JSON column
type SkillMap map[string]courtside.SkillLevel

func (m SkillMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]courtside.SkillLevel(m))
	return string(b), err
}

func (m *SkillMap) Scan(value any) error {
	return scanJSON(value, m)
}

// the sqlite driver hands TEXT columns back as strings, other drivers as bytes
func scanJSON(value any, out any) error {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		return json.Unmarshal([]byte(v), out)
	case []byte:
		return json.Unmarshal(v, out)
	default:
		return fmt.Errorf("unsupported JSON column type %T", value)
	}
}

// AccountModel is the GORM model for accounts
type AccountModel struct {
	ID           string `gorm:"primaryKey;size:64"`
	Email        string `gorm:"uniqueIndex;size:255;not null"`
	PasswordHash string `gorm:"not null"`
	DisplayName  string
	AvatarURL    string
	Phone        string
	LastSignInAt time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (AccountModel) TableName() string { return "accounts" }

func (m *AccountModel) ToAccount() *local.Account {
	return &local.Account{
		Identity: courtside.Identity{
			ID:           m.ID,
			Email:        m.Email,
			DisplayName:  m.DisplayName,
			AvatarURL:    m.AvatarURL,
			Phone:        m.Phone,
			CreatedAt:    m.CreatedAt.UTC(),
			UpdatedAt:    m.UpdatedAt.UTC(),
			LastSignInAt: m.LastSignInAt.UTC(),
		},
		PasswordHash: m.PasswordHash,
	}
}

// ProfileModel is the GORM model for profiles
type ProfileModel struct {
	IdentityID      string `gorm:"primaryKey;size:64"`
	DisplayName     string
	Sports          StringSlice `gorm:"type:text;not null"`
	SkillLevels     SkillMap    `gorm:"type:text;not null"`
	City            string
	Region          string
	Latitude        float64
	Longitude       float64
	Bio             string
	ShowLocation    bool
	ShowSkillLevels bool
	Discoverable    bool
	Onboarded       bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (ProfileModel) TableName() string { return "profiles" }

func profileModelFrom(identityID string, fields courtside.ProfileFields) *ProfileModel {
	return &ProfileModel{
		IdentityID:      identityID,
		DisplayName:     fields.DisplayName,
		Sports:          StringSlice(fields.Sports),
		SkillLevels:     SkillMap(fields.SkillLevels),
		City:            fields.Location.City,
		Region:          fields.Location.Region,
		Latitude:        fields.Location.Latitude,
		Longitude:       fields.Location.Longitude,
		Bio:             fields.Bio,
		ShowLocation:    fields.Visibility.ShowLocation,
		ShowSkillLevels: fields.Visibility.ShowSkillLevels,
		Discoverable:    fields.Visibility.Discoverable,
		Onboarded:       fields.Onboarded,
	}
}

func (m *ProfileModel) ToProfile() *courtside.Profile {
	return &courtside.Profile{
		IdentityID:  m.IdentityID,
		DisplayName: m.DisplayName,
		Sports:      []string(m.Sports),
		SkillLevels: map[string]courtside.SkillLevel(m.SkillLevels),
		Location: courtside.Location{
			City:      m.City,
			Region:    m.Region,
			Latitude:  m.Latitude,
			Longitude: m.Longitude,
		},
		Bio: m.Bio,
		Visibility: courtside.Visibility{
			ShowLocation:    m.ShowLocation,
			ShowSkillLevels: m.ShowSkillLevels,
			Discoverable:    m.Discoverable,
		},
		Onboarded: m.Onboarded,
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
	}
}
