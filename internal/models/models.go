package models

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// BaseModel provides common fields and auto-generated ULID for all models
type BaseModel struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(26)"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// BeforeCreate generates a ULID for the ID field if it's empty
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = ulid.Make().String()
	}
	return nil
}

// AppUser is the application-local view of the provider's user record
type AppUser struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	DisplayName   string `json:"display_name"`
	EmailVerified bool   `json:"email_verified"`
}

// NewAppUser builds a view model, falling back to the email local part
// when the provider has no display name.
func NewAppUser(id, email, displayName string, emailVerified bool) *AppUser {
	if strings.TrimSpace(displayName) == "" {
		displayName, _, _ = strings.Cut(email, "@")
	}
	return &AppUser{
		ID:            id,
		Email:         email,
		DisplayName:   displayName,
		EmailVerified: emailVerified,
	}
}

// Clone returns a copy so subscribers never share state with the session
func (u *AppUser) Clone() *AppUser {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// Equal reports whether both users carry the same fields. Two nil users are equal.
func (u *AppUser) Equal(other *AppUser) bool {
	if u == nil || other == nil {
		return u == nil && other == nil
	}
	return *u == *other
}

// Credential is the persisted session for the single signed-in account.
// Only one row exists at a time.
type Credential struct {
	BaseModel
	UserID        string    `json:"user_id" gorm:"type:varchar(128);not null"`
	Email         string    `json:"email" gorm:"not null"`
	DisplayName   string    `json:"display_name"`
	EmailVerified bool      `json:"email_verified" gorm:"not null;default:false"`
	IDToken       string    `json:"id_token" gorm:"type:text;not null"`      // Sealed at rest by the sqlite store
	RefreshToken  string    `json:"refresh_token" gorm:"type:text;not null"` // Sealed at rest by the sqlite store
	ExpiresAt     time.Time `json:"expires_at" gorm:"not null"`
	UpdatedAt     time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// User returns the view model stored with the credential
func (c *Credential) User() *AppUser {
	return &AppUser{
		ID:            c.UserID,
		Email:         c.Email,
		DisplayName:   c.DisplayName,
		EmailVerified: c.EmailVerified,
	}
}

// SealKey holds the generated token sealing key when SESSION_KEY is not set.
// This is a singleton model (only one row should exist)
type SealKey struct {
	BaseModel
	Key string `json:"-" gorm:"type:varchar(64);not null"` // 64 hex chars
}

// AutoMigrate runs database migrations for all models
func AutoMigrate(db *gorm.DB) error {
	models := []interface{}{
		&Credential{}, &SealKey{},
	}

	return db.AutoMigrate(models...)
}
