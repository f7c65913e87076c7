package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is the directory record owned by the accounts service. The relay only
// writes the presence columns (IsOnline, IsAvailableForMatch, LastSeen).
type User struct {
	ID        string `gorm:"primaryKey" json:"id"`
	Email     string `gorm:"index" json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`

	IsOnline            bool       `gorm:"not null;default:false;index" json:"is_online"`
	IsAvailableForMatch bool       `gorm:"not null" json:"is_available_for_match"`
	LastSeen            *time.Time `json:"last_seen"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewUser returns a user that is offline but open to match requests.
func NewUser(email, firstName, lastName string) *User {
	return &User{
		Email:               email,
		FirstName:           firstName,
		LastName:            lastName,
		IsAvailableForMatch: true,
	}
}

// BeforeCreate generates a UUID for the user when none was assigned.
func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return
}

// DisplayName returns "First Last", falling back to the email local part and
// finally to the id.
func (u *User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	if at := strings.IndexByte(u.Email, '@'); at > 0 {
		return u.Email[:at]
	}
	return u.ID
}

// CanBeMatched reports whether the user may receive a match request.
func (u *User) CanBeMatched() bool {
	return u.IsOnline && u.IsAvailableForMatch
}

// AccessType mirrors the direction recorded on a grant.
type AccessType string

const (
	AccessGranter AccessType = "granter"
	AccessGrantee AccessType = "grantee"
)

// UserGrant links two users. An active grant in either direction makes them
// friends for presence fan-out.
type UserGrant struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	GranterID  string     `gorm:"not null;uniqueIndex:idx_grant_pair" json:"granter_id"`
	GranteeID  string     `gorm:"not null;uniqueIndex:idx_grant_pair;index" json:"grantee_id"`
	AccessType AccessType `gorm:"size:7;not null" json:"access_type"`
	IsActive   bool       `gorm:"not null" json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
