package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Event is the shared session minted when a match is accepted or a room is
// entered. Its Code doubles as the signaling group key.
type Event struct {
	ID             string         `gorm:"primaryKey" json:"id"`
	Code           string         `gorm:"size:6;not null;uniqueIndex" json:"unique_code"`
	Title          string         `json:"title"`
	OwnerID        string         `gorm:"not null;index" json:"user"`
	InvitedUserID  *string        `json:"invited_user"`
	ParticipantIDs pq.StringArray `gorm:"type:text" json:"participant_ids"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// BeforeCreate assigns a UUID when the event has none.
func (e *Event) BeforeCreate(tx *gorm.DB) (err error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return
}

// HasParticipant reports whether userID is part of the event.
func (e *Event) HasParticipant(userID string) bool {
	for _, id := range e.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}
