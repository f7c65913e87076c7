package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RoomStatus is the lifecycle state of a Room.
type RoomStatus string

const (
	RoomWaiting   RoomStatus = "waiting"
	RoomActive    RoomStatus = "active"
	RoomCompleted RoomStatus = "completed"
	RoomCancelled RoomStatus = "cancelled"
)

// IsOpen reports whether members may still enter a room in this state.
func (s RoomStatus) IsOpen() bool {
	return s == RoomWaiting || s == RoomActive
}

// Room is a durable 1:1 match container. It outlives the connections of its
// members.
type Room struct {
	ID           string     `gorm:"primaryKey" json:"id"`
	RoomCode     string     `gorm:"size:16;not null;uniqueIndex" json:"room_code"`
	User1ID      string     `gorm:"not null;index" json:"user1_id"`
	User2ID      *string    `gorm:"index" json:"user2_id"`
	CreatedByID  string     `gorm:"not null" json:"created_by_id"`
	Status       RoomStatus `gorm:"size:10;not null;index" json:"status"`
	Title        string     `json:"title"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastActivity time.Time  `json:"last_activity"`
	SessionID    *string    `json:"session_id"`
}

// BeforeCreate assigns a UUID when the room has none.
func (r *Room) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return
}

// HasMember reports whether userID holds one of the two slots.
func (r *Room) HasMember(userID string) bool {
	if userID == "" {
		return false
	}
	return r.User1ID == userID || (r.User2ID != nil && *r.User2ID == userID)
}

// CanJoin reports whether userID may join: the room is waiting and either the
// second slot is free or the user already holds a slot.
func (r *Room) CanJoin(userID string) bool {
	if r.Status != RoomWaiting {
		return false
	}
	return r.User2ID == nil || r.HasMember(userID)
}

// Other returns the member that is not userID, if the room has one.
func (r *Room) Other(userID string) (string, bool) {
	if r.User1ID == userID {
		if r.User2ID == nil {
			return "", false
		}
		return *r.User2ID, true
	}
	if r.HasMember(userID) {
		return r.User1ID, true
	}
	return "", false
}

// RoomParticipant tracks live membership, independent of the slot
// assignment on Room.
type RoomParticipant struct {
	ID          uint      `gorm:"primaryKey" json:"-"`
	RoomID      string    `gorm:"not null;uniqueIndex:idx_room_user" json:"room_id"`
	UserID      string    `gorm:"not null;uniqueIndex:idx_room_user;index" json:"user_id"`
	JoinedAt    time.Time `json:"joined_at"`
	IsConnected bool      `gorm:"not null" json:"is_connected"`
	LastSeen    time.Time `json:"last_seen"`
}
