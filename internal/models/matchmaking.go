package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RequestStatus is the lifecycle state of a MatchmakingRequest.
type RequestStatus string

const (
	RequestPending    RequestStatus = "pending"
	RequestAccepted   RequestStatus = "accepted"
	RequestDeclined   RequestStatus = "declined"
	RequestExpired    RequestStatus = "expired"
	RequestInProgress RequestStatus = "in_progress"
	RequestCompleted  RequestStatus = "completed"
)

var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestPending:    {RequestAccepted, RequestDeclined, RequestExpired},
	RequestAccepted:   {RequestInProgress},
	RequestInProgress: {RequestCompleted},
}

// IsTerminal reports whether no transition may leave s.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestDeclined || s == RequestExpired || s == RequestCompleted
}

// CanTransitionTo reports whether s -> next is a legal lifecycle step.
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	for _, allowed := range requestTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// MatchmakingRequest is an invite from one user to another that precedes a
// shared session.
type MatchmakingRequest struct {
	ID           string        `gorm:"primaryKey" json:"id"`
	RequesterID  string        `gorm:"not null;index" json:"requester_id"`
	TargetUserID string        `gorm:"not null;index" json:"target_user_id"`
	Status       RequestStatus `gorm:"size:12;not null;index" json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	ExpiresAt    *time.Time    `gorm:"index" json:"expires_at"`
	SessionID    string        `gorm:"size:255" json:"session_id"`

	// PendingKey is "requester:target" while the request is pending and NULL
	// otherwise; the unique index allows one pending request per ordered pair.
	PendingKey *string `gorm:"uniqueIndex" json:"-"`
}

// BeforeCreate assigns a UUID when the request has none.
func (r *MatchmakingRequest) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return
}

// PairKey returns the pending-uniqueness key for an ordered pair.
func PairKey(requesterID, targetUserID string) string {
	return requesterID + ":" + targetUserID
}

// IsExpired reports whether a pending request has outlived its deadline.
func (r *MatchmakingRequest) IsExpired(now time.Time) bool {
	return r.Status == RequestPending && r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// Involves reports whether userID is the requester or the target.
func (r *MatchmakingRequest) Involves(userID string) bool {
	return userID != "" && (r.RequesterID == userID || r.TargetUserID == userID)
}

// Other returns the participant that is not userID.
func (r *MatchmakingRequest) Other(userID string) string {
	if r.RequesterID == userID {
		return r.TargetUserID
	}
	return r.RequesterID
}
