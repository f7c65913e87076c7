package models

// NotificationType is the outer envelope type pushed to matchmaking sessions.
type NotificationType string

const (
	NotifyMatchmaking  NotificationType = "matchmaking_notification"
	NotifyFriendStatus NotificationType = "friend_status_update"
	NotifyMatchStatus  NotificationType = "match_status_update"
	NotifyRoom         NotificationType = "room_notification"
)

// Envelope is the stable shape of every server-pushed notification.
type Envelope struct {
	Type NotificationType `json:"type"`
	Data any              `json:"data"`
}

// Inner event names carried in Envelope.Data["type"].
const (
	EventMatchRequest         = "match_request"
	EventMatchRequestAccepted = "match_request_accepted"
	EventMatchRequestDeclined = "match_request_declined"
	EventMatchRequestExpired  = "match_request_expired"
	EventRoomCreated          = "room_created"
	EventUserJoinedRoom       = "user_joined_room"
	EventUserLeftRoom         = "user_left_room"
)
