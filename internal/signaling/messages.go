package signaling

import "encoding/json"

// Kind classifies an inbound signaling frame.
type Kind int

const (
	// KindForward is any type the relay does not interpret; the frame goes
	// to the rest of the group unchanged.
	KindForward Kind = iota
	KindPing
	KindCheckRoom
)

const (
	typePing      = "ping"
	typePong      = "pong"
	typeCheckRoom = "check-room"
	typeJoined    = "user-joined"
)

var (
	pongFrame   = []byte(`{"type":"` + typePong + `"}`)
	joinedFrame = []byte(`{"type":"` + typeJoined + `"}`)
)

// envelope is the only part of a frame the relay reads.
type envelope struct {
	Type *string `json:"type"`
}

// Classify decodes the frame header. ok is false for frames that are not a
// JSON object with a string type.
func Classify(frame []byte) (kind Kind, msgType string, ok bool) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil || env.Type == nil || *env.Type == "" {
		return KindForward, "", false
	}
	switch *env.Type {
	case typePing:
		return KindPing, typePing, true
	case typeCheckRoom:
		return KindCheckRoom, typeCheckRoom, true
	}
	return KindForward, *env.Type, true
}
