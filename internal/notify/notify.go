// Package notify pushes typed envelopes to the matchmaking sessions of a
// user.
package notify

import (
	"encoding/json"
	"peerlink/backend/internal/models"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const groupPrefix = "matchmaking_"

// Publisher is the part of the hub the notifier needs.
type Publisher interface {
	Publish(group string, payload []byte, excludeID string) int
}

// MatchmakingGroup names the group every matchmaking session of userID is
// attached to.
func MatchmakingGroup(userID string) string {
	return groupPrefix + userID
}

type Notifier struct {
	pub Publisher
	log zerolog.Logger
}

func New(pub Publisher) *Notifier {
	return &Notifier{
		pub: pub,
		log: log.Logger.With().Str("component", "notify").Logger(),
	}
}

// Send wraps data in an envelope of the given type and publishes it to every
// matchmaking session of userID. It returns how many sessions got it; a user
// with no open session is not an error.
func (n *Notifier) Send(userID string, kind models.NotificationType, data any) int {
	if n == nil || userID == "" {
		return 0
	}
	payload, err := json.Marshal(models.Envelope{Type: kind, Data: data})
	if err != nil {
		n.log.Error().Err(err).Str("type", string(kind)).Msg("failed to encode notification")
		return 0
	}
	delivered := n.pub.Publish(MatchmakingGroup(userID), payload, "")
	n.log.Debug().Str("user", userID).Str("type", string(kind)).Int("sessions", delivered).Msg("notification sent")
	return delivered
}

// Event builds the data of a notification whose inner type is name.
func Event(name string, fields map[string]any) map[string]any {
	data := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		data[k] = v
	}
	data["type"] = name
	return data
}
