// Package signaling relays WebRTC negotiation frames between the peers of
// one event.
package signaling

import (
	"encoding/json"
	"peerlink/backend/internal/metrics"
	"peerlink/backend/internal/relayhub"
	"regexp"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const endpoint = "signaling"

var codePattern = regexp.MustCompile(`^\w{1,64}$`)

// Group returns the hub group of an event code.
func Group(eventCode string) string {
	return "webrtc_" + eventCode
}

// ValidCode reports whether eventCode can name a signaling group.
func ValidCode(eventCode string) bool {
	return codePattern.MatchString(eventCode)
}

type SessionDeps struct {
	Hub     *relayhub.Hub
	Client  relayhub.ClientConfig
	Metrics *metrics.Metrics
}

// Serve runs a signaling session on an upgraded connection and returns once
// it is closed. A bad event code closes the connection with a policy
// violation before anything is attached.
func Serve(conn *websocket.Conn, eventCode string, deps SessionDeps) {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop()
	}
	l := log.Logger.With().Str("component", "signaling-session").Str("event", eventCode).Logger()

	if !ValidCode(eventCode) {
		l.Warn().Msg("rejecting signaling session with invalid event code")
		relayhub.Reject(conn, websocket.ClosePolicyViolation, "invalid event code")
		return
	}

	group := Group(eventCode)
	client := relayhub.NewWSClient(conn, deps.Client, deps.Metrics, l)
	go client.WritePump()
	deps.Hub.Attach(group, client)
	deps.Metrics.Sessions.WithLabelValues(endpoint).Inc()
	l.Info().Str("session", client.ID()).Msg("signaling session opened")

	defer func() {
		deps.Hub.Detach(group, client)
		client.Close()
		deps.Metrics.Sessions.WithLabelValues(endpoint).Dec()
		l.Info().Str("session", client.ID()).Msg("signaling session closed")
	}()

	client.ReadLoop(func(frame []byte) {
		handle(deps, group, client, frame, l)
	})
}

func handle(deps SessionDeps, group string, client *relayhub.WSClient, frame []byte, l zerolog.Logger) {
	kind, msgType, ok := Classify(frame)
	if !ok {
		reason := metrics.DropMissingType
		if !json.Valid(frame) {
			reason = metrics.DropMalformed
		}
		deps.Metrics.DroppedFrames.WithLabelValues(reason).Inc()
		l.Warn().Str("reason", reason).Msg("signaling frame dropped")
		return
	}

	switch kind {
	case KindPing:
		if err := client.Deliver(pongFrame); err != nil {
			l.Debug().Err(err).Msg("pong dropped")
		}
	case KindCheckRoom:
		deps.Hub.Publish(group, joinedFrame, client.ID())
	default:
		n := deps.Hub.Publish(group, frame, client.ID())
		l.Debug().Str("type", msgType).Int("peers", n).Msg("frame relayed")
	}
}
