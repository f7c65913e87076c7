package matchmaking

import (
	"context"
	"encoding/json"
	"peerlink/backend/internal/metrics"
	"peerlink/backend/internal/notify"
	"peerlink/backend/internal/presence"
	"peerlink/backend/internal/relayerr"
	"peerlink/backend/internal/relayhub"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const endpoint = "matchmaking"

type messageKind int

const (
	kindUnknown messageKind = iota
	kindHeartbeat
	kindRequestMatch
	kindNotification
)

var kinds = map[string]messageKind{
	"heartbeat":     kindHeartbeat,
	"request_match": kindRequestMatch,
	"notification":  kindNotification,
}

type inbound struct {
	Type         string          `json:"type"`
	TargetUserID string          `json:"target_user_id"`
	Data         json.RawMessage `json:"data"`
}

type errorReply struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CodeUnknownType is reported for inbound messages with an unrecognized type.
const CodeUnknownType = "unknown_type"

// SessionDeps are the shared services a matchmaking session talks to.
type SessionDeps struct {
	Hub      *relayhub.Hub
	Presence *presence.Store
	Manager  *Manager
	Client   relayhub.ClientConfig
	Metrics  *metrics.Metrics
}

type session struct {
	userID string
	client *relayhub.WSClient
	deps   SessionDeps
	log    zerolog.Logger
}

// Serve runs the matchmaking session of userID on an upgraded connection and
// returns once it is closed. Unknown users are turned away with a policy
// violation close.
func Serve(ctx context.Context, conn *websocket.Conn, userID string, deps SessionDeps) {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop()
	}
	l := log.Logger.With().Str("component", "matchmaking-session").Str("user", userID).Logger()
	ctx = context.WithoutCancel(ctx)

	if _, err := deps.Presence.Get(ctx, userID); err != nil {
		l.Warn().Err(err).Msg("rejecting matchmaking session")
		relayhub.Reject(conn, websocket.ClosePolicyViolation, "unknown user")
		return
	}

	s := &session{
		userID: userID,
		client: relayhub.NewWSClient(conn, deps.Client, deps.Metrics, l),
		deps:   deps,
		log:    l,
	}
	group := notify.MatchmakingGroup(userID)

	go s.client.WritePump()
	deps.Hub.Attach(group, s.client)
	deps.Metrics.Sessions.WithLabelValues(endpoint).Inc()
	if _, err := deps.Presence.Connect(ctx, userID); err != nil {
		l.Error().Err(err).Msg("failed to mark user online")
	}
	l.Info().Str("session", s.client.ID()).Msg("matchmaking session opened")

	defer func() {
		deps.Hub.Detach(group, s.client)
		s.client.Close()
		deps.Metrics.Sessions.WithLabelValues(endpoint).Dec()
		// Other tabs of the same user keep them online.
		if deps.Hub.Members(group) == 0 {
			if _, err := deps.Presence.Disconnect(ctx, userID); err != nil {
				l.Error().Err(err).Msg("failed to mark user offline")
			}
		}
		l.Info().Str("session", s.client.ID()).Msg("matchmaking session closed")
	}()

	s.client.ReadLoop(func(frame []byte) { s.handle(ctx, frame) })
}

func (s *session) handle(ctx context.Context, frame []byte) {
	var msg inbound
	if err := json.Unmarshal(frame, &msg); err != nil {
		s.deps.Metrics.DroppedFrames.WithLabelValues(metrics.DropMalformed).Inc()
		s.log.Warn().Err(err).Msg("invalid JSON frame dropped")
		return
	}
	if msg.Type == "" {
		s.deps.Metrics.DroppedFrames.WithLabelValues(metrics.DropMissingType).Inc()
		s.log.Warn().Msg("frame without type dropped")
		return
	}

	switch kinds[msg.Type] {
	case kindHeartbeat:
		if _, err := s.deps.Presence.Heartbeat(ctx, s.userID); err != nil {
			s.log.Warn().Err(err).Msg("heartbeat presence refresh failed")
		}
		s.reply(map[string]any{
			"type":      "heartbeat_response",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})

	case kindRequestMatch:
		req, err := s.deps.Manager.Create(ctx, s.userID, msg.TargetUserID)
		if err != nil {
			s.replyError(relayerr.Code(err), err.Error())
			return
		}
		s.reply(map[string]any{"type": "match_request_sent", "request": req})

	case kindNotification:
		s.reply(map[string]any{"type": "notification", "data": msg.Data})

	default:
		s.log.Warn().Str("type", msg.Type).Msg("unknown message type")
		s.replyError(CodeUnknownType, "unknown message type "+msg.Type)
	}
}

func (s *session) reply(v any) {
	if err := s.client.SendJSON(v); err != nil {
		s.log.Debug().Err(err).Msg("reply dropped")
	}
}

func (s *session) replyError(code, message string) {
	s.reply(errorReply{Type: "error", Code: code, Message: message})
}
