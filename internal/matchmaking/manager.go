// Package matchmaking owns the request lifecycle between two users and the
// websocket session that carries match traffic for one user.
package matchmaking

import (
	"context"
	"errors"
	"peerlink/backend/internal/config"
	"peerlink/backend/internal/events"
	"peerlink/backend/internal/metrics"
	"peerlink/backend/internal/models"
	"peerlink/backend/internal/notify"
	"peerlink/backend/internal/relayerr"
	"peerlink/backend/internal/storage"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Action answers a pending request.
type Action string

const (
	ActionAccept  Action = "accept"
	ActionDecline Action = "decline"
)

// StatusAction reports progress on an accepted match.
type StatusAction string

const (
	StatusEnterRoom StatusAction = "enter_room"
	StatusLeaveRoom StatusAction = "leave_room"
	StatusComplete  StatusAction = "complete"
)

// RequestList splits the requests of a user by direction.
type RequestList struct {
	Sent     []models.MatchmakingRequest `json:"sent"`
	Received []models.MatchmakingRequest `json:"received"`
}

type Manager struct {
	st       storage.Storage
	notifier *notify.Notifier
	metrics  *metrics.Metrics
	ttl      time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

// NewManager creates a request manager. notifier and m may be nil.
func NewManager(st storage.Storage, notifier *notify.Notifier, m *metrics.Metrics, ttl time.Duration) *Manager {
	if m == nil {
		m = metrics.Nop()
	}
	if ttl <= 0 {
		ttl = config.RequestTTL
	}
	return &Manager{
		st:       st,
		notifier: notifier,
		metrics:  m,
		ttl:      ttl,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log.Logger.With().Str("component", "matchmaking").Logger(),
	}
}

// Create opens a pending request from requesterID to targetUserID.
func (m *Manager) Create(ctx context.Context, requesterID, targetUserID string) (*models.MatchmakingRequest, error) {
	if requesterID == "" || targetUserID == "" {
		return nil, relayerr.New(relayerr.ErrInvalidArgument, "requester and target are required")
	}
	if requesterID == targetUserID {
		return nil, relayerr.New(relayerr.ErrInvalidArgument, "cannot send a match request to yourself")
	}

	users, err := m.st.GetUsers(ctx, []string{requesterID, targetUserID})
	if err != nil {
		return nil, err
	}
	requester, ok := users[requesterID]
	if !ok {
		return nil, relayerr.New(relayerr.ErrNotFound, "user %s not found", requesterID)
	}
	target, ok := users[targetUserID]
	if !ok {
		return nil, relayerr.New(relayerr.ErrNotFound, "user %s not found", targetUserID)
	}
	if !target.CanBeMatched() {
		return nil, relayerr.New(relayerr.ErrNotAvailable, "user %s is not available for matching", targetUserID)
	}

	// A stale pending request for the pair must not block a new one.
	if _, err := m.ExpireOverdue(ctx, requesterID); err != nil {
		return nil, err
	}

	now := m.now()
	expires := now.Add(m.ttl)
	req := &models.MatchmakingRequest{
		RequesterID:  requesterID,
		TargetUserID: targetUserID,
		Status:       models.RequestPending,
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    &expires,
		SessionID:    uuid.New().String(),
	}
	if err := m.st.CreateRequest(ctx, req); err != nil {
		if errors.Is(err, relayerr.ErrConflict) {
			return nil, relayerr.New(relayerr.ErrConflict, "a pending request to %s already exists", targetUserID)
		}
		return nil, err
	}
	m.metrics.RequestChanges.WithLabelValues(string(models.RequestPending)).Inc()
	m.log.Info().Str("request", req.ID).Str("requester", requesterID).Str("target", targetUserID).Msg("match request created")

	m.notifier.Send(targetUserID, models.NotifyMatchmaking, notify.Event(models.EventMatchRequest, map[string]any{
		"request":        req,
		"requester_id":   requester.ID,
		"requester_name": requester.DisplayName(),
	}))
	return req, nil
}

// Act accepts or declines a pending request. Accepting mints the shared
// session and stores its code as the request's session id.
func (m *Manager) Act(ctx context.Context, id string, action Action) (*models.MatchmakingRequest, error) {
	var to models.RequestStatus
	switch action {
	case ActionAccept:
		to = models.RequestAccepted
	case ActionDecline:
		to = models.RequestDeclined
	default:
		return nil, relayerr.New(relayerr.ErrInvalidArgument, "unknown action %q", action)
	}

	req, err := m.st.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != models.RequestPending {
		return nil, relayerr.New(relayerr.ErrInvalidState, "request is %s", req.Status)
	}
	if req.IsExpired(m.now()) {
		m.expire(ctx, *req)
		return nil, relayerr.New(relayerr.ErrInvalidState, "request has expired")
	}

	if !req.Status.CanTransitionTo(to) {
		return nil, relayerr.New(relayerr.ErrInvalidState, "request is %s", req.Status)
	}
	err = m.st.Transaction(ctx, func(tx storage.Storage) error {
		sessionID := ""
		if to == models.RequestAccepted {
			ev, err := events.Create(ctx, tx, "Match", req.RequesterID, req.TargetUserID)
			if err != nil {
				return err
			}
			sessionID = ev.Code
		}
		ok, err := tx.TransitionRequest(ctx, id, models.RequestPending, to, sessionID, m.now())
		if err != nil {
			return err
		}
		if !ok {
			return relayerr.New(relayerr.ErrInvalidState, "request is no longer pending or has expired")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	req, err = m.st.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	m.metrics.RequestChanges.WithLabelValues(string(to)).Inc()
	m.log.Info().Str("request", id).Str("status", string(to)).Msg("match request answered")

	name := models.EventMatchRequestDeclined
	if to == models.RequestAccepted {
		name = models.EventMatchRequestAccepted
	}
	m.notifier.Send(req.RequesterID, models.NotifyMatchmaking, notify.Event(name, map[string]any{
		"request":    req,
		"session_id": req.SessionID,
	}))
	return req, nil
}

// UpdateStatus records room progress reported by one of the two participants.
func (m *Manager) UpdateStatus(ctx context.Context, id string, action StatusAction, userID string) (*models.MatchmakingRequest, error) {
	req, err := m.st.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.Involves(userID) {
		return nil, relayerr.New(relayerr.ErrInvalidArgument, "user %s is not part of request %s", userID, id)
	}

	switch action {
	case StatusEnterRoom:
		if req.Status != models.RequestInProgress {
			if err := m.transition(ctx, req, models.RequestAccepted, models.RequestInProgress); err != nil {
				return nil, err
			}
		}
	case StatusLeaveRoom:
		return req, nil
	case StatusComplete:
		if err := m.transition(ctx, req, models.RequestInProgress, models.RequestCompleted); err != nil {
			return nil, err
		}
	default:
		return nil, relayerr.New(relayerr.ErrInvalidArgument, "unknown status action %q", action)
	}

	if req, err = m.st.GetRequest(ctx, id); err != nil {
		return nil, err
	}
	m.notifier.Send(req.Other(userID), models.NotifyMatchStatus, map[string]any{
		"request_id": req.ID,
		"status":     req.Status,
		"action":     action,
		"user_id":    userID,
		"session_id": req.SessionID,
	})
	return req, nil
}

// transition applies from -> to. Losing a race to the same target status is
// not an error.
func (m *Manager) transition(ctx context.Context, req *models.MatchmakingRequest, from, to models.RequestStatus) error {
	if !from.CanTransitionTo(to) {
		return relayerr.New(relayerr.ErrInvalidState, "cannot move a request from %s to %s", from, to)
	}
	if req.Status != from {
		return relayerr.New(relayerr.ErrInvalidState, "request is %s, expected %s", req.Status, from)
	}
	ok, err := m.st.TransitionRequest(ctx, req.ID, from, to, "", m.now())
	if err != nil {
		return err
	}
	if ok {
		m.metrics.RequestChanges.WithLabelValues(string(to)).Inc()
		return nil
	}
	cur, err := m.st.GetRequest(ctx, req.ID)
	if err != nil {
		return err
	}
	if cur.Status == to {
		return nil
	}
	return relayerr.New(relayerr.ErrInvalidState, "request is %s, expected %s", cur.Status, from)
}

// ListFor returns the requests sent and received by userID after expiring
// the overdue ones.
func (m *Manager) ListFor(ctx context.Context, userID string) (*RequestList, error) {
	if userID == "" {
		return nil, relayerr.New(relayerr.ErrInvalidArgument, "user_id is required")
	}
	if _, err := m.ExpireOverdue(ctx, userID); err != nil {
		return nil, err
	}
	reqs, err := m.st.ListRequestsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	list := &RequestList{
		Sent:     []models.MatchmakingRequest{},
		Received: []models.MatchmakingRequest{},
	}
	for _, r := range reqs {
		if r.RequesterID == userID {
			list.Sent = append(list.Sent, r)
		} else {
			list.Received = append(list.Received, r)
		}
	}
	return list, nil
}

// ExpireOverdue expires every overdue pending request, or only those
// involving userIDs, and returns how many this call expired.
func (m *Manager) ExpireOverdue(ctx context.Context, userIDs ...string) (int, error) {
	overdue, err := m.st.OverdueRequests(ctx, m.now(), userIDs...)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, req := range overdue {
		if m.expire(ctx, req) {
			n++
		}
	}
	return n, nil
}

// expire flips req to expired and notifies both users. It reports false when
// another caller got there first.
func (m *Manager) expire(ctx context.Context, req models.MatchmakingRequest) bool {
	ok, err := m.st.ExpireRequest(ctx, req.ID, m.now())
	if err != nil {
		m.log.Error().Err(err).Str("request", req.ID).Msg("failed to expire request")
		return false
	}
	if !ok {
		return false
	}
	m.metrics.RequestChanges.WithLabelValues(string(models.RequestExpired)).Inc()
	m.log.Debug().Str("request", req.ID).Msg("match request expired")

	req.Status = models.RequestExpired
	req.PendingKey = nil
	data := notify.Event(models.EventMatchRequestExpired, map[string]any{"request": req})
	m.notifier.Send(req.RequesterID, models.NotifyMatchmaking, data)
	m.notifier.Send(req.TargetUserID, models.NotifyMatchmaking, data)
	return true
}
