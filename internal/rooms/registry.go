// Package rooms manages durable two-person rooms: creation by code, the
// first-writer-wins second slot, entry and leave bookkeeping.
package rooms

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

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// JoinResult is returned by Join and Enter. Joined is false on re-entry.
type JoinResult struct {
	Room      *View  `json:"room"`
	Joined    bool   `json:"joined"`
	SessionID string `json:"session_id"`
}

type Registry struct {
	st       storage.Storage
	notifier *notify.Notifier
	metrics  *metrics.Metrics
	now      func() time.Time
	log      zerolog.Logger
}

// NewRegistry creates a room registry. notifier and m may be nil.
func NewRegistry(st storage.Storage, notifier *notify.Notifier, m *metrics.Metrics) *Registry {
	if m == nil {
		m = metrics.Nop()
	}
	return &Registry{
		st:       st,
		notifier: notifier,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log.Logger.With().Str("component", "rooms").Logger(),
	}
}

// Create opens a waiting room owned by creatorID. targetUserID may be empty
// to leave the second slot open.
func (r *Registry) Create(ctx context.Context, creatorID, targetUserID, title string) (*models.Room, error) {
	if creatorID == "" {
		return nil, relayerr.New(relayerr.ErrInvalidArgument, "creator_id is required")
	}
	if creatorID == targetUserID {
		return nil, relayerr.New(relayerr.ErrInvalidArgument, "cannot invite yourself")
	}
	creator, err := r.st.GetUser(ctx, creatorID)
	if err != nil {
		return nil, err
	}
	var target *string
	if targetUserID != "" {
		if _, err := r.st.GetUser(ctx, targetUserID); err != nil {
			return nil, err
		}
		target = &targetUserID
	}
	if title == "" {
		title = creator.DisplayName() + "'s room"
	}

	now := r.now()
	for attempt := 0; attempt < config.RoomCodeAttempts; attempt++ {
		room := &models.Room{
			RoomCode:     events.GenerateCode(events.CodeAlphabet, config.RoomCodeLength),
			User1ID:      creatorID,
			User2ID:      target,
			CreatedByID:  creatorID,
			Status:       models.RoomWaiting,
			Title:        title,
			CreatedAt:    now,
			UpdatedAt:    now,
			LastActivity: now,
		}
		err := r.st.CreateRoom(ctx, room)
		if errors.Is(err, relayerr.ErrConflict) {
			r.log.Debug().Str("code", room.RoomCode).Msg("room code collision, retrying")
			continue
		}
		if err != nil {
			return nil, err
		}

		r.log.Info().Str("room", room.ID).Str("code", room.RoomCode).Str("creator", creatorID).Msg("room created")
		if target != nil {
			r.notifier.Send(*target, models.NotifyRoom, notify.Event(models.EventRoomCreated, map[string]any{
				"room":         room,
				"creator_name": creator.DisplayName(),
			}))
		}
		return room, nil
	}
	return nil, relayerr.New(relayerr.ErrConflict, "no free room code after %d attempts", config.RoomCodeAttempts)
}

// CanJoin reports whether userID may join room.
func (r *Registry) CanJoin(room *models.Room, userID string) bool {
	return room.CanJoin(userID)
}

// Join enters the room, claiming the free slot when needed.
func (r *Registry) Join(ctx context.Context, roomID, userID string) (*JoinResult, error) {
	return r.enter(ctx, roomID, userID)
}

// Enter is Join for a user opening the room view; members re-enter freely.
func (r *Registry) Enter(ctx context.Context, roomID, userID string) (*JoinResult, error) {
	return r.enter(ctx, roomID, userID)
}

type pending struct {
	userID string
	kind   models.NotificationType
	data   any
}

func (r *Registry) enter(ctx context.Context, roomID, userID string) (*JoinResult, error) {
	if userID == "" {
		return nil, relayerr.New(relayerr.ErrInvalidArgument, "user_id is required")
	}

	var (
		outbox []pending
		fresh  bool
	)
	err := r.st.Transaction(ctx, func(tx storage.Storage) error {
		outbox, fresh = nil, false

		room, err := tx.GetRoom(ctx, roomID)
		if err != nil {
			return err
		}
		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		now := r.now()

		switch {
		case room.HasMember(userID) && room.Status.IsOpen():
			if err := r.ensureSession(ctx, tx, room, userID); err != nil {
				return err
			}
			if userID != room.User1ID && room.Status == models.RoomWaiting {
				ok, err := tx.ActivateRoom(ctx, room.ID)
				if err != nil {
					return err
				}
				if ok {
					outbox = append(outbox, joinedNotice(room, user))
				}
			}

		case room.CanJoin(userID):
			ok, err := tx.ClaimSecondSlot(ctx, room.ID, userID, now)
			if err != nil {
				return err
			}
			if !ok {
				return relayerr.New(relayerr.ErrConflict, "room %s is already full", room.RoomCode)
			}
			room.User2ID = &userID
			if err := r.ensureSession(ctx, tx, room, userID); err != nil {
				return err
			}
			outbox = append(outbox, joinedNotice(room, user))

		case room.Status.IsOpen() && room.User2ID != nil:
			return relayerr.New(relayerr.ErrConflict, "room %s is already full", room.RoomCode)

		default:
			return relayerr.New(relayerr.ErrInvalidState, "room %s is %s", room.RoomCode, room.Status)
		}

		fresh, err = isFresh(ctx, tx, room.ID, userID)
		if err != nil {
			return err
		}
		if err := tx.UpsertParticipant(ctx, room.ID, userID, true, now); err != nil {
			return err
		}
		return tx.TouchRoom(ctx, room.ID, now)
	})
	if err != nil {
		return nil, err
	}

	for _, p := range outbox {
		r.notifier.Send(p.userID, p.kind, p.data)
	}
	kind := "reentry"
	if fresh {
		kind = "fresh"
	}
	r.metrics.RoomJoins.WithLabelValues(kind).Inc()

	view, err := r.Get(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	res := &JoinResult{Room: view, Joined: fresh}
	if view.SessionID != nil {
		res.SessionID = *view.SessionID
	}
	r.log.Info().Str("room", roomID).Str("user", userID).Bool("joined", fresh).Msg("room entered")
	return res, nil
}

// ensureSession makes sure the room has a shared event that includes userID.
func (r *Registry) ensureSession(ctx context.Context, tx storage.Storage, room *models.Room, userID string) error {
	if room.SessionID != nil {
		_, err := events.AddParticipant(ctx, tx, *room.SessionID, userID)
		return err
	}
	var others []string
	if other, ok := room.Other(room.User1ID); ok {
		others = append(others, other)
	}
	ev, err := events.Create(ctx, tx, room.Title, room.User1ID, others...)
	if err != nil {
		return err
	}
	ok, err := tx.LinkRoomSession(ctx, room.ID, ev.Code)
	if err != nil {
		return err
	}
	if !ok {
		// Linked concurrently; use the winner's session.
		cur, err := tx.GetRoom(ctx, room.ID)
		if err != nil {
			return err
		}
		room.SessionID = cur.SessionID
		if room.SessionID != nil {
			_, err = events.AddParticipant(ctx, tx, *room.SessionID, userID)
		}
		return err
	}
	room.SessionID = &ev.Code
	return nil
}

func isFresh(ctx context.Context, tx storage.Storage, roomID, userID string) (bool, error) {
	ps, err := tx.GetParticipants(ctx, roomID)
	if err != nil {
		return false, err
	}
	for _, p := range ps {
		if p.UserID == userID {
			return false, nil
		}
	}
	return true, nil
}

func joinedNotice(room *models.Room, user *models.User) pending {
	return pending{
		userID: room.User1ID,
		kind:   models.NotifyRoom,
		data: notify.Event(models.EventUserJoinedRoom, map[string]any{
			"room_id":    room.ID,
			"room_code":  room.RoomCode,
			"user_id":    user.ID,
			"user_name":  user.DisplayName(),
			"session_id": room.SessionID,
		}),
	}
}

// Leave marks userID disconnected from the room and tells the other member.
func (r *Registry) Leave(ctx context.Context, roomID, userID string) error {
	var room *models.Room
	var user *models.User
	err := r.st.Transaction(ctx, func(tx storage.Storage) error {
		var err error
		if room, err = tx.GetRoom(ctx, roomID); err != nil {
			return err
		}
		if user, err = tx.GetUser(ctx, userID); err != nil {
			return err
		}
		now := r.now()
		ok, err := tx.SetParticipantConnected(ctx, roomID, userID, false, now)
		if err != nil {
			return err
		}
		if !ok {
			return relayerr.New(relayerr.ErrNotFound, "user %s is not in room %s", userID, room.RoomCode)
		}
		return tx.TouchRoom(ctx, roomID, now)
	})
	if err != nil {
		return err
	}

	if other, ok := room.Other(userID); ok {
		r.notifier.Send(other, models.NotifyRoom, notify.Event(models.EventUserLeftRoom, map[string]any{
			"room_id":   room.ID,
			"room_code": room.RoomCode,
			"user_id":   userID,
			"user_name": user.DisplayName(),
		}))
	}
	r.log.Info().Str("room", roomID).Str("user", userID).Msg("room left")
	return nil
}

// MarkActivity bumps the room's last activity to now.
func (r *Registry) MarkActivity(ctx context.Context, roomID string) error {
	return r.st.TouchRoom(ctx, roomID, r.now())
}
