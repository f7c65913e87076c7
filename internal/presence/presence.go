// Package presence tracks whether users are online and open to matches, and
// tells their friends when that changes.
package presence

import (
	"context"
	"peerlink/backend/internal/models"
	"peerlink/backend/internal/notify"
	"peerlink/backend/internal/relayerr"
	"peerlink/backend/internal/storage"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Status is the presence view pushed to friends and returned by the API.
type Status struct {
	UserID              string     `json:"user_id"`
	DisplayName         string     `json:"display_name"`
	IsOnline            bool       `json:"is_online"`
	IsAvailableForMatch bool       `json:"is_available_for_match"`
	LastSeen            *time.Time `json:"last_seen"`
}

func StatusOf(u *models.User) Status {
	return Status{
		UserID:              u.ID,
		DisplayName:         u.DisplayName(),
		IsOnline:            u.IsOnline,
		IsAvailableForMatch: u.IsAvailableForMatch,
		LastSeen:            u.LastSeen,
	}
}

// Update is a partial presence change; nil fields are left alone.
type Update struct {
	IsOnline            *bool `json:"is_online"`
	IsAvailableForMatch *bool `json:"is_available_for_match"`
}

type Store struct {
	st       storage.Storage
	notifier *notify.Notifier
	now      func() time.Time
	log      zerolog.Logger
}

// NewStore creates a presence store. notifier may be nil to skip friend
// fan-out.
func NewStore(st storage.Storage, notifier *notify.Notifier) *Store {
	return &Store{
		st:       st,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log.Logger.With().Str("component", "presence").Logger(),
	}
}

func (s *Store) Get(ctx context.Context, userID string) (*models.User, error) {
	return s.st.GetUser(ctx, userID)
}

// Connect marks the user online and tells their friends.
func (s *Store) Connect(ctx context.Context, userID string) (*models.User, error) {
	u, err := s.st.SetPresence(ctx, userID, true, s.now())
	if err != nil {
		return nil, err
	}
	s.broadcast(ctx, u)
	return u, nil
}

// Heartbeat refreshes last_seen and keeps the user online.
func (s *Store) Heartbeat(ctx context.Context, userID string) (*models.User, error) {
	return s.st.SetPresence(ctx, userID, true, s.now())
}

// Disconnect marks the user offline and tells their friends.
func (s *Store) Disconnect(ctx context.Context, userID string) (*models.User, error) {
	u, err := s.st.SetPresence(ctx, userID, false, s.now())
	if err != nil {
		return nil, err
	}
	s.broadcast(ctx, u)
	return u, nil
}

// Apply changes the flags present in upd.
func (s *Store) Apply(ctx context.Context, userID string, upd Update) (*models.User, error) {
	if upd.IsOnline == nil && upd.IsAvailableForMatch == nil {
		return nil, relayerr.New(relayerr.ErrInvalidArgument, "nothing to update")
	}
	var (
		u   *models.User
		err error
	)
	if upd.IsAvailableForMatch != nil {
		if u, err = s.st.SetAvailability(ctx, userID, *upd.IsAvailableForMatch); err != nil {
			return nil, err
		}
	}
	if upd.IsOnline != nil {
		if u, err = s.st.SetPresence(ctx, userID, *upd.IsOnline, s.now()); err != nil {
			return nil, err
		}
	}
	s.broadcast(ctx, u)
	return u, nil
}

func (s *Store) Online(ctx context.Context) ([]models.User, error) {
	return s.st.ListOnlineUsers(ctx)
}

// OnlineFriends returns the friends of userID that are online.
func (s *Store) OnlineFriends(ctx context.Context, userID string) ([]models.User, error) {
	if _, err := s.st.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	ids, err := s.st.FriendIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	users, err := s.st.GetUsers(ctx, ids)
	if err != nil {
		return nil, err
	}
	online := make([]models.User, 0, len(users))
	for _, id := range ids {
		if u, ok := users[id]; ok && u.IsOnline {
			online = append(online, *u)
		}
	}
	return online, nil
}

func (s *Store) broadcast(ctx context.Context, u *models.User) {
	if s.notifier == nil {
		return
	}
	friends, err := s.st.FriendIDs(ctx, u.ID)
	if err != nil {
		s.log.Warn().Err(err).Str("user", u.ID).Msg("friend lookup failed, status not broadcast")
		return
	}
	status := StatusOf(u)
	for _, id := range friends {
		s.notifier.Send(id, models.NotifyFriendStatus, status)
	}
}
