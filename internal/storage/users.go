package storage

import (
	"context"
	"peerlink/backend/internal/models"
	"time"

	"gorm.io/gorm/clause"
)

const onlineSetKey = "presence:online"

func (s *Service) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.db(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, translate(err, "user "+id)
	}
	return &user, nil
}

// GetUsers loads the users that exist among ids, keyed by id.
func (s *Service) GetUsers(ctx context.Context, ids []string) (map[string]*models.User, error) {
	out := make(map[string]*models.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []models.User
	if err := s.db(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, translate(err, "users")
	}
	for i := range users {
		out[users[i].ID] = &users[i]
	}
	return out, nil
}

func (s *Service) SaveUser(ctx context.Context, user *models.User) error {
	return translate(s.db(ctx).Save(user).Error, "user")
}

// SetPresence records the online flag and moves last_seen forward, never
// back.
func (s *Service) SetPresence(ctx context.Context, userID string, online bool, at time.Time) (*models.User, error) {
	res := s.db(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"is_online":  online,
			"last_seen":  monotonic("last_seen", at),
			"updated_at": at,
		})
	if res.Error != nil {
		return nil, translate(res.Error, "user "+userID)
	}
	if res.RowsAffected == 0 {
		return nil, translate(gormNotFound, "user "+userID)
	}
	s.mirrorOnline(ctx, userID, online)
	return s.GetUser(ctx, userID)
}

func (s *Service) SetAvailability(ctx context.Context, userID string, available bool) (*models.User, error) {
	res := s.db(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("is_available_for_match", available)
	if res.Error != nil {
		return nil, translate(res.Error, "user "+userID)
	}
	if res.RowsAffected == 0 {
		return nil, translate(gormNotFound, "user "+userID)
	}
	return s.GetUser(ctx, userID)
}

// mirrorOnline keeps the Redis online set in step with the database. Redis is
// advisory; failures are logged only.
func (s *Service) mirrorOnline(ctx context.Context, userID string, online bool) {
	if s.Redis == nil {
		return
	}
	var err error
	if online {
		err = s.Redis.SAdd(ctx, onlineSetKey, userID).Err()
	} else {
		err = s.Redis.SRem(ctx, onlineSetKey, userID).Err()
	}
	if err != nil {
		s.log.Warn().Err(err).Str("user", userID).Msg("failed to update online set")
	}
}

// ListOnlineUsers returns users flagged online in the database. The Redis
// online set is refilled from the result, so a flushed or restarted Redis
// catches up on the next read.
func (s *Service) ListOnlineUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := s.db(ctx).
		Where("is_online = ?", true).
		Order("last_seen desc").
		Find(&users).Error
	if err != nil {
		return nil, translate(err, "online users")
	}
	s.resyncOnline(ctx, users)
	return users, nil
}

func (s *Service) resyncOnline(ctx context.Context, users []models.User) {
	if s.Redis == nil || len(users) == 0 {
		return
	}
	ids := make([]any, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	if err := s.Redis.SAdd(ctx, onlineSetKey, ids...).Err(); err != nil {
		s.log.Warn().Err(err).Msg("failed to resync online set")
	}
}

// ResetPresence marks every user offline and clears the online set.
func (s *Service) ResetPresence(ctx context.Context, at time.Time) (int64, error) {
	res := s.db(ctx).Model(&models.User{}).
		Where("is_online = ?", true).
		Updates(map[string]any{
			"is_online": false,
			"last_seen": monotonic("last_seen", at),
		})
	if res.Error != nil {
		return 0, translate(res.Error, "presence")
	}
	if s.Redis != nil {
		if err := s.Redis.Del(ctx, onlineSetKey).Err(); err != nil {
			s.log.Warn().Err(err).Msg("failed to clear online set")
		}
	}
	return res.RowsAffected, nil
}

// FriendIDs returns users linked to userID by an active grant in either
// direction.
func (s *Service) FriendIDs(ctx context.Context, userID string) ([]string, error) {
	var grants []models.UserGrant
	err := s.db(ctx).
		Where("is_active = ?", true).
		Where("granter_id = ? OR grantee_id = ?", userID, userID).
		Find(&grants).Error
	if err != nil {
		return nil, translate(err, "grants")
	}
	seen := make(map[string]bool, len(grants))
	ids := make([]string, 0, len(grants))
	for _, g := range grants {
		other := g.GranteeID
		if other == userID {
			other = g.GranterID
		}
		if other == userID || seen[other] {
			continue
		}
		seen[other] = true
		ids = append(ids, other)
	}
	return ids, nil
}

// SaveGrant creates the grant or reactivates an existing one.
func (s *Service) SaveGrant(ctx context.Context, granterID, granteeID string) (*models.UserGrant, error) {
	grant := models.UserGrant{
		GranterID:  granterID,
		GranteeID:  granteeID,
		AccessType: models.AccessGranter,
		IsActive:   true,
	}
	err := s.db(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "granter_id"}, {Name: "grantee_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_active", "updated_at"}),
	}).Create(&grant).Error
	if err != nil {
		return nil, translate(err, "grant")
	}
	var saved models.UserGrant
	err = s.db(ctx).
		Where("granter_id = ? AND grantee_id = ?", granterID, granteeID).
		First(&saved).Error
	if err != nil {
		return nil, translate(err, "grant")
	}
	return &saved, nil
}
