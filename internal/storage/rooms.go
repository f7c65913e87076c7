package storage

import (
	"context"
	"peerlink/backend/internal/models"
	"time"

	"gorm.io/gorm/clause"
)

// CreateRoom inserts room. A taken room code surfaces as a conflict so the
// caller can retry with another code.
func (s *Service) CreateRoom(ctx context.Context, room *models.Room) error {
	return translate(s.db(ctx).Create(room).Error, "room code "+room.RoomCode)
}

func (s *Service) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	var room models.Room
	if err := s.db(ctx).Where("id = ?", id).First(&room).Error; err != nil {
		return nil, translate(err, "room "+id)
	}
	return &room, nil
}

func (s *Service) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	var room models.Room
	if err := s.db(ctx).Where("room_code = ?", code).First(&room).Error; err != nil {
		return nil, translate(err, "room "+code)
	}
	return &room, nil
}

func (s *Service) ListRoomsForUser(ctx context.Context, userID string) ([]models.Room, error) {
	var rooms []models.Room
	err := s.db(ctx).
		Where("user1_id = ? OR user2_id = ?", userID, userID).
		Order("last_activity desc").
		Find(&rooms).Error
	if err != nil {
		return nil, translate(err, "rooms")
	}
	return rooms, nil
}

// ClaimSecondSlot gives the free second slot of a waiting room to userID and
// activates the room. Exactly one concurrent claimant wins.
func (s *Service) ClaimSecondSlot(ctx context.Context, roomID, userID string, at time.Time) (bool, error) {
	res := s.db(ctx).Model(&models.Room{}).
		Where("id = ? AND user2_id IS NULL AND user1_id <> ? AND status = ?", roomID, userID, models.RoomWaiting).
		Updates(map[string]any{
			"user2_id":      userID,
			"status":        models.RoomActive,
			"last_activity": monotonic("last_activity", at),
			"updated_at":    at,
		})
	if res.Error != nil {
		return false, translate(res.Error, "room "+roomID)
	}
	return res.RowsAffected == 1, nil
}

// ActivateRoom moves a waiting room to active.
func (s *Service) ActivateRoom(ctx context.Context, roomID string) (bool, error) {
	res := s.db(ctx).Model(&models.Room{}).
		Where("id = ? AND status = ?", roomID, models.RoomWaiting).
		Update("status", models.RoomActive)
	if res.Error != nil {
		return false, translate(res.Error, "room "+roomID)
	}
	return res.RowsAffected == 1, nil
}

// LinkRoomSession sets the session of a room that has none yet.
func (s *Service) LinkRoomSession(ctx context.Context, roomID, sessionID string) (bool, error) {
	res := s.db(ctx).Model(&models.Room{}).
		Where("id = ? AND session_id IS NULL", roomID).
		Update("session_id", sessionID)
	if res.Error != nil {
		return false, translate(res.Error, "room "+roomID)
	}
	return res.RowsAffected == 1, nil
}

// TouchRoom bumps last_activity; it never moves backwards.
func (s *Service) TouchRoom(ctx context.Context, roomID string, at time.Time) error {
	res := s.db(ctx).Model(&models.Room{}).
		Where("id = ?", roomID).
		Update("last_activity", monotonic("last_activity", at))
	if res.Error != nil {
		return translate(res.Error, "room "+roomID)
	}
	if res.RowsAffected == 0 {
		return translate(gormNotFound, "room "+roomID)
	}
	return nil
}

// UpsertParticipant records the user as a participant of the room, updating
// the connection flag when the row already exists.
func (s *Service) UpsertParticipant(ctx context.Context, roomID, userID string, connected bool, at time.Time) error {
	p := models.RoomParticipant{
		RoomID:      roomID,
		UserID:      userID,
		JoinedAt:    at,
		IsConnected: connected,
		LastSeen:    at,
	}
	err := s.db(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_connected", "last_seen"}),
	}).Create(&p).Error
	return translate(err, "participant")
}

// SetParticipantConnected updates an existing participant row and reports
// whether one was found.
func (s *Service) SetParticipantConnected(ctx context.Context, roomID, userID string, connected bool, at time.Time) (bool, error) {
	res := s.db(ctx).Model(&models.RoomParticipant{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Updates(map[string]any{
			"is_connected": connected,
			"last_seen":    at,
		})
	if res.Error != nil {
		return false, translate(res.Error, "participant")
	}
	return res.RowsAffected == 1, nil
}

func (s *Service) GetParticipants(ctx context.Context, roomID string) ([]models.RoomParticipant, error) {
	var ps []models.RoomParticipant
	if err := s.db(ctx).Where("room_id = ?", roomID).Order("joined_at asc").Find(&ps).Error; err != nil {
		return nil, translate(err, "participants")
	}
	return ps, nil
}
