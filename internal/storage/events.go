package storage

import (
	"context"
	"peerlink/backend/internal/models"
)

// CreateEvent inserts event; a taken code is reported as a conflict.
func (s *Service) CreateEvent(ctx context.Context, event *models.Event) error {
	return translate(s.db(ctx).Create(event).Error, "event code "+event.Code)
}

func (s *Service) GetEventByCode(ctx context.Context, code string) (*models.Event, error) {
	var event models.Event
	if err := s.db(ctx).Where("code = ?", code).First(&event).Error; err != nil {
		return nil, translate(err, "event "+code)
	}
	return &event, nil
}

// AddEventParticipant appends userID to the event participants if missing.
// Run it inside a transaction when concurrent adds are possible.
func (s *Service) AddEventParticipant(ctx context.Context, code, userID string) (*models.Event, error) {
	event, err := s.GetEventByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if event.HasParticipant(userID) {
		return event, nil
	}
	event.ParticipantIDs = append(event.ParticipantIDs, userID)
	err = s.db(ctx).Model(event).Update("participant_ids", event.ParticipantIDs).Error
	if err != nil {
		return nil, translate(err, "event "+code)
	}
	return event, nil
}
