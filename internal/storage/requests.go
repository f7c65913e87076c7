package storage

import (
	"context"
	"peerlink/backend/internal/models"
	"time"
)

// CreateRequest inserts a pending request. A second pending request for the
// same ordered pair fails with a conflict.
func (s *Service) CreateRequest(ctx context.Context, req *models.MatchmakingRequest) error {
	if req.Status == models.RequestPending {
		key := models.PairKey(req.RequesterID, req.TargetUserID)
		req.PendingKey = &key
	}
	return translate(s.db(ctx).Create(req).Error, "pending request")
}

func (s *Service) GetRequest(ctx context.Context, id string) (*models.MatchmakingRequest, error) {
	var req models.MatchmakingRequest
	if err := s.db(ctx).Where("id = ?", id).First(&req).Error; err != nil {
		return nil, translate(err, "request "+id)
	}
	return &req, nil
}

// TransitionRequest moves the request from one status to another only if it
// is still in from. Leaving pending also requires the deadline to be after
// now, so an expired request can never be answered. sessionID is written when
// not empty. The result reports whether this call performed the transition.
func (s *Service) TransitionRequest(ctx context.Context, id string, from, to models.RequestStatus, sessionID string, now time.Time) (bool, error) {
	updates := map[string]any{
		"status":      to,
		"pending_key": nil,
		"updated_at":  now,
	}
	if sessionID != "" {
		updates["session_id"] = sessionID
	}
	q := s.db(ctx).Model(&models.MatchmakingRequest{}).
		Where("id = ? AND status = ?", id, from)
	if from == models.RequestPending {
		q = q.Where("(expires_at IS NULL OR expires_at > ?)", now)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, translate(res.Error, "request "+id)
	}
	return res.RowsAffected == 1, nil
}

// ExpireRequest flips an overdue pending request to expired. Only one caller
// can win for a given request.
func (s *Service) ExpireRequest(ctx context.Context, id string, now time.Time) (bool, error) {
	res := s.db(ctx).Model(&models.MatchmakingRequest{}).
		Where("id = ? AND status = ? AND expires_at <= ?", id, models.RequestPending, now).
		Updates(map[string]any{
			"status":      models.RequestExpired,
			"pending_key": nil,
			"updated_at":  now,
		})
	if res.Error != nil {
		return false, translate(res.Error, "request "+id)
	}
	return res.RowsAffected == 1, nil
}

// OverdueRequests lists pending requests past their deadline, optionally only
// those involving one of userIDs.
func (s *Service) OverdueRequests(ctx context.Context, now time.Time, userIDs ...string) ([]models.MatchmakingRequest, error) {
	q := s.db(ctx).
		Where("status = ? AND expires_at <= ?", models.RequestPending, now)
	if len(userIDs) > 0 {
		q = q.Where("(requester_id IN ? OR target_user_id IN ?)", userIDs, userIDs)
	}
	var reqs []models.MatchmakingRequest
	if err := q.Order("expires_at asc").Find(&reqs).Error; err != nil {
		return nil, translate(err, "overdue requests")
	}
	return reqs, nil
}

// ListRequestsForUser returns every request the user sent or received, newest
// first.
func (s *Service) ListRequestsForUser(ctx context.Context, userID string) ([]models.MatchmakingRequest, error) {
	var reqs []models.MatchmakingRequest
	err := s.db(ctx).
		Where("requester_id = ? OR target_user_id = ?", userID, userID).
		Order("created_at desc").
		Find(&reqs).Error
	if err != nil {
		return nil, translate(err, "requests")
	}
	return reqs, nil
}
