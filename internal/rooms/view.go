package rooms

import (
	"context"
	"peerlink/backend/internal/models"
	"time"
)

// Participant is a room participant with their display name.
type Participant struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	IsConnected bool      `json:"is_connected"`
	JoinedAt    time.Time `json:"joined_at"`
	LastSeen    time.Time `json:"last_seen"`
}

// View is a room as seen by one user. The extra fields are computed per
// request and never stored.
type View struct {
	models.Room
	User1Name    string        `json:"user1_name"`
	User2Name    string        `json:"user2_name,omitempty"`
	CanJoin      bool          `json:"can_join"`
	IsUserInRoom bool          `json:"is_user_in_room"`
	Participants []Participant `json:"participants"`
}

func (r *Registry) Get(ctx context.Context, roomID, viewerID string) (*View, error) {
	room, err := r.st.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return r.view(ctx, room, viewerID)
}

func (r *Registry) GetByCode(ctx context.Context, code, viewerID string) (*View, error) {
	room, err := r.st.GetRoomByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return r.view(ctx, room, viewerID)
}

// ListForUser returns the rooms where userID holds a slot, most recently
// active first.
func (r *Registry) ListForUser(ctx context.Context, userID string) ([]View, error) {
	if _, err := r.st.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	list, err := r.st.ListRoomsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := make([]View, 0, len(list))
	for i := range list {
		v, err := r.view(ctx, &list[i], userID)
		if err != nil {
			return nil, err
		}
		views = append(views, *v)
	}
	return views, nil
}

func (r *Registry) view(ctx context.Context, room *models.Room, viewerID string) (*View, error) {
	ps, err := r.st.GetParticipants(ctx, room.ID)
	if err != nil {
		return nil, err
	}

	ids := []string{room.User1ID}
	if room.User2ID != nil {
		ids = append(ids, *room.User2ID)
	}
	for _, p := range ps {
		ids = append(ids, p.UserID)
	}
	users, err := r.st.GetUsers(ctx, ids)
	if err != nil {
		return nil, err
	}
	name := func(id string) string {
		if u, ok := users[id]; ok {
			return u.DisplayName()
		}
		return id
	}

	v := &View{
		Room:         *room,
		User1Name:    name(room.User1ID),
		CanJoin:      room.CanJoin(viewerID),
		Participants: make([]Participant, 0, len(ps)),
	}
	if room.User2ID != nil {
		v.User2Name = name(*room.User2ID)
	}
	for _, p := range ps {
		v.Participants = append(v.Participants, Participant{
			UserID:      p.UserID,
			DisplayName: name(p.UserID),
			IsConnected: p.IsConnected,
			JoinedAt:    p.JoinedAt,
			LastSeen:    p.LastSeen,
		})
		if p.UserID == viewerID && p.IsConnected {
			v.IsUserInRoom = true
		}
	}
	return v, nil
}
