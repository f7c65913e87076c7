package rooms_test

import (
	"context"
	"fmt"
	"peerlink/backend/internal/models"
	"peerlink/backend/internal/notify"
	"peerlink/backend/internal/relayerr"
	"peerlink/backend/internal/relayhub"
	"peerlink/backend/internal/relayhub/relayhubtest"
	"peerlink/backend/internal/rooms"
	"peerlink/backend/internal/storage"
	"peerlink/backend/internal/storage/storagetest"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*storage.Service, *relayhub.Hub, *rooms.Registry) {
	st := storagetest.New(t)
	hub := relayhub.NewHub(nil)
	return st, hub, rooms.NewRegistry(st, notify.New(hub), nil)
}

func inbox(hub *relayhub.Hub, userID string) *relayhubtest.Recorder {
	return relayhubtest.Attach(hub, notify.MatchmakingGroup(userID))
}

func TestCreate(t *testing.T) {
	st, hub, reg := setup(t)
	ctx := context.Background()
	ann := storagetest.User(t, st, "Ann", true)
	bob := storagetest.User(t, st, "Bob", true)
	bobInbox := inbox(hub, bob.ID)

	room, err := reg.Create(ctx, ann.ID, bob.ID, "")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[A-Z0-9]{6}$`), room.RoomCode)
	assert.Equal(t, models.RoomWaiting, room.Status)
	assert.Equal(t, "Ann Tester's room", room.Title)
	require.NotNil(t, room.User2ID)

	msg := bobInbox.Next(t)
	assert.Equal(t, "room_notification", msg["type"])
	assert.Equal(t, "room_created", msg["data"].(map[string]any)["type"])

	_, err = reg.Create(ctx, ann.ID, ann.ID, "x")
	assert.ErrorIs(t, err, relayerr.ErrInvalidArgument)
	_, err = reg.Create(ctx, "ghost", "", "x")
	assert.ErrorIs(t, err, relayerr.ErrNotFound)
	_, err = reg.Create(ctx, ann.ID, "ghost", "x")
	assert.ErrorIs(t, err, relayerr.ErrNotFound)
}

func TestJoin_OpenSlotNotifiesCreator(t *testing.T) {
	st, hub, reg := setup(t)
	ctx := context.Background()
	ann := storagetest.User(t, st, "Ann", true)
	bob := storagetest.User(t, st, "Bob", true)

	room, err := reg.Create(ctx, ann.ID, "", "Study")
	require.NoError(t, err)

	first, err := reg.Enter(ctx, room.ID, ann.ID)
	require.NoError(t, err)
	assert.True(t, first.Joined)
	require.NotEmpty(t, first.SessionID)
	assert.Equal(t, models.RoomWaiting, first.Room.Status)

	annInbox := inbox(hub, ann.ID)
	res, err := reg.Join(ctx, room.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, res.Joined)
	assert.Equal(t, models.RoomActive, res.Room.Status)
	require.NotNil(t, res.Room.User2ID)
	assert.Equal(t, bob.ID, *res.Room.User2ID)
	assert.Equal(t, first.SessionID, res.SessionID)
	assert.True(t, res.Room.IsUserInRoom)
	assert.Equal(t, "Bob Tester", res.Room.User2Name)

	msg := annInbox.Next(t)
	assert.Equal(t, "room_notification", msg["type"])
	data := msg["data"].(map[string]any)
	assert.Equal(t, "user_joined_room", data["type"])
	assert.Equal(t, bob.ID, data["user_id"])

	ev, err := st.GetEventByCode(ctx, res.SessionID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{ann.ID, bob.ID}, []string(ev.ParticipantIDs))

	again, err := reg.Enter(ctx, room.ID, bob.ID)
	require.NoError(t, err)
	assert.False(t, again.Joined)
	assert.Empty(t, annInbox.Drain(t))
}

func TestJoin_ConcurrentClaimsOneWinner(t *testing.T) {
	st, _, reg := setup(t)
	ctx := context.Background()
	ann := storagetest.User(t, st, "Ann", true)
	room, err := reg.Create(ctx, ann.ID, "", "Race")
	require.NoError(t, err)

	const n = 8
	users := make([]*models.User, n)
	for i := range users {
		users[i] = storagetest.User(t, st, fmt.Sprintf("U%d", i), true)
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range users {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = reg.Join(ctx, room.ID, users[i].ID)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		assert.ErrorIs(t, err, relayerr.ErrConflict)
	}
	assert.Equal(t, 1, winners)

	got, err := st.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomActive, got.Status)
}

func TestEnter_PreassignedGuestActivatesRoom(t *testing.T) {
	st, hub, reg := setup(t)
	ctx := context.Background()
	ann := storagetest.User(t, st, "Ann", true)
	bob := storagetest.User(t, st, "Bob", true)
	eve := storagetest.User(t, st, "Eve", true)

	room, err := reg.Create(ctx, ann.ID, bob.ID, "Invite")
	require.NoError(t, err)

	_, err = reg.Join(ctx, room.ID, eve.ID)
	assert.ErrorIs(t, err, relayerr.ErrConflict)

	annInbox := inbox(hub, ann.ID)
	res, err := reg.Enter(ctx, room.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomActive, res.Room.Status)
	assert.Equal(t, "user_joined_room", annInbox.Next(t)["data"].(map[string]any)["type"])

	res, err = reg.Enter(ctx, room.ID, ann.ID)
	require.NoError(t, err)
	assert.True(t, res.Joined)
	ev, err := st.GetEventByCode(ctx, res.SessionID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{ann.ID, bob.ID}, []string(ev.ParticipantIDs))
}

func TestEnter_ClosedRoom(t *testing.T) {
	st, _, reg := setup(t)
	ctx := context.Background()
	ann := storagetest.User(t, st, "Ann", true)
	bob := storagetest.User(t, st, "Bob", true)
	room, err := reg.Create(ctx, ann.ID, "", "Done")
	require.NoError(t, err)
	require.NoError(t, st.DB.Model(&models.Room{}).Where("id = ?", room.ID).Update("status", models.RoomCancelled).Error)

	_, err = reg.Enter(ctx, room.ID, ann.ID)
	assert.ErrorIs(t, err, relayerr.ErrInvalidState)
	_, err = reg.Join(ctx, room.ID, bob.ID)
	assert.ErrorIs(t, err, relayerr.ErrInvalidState)
	_, err = reg.Join(ctx, "missing", bob.ID)
	assert.ErrorIs(t, err, relayerr.ErrNotFound)
}

func TestLeave(t *testing.T) {
	st, hub, reg := setup(t)
	ctx := context.Background()
	ann := storagetest.User(t, st, "Ann", true)
	bob := storagetest.User(t, st, "Bob", true)
	room, err := reg.Create(ctx, ann.ID, "", "Chat")
	require.NoError(t, err)
	_, err = reg.Enter(ctx, room.ID, ann.ID)
	require.NoError(t, err)
	_, err = reg.Join(ctx, room.ID, bob.ID)
	require.NoError(t, err)

	bobInbox := inbox(hub, bob.ID)
	require.NoError(t, reg.Leave(ctx, room.ID, ann.ID))

	msg := bobInbox.Next(t)
	assert.Equal(t, "user_left_room", msg["data"].(map[string]any)["type"])

	view, err := reg.Get(ctx, room.ID, ann.ID)
	require.NoError(t, err)
	assert.False(t, view.IsUserInRoom)
	assert.Len(t, view.Participants, 2)

	eve := storagetest.User(t, st, "Eve", true)
	assert.ErrorIs(t, reg.Leave(ctx, room.ID, eve.ID), relayerr.ErrNotFound)
}

func TestViews(t *testing.T) {
	st, _, reg := setup(t)
	ctx := context.Background()
	ann := storagetest.User(t, st, "Ann", true)
	bob := storagetest.User(t, st, "Bob", true)
	room, err := reg.Create(ctx, ann.ID, "", "Open")
	require.NoError(t, err)
	other, err := reg.Create(ctx, bob.ID, ann.ID, "Invite")
	require.NoError(t, err)

	view, err := reg.GetByCode(ctx, room.RoomCode, bob.ID)
	require.NoError(t, err)
	assert.True(t, view.CanJoin)
	assert.False(t, view.IsUserInRoom)
	assert.Equal(t, "Ann Tester", view.User1Name)
	assert.True(t, reg.CanJoin(&view.Room, bob.ID))

	list, err := reg.ListForUser(ctx, ann.ID)
	require.NoError(t, err)
	ids := []string{}
	for _, v := range list {
		ids = append(ids, v.ID)
	}
	assert.ElementsMatch(t, []string{room.ID, other.ID}, ids)

	require.NoError(t, reg.MarkActivity(ctx, room.ID))
	_, err = reg.ListForUser(ctx, "ghost")
	assert.ErrorIs(t, err, relayerr.ErrNotFound)
}
