package matchmaking

import (
	"context"
	"peerlink/backend/internal/metrics"
	"peerlink/backend/internal/models"
	"peerlink/backend/internal/notify"
	"peerlink/backend/internal/relayerr"
	"peerlink/backend/internal/relayhub"
	"peerlink/backend/internal/relayhub/relayhubtest"
	"peerlink/backend/internal/storage"
	"peerlink/backend/internal/storage/storagetest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	st      *storage.Service
	hub     *relayhub.Hub
	mgr     *Manager
	metrics *metrics.Metrics
	clock   time.Time
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		st:      storagetest.New(t),
		hub:     relayhub.NewHub(nil),
		metrics: metrics.Nop(),
		clock:   time.Now().UTC(),
	}
	f.mgr = NewManager(f.st, notify.New(f.hub), f.metrics, 2*time.Minute)
	f.mgr.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) inbox(userID string) *relayhubtest.Recorder {
	return relayhubtest.Attach(f.hub, notify.MatchmakingGroup(userID))
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ann := storagetest.User(t, f.st, "Ann", true)
	bob := storagetest.User(t, f.st, "Bob", false)

	_, err := f.mgr.Create(ctx, ann.ID, ann.ID)
	assert.ErrorIs(t, err, relayerr.ErrInvalidArgument)

	_, err = f.mgr.Create(ctx, ann.ID, "")
	assert.ErrorIs(t, err, relayerr.ErrInvalidArgument)

	_, err = f.mgr.Create(ctx, ann.ID, "ghost")
	assert.ErrorIs(t, err, relayerr.ErrNotFound)

	_, err = f.mgr.Create(ctx, ann.ID, bob.ID)
	assert.ErrorIs(t, err, relayerr.ErrNotAvailable)

	_, err = f.st.SetPresence(ctx, bob.ID, true, f.clock)
	require.NoError(t, err)
	_, err = f.st.SetAvailability(ctx, bob.ID, false)
	require.NoError(t, err)
	_, err = f.mgr.Create(ctx, ann.ID, bob.ID)
	assert.ErrorIs(t, err, relayerr.ErrNotAvailable)
}

func TestCreate_PendingAndConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ann := storagetest.User(t, f.st, "Ann", true)
	bob := storagetest.User(t, f.st, "Bob", true)
	bobInbox := f.inbox(bob.ID)

	req, err := f.mgr.Create(ctx, ann.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestPending, req.Status)
	require.NotNil(t, req.ExpiresAt)
	assert.True(t, req.ExpiresAt.Equal(f.clock.Add(2*time.Minute)))
	assert.NotEmpty(t, req.SessionID)

	msg := bobInbox.Next(t)
	assert.Equal(t, "matchmaking_notification", msg["type"])
	data := msg["data"].(map[string]any)
	assert.Equal(t, "match_request", data["type"])
	assert.Equal(t, "Ann Tester", data["requester_name"])

	_, err = f.mgr.Create(ctx, ann.ID, bob.ID)
	assert.ErrorIs(t, err, relayerr.ErrConflict)

	// Once the first one is overdue, a new request replaces it.
	f.clock = f.clock.Add(3 * time.Minute)
	again, err := f.mgr.Create(ctx, ann.ID, bob.ID)
	require.NoError(t, err)
	assert.NotEqual(t, req.ID, again.ID)

	old, err := f.st.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestExpired, old.Status)
}

func TestAct_AcceptMintsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ann := storagetest.User(t, f.st, "Ann", true)
	bob := storagetest.User(t, f.st, "Bob", true)
	annInbox := f.inbox(ann.ID)

	req, err := f.mgr.Create(ctx, ann.ID, bob.ID)
	require.NoError(t, err)

	got, err := f.mgr.Act(ctx, req.ID, ActionAccept)
	require.NoError(t, err)
	assert.Equal(t, models.RequestAccepted, got.Status)
	assert.Len(t, got.SessionID, 6)

	ev, err := f.st.GetEventByCode(ctx, got.SessionID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{ann.ID, bob.ID}, []string(ev.ParticipantIDs))

	msg := annInbox.Next(t)
	data := msg["data"].(map[string]any)
	assert.Equal(t, "match_request_accepted", data["type"])
	assert.Equal(t, got.SessionID, data["session_id"])

	_, err = f.mgr.Act(ctx, req.ID, ActionAccept)
	assert.ErrorIs(t, err, relayerr.ErrInvalidState, "a request is accepted once")
	_, err = f.mgr.Act(ctx, req.ID, ActionDecline)
	assert.ErrorIs(t, err, relayerr.ErrInvalidState)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RequestChanges.WithLabelValues("accepted")))

	again, err := f.st.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, got.SessionID, again.SessionID, "a second accept must not mint another session")
}

func TestAct_DeadlinePassesDuringAccept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ann := storagetest.User(t, f.st, "Ann", true)
	bob := storagetest.User(t, f.st, "Bob", true)

	req, err := f.mgr.Create(ctx, ann.ID, bob.ID)
	require.NoError(t, err)
	deadline := *req.ExpiresAt

	// The first reading passes the expiry check; by the time the row is
	// updated the deadline is behind us.
	calls := 0
	f.mgr.now = func() time.Time {
		calls++
		if calls == 1 {
			return deadline.Add(-time.Second)
		}
		return deadline.Add(time.Second)
	}

	_, err = f.mgr.Act(ctx, req.ID, ActionAccept)
	assert.ErrorIs(t, err, relayerr.ErrInvalidState)

	got, err := f.st.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestPending, got.Status)
	assert.Equal(t, req.SessionID, got.SessionID)

	n, err := f.mgr.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTransition_FollowsLifecycleTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ann := storagetest.User(t, f.st, "Ann", true)
	bob := storagetest.User(t, f.st, "Bob", true)

	req, err := f.mgr.Create(ctx, ann.ID, bob.ID)
	require.NoError(t, err)
	req, err = f.mgr.Act(ctx, req.ID, ActionAccept)
	require.NoError(t, err)

	err = f.mgr.transition(ctx, req, models.RequestAccepted, models.RequestCompleted)
	assert.ErrorIs(t, err, relayerr.ErrInvalidState, "accepted requests are entered before they complete")
	err = f.mgr.transition(ctx, req, models.RequestAccepted, models.RequestPending)
	assert.ErrorIs(t, err, relayerr.ErrInvalidState)

	got, err := f.st.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestAccepted, got.Status)

	require.NoError(t, f.mgr.transition(ctx, req, models.RequestAccepted, models.RequestInProgress))
}

func TestAct_Decline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ann := storagetest.User(t, f.st, "Ann", true)
	bob := storagetest.User(t, f.st, "Bob", true)
	annInbox := f.inbox(ann.ID)

	req, err := f.mgr.Create(ctx, ann.ID, bob.ID)
	require.NoError(t, err)

	got, err := f.mgr.Act(ctx, req.ID, ActionDecline)
	require.NoError(t, err)
	assert.Equal(t, models.RequestDeclined, got.Status)
	assert.Equal(t, "match_request_declined", annInbox.Next(t)["data"].(map[string]any)["type"])

	_, err = f.mgr.Act(ctx, req.ID, "maybe")
	assert.ErrorIs(t, err, relayerr.ErrInvalidArgument)
	_, err = f.mgr.Act(ctx, "missing", ActionAccept)
	assert.ErrorIs(t, err, relayerr.ErrNotFound)
}

func TestAct_ExpiredRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ann := storagetest.User(t, f.st, "Ann", true)
	bob := storagetest.User(t, f.st, "Bob", true)

	req, err := f.mgr.Create(ctx, ann.ID, bob.ID)
	require.NoError(t, err)
	annInbox := f.inbox(ann.ID)
	bobInbox := f.inbox(bob.ID)

	f.clock = f.clock.Add(2*time.Minute + time.Second)
	_, err = f.mgr.Act(ctx, req.ID, ActionAccept)
	assert.ErrorIs(t, err, relayerr.ErrInvalidState)

	got, err := f.st.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestExpired, got.Status)

	// The expiry was announced once to each side.
	assert.Len(t, annInbox.Drain(t), 1)
	assert.Len(t, bobInbox.Drain(t), 1)

	_, err = f.mgr.Act(ctx, req.ID, ActionAccept)
	assert.ErrorIs(t, err, relayerr.ErrInvalidState)
	assert.Empty(t, annInbox.Drain(t))
}

func TestAct_ConcurrentAcceptDecline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ann := storagetest.User(t, f.st, "Ann", true)
	bob := storagetest.User(t, f.st, "Bob", true)
	req, err := f.mgr.Create(ctx, ann.ID, bob.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, action := range []Action{ActionAccept, ActionDecline} {
		wg.Add(1)
		go func(i int, action Action) {
			defer wg.Done()
			_, errs[i] = f.mgr.Act(ctx, req.ID, action)
		}(i, action)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, relayerr.ErrInvalidState)
		}
	}
	assert.Equal(t, 1, succeeded)
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ann := storagetest.User(t, f.st, "Ann", true)
	bob := storagetest.User(t, f.st, "Bob", true)
	cid := storagetest.User(t, f.st, "Cid", true)

	req, err := f.mgr.Create(ctx, ann.ID, bob.ID)
	require.NoError(t, err)

	_, err = f.mgr.UpdateStatus(ctx, req.ID, StatusEnterRoom, ann.ID)
	assert.ErrorIs(t, err, relayerr.ErrInvalidState, "pending requests cannot be entered")

	_, err = f.mgr.Act(ctx, req.ID, ActionAccept)
	require.NoError(t, err)
	bobInbox := f.inbox(bob.ID)
	annInbox := f.inbox(ann.ID)

	_, err = f.mgr.UpdateStatus(ctx, req.ID, StatusEnterRoom, cid.ID)
	assert.ErrorIs(t, err, relayerr.ErrInvalidArgument)

	got, err := f.mgr.UpdateStatus(ctx, req.ID, StatusEnterRoom, ann.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestInProgress, got.Status)
	msg := bobInbox.Next(t)
	assert.Equal(t, "match_status_update", msg["type"])
	assert.Equal(t, "in_progress", msg["data"].(map[string]any)["status"])

	got, err = f.mgr.UpdateStatus(ctx, req.ID, StatusEnterRoom, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestInProgress, got.Status)
	annInbox.Next(t)

	got, err = f.mgr.UpdateStatus(ctx, req.ID, StatusLeaveRoom, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestInProgress, got.Status)
	assert.Empty(t, annInbox.Drain(t))

	got, err = f.mgr.UpdateStatus(ctx, req.ID, StatusComplete, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestCompleted, got.Status)

	_, err = f.mgr.UpdateStatus(ctx, req.ID, "dance", bob.ID)
	assert.ErrorIs(t, err, relayerr.ErrInvalidArgument)
}

func TestListFor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ann := storagetest.User(t, f.st, "Ann", true)
	bob := storagetest.User(t, f.st, "Bob", true)
	cid := storagetest.User(t, f.st, "Cid", true)

	sent, err := f.mgr.Create(ctx, ann.ID, bob.ID)
	require.NoError(t, err)
	received, err := f.mgr.Create(ctx, cid.ID, ann.ID)
	require.NoError(t, err)

	list, err := f.mgr.ListFor(ctx, ann.ID)
	require.NoError(t, err)
	require.Len(t, list.Sent, 1)
	require.Len(t, list.Received, 1)
	assert.Equal(t, sent.ID, list.Sent[0].ID)
	assert.Equal(t, received.ID, list.Received[0].ID)

	f.clock = f.clock.Add(5 * time.Minute)
	list, err = f.mgr.ListFor(ctx, ann.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestExpired, list.Sent[0].Status)
	assert.Equal(t, models.RequestExpired, list.Received[0].Status)

	_, err = f.mgr.ListFor(ctx, "")
	assert.ErrorIs(t, err, relayerr.ErrInvalidArgument)
}

func TestReaper_ExpiresOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ann := storagetest.User(t, f.st, "Ann", true)
	bob := storagetest.User(t, f.st, "Bob", true)
	_, err := f.mgr.Create(ctx, ann.ID, bob.ID)
	require.NoError(t, err)
	annInbox := f.inbox(ann.ID)

	r := NewReaper(f.mgr, time.Second)
	assert.Equal(t, 0, r.Sweep(ctx))

	f.clock = f.clock.Add(3 * time.Minute)
	assert.Equal(t, 1, r.Sweep(ctx))
	assert.Equal(t, 0, r.Sweep(ctx))

	// Lazy expiry after the reaper finds nothing left to do.
	n, err := f.mgr.ExpireOverdue(ctx, ann.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	msgs := annInbox.Drain(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, "match_request_expired", msgs[0]["data"].(map[string]any)["type"])
}
