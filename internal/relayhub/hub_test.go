package relayhub_test

import (
	"fmt"
	"peerlink/backend/internal/metrics"
	"peerlink/backend/internal/relayhub"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishExcludesSender(t *testing.T) {
	hub := relayhub.NewHub(nil)
	a, b, c := newMockSubscriber("a"), newMockSubscriber("b"), newMockSubscriber("c")
	hub.Attach("webrtc_ABC123", a)
	hub.Attach("webrtc_ABC123", b)
	hub.Attach("webrtc_OTHER", c)

	n := hub.Publish("webrtc_ABC123", []byte(`{"type":"offer"}`), "a")

	assert.Equal(t, 1, n)
	assert.Empty(t, a.drain())
	assert.Equal(t, []string{`{"type":"offer"}`}, b.drain())
	assert.Empty(t, c.drain())
}

func TestHub_PublishWithoutExclusionReachesEveryone(t *testing.T) {
	hub := relayhub.NewHub(nil)
	a, b := newMockSubscriber("a"), newMockSubscriber("b")
	hub.Attach("g", a)
	hub.Attach("g", b)

	assert.Equal(t, 2, hub.Publish("g", []byte("x"), ""))
	assert.Equal(t, 0, hub.Publish("missing", []byte("x"), ""))
}

func TestHub_FIFOPerGroup(t *testing.T) {
	hub := relayhub.NewHub(nil)
	sub := newMockSubscriber("s")
	hub.Attach("g", sub)

	for i := 0; i < 50; i++ {
		hub.Publish("g", []byte(fmt.Sprint(i)), "")
	}
	got := sub.drain()
	require.Len(t, got, 50)
	for i, p := range got {
		assert.Equal(t, fmt.Sprint(i), p)
	}
}

func TestHub_FailedDeliveryIsIsolated(t *testing.T) {
	m := metrics.Nop()
	hub := relayhub.NewHub(m)
	broken := newMockSubscriber("broken")
	broken.err = relayhub.ErrSlowConsumer
	closed := newMockSubscriber("closed")
	closed.Close()
	ok := newMockSubscriber("ok")

	hub.Attach("g", broken)
	hub.Attach("g", closed)
	hub.Attach("g", ok)

	n := hub.Publish("g", []byte("hi"), "")

	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"hi"}, ok.drain())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HubDropped.WithLabelValues(metrics.DropSlow)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HubDropped.WithLabelValues(metrics.DropClosed)))
}

func TestHub_DetachRemovesEmptyGroups(t *testing.T) {
	m := metrics.Nop()
	hub := relayhub.NewHub(m)
	a, b := newMockSubscriber("a"), newMockSubscriber("b")
	hub.Attach("g", a)
	hub.Attach("g", b)
	assert.Equal(t, 2, hub.Members("g"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HubGroups))

	hub.Detach("g", a)
	hub.Publish("g", []byte("after"), "")
	assert.Empty(t, a.drain())
	assert.Equal(t, []string{"after"}, b.drain())

	hub.Detach("g", b)
	hub.Detach("g", b)
	assert.Equal(t, 0, hub.Groups())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.HubGroups))
}

func TestHub_ConcurrentAttachPublishDetach(t *testing.T) {
	hub := relayhub.NewHub(nil)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("g%d", i%4)
			sub := newMockSubscriber(fmt.Sprintf("s%d", i))
			hub.Attach(name, sub)
			for j := 0; j < 20; j++ {
				hub.Publish(name, []byte("m"), sub.ID())
			}
			hub.Detach(name, sub)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, hub.Groups())
}

func TestHub_CloseClosesSubscribers(t *testing.T) {
	hub := relayhub.NewHub(nil)
	a, b := newMockSubscriber("a"), newMockSubscriber("b")
	hub.Attach("g1", a)
	hub.Attach("g2", b)

	hub.Close()

	assert.True(t, a.IsClosed())
	assert.True(t, b.IsClosed())
	assert.Equal(t, 0, hub.Groups())
}
