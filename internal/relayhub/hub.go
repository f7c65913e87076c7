// Package relayhub is the in-process publish/subscribe fabric keyed by group
// name. Groups exist only while they have members and only inside this
// process, unless a RedisBridge is attached.
package relayhub

import (
	"errors"
	"peerlink/backend/internal/metrics"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const shardCount = 64

// Hub routes published payloads to every subscriber of a group.
type Hub struct {
	shards  [shardCount]shard
	metrics *metrics.Metrics
	log     zerolog.Logger

	bridge *RedisBridge
}

type shard struct {
	mu     sync.Mutex
	groups map[string]*group
}

type group struct {
	mu      sync.Mutex
	members map[string]Subscriber
}

// NewHub creates an empty hub. m may be nil.
func NewHub(m *metrics.Metrics) *Hub {
	if m == nil {
		m = metrics.Nop()
	}
	h := &Hub{
		metrics: m,
		log:     log.Logger.With().Str("component", "hub").Logger(),
	}
	for i := range h.shards {
		h.shards[i].groups = make(map[string]*group)
	}
	return h
}

func (h *Hub) shardFor(name string) *shard {
	return &h.shards[xxhash.Sum64String(name)%shardCount]
}

// Attach adds sub to the named group, creating the group on first use.
func (h *Hub) Attach(name string, sub Subscriber) {
	s := h.shardFor(name)
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[name]
	if !ok {
		g = &group{members: make(map[string]Subscriber)}
		s.groups[name] = g
		h.metrics.HubGroups.Inc()
	}
	g.mu.Lock()
	g.members[sub.ID()] = sub
	g.mu.Unlock()
}

// Detach removes sub from the group. When it returns, no later Publish can
// reach sub through this group. Empty groups are dropped.
func (h *Hub) Detach(name string, sub Subscriber) {
	s := h.shardFor(name)
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[name]
	if !ok {
		return
	}
	g.mu.Lock()
	delete(g.members, sub.ID())
	empty := len(g.members) == 0
	g.mu.Unlock()

	if empty {
		delete(s.groups, name)
		h.metrics.HubGroups.Dec()
	}
}

// Publish delivers payload to every member of the group except the one whose
// ID equals excludeID and returns how many members accepted it. Failures are
// per subscriber and never reach the caller.
func (h *Hub) Publish(name string, payload []byte, excludeID string) int {
	n := h.publishLocal(name, payload, excludeID)
	if h.bridge != nil {
		h.bridge.forward(name, payload, excludeID)
	}
	return n
}

func (h *Hub) publishLocal(name string, payload []byte, excludeID string) int {
	h.metrics.HubPublished.Inc()

	s := h.shardFor(name)
	s.mu.Lock()
	g, ok := s.groups[name]
	if !ok {
		s.mu.Unlock()
		return 0
	}
	// Holding the group lock for the whole fan-out keeps delivery FIFO per
	// group.
	g.mu.Lock()
	s.mu.Unlock()
	defer g.mu.Unlock()

	delivered := 0
	for id, sub := range g.members {
		if id == excludeID {
			continue
		}
		if err := sub.Deliver(payload); err != nil {
			h.dropped(name, id, err)
			continue
		}
		delivered++
	}
	h.metrics.HubDelivered.Add(float64(delivered))
	return delivered
}

func (h *Hub) dropped(name, id string, err error) {
	if errors.Is(err, ErrClosed) {
		h.metrics.HubDropped.WithLabelValues(metrics.DropClosed).Inc()
		h.log.Debug().Str("group", name).Str("session", id).Msg("subscriber closing, message dropped")
		return
	}
	h.metrics.HubDropped.WithLabelValues(metrics.DropSlow).Inc()
	h.log.Warn().Err(err).Str("group", name).Str("session", id).Msg("delivery failed")
}

// Members returns the number of subscribers attached to the group.
func (h *Hub) Members(name string) int {
	s := h.shardFor(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[name]
	if !ok {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.members)
}

// Groups returns the number of live groups.
func (h *Hub) Groups() int {
	n := 0
	for i := range h.shards {
		s := &h.shards[i]
		s.mu.Lock()
		n += len(s.groups)
		s.mu.Unlock()
	}
	return n
}

// Close closes every attached subscriber and forgets all groups.
func (h *Hub) Close() {
	var subs []Subscriber
	for i := range h.shards {
		s := &h.shards[i]
		s.mu.Lock()
		for name, g := range s.groups {
			g.mu.Lock()
			for _, sub := range g.members {
				subs = append(subs, sub)
			}
			g.mu.Unlock()
			delete(s.groups, name)
			h.metrics.HubGroups.Dec()
		}
		s.mu.Unlock()
	}
	for _, sub := range subs {
		sub.Close()
	}
}
