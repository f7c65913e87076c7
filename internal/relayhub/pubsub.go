package relayhub

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	bridgeChannelPrefix = "peerlink:group:"
	bridgePattern       = bridgeChannelPrefix + "*"
	bridgeQueueSize     = 1024
)

type bridgeMessage struct {
	Origin  string `json:"origin"`
	Group   string `json:"group"`
	Exclude string `json:"exclude,omitempty"`
	Payload []byte `json:"payload"`
}

// RedisBridge mirrors hub publishes through Redis so relay instances behind a
// load balancer share groups. Messages are tagged with the origin instance and
// skipped when they come back.
type RedisBridge struct {
	rdb    *redis.Client
	hub    *Hub
	origin string
	out    chan bridgeMessage
	ready  chan struct{}
	log    zerolog.Logger
}

// NewRedisBridge attaches a bridge to hub. Call Run to start it.
func NewRedisBridge(rdb *redis.Client, hub *Hub) *RedisBridge {
	b := &RedisBridge{
		rdb:    rdb,
		hub:    hub,
		origin: uuid.New().String(),
		out:    make(chan bridgeMessage, bridgeQueueSize),
		ready:  make(chan struct{}),
		log:    log.Logger.With().Str("component", "redis-bridge").Logger(),
	}
	hub.bridge = b
	return b
}

// Ready is closed once the pattern subscription is confirmed.
func (b *RedisBridge) Ready() <-chan struct{} { return b.ready }

// forward queues a local publish for other instances. It never blocks the
// publisher; a full queue drops the message.
func (b *RedisBridge) forward(group string, payload []byte, excludeID string) {
	select {
	case b.out <- bridgeMessage{Origin: b.origin, Group: group, Exclude: excludeID, Payload: payload}:
	default:
		b.log.Warn().Str("group", group).Msg("bridge queue full, message not mirrored")
	}
}

// Run subscribes and pumps messages in both directions until ctx ends.
func (b *RedisBridge) Run(ctx context.Context) error {
	pubsub := b.rdb.PSubscribe(ctx, bridgePattern)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	close(b.ready)
	b.log.Info().Str("origin", b.origin).Msg("redis bridge subscribed")

	go b.publishLoop(ctx)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handle(msg)
		}
	}
}

func (b *RedisBridge) handle(msg *redis.Message) {
	var m bridgeMessage
	if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
		b.log.Warn().Err(err).Str("channel", msg.Channel).Msg("bad bridge message")
		return
	}
	if m.Origin == b.origin {
		return
	}
	if m.Group == "" {
		m.Group = strings.TrimPrefix(msg.Channel, bridgeChannelPrefix)
	}
	b.hub.publishLocal(m.Group, m.Payload, m.Exclude)
}

func (b *RedisBridge) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-b.out:
			data, err := json.Marshal(m)
			if err != nil {
				b.log.Error().Err(err).Msg("bridge encode failed")
				continue
			}
			if err := b.rdb.Publish(ctx, bridgeChannelPrefix+m.Group, data).Err(); err != nil {
				b.log.Warn().Err(err).Str("group", m.Group).Msg("bridge publish failed")
			}
		}
	}
}
