package relayhub

import (
	"encoding/json"
	"errors"
	"io"
	"peerlink/backend/internal/config"
	"peerlink/backend/internal/metrics"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ClientConfig tunes one websocket connection.
type ClientConfig struct {
	WriteWait  time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration

	MaxFrameBytes int
	HardReadLimit int64
	SendBuffer    int

	// MessagesPerSecond <= 0 disables inbound rate limiting.
	MessagesPerSecond float64
	MessageBurst      int
}

// NewClientConfig derives the connection settings from the relay section.
func NewClientConfig(r config.Relay) ClientConfig {
	cfg := ClientConfig{
		WriteWait:         config.WriteWait,
		PongWait:          config.PongWait,
		PingPeriod:        config.PingPeriod,
		MaxFrameBytes:     r.MaxFrameBytes,
		HardReadLimit:     r.HardReadLimit,
		SendBuffer:        r.SendBuffer,
		MessagesPerSecond: r.MessagesPerSecond,
		MessageBurst:      r.MessageBurst,
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = config.MaxFrameBytes
	}
	if cfg.HardReadLimit < int64(cfg.MaxFrameBytes) {
		cfg.HardReadLimit = config.HardReadLimit
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = config.SendBufferSize
	}
	return cfg
}

// WSClient is a websocket connection that can be attached to hub groups. One
// goroutine runs WritePump, another runs ReadLoop.
type WSClient struct {
	id      string
	conn    *websocket.Conn
	cfg     ClientConfig
	send    chan []byte
	limiter *rate.Limiter
	metrics *metrics.Metrics
	log     zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

func NewWSClient(conn *websocket.Conn, cfg ClientConfig, m *metrics.Metrics, l zerolog.Logger) *WSClient {
	if m == nil {
		m = metrics.Nop()
	}
	c := &WSClient{
		id:      uuid.New().String(),
		conn:    conn,
		cfg:     cfg,
		send:    make(chan []byte, cfg.SendBuffer),
		metrics: m,
	}
	if cfg.MessagesPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), cfg.MessageBurst)
	}
	c.log = l.With().Str("session", c.id).Logger()
	return c
}

func (c *WSClient) ID() string { return c.id }

// Deliver enqueues payload for the write pump.
func (c *WSClient) Deliver(payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// SendJSON encodes v and enqueues it.
func (c *WSClient) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Deliver(data)
}

// Close stops the write pump, which sends a close frame and closes the
// socket. Safe to call more than once.
func (c *WSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// WritePump drains the send queue onto the socket and keeps the connection
// alive with pings.
func (c *WSClient) WritePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadLoop hands every accepted text frame to handle until the connection
// fails. Oversized and rate-limited frames are dropped; the connection stays
// open.
func (c *WSClient) ReadLoop(handle func(frame []byte)) error {
	c.conn.SetReadLimit(c.cfg.HardReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, r, err := c.conn.NextReader()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("error reading message")
			}
			return err
		}
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))

		frame, err := readLimited(r, c.cfg.MaxFrameBytes)
		if errors.Is(err, errFrameTooLarge) {
			c.metrics.DroppedFrames.WithLabelValues(metrics.DropOversized).Inc()
			c.log.Warn().Int("limit", c.cfg.MaxFrameBytes).Msg("oversized frame dropped")
			continue
		}
		if err != nil {
			return err
		}
		if c.limiter != nil && !c.limiter.Allow() {
			c.metrics.DroppedFrames.WithLabelValues(metrics.DropRateLimited).Inc()
			c.log.Warn().Msg("rate limit exceeded, frame dropped")
			continue
		}
		handle(frame)
	}
}

var errFrameTooLarge = errors.New("frame too large")

// readLimited reads at most max bytes; the rest of an oversized frame is
// discarded by the next NextReader call.
func readLimited(r io.Reader, max int) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, int64(max)+1))
	if err != nil {
		return nil, err
	}
	if len(b) > max {
		return nil, errFrameTooLarge
	}
	return b, nil
}

// Reject closes a freshly upgraded connection that failed setup.
func Reject(conn *websocket.Conn, code int, reason string) {
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(config.WriteWait))
	conn.Close()
}

// DefaultClientConfig uses the built-in relay limits.
func DefaultClientConfig() ClientConfig {
	return NewClientConfig(config.Relay{
		MessagesPerSecond: config.MessagesPerSecond,
		MessageBurst:      config.MessageBurst,
	})
}
