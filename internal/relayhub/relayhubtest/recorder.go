// Package relayhubtest provides hub subscribers for tests.
package relayhubtest

import (
	"encoding/json"
	"peerlink/backend/internal/relayhub"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// Recorder is a Subscriber that keeps every delivered payload.
type Recorder struct {
	id   string
	recv chan []byte

	mu     sync.Mutex
	closed bool
}

func NewRecorder() *Recorder {
	return &Recorder{id: uuid.New().String(), recv: make(chan []byte, 256)}
}

// Attach creates a recorder and attaches it to group.
func Attach(hub *relayhub.Hub, group string) *Recorder {
	r := NewRecorder()
	hub.Attach(group, r)
	return r
}

func (r *Recorder) ID() string { return r.id }

func (r *Recorder) Deliver(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return relayhub.ErrClosed
	}
	select {
	case r.recv <- payload:
		return nil
	default:
		return relayhub.ErrSlowConsumer
	}
}

func (r *Recorder) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// Next decodes the next payload, failing t if none arrives in time.
func (r *Recorder) Next(t testing.TB) map[string]any {
	t.Helper()
	select {
	case p := <-r.recv:
		var m map[string]any
		if err := json.Unmarshal(p, &m); err != nil {
			t.Fatalf("payload is not a JSON object: %s", p)
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
		return nil
	}
}

// Drain decodes everything delivered so far.
func (r *Recorder) Drain(t testing.TB) []map[string]any {
	t.Helper()
	var out []map[string]any
	for {
		select {
		case p := <-r.recv:
			var m map[string]any
			if err := json.Unmarshal(p, &m); err != nil {
				t.Fatalf("payload is not a JSON object: %s", p)
			}
			out = append(out, m)
		default:
			return out
		}
	}
}
