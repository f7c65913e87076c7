package relayhub_test

import (
	"peerlink/backend/internal/relayhub"
	"sync"
)

type MockSubscriber struct {
	id   string
	err  error
	Recv chan []byte

	mu     sync.Mutex
	closed bool
}

func newMockSubscriber(id string) *MockSubscriber {
	return &MockSubscriber{id: id, Recv: make(chan []byte, 64)}
}

func (s *MockSubscriber) ID() string { return s.id }

func (s *MockSubscriber) Deliver(payload []byte) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return relayhub.ErrClosed
	}
	select {
	case s.Recv <- payload:
		return nil
	default:
		return relayhub.ErrSlowConsumer
	}
}

func (s *MockSubscriber) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *MockSubscriber) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// drain returns everything queued so far.
func (s *MockSubscriber) drain() []string {
	var out []string
	for {
		select {
		case p := <-s.Recv:
			out = append(out, string(p))
		default:
			return out
		}
	}
}
