package relayhub

import "errors"

var (
	ErrClosed       = errors.New("relayhub: subscriber closed")
	ErrSlowConsumer = errors.New("relayhub: send buffer full")
)

// Subscriber is any live session handle that can be attached to a group.
// Deliver must not block; the payload is shared between subscribers and must
// not be modified.
type Subscriber interface {
	// ID identifies the handle; Publish compares it against excludeID.
	ID() string
	// Deliver enqueues payload for the connection or fails immediately.
	Deliver(payload []byte) error
	// Close ends the connection behind the handle.
	Close()
}
