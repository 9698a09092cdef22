package chat

import "errors"

// ErrConnectionGone reports that the transport no longer knows the target
// connection. It is an expected outcome, not a failure: the caller owns the
// registry cleanup that follows.
var ErrConnectionGone = errors.New("connection gone")

// Pusher delivers a payload to one live connection. A nil return means the
// transport accepted the push; ErrConnectionGone (possibly wrapped) means
// the connection is gone; anything else is a transport failure, propagated
// without retries. Implementations never touch the registry.
type Pusher interface {
	Push(connectionID string, data []byte) error
}
