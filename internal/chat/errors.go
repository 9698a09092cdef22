package chat

import "errors"

var (
	// ErrUnauthorized indicates a failed identity check: a bad token on
	// connect, or an event from a connection the registry does not know.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrValidation indicates a malformed inbound event, rejected before
	// any collaborator is touched.
	ErrValidation = errors.New("invalid request")
	// ErrForbidden indicates the caller is not a participant of the
	// conversation it addressed.
	ErrForbidden = errors.New("forbidden")
)
