package call

import "errors"

var (
	// ErrAlreadyInCall is returned when a user tries to start a second call.
	ErrAlreadyInCall = errors.New("user already in an active call")

	// ErrNotFound is returned when the call id is unknown.
	ErrNotFound = errors.New("call not found")

	// ErrInvalidState is returned when an operation is attempted from a
	// state that forbids it.
	ErrInvalidState = errors.New("call is not in a state that allows this")

	// ErrNotParticipant is returned for media controls by a user outside
	// the call.
	ErrNotParticipant = errors.New("user is not a participant of this call")
)
