package session

import "errors"

var (
	// ErrSessionNotFound means the session id is unknown to the registry.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionTerminal means the session is completed or terminated and
	// rejects all further mutation.
	ErrSessionTerminal = errors.New("session is in a terminal state")

	// ErrEventNotFound means the event id is not in the session's log.
	ErrEventNotFound = errors.New("event not found")

	// ErrMutationTimeout means the per-session mutation lock was not
	// acquired within the configured bound. The operation did not happen
	// and is safe to retry.
	ErrMutationTimeout = errors.New("session mutation lock timeout")

	// ErrInvalidEvent covers malformed event input: unknown type,
	// out-of-range confidence, or negative duration.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrInvalidSession covers malformed session input on creation.
	ErrInvalidSession = errors.New("invalid session")
)
