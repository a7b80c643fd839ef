package session

import "errors"

var (
	// ErrNotFound means the session id is unknown. Surfaced, no retry.
	ErrNotFound = errors.New("session not found")
	// ErrSessionEnded means the operation hit a terminated session.
	ErrSessionEnded = errors.New("session already ended")
	// ErrCapacityExceeded means the concurrent-session ceiling was hit.
	// Callers should end an existing session before retrying.
	ErrCapacityExceeded = errors.New("session capacity exceeded")
	// ErrUnknownSuggestion means feedback referenced a suggestion id the
	// session never delivered (or one that aged out of the ring).
	ErrUnknownSuggestion = errors.New("suggestion not found")
	// ErrInvalidReaction means the reaction value is not one of the
	// recognized customer reactions.
	ErrInvalidReaction = errors.New("invalid reaction")
)
