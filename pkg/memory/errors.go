package memory

import "errors"

var (
	// ErrNotFound is returned when a conversation id has no stored state.
	ErrNotFound = errors.New("conversation not found")
	// ErrStaleState indicates the stored conversation moved past the version
	// the caller loaded.
	ErrStaleState = errors.New("conversation state is stale")
)
