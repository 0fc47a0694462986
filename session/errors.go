package session

import "errors"

// Sentinel errors for the session layer.
var (
	ErrNotFound = errors.New("session not found")
	ErrClosed   = errors.New("session closed")
)
