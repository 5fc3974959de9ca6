package domain

import "errors"

var (
	// ErrAuth is fatal to a connection: it is refused before upgrade.
	ErrAuth = errors.New("authentication failed")
	// ErrNotFound covers unknown connections, channels, rooms and voice members.
	ErrNotFound = errors.New("not found")
	// ErrPermission means a membership check failed.
	ErrPermission = errors.New("permission denied")
	// ErrRelayMiss means the signaling target had no live connection.
	ErrRelayMiss = errors.New("relay target offline")
	// ErrDuplicateConnection is an invariant violation in the connection registry.
	ErrDuplicateConnection = errors.New("duplicate connection")
	// ErrBadPayload rejects malformed inbound events at the boundary.
	ErrBadPayload = errors.New("bad payload")
)
