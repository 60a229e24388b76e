package host

import "errors"

var (
	// ErrTransport covers bind, accept, send and receive failures.
	ErrTransport = errors.New("host: transport failure")
	// ErrHandshake covers timeouts and malformed or mistyped replies.
	ErrHandshake = errors.New("host: handshake failed")
	// ErrNotConnected is returned when a send is attempted with no connected session.
	ErrNotConnected = errors.New("host: no connected session")
	ErrNotRunning   = errors.New("host: manager not running")
)
