// Package session owns host<->device control-channel helpers.
//
// Ownership boundary:
// - handshake and handshake_response lines
// - steady-state status / control_return / heartbeat messages
// - session timing defaults and reconnect backoff
//
// Every control message is one UTF-8 JSON object terminated by '\n'.
package session
