// Package peer emulates the device side of a wifikey session.
//
// A Responder answers discovery requests, a Client completes the handshake and
// consumes the host's frame stream, and Run keeps a Client connected with
// exponential backoff between attempts. The serve command and the host tests
// both drive the host through this package.
package peer
