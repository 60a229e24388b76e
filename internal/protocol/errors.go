package protocol

import "errors"

// ErrProtocol wraps every decode failure.
var ErrProtocol = errors.New("protocol: malformed frame")

var (
	ErrUnknownType   = errors.New("protocol: unknown type code")
	ErrPayloadLength = errors.New("protocol: unexpected payload length")
	ErrInvalidJSON   = errors.New("protocol: invalid embedded json")
	ErrInvalidUTF8   = errors.New("protocol: invalid utf-8 key text")
	ErrUnknownCode   = errors.New("protocol: unknown button or edge code")
	ErrJSONTooLarge  = errors.New("protocol: json payload too large")
	ErrEventTooLarge = errors.New("protocol: event exceeds batch size")
)
