package protocol

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"github.com/danmuck/wifikey/internal/protocol/event"
	"github.com/danmuck/wifikey/internal/protocol/frame"
)

// Decode verifies one complete frame and reconstructs its event. Every failure
// wraps ErrProtocol; no partial result is returned.
func Decode(b []byte) (Decoded, error) {
	f, err := frame.Parse(b)
	if err != nil {
		return Decoded{}, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	d, err := decodePayload(f)
	if err != nil {
		return Decoded{}, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return d, nil
}

func decodePayload(f frame.Frame) (Decoded, error) {
	p := f.Payload
	want, fixed := frame.FixedPayloadLen(f.Type)
	if !fixed && f.Type != frame.TypeGeneric && f.Type != frame.TypeBatch {
		return Decoded{}, fmt.Errorf("%w: 0x%02x", ErrUnknownType, uint8(f.Type))
	}
	if fixed && len(p) != want {
		return Decoded{}, fmt.Errorf("%w: %s payload %d bytes, want %d", ErrPayloadLength, f.Type, len(p), want)
	}
	if len(p) < 2 {
		return Decoded{}, fmt.Errorf("%w: %s payload %d bytes", ErrPayloadLength, f.Type, len(p))
	}
	d := Decoded{Seq: le.Uint16(p), Type: f.Type, Compressed: f.Compressed}
	p = p[2:]

	switch f.Type {
	case frame.TypeMouseMove:
		d.Event = event.MouseMove{
			X:         int32(le.Uint32(p[0:])),
			Y:         int32(le.Uint32(p[4:])),
			Timestamp: int64(le.Uint64(p[8:])),
		}
	case frame.TypeMouseClick:
		button := event.Button(p[8])
		if !button.Valid() {
			return Decoded{}, fmt.Errorf("%w: button %d", ErrUnknownCode, p[8])
		}
		d.Event = event.MouseClick{
			X:         int32(le.Uint32(p[0:])),
			Y:         int32(le.Uint32(p[4:])),
			Button:    button,
			Pressed:   p[9] != 0,
			Timestamp: int64(le.Uint64(p[10:])),
		}
	case frame.TypeKey:
		text := bytes.TrimRight(p[6:6+frame.KeyTextLen], "\x00")
		if !utf8.Valid(text) {
			return Decoded{}, ErrInvalidUTF8
		}
		d.Event = event.Key{
			KeyCode:   le.Uint32(p[0:]),
			Pressed:   p[4] != 0,
			Modifiers: p[5],
			Key:       string(text),
			Timestamp: int64(le.Uint64(p[6+frame.KeyTextLen:])),
		}
	case frame.TypeScroll:
		d.Event = event.Scroll{
			X:         int32(le.Uint32(p[0:])),
			Y:         int32(le.Uint32(p[4:])),
			DX:        int16(le.Uint16(p[8:])),
			DY:        int16(le.Uint16(p[10:])),
			Timestamp: int64(le.Uint64(p[12:])),
		}
	case frame.TypeControlSwitch:
		edge := event.Edge(p[0])
		if !edge.Valid() {
			return Decoded{}, fmt.Errorf("%w: edge %d", ErrUnknownCode, p[0])
		}
		d.Event = event.ControlSwitch{Edge: edge, Timestamp: int64(le.Uint64(p[4:]))}
	case frame.TypeHeartbeat:
		d.Event = event.Heartbeat{Timestamp: int64(le.Uint64(p[0:]))}
	case frame.TypeGeneric:
		raw, err := jsonBody(p)
		if err != nil {
			return Decoded{}, err
		}
		ev, err := event.Unmarshal(raw)
		if err != nil {
			return Decoded{}, fmt.Errorf("%w: %w", ErrInvalidJSON, err)
		}
		d.Event = ev
	case frame.TypeBatch:
		raw, err := jsonBody(p)
		if err != nil {
			return Decoded{}, err
		}
		events, err := event.UnmarshalList(raw)
		if err != nil {
			return Decoded{}, fmt.Errorf("%w: %w", ErrInvalidJSON, err)
		}
		d.Event = event.Batch{Events: events}
	default:
		return Decoded{}, fmt.Errorf("%w: 0x%02x", ErrUnknownType, uint8(f.Type))
	}
	return d, nil
}

// jsonBody checks the jsonLen field against the remaining payload (sequence already consumed).
func jsonBody(p []byte) ([]byte, error) {
	if len(p) < 2 {
		return nil, fmt.Errorf("%w: json header truncated", ErrPayloadLength)
	}
	n := int(le.Uint16(p))
	if len(p)-2 != n {
		return nil, fmt.Errorf("%w: json length field %d, have %d", ErrPayloadLength, n, len(p)-2)
	}
	return p[2:], nil
}
