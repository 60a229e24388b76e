package protocol

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/danmuck/wifikey/internal/protocol/event"
	"github.com/danmuck/wifikey/internal/protocol/frame"
)

var le = binary.LittleEndian

// encodePayload builds the uncompressed payload for ev, sequence field first.
func encodePayload(ev event.Event, seq uint16) (frame.Type, []byte, error) {
	switch e := ev.(type) {
	case event.MouseMove:
		b := make([]byte, 0, frame.MouseMovePayloadLen)
		b = le.AppendUint16(b, seq)
		b = le.AppendUint32(b, uint32(e.X))
		b = le.AppendUint32(b, uint32(e.Y))
		b = le.AppendUint64(b, uint64(e.Timestamp))
		return frame.TypeMouseMove, b, nil
	case event.MouseClick:
		b := make([]byte, 0, frame.MouseClickPayloadLen)
		b = le.AppendUint16(b, seq)
		b = le.AppendUint32(b, uint32(e.X))
		b = le.AppendUint32(b, uint32(e.Y))
		b = append(b, byte(e.Button), boolByte(e.Pressed))
		b = le.AppendUint64(b, uint64(e.Timestamp))
		return frame.TypeMouseClick, b, nil
	case event.Key:
		b := make([]byte, 0, frame.KeyPayloadLen)
		b = le.AppendUint16(b, seq)
		b = le.AppendUint32(b, e.KeyCode)
		// modifiers are not tracked by the capture layer
		b = append(b, boolByte(e.Pressed), 0)
		b = append(b, keyText(e.Key)...)
		b = le.AppendUint64(b, uint64(e.Timestamp))
		return frame.TypeKey, b, nil
	case event.Scroll:
		b := make([]byte, 0, frame.ScrollPayloadLen)
		b = le.AppendUint16(b, seq)
		b = le.AppendUint32(b, uint32(e.X))
		b = le.AppendUint32(b, uint32(e.Y))
		b = le.AppendUint16(b, uint16(e.DX))
		b = le.AppendUint16(b, uint16(e.DY))
		b = le.AppendUint64(b, uint64(e.Timestamp))
		return frame.TypeScroll, b, nil
	case event.ControlSwitch:
		b := make([]byte, 0, frame.ControlSwitchPayloadLen)
		b = le.AppendUint16(b, seq)
		b = append(b, byte(e.Edge), 0, 0, 0)
		b = le.AppendUint64(b, uint64(e.Timestamp))
		return frame.TypeControlSwitch, b, nil
	case event.Heartbeat:
		b := make([]byte, 0, frame.HeartbeatPayloadLen)
		b = le.AppendUint16(b, seq)
		b = le.AppendUint64(b, uint64(e.Timestamp))
		return frame.TypeHeartbeat, b, nil
	case event.Batch:
		b, err := batchPayload(e.Events, seq)
		return frame.TypeBatch, b, err
	default:
		raw, err := event.Marshal(ev)
		if err != nil {
			return 0, nil, err
		}
		b, err := jsonPayload(raw, seq)
		return frame.TypeGeneric, b, err
	}
}

func batchPayload(events []event.Event, seq uint16) ([]byte, error) {
	raw, err := event.MarshalList(events)
	if err != nil {
		return nil, err
	}
	return jsonPayload(raw, seq)
}

func jsonPayload(raw []byte, seq uint16) ([]byte, error) {
	if len(raw) > 0xFFFF {
		return nil, fmt.Errorf("%w: %d bytes", ErrJSONTooLarge, len(raw))
	}
	b := make([]byte, 0, frame.JSONHeaderLen+len(raw))
	b = le.AppendUint16(b, seq)
	b = le.AppendUint16(b, uint16(len(raw)))
	return append(b, raw...), nil
}

// keyText zero-pads s to the fixed field width, cutting at a rune boundary.
func keyText(s string) []byte {
	out := make([]byte, frame.KeyTextLen)
	n := 0
	for i, r := range s {
		end := i + utf8.RuneLen(r)
		if end > frame.KeyTextLen {
			break
		}
		n = end
	}
	copy(out, s[:n])
	return out
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
