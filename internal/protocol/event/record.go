package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var ErrInvalidRecord = errors.New("event: invalid record")

type mouseMoveRecord struct {
	Type      Kind  `json:"type"`
	X         int32 `json:"x"`
	Y         int32 `json:"y"`
	Timestamp int64 `json:"timestamp"`
}

type mouseClickRecord struct {
	Type      Kind   `json:"type"`
	X         int32  `json:"x"`
	Y         int32  `json:"y"`
	Button    Button `json:"button"`
	Pressed   bool   `json:"pressed"`
	Timestamp int64  `json:"timestamp"`
}

type keyRecord struct {
	Type      Kind   `json:"type"`
	KeyCode   uint32 `json:"key_code"`
	Key       string `json:"key"`
	Pressed   bool   `json:"pressed"`
	Modifiers uint8  `json:"modifiers"`
	Timestamp int64  `json:"timestamp"`
}

type scrollRecord struct {
	Type      Kind  `json:"type"`
	X         int32 `json:"x"`
	Y         int32 `json:"y"`
	DX        int16 `json:"dx"`
	DY        int16 `json:"dy"`
	Timestamp int64 `json:"timestamp"`
}

type controlSwitchRecord struct {
	Type      Kind  `json:"type"`
	Edge      Edge  `json:"edge"`
	Timestamp int64 `json:"timestamp"`
}

type heartbeatRecord struct {
	Type      Kind  `json:"type"`
	Timestamp int64 `json:"timestamp"`
}

type batchRecord struct {
	Type   Kind              `json:"type"`
	Events []json.RawMessage `json:"events"`
}

// Marshal encodes ev in its JSON record form.
func Marshal(ev Event) ([]byte, error) {
	switch e := ev.(type) {
	case MouseMove:
		return json.Marshal(mouseMoveRecord{Type: e.Kind(), X: e.X, Y: e.Y, Timestamp: e.Timestamp})
	case MouseClick:
		return json.Marshal(mouseClickRecord{
			Type:      e.Kind(),
			X:         e.X,
			Y:         e.Y,
			Button:    e.Button,
			Pressed:   e.Pressed,
			Timestamp: e.Timestamp,
		})
	case Key:
		return json.Marshal(keyRecord{
			Type:      e.Kind(),
			KeyCode:   e.KeyCode,
			Key:       e.Key,
			Pressed:   e.Pressed,
			Modifiers: e.Modifiers,
			Timestamp: e.Timestamp,
		})
	case Scroll:
		return json.Marshal(scrollRecord{Type: e.Kind(), X: e.X, Y: e.Y, DX: e.DX, DY: e.DY, Timestamp: e.Timestamp})
	case ControlSwitch:
		return json.Marshal(controlSwitchRecord{Type: e.Kind(), Edge: e.Edge, Timestamp: e.Timestamp})
	case Heartbeat:
		return json.Marshal(heartbeatRecord{Type: e.Kind(), Timestamp: e.Timestamp})
	case Generic:
		if e.Fields == nil {
			return nil, fmt.Errorf("%w: generic record without fields", ErrInvalidRecord)
		}
		return json.Marshal(e.Fields)
	case Batch:
		items, err := marshalItems(e.Events)
		if err != nil {
			return nil, err
		}
		return json.Marshal(batchRecord{Type: KindBatch, Events: items})
	case nil:
		return nil, fmt.Errorf("%w: nil event", ErrInvalidRecord)
	default:
		return nil, fmt.Errorf("%w: unsupported event %T", ErrInvalidRecord, ev)
	}
}

// MarshalList encodes events as a JSON array of records.
func MarshalList(events []Event) ([]byte, error) {
	items, err := marshalItems(events)
	if err != nil {
		return nil, err
	}
	return json.Marshal(items)
}

func marshalItems(events []Event) ([]json.RawMessage, error) {
	items := make([]json.RawMessage, 0, len(events))
	for i, ev := range events {
		b, err := Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("record[%d]: %w", i, err)
		}
		items = append(items, b)
	}
	return items, nil
}

// Unmarshal decodes one JSON record. Records whose type is not a string naming a
// known kind become Generic; their numbers stay json.Number so they re-encode
// to the same text.
func Unmarshal(data []byte) (Event, error) {
	var head struct {
		Type json.RawMessage `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	kind := recordKind(head.Type)

	switch kind {
	case KindMouseMove:
		var r mouseMoveRecord
		if err := decodeRecord(data, &r); err != nil {
			return nil, err
		}
		return MouseMove{X: r.X, Y: r.Y, Timestamp: r.Timestamp}, nil
	case KindMouseClick:
		r := mouseClickRecord{Button: ButtonLeft}
		if err := decodeRecord(data, &r); err != nil {
			return nil, err
		}
		return MouseClick{X: r.X, Y: r.Y, Button: r.Button, Pressed: r.Pressed, Timestamp: r.Timestamp}, nil
	case KindKeyPress, KindKeyRelease:
		var r keyRecord
		if err := decodeRecord(data, &r); err != nil {
			return nil, err
		}
		return Key{
			KeyCode:   r.KeyCode,
			Key:       r.Key,
			Pressed:   kind == KindKeyPress,
			Modifiers: r.Modifiers,
			Timestamp: r.Timestamp,
		}, nil
	case KindScroll:
		var r scrollRecord
		if err := decodeRecord(data, &r); err != nil {
			return nil, err
		}
		return Scroll{X: r.X, Y: r.Y, DX: r.DX, DY: r.DY, Timestamp: r.Timestamp}, nil
	case KindControlSwitch:
		r := controlSwitchRecord{Edge: EdgeLeft}
		if err := decodeRecord(data, &r); err != nil {
			return nil, err
		}
		return ControlSwitch{Edge: r.Edge, Timestamp: r.Timestamp}, nil
	case KindHeartbeat:
		var r heartbeatRecord
		if err := decodeRecord(data, &r); err != nil {
			return nil, err
		}
		return Heartbeat{Timestamp: r.Timestamp}, nil
	case KindBatch:
		var r batchRecord
		if err := decodeRecord(data, &r); err != nil {
			return nil, err
		}
		events, err := unmarshalItems(r.Events)
		if err != nil {
			return nil, err
		}
		return Batch{Events: events}, nil
	default:
		fields, err := decodeFields(data)
		if err != nil {
			return nil, err
		}
		return Generic{Fields: fields}, nil
	}
}

// recordKind returns the kind named by a string "type" value, or "" for any
// other JSON value.
func recordKind(raw json.RawMessage) Kind {
	if len(raw) == 0 || raw[0] != '"' {
		return ""
	}
	var k Kind
	if err := json.Unmarshal(raw, &k); err != nil {
		return ""
	}
	return k
}

func decodeFields(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after record", ErrInvalidRecord)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: null record", ErrInvalidRecord)
	}
	return fields, nil
}

// UnmarshalList decodes a JSON array of records.
func UnmarshalList(data []byte) ([]Event, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if items == nil {
		return nil, fmt.Errorf("%w: null record list", ErrInvalidRecord)
	}
	return unmarshalItems(items)
}

func unmarshalItems(items []json.RawMessage) ([]Event, error) {
	events := make([]Event, 0, len(items))
	for i, item := range items {
		ev, err := Unmarshal(item)
		if err != nil {
			return nil, fmt.Errorf("record[%d]: %w", i, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func decodeRecord(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return nil
}
