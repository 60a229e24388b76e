package event

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

var ErrInvalidEvent = errors.New("event: invalid event")

// Validate checks an event at the boundary before it reaches the codec.
func Validate(ev Event) error {
	switch e := ev.(type) {
	case nil:
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	case MouseMove:
		return validTimestamp(e.Timestamp)
	case MouseClick:
		if !e.Button.Valid() {
			return fmt.Errorf("%w: button code %d", ErrInvalidEvent, uint8(e.Button))
		}
		return validTimestamp(e.Timestamp)
	case Key:
		if !utf8.ValidString(e.Key) {
			return fmt.Errorf("%w: key text is not utf-8", ErrInvalidEvent)
		}
		return validTimestamp(e.Timestamp)
	case Scroll:
		return validTimestamp(e.Timestamp)
	case ControlSwitch:
		if !e.Edge.Valid() {
			return fmt.Errorf("%w: edge code %d", ErrInvalidEvent, uint8(e.Edge))
		}
		return validTimestamp(e.Timestamp)
	case Heartbeat:
		return validTimestamp(e.Timestamp)
	case Generic:
		if e.Fields == nil {
			return fmt.Errorf("%w: generic record without fields", ErrInvalidEvent)
		}
		if IsTyped(e.Kind()) {
			return fmt.Errorf("%w: generic record uses reserved type %q", ErrInvalidEvent, e.Kind())
		}
		return nil
	case Batch:
		for i, inner := range e.Events {
			if _, nested := inner.(Batch); nested {
				return fmt.Errorf("%w: nested batch at %d", ErrInvalidEvent, i)
			}
			if err := Validate(inner); err != nil {
				return fmt.Errorf("batch[%d]: %w", i, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported event %T", ErrInvalidEvent, ev)
	}
}

// IsTyped reports whether k has a dedicated record layout.
func IsTyped(k Kind) bool {
	switch k {
	case KindMouseMove, KindMouseClick, KindKeyPress, KindKeyRelease, KindScroll,
		KindControlSwitch, KindHeartbeat, KindBatch:
		return true
	}
	return false
}

func validTimestamp(ts int64) error {
	if ts < 0 {
		return fmt.Errorf("%w: negative timestamp %d", ErrInvalidEvent, ts)
	}
	return nil
}
