// Package event defines the closed set of input event records forwarded to the
// companion device.
package event

import (
	"fmt"
	"strings"
)

// Kind names an event record variant. It is also the "type" field of the JSON record form.
type Kind string

const (
	KindMouseMove     Kind = "mouse_move"
	KindMouseClick    Kind = "mouse_click"
	KindKeyPress      Kind = "key_press"
	KindKeyRelease    Kind = "key_release"
	KindScroll        Kind = "mouse_scroll"
	KindControlSwitch Kind = "control_switch"
	KindHeartbeat     Kind = "heartbeat"
	KindBatch         Kind = "batch"
	KindGeneric       Kind = "generic"
)

// Event is one input record. The set of implementations is closed.
type Event interface {
	Kind() Kind
	isEvent()
}

type MouseMove struct {
	X         int32
	Y         int32
	Timestamp int64
}

type MouseClick struct {
	X         int32
	Y         int32
	Button    Button
	Pressed   bool
	Timestamp int64
}

// Key carries both press and release; Pressed selects the kind.
// Modifiers is always encoded as zero because the capture layer does not track
// modifier state; decode reports whatever the wire carried.
type Key struct {
	KeyCode   uint32
	Key       string
	Pressed   bool
	Modifiers uint8
	Timestamp int64
}

type Scroll struct {
	X         int32
	Y         int32
	DX        int16
	DY        int16
	Timestamp int64
}

type ControlSwitch struct {
	Edge      Edge
	Timestamp int64
}

type Heartbeat struct {
	Timestamp int64
}

// Generic is an arbitrary JSON object record without a binary layout.
type Generic struct {
	Fields map[string]any
}

type Batch struct {
	Events []Event
}

func (MouseMove) Kind() Kind     { return KindMouseMove }
func (MouseClick) Kind() Kind    { return KindMouseClick }
func (Scroll) Kind() Kind        { return KindScroll }
func (ControlSwitch) Kind() Kind { return KindControlSwitch }
func (Heartbeat) Kind() Kind     { return KindHeartbeat }
func (Batch) Kind() Kind         { return KindBatch }

func (k Key) Kind() Kind {
	if k.Pressed {
		return KindKeyPress
	}
	return KindKeyRelease
}

// Kind reports the record's own "type" field when it is a non-empty string.
func (g Generic) Kind() Kind {
	if v, ok := g.Fields["type"].(string); ok && strings.TrimSpace(v) != "" {
		return Kind(v)
	}
	return KindGeneric
}

func (MouseMove) isEvent()     {}
func (MouseClick) isEvent()    {}
func (Key) isEvent()           {}
func (Scroll) isEvent()        {}
func (ControlSwitch) isEvent() {}
func (Heartbeat) isEvent()     {}
func (Generic) isEvent()       {}
func (Batch) isEvent()         {}

// Button is the mouse button wire code.
type Button uint8

const (
	ButtonLeft   Button = 0x01
	ButtonRight  Button = 0x02
	ButtonMiddle Button = 0x03
	ButtonX1     Button = 0x04
	ButtonX2     Button = 0x05
)

var buttonNames = map[Button]string{
	ButtonLeft:   "left",
	ButtonRight:  "right",
	ButtonMiddle: "middle",
	ButtonX1:     "x1",
	ButtonX2:     "x2",
}

func (b Button) Valid() bool {
	_, ok := buttonNames[b]
	return ok
}

func (b Button) String() string {
	if name, ok := buttonNames[b]; ok {
		return name
	}
	return "unknown"
}

func (b Button) MarshalText() ([]byte, error) {
	if !b.Valid() {
		return nil, fmt.Errorf("event: invalid button code %d", uint8(b))
	}
	return []byte(b.String()), nil
}

func (b *Button) UnmarshalText(text []byte) error {
	v, err := ParseButton(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// ParseButton maps a button name to its wire code.
func ParseButton(name string) (Button, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for code, v := range buttonNames {
		if v == n {
			return code, nil
		}
	}
	return 0, fmt.Errorf("event: unknown button %q", name)
}

// Edge is the control switch reason wire code.
type Edge uint8

const (
	EdgeLeft       Edge = 0x01
	EdgeRight      Edge = 0x02
	EdgeTop        Edge = 0x03
	EdgeBottom     Edge = 0x04
	EdgeHotkey     Edge = 0x05
	EdgeReturnToPC Edge = 0x06
)

var edgeNames = map[Edge]string{
	EdgeLeft:       "left",
	EdgeRight:      "right",
	EdgeTop:        "top",
	EdgeBottom:     "bottom",
	EdgeHotkey:     "hotkey",
	EdgeReturnToPC: "return_to_pc",
}

func (e Edge) Valid() bool {
	_, ok := edgeNames[e]
	return ok
}

func (e Edge) String() string {
	if name, ok := edgeNames[e]; ok {
		return name
	}
	return "unknown"
}

func (e Edge) MarshalText() ([]byte, error) {
	if !e.Valid() {
		return nil, fmt.Errorf("event: invalid edge code %d", uint8(e))
	}
	return []byte(e.String()), nil
}

func (e *Edge) UnmarshalText(text []byte) error {
	v, err := ParseEdge(string(text))
	if err != nil {
		return err
	}
	*e = v
	return nil
}

// ParseEdge maps an edge name to its wire code.
func ParseEdge(name string) (Edge, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for code, v := range edgeNames {
		if v == n {
			return code, nil
		}
	}
	return 0, fmt.Errorf("event: unknown edge %q", name)
}
