package feed

import (
	"encoding/json"

	"github.com/danmuck/wifikey/internal/discovery"
	"github.com/danmuck/wifikey/internal/host"
)

type MessageType string

const (
	MsgSnapshot        MessageType = "snapshot"
	MsgStatus          MessageType = "status"
	MsgDevice          MessageType = "device"
	MsgLog             MessageType = "log"
	MsgControlReturned MessageType = "control_returned"
	MsgPeerEvent       MessageType = "peer_event"
)

// Message is one websocket text frame sent to feed clients.
type Message struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload,omitempty"`
}

type SnapshotPayload struct {
	Status host.Status `json:"status"`
	Logs   []string    `json:"logs"`
}

type StatusPayload struct {
	Connected  bool   `json:"connected"`
	DeviceName string `json:"device_name,omitempty"`
}

type DevicePayload = discovery.Descriptor

type LogPayload struct {
	Text string `json:"text"`
}

// PeerEventPayload carries the event in its JSON record form.
type PeerEventPayload struct {
	Event json.RawMessage `json:"event"`
}
