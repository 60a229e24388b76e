package session

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	TypeHandshake         = "handshake"
	TypeHandshakeResponse = "handshake_response"
	TypeStatus            = "status"
	TypeControlReturn     = "control_return"
	TypeHeartbeat         = "heartbeat"

	ProtocolVersion   = "1.0"
	DefaultDeviceName = "Unknown Device"

	maxControlLine = 128 * 1024
)

var (
	ErrInvalidHandshake       = errors.New("session: invalid handshake")
	ErrInvalidControl         = errors.New("session: invalid control message")
	ErrControlMessageTooLarge = errors.New("session: control message too large")
)

// Handshake is the host->device session-start line. Timestamp is unix seconds.
type Handshake struct {
	Type      string  `json:"type"`
	Version   string  `json:"version"`
	Timestamp float64 `json:"timestamp"`
}

func NewHandshake(now time.Time) Handshake {
	return Handshake{
		Type:      TypeHandshake,
		Version:   ProtocolVersion,
		Timestamp: float64(now.UnixNano()) / float64(time.Second),
	}
}

func (h Handshake) Validate() error {
	if h.Type != TypeHandshake {
		return fmt.Errorf("%w: type %q", ErrInvalidHandshake, h.Type)
	}
	if strings.TrimSpace(h.Version) == "" {
		return fmt.Errorf("%w: missing version", ErrInvalidHandshake)
	}
	return nil
}

// HandshakeResponse is the device->host reply that authorizes the connection.
type HandshakeResponse struct {
	Type       string `json:"type"`
	DeviceName string `json:"device_name"`
}

func NewHandshakeResponse(deviceName string) HandshakeResponse {
	return HandshakeResponse{Type: TypeHandshakeResponse, DeviceName: deviceName}
}

// Control is a steady-state JSON message: status, control_return or heartbeat.
type Control struct {
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

func StatusMessage(message string) Control {
	return Control{Type: TypeStatus, Message: message}
}

func ControlReturn() Control {
	return Control{Type: TypeControlReturn}
}

// HeartbeatMessage carries unix milliseconds.
func HeartbeatMessage(now time.Time) Control {
	return Control{Type: TypeHeartbeat, Timestamp: now.UnixMilli()}
}

func WriteHandshake(w io.Writer, hs Handshake) error {
	if err := hs.Validate(); err != nil {
		return err
	}
	return writeLine(w, hs)
}

func ReadHandshake(r *bufio.Reader) (Handshake, error) {
	line, err := readLine(r)
	if err != nil {
		return Handshake{}, err
	}
	var hs Handshake
	if err := json.Unmarshal(line, &hs); err != nil {
		return Handshake{}, fmt.Errorf("%w: %v", ErrInvalidHandshake, err)
	}
	if err := hs.Validate(); err != nil {
		return Handshake{}, err
	}
	return hs, nil
}

func WriteHandshakeResponse(w io.Writer, resp HandshakeResponse) error {
	resp.Type = TypeHandshakeResponse
	return writeLine(w, resp)
}

// ReadHandshakeResponse reads one line and applies ParseHandshakeResponse.
func ReadHandshakeResponse(r *bufio.Reader) (HandshakeResponse, error) {
	line, err := readLine(r)
	if err != nil {
		return HandshakeResponse{}, err
	}
	return ParseHandshakeResponse(line)
}

// ParseHandshakeResponse accepts any JSON object typed handshake_response. A
// missing device name becomes DefaultDeviceName.
func ParseHandshakeResponse(line []byte) (HandshakeResponse, error) {
	var resp HandshakeResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return HandshakeResponse{}, fmt.Errorf("%w: %v", ErrInvalidHandshake, err)
	}
	if resp.Type != TypeHandshakeResponse {
		return HandshakeResponse{}, fmt.Errorf("%w: unexpected type %q", ErrInvalidHandshake, resp.Type)
	}
	if strings.TrimSpace(resp.DeviceName) == "" {
		resp.DeviceName = DefaultDeviceName
	}
	return resp, nil
}

func WriteControl(w io.Writer, msg Control) error {
	if strings.TrimSpace(msg.Type) == "" {
		return fmt.Errorf("%w: missing type", ErrInvalidControl)
	}
	return writeLine(w, msg)
}

// EncodeControl returns the newline-terminated wire form of msg.
func EncodeControl(msg Control) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return append(payload, '\n'), nil
}

// ParseControl decodes one JSON control value. Unknown types are returned as-is
// so callers can log them.
func ParseControl(b []byte) (Control, error) {
	if len(b) > maxControlLine {
		return Control{}, ErrControlMessageTooLarge
	}
	var msg Control
	if err := json.Unmarshal(b, &msg); err != nil {
		return Control{}, fmt.Errorf("%w: %v", ErrInvalidControl, err)
	}
	if strings.TrimSpace(msg.Type) == "" {
		return Control{}, fmt.Errorf("%w: missing type", ErrInvalidControl)
	}
	return msg, nil
}

func writeLine(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return nil
}

func readLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	if len(line) > maxControlLine {
		return nil, ErrControlMessageTooLarge
	}
	return line, nil
}
