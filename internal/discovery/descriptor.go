package discovery

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/netip"
	"unicode/utf8"
)

const (
	RequestToken  = "WIFIKEY_DISCOVERY"
	ResponseToken = "WIFIKEY_RESPONSE"
)

// Descriptor is one advisory device sighting. IP is always the datagram source.
type Descriptor struct {
	Name string `json:"name"`
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

type responseBody struct {
	Name       string `json:"name"`
	DeviceName string `json:"device_name"`
	Port       int    `json:"port"`
}

// ParseResponse turns a response datagram from src into a descriptor. A body
// that is absent or not a JSON object yields a synthesized descriptor that
// points at tcpPort. ok is false when data does not carry the response token.
func ParseResponse(data []byte, src netip.Addr, tcpPort int) (d Descriptor, ok bool) {
	if !bytes.HasPrefix(data, []byte(ResponseToken)) {
		return Descriptor{}, false
	}
	ip := src.Unmap().String()
	d = Descriptor{Name: defaultName(ip), IP: ip, Port: tcpPort}

	rest := bytes.TrimSpace(data[len(ResponseToken):])
	if len(rest) == 0 || !utf8.Valid(rest) {
		return d, true
	}
	var body responseBody
	if err := json.Unmarshal(rest, &body); err != nil {
		return d, true
	}
	switch {
	case body.Name != "":
		d.Name = body.Name
	case body.DeviceName != "":
		d.Name = body.DeviceName
	}
	if body.Port > 0 && body.Port <= 0xFFFF {
		d.Port = body.Port
	}
	return d, true
}

// EncodeResponse builds the datagram a device sends back to a discovery request.
func EncodeResponse(name string, port int) ([]byte, error) {
	body, err := json.Marshal(responseBody{Name: name, Port: port})
	if err != nil {
		return nil, err
	}
	return append([]byte(ResponseToken), body...), nil
}

// IsRequest reports whether data is a discovery request datagram.
func IsRequest(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte(RequestToken))
}

func defaultName(ip string) string {
	return fmt.Sprintf("Android Device (%s)", ip)
}
