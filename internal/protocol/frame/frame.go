package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

const (
	Magic       uint16 = 0xAABB
	HeaderLen          = 3
	ChecksumLen        = 2
	MinLen             = HeaderLen + ChecksumLen

	FlagCompressed byte = 0x80
	TypeMask       byte = 0x7F

	DefaultCompressThreshold = 64
	DefaultCompressLevel     = 1
)

var (
	ErrShortFrame       = errors.New("frame: shorter than minimum frame length")
	ErrInvalidMagic     = errors.New("frame: invalid magic")
	ErrChecksumMismatch = errors.New("frame: checksum mismatch")
	ErrDecompress       = errors.New("frame: payload decompression failed")
	ErrFrameTooLarge    = errors.New("frame: frame too large")
)

// Type is the 7-bit frame type code.
type Type uint8

const (
	TypeMouseMove     Type = 0x01
	TypeMouseClick    Type = 0x02
	TypeKey           Type = 0x03
	TypeScroll        Type = 0x04
	TypeControlSwitch Type = 0x07
	TypeHeartbeat     Type = 0x08
	// TypeBatch and TypeGeneric use the top two 7-bit codes so the compression
	// bit stays unambiguous: on the wire they read 0x7E/0x7F uncompressed and
	// 0xFE/0xFF compressed. A peer that sends 0xFF or 0xFE for an uncompressed
	// payload is parsed as compressed and rejected with ErrDecompress.
	TypeBatch   Type = 0x7E
	TypeGeneric Type = 0x7F
)

// Fixed payload lengths including the leading sequence field.
const (
	MouseMovePayloadLen     = 2 + 4 + 4 + 8
	MouseClickPayloadLen    = 2 + 4 + 4 + 1 + 1 + 8
	KeyPayloadLen           = 2 + 4 + 1 + 1 + KeyTextLen + 8
	ScrollPayloadLen        = 2 + 4 + 4 + 2 + 2 + 8
	ControlSwitchPayloadLen = 2 + 1 + 3 + 8
	HeartbeatPayloadLen     = 2 + 8

	// KeyTextLen is the zero-padded UTF-8 key text field width.
	KeyTextLen = 16
	// JSONHeaderLen is seq(2) + jsonLen(2) for generic and batch payloads.
	JSONHeaderLen = 4
)

func (t Type) String() string {
	switch t {
	case TypeMouseMove:
		return "mouse_move"
	case TypeMouseClick:
		return "mouse_click"
	case TypeKey:
		return "key"
	case TypeScroll:
		return "scroll"
	case TypeControlSwitch:
		return "control_switch"
	case TypeHeartbeat:
		return "heartbeat"
	case TypeBatch:
		return "batch"
	case TypeGeneric:
		return "generic"
	default:
		return fmt.Sprintf("type(0x%02x)", uint8(t))
	}
}

// FixedPayloadLen reports the uncompressed payload length for fixed-layout types.
func FixedPayloadLen(t Type) (int, bool) {
	switch t {
	case TypeMouseMove:
		return MouseMovePayloadLen, true
	case TypeMouseClick:
		return MouseClickPayloadLen, true
	case TypeKey:
		return KeyPayloadLen, true
	case TypeScroll:
		return ScrollPayloadLen, true
	case TypeControlSwitch:
		return ControlSwitchPayloadLen, true
	case TypeHeartbeat:
		return HeartbeatPayloadLen, true
	default:
		return 0, false
	}
}

// Frame is one parsed wire frame. Payload is always the uncompressed form.
type Frame struct {
	Type       Type
	Compressed bool
	Payload    []byte
}

// Options controls compression gating on build.
type Options struct {
	Compression       bool
	CompressThreshold int
	CompressLevel     int
}

func DefaultOptions() Options {
	return Options{
		Compression:       true,
		CompressThreshold: DefaultCompressThreshold,
		CompressLevel:     DefaultCompressLevel,
	}
}

// Build assembles magic, type byte, payload and trailing CRC16. The payload is
// compressed only when enabled, longer than the threshold, and strictly smaller
// once compressed.
func Build(t Type, payload []byte, opts Options) []byte {
	typeByte := byte(t) & TypeMask
	body := payload
	threshold := opts.CompressThreshold
	if threshold <= 0 {
		threshold = DefaultCompressThreshold
	}
	if opts.Compression && len(payload) > threshold {
		if compressed, err := compress(payload, opts.CompressLevel); err == nil && len(compressed) < len(payload) {
			body = compressed
			typeByte |= FlagCompressed
		}
	}

	out := make([]byte, 0, HeaderLen+len(body)+ChecksumLen)
	out = binary.LittleEndian.AppendUint16(out, Magic)
	out = append(out, typeByte)
	out = append(out, body...)
	out = binary.LittleEndian.AppendUint16(out, Checksum(out))
	return out
}

// Parse verifies length, magic and checksum, then decompresses a flagged payload.
func Parse(b []byte) (Frame, error) {
	if len(b) < MinLen {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(b))
	}
	if binary.LittleEndian.Uint16(b[0:2]) != Magic {
		return Frame{}, ErrInvalidMagic
	}
	end := len(b) - ChecksumLen
	want := binary.LittleEndian.Uint16(b[end:])
	if got := Checksum(b[:end]); got != want {
		return Frame{}, fmt.Errorf("%w: got=0x%04x want=0x%04x", ErrChecksumMismatch, got, want)
	}

	typeByte := b[2]
	f := Frame{
		Type:       Type(typeByte & TypeMask),
		Compressed: typeByte&FlagCompressed != 0,
	}
	payload := b[HeaderLen:end]
	if f.Compressed {
		raw, err := decompress(payload)
		if err != nil {
			return Frame{}, fmt.Errorf("%w: %v", ErrDecompress, err)
		}
		payload = raw
	} else {
		payload = append([]byte(nil), payload...)
	}
	f.Payload = payload
	return f, nil
}

func compress(payload []byte, level int) ([]byte, error) {
	if level == 0 {
		level = DefaultCompressLevel
	}
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(payload); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(payload []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(io.LimitReader(r, maxInflatedLen))
}

// maxInflatedLen bounds decompressed payloads; JSON payloads carry a uint16 length.
const maxInflatedLen = JSONHeaderLen + 0xFFFF
