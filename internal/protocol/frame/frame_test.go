package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/danmuck/wifikey/internal/testutil/testlog"
)

func TestChecksumKnownVector(t *testing.T) {
	testlog.Start(t)
	if got := Checksum([]byte("123456789")); got != 0x4B37 {
		t.Fatalf("unexpected crc: 0x%04x", got)
	}
	if got := Checksum(nil); got != 0xFFFF {
		t.Fatalf("unexpected crc of empty input: 0x%04x", got)
	}
}

func TestBuildParseRoundTrip(t *testing.T) {
	testlog.Start(t)
	payload := []byte{0x01, 0x00, 0x64, 0x00, 0x00, 0x00}
	b := Build(TypeMouseMove, payload, DefaultOptions())
	if len(b) != MinLen+len(payload) {
		t.Fatalf("unexpected frame length: %d", len(b))
	}
	if binary.LittleEndian.Uint16(b[0:2]) != Magic {
		t.Fatalf("magic not little endian: % x", b[0:2])
	}
	f, err := Parse(b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Type != TypeMouseMove || f.Compressed {
		t.Fatalf("unexpected frame: %+v", f)
	}
	if !bytes.Equal(f.Payload, payload) {
		t.Fatalf("payload mismatch: % x", f.Payload)
	}
}

func TestParseRejectsShortAndBadMagic(t *testing.T) {
	testlog.Start(t)
	if _, err := Parse([]byte{0xBB, 0xAA, 0x01, 0x00}); !errors.Is(err, ErrShortFrame) {
		t.Fatalf("expected ErrShortFrame, got %v", err)
	}
	b := Build(TypeHeartbeat, make([]byte, HeartbeatPayloadLen), DefaultOptions())
	b[0] = 0x00
	if _, err := Parse(b); !errors.Is(err, ErrInvalidMagic) {
		t.Fatalf("expected ErrInvalidMagic, got %v", err)
	}
}

func TestParseRejectsEverySingleBitFlip(t *testing.T) {
	testlog.Start(t)
	payload := bytes.Repeat([]byte("wifikey-"), 4)
	b := Build(TypeGeneric, payload, Options{})
	for i := range b {
		for bit := 0; bit < 8; bit++ {
			corrupt := append([]byte(nil), b...)
			corrupt[i] ^= 1 << bit
			if _, err := Parse(corrupt); err == nil {
				t.Fatalf("bit flip byte=%d bit=%d accepted", i, bit)
			}
		}
	}
}

func TestCompressionGating(t *testing.T) {
	testlog.Start(t)

	small := bytes.Repeat([]byte{'a'}, DefaultCompressThreshold)
	b := Build(TypeGeneric, small, DefaultOptions())
	if b[2]&FlagCompressed != 0 {
		t.Fatalf("payload at threshold must not be compressed")
	}

	large := bytes.Repeat([]byte{'a'}, 512)
	b = Build(TypeGeneric, large, DefaultOptions())
	if b[2]&FlagCompressed == 0 {
		t.Fatalf("compressible payload above threshold should be compressed")
	}
	if b[2] != 0xFF {
		t.Fatalf("compressed generic type byte: 0x%02x", b[2])
	}
	if len(b) >= MinLen+len(large) {
		t.Fatalf("compressed frame not smaller: %d", len(b))
	}
	f, err := Parse(b)
	if err != nil {
		t.Fatalf("parse compressed: %v", err)
	}
	if !f.Compressed || f.Type != TypeGeneric || !bytes.Equal(f.Payload, large) {
		t.Fatalf("unexpected decompressed frame: type=%s compressed=%v len=%d", f.Type, f.Compressed, len(f.Payload))
	}

	noise := make([]byte, 200)
	for i := range noise {
		noise[i] = byte(i*151 + 7)
	}
	b = Build(TypeGeneric, noise, DefaultOptions())
	if b[2]&FlagCompressed != 0 && len(b) >= MinLen+len(noise) {
		t.Fatalf("compressed form kept although not smaller")
	}

	b = Build(TypeGeneric, large, Options{Compression: false})
	if b[2]&FlagCompressed != 0 {
		t.Fatalf("compression disabled but flag set")
	}
}

func TestParseRejectsCorruptCompressedPayload(t *testing.T) {
	testlog.Start(t)
	body := []byte{0x01, 0x02, 0x03, 0x04}
	raw := binary.LittleEndian.AppendUint16(nil, Magic)
	raw = append(raw, byte(TypeGeneric)|FlagCompressed)
	raw = append(raw, body...)
	raw = binary.LittleEndian.AppendUint16(raw, Checksum(raw))
	if _, err := Parse(raw); !errors.Is(err, ErrDecompress) {
		t.Fatalf("expected ErrDecompress, got %v", err)
	}
}

func TestReaderSplitsMixedStream(t *testing.T) {
	testlog.Start(t)

	heartbeat := Build(TypeHeartbeat, make([]byte, HeartbeatPayloadLen), DefaultOptions())
	jsonPayload := append([]byte{0x05, 0x00, 0x02, 0x00}, []byte("{}")...)
	generic := Build(TypeGeneric, jsonPayload, DefaultOptions())
	bigJSON := append([]byte{0x06, 0x00, 0x00, 0x02}, bytes.Repeat([]byte{' '}, 512)...)
	compressed := Build(TypeGeneric, bigJSON, DefaultOptions())
	if compressed[2]&FlagCompressed == 0 {
		t.Fatalf("fixture should be compressed")
	}

	var stream bytes.Buffer
	stream.WriteString(`{"type":"handshake","note":"brace } in string"}` + "\n")
	stream.Write(heartbeat)
	stream.Write(compressed)
	stream.WriteString(`{"type":"status","message":"ok"}`)
	stream.Write(generic)

	r := NewReader(&stream)
	want := []struct {
		kind MessageKind
		data []byte
	}{
		{MessageJSON, []byte(`{"type":"handshake","note":"brace } in string"}`)},
		{MessageFrame, heartbeat},
		{MessageFrame, compressed},
		{MessageJSON, []byte(`{"type":"status","message":"ok"}`)},
		{MessageFrame, generic},
	}
	for i, w := range want {
		msg, err := r.Next()
		if err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
		if msg.Kind != w.kind || !bytes.Equal(msg.Data, w.data) {
			t.Fatalf("message %d mismatch: kind=%s data=% x", i, msg.Kind, msg.Data)
		}
	}
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestReaderReportsRawBytes(t *testing.T) {
	testlog.Start(t)
	r := NewReader(bytes.NewReader([]byte("hello")))
	msg, err := r.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if msg.Kind != MessageRaw || string(msg.Data) != "hello" {
		t.Fatalf("unexpected raw message: %+v", msg)
	}
}

func TestReaderResyncsAfterGarbage(t *testing.T) {
	testlog.Start(t)
	heartbeat := Build(TypeHeartbeat, make([]byte, HeartbeatPayloadLen), DefaultOptions())

	corrupt := binary.LittleEndian.AppendUint16(nil, Magic)
	corrupt = append(corrupt, byte(TypeGeneric)|FlagCompressed, 0x01, 0x02, 0x03, 0x04)
	corrupt = binary.LittleEndian.AppendUint16(corrupt, 0x1111)
	unknown := binary.LittleEndian.AppendUint16(nil, Magic)
	unknown = append(unknown, 0x30)

	var stream bytes.Buffer
	stream.Write(corrupt)
	stream.Write(unknown)
	stream.WriteString("xyz")
	stream.Write(heartbeat)
	stream.WriteString(`{"type":"status"}`)

	r := NewReader(&stream)
	var raw int
	for {
		msg, err := r.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if msg.Kind == MessageRaw {
			raw += len(msg.Data)
			continue
		}
		if msg.Kind != MessageFrame || !bytes.Equal(msg.Data, heartbeat) {
			t.Fatalf("expected heartbeat frame, got kind=%s data=% x", msg.Kind, msg.Data)
		}
		break
	}
	if want := len(corrupt) + len(unknown) + 3; raw != want {
		t.Fatalf("raw bytes=%d want %d", raw, want)
	}
	msg, err := r.Next()
	if err != nil || msg.Kind != MessageJSON {
		t.Fatalf("expected trailing json, got %+v err=%v", msg, err)
	}
}

func TestReaderStrayBracketCostsOneByte(t *testing.T) {
	testlog.Start(t)
	heartbeat := Build(TypeHeartbeat, make([]byte, HeartbeatPayloadLen), DefaultOptions())
	status := []byte(`{"type":"status","message":"ok"}`)

	tests := []struct {
		name   string
		prefix []byte
		raw    int
	}{
		{name: "lone brace", prefix: []byte("{"), raw: 1},
		{name: "lone bracket", prefix: []byte("["), raw: 1},
		{name: "unterminated line", prefix: []byte("{\"type\":1\n"), raw: len("{\"type\":1\n")},
		{name: "mismatched close", prefix: []byte("{]"), raw: 2},
		{name: "control byte in string", prefix: []byte("{\"a\x01"), raw: len("{\"a\x01")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var stream bytes.Buffer
			stream.Write(tc.prefix)
			stream.Write(heartbeat)
			stream.Write(heartbeat)
			stream.Write(status)
			stream.WriteString("\n")

			r := NewReader(&stream)
			var raw, frames int
			for {
				msg, err := r.Next()
				if err != nil {
					t.Fatalf("next: %v (raw=%d frames=%d)", err, raw, frames)
				}
				switch msg.Kind {
				case MessageRaw:
					raw += len(msg.Data)
					continue
				case MessageFrame:
					if !bytes.Equal(msg.Data, heartbeat) {
						t.Fatalf("unexpected frame % x", msg.Data)
					}
					frames++
					continue
				}
				if !bytes.Equal(msg.Data, status) {
					t.Fatalf("unexpected json %q", msg.Data)
				}
				break
			}
			if frames != 2 {
				t.Fatalf("frames=%d want 2", frames)
			}
			if raw != tc.raw {
				t.Fatalf("raw bytes=%d want %d", raw, tc.raw)
			}
		})
	}
}

func TestReaderStrayBraceDoesNotWaitForNewline(t *testing.T) {
	testlog.Start(t)
	heartbeat := Build(TypeHeartbeat, make([]byte, HeartbeatPayloadLen), DefaultOptions())
	pr, pw := io.Pipe()
	defer pr.Close()
	go func() {
		_, _ = pw.Write(append([]byte("{"), heartbeat...))
	}()

	got := make(chan Message, 2)
	go func() {
		r := NewReader(pr)
		for i := 0; i < 2; i++ {
			msg, err := r.Next()
			if err != nil {
				return
			}
			got <- msg
		}
	}()
	for i, want := range []MessageKind{MessageRaw, MessageFrame} {
		select {
		case msg := <-got:
			if msg.Kind != want {
				t.Fatalf("message %d kind=%s want %s", i, msg.Kind, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("message %d not delivered while the peer is idle", i)
		}
	}
}

func TestReaderReportsTruncatedCompressedFrame(t *testing.T) {
	testlog.Start(t)
	large := append([]byte{0x01, 0x00, 0x00, 0x02}, bytes.Repeat([]byte{' '}, 512)...)
	b := Build(TypeGeneric, large, DefaultOptions())
	r := NewReader(bytes.NewReader(b[:len(b)/2]))
	if _, err := r.Next(); err == nil {
		t.Fatalf("expected error on truncated stream")
	}
}
