package session

import (
	"bufio"
	"bytes"
	"errors"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/wifikey/internal/testutil/testlog"
)

func TestBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
	}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 250 * time.Millisecond},
		{attempt: 1, want: 250 * time.Millisecond},
		{attempt: 2, want: 500 * time.Millisecond},
		{attempt: 3, want: time.Second},
		{attempt: 6, want: 5 * time.Second},
		{attempt: 40, want: 5 * time.Second},
	}
	for _, tc := range tests {
		if got := cfg.Delay(tc.attempt, nil); got != tc.want {
			t.Fatalf("attempt %d got=%v want=%v", tc.attempt, got, tc.want)
		}
	}
	if got := (BackoffConfig{}).Delay(3, nil); got != 0 {
		t.Fatalf("zero config delay=%v", got)
	}
}

func TestBackoffDelayJitterRange(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig().Backoff
	rng := rand.New(rand.NewPCG(7, 7))
	for i := 0; i < 100; i++ {
		got := cfg.Delay(1, rng)
		if got < 125*time.Millisecond || got >= 375*time.Millisecond {
			t.Fatalf("jitter out of range: %v", got)
		}
		if capped := cfg.Delay(20, rng); capped > cfg.MaxDelay || capped < cfg.MaxDelay/2 {
			t.Fatalf("capped jitter out of range: %v", capped)
		}
	}
}

func TestHandshakeRoundTrip(t *testing.T) {
	testlog.Start(t)
	now := time.UnixMilli(1700000000500)
	var buf bytes.Buffer
	if err := WriteHandshake(&buf, NewHandshake(now)); err != nil {
		t.Fatalf("write handshake: %v", err)
	}
	if !strings.HasSuffix(buf.String(), "}\n") || !strings.HasPrefix(buf.String(), `{"type":"handshake","version":"1.0"`) {
		t.Fatalf("unexpected handshake line: %q", buf.String())
	}
	got, err := ReadHandshake(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("read handshake: %v", err)
	}
	if got.Version != ProtocolVersion || got.Timestamp != 1700000000.5 {
		t.Fatalf("unexpected handshake: %+v", got)
	}
}

func TestHandshakeResponseDefaultsDeviceName(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	if err := WriteHandshakeResponse(&buf, NewHandshakeResponse("Pixel 8")); err != nil {
		t.Fatalf("write response: %v", err)
	}
	buf.WriteString(`{"type":"handshake_response"}` + "\n")

	r := bufio.NewReader(&buf)
	first, err := ReadHandshakeResponse(r)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if first.DeviceName != "Pixel 8" {
		t.Fatalf("unexpected device name %q", first.DeviceName)
	}
	second, err := ReadHandshakeResponse(r)
	if err != nil {
		t.Fatalf("read default response: %v", err)
	}
	if second.DeviceName != DefaultDeviceName {
		t.Fatalf("expected default device name, got %q", second.DeviceName)
	}
}

func TestHandshakeResponseRejectsWrongType(t *testing.T) {
	testlog.Start(t)
	for _, line := range []string{`{"type":"status","message":"hi"}`, `hello`, `[]`} {
		if _, err := ParseHandshakeResponse([]byte(line)); !errors.Is(err, ErrInvalidHandshake) {
			t.Fatalf("expected ErrInvalidHandshake for %s, got %v", line, err)
		}
	}
}

func TestControlMessages(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	if err := WriteControl(&buf, StatusMessage("battery low")); err != nil {
		t.Fatalf("write status: %v", err)
	}
	if err := WriteControl(&buf, ControlReturn()); err != nil {
		t.Fatalf("write control return: %v", err)
	}
	line, err := EncodeControl(HeartbeatMessage(time.UnixMilli(42)))
	if err != nil {
		t.Fatalf("encode heartbeat: %v", err)
	}
	if string(line) != `{"type":"heartbeat","timestamp":42}`+"\n" {
		t.Fatalf("unexpected heartbeat line: %q", line)
	}
	buf.Write(line)

	want := []Control{
		{Type: TypeStatus, Message: "battery low"},
		{Type: TypeControlReturn},
		{Type: TypeHeartbeat, Timestamp: 42},
	}
	r := bufio.NewReader(&buf)
	for i, w := range want {
		raw, err := r.ReadBytes('\n')
		if err != nil {
			t.Fatalf("line %d: %v", i, err)
		}
		got, err := ParseControl(raw)
		if err != nil {
			t.Fatalf("parse line %d: %v", i, err)
		}
		if got != w {
			t.Fatalf("line %d: got %+v want %+v", i, got, w)
		}
	}

	if _, err := ParseControl([]byte(`{"message":"untyped"}`)); !errors.Is(err, ErrInvalidControl) {
		t.Fatalf("expected ErrInvalidControl, got %v", err)
	}
	if err := WriteControl(&buf, Control{}); !errors.Is(err, ErrInvalidControl) {
		t.Fatalf("expected ErrInvalidControl on write, got %v", err)
	}
}

func TestReadRejectsOversizedLine(t *testing.T) {
	testlog.Start(t)
	line := `{"type":"handshake_response","device_name":"` + strings.Repeat("x", maxControlLine) + `"}` + "\n"
	r := bufio.NewReader(strings.NewReader(line))
	if _, err := ReadHandshakeResponse(r); !errors.Is(err, ErrControlMessageTooLarge) {
		t.Fatalf("expected ErrControlMessageTooLarge, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.SessionDeadAfter != 0 || cfg.HeartbeatMode != HeartbeatFrame {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	cfg.HeartbeatMode = "smoke"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected invalid heartbeat mode error")
	}
	if mode, err := ParseHeartbeatMode(" JSON "); err != nil || mode != HeartbeatJSON {
		t.Fatalf("parse heartbeat mode: mode=%q err=%v", mode, err)
	}
}
