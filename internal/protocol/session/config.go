package session

import (
	"fmt"
	"strings"
	"time"
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// HeartbeatMode selects what the host sends on each heartbeat tick.
type HeartbeatMode string

const (
	// HeartbeatFrame sends a binary Heartbeat frame built by the codec.
	HeartbeatFrame HeartbeatMode = "frame"
	// HeartbeatJSON sends the {"type":"heartbeat"} control line.
	HeartbeatJSON HeartbeatMode = "json"
)

func (m HeartbeatMode) Valid() bool {
	return m == HeartbeatFrame || m == HeartbeatJSON
}

func ParseHeartbeatMode(s string) (HeartbeatMode, error) {
	mode := HeartbeatMode(strings.ToLower(strings.TrimSpace(s)))
	if mode == "" {
		return HeartbeatFrame, nil
	}
	if !mode.Valid() {
		return "", fmt.Errorf("session: invalid heartbeat mode %q", s)
	}
	return mode, nil
}

// Config defines session timing. SessionDeadAfter of zero disables receive-side
// liveness: a silent peer stays connected until the transport fails.
type Config struct {
	ConnectTimeout    time.Duration
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	HeartbeatInterval time.Duration
	HeartbeatMode     HeartbeatMode
	SessionDeadAfter  time.Duration
	Backoff           BackoffConfig
}

// DefaultConfig returns the host defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    5 * time.Second,
		HandshakeTimeout:  5 * time.Second,
		WriteTimeout:      5 * time.Second,
		HeartbeatInterval: 5 * time.Second,
		HeartbeatMode:     HeartbeatFrame,
		SessionDeadAfter:  0,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

func (c Config) Validate() error {
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("session: handshake timeout must be > 0")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("session: heartbeat interval must be > 0")
	}
	if c.WriteTimeout < 0 || c.SessionDeadAfter < 0 || c.ConnectTimeout < 0 {
		return fmt.Errorf("session: timeouts must not be negative")
	}
	if !c.HeartbeatMode.Valid() {
		return fmt.Errorf("session: invalid heartbeat mode %q", c.HeartbeatMode)
	}
	return nil
}
