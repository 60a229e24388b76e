package discovery

import (
	"fmt"
	"time"
)

const (
	DefaultPort              = 12345
	DefaultBroadcastInterval = 5 * time.Second
	DefaultPollInterval      = time.Second

	maxDatagram = 1024
)

// Config drives one discovery socket. The socket is bound to Port so device
// replies addressed to the sender are received on the same socket.
type Config struct {
	BindHost          string
	Port              int
	TCPPort           int
	BroadcastInterval time.Duration
	PollInterval      time.Duration
	Directed          bool
	// Targets overrides the broadcast set with explicit "ip" or "ip:port" entries.
	Targets []string
}

func DefaultConfig() Config {
	return Config{
		Port:              DefaultPort,
		TCPPort:           12346,
		BroadcastInterval: DefaultBroadcastInterval,
		PollInterval:      DefaultPollInterval,
		Directed:          true,
	}
}

func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 0xFFFF {
		return fmt.Errorf("discovery: invalid port %d", c.Port)
	}
	if c.TCPPort < 0 || c.TCPPort > 0xFFFF {
		return fmt.Errorf("discovery: invalid tcp port %d", c.TCPPort)
	}
	if c.BroadcastInterval <= 0 || c.PollInterval <= 0 {
		return fmt.Errorf("discovery: intervals must be > 0")
	}
	return nil
}
