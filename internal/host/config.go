package host

import (
	"fmt"

	"github.com/danmuck/wifikey/internal/discovery"
	"github.com/danmuck/wifikey/internal/protocol"
	"github.com/danmuck/wifikey/internal/protocol/session"
)

const DefaultTCPPort = 12346

// Config drives one Manager. Discovery.Port is the discovery port; its TCPPort
// is filled from the bound listener on Start.
type Config struct {
	BindHost  string
	TCPPort   int
	Session   session.Config
	Codec     protocol.Options
	Discovery discovery.Config
}

func DefaultConfig() Config {
	return Config{
		TCPPort:   DefaultTCPPort,
		Session:   session.DefaultConfig(),
		Codec:     protocol.DefaultOptions(),
		Discovery: discovery.DefaultConfig(),
	}
}

func (c Config) Validate() error {
	if c.TCPPort < 0 || c.TCPPort > 0xFFFF {
		return fmt.Errorf("host: invalid tcp port %d", c.TCPPort)
	}
	if err := c.Session.Validate(); err != nil {
		return err
	}
	return c.Discovery.Validate()
}
