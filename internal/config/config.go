package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/wifikey/internal/discovery"
	"github.com/danmuck/wifikey/internal/host"
	"github.com/danmuck/wifikey/internal/peer"
	"github.com/danmuck/wifikey/internal/protocol/session"
)

// fileConfig is the wifikey.toml key mapping. Durations are Go duration strings.
type fileConfig struct {
	TCPPort           int      `toml:"tcp_port" comment:"TCP port the device connects to"`
	DiscoveryPort     int      `toml:"discovery_port" comment:"UDP port for discovery broadcasts and replies"`
	BindHost          string   `toml:"bind_host" comment:"empty binds every IPv4 interface"`
	Compression       bool     `toml:"compression"`
	MaxPacketSize     int      `toml:"max_packet_size" comment:"upper bound for one batch frame in bytes"`
	CompressThreshold int      `toml:"compress_threshold" comment:"payloads at or below this size are never compressed"`
	HeartbeatInterval string   `toml:"heartbeat_interval"`
	HeartbeatMode     string   `toml:"heartbeat_mode" comment:"frame or json"`
	HandshakeTimeout  string   `toml:"handshake_timeout"`
	WriteTimeout      string   `toml:"write_timeout"`
	SessionDeadAfter  string   `toml:"session_dead_after" comment:"0s keeps a silent peer connected"`
	BroadcastInterval string   `toml:"broadcast_interval"`
	DiscoveryPoll     string   `toml:"discovery_poll"`
	DirectedBroadcast bool     `toml:"directed_broadcast" comment:"also send to each interface's directed broadcast address"`
	BroadcastAddrs    []string `toml:"broadcast_addrs" comment:"explicit targets replace the computed broadcast set"`
	AdminAddr         string   `toml:"admin_addr" comment:"local HTTP admin surface, empty disables it"`
	CORSOrigins       []string `toml:"cors_origins"`
	AdminToken        string   `toml:"admin_token" comment:"bearer token for the admin API, empty leaves it open; WIFIKEY_ADMIN_TOKEN overrides"`

	Peer peerFileConfig `toml:"peer"`
}

type peerFileConfig struct {
	Name          string `toml:"name"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	DiscoveryPort int    `toml:"discovery_port"`
}

// Config is the resolved runtime configuration.
type Config struct {
	Host        host.Config
	AdminAddr   string
	CORSOrigins []string
	AdminToken  string
	Peer        PeerConfig
}

// PeerConfig drives the device emulator.
type PeerConfig struct {
	Name          string
	Host          string
	Port          int
	DiscoveryPort int
}

func Default() Config {
	return Config{
		Host: host.DefaultConfig(),
		Peer: PeerConfig{
			Name:          "wifikey-peer",
			Host:          "127.0.0.1",
			Port:          host.DefaultTCPPort,
			DiscoveryPort: discovery.DefaultPort,
		},
	}
}

// Load reads path and overlays every defined key on Default.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load wifikey config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load wifikey config: unknown keys %v", undecoded)
	}

	h := &cfg.Host
	if meta.IsDefined("tcp_port") {
		h.TCPPort = raw.TCPPort
	}
	if meta.IsDefined("discovery_port") {
		h.Discovery.Port = raw.DiscoveryPort
	}
	if meta.IsDefined("bind_host") {
		h.BindHost = strings.TrimSpace(raw.BindHost)
	}
	if meta.IsDefined("compression") {
		h.Codec.Compression = raw.Compression
	}
	if meta.IsDefined("max_packet_size") {
		h.Codec.MaxPacketSize = raw.MaxPacketSize
	}
	if meta.IsDefined("compress_threshold") {
		h.Codec.CompressThreshold = raw.CompressThreshold
	}
	if meta.IsDefined("heartbeat_mode") {
		mode, err := session.ParseHeartbeatMode(raw.HeartbeatMode)
		if err != nil {
			return Config{}, fmt.Errorf("load wifikey config: %w", err)
		}
		h.Session.HeartbeatMode = mode
	}
	if meta.IsDefined("directed_broadcast") {
		h.Discovery.Directed = raw.DirectedBroadcast
	}
	if meta.IsDefined("broadcast_addrs") {
		h.Discovery.Targets = trimAll(raw.BroadcastAddrs)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = trimAll(raw.CORSOrigins)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"heartbeat_interval", raw.HeartbeatInterval, &h.Session.HeartbeatInterval},
		{"handshake_timeout", raw.HandshakeTimeout, &h.Session.HandshakeTimeout},
		{"write_timeout", raw.WriteTimeout, &h.Session.WriteTimeout},
		{"session_dead_after", raw.SessionDeadAfter, &h.Session.SessionDeadAfter},
		{"broadcast_interval", raw.BroadcastInterval, &h.Discovery.BroadcastInterval},
		{"discovery_poll", raw.DiscoveryPoll, &h.Discovery.PollInterval},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("load wifikey config: %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("peer", "name") {
		cfg.Peer.Name = strings.TrimSpace(raw.Peer.Name)
	}
	if meta.IsDefined("peer", "host") {
		cfg.Peer.Host = strings.TrimSpace(raw.Peer.Host)
	}
	if meta.IsDefined("peer", "port") {
		cfg.Peer.Port = raw.Peer.Port
	}
	if meta.IsDefined("peer", "discovery_port") {
		cfg.Peer.DiscoveryPort = raw.Peer.DiscoveryPort
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("load wifikey config: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := c.Host.Validate(); err != nil {
		return err
	}
	if c.Host.Codec.MaxPacketSize <= 0 {
		return fmt.Errorf("max_packet_size must be > 0")
	}
	if c.Host.Codec.CompressThreshold < 0 {
		return fmt.Errorf("compress_threshold must not be negative")
	}
	if c.AdminAddr != "" {
		if _, _, err := net.SplitHostPort(c.AdminAddr); err != nil {
			return fmt.Errorf("admin_addr: %w", err)
		}
	}
	for _, target := range c.Host.Discovery.Targets {
		if target == "" {
			return fmt.Errorf("broadcast_addrs: empty entry")
		}
	}
	if c.Peer.Port < 0 || c.Peer.Port > 0xFFFF {
		return fmt.Errorf("peer.port: invalid port %d", c.Peer.Port)
	}
	if c.Peer.DiscoveryPort < 0 || c.Peer.DiscoveryPort > 0xFFFF {
		return fmt.Errorf("peer.discovery_port: invalid port %d", c.Peer.DiscoveryPort)
	}
	return nil
}

// PeerClient returns the emulator's connection settings.
func (c Config) PeerClient() peer.Config {
	pc := peer.DefaultConfig()
	pc.Address = net.JoinHostPort(c.Peer.Host, strconv.Itoa(c.Peer.Port))
	pc.DeviceName = c.Peer.Name
	pc.Session = c.Host.Session
	pc.Codec = c.Host.Codec
	return pc
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.TrimSpace(s))
	}
	return out
}
