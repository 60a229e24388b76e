package config

import "time"

// toFile maps a resolved config back to its file shape.
func toFile(c Config) fileConfig {
	h := c.Host
	return fileConfig{
		TCPPort:           h.TCPPort,
		DiscoveryPort:     h.Discovery.Port,
		BindHost:          h.BindHost,
		Compression:       h.Codec.Compression,
		MaxPacketSize:     h.Codec.MaxPacketSize,
		CompressThreshold: h.Codec.CompressThreshold,
		HeartbeatInterval: durationString(h.Session.HeartbeatInterval),
		HeartbeatMode:     string(h.Session.HeartbeatMode),
		HandshakeTimeout:  durationString(h.Session.HandshakeTimeout),
		WriteTimeout:      durationString(h.Session.WriteTimeout),
		SessionDeadAfter:  durationString(h.Session.SessionDeadAfter),
		BroadcastInterval: durationString(h.Discovery.BroadcastInterval),
		DiscoveryPoll:     durationString(h.Discovery.PollInterval),
		DirectedBroadcast: h.Discovery.Directed,
		BroadcastAddrs:    nonNil(h.Discovery.Targets),
		AdminAddr:         c.AdminAddr,
		CORSOrigins:       nonNil(c.CORSOrigins),
		AdminToken:        c.AdminToken,
		Peer: peerFileConfig{
			Name:          c.Peer.Name,
			Host:          c.Peer.Host,
			Port:          c.Peer.Port,
			DiscoveryPort: c.Peer.DiscoveryPort,
		},
	}
}

func durationString(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	return d.String()
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
