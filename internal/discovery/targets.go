package discovery

import (
	"fmt"
	"net"
	"net/netip"
	"slices"
	"strconv"

	"go4.org/netipx"
)

var limitedBroadcast = netip.AddrFrom4([4]byte{255, 255, 255, 255})

// interfaceAddrs is swapped in tests.
var interfaceAddrs = net.InterfaceAddrs

// BroadcastTargets resolves the destinations for one discovery round. Explicit
// targets replace the broadcast set; otherwise the limited broadcast address is
// used, plus each IPv4 interface's directed broadcast when enabled.
func BroadcastTargets(cfg Config) ([]netip.AddrPort, error) {
	if len(cfg.Targets) > 0 {
		out := make([]netip.AddrPort, 0, len(cfg.Targets))
		for _, raw := range cfg.Targets {
			ap, err := parseTarget(raw, cfg.Port)
			if err != nil {
				return nil, err
			}
			out = append(out, ap)
		}
		return dedupe(out), nil
	}

	port := uint16(cfg.Port)
	out := []netip.AddrPort{netip.AddrPortFrom(limitedBroadcast, port)}
	if !cfg.Directed {
		return out, nil
	}
	addrs, err := interfaceAddrs()
	if err != nil {
		return out, fmt.Errorf("discovery: list interface addresses: %w", err)
	}
	for _, ip := range directedBroadcasts(addrs) {
		out = append(out, netip.AddrPortFrom(ip, port))
	}
	return dedupe(out), nil
}

// directedBroadcasts returns the last address of every non-loopback IPv4 subnet
// wide enough to have one.
func directedBroadcasts(addrs []net.Addr) []netip.Addr {
	var out []netip.Addr
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		prefix, ok := netipx.FromStdIPNet(ipnet)
		if !ok || !prefix.Addr().Is4() || prefix.Addr().IsLoopback() {
			continue
		}
		if prefix.Bits() >= 31 {
			continue
		}
		out = append(out, netipx.PrefixLastIP(prefix.Masked()))
	}
	return out
}

func parseTarget(raw string, defaultPort int) (netip.AddrPort, error) {
	if ap, err := netip.ParseAddrPort(raw); err == nil {
		return ap, nil
	}
	if ip, err := netip.ParseAddr(raw); err == nil {
		return netip.AddrPortFrom(ip, uint16(defaultPort)), nil
	}
	host, portText, err := net.SplitHostPort(raw)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("discovery: invalid target %q: %w", raw, err)
	}
	port, err := strconv.ParseUint(portText, 10, 16)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("discovery: invalid target port %q: %w", raw, err)
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("discovery: resolve target %q: %w", raw, err)
	}
	if len(ips) == 0 {
		return netip.AddrPort{}, fmt.Errorf("discovery: target %q has no addresses", raw)
	}
	ip, ok := netipx.FromStdIP(ips[0])
	if !ok {
		return netip.AddrPort{}, fmt.Errorf("discovery: unusable target address %q", raw)
	}
	return netip.AddrPortFrom(ip, uint16(port)), nil
}

func dedupe(in []netip.AddrPort) []netip.AddrPort {
	out := make([]netip.AddrPort, 0, len(in))
	for _, ap := range in {
		if !slices.Contains(out, ap) {
			out = append(out, ap)
		}
	}
	return out
}
