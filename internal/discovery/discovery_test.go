package discovery

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/danmuck/wifikey/internal/testutil/testlog"
	"github.com/google/go-cmp/cmp"
)

func TestParseResponse(t *testing.T) {
	testlog.Start(t)
	src := netip.MustParseAddr("192.168.1.40")
	cases := []struct {
		name string
		data string
		want Descriptor
		ok   bool
	}{
		{"json body", `WIFIKEY_RESPONSE{"name":"Pixel 8","port":5000}`, Descriptor{Name: "Pixel 8", IP: "192.168.1.40", Port: 5000}, true},
		{"device_name body", `WIFIKEY_RESPONSE{"device_name":"Tab"}`, Descriptor{Name: "Tab", IP: "192.168.1.40", Port: 12346}, true},
		{"bare token", `WIFIKEY_RESPONSE`, Descriptor{Name: "Android Device (192.168.1.40)", IP: "192.168.1.40", Port: 12346}, true},
		{"malformed body", `WIFIKEY_RESPONSE{not json`, Descriptor{Name: "Android Device (192.168.1.40)", IP: "192.168.1.40", Port: 12346}, true},
		{"ip in body ignored", `WIFIKEY_RESPONSE{"name":"x","ip":"10.0.0.1","port":70000}`, Descriptor{Name: "x", IP: "192.168.1.40", Port: 12346}, true},
		{"request token", `WIFIKEY_DISCOVERY`, Descriptor{}, false},
		{"noise", `hello`, Descriptor{}, false},
	}
	for _, tc := range cases {
		got, ok := ParseResponse([]byte(tc.data), src, 12346)
		if ok != tc.ok {
			t.Fatalf("%s: ok=%v want %v", tc.name, ok, tc.ok)
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Fatalf("%s: descriptor mismatch (-want +got):\n%s", tc.name, diff)
		}
	}
}

func TestEncodeResponseParsesBack(t *testing.T) {
	testlog.Start(t)
	b, err := EncodeResponse("Phone", 4000)
	if err != nil {
		t.Fatalf("encode response: %v", err)
	}
	d, ok := ParseResponse(b, netip.MustParseAddr("10.1.2.3"), 1)
	if !ok || d.Name != "Phone" || d.Port != 4000 || d.IP != "10.1.2.3" {
		t.Fatalf("unexpected descriptor: %+v ok=%v", d, ok)
	}
	if !IsRequest([]byte(RequestToken)) || IsRequest(b) {
		t.Fatalf("request token detection mismatch")
	}
}

func TestBroadcastTargets(t *testing.T) {
	testlog.Start(t)
	orig := interfaceAddrs
	t.Cleanup(func() { interfaceAddrs = orig })
	interfaceAddrs = func() ([]net.Addr, error) {
		return []net.Addr{
			&net.IPNet{IP: net.ParseIP("127.0.0.1"), Mask: net.CIDRMask(8, 32)},
			&net.IPNet{IP: net.ParseIP("192.168.1.40"), Mask: net.CIDRMask(24, 32)},
			&net.IPNet{IP: net.ParseIP("10.20.30.40"), Mask: net.CIDRMask(16, 32)},
			&net.IPNet{IP: net.ParseIP("172.16.0.9"), Mask: net.CIDRMask(32, 32)},
			&net.IPNet{IP: net.ParseIP("fe80::1"), Mask: net.CIDRMask(64, 128)},
		}, nil
	}

	cfg := DefaultConfig()
	got, err := BroadcastTargets(cfg)
	if err != nil {
		t.Fatalf("targets: %v", err)
	}
	want := []netip.AddrPort{
		netip.MustParseAddrPort("255.255.255.255:12345"),
		netip.MustParseAddrPort("192.168.1.255:12345"),
		netip.MustParseAddrPort("10.20.255.255:12345"),
	}
	if diff := cmp.Diff(want, got, cmp.Comparer(func(a, b netip.AddrPort) bool { return a == b })); diff != "" {
		t.Fatalf("targets mismatch (-want +got):\n%s", diff)
	}

	cfg.Directed = false
	got, err = BroadcastTargets(cfg)
	if err != nil || len(got) != 1 {
		t.Fatalf("undirected targets: %v err=%v", got, err)
	}

	cfg.Targets = []string{"10.0.0.7", "10.0.0.8:999", "10.0.0.7"}
	got, err = BroadcastTargets(cfg)
	if err != nil {
		t.Fatalf("explicit targets: %v", err)
	}
	if len(got) != 2 || got[0].Port() != 12345 || got[1].Port() != 999 {
		t.Fatalf("unexpected explicit targets: %v", got)
	}

	cfg.Targets = []string{"not a target"}
	if _, err := BroadcastTargets(cfg); err == nil {
		t.Fatalf("expected invalid target error")
	}
}

func TestDiscoveryRoundTripReportsSourceAddress(t *testing.T) {
	testlog.Start(t)
	responder, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("responder listen: %v", err)
	}
	defer responder.Close()
	go func() {
		buf := make([]byte, 256)
		for {
			n, src, err := responder.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if !IsRequest(buf[:n]) {
				continue
			}
			reply, _ := EncodeResponse("Test Phone", 0)
			_, _ = responder.WriteToUDP(reply, src)
		}
	}()

	found := make(chan Descriptor, 4)
	cfg := DefaultConfig()
	cfg.BindHost = "127.0.0.1"
	cfg.Port = 0
	cfg.TCPPort = 4242
	cfg.PollInterval = 50 * time.Millisecond
	cfg.Targets = []string{responder.LocalAddr().String()}
	svc, err := Listen(cfg, func(d Descriptor) { found <- d })
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.RunResponseListener(ctx) }()

	if err := svc.BroadcastOnce(); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	select {
	case d := <-found:
		want := Descriptor{Name: "Test Phone", IP: "127.0.0.1", Port: 4242}
		if diff := cmp.Diff(want, d); diff != "" {
			t.Fatalf("descriptor mismatch (-want +got):\n%s", diff)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no descriptor received")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("listener returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("listener did not observe cancellation")
	}
}

func TestCloseStopsBroadcastLoop(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.BindHost = "127.0.0.1"
	cfg.Port = 0
	cfg.BroadcastInterval = 20 * time.Millisecond
	cfg.Targets = []string{"127.0.0.1:9"}
	svc, err := Listen(cfg, nil)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- svc.RunBroadcastLoop(context.Background()) }()
	time.Sleep(60 * time.Millisecond)
	if err := svc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	_ = svc.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("broadcast loop returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("broadcast loop did not stop after close")
	}
}
