package host

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/wifikey/internal/discovery"
	"github.com/danmuck/wifikey/internal/observability"
	"github.com/danmuck/wifikey/internal/protocol"
	"github.com/danmuck/wifikey/internal/protocol/frame"
	"github.com/danmuck/wifikey/internal/protocol/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Status is a read-only snapshot of the manager.
type Status struct {
	Running        bool      `json:"running"`
	Connected      bool      `json:"connected"`
	DeviceName     string    `json:"device_name"`
	Address        string    `json:"address"`
	TCPPort        int       `json:"tcp_port"`
	DiscoveryPort  int       `json:"discovery_port"`
	SessionID      string    `json:"session_id,omitempty"`
	ConnectedSince time.Time `json:"connected_since,omitzero"`
}

// runState holds the resources of one Start..Stop cycle.
type runState struct {
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	ln            net.Listener
	disc          *discovery.Service
	tcpPort       int
	discoveryPort int

	responsesStarted bool
}

// Manager owns the control channel: the TCP listener, the handshake, the one
// connected session, its receive loop and the heartbeat. All session state is
// guarded by mu, which is never held across a blocking socket call.
type Manager struct {
	cfg    Config
	codec  *protocol.Codec
	notify *notifier
	logger zerolog.Logger

	mu      sync.Mutex
	run     *runState
	current *peerConn
}

func New(cfg Config, l Listener) *Manager {
	return &Manager{
		cfg:    cfg,
		codec:  protocol.NewCodec(cfg.Codec),
		notify: newNotifier(l),
		logger: observability.Component("host"),
	}
}

// Codec returns the codec used for outbound frames.
func (m *Manager) Codec() *protocol.Codec {
	return m.codec
}

// Start binds the TCP listener and the discovery socket and launches the accept,
// broadcast and heartbeat loops. Starting a running manager is a no-op. Bind
// failures return ErrTransport after releasing anything already bound.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.run != nil {
		return nil
	}

	addr := net.JoinHostPort(m.cfg.BindHost, strconv.Itoa(m.cfg.TCPPort))
	ln, err := net.Listen("tcp4", addr)
	if err != nil {
		return fmt.Errorf("%w: listen tcp %s: %w", ErrTransport, addr, err)
	}
	tcpPort := ln.Addr().(*net.TCPAddr).Port

	dcfg := m.cfg.Discovery
	dcfg.BindHost = m.cfg.BindHost
	dcfg.TCPPort = tcpPort
	disc, err := discovery.Listen(dcfg, m.deviceFound)
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	rs := &runState{
		ctx:           gctx,
		cancel:        cancel,
		group:         g,
		ln:            ln,
		disc:          disc,
		tcpPort:       tcpPort,
		discoveryPort: disc.LocalAddr().Port,
	}
	m.run = rs

	g.Go(func() error {
		<-gctx.Done()
		_ = ln.Close()
		_ = disc.Close()
		return nil
	})
	g.Go(func() error { return m.acceptLoop(gctx, rs) })
	g.Go(func() error { return disc.RunBroadcastLoop(gctx) })
	g.Go(func() error { return m.heartbeatLoop(gctx) })

	m.logger.Info().
		Str("addr", ln.Addr().String()).
		Int("discovery_port", rs.discoveryPort).
		Msg("host.Manager.Start listening")
	m.postLog(fmt.Sprintf("Server started on port %d", tcpPort))
	m.postLog(fmt.Sprintf("Discovery listening on port %d", rs.discoveryPort))
	return nil
}

// Stop cancels every loop, closes the sockets and the connected session, and
// waits for the loops and pending notifications. Stopping an idle manager is a no-op.
func (m *Manager) Stop() error {
	m.mu.Lock()
	rs := m.run
	m.run = nil
	m.mu.Unlock()
	if rs == nil {
		return nil
	}

	rs.cancel()
	_ = rs.ln.Close()
	_ = rs.disc.Close()
	m.Disconnect()
	err := rs.group.Wait()
	m.notify.flush()
	m.logger.Info().Msg("host.Manager.Stop stopped")
	return err
}

func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.run != nil
}

func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		TCPPort:       m.cfg.TCPPort,
		DiscoveryPort: m.cfg.Discovery.Port,
	}
	if m.run != nil {
		st.Running = true
		st.TCPPort = m.run.tcpPort
		st.DiscoveryPort = m.run.discoveryPort
	}
	if p := m.current; p != nil {
		st.Connected = true
		st.DeviceName = p.deviceName
		st.Address = p.addr
		st.SessionID = p.id
		st.ConnectedSince = p.connectedAt
	}
	return st
}

// Discover starts the response listener on first use and sends one broadcast.
func (m *Manager) Discover() error {
	m.mu.Lock()
	rs := m.run
	if rs == nil {
		m.mu.Unlock()
		m.postLog("Server must be started first")
		return ErrNotRunning
	}
	if !rs.responsesStarted {
		rs.responsesStarted = true
		rs.group.Go(func() error { return rs.disc.RunResponseListener(rs.ctx) })
	}
	m.mu.Unlock()

	m.postLog("Starting device discovery...")
	if err := rs.disc.BroadcastOnce(); err != nil {
		m.logger.Warn().Err(err).Msg("host.Manager.Discover broadcast failed")
		m.postLog(fmt.Sprintf("Error sending discovery broadcast: %v", err))
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}

// Disconnect closes the connected session, if any. It is idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	p := m.current
	m.mu.Unlock()
	if p != nil {
		m.disconnectIf(p, "disconnect requested")
	}
}

// disconnectIf clears the session only while p is still current, so a
// preempted connection's receive loop cannot tear down its replacement.
func (m *Manager) disconnectIf(p *peerConn, reason string) bool {
	m.mu.Lock()
	if m.current != p {
		m.mu.Unlock()
		return false
	}
	m.current = nil
	m.announceDisconnectLocked(p)
	m.mu.Unlock()

	p.close()
	observability.SetSessionConnected(false)
	m.logger.Info().
		Str("session", p.id).
		Str("device", p.deviceName).
		Str("reason", reason).
		Msg("host.Manager session closed")
	return true
}

func (m *Manager) announceDisconnectLocked(p *peerConn) {
	name := p.deviceName
	if name == "" {
		return
	}
	m.notify.post(func(l Listener) {
		l.Log(fmt.Sprintf("Disconnected from %s", name))
		l.ConnectionStatusChanged(false, "")
	})
}

// install makes p the connected session, preempting any previous one.
func (m *Manager) install(p *peerConn) bool {
	m.mu.Lock()
	if m.run == nil {
		m.mu.Unlock()
		return false
	}
	prev := m.current
	if prev != nil {
		m.announceDisconnectLocked(prev)
	}
	m.current = p
	name, addr := p.deviceName, p.addr
	m.notify.post(func(l Listener) {
		l.Log(fmt.Sprintf("Connected to %s at %s", name, addr))
		l.ConnectionStatusChanged(true, name)
	})
	m.mu.Unlock()

	if prev != nil {
		prev.close()
		m.logger.Info().
			Str("session", prev.id).
			Str("replaced_by", p.id).
			Msg("host.Manager session preempted")
	}
	observability.SetSessionConnected(true)
	m.logger.Info().
		Str("session", p.id).
		Str("device", name).
		Str("addr", addr).
		Msg("host.Manager session connected")
	return true
}

func (m *Manager) acceptLoop(ctx context.Context, rs *runState) error {
	for {
		conn, err := rs.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			m.logger.Warn().Err(err).Msg("host.Manager.acceptLoop accept failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		rs.group.Go(func() error {
			m.handleConn(ctx, conn)
			return nil
		})
	}
}

func (m *Manager) handleConn(ctx context.Context, conn net.Conn) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	started := time.Now()
	p, err := m.handshake(conn)
	if err != nil {
		_ = conn.Close()
		result := "rejected"
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			result = "timeout"
		}
		observability.RecordHandshake(result, time.Since(started))
		m.logger.Warn().
			Err(err).
			Str("addr", conn.RemoteAddr().String()).
			Str("result", result).
			Msg("host.Manager.handshake rejected")
		m.postLog(fmt.Sprintf("Handshake failed with %s", conn.RemoteAddr()))
		return
	}
	observability.RecordHandshake("accepted", time.Since(started))
	if !m.install(p) {
		p.close()
		return
	}
	m.receiveLoop(p)
}

// handshake sends the handshake line and waits HandshakeTimeout for a
// handshake_response. Bytes buffered past the response stay in the session reader.
func (m *Manager) handshake(conn net.Conn) (*peerConn, error) {
	if err := conn.SetDeadline(time.Now().Add(m.cfg.Session.HandshakeTimeout)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	if err := session.WriteHandshake(conn, session.NewHandshake(time.Now())); err != nil {
		return nil, fmt.Errorf("%w: send: %w", ErrHandshake, err)
	}
	br := bufio.NewReaderSize(conn, frame.DefaultReaderBufferSize)
	resp, err := session.ReadHandshakeResponse(br)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	return &peerConn{
		id:          uuid.NewString(),
		conn:        conn,
		addr:        conn.RemoteAddr().String(),
		deviceName:  resp.DeviceName,
		connectedAt: time.Now(),
		reader:      frame.NewReader(br),
	}, nil
}

func (m *Manager) deviceFound(d discovery.Descriptor) {
	m.notify.post(func(l Listener) {
		l.Log(fmt.Sprintf("Device discovered: %s at %s", d.Name, d.IP))
		l.DeviceDiscovered(d)
	})
}

func (m *Manager) postLog(text string) {
	m.notify.post(func(l Listener) { l.Log(text) })
}
