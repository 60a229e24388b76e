package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/danmuck/wifikey/internal/observability"
	"github.com/danmuck/wifikey/internal/protocol"
	"github.com/danmuck/wifikey/internal/protocol/event"
	"github.com/danmuck/wifikey/internal/protocol/frame"
	"github.com/danmuck/wifikey/internal/protocol/session"
)

// Send writes b to the connected session. It returns false when no session is
// connected or the write fails; a failed write disconnects the session.
func (m *Manager) Send(b []byte) bool {
	return m.write(b) == nil
}

func (m *Manager) write(b []byte) error {
	m.mu.Lock()
	p := m.current
	m.mu.Unlock()
	if p == nil {
		observability.RecordSendFailure("not_connected")
		return ErrNotConnected
	}
	if err := p.write(b, m.cfg.Session.WriteTimeout); err != nil {
		observability.RecordSendFailure("write")
		m.logger.Warn().Err(err).Str("session", p.id).Msg("host.Manager.Send write failed")
		m.postLog(fmt.Sprintf("Error sending packet: %v", err))
		m.disconnectIf(p, "send failed")
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	observability.RecordBytesSent(len(b))
	return nil
}

// SubmitInput validates and encodes ev and sends the frame. It fails with
// ErrNotConnected before consuming a sequence number when nothing is connected.
func (m *Manager) SubmitInput(ev event.Event) error {
	if !m.IsConnected() {
		observability.RecordSendFailure("not_connected")
		return ErrNotConnected
	}
	b, err := m.codec.Encode(ev)
	if err != nil {
		return err
	}
	if err := m.write(b); err != nil {
		return err
	}
	observability.RecordFrameSent(string(ev.Kind()), b[2]&frame.FlagCompressed != 0)
	return nil
}

// SubmitBatch packs events into batch frames of at most the codec's MaxPacketSize
// and sends them in order.
func (m *Manager) SubmitBatch(events []event.Event) error {
	if !m.IsConnected() {
		observability.RecordSendFailure("not_connected")
		return ErrNotConnected
	}
	frames, err := m.codec.BatchEvents(events, 0)
	if err != nil {
		return err
	}
	for _, b := range frames {
		if err := m.write(b); err != nil {
			return err
		}
		observability.RecordFrameSent(string(event.KindBatch), b[2]&frame.FlagCompressed != 0)
	}
	return nil
}

// receiveLoop runs until the peer closes, the socket fails, or p is closed by
// preemption or shutdown. Undecodable frames are dropped one at a time.
func (m *Manager) receiveLoop(p *peerConn) {
	deadAfter := m.cfg.Session.SessionDeadAfter
	for {
		if deadAfter > 0 {
			_ = p.conn.SetReadDeadline(time.Now().Add(deadAfter))
		}
		msg, err := p.reader.Next()
		if err != nil {
			m.disconnectIf(p, receiveEndReason(err, deadAfter))
			return
		}
		m.dispatch(p, msg)
	}
}

func receiveEndReason(err error, deadAfter time.Duration) string {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		return "peer closed connection"
	case errors.Is(err, net.ErrClosed):
		return "connection closed"
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Sprintf("peer silent for %s", deadAfter)
	default:
		return fmt.Sprintf("receive failed: %v", err)
	}
}

func (m *Manager) dispatch(p *peerConn, msg frame.Message) {
	switch msg.Kind {
	case frame.MessageJSON:
		m.dispatchControl(p, msg.Data)
	case frame.MessageFrame:
		d, err := protocol.Decode(msg.Data)
		if err != nil {
			observability.RecordFrameRejected()
			m.logger.Warn().Err(err).Str("session", p.id).Msg("host.Manager.receive dropped frame")
			return
		}
		observability.RecordFrameReceived(string(d.Event.Kind()))
		ev := d.Event
		m.notify.post(func(l Listener) { l.PeerEvent(ev) })
		if cs, ok := ev.(event.ControlSwitch); ok && cs.Edge == event.EdgeReturnToPC {
			m.controlReturned()
		}
	default:
		n := len(msg.Data)
		m.logger.Debug().Int("bytes", n).Str("session", p.id).Msg("host.Manager.receive raw data")
		m.postLog(fmt.Sprintf("Received binary data: %d bytes", n))
	}
}

func (m *Manager) dispatchControl(p *peerConn, data []byte) {
	msg, err := session.ParseControl(data)
	if err != nil {
		m.logger.Warn().Err(err).Str("session", p.id).Msg("host.Manager.receive invalid control message")
		return
	}
	switch msg.Type {
	case session.TypeStatus:
		m.postLog(fmt.Sprintf("Client status: %s", msg.Message))
	case session.TypeControlReturn:
		m.controlReturned()
	case session.TypeHeartbeat:
		m.logger.Debug().Str("session", p.id).Int64("timestamp", msg.Timestamp).Msg("host.Manager.receive peer heartbeat")
	default:
		m.logger.Debug().Str("session", p.id).Str("type", msg.Type).Msg("host.Manager.receive unhandled control message")
		m.postLog(fmt.Sprintf("Received message type: %s", msg.Type))
	}
}

func (m *Manager) controlReturned() {
	m.notify.post(func(l Listener) {
		l.Log("Control returned to PC")
		l.ControlReturned()
	})
}

func (m *Manager) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Session.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.sendHeartbeat(time.Now())
		}
	}
}

func (m *Manager) sendHeartbeat(now time.Time) {
	if !m.IsConnected() {
		return
	}
	var (
		b   []byte
		err error
	)
	switch m.cfg.Session.HeartbeatMode {
	case session.HeartbeatJSON:
		b, err = session.EncodeControl(session.HeartbeatMessage(now))
	default:
		b, err = m.codec.Encode(event.Heartbeat{Timestamp: now.UnixMilli()})
	}
	if err != nil {
		m.logger.Error().Err(err).Msg("host.Manager.heartbeat encode failed")
		return
	}
	switch err := m.write(b); {
	case err == nil:
		observability.RecordHeartbeat("sent")
	case errors.Is(err, ErrNotConnected):
	default:
		observability.RecordHeartbeat("failed")
	}
}
