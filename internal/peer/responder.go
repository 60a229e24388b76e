package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/danmuck/wifikey/internal/discovery"
	"github.com/danmuck/wifikey/internal/observability"
	"github.com/rs/zerolog"
)

const responderPoll = time.Second

// Responder answers discovery requests with this device's name and the TCP port
// it expects the host on.
type Responder struct {
	conn   *net.UDPConn
	name   string
	port   int
	logger zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

// ListenResponder binds addr (host:port, udp4). A port of 0 in the advertised
// response makes the host fall back to its own TCP port.
func ListenResponder(addr, name string, port int) (*Responder, error) {
	ua, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("peer: resolve responder addr %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp4", ua)
	if err != nil {
		return nil, fmt.Errorf("peer: listen udp %s: %w", addr, err)
	}
	return &Responder{
		conn:   conn,
		name:   name,
		port:   port,
		logger: observability.Component("peer.responder"),
	}, nil
}

func (r *Responder) LocalAddr() *net.UDPAddr {
	return r.conn.LocalAddr().(*net.UDPAddr)
}

// Serve replies to each request datagram at its source address until ctx is
// done or the responder is closed.
func (r *Responder) Serve(ctx context.Context) error {
	reply, err := discovery.EncodeResponse(r.name, r.port)
	if err != nil {
		return err
	}
	buf := make([]byte, 1024)
	for {
		if ctx.Err() != nil {
			return nil
		}
		_ = r.conn.SetReadDeadline(time.Now().Add(responderPoll))
		n, src, err := r.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			var netErr net.Error
			switch {
			case errors.As(err, &netErr) && netErr.Timeout():
				continue
			case errors.Is(err, net.ErrClosed):
				return nil
			default:
				r.logger.Warn().Err(err).Msg("peer.Responder read failed")
				continue
			}
		}
		if !discovery.IsRequest(buf[:n]) {
			continue
		}
		if _, err := r.conn.WriteToUDPAddrPort(reply, netip.AddrPortFrom(src.Addr().Unmap(), src.Port())); err != nil {
			r.logger.Warn().Err(err).Str("to", src.String()).Msg("peer.Responder reply failed")
			continue
		}
		r.logger.Debug().Str("to", src.String()).Msg("peer.Responder answered discovery")
	}
}

func (r *Responder) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.conn.Close()
	})
	return r.closeErr
}
