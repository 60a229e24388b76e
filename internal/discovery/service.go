package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/wifikey/internal/observability"
	"github.com/rs/zerolog"
)

// Service owns the UDP discovery socket. Discovery is advisory: send and
// receive failures are logged and never stop the loops.
type Service struct {
	cfg    Config
	conn   *net.UDPConn
	found  func(Descriptor)
	logger zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Listen binds the discovery socket. found is called once per valid response,
// duplicates included.
func Listen(cfg Config, found func(Descriptor)) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(cfg.BindHost, strconv.Itoa(cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("discovery: resolve bind address: %w", err)
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("discovery: bind udp %s: %w", addr, err)
	}
	if found == nil {
		found = func(Descriptor) {}
	}
	s := &Service{
		cfg:    cfg,
		conn:   conn,
		found:  found,
		logger: observability.Component("discovery"),
	}
	s.logger.Info().Str("addr", conn.LocalAddr().String()).Msg("discovery.Service.Listen bound")
	return s, nil
}

func (s *Service) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// BroadcastOnce sends one request datagram to every target.
func (s *Service) BroadcastOnce() error {
	targets, err := BroadcastTargets(s.cfg)
	if err != nil && len(targets) == 0 {
		observability.RecordDiscoveryBroadcast("error")
		return err
	}
	if err != nil {
		s.logger.Debug().Err(err).Msg("discovery.Service.BroadcastOnce directed targets unavailable")
	}

	var errs []error
	for _, target := range targets {
		if _, werr := s.conn.WriteToUDPAddrPort([]byte(RequestToken), target); werr != nil {
			observability.RecordDiscoveryBroadcast("error")
			errs = append(errs, fmt.Errorf("discovery: send to %s: %w", target, werr))
			continue
		}
		observability.RecordDiscoveryBroadcast("sent")
	}
	if len(errs) == len(targets) {
		return errors.Join(errs...)
	}
	if len(errs) > 0 {
		s.logger.Debug().Err(errors.Join(errs...)).Msg("discovery.Service.BroadcastOnce partial send")
	}
	s.logger.Debug().Int("targets", len(targets)).Msg("discovery.Service.BroadcastOnce sent")
	return nil
}

// RunBroadcastLoop broadcasts immediately and then every BroadcastInterval until
// ctx is done.
func (s *Service) RunBroadcastLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.BroadcastInterval)
	defer ticker.Stop()
	for {
		if err := s.BroadcastOnce(); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn().Err(err).Msg("discovery.Service.RunBroadcastLoop broadcast failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunResponseListener reads datagrams with a PollInterval deadline so ctx is
// observed between reads. It returns nil on cancellation or socket close.
func (s *Service) RunResponseListener(ctx context.Context) error {
	buf := make([]byte, maxDatagram)
	for {
		if ctx.Err() != nil {
			return nil
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.PollInterval))
		n, src, err := s.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.logger.Warn().Err(err).Msg("discovery.Service.RunResponseListener read failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.cfg.PollInterval):
			}
			continue
		}

		d, ok := ParseResponse(buf[:n], src.Addr(), s.cfg.TCPPort)
		if !ok {
			observability.RecordDiscoveryResponse("ignored")
			continue
		}
		observability.RecordDiscoveryResponse("valid")
		s.logger.Info().
			Str("name", d.Name).
			Str("ip", d.IP).
			Int("port", d.Port).
			Msg("discovery.Service device discovered")
		s.found(d)
	}
}

// Close releases the socket and unblocks both loops. Safe to call repeatedly.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
