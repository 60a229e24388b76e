package peer

import (
	"context"
	"errors"
	"time"

	"github.com/danmuck/wifikey/internal/observability"
	"github.com/danmuck/wifikey/internal/protocol"
	"github.com/danmuck/wifikey/internal/protocol/session"
)

// Handler receives every message Run reads. It runs on the read goroutine.
type Handler func(c *Client, msg Message)

// Run keeps one session to the host alive until ctx is done, reconnecting with
// the configured backoff. It returns ctx.Err() on cancellation, or the last dial
// error once MaxConnectAttempts consecutive dials have failed.
func Run(ctx context.Context, cfg Config, handle Handler) error {
	logger := observability.Component("peer")
	attempt := 0
	for {
		c, err := DialConfig(ctx, cfg)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			attempt++
			logger.Warn().Err(err).Int("attempt", attempt).Str("addr", cfg.Address).Msg("peer.Run dial failed")
			if cfg.MaxConnectAttempts > 0 && attempt >= cfg.MaxConnectAttempts {
				return err
			}
			if err := sleepBackoff(ctx, cfg.Session.Backoff, attempt); err != nil {
				return err
			}
			continue
		}

		attempt = 0
		logger.Info().Str("addr", cfg.Address).Str("device", cfg.DeviceName).Msg("peer.Run connected")
		err = serve(ctx, c, handle)
		_ = c.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Info().Err(err).Str("addr", cfg.Address).Msg("peer.Run session ended")
		if err := sleepBackoff(ctx, cfg.Session.Backoff, 1); err != nil {
			return err
		}
	}
}

func serve(ctx context.Context, c *Client, handle Handler) error {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()
	logger := observability.Component("peer")
	for {
		msg, err := c.Next()
		switch {
		case err == nil:
			if handle != nil {
				handle(c, msg)
			}
		case errors.Is(err, protocol.ErrProtocol), errors.Is(err, session.ErrInvalidControl):
			logger.Warn().Err(err).Msg("peer.Run dropped message")
		default:
			return err
		}
	}
}

func sleepBackoff(ctx context.Context, cfg session.BackoffConfig, attempt int) error {
	timer := time.NewTimer(cfg.Delay(attempt, nil))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
