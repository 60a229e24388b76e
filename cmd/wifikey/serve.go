package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/wifikey/internal/admin"
	"github.com/danmuck/wifikey/internal/auth"
	"github.com/danmuck/wifikey/internal/discovery"
	"github.com/danmuck/wifikey/internal/feed"
	"github.com/danmuck/wifikey/internal/host"
	"github.com/danmuck/wifikey/internal/observability"
	"github.com/danmuck/wifikey/internal/protocol/event"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// logListener writes host notifications to the structured log.
type logListener struct {
	logger zerolog.Logger
}

func (l logListener) ConnectionStatusChanged(connected bool, deviceName string) {
	l.logger.Info().Bool("connected", connected).Str("device", deviceName).Msg("connection status changed")
}

func (l logListener) DeviceDiscovered(d discovery.Descriptor) {
	l.logger.Info().Str("name", d.Name).Str("ip", d.IP).Int("port", d.Port).Msg("device discovered")
}

func (l logListener) Log(text string) {
	l.logger.Info().Msg(text)
}

func (l logListener) ControlReturned() {
	l.logger.Info().Msg("control returned")
}

func (l logListener) PeerEvent(ev event.Event) {
	l.logger.Debug().Str("kind", string(ev.Kind())).Msg("peer event")
}

func serveCmd(opts *rootOptions) *cobra.Command {
	var (
		adminAddr string
		discover  bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the host: discovery, session listener and admin surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("admin") {
				cfg.AdminAddr = adminAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fanout := host.NewFanout(logListener{logger: observability.Component("wifikey")})
			m := host.New(cfg.Host, fanout)

			var fb *feed.Broadcaster
			if cfg.AdminAddr != "" {
				fb = feed.NewBroadcaster(m.Status, 0)
				fanout.Add(fb)
			}
			if err := m.Start(ctx); err != nil {
				return err
			}
			defer func() { _ = m.Stop() }()
			if discover {
				if err := m.Discover(); err != nil {
					return err
				}
			}

			g, gctx := errgroup.WithContext(ctx)
			if cfg.AdminAddr != "" {
				srv := admin.New(cfg.AdminAddr, m, fb, cfg.CORSOrigins)
				srv.Version = version
				srv.Auth = auth.FromToken(adminToken(cfg.AdminToken))
				g.Go(func() error { return srv.Serve(gctx) })
			}
			g.Go(func() error {
				<-gctx.Done()
				return nil
			})
			if err := g.Wait(); err != nil && ctx.Err() == nil {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&adminAddr, "admin", "", "admin HTTP address, overrides admin_addr")
	cmd.Flags().BoolVar(&discover, "discover", false, "listen for discovery replies from startup")
	return cmd
}

func adminToken(fromFile string) string {
	if v, ok := os.LookupEnv(auth.EnvToken); ok {
		return v
	}
	return fromFile
}
