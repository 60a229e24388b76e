package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/danmuck/wifikey/internal/observability"
	"github.com/danmuck/wifikey/internal/peer"
	"github.com/danmuck/wifikey/internal/protocol/event"
	"github.com/danmuck/wifikey/internal/protocol/frame"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func peerCmd(opts *rootOptions) *cobra.Command {
	var (
		hostAddr string
		name     string
		respond  bool
	)
	cmd := &cobra.Command{
		Use:   "peer",
		Short: "Emulate a device: answer discovery, connect to the host and print its input",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Peer.Host = hostAddr
			}
			if cmd.Flags().Changed("name") {
				cfg.Peer.Name = name
			}
			pc := cfg.PeerClient()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			logger := observability.Component("peer")

			g, gctx := errgroup.WithContext(ctx)
			if respond {
				addr := net.JoinHostPort("", strconv.Itoa(cfg.Peer.DiscoveryPort))
				r, err := peer.ListenResponder(addr, cfg.Peer.Name, cfg.Peer.Port)
				if err != nil {
					return err
				}
				defer r.Close()
				g.Go(func() error { return r.Serve(gctx) })
			}
			g.Go(func() error {
				return peer.Run(gctx, pc, func(c *peer.Client, msg peer.Message) {
					switch msg.Kind {
					case frame.MessageFrame:
						if _, ok := msg.Frame.Event.(event.Heartbeat); ok {
							logger.Debug().Uint16("seq", msg.Frame.Seq).Msg("heartbeat")
							return
						}
						rec, err := event.Marshal(msg.Frame.Event)
						if err != nil {
							logger.Warn().Err(err).Msg("peer event not printable")
							return
						}
						fmt.Println(string(rec))
					case frame.MessageJSON:
						logger.Debug().Str("type", msg.Control.Type).Msg("control message")
					default:
						logger.Debug().Int("bytes", len(msg.Raw)).Msg("raw data")
					}
				})
			})
			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&hostAddr, "host", "", "host address, overrides [peer] host")
	cmd.Flags().StringVar(&name, "name", "", "device name sent in the handshake, overrides [peer] name")
	cmd.Flags().BoolVar(&respond, "respond", true, "answer discovery requests on [peer] discovery_port")
	return cmd
}
