package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/danmuck/wifikey/internal/discovery"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func discoverCmd(opts *rootOptions) *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Broadcast discovery requests and print every device that answers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			dcfg := cfg.Host.Discovery
			dcfg.BindHost = cfg.Host.BindHost
			dcfg.TCPPort = cfg.Host.TCPPort

			var (
				mu   sync.Mutex
				seen = make(map[discovery.Descriptor]bool)
			)
			enc := json.NewEncoder(os.Stdout)
			svc, err := discovery.Listen(dcfg, func(d discovery.Descriptor) {
				mu.Lock()
				defer mu.Unlock()
				if seen[d] {
					return
				}
				seen[d] = true
				_ = enc.Encode(d)
			})
			if err != nil {
				return err
			}
			defer svc.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return svc.RunResponseListener(gctx) })
			g.Go(func() error { return svc.RunBroadcastLoop(gctx) })
			if err := g.Wait(); err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintf(os.Stderr, "%d device(s) found\n", len(seen))
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 5*time.Second, "how long to listen for replies")
	return cmd
}
