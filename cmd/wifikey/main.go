package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/danmuck/wifikey/internal/config"
	"github.com/danmuck/wifikey/internal/logging"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigPath = "wifikey.toml"

type rootOptions struct {
	configPath string
	envFile    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "wifikey: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "wifikey",
		Short: "Forward keyboard and mouse input to a companion device over the LAN",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnv(opts.envFile, cmd.Flags().Changed("env-file")); err != nil {
				return err
			}
			logging.ConfigureRuntime()
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "path to wifikey.toml")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "environment file loaded before logging is configured")

	rootCmd.AddCommand(
		serveCmd(opts),
		discoverCmd(opts),
		peerCmd(opts),
		configCmd(opts),
		versionCmd(),
	)
	return rootCmd
}

// loadEnv loads path into the process environment. A missing default file is
// not an error.
func loadEnv(path string, explicit bool) error {
	err := godotenv.Load(path)
	if err == nil || (!explicit && errors.Is(err, fs.ErrNotExist)) {
		return nil
	}
	return fmt.Errorf("load env file %s: %w", path, err)
}

// loadConfig reads the config file, falling back to defaults when the default
// path does not exist.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (config.Config, error) {
	explicit := cmd.Flags().Changed("config")
	if _, err := os.Stat(opts.configPath); err != nil && !explicit && errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return config.Load(opts.configPath)
}
