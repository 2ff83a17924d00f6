package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dsync-go/internal/relay"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

// daemonConfig is the dsyncd TOML configuration.
type daemonConfig struct {
	Addr             string         `toml:"addr"`
	JWTSecret        string         `toml:"jwt_secret"`
	TokenExpiryHours int            `toml:"token_expiry_hours"`
	Devices          []deviceConfig `toml:"devices"`
}

type deviceConfig struct {
	ID  string `toml:"id"`
	Key string `toml:"key"`
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dsyncd",
	Short: "Document sync relay server",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := readDaemonConfig(configPath)
		if err != nil {
			return err
		}

		keys := make(map[string]string, len(cfg.Devices))
		for _, d := range cfg.Devices {
			if d.ID == "" || d.Key == "" {
				return fmt.Errorf("every device entry needs both id and key")
			}
			keys[d.ID] = d.Key
		}

		logger := slog.Default()
		server, err := relay.NewServer(relay.Config{
			Addr:        cfg.Addr,
			JWTSecret:   cfg.JWTSecret,
			TokenExpiry: time.Duration(cfg.TokenExpiryHours) * time.Hour,
			DeviceKeys:  keys,
			Logger:      logger,
		})
		if err != nil {
			return err
		}

		if err := server.Start(); err != nil {
			return err
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		logger.Info("shutting down")
		return server.Stop()
	},
}

func readDaemonConfig(path string) (*daemonConfig, error) {
	if env := os.Getenv("DSYNCD_CONFIG_PATH"); path == "" && env != "" {
		path = env
	}

	cfg := &daemonConfig{Addr: ":8484"}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt_secret is required")
	}
	return cfg, nil
}

func init() {
	rootCmd.Flags().String("config", "dsyncd.toml", "Path to the dsyncd config file")
}
