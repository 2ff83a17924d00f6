package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"dsync-go/internal/app"
	"dsync-go/internal/config"
	"dsync-go/internal/encryption"
	"dsync-go/internal/model"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
func newApp(ctx context.Context) (*app.App, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func readConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

var rootCmd = &cobra.Command{
	Use:   "dsync",
	Short: "Local-first document synchronization",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		// Generate a new device ID
		deviceID := uuid.New().String()

		cfg := config.NewConfig(deviceID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Device ID: %s\n", deviceID)
		fmt.Printf("Base Dir:  %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Device ID: %s\n", cfg.DeviceID)
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:   %s\n", cfg.LogDir)
		fmt.Printf("Cloud:     %s\n", cfg.Cloud.Type)
		fmt.Printf("Store:     %s\n", cfg.Store.Type)
		fmt.Printf("Watch Dir: %s\n", cfg.Watch.Dir)
		return nil
	},
}

// keygen command
var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate the payload encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		if cfg.Encryption.Type != "age" {
			return fmt.Errorf("encryption.type is %q; set it to \"age\" first", cfg.Encryption.Type)
		}

		cipher := encryption.NewAgeCipher(cfg.Encryption)
		if err := cipher.Setup(); err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}

		fmt.Printf("Public key:  %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s\n", cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

// login command
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store the relay device key and verify it",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		if cfg.Cloud.Type != "relay" {
			return fmt.Errorf("cloud.type is %q; login only applies to relay", cfg.Cloud.Type)
		}
		if cfg.Cloud.RelayKeyPath == "" {
			return fmt.Errorf("cloud.relay_key_path is not configured")
		}

		fmt.Print("Device key: ")
		key, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("reading key: %w", err)
		}
		if len(key) == 0 {
			return fmt.Errorf("empty key")
		}

		if err := os.MkdirAll(filepath.Dir(cfg.Cloud.RelayKeyPath), 0700); err != nil {
			return fmt.Errorf("creating key directory: %w", err)
		}
		if err := os.WriteFile(cfg.Cloud.RelayKeyPath, key, 0600); err != nil {
			return fmt.Errorf("writing key file: %w", err)
		}

		// Verify the key by authenticating once.
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Start(ctx); err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		fmt.Println("Login verified.")
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a full sync sweep now",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Start(ctx); err != nil {
			return err
		}
		if err := a.Engine().RequestSync(ctx); err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}

		status, err := a.Engine().GetSyncStatus()
		if err != nil {
			return err
		}
		fmt.Printf("Sync complete. Status: %s, queued: %d\n", status.Status, status.QueueLength)
		return nil
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "View sync status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		status, err := a.Engine().GetSyncStatus()
		if err != nil {
			return err
		}

		fmt.Printf("Status:     %s\n", status.Status)
		if status.LastSyncAt.IsZero() {
			fmt.Println("Last sync:  never")
		} else {
			fmt.Printf("Last sync:  %s\n", status.LastSyncAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("Queued:     %d\n", status.QueueLength)
		if status.Error != "" {
			fmt.Printf("Last error: %s\n", status.Error)
		}
		return nil
	},
}

// docs command
var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "List documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		metas, err := a.Engine().ListDocumentMetadata()
		if err != nil {
			return err
		}
		if len(metas) == 0 {
			fmt.Println("No documents.")
			return nil
		}

		for _, m := range metas {
			var indicator string
			switch {
			case m.ConflictState == model.ConflictOpen:
				indicator = "C"
			case m.LastSyncedAt.IsZero():
				indicator = "?"
			case m.LastSyncedAt.Before(m.LocalTimestamp):
				indicator = "M"
			default:
				indicator = "S"
			}
			fmt.Printf("%s  %-36s  %-20s  %8d  %s\n",
				indicator, m.ID, truncate(m.Name, 20), m.SizeBytes,
				m.LocalTimestamp.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

// put command
var putCmd = &cobra.Command{
	Use:   "put FILE",
	Short: "Ingest a document file and sync it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Start(ctx); err != nil {
			return err
		}

		payload, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}
		name := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))

		id, err := a.Ingestor().DocumentChanged(ctx, name, name, payload, "cli")
		if err != nil {
			return fmt.Errorf("ingesting: %w", err)
		}

		fmt.Printf("Ingested %s as document %s\n", args[0], id)
		return nil
	},
}

// delete command
var deleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a document locally and remotely",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Start(ctx); err != nil {
			return err
		}
		if err := a.Engine().DeleteDocument(ctx, args[0]); err != nil {
			return fmt.Errorf("deleting: %w", err)
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

// conflicts command
var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List open conflicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.Engine().ListConflicts()
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No open conflicts.")
			return nil
		}

		for _, r := range records {
			fmt.Printf("%s  detected %s\n", r.DocumentID, r.DetectedAt.Format("2006-01-02 15:04:05"))
			fmt.Printf("  local:  %s  %s  (device %s)\n",
				r.Local.ContentHash[:12], r.Local.LocalTimestamp.Format("2006-01-02 15:04:05"), r.Local.OriginDeviceID)
			fmt.Printf("  remote: %s  %s  (device %s)\n",
				r.Remote.ContentHash[:12], r.Remote.CloudTimestamp.Format("2006-01-02 15:04:05"), r.Remote.OriginDeviceID)
		}
		return nil
	},
}

// resolve command
var resolveCmd = &cobra.Command{
	Use:   "resolve ID",
	Short: "Resolve an open conflict",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keep, _ := cmd.Flags().GetString("keep")
		strategy := model.ResolutionStrategy(keep)
		switch strategy {
		case model.ResolveLatest, model.ResolveLocal, model.ResolveCloud:
		default:
			return fmt.Errorf("--keep must be latest, local, or cloud")
		}

		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Start(ctx); err != nil {
			return err
		}
		if err := a.Engine().ResolveConflict(ctx, args[0], strategy); err != nil {
			return fmt.Errorf("resolving: %w", err)
		}
		fmt.Printf("Resolved %s keeping %s\n", args[0], keep)
		return nil
	},
}

// queue command
var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage the sync queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "View queued operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		items, err := a.Store().ListQueue()
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("Queue is empty.")
			return nil
		}

		for _, item := range items {
			retry := ""
			if item.RetryCount > 0 {
				retry = fmt.Sprintf("  retry %d/%d", item.RetryCount, item.MaxRetries)
			}
			fmt.Printf("%-8s  p%d  %s  added %s%s\n",
				item.Operation, item.Priority, item.DocumentID,
				item.AddedAt.Format("2006-01-02 15:04:05"), retry)
		}
		return nil
	},
}

var queueProcessCmd = &cobra.Command{
	Use:   "process",
	Short: "Drain the sync queue now",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Start(ctx); err != nil {
			return err
		}
		if err := a.Engine().ProcessQueue(ctx); err != nil {
			return fmt.Errorf("queue drain incomplete: %w", err)
		}
		fmt.Println("Queue drained.")
		return nil
	},
}

// settings command
var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "View or change sync settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		s := a.Engine().Settings()
		changed := false

		if cmd.Flags().Changed("auto-sync") {
			s.AutoSync, _ = cmd.Flags().GetBool("auto-sync")
			changed = true
		}
		if cmd.Flags().Changed("interval") {
			d, _ := cmd.Flags().GetDuration("interval")
			s.SyncInterval = d
			changed = true
		}
		if cmd.Flags().Changed("resolution") {
			v, _ := cmd.Flags().GetString("resolution")
			s.ConflictResolution = model.ResolutionStrategy(v)
			changed = true
		}
		if cmd.Flags().Changed("max-retries") {
			s.MaxRetries, _ = cmd.Flags().GetInt("max-retries")
			changed = true
		}

		if changed {
			if err := a.Engine().UpdateSettings(s); err != nil {
				return fmt.Errorf("updating settings: %w", err)
			}
		}

		fmt.Printf("Auto sync:   %t\n", s.AutoSync)
		fmt.Printf("Interval:    %s\n", s.SyncInterval)
		fmt.Printf("Resolution:  %s\n", s.ConflictResolution)
		fmt.Printf("Max retries: %d\n", s.MaxRetries)
		fmt.Printf("Retry delay: %s\n", s.RetryDelay)
		return nil
	},
}

// watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the engine and watch the document directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Start(ctx); err != nil {
			return err
		}
		if err := a.StartWatch(); err != nil {
			return err
		}

		fmt.Println("Watching for changes. Press Ctrl+C to stop.")
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		fmt.Println("Shutting down.")
		return nil
	},
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueProcessCmd)

	resolveCmd.Flags().String("keep", "latest", "Which side wins: latest, local, or cloud")

	settingsCmd.Flags().Bool("auto-sync", true, "Enable periodic sync sweeps")
	settingsCmd.Flags().Duration("interval", 30*time.Second, "Sweep interval")
	settingsCmd.Flags().String("resolution", "manual", "Conflict resolution: manual, latest, local, or cloud")
	settingsCmd.Flags().Int("max-retries", 3, "Retry budget for queued operations")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(docsCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(conflictsCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(watchCmd)
}
