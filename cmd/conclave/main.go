// ABOUTME: Entry point for the conclave multi-agent Matrix deployment
// ABOUTME: Wires config, policy, transport, routing, scheduler, and the session manager

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"
	"maunium.net/go/mautrix/id"

	"github.com/2389/conclave/internal/config"
	"github.com/2389/conclave/internal/decision"
	"github.com/2389/conclave/internal/pipeline"
	"github.com/2389/conclave/internal/responder"
	"github.com/2389/conclave/internal/routing"
	"github.com/2389/conclave/internal/scheduler"
	"github.com/2389/conclave/internal/session"
	"github.com/2389/conclave/internal/statestore"
	"github.com/2389/conclave/internal/transport"
)

const banner = `
                       _
  ___ ___  _ __   ___| | __ ___   _____
 / __/ _ \| '_ \ / __| |/ _' \ \ / / _ \
| (_| (_) | | | | (__| | (_| |\ V /  __/
 \___\___/|_| |_|\___|_|\__,_| \_/ \___|
`

// getConfigPath returns the path to the bootstrap config file.
// Priority: CONCLAVE_CONFIG env var > XDG_CONFIG_HOME/conclave/config.toml > ~/.config/conclave/config.toml
func getConfigPath() string {
	if envPath := os.Getenv("CONCLAVE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "conclave", "config.toml")
}

// getDataPath returns the path to the conclave data directory.
// Priority: XDG_DATA_HOME/conclave > ~/.local/share/conclave
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "conclave")
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := runInit(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	configPath := getConfigPath()
	dataPath := getDataPath()

	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	logger := setupLogger(cfg.Logging.Level)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Homeserver: %s\n", cfg.Matrix.Homeserver)
	green.Print("    ▶ ")
	fmt.Printf("Identities: %d\n", len(cfg.Matrix.Accounts))
	green.Print("    ▶ ")
	fmt.Printf("Policy:     %s\n", cfg.Policy.Path)
	green.Print("    ▶ ")
	fmt.Printf("Gateway:    %s\n", cfg.Gateway.URL)
	if cfg.Matrix.RecoveryKey != "" {
		green.Print("    ▶ ")
		fmt.Println("Encryption: enabled")
	}
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	policy, err := config.NewProvider(cfg.Policy.Path, cfg.Matrix.Domain, logger)
	if err != nil {
		return fmt.Errorf("loading policy: %w", err)
	}

	store, err := statestore.NewSQLiteStore(filepath.Join(dataPath, "conclave.db"), logger)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer store.Close()

	decisions := decision.NewOpenAIClient(
		cfg.Decision.URL,
		cfg.Decision.APIKey,
		cfg.Decision.Model,
		cfg.Decision.Timeout,
	)

	router := routing.NewRouter(decisions, logger)
	agents := responder.NewGateway(cfg.Gateway.URL)
	pipe := pipeline.New(policy, router, agents, logger)

	manager := session.NewManager(policy, pipe, logger)
	pipe.SetConnections(manager)

	// One connection per configured account. Crypto state is per identity.
	cryptoMgrs := make([]*CryptoManager, 0, len(cfg.Matrix.Accounts))
	defer func() {
		for _, cm := range cryptoMgrs {
			cm.Close()
		}
	}()
	for _, acct := range cfg.Matrix.Accounts {
		client, err := transport.NewMatrixClient(cfg.Matrix.Homeserver, id.UserID(acct.UserID), acct.AccessToken, logger)
		if err != nil {
			return fmt.Errorf("creating client for %s: %w", acct.Name, err)
		}
		if cfg.Matrix.RecoveryKey != "" {
			cm, err := SetupCrypto(ctx, client.Mautrix(), acct.UserID, cfg.Matrix.RecoveryKey, dataPath, logger)
			if err != nil {
				return fmt.Errorf("setting up encryption for %s: %w", acct.Name, err)
			}
			cryptoMgrs = append(cryptoMgrs, cm)
		}
		manager.Add(acct.Name, client)
	}
	if cfg.Matrix.RecoveryKey == "" {
		logger.Info("encryption disabled (no recovery key)")
	}

	sched := scheduler.New(store, decisions, manager.InjectScheduled,
		func() *time.Location { return policy.Snapshot().Location }, logger)
	pipe.SetScheduler(sched)

	if err := sched.Restore(ctx); err != nil {
		return fmt.Errorf("restoring schedules: %w", err)
	}

	logger.Info("starting conclave")
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return manager.Run(ctx) })
	group.Go(func() error { return sched.Run(ctx) })
	group.Go(func() error { return policy.Watch(ctx) })
	return group.Wait()
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
