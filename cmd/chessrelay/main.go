// Chessrelay is a daemon that relays chess games recorded through the
// Chessnut device cloud into Lichess. Per configured account it periodically
// lists games newer than a durable watermark, fetches each game's PGN, and
// imports it via the Lichess API, tracking progress so re-runs are
// idempotent.
//
// Usage:
//
//	chessrelay daemon [--config <path>]     # start the per-account polling loops
//	chessrelay sync-once [--config <path>]  # single sync pass per account, then exit
//	chessrelay status                       # show config and per-account state
//	chessrelay version                      # print version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/njoerd114/chessrelay/internal/chessnut"
	"github.com/njoerd114/chessrelay/internal/config"
	"github.com/njoerd114/chessrelay/internal/lichess"
	"github.com/njoerd114/chessrelay/internal/state"
	syncp "github.com/njoerd114/chessrelay/internal/sync"
	"github.com/njoerd114/chessrelay/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// run dispatches to the appropriate subcommand.
func run() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	switch cmd := os.Args[1]; cmd {
	case "daemon":
		return runSync(os.Args[2:], true)
	case "sync-once":
		return runSync(os.Args[2:], false)
	case "status":
		return runStatus()
	case "version":
		fmt.Println("chessrelay", version)
		return nil
	default:
		return fmt.Errorf("unknown command %q — run 'chessrelay' for usage", cmd)
	}
}

// printUsage shows help and hints at the config path if none exists yet.
func printUsage() error {
	cfgPath, _ := config.DefaultPath()
	_, cfgErr := os.Stat(cfgPath)

	fmt.Fprintln(os.Stderr, "chessrelay — relay Chessnut games into Lichess")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  chessrelay daemon [--config ...]     Run the per-account polling loops")
	fmt.Fprintln(os.Stderr, "  chessrelay sync-once [--config ...]  Single sync pass per account, then exit")
	fmt.Fprintln(os.Stderr, "  chessrelay status                    Show config and per-account state")
	fmt.Fprintln(os.Stderr, "  chessrelay version                   Print version")
	fmt.Fprintln(os.Stderr, "")

	if cfgErr != nil {
		fmt.Fprintf(os.Stderr, "No config file found. Create one at %s to get started.\n", cfgPath)
	}

	os.Exit(1)
	return nil // unreachable
}

// runSync handles both "daemon" and "sync-once" subcommands.
func runSync(args []string, daemon bool) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return startSync(*cfgPath, *verbose, daemon)
}

// runStatus prints the configuration and the per-account import state.
func runStatus() error {
	cfgPath, _ := config.DefaultPath()

	fmt.Println("chessrelay status")
	fmt.Println("─────────────────")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config:   %s (unusable: %v)\n", cfgPath, err)
		return nil
	}
	fmt.Printf("  Config:   %s\n", cfgPath)
	fmt.Printf("  State:    %s\n", cfg.StateDir)
	fmt.Printf("  Accounts: %d\n", len(cfg.Accounts))

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	store, err := state.Open(cfg.StateDir, logger)
	if err != nil {
		return fmt.Errorf("opening state at %q: %w", cfg.StateDir, err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	for _, account := range cfg.Accounts {
		recs, err := store.Records(ctx, account.Name)
		if err != nil {
			fmt.Printf("    %-12s state unreadable: %v\n", account.Name, err)
			continue
		}
		fmt.Printf("    %-12s interval %-8s watermark %-8d %d game(s) recorded\n",
			account.Name, account.Interval, store.Watermark(ctx, account.Name), len(recs))
	}

	return nil
}

// startSync is the shared implementation for daemon and sync-once modes.
func startSync(cfgPath string, verbose, daemon bool) error {
	// --- Logger --------------------------------------------------------------

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	// --- Config --------------------------------------------------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", cfgPath, err)
	}
	logger.Info("config loaded", "accounts", len(cfg.Accounts), "state_dir", cfg.StateDir)

	// --- Telemetry (optional) ------------------------------------------------

	if cfg.Telemetry != nil {
		telCfg := telemetry.Config{
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			ServiceName:  cfg.Telemetry.ServiceName,
			Headers:      cfg.Telemetry.Headers,
		}
		shutdownTel, err := telemetry.Setup(context.Background(), telCfg)
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			}()
		}
	}

	// --- State store ---------------------------------------------------------

	store, err := state.Open(cfg.StateDir, logger)
	if err != nil {
		return fmt.Errorf("opening state at %q: %w", cfg.StateDir, err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Error("closing state store", "error", closeErr)
		}
	}()
	logger.Info("state store opened", "dir", cfg.StateDir)

	// --- Clients, engine, scheduler ------------------------------------------

	source := chessnut.NewClient(logger)
	dest := lichess.NewClient(logger)
	engine := syncp.NewEngine(source, dest, store, logger)
	scheduler := syncp.NewScheduler(engine, cfg.Accounts, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// --- Dispatch mode -------------------------------------------------------

	if !daemon {
		logger.Info("running single sync pass")
		return scheduler.RunOnce(ctx)
	}

	logger.Info("daemon starting")
	if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("scheduler: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
