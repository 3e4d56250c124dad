// Calsync keeps a local calendar database in step with calendars and events
// kept in the user's remote storage.
//
// Usage:
//
//	calsync sync-once [--config <path>] [--feed <uid>] [--upload] [--meta-only]
//	calsync daemon [--config <path>]   # full sync on the configured schedule
//	calsync status [--config <path>]   # show config and local database state
//	calsync version                    # print version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openintents/calendar-sync/internal/config"
	"github.com/openintents/calendar-sync/internal/model"
	"github.com/openintents/calendar-sync/internal/remote"
	"github.com/openintents/calendar-sync/internal/store"
	syncp "github.com/openintents/calendar-sync/internal/sync"
	"github.com/openintents/calendar-sync/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

const remoteTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// run dispatches to the subcommand named by the first argument.
func run() error {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch cmd := os.Args[1]; cmd {
	case "sync-once":
		return runSyncOnce(os.Args[2:])
	case "daemon":
		return runDaemon(os.Args[2:])
	case "status":
		return runStatus(os.Args[2:])
	case "version":
		fmt.Println("calsync", version)
		return nil
	case "-h", "--help", "help":
		printUsage()
		return nil
	default:
		return fmt.Errorf("unknown command %q, run 'calsync help' for usage", cmd)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "calsync: sync remote calendars into the local calendar database")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  calsync sync-once [flags]   Single sync invocation then exit")
	fmt.Fprintln(os.Stderr, "      --feed <uid>            Sync only this calendar's events")
	fmt.Fprintln(os.Stderr, "      --upload                Push local changes instead of downloading")
	fmt.Fprintln(os.Stderr, "      --meta-only             Sync the calendar list only")
	fmt.Fprintln(os.Stderr, "  calsync daemon [flags]      Full sync on the configured schedule")
	fmt.Fprintln(os.Stderr, "  calsync status [flags]      Show config and local database state")
	fmt.Fprintln(os.Stderr, "  calsync version             Print version")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Common flags: --config <path>, --verbose")
}

// --- Subcommands -------------------------------------------------------------

func runSyncOnce(args []string) error {
	fs := flag.NewFlagSet("sync-once", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	feed := fs.String("feed", "", "uid of the calendar whose events to sync")
	upload := fs.Bool("upload", false, "upload local changes instead of downloading")
	metaOnly := fs.Bool("meta-only", false, "sync the calendar list only")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *metaOnly && *feed != "" {
		return errors.New("--meta-only and --feed are mutually exclusive")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	return withEngine(ctx, *cfgPath, *verbose, func(engine *syncp.Engine, _ *config.Config, logger *slog.Logger) error {
		stats := engine.Sync(ctx, syncp.Request{Feed: *feed, Upload: *upload, MetaFeedOnly: *metaOnly})
		logger.Info("sync complete", "stats", stats)
		if stats.HasErrors() {
			return errors.New("sync finished with errors")
		}
		return nil
	})
}

func runDaemon(args []string) error {
	fs := flag.NewFlagSet("daemon", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	return withEngine(ctx, *cfgPath, *verbose, func(engine *syncp.Engine, cfg *config.Config, logger *slog.Logger) error {
		logger.Info("daemon starting", "schedule", cfg.Schedule)
		if err := engine.Run(ctx, cfg.Schedule); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("sync engine: %w", err)
		}
		logger.Info("shutdown complete")
		return nil
	})
}

// runStatus prints the configuration and what the local database holds for
// the configured account.
func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	cfgPath, _ := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Println("calsync status")
	fmt.Println("--------------")

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Printf("  Config:    %s (%v)\n", *cfgPath, err)
		return nil
	}
	fmt.Printf("  Config:    %s\n", *cfgPath)
	fmt.Printf("  Account:   %s (%s)\n", cfg.Account.Name, cfg.Account.Type)
	fmt.Printf("  Backend:   %s\n", cfg.Remote.Backend)
	fmt.Printf("  Schedule:  %s\n", cfg.Schedule)

	dbPath, err := databasePath(cfg)
	if err != nil {
		return err
	}
	info, err := os.Stat(dbPath)
	if err != nil {
		fmt.Println("  Database:  not found")
		return nil
	}
	fmt.Printf("  Database:  %s (%s)\n", dbPath, humanSize(info.Size()))

	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening calendar DB at %q: %w", dbPath, err)
	}
	defer st.Close()

	sum, err := st.Summarize(context.Background(), account(cfg))
	if err != nil {
		return err
	}
	fmt.Printf("  Calendars: %d\n", sum.Calendars)
	fmt.Printf("  Events:    %d (%d pending upload)\n", sum.Events, sum.Dirty)

	cals, err := st.Calendars(context.Background(), account(cfg))
	if err != nil {
		return err
	}
	for _, c := range cals {
		state := "synced"
		if !c.SyncEvents {
			state = "not synced"
		}
		fmt.Printf("    %s %-20s %-16s %s\n", model.HexColor(c.Color), c.DisplayName, c.Sync2, state)
	}
	return nil
}

// --- Wiring ------------------------------------------------------------------

func commonFlags(fs *flag.FlagSet) (cfgPath *string, verbose *bool) {
	defaultCfg, _ := config.DefaultPath()
	cfgPath = fs.String("config", defaultCfg, "path to config.yaml")
	verbose = fs.Bool("verbose", false, "enable debug logging")
	return cfgPath, verbose
}

// withEngine loads the config, opens the local database and remote session,
// builds the sync engine and hands it to fn. Everything is torn down when fn
// returns.
func withEngine(ctx context.Context, cfgPath string, verbose bool, fn func(*syncp.Engine, *config.Config, *slog.Logger) error) error {
	// --- Logger --------------------------------------------------------------

	logOpts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		logOpts.Level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, logOpts))
	slog.SetDefault(logger)

	// --- Config --------------------------------------------------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", cfgPath, err)
	}

	// --- Telemetry (optional) ------------------------------------------------

	if cfg.Telemetry != nil {
		shutdownTel, err := telemetry.Setup(ctx, telemetry.Config{
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			ServiceName:  cfg.Telemetry.ServiceName,
			Headers:      cfg.Telemetry.Headers,
		})
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger = slog.New(telemetry.NewHandler(slog.NewTextHandler(os.Stderr, logOpts), "calsync"))
			slog.SetDefault(logger)
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

	logger = logger.With("account", cfg.Account.Name)
	logger.Info("config loaded", "backend", cfg.Remote.Backend, "schedule", cfg.Schedule)

	// --- Calendar DB ---------------------------------------------------------

	dbPath, err := databasePath(cfg)
	if err != nil {
		return err
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening calendar DB at %q: %w", dbPath, err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("closing calendar DB", "error", closeErr)
		}
	}()
	logger.Info("calendar DB opened", "path", dbPath)
	for _, kind := range []model.EntityKind{model.KindCalendar, model.KindEvent} {
		st.Observe(kind, func(k model.EntityKind) { logger.Debug("local data changed", "kind", k) })
	}

	// --- Remote session ------------------------------------------------------

	session, err := newSession(cfg.Remote, logger)
	if err != nil {
		return err
	}
	feeds := remote.NewFeedFetcher(cfg.FeedTimeout, logger)

	// --- Sync engine ---------------------------------------------------------

	reconciler := syncp.NewReconciler(session, feeds, st, account(cfg), cfg.Remote.CalendarsPath, logger)
	return fn(syncp.NewEngine(reconciler, logger), cfg, logger)
}

// newSession builds the remote session for the configured backend.
func newSession(cfg config.RemoteConfig, logger *slog.Logger) (syncp.RemoteSession, error) {
	client := &http.Client{Timeout: remoteTimeout}
	switch cfg.Backend {
	case config.BackendHub:
		s, err := remote.NewHubSession(remote.HubConfig{
			ReadURL:  cfg.Hub.ReadURL,
			WriteURL: cfg.Hub.WriteURL,
			Token:    cfg.Hub.Token,
		}, client, logger)
		if err != nil {
			return nil, fmt.Errorf("initialising storage hub session: %w", err)
		}
		return s, nil
	case config.BackendWebDAV:
		s, err := remote.NewDAVSession(remote.DAVConfig{
			URL:      cfg.WebDAV.URL,
			Username: cfg.WebDAV.Username,
			Password: cfg.WebDAV.Password,
		}, client, logger)
		if err != nil {
			return nil, fmt.Errorf("initialising WebDAV session: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported remote backend %q", cfg.Backend)
	}
}

func databasePath(cfg *config.Config) (string, error) {
	if cfg.Database != "" {
		return cfg.Database, nil
	}
	p, err := store.DefaultDBPath()
	if err != nil {
		return "", fmt.Errorf("resolving calendar DB path: %w", err)
	}
	return p, nil
}

func account(cfg *config.Config) model.Account {
	return model.Account{Name: cfg.Account.Name, Type: cfg.Account.Type}
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
