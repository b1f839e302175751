// Command voxquill is the dictation daemon: it records the microphone in
// fixed windows, transcribes them with whisper.cpp and inserts the text
// into a document in capture order.
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

	"github.com/MrWong99/voxquill/internal/app"
	"github.com/MrWong99/voxquill/internal/config"
	"github.com/MrWong99/voxquill/internal/observe"
	"github.com/MrWong99/voxquill/pkg/engine"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	provisionOnly := flag.Bool("provision", false, "download the engine binary and model, then exit")
	clearCache := flag.Bool("clear-cache", false, "delete every cached binary and model, then exit")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxquill: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxquill: %v\n", err)
		}
		return 1
	}
	full := cfg.WithDefaults()

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(full.Server.LogLevel.Level())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("voxquill starting",
		"version", version,
		"config", *configPath,
		"log_level", full.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Cache maintenance commands ────────────────────────────────────────────
	if *clearCache || *provisionOnly {
		return maintain(ctx, full, metrics, *clearCache, *provisionOnly)
	}

	printStartupSummary(full)

	application, err := app.New(ctx, cfg,
		app.WithConfigPath(*configPath),
		app.WithLogLevel(level),
		app.WithMetrics(metrics),
		app.WithMetricsHandler(tel.MetricsHandler()),
		app.WithLogger(logger),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	stopToggle := notifyToggle(application)
	defer stopToggle()

	slog.Info("recording; press Ctrl+C to stop")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		var pe *engine.ProvisioningError
		if errors.As(err, &pe) {
			slog.Error("engine provisioning failed; check network access or run with -provision", "op", pe.Op)
		}
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	slog.Info("stopping; waiting for pending transcriptions")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// maintain runs -clear-cache and/or -provision.
func maintain(ctx context.Context, cfg config.Config, m *observe.Metrics, clearCache, provisionOnly bool) int {
	prov, err := app.NewProvisioner(cfg.Engine, m, slog.Default())
	if err != nil {
		slog.Error("failed to create provisioner", "err", err)
		return 1
	}
	if clearCache {
		if err := prov.ClearCache(); err != nil {
			slog.Error("failed to clear cache", "err", err)
			return 1
		}
		slog.Info("cache cleared", "dir", prov.Store().Root())
	}
	if !provisionOnly {
		return 0
	}

	settings, err := config.OpenSettings(cfg.SettingsPath)
	if err != nil {
		slog.Error("failed to load settings", "err", err)
		return 1
	}
	model := settings.Get().ModelID
	rep := engine.ProgressFunc(func(p engine.Progress) {
		if p.Phase == engine.PhaseDownloading && p.Total > 0 {
			fmt.Fprintf(os.Stderr, "\r%s: %3.0f%%", p.Asset, 100*p.Fraction())
			if p.Loaded == p.Total {
				fmt.Fprintln(os.Stderr)
			}
		}
	})
	if err := app.Provision(ctx, cfg.Engine, prov, model, rep); err != nil {
		slog.Error("provisioning failed", "err", err)
		return 1
	}
	slog.Info("engine provisioned", "model", model, "cache_dir", prov.Store().Root())
	return 0
}

func printStartupSummary(cfg config.Config) {
	variant, err := app.ChooseVariant(cfg.Engine)
	engineLine := string(variant)
	if err != nil {
		engineLine = "(unavailable)"
	}
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        voxquill: startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printLine("Engine", engineLine)
	printLine("Source", cfg.Recording.Source)
	printLine("Sink", cfg.Output.Sink)
	if cfg.Output.Sink == "file" {
		printLine("Document", cfg.Output.Path)
	}
	if cfg.Journal.Path != "" {
		printLine("Journal", cfg.Journal.Path)
	} else {
		printLine("Journal", "(disabled)")
	}
	if cfg.Server.ListenAddr != "" {
		printLine("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printLine(kind, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}
