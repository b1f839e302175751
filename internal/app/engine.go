package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxquill/internal/config"
	"github.com/MrWong99/voxquill/internal/observe"
	"github.com/MrWong99/voxquill/pkg/engine"
	"github.com/MrWong99/voxquill/pkg/engine/embedded"
	"github.com/MrWong99/voxquill/pkg/engine/subprocess"
	"github.com/MrWong99/voxquill/pkg/provision"
)

// EngineBuilder returns a fresh, uninitialised engine handle for modelID.
// It is called once at startup and again whenever the configured model
// changes.
type EngineBuilder func(modelID string) (*engine.Handle, error)

// NewProvisioner builds the provisioner for the engine section. An empty
// cache_dir uses [provision.DefaultCacheDir]. Downloaded bytes are recorded
// on m.
func NewProvisioner(cfg config.EngineConfig, m *observe.Metrics, log *slog.Logger) (*provision.Provisioner, error) {
	dir := cfg.CacheDir
	if dir == "" {
		var err error
		if dir, err = provision.DefaultCacheDir(); err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
	}
	opts := []provision.Option{
		provision.WithLogger(log),
		provision.WithDownloadObserver(func(asset string, n int64) {
			m.RecordDownload(context.Background(), asset, n)
		}),
	}
	if cfg.MaxRedirects > 0 {
		opts = append(opts, provision.WithMaxRedirects(cfg.MaxRedirects))
	}
	if cfg.ReleaseURL != "" {
		opts = append(opts, provision.WithReleaseURL(cfg.ReleaseURL))
	}
	if cfg.ModelBaseURL != "" {
		opts = append(opts, provision.WithModelBaseURL(cfg.ModelBaseURL))
	}
	return provision.New(provision.NewStore(filepath.Clean(dir)), opts...), nil
}

// platformFacts describes the running host for [engine.Choose].
func platformFacts(cfg config.EngineConfig) (engine.PlatformFacts, provision.Descriptor) {
	desc, native := provision.HostDescriptor()
	if cfg.AssetName != "" {
		desc = desc.WithAsset(cfg.AssetName)
		native = true
	}
	facts := engine.PlatformFacts{
		OS:               runtime.GOOS,
		Arch:             runtime.GOARCH,
		NativeRelease:    native,
		EmbeddedCompiled: embedded.Compiled,
	}
	if cfg.Variant != "" && cfg.Variant != config.VariantAuto {
		facts.Preferred = engine.Variant(cfg.Variant)
	}
	return facts, desc
}

// ChooseVariant reports which engine variant cfg selects on this host.
func ChooseVariant(cfg config.EngineConfig) (engine.Variant, error) {
	facts, _ := platformFacts(cfg)
	return engine.Choose(facts)
}

// NewEngineBuilder returns the [EngineBuilder] used outside tests. Every
// handle it builds reports progress through rep and records initialisation
// metrics on m.
func NewEngineBuilder(cfg config.EngineConfig, prov *provision.Provisioner, m *observe.Metrics, rep engine.ProgressReporter, log *slog.Logger) EngineBuilder {
	return func(modelID string) (*engine.Handle, error) {
		facts, desc := platformFacts(cfg)
		factories := map[engine.Variant]engine.Factory{
			engine.VariantSubprocess: func() (engine.Engine, error) {
				return subprocess.New(prov, desc,
					subprocess.WithModel(modelID),
					subprocess.WithLanguage(cfg.Language),
					subprocess.WithThreads(cfg.Threads),
					subprocess.WithExtraArgs(cfg.ExtraArgs),
					subprocess.WithLogger(log),
				)
			},
			engine.VariantEmbedded: func() (engine.Engine, error) {
				return embedded.New(prov, embedded.Config{
					ModelID:  modelID,
					Language: cfg.Language,
					Threads:  cfg.Threads,
				}, embedded.WithLogger(log)), nil
			},
		}
		factory, variant, err := engine.Select(facts, factories)
		if err != nil {
			return nil, fmt.Errorf("app: select engine: %w", err)
		}
		log.Info("engine selected", "variant", variant, "model", modelID, "platform", desc.String())
		return engine.NewHandle(Instrument(factory, m), engine.WithProgress(rep)), nil
	}
}

// Instrument wraps factory so every engine it builds records its
// initialisation in a span and on m.
func Instrument(factory engine.Factory, m *observe.Metrics) engine.Factory {
	return func() (engine.Engine, error) {
		e, err := factory()
		if err != nil {
			return nil, err
		}
		return &instrumented{Engine: e, metrics: m}, nil
	}
}

type instrumented struct {
	engine.Engine
	metrics *observe.Metrics
}

func (e *instrumented) Initialize(ctx context.Context, rep engine.ProgressReporter) error {
	variant := string(e.Variant())
	ctx, span := observe.StartSpan(ctx, "engine.initialize",
		trace.WithAttributes(attribute.String("engine.variant", variant)))
	defer span.End()

	start := time.Now()
	err := e.Engine.Initialize(ctx, rep)
	status := observe.StatusOK
	if err != nil {
		status = observe.StatusFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	e.metrics.RecordEngineInit(ctx, variant, status, time.Since(start))
	return err
}

// Provision ensures every artifact the selected engine variant needs for
// modelID is cached: the binary and the model for the subprocess engine,
// only the model for the embedded one.
func Provision(ctx context.Context, cfg config.EngineConfig, prov *provision.Provisioner, modelID string, rep engine.ProgressReporter) error {
	facts, desc := platformFacts(cfg)
	variant, err := engine.Choose(facts)
	if err != nil {
		return fmt.Errorf("app: select engine: %w", err)
	}
	// Both return *engine.ProvisioningError already.
	if variant == engine.VariantSubprocess {
		if _, err := prov.EnsureBinary(ctx, desc, rep); err != nil {
			return err
		}
	}
	_, err = prov.EnsureModel(ctx, modelID, rep)
	return err
}

// progressLogger logs phase changes at info level and download progress at
// debug level.
func progressLogger(log *slog.Logger) engine.ProgressReporter {
	var last engine.Phase
	return engine.ProgressFunc(func(p engine.Progress) {
		if p.Phase != last {
			last = p.Phase
			log.Info("engine initialisation", "phase", p.Phase, "asset", p.Asset, "offline", p.Offline)
			return
		}
		if p.Phase == engine.PhaseDownloading {
			log.Debug("engine download", "asset", p.Asset, "loaded", p.Loaded, "total", p.Total, "fraction", p.Fraction())
		}
	})
}
