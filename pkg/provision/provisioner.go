// Package provision downloads and caches the artifacts a whisper.cpp engine
// needs: the prebuilt command-line release for the host platform and ggml
// model files.
//
// Every Ensure call is idempotent. When the final artifact already exists on
// disk it returns immediately without touching the network. Partially
// written downloads never satisfy that check.
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/MrWong99/voxquill/pkg/engine"
)

const (
	userAgent           = "voxquill-provisioner"
	defaultMaxRedirects = 10
)

// Provisioner ensures engine artifacts exist in a [Store].
//
// Ensure calls are serialised; the provisioning steps of one call run
// sequentially.
type Provisioner struct {
	store        *Store
	client       *http.Client
	releaseURL   string
	modelBaseURL string
	maxRedirects int
	goos         string
	log          *slog.Logger
	onDownload   func(asset string, n int64)

	mu sync.Mutex
}

// Option configures a [Provisioner].
type Option func(*Provisioner)

// WithHTTPClient sets the client used for all requests. Its redirect policy
// is replaced; redirects are always followed by the Provisioner itself.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provisioner) {
		if c != nil {
			cp := *c
			p.client = &cp
		}
	}
}

// WithReleaseURL overrides [DefaultReleaseURL].
func WithReleaseURL(u string) Option {
	return func(p *Provisioner) {
		if u != "" {
			p.releaseURL = u
		}
	}
}

// WithModelBaseURL overrides [DefaultModelBaseURL].
func WithModelBaseURL(u string) Option {
	return func(p *Provisioner) {
		if u != "" {
			p.modelBaseURL = u
		}
	}
}

// WithMaxRedirects caps redirect hops per download. Default: 10.
func WithMaxRedirects(n int) Option {
	return func(p *Provisioner) {
		if n >= 0 {
			p.maxRedirects = n
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Provisioner) {
		if l != nil {
			p.log = l
		}
	}
}

// WithDownloadObserver registers fn to be called after every completed
// download with the asset name and byte count.
func WithDownloadObserver(fn func(asset string, n int64)) Option {
	return func(p *Provisioner) { p.onDownload = fn }
}

// New returns a Provisioner caching into store.
func New(store *Store, opts ...Option) *Provisioner {
	p := &Provisioner{
		store:        store,
		client:       &http.Client{Timeout: 30 * time.Minute},
		releaseURL:   DefaultReleaseURL,
		modelBaseURL: DefaultModelBaseURL,
		maxRedirects: defaultMaxRedirects,
		goos:         runtime.GOOS,
		log:          slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	p.client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return p
}

// Store returns the underlying cache.
func (p *Provisioner) Store() *Store { return p.store }

// Cached reports whether both the binary for d and the model id are present,
// i.e. whether an initialisation can run offline.
func (p *Provisioner) Cached(d Descriptor, modelID string) bool {
	return p.store.Binary(d.ExecutableNames).Present && p.store.Model(ModelFilename(modelID)).Present
}

// EnsureBinary returns the path of the native executable for d, downloading
// and extracting the release archive when it is not cached. rep may be nil.
func (p *Provisioner) EnsureBinary(ctx context.Context, d Descriptor, rep engine.ProgressReporter) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if a := p.store.Binary(d.ExecutableNames); a.Present {
		return a.Path, nil
	}
	path, err := p.provisionBinary(ctx, d, rep)
	if err != nil {
		return "", &engine.ProvisioningError{Op: "ensure binary", Err: err}
	}
	return path, nil
}

func (p *Provisioner) provisionBinary(ctx context.Context, d Descriptor, rep engine.ProgressReporter) (string, error) {
	if d.ArchiveAssetName == "" {
		return "", fmt.Errorf("%w: no release archive for %s/%s", ErrMissingAsset, d.OS, d.Arch)
	}
	start := time.Now()
	p.log.Info("provision: fetching native engine", "asset", d.ArchiveAssetName, "release_url", p.releaseURL)

	rel, err := p.latestRelease(ctx)
	if err != nil {
		return "", err
	}
	asset, err := selectAsset(rel, d.ArchiveAssetName)
	if err != nil {
		return "", err
	}

	binDir := p.store.BinaryDir()
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", binDir, err)
	}
	tmp, err := os.CreateTemp(binDir, "download-*-"+asset.Name)
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}
	archive := tmp.Name()
	defer func() {
		if err := os.Remove(archive); err != nil && !os.IsNotExist(err) {
			p.log.Warn("provision: remove archive", "path", archive, "err", err)
		}
	}()

	_, err = p.downloadTo(ctx, asset.DownloadURL, tmp, asset.Name, rep)
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close archive file: %w", closeErr)
	}
	if err != nil {
		return "", err
	}

	staging, err := os.MkdirTemp(binDir, ".staging-*")
	if err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			p.log.Warn("provision: remove staging dir", "path", staging, "err", err)
		}
	}()

	engine.Report(rep, engine.Progress{Phase: engine.PhaseExtracting, Asset: asset.Name})
	if err := extract(ctx, p.goos, archive, staging); err != nil {
		return "", err
	}

	staged, ok := FindByName(staging, d.ExecutableNames)
	if !ok {
		return "", fmt.Errorf("no executable named %v after extracting %s; contents:\n%s",
			d.ExecutableNames, asset.Name, listTree(staging))
	}
	if p.goos != "windows" {
		if err := os.Chmod(staged, 0o755); err != nil {
			return "", fmt.Errorf("chmod %s: %w", staged, err)
		}
	}
	inner, err := filepath.Rel(staging, staged)
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}

	final := p.store.EngineDir()
	if err := os.RemoveAll(final); err != nil {
		return "", fmt.Errorf("remove previous engine dir: %w", err)
	}
	if err := os.Rename(staging, final); err != nil {
		return "", fmt.Errorf("install engine dir: %w", err)
	}
	exe := filepath.Join(final, inner)

	p.log.Info("provision: native engine ready",
		"path", exe, "release", rel.TagName, "duration", time.Since(start))
	engine.Report(rep, engine.Progress{Phase: engine.PhaseReady, Asset: asset.Name})
	return exe, nil
}

// EnsureModel returns the path of the model file for id, downloading it when
// it is not cached. Unknown ids resolve to the default model. rep may be nil.
func (p *Provisioner) EnsureModel(ctx context.Context, id string, rep engine.ProgressReporter) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	name := ModelFilename(id)
	if a := p.store.Model(name); a.Present {
		return a.Path, nil
	}
	path, err := p.provisionModel(ctx, name, rep)
	if err != nil {
		return "", &engine.ProvisioningError{Op: "ensure model", Err: err}
	}
	return path, nil
}

func (p *Provisioner) provisionModel(ctx context.Context, name string, rep engine.ProgressReporter) (string, error) {
	dir := p.store.ModelDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	final := filepath.Join(dir, name)
	part := final + ".part"

	f, err := os.Create(part)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", part, err)
	}
	u := p.modelBaseURL + "/" + name
	p.log.Info("provision: downloading model", "model", name, "url", u)

	n, err := p.downloadTo(ctx, u, f, name, rep)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close %s: %w", part, closeErr)
	}
	if err != nil {
		_ = os.Remove(part)
		return "", err
	}
	if err := os.Rename(part, final); err != nil {
		_ = os.Remove(part)
		return "", fmt.Errorf("install %s: %w", name, err)
	}

	p.log.Info("provision: model ready", "path", final, "bytes", n)
	engine.Report(rep, engine.Progress{Phase: engine.PhaseReady, Asset: name})
	return final, nil
}

// ClearCache deletes every cached binary and model. Subsequent Ensure calls
// provision from scratch.
func (p *Provisioner) ClearCache() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.store.Clear(); err != nil {
		return err
	}
	p.log.Info("provision: cache cleared", "root", p.store.Root())
	return nil
}
