package provision_test

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/voxquill/pkg/engine"
	"github.com/MrWong99/voxquill/pkg/provision"
)

// fakeUpstream serves a release index, a redirecting archive download and
// model files, counting every request.
type fakeUpstream struct {
	srv     *httptest.Server
	hits    atomic.Int32
	mu      sync.Mutex
	archive []byte
	assets  []string
	model   []byte
}

func newFakeUpstream(t *testing.T, archive []byte, assets ...string) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{archive: archive, assets: assets, model: bytes.Repeat([]byte("g"), 4096)}
	mux := http.NewServeMux()
	mux.HandleFunc("/releases/latest", func(w http.ResponseWriter, r *http.Request) {
		type asset struct {
			Name string `json:"name"`
			URL  string `json:"browser_download_url"`
		}
		var list []asset
		for _, name := range f.assets {
			list = append(list, asset{Name: name, URL: f.srv.URL + "/download/" + name})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"tag_name": "v1.7.0", "assets": list})
	})
	// Release downloads redirect twice before reaching the blob, the second
	// time with a relative Location.
	mux.HandleFunc("/download/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, f.srv.URL+"/cdn/"+strings.TrimPrefix(r.URL.Path, "/download/"), http.StatusFound)
	})
	mux.HandleFunc("/cdn/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/blob/"+strings.TrimPrefix(r.URL.Path, "/cdn/"))
		w.WriteHeader(http.StatusMovedPermanently)
	})
	mux.HandleFunc("/blob/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		archive := f.archive
		f.mu.Unlock()
		_, _ = w.Write(archive)
	})
	mux.HandleFunc("/models/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "missing.bin") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(f.model)))
		_, _ = w.Write(f.model)
	})
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	})
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeUpstream) setArchive(b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archive = b
}

func (f *fakeUpstream) provisioner(t *testing.T, opts ...provision.Option) *provision.Provisioner {
	t.Helper()
	store := provision.NewStore(t.TempDir())
	opts = append([]provision.Option{
		provision.WithReleaseURL(f.srv.URL + "/releases/latest"),
		provision.WithModelBaseURL(f.srv.URL + "/models"),
	}, opts...)
	return provision.New(store, opts...)
}

// tarGz builds an archive holding build/bin/<exe> plus a readme.
func tarGz(t *testing.T, exe string) []byte {
	t.Helper()
	return tarGzWithBody(t, exe, "#!/bin/sh\necho hi\n")
}

func tarGzWithBody(t *testing.T, exe, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	files := []struct {
		name string
		body string
		mode int64
	}{
		{"build/README.md", "whisper.cpp", 0o644},
		{"build/bin/" + exe, body, 0o644},
	}
	for _, f := range files {
		if err := tw.WriteHeader(&tar.Header{Name: f.name, Mode: f.mode, Size: int64(len(f.body)), Typeflag: tar.TypeReg}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(f.body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func linuxDescriptor() provision.Descriptor {
	d, _ := provision.DescriptorFor("linux", "amd64")
	return d
}

func TestEnsureBinary_DownloadsExtractsAndIsIdempotent(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("tar.gz extraction path is exercised on POSIX hosts")
	}
	if _, err := exec.LookPath("tar"); err != nil {
		t.Skip("tar not available")
	}

	d := linuxDescriptor()
	up := newFakeUpstream(t, tarGz(t, "whisper-cli"), "whisper-bin-Win32.zip", d.ArchiveAssetName)
	p := up.provisioner(t)

	var phases []engine.Phase
	var mu sync.Mutex
	rep := engine.ProgressFunc(func(pr engine.Progress) {
		mu.Lock()
		defer mu.Unlock()
		if len(phases) == 0 || phases[len(phases)-1] != pr.Phase {
			phases = append(phases, pr.Phase)
		}
	})

	path, err := p.EnsureBinary(context.Background(), d, rep)
	if err != nil {
		t.Fatalf("EnsureBinary: %v", err)
	}
	if filepath.Base(path) != "whisper-cli" {
		t.Errorf("path = %q, want whisper-cli", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm()&0o111 == 0 {
		t.Errorf("mode = %v, want executable", info.Mode())
	}

	// The archive must be gone.
	entries, _ := os.ReadDir(p.Store().BinaryDir())
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "download-") {
			t.Errorf("archive %q left behind", e.Name())
		}
	}

	mu.Lock()
	want := []engine.Phase{engine.PhaseDownloading, engine.PhaseExtracting, engine.PhaseReady}
	if fmt.Sprint(phases) != fmt.Sprint(want) {
		t.Errorf("phases = %v, want %v", phases, want)
	}
	mu.Unlock()

	before := up.hits.Load()
	again, err := p.EnsureBinary(context.Background(), d, nil)
	if err != nil {
		t.Fatalf("second EnsureBinary: %v", err)
	}
	if again != path {
		t.Errorf("second path = %q, want %q", again, path)
	}
	if got := up.hits.Load() - before; got != 0 {
		t.Errorf("second call issued %d requests, want 0", got)
	}
}

func TestEnsureBinary_MissingAssetListsAvailable(t *testing.T) {
	t.Parallel()

	up := newFakeUpstream(t, nil, "whisper-bin-x64.zip", "whisper-blas-bin-x64.zip")
	p := up.provisioner(t)

	_, err := p.EnsureBinary(context.Background(), linuxDescriptor(), nil)
	if !errors.Is(err, provision.ErrMissingAsset) {
		t.Fatalf("err = %v, want ErrMissingAsset", err)
	}
	var pe *engine.ProvisioningError
	if !errors.As(err, &pe) || pe.Op != "ensure binary" {
		t.Errorf("err = %v, want *engine.ProvisioningError for ensure binary", err)
	}
	for _, name := range []string{"whisper-bin-x64.zip", "whisper-blas-bin-x64.zip"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not list %q", err, name)
		}
	}
}

func TestEnsureBinary_ExecutableNotFoundReportsTree(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("tar.gz extraction path is exercised on POSIX hosts")
	}
	if _, err := exec.LookPath("tar"); err != nil {
		t.Skip("tar not available")
	}

	d := linuxDescriptor()
	up := newFakeUpstream(t, tarGz(t, "something-else"), d.ArchiveAssetName)
	p := up.provisioner(t)

	_, err := p.EnsureBinary(context.Background(), d, nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "something-else") || !strings.Contains(err.Error(), "README.md") {
		t.Errorf("error %q should list the extracted tree", err)
	}
}

func TestEnsureBinary_BrokenArchiveFailsExtraction(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("tar.gz extraction path is exercised on POSIX hosts")
	}
	if _, err := exec.LookPath("tar"); err != nil {
		t.Skip("tar not available")
	}

	d := linuxDescriptor()
	up := newFakeUpstream(t, []byte("not a tarball"), d.ArchiveAssetName)
	p := up.provisioner(t)

	_, err := p.EnsureBinary(context.Background(), d, nil)
	if err == nil || !strings.Contains(err.Error(), "extract") {
		t.Fatalf("err = %v, want extraction failure", err)
	}
	if p.Store().Binary(d.ExecutableNames).Present {
		t.Error("binary must not be reported present after a failed extraction")
	}
}

func TestEnsureBinary_TruncatedArchiveIsNotCached(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("tar.gz extraction path is exercised on POSIX hosts")
	}
	if _, err := exec.LookPath("tar"); err != nil {
		t.Skip("tar not available")
	}

	// Incompressible content so the cut lands inside the executable's data.
	rng := rand.New(rand.NewPCG(1, 2))
	body := make([]byte, 1<<20)
	for i := range body {
		body[i] = byte(rng.UintN(256))
	}
	full := tarGzWithBody(t, "whisper-cli", string(body))

	d := linuxDescriptor()
	up := newFakeUpstream(t, full[:len(full)/2], d.ArchiveAssetName)
	p := up.provisioner(t)

	if _, err := p.EnsureBinary(context.Background(), d, nil); err == nil {
		t.Fatal("expected extraction of a truncated archive to fail")
	}
	if p.Store().Binary(d.ExecutableNames).Present {
		t.Fatal("partially extracted executable reported as cached")
	}
	entries, _ := os.ReadDir(p.Store().BinaryDir())
	for _, e := range entries {
		t.Errorf("leftover %q in binary dir after failure", e.Name())
	}

	// The next attempt goes back to the network and installs the full archive.
	up.setArchive(full)
	before := up.hits.Load()
	path, err := p.EnsureBinary(context.Background(), d, nil)
	if err != nil {
		t.Fatalf("EnsureBinary after fix-up: %v", err)
	}
	if up.hits.Load() == before {
		t.Error("second attempt issued no requests")
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != int64(len(body)) {
		t.Errorf("size = %d, want %d", info.Size(), len(body))
	}
	if !strings.HasPrefix(path, p.Store().EngineDir()) {
		t.Errorf("path %q is outside %q", path, p.Store().EngineDir())
	}
}

func TestEnsureModel_DownloadAndIdempotency(t *testing.T) {
	t.Parallel()

	up := newFakeUpstream(t, nil)
	var observed atomic.Int64
	p := up.provisioner(t, provision.WithDownloadObserver(func(_ string, n int64) { observed.Add(n) }))

	var last engine.Progress
	var mu sync.Mutex
	rep := engine.ProgressFunc(func(pr engine.Progress) {
		mu.Lock()
		defer mu.Unlock()
		if pr.Phase == engine.PhaseDownloading {
			last = pr
		}
	})

	path, err := p.EnsureModel(context.Background(), "tiny.en", rep)
	if err != nil {
		t.Fatalf("EnsureModel: %v", err)
	}
	if filepath.Base(path) != "ggml-tiny.en.bin" {
		t.Errorf("path = %q, want ggml-tiny.en.bin", path)
	}
	data, err := os.ReadFile(path)
	if err != nil || len(data) != 4096 {
		t.Fatalf("model file: len=%d err=%v", len(data), err)
	}
	if _, err := os.Stat(path + ".part"); !os.IsNotExist(err) {
		t.Errorf(".part file still present: %v", err)
	}
	mu.Lock()
	if last.Loaded != 4096 || last.Total != 4096 {
		t.Errorf("last progress = %+v, want 4096/4096", last)
	}
	mu.Unlock()
	if observed.Load() != 4096 {
		t.Errorf("observer saw %d bytes, want 4096", observed.Load())
	}

	before := up.hits.Load()
	if _, err := p.EnsureModel(context.Background(), "tiny.en", nil); err != nil {
		t.Fatalf("second EnsureModel: %v", err)
	}
	if got := up.hits.Load() - before; got != 0 {
		t.Errorf("second call issued %d requests, want 0", got)
	}
}

func TestEnsureModel_PartialFileDoesNotCount(t *testing.T) {
	t.Parallel()

	up := newFakeUpstream(t, nil)
	p := up.provisioner(t)
	dir := p.Store().ModelDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ggml-base.en.bin.part"), []byte("half"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := p.EnsureModel(context.Background(), "base.en", nil); err != nil {
		t.Fatalf("EnsureModel: %v", err)
	}
	if up.hits.Load() == 0 {
		t.Error("expected a download despite the leftover .part file")
	}
}

func TestEnsureModel_HTTPErrorLeavesNothing(t *testing.T) {
	t.Parallel()

	up := newFakeUpstream(t, nil)
	p := up.provisioner(t, provision.WithModelBaseURL(up.srv.URL+"/models/missing.bin?"))

	_, err := p.EnsureModel(context.Background(), "base", nil)
	var pe *engine.ProvisioningError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *engine.ProvisioningError", err)
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error %q should carry the status", err)
	}
	entries, _ := os.ReadDir(p.Store().ModelDir())
	if len(entries) != 0 {
		t.Errorf("model dir has %d entries after failure, want 0", len(entries))
	}
}

func TestDownload_RedirectLoopIsCapped(t *testing.T) {
	t.Parallel()

	up := newFakeUpstream(t, nil)
	p := up.provisioner(t,
		provision.WithModelBaseURL(up.srv.URL+"/loop?"),
		provision.WithMaxRedirects(3),
	)

	_, err := p.EnsureModel(context.Background(), "base", nil)
	if !errors.Is(err, provision.ErrTooManyRedirects) {
		t.Fatalf("err = %v, want ErrTooManyRedirects", err)
	}
	// One initial request plus three followed hops.
	if got := up.hits.Load(); got != 4 {
		t.Errorf("requests = %d, want 4", got)
	}
}

func TestClearCache_ForcesReprovisioning(t *testing.T) {
	t.Parallel()

	up := newFakeUpstream(t, nil)
	p := up.provisioner(t)
	if _, err := p.EnsureModel(context.Background(), "small", nil); err != nil {
		t.Fatalf("EnsureModel: %v", err)
	}
	if err := p.ClearCache(); err != nil {
		t.Fatalf("ClearCache: %v", err)
	}
	if p.Store().Model("ggml-small.bin").Present {
		t.Fatal("model still present after ClearCache")
	}
	before := up.hits.Load()
	if _, err := p.EnsureModel(context.Background(), "small", nil); err != nil {
		t.Fatalf("EnsureModel after clear: %v", err)
	}
	if up.hits.Load() == before {
		t.Error("expected a fresh download after ClearCache")
	}
}
