package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/MrWong99/voxquill/pkg/engine"
)

// ErrTooManyRedirects is returned when a download exceeds the redirect cap.
var ErrTooManyRedirects = errors.New("provision: too many redirects")

// progressStep is the minimum byte delta between download progress reports.
const progressStep = 256 << 10

// get issues a GET for rawURL and follows 301, 302, 303, 307 and 308
// responses manually, up to maxRedirects hops. Any final status other than
// 200 is an error. The caller closes the returned body.
func (p *Provisioner) get(ctx context.Context, rawURL string, decorate func(*http.Request)) (*http.Response, error) {
	target := rawURL
	for hop := 0; ; hop++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("User-Agent", userAgent)
		if decorate != nil {
			decorate(req)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("GET %s: %w", target, err)
		}

		switch resp.StatusCode {
		case http.StatusOK:
			return resp, nil
		case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
			http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
			loc := resp.Header.Get("Location")
			drain(resp)
			if loc == "" {
				return nil, fmt.Errorf("GET %s: redirect %d without Location", target, resp.StatusCode)
			}
			if hop >= p.maxRedirects {
				return nil, fmt.Errorf("%w: gave up after %d hops at %s", ErrTooManyRedirects, hop, target)
			}
			next, err := resolveLocation(req.URL, loc)
			if err != nil {
				return nil, fmt.Errorf("GET %s: bad Location %q: %w", target, loc, err)
			}
			p.log.Debug("provision: following redirect", "from", target, "to", next, "status", resp.StatusCode)
			target = next
		default:
			drain(resp)
			return nil, fmt.Errorf("GET %s: unexpected status %s", target, resp.Status)
		}
	}
}

func resolveLocation(base *url.URL, loc string) (string, error) {
	ref, err := url.Parse(loc)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

// downloadTo streams rawURL into the open file f, reporting progress under
// the given asset name. It returns the number of bytes written.
func (p *Provisioner) downloadTo(ctx context.Context, rawURL string, f *os.File, asset string, rep engine.ProgressReporter) (int64, error) {
	resp, err := p.get(ctx, rawURL, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	pw := &progressWriter{asset: asset, total: total, rep: rep}
	engine.Report(rep, engine.Progress{Phase: engine.PhaseDownloading, Asset: asset, Total: total})

	n, err := io.Copy(io.MultiWriter(f, pw), resp.Body)
	if err != nil {
		return n, fmt.Errorf("download %s: %w", asset, err)
	}
	if total > 0 && n != total {
		return n, fmt.Errorf("download %s: got %d of %d bytes", asset, n, total)
	}
	pw.flush()
	if p.onDownload != nil {
		p.onDownload(asset, n)
	}
	return n, nil
}

type progressWriter struct {
	asset    string
	total    int64
	loaded   int64
	reported int64
	rep      engine.ProgressReporter
}

func (w *progressWriter) Write(b []byte) (int, error) {
	w.loaded += int64(len(b))
	if w.loaded-w.reported >= progressStep {
		w.flush()
	}
	return len(b), nil
}

func (w *progressWriter) flush() {
	w.reported = w.loaded
	engine.Report(w.rep, engine.Progress{
		Phase:  engine.PhaseDownloading,
		Asset:  w.asset,
		Loaded: w.loaded,
		Total:  w.total,
	})
}
