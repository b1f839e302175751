package provision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

// DefaultReleaseURL is the latest-release endpoint of the whisper.cpp project.
const DefaultReleaseURL = "https://api.github.com/repos/ggerganov/whisper.cpp/releases/latest"

// ErrMissingAsset is returned when the latest release carries no archive
// with the expected name.
var ErrMissingAsset = errors.New("provision: release asset not found")

// maxReleaseBody bounds the release metadata document.
const maxReleaseBody = 4 << 20

type release struct {
	TagName string         `json:"tag_name"`
	Assets  []releaseAsset `json:"assets"`
}

type releaseAsset struct {
	Name        string `json:"name"`
	DownloadURL string `json:"browser_download_url"`
	Size        int64  `json:"size"`
}

// latestRelease fetches and parses the release metadata.
func (p *Provisioner) latestRelease(ctx context.Context) (release, error) {
	resp, err := p.get(ctx, p.releaseURL, func(req *http.Request) {
		req.Header.Set("Accept", "application/vnd.github+json")
	})
	if err != nil {
		return release{}, fmt.Errorf("fetch release index: %w", err)
	}
	defer resp.Body.Close()

	var rel release
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxReleaseBody)).Decode(&rel); err != nil {
		return release{}, fmt.Errorf("decode release index: %w", err)
	}
	return rel, nil
}

// selectAsset returns the asset whose name equals want exactly.
func selectAsset(rel release, want string) (releaseAsset, error) {
	names := make([]string, 0, len(rel.Assets))
	for _, a := range rel.Assets {
		if a.Name == want {
			return a, nil
		}
		names = append(names, a.Name)
	}
	sort.Strings(names)
	available := strings.Join(names, ", ")
	if available == "" {
		available = "none"
	}
	return releaseAsset{}, fmt.Errorf("%w: %q in release %s (available: %s)", ErrMissingAsset, want, rel.TagName, available)
}
