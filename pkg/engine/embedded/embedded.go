//go:build whispercpp

package embedded

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// Compiled reports whether the whisper.cpp loader is available.
const Compiled = true

var defaultLoader ModelLoader = loadWhisper

// whisperModel creates a fresh inference context per call from the shared
// model.
type whisperModel struct {
	model whisperlib.Model
	cfg   Config
}

func loadWhisper(path string, cfg Config) (Model, error) {
	m, err := whisperlib.New(path)
	if err != nil {
		return nil, err
	}
	slog.Debug("embedded: whisper.cpp model loaded", "path", path, "multilingual", m.IsMultilingual())
	return &whisperModel{model: m, cfg: cfg}, nil
}

func (w *whisperModel) Transcribe(ctx context.Context, samples []float32) (string, error) {
	wctx, err := w.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("embedded: create context: %w", err)
	}
	if w.cfg.Language != "" {
		if err := wctx.SetLanguage(w.cfg.Language); err != nil {
			slog.Warn("embedded: set language failed, using model default", "language", w.cfg.Language, "err", err)
		}
	}
	if w.cfg.Threads > 0 {
		wctx.SetThreads(uint(w.cfg.Threads))
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("embedded: process audio: %w", err)
	}

	var parts []string
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("embedded: read segment: %w", err)
		}
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

func (w *whisperModel) Close() error { return w.model.Close() }
