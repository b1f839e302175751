package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/voxquill/internal/observe"
	"github.com/MrWong99/voxquill/pkg/audio"
)

// memSink is an in-memory document that records every insertion.
type memSink struct {
	mu      sync.Mutex
	doc     []rune
	inserts []string
	failOn  map[string]bool
}

func (s *memSink) InsertAt(_ context.Context, cursor int, text string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn[text] {
		return cursor, errors.New("sink unavailable")
	}
	if cursor > len(s.doc) {
		cursor = len(s.doc)
	}
	r := []rune(text)
	doc := make([]rune, 0, len(s.doc)+len(r))
	doc = append(doc, s.doc[:cursor]...)
	doc = append(doc, r...)
	doc = append(doc, s.doc[cursor:]...)
	s.doc = doc
	s.inserts = append(s.inserts, text)
	return cursor + len(r), nil
}

func (s *memSink) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.doc)
}

func (s *memSink) Inserts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.inserts...)
}

func newTestMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// wavWindow encodes n samples of value v at 16 kHz mono as a window.
func wavWindow(t *testing.T, seq uint64, n int, v float32) audio.Window {
	t.Helper()
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = v
	}
	var b audio.Buffer
	if err := audio.WriteWAV(&b, samples, audio.ModelFormat); err != nil {
		t.Fatalf("WriteWAV: %v", err)
	}
	return audio.Window{Seq: seq, Data: b.Bytes()}
}
