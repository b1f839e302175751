package sink

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/MrWong99/voxquill/internal/session"
)

// Writer is an append-only document streamed to an [io.Writer] such as
// stdout. Insertions away from the end cannot be honoured and are appended.
type Writer struct {
	w   io.Writer
	log *slog.Logger

	mu  sync.Mutex
	len int
}

var _ session.DocumentSink = (*Writer)(nil)

// NewWriter returns a Writer streaming to w. A nil log uses slog.Default().
func NewWriter(w io.Writer, log *slog.Logger) *Writer {
	if log == nil {
		log = slog.Default()
	}
	return &Writer{w: w, log: log}
}

// InsertAt appends text and returns the new document length.
func (s *Writer) InsertAt(_ context.Context, cursor int, text string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cursor != s.len {
		s.log.Warn("sink: writer is append-only, inserting at end", "cursor", cursor, "len", s.len)
	}
	if _, err := io.WriteString(s.w, text); err != nil {
		return cursor, fmt.Errorf("sink: write: %w", err)
	}
	s.len += utf8.RuneCountInString(text)
	return s.len, nil
}
