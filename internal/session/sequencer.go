package session

import (
	"context"
	"log/slog"
	"sync"
)

// DocumentSink receives transcribed text. InsertAt inserts text at the rune
// offset cursor and returns the cursor position after the inserted text.
type DocumentSink interface {
	InsertAt(ctx context.Context, cursor int, text string) (int, error)
}

// Sequencer releases chunk texts to a [DocumentSink] strictly in sequence
// order, whatever order they are submitted in.
//
// Every sequence number must eventually be submitted exactly once, including
// chunks whose transcription failed (with empty text); a missing number
// withholds every later chunk.
type Sequencer struct {
	sink   DocumentSink
	filter *Filter
	log    *slog.Logger

	mu       sync.Mutex
	pending  map[uint64]string
	next     uint64
	cursor   int
	inserted int
}

// SequencerOption configures a [Sequencer].
type SequencerOption func(*Sequencer)

// WithFilter sets the content filter. Default: NewFilter(DefaultFillerTokens).
func WithFilter(f *Filter) SequencerOption {
	return func(s *Sequencer) {
		if f != nil {
			s.filter = f
		}
	}
}

// WithCursor sets the initial document cursor. Default: 0.
func WithCursor(c int) SequencerOption {
	return func(s *Sequencer) { s.cursor = c }
}

// WithSequencerLogger sets the logger. Default: slog.Default().
func WithSequencerLogger(l *slog.Logger) SequencerOption {
	return func(s *Sequencer) {
		if l != nil {
			s.log = l
		}
	}
}

// NewSequencer returns a Sequencer expecting sequence number 1 first.
func NewSequencer(sink DocumentSink, opts ...SequencerOption) *Sequencer {
	s := &Sequencer{
		sink:    sink,
		filter:  NewFilter(DefaultFillerTokens),
		log:     slog.Default(),
		pending: make(map[uint64]string),
		next:    1,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Submit records the text for seq and flushes every consecutive chunk
// starting at the next expected sequence number. Texts surviving the filter
// are inserted with one trailing space. Sink failures are logged and the
// chunk is skipped so later chunks are not blocked.
//
// Submitting a number below the next expected one, or one already pending,
// is ignored.
func (s *Sequencer) Submit(ctx context.Context, seq uint64, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq < s.next {
		s.log.Warn("sequencer: late or duplicate chunk ignored", "seq", seq, "next", s.next)
		return
	}
	if _, dup := s.pending[seq]; dup {
		s.log.Warn("sequencer: duplicate chunk ignored", "seq", seq)
		return
	}
	s.pending[seq] = text

	for {
		text, ok := s.pending[s.next]
		if !ok {
			return
		}
		delete(s.pending, s.next)
		s.emit(ctx, s.next, text)
		s.next++
	}
}

// emit must be called with s.mu held.
func (s *Sequencer) emit(ctx context.Context, seq uint64, raw string) {
	text, keep := s.filter.Apply(raw)
	if !keep {
		if raw != "" {
			s.log.Debug("sequencer: filtered chunk", "seq", seq, "text", raw)
		}
		return
	}
	text += " "
	cursor, err := s.sink.InsertAt(ctx, s.cursor, text)
	if err != nil {
		s.log.Error("sequencer: insert failed, chunk skipped", "seq", seq, "err", err)
		return
	}
	s.cursor = cursor
	s.inserted++
}

// Next returns the next sequence number the sequencer is waiting for.
func (s *Sequencer) Next() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Pending returns the number of chunks held back waiting for an earlier one.
func (s *Sequencer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Cursor returns the current document cursor.
func (s *Sequencer) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Inserted returns how many chunk texts reached the sink.
func (s *Sequencer) Inserted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserted
}
