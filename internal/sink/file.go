// Package sink provides the [session.DocumentSink] implementations: a text
// file on disk, an append-only writer such as stdout, and a NATS subject.
//
// Cursors are rune offsets into the document.
package sink

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"unicode/utf8"

	"github.com/MrWong99/voxquill/internal/session"
)

// File is a document backed by a UTF-8 text file. Every insertion rewrites
// the file atomically, so the file on disk is always a complete document.
type File struct {
	path string

	mu  sync.Mutex
	doc []rune
}

var _ session.DocumentSink = (*File)(nil)

// OpenFile loads the document at path, or starts an empty one if the file
// does not exist yet.
func OpenFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("sink: open %q: %w", path, err)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("sink: %q is not valid UTF-8", path)
	}
	return &File{path: path, doc: []rune(string(data))}, nil
}

// InsertAt inserts text at the rune offset cursor, clamped to the document,
// and returns the offset just past the inserted text.
func (f *File) InsertAt(_ context.Context, cursor int, text string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cursor = max(0, min(cursor, len(f.doc)))
	ins := []rune(text)
	doc := make([]rune, 0, len(f.doc)+len(ins))
	doc = append(doc, f.doc[:cursor]...)
	doc = append(doc, ins...)
	doc = append(doc, f.doc[cursor:]...)

	if err := writeAtomic(f.path, []byte(string(doc))); err != nil {
		return cursor, fmt.Errorf("sink: write %q: %w", f.path, err)
	}
	f.doc = doc
	return cursor + len(ins), nil
}

// Len returns the document length in runes, the cursor for appending.
func (f *File) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.doc)
}

// Text returns the current document.
func (f *File) Text() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.doc)
}

// Path returns the document file path.
func (f *File) Path() string { return f.path }

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
