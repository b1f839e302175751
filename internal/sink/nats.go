package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/nats-io/nats.go"

	"github.com/MrWong99/voxquill/internal/session"
)

const flushTimeout = 2 * time.Second

// Insertion is the message published for every document insertion.
type Insertion struct {
	Cursor int       `json:"cursor"`
	Text   string    `json:"text"`
	Next   int       `json:"next"`
	At     time.Time `json:"at"`
}

// NATS publishes every insertion as a JSON [Insertion] on a subject, leaving
// the document itself to the subscribers.
type NATS struct {
	conn    *nats.Conn
	subject string
	log     *slog.Logger

	mu sync.Mutex
}

var _ session.DocumentSink = (*NATS)(nil)

// DialNATS connects to the server at url and returns a sink publishing on
// subject.
func DialNATS(url, subject string, log *slog.Logger) (*NATS, error) {
	if subject == "" {
		return nil, errors.New("sink: nats subject is required")
	}
	if log == nil {
		log = slog.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name("voxquill"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("sink: nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("sink: nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("sink: connect to nats: %w", err)
	}
	log.Info("sink: connected to NATS", "url", url, "subject", subject)
	return &NATS{conn: conn, subject: subject, log: log}, nil
}

// InsertAt publishes the insertion and returns the cursor past text.
func (s *NATS) InsertAt(_ context.Context, cursor int, text string) (int, error) {
	next := cursor + utf8.RuneCountInString(text)
	payload, err := json.Marshal(Insertion{Cursor: cursor, Text: text, Next: next, At: time.Now().UTC()})
	if err != nil {
		return cursor, fmt.Errorf("sink: encode insertion: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.Publish(s.subject, payload); err != nil {
		return cursor, fmt.Errorf("sink: publish to %q: %w", s.subject, err)
	}
	if err := s.conn.FlushTimeout(flushTimeout); err != nil {
		s.log.Warn("sink: nats flush", "subject", s.subject, "err", err)
	}
	return next, nil
}

// Healthy reports whether the connection is up.
func (s *NATS) Healthy() bool {
	return s.conn != nil && s.conn.Status() == nats.CONNECTED
}

// Close drains pending messages and closes the connection.
func (s *NATS) Close() error {
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
		return fmt.Errorf("sink: drain nats: %w", err)
	}
	return nil
}
