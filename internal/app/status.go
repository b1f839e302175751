package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/MrWong99/voxquill/internal/health"
	"github.com/MrWong99/voxquill/internal/observe"
)

// statusServer serves /healthz, /readyz and, when a handler is set,
// /metrics.
type statusServer struct {
	srv *http.Server
	ln  net.Listener
	log *slog.Logger
}

func newStatusServer(addr string, h *health.Handler, metrics http.Handler, m *observe.Metrics, log *slog.Logger) (*statusServer, error) {
	mux := http.NewServeMux()
	h.Register(mux)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("app: status server listen %q: %w", addr, err)
	}
	return &statusServer{
		srv: &http.Server{
			Handler:           observe.Middleware(m)(mux),
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln:  ln,
		log: log,
	}, nil
}

// Addr returns the bound address.
func (s *statusServer) Addr() string { return s.ln.Addr().String() }

func (s *statusServer) serve() {
	s.log.Info("status server listening", "addr", s.Addr())
	if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Error("status server failed", "err", err)
	}
}

func (s *statusServer) shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
