// Package health serves the health endpoints of the dictation service.
//
//   - GET /healthz: liveness; 200 while the process can serve HTTP.
//   - GET /readyz: readiness; 200 only when every [Checker] passes.
//   - GET /status: the current [Snapshot] of the session.
//
// Readiness responses embed the snapshot so a failing check shows the
// recording state, model, engine variant and breaker state it failed with.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 2 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// is usable.
type Checker struct {
	// Name labels the check in the response, e.g. "engine" or "sink".
	Name string

	// Check tests the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Snapshot describes the dictation session at request time. Empty fields are
// omitted from responses.
type Snapshot struct {
	SessionID      string     `json:"session_id,omitempty"`
	State          string     `json:"state,omitempty"`
	ModelID        string     `json:"model_id,omitempty"`
	Variant        string     `json:"variant,omitempty"`
	Breaker        string     `json:"breaker,omitempty"`
	RecordingSince *time.Time `json:"recording_since,omitempty"`
}

// CheckResult is the outcome of one [Checker].
type CheckResult struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Report is the JSON body of every endpoint.
type Report struct {
	Status   string        `json:"status"`
	Checks   []CheckResult `json:"checks,omitempty"`
	Snapshot *Snapshot     `json:"snapshot,omitempty"`
}

// OK reports whether every check passed.
func (r Report) OK() bool { return r.Status == "ok" }

// Handler serves the health endpoints. Its configuration is fixed at
// construction, so it is safe for concurrent use.
type Handler struct {
	checkers []Checker
	snapshot func() Snapshot
}

// Option configures a [Handler].
type Option func(*Handler)

// WithCheckers appends readiness checks. They run in the given order.
func WithCheckers(c ...Checker) Option {
	return func(h *Handler) { h.checkers = append(h.checkers, c...) }
}

// WithSnapshot sets the function describing the session. Without it,
// responses carry no snapshot.
func WithSnapshot(fn func() Snapshot) Option {
	return func(h *Handler) { h.snapshot = fn }
}

// New returns a Handler configured by opts.
func New(opts ...Option) *Handler {
	h := &Handler{}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Check runs every checker with a [checkTimeout] deadline derived from ctx
// and returns the combined report.
func (h *Handler) Check(ctx context.Context) Report {
	rep := Report{Status: "ok", Snapshot: h.snap()}
	for _, c := range h.checkers {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.Check(cctx)
		cancel()

		res := CheckResult{Name: c.Name, OK: err == nil}
		if err != nil {
			res.Error = err.Error()
			rep.Status = "fail"
		}
		rep.Checks = append(rep.Checks, res)
	}
	return rep
}

func (h *Handler) snap() *Snapshot {
	if h.snapshot == nil {
		return nil
	}
	s := h.snapshot()
	return &s
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: "ok"})
}

// Readyz answers 200 when every check passes and 503 otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Check(r.Context())
	status := http.StatusOK
	if !rep.OK() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}

// Status answers 200 with the snapshot and no checks.
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: "ok", Snapshot: h.snap()})
}

// Register adds the health routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /status", h.Status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
