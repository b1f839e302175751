package engine

// Phase is a coarse initialisation step reported to the user.
type Phase string

const (
	PhaseDownloading Phase = "downloading"
	PhaseExtracting  Phase = "extracting"
	PhaseLoading     Phase = "loading"
	PhaseReady       Phase = "ready"
)

// Progress describes the state of an initialisation at one point in time.
type Progress struct {
	Phase Phase

	// Asset names what is being worked on (an archive or model filename).
	Asset string

	// Loaded and Total are byte counts during downloads. Total is zero when
	// the server did not announce a content length.
	Loaded int64
	Total  int64

	// Offline is set when every required artifact is already cached.
	Offline bool
}

// Fraction returns Loaded/Total in [0, 1], or -1 when the total is unknown.
func (p Progress) Fraction() float64 {
	if p.Total <= 0 {
		return -1
	}
	f := float64(p.Loaded) / float64(p.Total)
	if f > 1 {
		return 1
	}
	return f
}

// ProgressReporter receives initialisation progress. Implementations must be
// safe for concurrent use and must not block.
type ProgressReporter interface {
	Report(p Progress)
}

// ProgressFunc adapts an ordinary function to [ProgressReporter].
type ProgressFunc func(Progress)

// Report calls f(p).
func (f ProgressFunc) Report(p Progress) { f(p) }

// Report forwards p to r when r is non-nil.
func Report(r ProgressReporter, p Progress) {
	if r != nil {
		r.Report(p)
	}
}
