package session_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxquill/internal/observe"
	"github.com/MrWong99/voxquill/internal/resilience"
	"github.com/MrWong99/voxquill/internal/session"
	"github.com/MrWong99/voxquill/pkg/audio"
	"github.com/MrWong99/voxquill/pkg/engine"
	"github.com/MrWong99/voxquill/pkg/engine/mock"
)

type memJournal struct {
	mu      sync.Mutex
	results []session.ChunkResult
}

func (j *memJournal) RecordChunk(_ context.Context, _ string, r session.ChunkResult) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.results = append(j.results, r)
	return nil
}

func (j *memJournal) bySeq(seq uint64) (session.ChunkResult, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, r := range j.results {
		if r.Seq == seq {
			return r, true
		}
	}
	return session.ChunkResult{}, false
}

// seqEngine answers "wN" where N is recovered from the sample value seq/10.
// Earlier chunks take longer so completions arrive in reverse order.
func seqEngine(t *testing.T, n int) *mock.Engine {
	t.Helper()
	e := &mock.Engine{
		TranscribeFunc: func(_ context.Context, s []float32) (engine.Result, error) {
			seq := int(math.Round(float64(s[0]) * 10))
			time.Sleep(time.Duration(n-seq) * 10 * time.Millisecond)
			return engine.Result{Text: fmt.Sprintf("w%d", seq)}, nil
		},
	}
	if err := e.Initialize(context.Background(), nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return e
}

func waitPipeline(t *testing.T, p *session.Pipeline) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestPipeline_OutOfOrderCompletionInsertsInOrder(t *testing.T) {
	t.Parallel()
	const n = 4
	sink := &memSink{}
	journal := &memJournal{}
	p := session.NewPipeline(context.Background(), session.PipelineConfig{
		Engine:      seqEngine(t, n),
		Sequencer:   session.NewSequencer(sink),
		MaxInFlight: n,
		Journal:     journal,
		Metrics:     newTestMetrics(t),
	})

	for seq := 1; seq <= n; seq++ {
		p.Dispatch(wavWindow(t, uint64(seq), 160, float32(seq)/10))
	}
	waitPipeline(t, p)

	if got := sink.Text(); got != "w1 w2 w3 w4 " {
		t.Errorf("document = %q, want %q", got, "w1 w2 w3 w4 ")
	}
	if c := p.Counts()[observe.StatusOK]; c != n {
		t.Errorf("ok count = %d, want %d", c, n)
	}
	r, ok := journal.bySeq(1)
	if !ok || r.Text != "w1" || r.Latency <= 0 {
		t.Errorf("journal seq 1 = %+v, %v", r, ok)
	}
}

func TestPipeline_DecodeErrorIsTerminal(t *testing.T) {
	t.Parallel()
	sink := &memSink{}
	journal := &memJournal{}
	e := seqEngine(t, 3)
	p := session.NewPipeline(context.Background(), session.PipelineConfig{
		Engine:    e,
		Sequencer: session.NewSequencer(sink),
		Journal:   journal,
		Metrics:   newTestMetrics(t),
	})

	p.Dispatch(wavWindow(t, 1, 160, 0.1))
	p.Dispatch(audio.Window{Seq: 2, Data: []byte("garbage")})
	p.Dispatch(wavWindow(t, 3, 160, 0.3))
	waitPipeline(t, p)

	if got := sink.Text(); got != "w1 w3 " {
		t.Errorf("document = %q, want %q", got, "w1 w3 ")
	}
	r, _ := journal.bySeq(2)
	var de *engine.DecodeError
	if !errors.As(r.Err, &de) || de.Seq != 2 {
		t.Errorf("seq 2 error = %v, want DecodeError for chunk 2", r.Err)
	}
	if r.Status != observe.StatusDecodeError {
		t.Errorf("seq 2 status = %q", r.Status)
	}
	if e.TranscribeCalls() != 2 {
		t.Errorf("TranscribeCalls = %d, want 2", e.TranscribeCalls())
	}
}

func TestPipeline_InvocationErrorDoesNotBlockLaterChunks(t *testing.T) {
	t.Parallel()
	sink := &memSink{}
	e := &mock.Engine{
		TranscribeFunc: func(_ context.Context, s []float32) (engine.Result, error) {
			if math.Round(float64(s[0])*10) == 1 {
				return engine.Result{}, &engine.InvocationError{ExitCode: 1, Stderr: "crash"}
			}
			return engine.Result{Text: "after"}, nil
		},
	}
	_ = e.Initialize(context.Background(), nil)
	p := session.NewPipeline(context.Background(), session.PipelineConfig{
		Engine:    e,
		Sequencer: session.NewSequencer(sink),
		Metrics:   newTestMetrics(t),
	})

	p.Dispatch(wavWindow(t, 1, 160, 0.1))
	p.Dispatch(wavWindow(t, 2, 160, 0.2))
	waitPipeline(t, p)

	if got := sink.Text(); got != "after " {
		t.Errorf("document = %q, want %q", got, "after ")
	}
	counts := p.Counts()
	if counts[observe.StatusFailed] != 1 || counts[observe.StatusOK] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestPipeline_DropsBeyondQueueDepth(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	e := &mock.Engine{
		TranscribeFunc: func(_ context.Context, s []float32) (engine.Result, error) {
			<-release
			return engine.Result{Text: fmt.Sprintf("w%d", int(math.Round(float64(s[0])*10)))}, nil
		},
	}
	_ = e.Initialize(context.Background(), nil)
	sink := &memSink{}
	p := session.NewPipeline(context.Background(), session.PipelineConfig{
		Engine:      e,
		Sequencer:   session.NewSequencer(sink),
		MaxInFlight: 1,
		MaxQueued:   1,
		Metrics:     newTestMetrics(t),
	})

	for seq := 1; seq <= 4; seq++ {
		p.Dispatch(wavWindow(t, uint64(seq), 160, float32(seq)/10))
	}
	close(release)
	waitPipeline(t, p)

	counts := p.Counts()
	if counts[observe.StatusDropped] != 2 || counts[observe.StatusOK] != 2 {
		t.Errorf("counts = %v, want 2 dropped and 2 ok", counts)
	}
	if got := sink.Text(); got != "w1 w2 " {
		t.Errorf("document = %q, want %q", got, "w1 w2 ")
	}
}

func TestPipeline_BreakerOpensAfterFailures(t *testing.T) {
	t.Parallel()
	e := &mock.Engine{TranscribeErr: &engine.InvocationError{ExitCode: 2}}
	_ = e.Initialize(context.Background(), nil)
	p := session.NewPipeline(context.Background(), session.PipelineConfig{
		Engine:    e,
		Sequencer: session.NewSequencer(&memSink{}),
		Breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "test",
			MaxFailures:  1,
			ResetTimeout: time.Hour,
		}),
		Metrics: newTestMetrics(t),
	})

	p.Dispatch(wavWindow(t, 1, 160, 0.1))
	waitPipeline(t, p)
	p.Dispatch(wavWindow(t, 2, 160, 0.1))
	waitPipeline(t, p)

	counts := p.Counts()
	if counts[observe.StatusFailed] != 1 || counts[observe.StatusBreakerOpen] != 1 {
		t.Errorf("counts = %v, want 1 failed and 1 breaker_open", counts)
	}
	if e.TranscribeCalls() != 1 {
		t.Errorf("TranscribeCalls = %d, want 1", e.TranscribeCalls())
	}
}

func TestPipeline_ConvertsToModelFormat(t *testing.T) {
	t.Parallel()
	var gotLen int
	e := &mock.Engine{
		TranscribeFunc: func(_ context.Context, s []float32) (engine.Result, error) {
			gotLen = len(s)
			return engine.Result{Text: "ok"}, nil
		},
	}
	_ = e.Initialize(context.Background(), nil)
	journal := &memJournal{}
	p := session.NewPipeline(context.Background(), session.PipelineConfig{
		Engine:    e,
		Sequencer: session.NewSequencer(&memSink{}),
		Journal:   journal,
		Metrics:   newTestMetrics(t),
	})

	// 20 ms of 48 kHz stereo.
	var b audio.Buffer
	if err := audio.WriteWAV(&b, make([]float32, 960*2), audio.Format{SampleRate: 48000, Channels: 2}); err != nil {
		t.Fatalf("WriteWAV: %v", err)
	}
	p.Dispatch(audio.Window{Seq: 1, Data: b.Bytes()})
	waitPipeline(t, p)

	if gotLen != 320 {
		t.Errorf("engine received %d samples, want 320", gotLen)
	}
	res, ok := journal.bySeq(1)
	if !ok {
		t.Fatal("chunk 1 not journaled")
	}
	if res.Audio != 20*time.Millisecond {
		t.Errorf("Audio = %s, want 20ms", res.Audio)
	}
}
