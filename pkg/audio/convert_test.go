package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/voxquill/pkg/audio"
)

func TestResample_48kTo16k_Length(t *testing.T) {
	t.Parallel()
	src := make([]float32, 100)
	for i := range src {
		src[i] = float32(i) / 100
	}
	out := audio.Resample(src, 48000, 16000)
	if len(out) != 34 {
		t.Fatalf("len = %d, want 34", len(out))
	}
}

func TestResample_LengthRoundsUp(t *testing.T) {
	t.Parallel()
	tests := []struct {
		n, src, dst, want int
	}{
		{n: 100, src: 48000, dst: 16000, want: 34},
		{n: 100, src: 44100, dst: 16000, want: 37},
		{n: 99, src: 48000, dst: 16000, want: 33},
		{n: 1, src: 48000, dst: 16000, want: 1},
	}
	for _, tc := range tests {
		if got := len(audio.Resample(make([]float32, tc.n), tc.src, tc.dst)); got != tc.want {
			t.Errorf("Resample(%d samples, %d->%d) len = %d, want %d", tc.n, tc.src, tc.dst, got, tc.want)
		}
	}
}

func TestResample_LinearInterpolation(t *testing.T) {
	t.Parallel()
	// Ramp 0, 1, 2, ... so the interpolated value equals the source position.
	src := make([]float32, 10)
	for i := range src {
		src[i] = float32(i)
	}
	out := audio.Resample(src, 10, 4) // ratio 2.5
	want := []float32{0, 2.5, 5, 7.5}
	if len(out) != len(want) {
		t.Fatalf("len = %d, want %d", len(out), len(want))
	}
	for i := range want {
		if math.Abs(float64(out[i]-want[i])) > 1e-6 {
			t.Errorf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestResample_Upsample(t *testing.T) {
	t.Parallel()
	src := []float32{0, 1}
	out := audio.Resample(src, 8000, 16000)
	want := []float32{0, 0.5, 1, 1}
	if len(out) != len(want) {
		t.Fatalf("len = %d, want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestResample_SameRateReturnsInput(t *testing.T) {
	t.Parallel()
	src := []float32{0.1, 0.2, 0.3}
	out := audio.Resample(src, 16000, 16000)
	if &out[0] != &src[0] {
		t.Error("expected the input slice to be returned unchanged")
	}
}

func TestResample_Empty(t *testing.T) {
	t.Parallel()
	if out := audio.Resample(nil, 48000, 16000); len(out) != 0 {
		t.Errorf("len = %d, want 0", len(out))
	}
}

func TestClamp(t *testing.T) {
	t.Parallel()
	nan := float32(math.NaN())
	got := audio.Clamp([]float32{-2, -1, 0.5, 1, 3, nan})
	want := []float32{-1, -1, 0.5, 1, 1, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDownmixMono(t *testing.T) {
	t.Parallel()
	stereo := []float32{0.2, 0.4, -0.2, -0.6}
	got := audio.DownmixMono(stereo, 2)
	want := []float32{0.3, -0.4}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestConverter_StereoAt48kToModelFormat(t *testing.T) {
	t.Parallel()
	// 480 stereo frames at 48 kHz = 10 ms, which is 160 mono samples at 16 kHz.
	in := make([]float32, 960)
	for i := range in {
		in[i] = 2 // out of range, must be clamped
	}
	var c audio.Converter
	out := c.Convert(in, audio.Format{SampleRate: 48000, Channels: 2})
	if len(out) != 160 {
		t.Fatalf("len = %d, want 160", len(out))
	}
	for i, s := range out {
		if s != 1 {
			t.Fatalf("sample %d = %v, want clamped 1", i, s)
		}
	}
}

func TestChunkDuration(t *testing.T) {
	t.Parallel()
	c := audio.Chunk{Samples: make([]float32, 32000), SampleRate: 16000}
	if d := c.Duration().Seconds(); d != 2 {
		t.Errorf("Duration = %vs, want 2s", d)
	}
	if d := (audio.Chunk{}).Duration(); d != 0 {
		t.Errorf("zero chunk Duration = %v, want 0", d)
	}
}
