package audio

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// Converter turns interleaved float32 capture samples into 16 kHz mono
// samples clamped to [-1, 1]. It logs a warning on the first format mismatch.
// Create one per session; not designed for shared use across goroutines.
type Converter struct {
	warnedMismatch sync.Once
}

// Convert down-mixes, resamples and clamps samples recorded in format src.
// Conversion order: channel mix first, then resample, then clamp.
func (c *Converter) Convert(samples []float32, src Format) []float32 {
	if src == ModelFormat {
		return Clamp(samples)
	}

	c.warnedMismatch.Do(func() {
		slog.Debug("audio format mismatch: converting",
			"from", formatString(src.SampleRate, src.Channels),
			"to", formatString(ModelSampleRate, 1),
		)
	})

	mono := DownmixMono(samples, src.Channels)
	return Clamp(Resample(mono, src.SampleRate, ModelSampleRate))
}

// DownmixMono averages interleaved multi-channel samples into mono. If
// channels is 1 (or less) the input is returned unchanged.
func DownmixMono(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += samples[i*channels+ch]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Resample converts mono samples from srcRate to dstRate using linear
// interpolation. Output index i reads source position p = i*(srcRate/dstRate)
// and blends the samples at floor(p) and ceil(p). The output length is
// ceil(len(samples)*dstRate/srcRate), so every source sample up to the last
// one is covered: 100 samples at 48 kHz give 34 at 16 kHz. If the rates
// match the input is returned unchanged.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	ratio := float64(srcRate) / float64(dstRate)
	n := int(math.Ceil(float64(len(samples)) / ratio))
	out := make([]float32, n)
	last := len(samples) - 1

	for i := range n {
		p := float64(i) * ratio
		i0 := int(math.Floor(p))
		i1 := int(math.Ceil(p))
		if i0 > last {
			i0 = last
		}
		if i1 > last {
			i1 = last
		}
		frac := float32(p - float64(i0))
		s0, s1 := samples[i0], samples[i1]
		out[i] = s0 + (s1-s0)*frac
	}
	return out
}

// Clamp limits every sample to [-1, 1] in place and returns the slice.
func Clamp(samples []float32) []float32 {
	for i, s := range samples {
		switch {
		case s > 1:
			samples[i] = 1
		case s < -1:
			samples[i] = -1
		case s != s: // NaN
			samples[i] = 0
		}
	}
	return samples
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
