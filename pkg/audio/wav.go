package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	bitDepth      = 16
	wavFormatPCM  = 1
	maxPCMValue   = 32767
	pcmNormaliser = 32768.0
)

// EncodeWAV writes samples as the canonical engine input: a 44-byte RIFF/WAVE
// header followed by 16-bit little-endian mono PCM at 16 kHz. Each sample is
// clamped to [-1, 1], scaled by 32767 and rounded to the nearest integer.
func EncodeWAV(w io.WriteSeeker, samples []float32) error {
	return WriteWAV(w, samples, ModelFormat)
}

// WriteWAV writes interleaved samples as 16-bit PCM WAV in format f.
func WriteWAV(w io.WriteSeeker, samples []float32, f Format) error {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return fmt.Errorf("audio: invalid wav format %s", formatString(f.SampleRate, f.Channels))
	}
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = quantize(s)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: f.Channels, SampleRate: f.SampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}

	enc := wav.NewEncoder(w, f.SampleRate, bitDepth, f.Channels, wavFormatPCM)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("audio: write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audio: close wav encoder: %w", err)
	}
	return nil
}

// DecodeWAV decodes a WAV container into interleaved float32 samples
// normalised to [-1, 1] and reports the stored format.
func DecodeWAV(data []byte) ([]float32, Format, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, Format{}, errors.New("audio: invalid wav container")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, Format{}, fmt.Errorf("audio: decode wav: %w", err)
	}
	if buf == nil {
		return nil, Format{}, errors.New("audio: empty wav buffer")
	}

	depth := int(dec.BitDepth)
	if depth <= 0 {
		depth = bitDepth
	}
	scale := float32(int64(1) << (depth - 1))

	out := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		out[i] = float32(v) / scale
	}
	f := Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}
	if f.Channels <= 0 {
		f.Channels = 1
	}
	return out, f, nil
}

func quantize(s float32) int {
	if s != s {
		return 0
	}
	v := float64(s)
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int(math.Round(v * maxPCMValue))
}

// Buffer is an in-memory [io.WriteSeeker] used to encode capture windows
// without touching the filesystem.
type Buffer struct {
	buf []byte
	pos int
}

// Write writes p at the current offset, growing the buffer as needed.
func (b *Buffer) Write(p []byte) (int, error) {
	end := b.pos + len(p)
	if end > len(b.buf) {
		if end > cap(b.buf) {
			grown := make([]byte, end, 2*end)
			copy(grown, b.buf)
			b.buf = grown
		} else {
			b.buf = b.buf[:end]
		}
	}
	copy(b.buf[b.pos:], p)
	b.pos = end
	return len(p), nil
}

// Seek sets the offset for the next Write.
func (b *Buffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(b.pos) + offset
	case io.SeekEnd:
		abs = int64(len(b.buf)) + offset
	default:
		return 0, errors.New("audio: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("audio: negative position")
	}
	b.pos = int(abs)
	return abs, nil
}

// Bytes returns the written contents.
func (b *Buffer) Bytes() []byte { return b.buf }
