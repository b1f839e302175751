package audio

import "time"

// ModelSampleRate is the sample rate every inference engine expects. Captured
// audio at any other rate is resampled to it before transcription.
const ModelSampleRate = 16000

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// ModelFormat is the 16 kHz mono format consumed by the engines.
var ModelFormat = Format{SampleRate: ModelSampleRate, Channels: 1}

// Window is one fixed-duration capture window, encoded as a WAV container in
// the native capture format. Windows are produced by the recorder and decoded
// once by the transcription pipeline.
type Window struct {
	// Seq is the capture-order sequence number, starting at 1 per session.
	Seq uint64

	// Data holds the encoded WAV container.
	Data []byte

	// CapturedAt marks when capture of this window began.
	CapturedAt time.Time

	// Final is set on the last window of a session, which may be shorter than
	// the configured window duration.
	Final bool
}

// Chunk is a decoded capture window ready for inference: mono float32 samples
// in [-1, 1]. Chunks are immutable once created.
type Chunk struct {
	Seq        uint64
	Samples    []float32
	SampleRate int
	CapturedAt time.Time
}

// Duration returns the playback length of the chunk.
func (c Chunk) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}
