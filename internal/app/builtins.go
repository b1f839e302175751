package app

import (
	"log/slog"
	"os"

	"github.com/MrWong99/voxquill/internal/config"
	"github.com/MrWong99/voxquill/internal/session"
	"github.com/MrWong99/voxquill/internal/sink"
	"github.com/MrWong99/voxquill/pkg/audio"
	"github.com/MrWong99/voxquill/pkg/audio/portaudio"
	"github.com/MrWong99/voxquill/pkg/audio/wavfile"
)

// RegisterBuiltins wires the sinks and capture sources that ship with
// voxquill into reg.
func RegisterBuiltins(reg *config.Registry, log *slog.Logger) {
	reg.RegisterSink("file", func(out config.OutputConfig) (session.DocumentSink, error) {
		return sink.OpenFile(out.Path)
	})
	reg.RegisterSink("stdout", func(config.OutputConfig) (session.DocumentSink, error) {
		return sink.NewWriter(os.Stdout, log), nil
	})
	reg.RegisterSink("nats", func(out config.OutputConfig) (session.DocumentSink, error) {
		return sink.DialNATS(out.NATS.URL, out.NATS.Subject, log)
	})

	reg.RegisterMicrophone("portaudio", func(config.RecordingConfig) (audio.Microphone, error) {
		return portaudio.New(), nil
	})
	reg.RegisterMicrophone("wav", func(rec config.RecordingConfig) (audio.Microphone, error) {
		return wavfile.New(rec.WAVPath, rec.Realtime), nil
	})
}
