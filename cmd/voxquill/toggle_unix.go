//go:build unix

package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrWong99/voxquill/internal/app"
)

// notifyToggle starts or stops recording on SIGUSR1.
func notifyToggle(a *app.App) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ch:
				slog.Info("SIGUSR1 received; toggling recording")
				a.Toggle()
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}
