//go:build !unix

package main

import "github.com/MrWong99/voxquill/internal/app"

// notifyToggle is unavailable without SIGUSR1.
func notifyToggle(*app.App) (stop func()) { return func() {} }
