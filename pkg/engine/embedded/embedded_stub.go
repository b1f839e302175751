//go:build !whispercpp

package embedded

// Compiled reports whether the whisper.cpp loader is available.
const Compiled = false

// defaultLoader is nil without the whispercpp tag; Initialize then fails with
// ErrNotCompiled unless WithModelLoader supplies one.
var defaultLoader ModelLoader
