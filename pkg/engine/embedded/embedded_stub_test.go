//go:build !whispercpp

package embedded_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/voxquill/pkg/engine"
	"github.com/MrWong99/voxquill/pkg/engine/embedded"
	"github.com/MrWong99/voxquill/pkg/provision"
)

func TestStub_NotCompiled(t *testing.T) {
	t.Parallel()
	if embedded.Compiled {
		t.Fatal("Compiled must be false without the whispercpp tag")
	}
	e := embedded.New(provision.New(provision.NewStore(t.TempDir())), embedded.Config{})
	err := e.Initialize(context.Background(), nil)
	if !errors.Is(err, embedded.ErrNotCompiled) {
		t.Fatalf("err = %v, want ErrNotCompiled", err)
	}
	var pe *engine.ProvisioningError
	if !errors.As(err, &pe) {
		t.Errorf("err = %v, want *engine.ProvisioningError", err)
	}
	if _, err := e.Transcribe(context.Background(), nil); !errors.Is(err, engine.ErrNotInitialized) {
		t.Errorf("Transcribe err = %v, want ErrNotInitialized", err)
	}
	if e.Variant() != engine.VariantEmbedded {
		t.Errorf("Variant = %q", e.Variant())
	}
}
