package engine

import (
	"errors"
	"fmt"
)

// ErrNoEngine is returned by [Choose] when no variant can run on the host.
var ErrNoEngine = errors.New("engine: no usable engine for this platform")

// PlatformFacts are the host properties that decide which engine runs.
type PlatformFacts struct {
	OS   string
	Arch string

	// NativeRelease is set when a prebuilt whisper.cpp release archive exists
	// for this OS/architecture.
	NativeRelease bool

	// EmbeddedCompiled is set when the binary was built with the in-process
	// whisper.cpp bindings.
	EmbeddedCompiled bool

	// Preferred forces a variant. Empty means automatic selection.
	Preferred Variant
}

// Choose picks the engine variant for facts. An explicit preference wins when
// it can run; otherwise the subprocess engine is used where a native release
// exists and the embedded engine elsewhere.
func Choose(facts PlatformFacts) (Variant, error) {
	switch facts.Preferred {
	case VariantSubprocess:
		if !facts.NativeRelease {
			return "", fmt.Errorf("%w: no native release for %s/%s", ErrNoEngine, facts.OS, facts.Arch)
		}
		return VariantSubprocess, nil
	case VariantEmbedded:
		if !facts.EmbeddedCompiled {
			return "", fmt.Errorf("%w: embedded engine not compiled in", ErrNoEngine)
		}
		return VariantEmbedded, nil
	case "":
	default:
		return "", fmt.Errorf("engine: unknown variant %q", facts.Preferred)
	}

	if facts.NativeRelease {
		return VariantSubprocess, nil
	}
	if facts.EmbeddedCompiled {
		return VariantEmbedded, nil
	}
	return "", fmt.Errorf("%w: %s/%s", ErrNoEngine, facts.OS, facts.Arch)
}

// Select builds the engine chosen by [Choose] from the matching factory.
func Select(facts PlatformFacts, factories map[Variant]Factory) (Factory, Variant, error) {
	v, err := Choose(facts)
	if err != nil {
		return nil, "", err
	}
	f, ok := factories[v]
	if !ok || f == nil {
		return nil, "", fmt.Errorf("%w: no factory registered for %q", ErrNoEngine, v)
	}
	return f, v, nil
}
