package health

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotReady is reported by [Ready] checkers whose func returns false.
var ErrNotReady = errors.New("health: not ready")

// Ready returns a [Checker] that passes while ready reports true, e.g. an
// engine handle's Ready method or a connection's Healthy method.
func Ready(name string, ready func() bool) Checker {
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !ready() {
				return fmt.Errorf("%w: %s", ErrNotReady, name)
			}
			return nil
		},
	}
}

// Breaker returns a [Checker] that fails while the named circuit breaker
// reports an open state. state is typically CircuitBreaker.State().String.
func Breaker(name string, state func() string) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if s := state(); s == "open" {
				return fmt.Errorf("circuit breaker %s", s)
			}
			return nil
		},
	}
}
