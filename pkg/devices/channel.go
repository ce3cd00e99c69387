package devices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff"
)

// Channel describes a textual command channel to a device in fastboot mode.
// Implementations only move text; interpreting responses is up to the caller.
type Channel interface {
	// Submit sends a command and returns whatever the device (or the tool
	// talking to it) answered, verbatim. ErrTimeout is returned with any
	// partial output if no answer arrived in time.
	Submit(ctx context.Context, args ...string) (string, error)
}

// Locator reports whether a device is currently attached.
type Locator interface {
	Present(ctx context.Context) (bool, error)
}

var (
	ErrTimeout        = errors.New("device timeout")
	ErrDeviceNotFound = errors.New("device not found")
	ErrToolMissing    = errors.New("host tool unavailable")
)

// ErrNoAnswer means the tool died before the device answered, e.g. it was
// killed by a signal. The command may be sent again.
var ErrNoAnswer = errors.New("no answer from device")

// PollInterval is the initial delay between presence checks in WaitPresent.
var PollInterval = 500 * time.Millisecond

// WaitPresent polls loc until a device shows up. If none does within timeout,
// an error wrapping ErrDeviceNotFound is returned.
func WaitPresent(ctx context.Context, loc Locator, timeout time.Duration) error {
	if timeout <= 0 {
		ok, err := loc.Present(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
		}
		if !ok {
			return ErrDeviceNotFound
		}
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = PollInterval
	eb.MaxInterval = 5 * time.Second
	eb.MaxElapsedTime = timeout

	var last error
	op := func() error {
		ok, err := loc.Present(ctx)
		if err != nil {
			slog.Debug("Presence check failed", "err", err)
			last = err
			return err
		}
		if !ok {
			return ErrDeviceNotFound
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(eb, ctx)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if last != nil {
			return fmt.Errorf("%w after %s: %v", ErrDeviceNotFound, timeout, last)
		}
		return fmt.Errorf("%w after %s", ErrDeviceNotFound, timeout)
	}
	return nil
}
