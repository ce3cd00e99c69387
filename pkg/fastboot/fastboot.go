// Package fastboot talks to devices through the Android platform-tools
// binaries. It implements devices.Channel and devices.Locator by running the
// fastboot (or adb) executable and capturing its output verbatim.
package fastboot

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
	"time"

	"github.com/bootforce/bootforce/pkg/devices"
)

const DefaultTimeout = 30 * time.Second

// Tool runs a platform-tools binary. The zero value runs "fastboot" from
// PATH against whichever device it finds.
type Tool struct {
	// Path to the binary, "fastboot" if empty.
	Path string
	// Serial selects a device with -s if set.
	Serial string
	// Timeout bounds every invocation, DefaultTimeout if zero.
	Timeout time.Duration
}

func (t *Tool) path() string {
	if t.Path == "" {
		return "fastboot"
	}
	return t.Path
}

func (t *Tool) timeout() time.Duration {
	if t.Timeout <= 0 {
		return DefaultTimeout
	}
	return t.Timeout
}

// Submit runs the tool with args and returns its combined stdout and stderr.
// A nonzero exit status is not an error, the output still describes what the
// device said. A tool killed by a signal yields devices.ErrNoAnswer. The invocation is not aborted when ctx is cancelled, only when
// the timeout expires.
func (t *Tool) Submit(ctx context.Context, args ...string) (string, error) {
	var full []string
	if t.Serial != "" {
		full = append(full, "-s", t.Serial)
	}
	full = append(full, args...)
	return t.run(context.WithoutCancel(ctx), full...)
}

func (t *Tool) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout())
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, t.path(), args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = time.Second
	detach(cmd)

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return out.String(), fmt.Errorf("%s %s: %w after %s", t.path(), strings.Join(args, " "), devices.ErrTimeout, t.timeout())
	}
	if err == nil {
		return out.String(), nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if signaled(ee) {
			return out.String(), fmt.Errorf("%s %s: %w (%v)", t.path(), strings.Join(args, " "), devices.ErrNoAnswer, err)
		}
		return out.String(), nil
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return "", fmt.Errorf("%w: %s: %v", devices.ErrToolMissing, t.path(), err)
	}
	if ctx.Err() != nil {
		return out.String(), ctx.Err()
	}
	return out.String(), fmt.Errorf("running %s: %w", t.path(), err)
}

// Device is an entry of `fastboot devices` or `adb devices`.
type Device struct {
	Serial string
	State  string
}

// Devices lists attached devices. Unlike Submit, it honours cancellation of
// ctx.
func (t *Tool) Devices(ctx context.Context) ([]Device, error) {
	out, err := t.run(ctx, "devices")
	if err != nil {
		return nil, err
	}
	return parseDevices(out), nil
}

func parseDevices(out string) []Device {
	var res []Device
	s := bufio.NewScanner(strings.NewReader(out))
	for s.Scan() {
		fields := strings.Fields(s.Text())
		if len(fields) < 2 {
			continue
		}
		switch fields[1] {
		case "fastboot", "device", "recovery", "unauthorized", "offline":
			res = append(res, Device{Serial: fields[0], State: fields[1]})
		}
	}
	return res
}

// Present implements devices.Locator. With Serial set, only that device
// counts.
func (t *Tool) Present(ctx context.Context) (bool, error) {
	devs, err := t.Devices(ctx)
	if err != nil {
		return false, err
	}
	for _, d := range devs {
		if d.State != "fastboot" && d.State != "device" {
			continue
		}
		if t.Serial == "" || d.Serial == t.Serial {
			return true, nil
		}
	}
	return false, nil
}
