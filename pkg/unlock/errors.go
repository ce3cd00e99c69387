package unlock

import (
	"errors"
	"fmt"

	"github.com/bootforce/bootforce/pkg/codegen"
	"github.com/bootforce/bootforce/pkg/devices"
)

var (
	ErrInterrupted = errors.New("interrupted")
	ErrExhausted   = errors.New("search space exhausted without finding the unlock code")
	ErrProtection  = errors.New("bootloader protection triggered; reboot the device into fastboot mode and run again, or enable --autoreboot")
	ErrNoIMEI      = errors.New("no IMEI given")
	// ErrDeviceNotFound is devices.ErrDeviceNotFound, re-exported for callers
	// that only deal with the driver.
	ErrDeviceNotFound = devices.ErrDeviceNotFound
)

// UnclassifiedError is returned when the device answers something the
// classifier has no rule for and unknown responses are not tolerated.
type UnclassifiedError struct {
	Code     codegen.Code
	Response string
}

func (e *UnclassifiedError) Error() string {
	return fmt.Sprintf("unknown device response to code %s: %q", e.Code, e.Response)
}
