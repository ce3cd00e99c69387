// Package usbscan finds devices by their USB IDs, without going through any
// host tool. It is the libusb-backed devices.Locator.
package usbscan

import (
	"context"
	"fmt"

	"github.com/google/gousb"
	"github.com/hashicorp/go-multierror"

	"github.com/bootforce/bootforce/pkg/devices"
)

type Scanner struct {
	ctx          *gousb.Context
	Descriptions []devices.Description
	// Interfaces restricts Present to devices enumerating in these modes.
	Interfaces []devices.InterfaceKind
}

// Match is a device found on the bus.
type Match struct {
	Kind      devices.Kind
	Interface devices.InterfaceKind
	VID, PID  gousb.ID
	Serial    string
}

func (m Match) String() string {
	return fmt.Sprintf("%s in %s mode (%s:%s, serial %q)", m.Kind, m.Interface, m.VID, m.PID, m.Serial)
}

func newContext() (*gousb.Context, error) {
	resC := make(chan *gousb.Context)
	errC := make(chan error)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				errC <- fmt.Errorf("%v", r)
			}
		}()

		resC <- gousb.NewContext()
	}()

	select {
	case err := <-errC:
		return nil, err
	case res := <-resC:
		return res, nil
	}
}

// New opens a libusb context. Only devices in fastboot mode count as present.
func New() (*Scanner, error) {
	ctx, err := newContext()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize USB: %w", err)
	}
	return &Scanner{
		ctx:          ctx,
		Descriptions: devices.Descriptions,
		Interfaces:   []devices.InterfaceKind{devices.Fastboot},
	}, nil
}

func (s *Scanner) Close() error {
	return s.ctx.Close()
}

// Scan returns every known device on the bus, in any mode. Errors opening
// individual devices are collected and returned alongside the matches.
func (s *Scanner) Scan(ctx context.Context) ([]Match, error) {
	type id struct{ vid, pid gousb.ID }
	seen := make(map[id]bool)

	var errs error
	var res []Match
	for _, desc := range s.Descriptions {
		for _, ik := range devices.InterfaceKinds {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			pid, ok := desc.PIDs[ik]
			if !ok || seen[id{desc.VID, pid}] {
				continue
			}
			seen[id{desc.VID, pid}] = true

			usb, err := s.ctx.OpenDeviceWithVIDPID(desc.VID, pid)
			if err != nil {
				errs = multierror.Append(errs, err)
			}
			if usb == nil {
				continue
			}
			serial, err := usb.SerialNumber()
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("reading serial of %s:%s: %w", desc.VID, pid, err))
			}
			if err := usb.Close(); err != nil {
				errs = multierror.Append(errs, err)
			}
			res = append(res, Match{
				Kind:      desc.Kind,
				Interface: ik,
				VID:       desc.VID,
				PID:       pid,
				Serial:    serial,
			})
		}
	}
	return res, errs
}

// Present implements devices.Locator.
func (s *Scanner) Present(ctx context.Context) (bool, error) {
	matches, err := s.Scan(ctx)
	for _, m := range matches {
		for _, ik := range s.Interfaces {
			if m.Interface == ik {
				return true, nil
			}
		}
	}
	return false, err
}
