package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/bootforce/bootforce/pkg/devices"
	"github.com/bootforce/bootforce/pkg/fastboot"
	"github.com/bootforce/bootforce/pkg/usbscan"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List attached devices in fastboot and adb mode",
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := loadSession(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		var errs error
		found := 0

		fb := &fastboot.Tool{Path: sess.Fastboot, Timeout: sess.CommandTimeout}
		if devs, err := fb.Devices(ctx); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("fastboot: %w", err))
		} else {
			for _, d := range devs {
				fmt.Printf("fastboot  %-20s %s\n", d.Serial, d.State)
				found++
			}
		}

		ab := &fastboot.Tool{Path: sess.ADB, Timeout: sess.CommandTimeout}
		if devs, err := ab.Devices(ctx); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("adb: %w", err))
		} else {
			for _, d := range devs {
				fmt.Printf("adb       %-20s %s\n", d.Serial, d.State)
				found++
			}
		}

		scanner, err := usbscan.New()
		if err != nil {
			slog.Debug("USB scan unavailable", "err", err)
		} else {
			defer scanner.Close()
			matches, err := scanner.Scan(ctx)
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("usb: %w", err))
			}
			for _, m := range matches {
				fmt.Printf("usb       %s\n", m)
				found++
			}
		}

		if found == 0 {
			if errs != nil {
				return fmt.Errorf("%w: %s", devices.ErrDeviceNotFound, strings.TrimSpace(errs.Error()))
			}
			return devices.ErrDeviceNotFound
		}
		if errs != nil {
			slog.Warn("Some detectors failed", "err", errs)
		}
		return nil
	},
}
