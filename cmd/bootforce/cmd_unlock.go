package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bootforce/bootforce/pkg/classify"
	"github.com/bootforce/bootforce/pkg/devices"
	"github.com/bootforce/bootforce/pkg/unlock"
)

var (
	unlockIMEI            string
	unlockQuickstart      bool
	unlockDebug           bool
	unlockUnknownFail     bool
	unlockAutoReboot      bool
	unlockAutoRebootCount uint64
	unlockSaveEvery       uint64
	unlockRetries         int
	unlockTimeout         time.Duration
	unlockDeviceTimeout   time.Duration
	unlockInterval        time.Duration
	unlockStrategy        string
	unlockRebootOnFinish  bool
)

func registerUnlockFlags(f *pflag.FlagSet) {
	f.StringVarP(&unlockIMEI, "imei", "i", "", "IMEI of the device; asked for interactively if not set")
	f.BoolVarP(&unlockQuickstart, "quickstart", "q", false, "Do not ask for confirmation before starting")
	f.BoolVarP(&unlockDebug, "debug", "d", false, "Log every raw device response")
	f.BoolVar(&unlockUnknownFail, "unknown-fail", true, "Stop on device responses that are not recognised")
	f.BoolVar(&unlockAutoReboot, "autoreboot", false, "Reboot into fastboot mode when bootloader protection triggers")
	f.Uint64Var(&unlockAutoRebootCount, "autoreboot-count", 4, "With --autoreboot, also reboot preventively every N attempts (0 to disable)")
	f.Uint64Var(&unlockSaveEvery, "save-every", 200, "Save progress every N attempts")
	f.IntVar(&unlockRetries, "retries", 3, "Times to retry a code the device did not answer")
	f.DurationVar(&unlockTimeout, "timeout", 30*time.Second, "Time to wait for the device to answer a command")
	f.DurationVar(&unlockDeviceTimeout, "device-timeout", 2*time.Minute, "Time to wait for the device to (re)appear")
	f.DurationVar(&unlockInterval, "interval", 0, "Minimum time between two commands")
	f.StringVar(&unlockStrategy, "strategy", "", "Override the code derivation strategy of the device kind")
	f.BoolVar(&unlockRebootOnFinish, "reboot-on-finish", true, "Reboot the device once the code is found")
}

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Search for the bootloader unlock code",
	Long:  "Submits candidate codes to the attached device in fastboot mode until one is accepted. You _will_ lose all data stored on the device once it unlocks.",
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := loadSession(cmd)
		if err != nil {
			return err
		}
		strategy, err := strategyFor(sess)
		if err != nil {
			return err
		}
		kind, _ := devices.ForName(sess.Kind)

		app, err := newApp(sess)
		if err != nil {
			return err
		}
		defer app.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		slog.Info("Waiting for device in fastboot mode...", "kind", kind, "detect", sess.Detect)
		if err := devices.WaitPresent(ctx, app.locator, sess.DeviceTimeout); err != nil {
			return fmt.Errorf("%w (reboot it with 'adb reboot bootloader' and check the USB connection)", err)
		}
		slog.Info("Found device", "kind", kind)

		if !sess.Quickstart {
			fmt.Println("WARNING: unlocking the bootloader erases all data on the device.")
			ok, err := confirm(ctx, "Start searching for the unlock code?")
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("cancelled by user")
			}
		}

		d := &unlock.Driver{
			Config:     sess,
			Kind:       kind,
			Channel:    app.tool,
			Locator:    app.locator,
			Strategy:   strategy,
			Classifier: classify.Default().WithOverrides(sess.Markers),
			Store:      storeFor(sess),
			Prompt:     promptIMEI,
		}
		rep, err := d.Run(ctx)
		if rep != nil {
			slog.Info("Session ended",
				"state", rep.State,
				"attempts", humanize.Comma(int64(rep.Attempts)),
				"recoveries", rep.Recoveries,
				"elapsed", rep.Elapsed.Round(time.Second))
			if rep.State == unlock.Succeeded {
				fmt.Printf("Unlock code: %s\n", rep.Code)
				fmt.Printf("Saved in %s\n", d.Store.ResultPath())
			}
		}
		if err != nil {
			if rep != nil && rep.State == unlock.Aborted && rep.Counter > 0 {
				slog.Info("Progress saved, run again to resume", "path", d.Store.ProgressPath(), "counter", rep.Counter)
			}
			return err
		}
		return nil
	},
}
