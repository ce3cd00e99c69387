package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/bootforce/bootforce/pkg/codegen"
	"github.com/bootforce/bootforce/pkg/config"
	"github.com/bootforce/bootforce/pkg/devices"
	"github.com/bootforce/bootforce/pkg/fastboot"
	"github.com/bootforce/bootforce/pkg/imei"
	"github.com/bootforce/bootforce/pkg/progress"
	"github.com/bootforce/bootforce/pkg/unlock"
	"github.com/bootforce/bootforce/pkg/usbscan"
)

var (
	configPath   string
	flagKind     string
	flagStateDir string
	flagFastboot string
	flagADB      string
	flagSerial   string
	flagDetect   string
)

// loadSession builds the session from defaults, the config file and any flag
// set on the command line, in that order.
func loadSession(cmd *cobra.Command) (config.Session, error) {
	s, err := config.Load(configPath)
	if err != nil {
		return s, err
	}

	overrides := map[string]func(){
		"kind":             func() { s.Kind = flagKind },
		"state-dir":        func() { s.StateDir = flagStateDir },
		"fastboot":         func() { s.Fastboot = flagFastboot },
		"adb":              func() { s.ADB = flagADB },
		"serial":           func() { s.Serial = flagSerial },
		"detect":           func() { s.Detect = flagDetect },
		"imei":             func() { s.IMEI = unlockIMEI },
		"quickstart":       func() { s.Quickstart = unlockQuickstart },
		"debug":            func() { s.Debug = unlockDebug },
		"unknown-fail":     func() { s.UnknownFail = unlockUnknownFail },
		"autoreboot":       func() { s.AutoReboot = unlockAutoReboot },
		"autoreboot-count": func() { s.AutoRebootCount = unlockAutoRebootCount },
		"save-every":       func() { s.SaveEvery = unlockSaveEvery },
		"retries":          func() { s.TimeoutRetries = unlockRetries },
		"timeout":          func() { s.CommandTimeout = unlockTimeout },
		"device-timeout":   func() { s.DeviceTimeout = unlockDeviceTimeout },
		"interval":         func() { s.Interval = unlockInterval },
		"strategy":         func() { s.Strategy = unlockStrategy },
		"reboot-on-finish": func() { s.RebootOnFinish = unlockRebootOnFinish },
	}
	for name, apply := range overrides {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}

	if _, err := devices.ForName(s.Kind); err != nil {
		return s, err
	}
	return s, s.Validate()
}

func strategyFor(s config.Session) (codegen.Strategy, error) {
	kind, err := devices.ForName(s.Kind)
	if err != nil {
		return nil, err
	}
	name := s.Strategy
	if name == "" {
		name = kind.Description().Strategy
	}
	return codegen.ForName(name)
}

func storeFor(s config.Session) *progress.Store {
	return progress.New(s.StateDirectory())
}

type desktopApp struct {
	tool    *fastboot.Tool
	scanner *usbscan.Scanner
	locator devices.Locator
}

func newApp(s config.Session) (*desktopApp, error) {
	a := &desktopApp{
		tool: &fastboot.Tool{
			Path:    s.Fastboot,
			Serial:  s.Serial,
			Timeout: s.CommandTimeout,
		},
	}
	a.locator = a.tool
	if s.Detect == config.DetectUSB {
		scanner, err := usbscan.New()
		if err != nil {
			return nil, err
		}
		a.scanner = scanner
		a.locator = scanner
	}
	return a, nil
}

func (a *desktopApp) Close() error {
	if a.scanner != nil {
		if err := a.scanner.Close(); err != nil {
			return fmt.Errorf("when closing USB context: %w", err)
		}
	}
	return nil
}

// runPrompt runs p until it returns or ctx is done. promptui owns the
// terminal while it runs and reports Ctrl-C itself as ErrInterrupt.
func runPrompt(ctx context.Context, p *promptui.Prompt) (string, error) {
	type answer struct {
		s   string
		err error
	}
	c := make(chan answer, 1)
	go func() {
		s, err := p.Run()
		c <- answer{s, err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case a := <-c:
		return a.s, promptErr(a.err)
	}
}

// promptErr turns a Ctrl-C inside a prompt into an interrupted run.
func promptErr(err error) error {
	if errors.Is(err, promptui.ErrInterrupt) {
		return fmt.Errorf("%w: %v", unlock.ErrInterrupted, err)
	}
	return err
}

func promptIMEI(ctx context.Context, reason error) (string, error) {
	if reason != nil {
		fmt.Printf("That IMEI is not valid: %v\n", reason)
	}
	return runPrompt(ctx, &promptui.Prompt{
		Label: "IMEI (dial *#06# or see Settings > About phone)",
		Validate: func(s string) error {
			return imei.Validate(strings.TrimSpace(s))
		},
	})
}

func confirm(ctx context.Context, question string) (bool, error) {
	_, err := runPrompt(ctx, &promptui.Prompt{
		Label:     question,
		IsConfirm: true,
	})
	if errors.Is(err, promptui.ErrAbort) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
