// Package config holds the session configuration. A Session is assembled
// once at startup from defaults, an optional TOML file and command line
// flags, and passed by value from then on.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/adrg/xdg"

	"github.com/bootforce/bootforce/pkg/classify"
	"github.com/bootforce/bootforce/pkg/imei"
)

const appName = "bootforce"

// Presence detectors.
const (
	DetectFastboot = "fastboot"
	DetectUSB      = "usb"
)

type Session struct {
	// IMEI skips the interactive prompt when set.
	IMEI       string `toml:"imei"`
	Quickstart bool   `toml:"quickstart"`
	Debug      bool   `toml:"debug"`
	// UnknownFail aborts on a response the classifier does not know.
	UnknownFail bool `toml:"unknown_fail"`

	AutoReboot bool `toml:"autoreboot"`
	// AutoRebootCount is the number of attempts between preventive reboots
	// when AutoReboot is set. Zero only reboots once protection triggers.
	AutoRebootCount uint64 `toml:"autoreboot_count"`

	SaveEvery      uint64        `toml:"save_every"`
	TimeoutRetries int           `toml:"timeout_retries"`
	CommandTimeout time.Duration `toml:"command_timeout"`
	DeviceTimeout  time.Duration `toml:"device_timeout"`
	RebootSettle   time.Duration `toml:"reboot_settle"`
	Interval       time.Duration `toml:"interval"`

	Kind     string `toml:"kind"`
	Strategy string `toml:"strategy"`
	StateDir string `toml:"state_dir"`

	Fastboot       string `toml:"fastboot"`
	ADB            string `toml:"adb"`
	Serial         string `toml:"serial"`
	Detect         string `toml:"detect"`
	RebootOnFinish bool   `toml:"reboot_on_finish"`

	Markers classify.Markers `toml:"markers"`
}

func Default() Session {
	return Session{
		UnknownFail:     true,
		AutoRebootCount: 4,
		SaveEvery:       200,
		TimeoutRetries:  3,
		CommandTimeout:  30 * time.Second,
		DeviceTimeout:   2 * time.Minute,
		RebootSettle:    3 * time.Second,
		Kind:            "mate30pro",
		Fastboot:        "fastboot",
		ADB:             "adb",
		Detect:          DetectFastboot,
		RebootOnFinish:  true,
	}
}

// DefaultPath is where Load looks when no explicit path is given.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, appName, "config.toml")
}

// Load decodes the TOML file at path over the defaults. A missing file is not
// an error.
func Load(path string) (Session, error) {
	s := Default()
	if path == "" {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	md, err := toml.DecodeFile(path, &s)
	if err != nil {
		return s, fmt.Errorf("could not parse config %s: %w", path, err)
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		return s, fmt.Errorf("unknown keys in config %s: %v", path, undec)
	}
	return s, nil
}

// StateDirectory returns where progress for this session is kept.
func (s Session) StateDirectory() string {
	if s.StateDir != "" {
		return s.StateDir
	}
	return filepath.Join(xdg.DataHome, appName, s.Kind)
}

func (s Session) Validate() error {
	if s.IMEI != "" {
		if err := imei.Validate(s.IMEI); err != nil {
			return fmt.Errorf("configured IMEI: %w", err)
		}
	}
	if s.SaveEvery == 0 {
		return fmt.Errorf("save_every must be positive")
	}
	if s.TimeoutRetries < 0 {
		return fmt.Errorf("timeout_retries must not be negative")
	}
	if s.CommandTimeout <= 0 {
		return fmt.Errorf("command_timeout must be positive")
	}
	if s.DeviceTimeout < 0 || s.RebootSettle < 0 || s.Interval < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	switch s.Detect {
	case DetectFastboot, DetectUSB:
	default:
		return fmt.Errorf("detect must be %q or %q, got %q", DetectFastboot, DetectUSB, s.Detect)
	}
	if s.Fastboot == "" {
		return fmt.Errorf("fastboot path must be set")
	}
	return nil
}
