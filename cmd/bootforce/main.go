package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bootforce/bootforce/pkg/devices"
	"github.com/bootforce/bootforce/pkg/unlock"
)

var rootCmd = &cobra.Command{
	Use:   "bootforce",
	Short: "bootforce finds the bootloader unlock code of Huawei devices",
	Long: `Submits candidate unlock codes to a Huawei/Honor device in fastboot mode
until the bootloader accepts one. Progress is saved regularly, an interrupted
run resumes where it left off.

Unlocking the bootloader erases all data on the device. bootforce comes with
ABSOLUTELY NO WARRANTY.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verboseLog {
			slog.SetLogLoggerLevel(slog.LevelDebug)
		}
	},
}

var verboseLog bool

// Process exit codes.
const (
	exitOK          = 0
	exitError       = 1
	exitPolicy      = 2
	exitNoDevice    = 3
	exitInterrupted = 4
)

func main() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().BoolVarP(&verboseLog, "verbose", "v", false, "Enable verbose debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: $XDG_CONFIG_HOME/bootforce/config.toml)")
	rootCmd.PersistentFlags().StringVar(&flagKind, "kind", "", "Device kind (one of 'mate30pro', 'huawei')")
	rootCmd.PersistentFlags().StringVar(&flagStateDir, "state-dir", "", "Directory holding progress and result files (default: $XDG_DATA_HOME/bootforce/<kind>)")
	rootCmd.PersistentFlags().StringVar(&flagFastboot, "fastboot", "", "Path to the fastboot binary")
	rootCmd.PersistentFlags().StringVar(&flagADB, "adb", "", "Path to the adb binary")
	rootCmd.PersistentFlags().StringVarP(&flagSerial, "serial", "s", "", "Serial of the device to use when several are attached")
	rootCmd.PersistentFlags().StringVar(&flagDetect, "detect", "", "How to detect the device: 'fastboot' (fastboot devices) or 'usb' (libusb)")
	registerUnlockFlags(unlockCmd.Flags())
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	resetCmd.Flags().BoolVar(&resetAll, "all", false, "Also delete a recorded unlock code")

	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(detectIMEICmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var ue *unlock.UnclassifiedError
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, unlock.ErrInterrupted), errors.Is(err, context.Canceled):
		return exitInterrupted
	case errors.Is(err, devices.ErrDeviceNotFound):
		return exitNoDevice
	case errors.As(err, &ue), errors.Is(err, unlock.ErrProtection), errors.Is(err, unlock.ErrExhausted):
		return exitPolicy
	}
	return exitError
}
