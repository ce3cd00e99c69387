package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bootforce/bootforce/pkg/adb"
	"github.com/bootforce/bootforce/pkg/devices"
	"github.com/bootforce/bootforce/pkg/fastboot"
)

var detectIMEICmd = &cobra.Command{
	Use:   "detect-imei",
	Short: "Read the IMEI of a booted device over adb",
	Long:  "Reads the IMEI and model of a device booted into Android with USB debugging enabled. Some firmwares hide the IMEI from adb, in which case it has to be entered manually.",
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := loadSession(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		c := &adb.Client{Tool: &fastboot.Tool{Path: sess.ADB, Serial: sess.Serial, Timeout: sess.CommandTimeout}}

		model, err := c.Model(ctx)
		if err != nil {
			slog.Warn("Could not read model", "err", err)
		} else {
			kind := devices.ForModel(model)
			slog.Info("Found device", "model", model, "kind", kind)
		}

		id, err := c.DetectIMEI(ctx)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}
