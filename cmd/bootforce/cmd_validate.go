package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bootforce/bootforce/pkg/imei"
)

var validateCmd = &cobra.Command{
	Use:   "validate [imei]",
	Short: "Check an IMEI's length and Luhn checksum",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := imei.Parse(args[0])
		if err == nil {
			fmt.Printf("%s is a valid IMEI\n", id)
			return nil
		}
		if errors.Is(err, imei.ErrChecksum) {
			body := args[0][:imei.Length-1]
			if d, derr := imei.CheckDigit(body); derr == nil {
				fmt.Printf("Check digit should be %c (%s%c)\n", d, body, d)
			}
		}
		return err
	},
}
