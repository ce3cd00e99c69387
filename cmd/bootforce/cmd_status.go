package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/bootforce/bootforce/pkg/codegen"
	"github.com/bootforce/bootforce/pkg/imei"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show saved progress and any recorded unlock code",
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := loadSession(cmd)
		if err != nil {
			return err
		}
		store := storeFor(sess)
		fmt.Printf("State directory: %s\n", store.Dir)

		res, err := store.LoadResult()
		if err != nil {
			return err
		}
		if res != nil {
			fmt.Printf("Unlock code %s found for IMEI %s %s after %s attempts (%s)\n",
				res.Code, res.IMEI, humanize.Time(res.Timestamp),
				humanize.Comma(int64(res.Attempts)),
				time.Duration(res.Elapsed*float64(time.Second)).Round(time.Second))
			return nil
		}

		rec, err := store.Load()
		if err != nil {
			return err
		}
		if rec.IMEI == "" {
			fmt.Println("No progress saved yet.")
			return nil
		}
		fmt.Printf("IMEI:        %s\n", rec.IMEI)
		fmt.Printf("Strategy:    %s\n", rec.Strategy)
		fmt.Printf("Next:        #%s (last tried %s)\n", humanize.Comma(int64(rec.Counter)), rec.LastCode)
		fmt.Printf("Attempts:    %s, %d recoveries, %d timeouts\n", humanize.Comma(int64(rec.Attempts)), rec.Recoveries, rec.Timeouts)
		fmt.Printf("Last saved:  %s\n", humanize.Time(rec.Updated))

		s, err := codegen.ForName(rec.Strategy)
		if err != nil {
			return nil
		}
		id, err := imei.Parse(rec.IMEI)
		if err != nil {
			return nil
		}
		space := s.Space(id)
		done := rec.Counter - 1
		fmt.Printf("Searched:    %s of %s (%.4f%%)\n",
			humanize.Comma(int64(done)), humanize.Comma(int64(space)),
			100*float64(done)/float64(space))
		return nil
	},
}
