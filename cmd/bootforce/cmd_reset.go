package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

var (
	resetYes bool
	resetAll bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete saved progress",
	Long: `Deletes the progress file of the selected device kind, so the next unlock
run starts from the first candidate. A recorded unlock code is kept and the
next run only reports it; pass --all to delete it as well.`,
	Args: cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := loadSession(cmd)
		if err != nil {
			return err
		}
		store := storeFor(sess)

		question := fmt.Sprintf("Delete progress in %s?", store.Dir)
		if resetAll {
			res, err := store.LoadResult()
			if err != nil {
				return err
			}
			if res != nil {
				question = fmt.Sprintf("Delete progress and the recorded unlock code %s in %s?", res.Code, store.Dir)
			}
		}
		if !resetYes {
			ok, err := confirm(cmd.Context(), question)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("cancelled by user")
			}
		}

		if resetAll {
			err = store.Clear()
		} else {
			err = store.Reset()
		}
		if err != nil {
			return err
		}
		slog.Info("Progress deleted", "dir", store.Dir, "result", resetAll)
		return nil
	},
}
