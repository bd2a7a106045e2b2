package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeebuscrossaint/ass/pkg"
	"github.com/jeebuscrossaint/ass/pkg/setup"
)

func newForgetCmd(sess *session) *cobra.Command {
	return &cobra.Command{
		Use:   "forget [STEP...]",
		Short: "Forget that steps completed so the next run executes them again",
		Long:  "Removes the completion records of the named steps. Without names, every record is removed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			stamps, err := setup.LoadStamps(sess.cfg.StateFile)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			forgotten := args
			if len(forgotten) == 0 {
				forgotten = stamps.Names()
			}

			stamps.Forget(args...)
			err = stamps.Save()
			if err != nil {
				return err
			}

			if len(forgotten) == 0 {
				fmt.Fprintln(out, "No completed steps recorded")
				return nil
			}

			for _, name := range forgotten {
				pkg.PrintTask(out, fmt.Sprintf("forgot %s", name))
			}
			return nil
		},
	}
}
