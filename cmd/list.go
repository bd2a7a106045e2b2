package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newListCmd(sess *session, flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list [option=value...]",
		Short: "List the steps and options of the plan",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := sess.ctx(cmd.Context())
			_, options := splitArgs(args)

			plan, err := loadPlan(ctx, sess.cfg, flags.script, options)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			maxNameLen := 0
			for _, name := range plan.Order {
				if len(name) > maxNameLen {
					maxNameLen = len(name)
				}
			}

			lineFmt := fmt.Sprintf(" * %%-%ds %%s\n", maxNameLen+3)
			fmt.Fprintln(out, "Available steps:")
			for _, name := range plan.Order {
				fmt.Fprintf(out, lineFmt, name, plan.Steps[name].Desc)
			}

			if len(plan.Options) == 0 {
				return nil
			}

			names := make([]string, 0, len(plan.Options))
			maxNameLen = 0
			for name := range plan.Options {
				names = append(names, name)
				if len(name) > maxNameLen {
					maxNameLen = len(name)
				}
			}
			sort.Strings(names)

			lineFmt = fmt.Sprintf(" * %%-%ds %%s (default: %%q)\n", maxNameLen+3)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Options:")
			for _, name := range names {
				opt := plan.Options[name]
				fmt.Fprintf(out, lineFmt, name, opt.Help, opt.Default())
			}

			return nil
		},
	}
}
