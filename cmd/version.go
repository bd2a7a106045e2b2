package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is set at build time through -ldflags
var version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ass %s\n", version)
		},
	}
}
