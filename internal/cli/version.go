package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/groexpert13/sheet/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version.FullInfo())
			return nil
		},
	}
}
