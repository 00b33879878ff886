package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHistoryCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Print the stored conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			out := cmd.OutOrStdout()
			msgs := s.client.Messages()
			if len(msgs) == 0 {
				fmt.Fprintf(out, "no history for %s\n", s.client.HistoryKey())
				return nil
			}
			for _, m := range msgs {
				fmt.Fprintf(out, "[%s] %s:\n%s\n\n", m.At.Local().Format("2006-01-02 15:04"), m.Role, m.Content)
			}
			return nil
		},
	}
}

func newResetCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Forget the stored conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()
			if err := s.client.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", s.client.HistoryKey())
			return nil
		},
	}
}
