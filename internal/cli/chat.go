package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/groexpert13/sheet/internal/chatclient"
)

func newChatCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat; /reset clears the history, /quit exits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			out := cmd.OutOrStdout()
			if n := len(s.client.Messages()); n > 0 {
				fmt.Fprintf(out, "(restored %d messages, /reset to start over)\n", n)
			}
			scanner := bufio.NewScanner(cmd.InOrStdin())
			scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
			for {
				fmt.Fprint(out, "> ")
				if !scanner.Scan() {
					fmt.Fprintln(out)
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				switch line {
				case "":
					continue
				case "/quit", "/exit":
					return nil
				case "/reset":
					if err := s.client.Reset(cmd.Context()); err != nil {
						return err
					}
					fmt.Fprintln(out, "history cleared")
					continue
				}
				if err := turn(cmd.Context(), s.client, out, line); err != nil && !errors.Is(err, chatclient.ErrBlankMessage) {
					return err
				}
			}
		},
	}
}
