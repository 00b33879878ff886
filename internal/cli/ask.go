package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

type askOptions struct {
	InputFile string
}

func newAskCmd(opts *Options) *cobra.Command {
	aopts := &askOptions{}
	cmd := &cobra.Command{
		Use:   "ask [question...]",
		Short: "Send one question and print the streamed answer",
		RunE: func(cmd *cobra.Command, args []string) error {
			question, err := readInput(args, aopts.InputFile, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if strings.TrimSpace(question) == "" {
				return fmt.Errorf("question is required")
			}
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()
			return turn(cmd.Context(), s.client, cmd.OutOrStdout(), question)
		},
	}
	cmd.Flags().StringVarP(&aopts.InputFile, "file", "F", "", "question file, use -F- for stdin")
	return cmd
}

func readInput(args []string, inputFile string, stdin io.Reader) (string, error) {
	if inputFile != "" && len(args) > 0 {
		return "", fmt.Errorf("question args and -F are mutually exclusive")
	}
	if inputFile == "" {
		if len(args) == 0 {
			return "", fmt.Errorf("missing question: provide args or -F")
		}
		return strings.Join(args, " "), nil
	}
	if inputFile == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(inputFile)
	if err != nil {
		return "", fmt.Errorf("read question file: %w", err)
	}
	return string(data), nil
}
