package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/groexpert13/sheet/internal/config"
	"github.com/groexpert13/sheet/internal/diagnostic"
)

func newStatusCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarise the diagnostic answers that are sent as context",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.settings()
			if err != nil {
				return err
			}
			raw, err := diagnostic.Load(cfg.DiagnosticPath)
			if err != nil {
				return err
			}
			data, err := diagnostic.Decode(raw)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), cfg, data)
			return nil
		},
	}
}

func printStatus(out io.Writer, cfg config.Config, d diagnostic.Data) {
	fmt.Fprintf(out, "relay:      %s\n", cfg.RelayURL)
	fmt.Fprintf(out, "user:       %s\n", firstNonEmpty(cfg.User, "anonymous"))
	fmt.Fprintf(out, "diagnostic: %s\n\n", cfg.DiagnosticPath)

	fmt.Fprintf(out, "intro:      %s\n", firstNonEmpty(strings.TrimSpace(d.Intro.Name+" "+d.Intro.Activity), "-"))
	fmt.Fprintln(out, "competency:")
	for _, a := range d.Competency.Axes() {
		fmt.Fprintf(out, "  %-13s %4.1f %s\n", a.Name, a.Score, strings.Repeat("#", int(a.Score)))
	}

	tools := []struct {
		name  string
		items []string
	}{
		{"packaging", d.Tools.Packaging},
		{"paidTraffic", d.Tools.PaidTraffic},
		{"content", d.Tools.Content},
		{"funnel", d.Tools.Funnel},
		{"technical", d.Tools.Technical},
		{"sales", d.Tools.Sales},
		{"product", d.Tools.Product},
	}
	fmt.Fprintln(out, "tools:")
	for _, t := range tools {
		fmt.Fprintf(out, "  %-13s %d selected\n", t.name, len(t.items))
	}
	if counts := priorityCounts(d.Tools.Priorities); len(counts) > 0 {
		fmt.Fprintf(out, "priorities: %s\n", counts)
	}
	fmt.Fprintf(out, "plan:       %d actions\n", len(d.Plan))
}

func priorityCounts(p map[string]diagnostic.Priority) string {
	if len(p) == 0 {
		return ""
	}
	counts := map[diagnostic.Priority]int{}
	for _, v := range p {
		counts[v]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, counts[diagnostic.Priority(k)])
	}
	return strings.Join(parts, " ")
}
