// Package statscmder provides the stats command, which renders statistics
// from a running server.
package statscmder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papercomputeco/reminisce/pkg/cliui"
	"github.com/papercomputeco/reminisce/pkg/client"
	"github.com/papercomputeco/reminisce/pkg/config"
	"github.com/papercomputeco/reminisce/pkg/memory"
	"github.com/papercomputeco/reminisce/pkg/reminisce"
	"github.com/papercomputeco/reminisce/pkg/utils"
)

const summaryWidth = 48

type StatsCommander struct {
	flags config.FlagSet

	apiTarget string
	detailed  bool
	asJSON    bool

	viper *viper.Viper
}

const statsLongDesc string = `Show memory statistics from a running server.

Reports how many memories each tier holds, how trustworthy they are and how
much tool work recall has saved. --detailed adds the most used and most
recent memories and a seven day usage trend.

Examples:
  reminisce stats
  reminisce stats --detailed
  reminisce stats --json --api-target http://localhost:8090`

const statsShortDesc string = "Show memory statistics"

func NewStatsCmd() *cobra.Command {
	cmder := &StatsCommander{
		flags: config.Flags,
	}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: statsShortDesc,
		Long:  statsLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")

			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			config.BindRegisteredFlags(v, cmd, cmder.flags, []string{config.FlagAPITarget})
			cmder.viper = v
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context(), cmd.OutOrStdout())
		},
	}

	config.AddStringFlag(cmd, cmder.flags, config.FlagAPITarget, &cmder.apiTarget)
	cmd.Flags().BoolVar(&cmder.detailed, "detailed", false, "Include top and recent memories and the usage trend")
	cmd.Flags().BoolVar(&cmder.asJSON, "json", false, "Print the raw statistics as JSON")

	return cmd
}

func (c *StatsCommander) run(ctx context.Context, w io.Writer) error {
	cl, err := client.New(c.viper.GetString("client.api_target"))
	if err != nil {
		return err
	}

	stats, err := cl.Stats(ctx, c.detailed)
	if err != nil {
		return err
	}

	if c.asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	md := Markdown(stats)
	rendered, err := cliui.RenderMarkdown(md)
	if err != nil {
		// Fall back to the raw markdown, which is still readable.
		rendered = md
	}
	fmt.Fprintln(w, TierSummary(stats.ByTier))
	fmt.Fprint(w, rendered)
	return nil
}

// TierSummary renders a one-line, tier-coloured count of memories.
func TierSummary(byTier map[memory.Tier]int) string {
	parts := make([]string, 0, len(memory.AllTiers))
	for _, t := range memory.AllTiers {
		parts = append(parts, cliui.Tier(string(t))+" "+cliui.ValueStyle.Render(fmt.Sprint(byTier[t])))
	}
	return strings.Join(parts, "  ")
}

// Markdown renders stats as a markdown report.
func Markdown(s *reminisce.Stats) string {
	var b strings.Builder

	b.WriteString("# Memory stats\n\n")
	fmt.Fprintf(&b, "**%d** memories, **%d** validated, **%d** expired.\n\n", s.Total, s.Validated, s.Expired)

	b.WriteString("## Tiers\n\n| tier | memories |\n|---|---:|\n")
	for _, t := range memory.AllTiers {
		fmt.Fprintf(&b, "| %s | %d |\n", t, s.ByTier[t])
	}

	b.WriteString("\n## Confidence\n\n| bucket | memories |\n|---|---:|\n")
	fmt.Fprintf(&b, "| high (>= %.1f) | %d |\n", memory.HighConfidence, s.ByConfidence.High)
	fmt.Fprintf(&b, "| medium (>= %.1f) | %d |\n", memory.MediumConfidence, s.ByConfidence.Medium)
	fmt.Fprintf(&b, "| low | %d |\n", s.ByConfidence.Low)

	b.WriteString("\n## Performance\n\n")
	fmt.Fprintf(&b, "- hit rate: %.1f%%\n", s.Performance.HitRate*100)
	fmt.Fprintf(&b, "- average confidence: %.2f\n", s.Performance.AvgConfidence)
	fmt.Fprintf(&b, "- tool calls saved: %d\n", s.Performance.EstimatedSavings)

	writeUnits(&b, "Most used", s.TopMemories)
	writeUnits(&b, "Most recent", s.RecentMemories)

	if len(s.UsageTrend) > 0 {
		b.WriteString("\n## Usage, last 7 days\n\n| day | memories used |\n|---|---:|\n")
		for _, d := range s.UsageTrend {
			fmt.Fprintf(&b, "| %s | %d |\n", d.Date, d.Accessed)
		}
	}

	return b.String()
}

func writeUnits(b *strings.Builder, title string, units []*memory.Unit) {
	if len(units) == 0 {
		return
	}

	fmt.Fprintf(b, "\n## %s\n\n| id | type | tier | confidence | uses | summary |\n|---|---|---|---:|---:|---|\n", title)
	for _, u := range units {
		summary := strings.ReplaceAll(utils.Truncate(u.Summary, summaryWidth), "|", "/")
		fmt.Fprintf(b, "| %s | %s | %s | %.2f | %d | %s |\n",
			shortID(u.ID), u.Pattern.Type, u.Tier, u.Confidence, u.AccessCount, summary)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
