// Package reminiscecmder
package reminiscecmder

import (
	"github.com/spf13/cobra"

	configcmder "github.com/papercomputeco/reminisce/cmd/reminisce/config"
	emitcmder "github.com/papercomputeco/reminisce/cmd/reminisce/emit"
	servecmder "github.com/papercomputeco/reminisce/cmd/reminisce/serve"
	statscmder "github.com/papercomputeco/reminisce/cmd/reminisce/stats"
	sweepcmder "github.com/papercomputeco/reminisce/cmd/reminisce/sweep"
	versioncmder "github.com/papercomputeco/reminisce/cmd/version"
)

const reminisceLongDesc string = `Reminisce is a semantic memory for tool results.

It remembers expensive tool outputs, recalls them by fingerprint or by
pattern, invalidates them when the entities they depend on change, and
decays them over time.

Commands:
  reminisce serve      Run the API, MCP tools, event consumer and decay scheduler
  reminisce sweep      Run the maintenance passes once
  reminisce emit       Publish an entity change event
  reminisce stats      Show statistics from a running server
  reminisce config     Manage persistent configuration`

const reminisceShortDesc string = "Reminisce - semantic tool-result memory"

func NewReminisceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "reminisce",
		Short:        reminisceShortDesc,
		Long:         reminisceLongDesc,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to the .reminisce/ config directory")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(sweepcmder.NewSweepCmd())
	cmd.AddCommand(emitcmder.NewEmitCmd())
	cmd.AddCommand(statscmder.NewStatsCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
