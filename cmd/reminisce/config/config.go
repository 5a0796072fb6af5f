// Package configcmder provides the config command for managing persistent
// reminisce configuration stored in the .reminisce/ directory.
package configcmder

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/reminisce/pkg/cliui"
	"github.com/papercomputeco/reminisce/pkg/config"
)

const configLongDesc string = `Manage persistent reminisce configuration.

Configuration is stored as config.toml in the .reminisce/ directory and provides
default values for command flags. CLI flags and REMINISCE_* environment
variables take precedence over config file values.

Keys use dotted notation matching the TOML section structure:
  storage.backend, storage.sqlite_path, storage.postgres_dsn, storage.breaker,
  api.listen, api.mcp,
  recall.min_confidence, recall.limit, analyzer.cache_threshold,
  chain.max_contexts, chain.idle_timeout, chain.compound_threshold,
  decay.expired_interval, decay.stale_after, decay.confidence_floor,
  events.provider, events.brokers, events.topic,
  client.api_target

Use subcommands to get, set, or list configuration values:
  reminisce config set <key> <value>    Set a configuration value
  reminisce config get <key>            Get a configuration value
  reminisce config list                 List all configuration values

Examples:
  reminisce config set storage.backend postgres
  reminisce config set decay.stale_after 720h
  reminisce config get recall.min_confidence
  reminisce config list`

const configShortDesc string = "Manage persistent reminisce configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}

func completeKeys(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) == 0 {
		return config.ValidConfigKeys(), cobra.ShellCompDirectiveNoFileComp
	}
	return nil, cobra.ShellCompDirectiveNoFileComp
}

func checkKey(key string) error {
	if !config.IsValidConfigKey(key) {
		return fmt.Errorf("unknown config key: %q\n\nValid keys: %s",
			key, strings.Join(config.ValidConfigKeys(), ", "))
	}
	return nil
}

func printTarget(w io.Writer, cfger *config.Configer) {
	if target := cfger.GetTarget(); target != "" {
		fmt.Fprintf(w, "\n  %s %s\n\n",
			cliui.KeyStyle.Render("Config file:"),
			cliui.DimStyle.Render(target),
		)
		return
	}
	fmt.Fprintf(w, "\n  %s\n\n", cliui.DimStyle.Render("No config file found. Using defaults."))
}
