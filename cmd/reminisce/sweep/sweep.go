// Package sweepcmder provides the sweep command, which runs the maintenance
// passes once against the configured store.
package sweepcmder

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/papercomputeco/reminisce/pkg/bootstrap"
	"github.com/papercomputeco/reminisce/pkg/cliui"
	"github.com/papercomputeco/reminisce/pkg/config"
	"github.com/papercomputeco/reminisce/pkg/decay"
	"github.com/papercomputeco/reminisce/pkg/logger"
	"github.com/papercomputeco/reminisce/pkg/memory"
)

type SweepCommander struct {
	flags config.FlagSet

	backend       string
	sqlitePath    string
	postgresDSN   string
	mongoURI      string
	mongoDatabase string

	skipStale bool

	configDir string
	debug     bool
	viper     *viper.Viper
	logger    *zap.Logger
}

const sweepLongDesc string = `Run the maintenance passes once.

Deletes or downgrades expired memories, deletes low-confidence memories
nobody has recalled in a long time, and recomputes statistics. This is what
"reminisce serve" does on a schedule; run it from cron when no server is
running against the store.

Examples:
  reminisce sweep
  reminisce sweep --backend postgres --postgres "postgres://localhost/reminisce"
  reminisce sweep --skip-stale`

const sweepShortDesc string = "Run the maintenance passes once"

var sweepFlags = []string{
	config.FlagBackend,
	config.FlagSQLite,
	config.FlagPostgres,
	config.FlagMongoURI,
	config.FlagMongoDatabase,
}

func NewSweepCmd() *cobra.Command {
	cmder := &SweepCommander{
		flags: config.Flags,
	}

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: sweepShortDesc,
		Long:  sweepLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")

			v, err := config.InitViper(cmder.configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			config.BindRegisteredFlags(v, cmd, cmder.flags, sweepFlags)
			cmder.viper = v
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmder.debug, _ = cmd.Flags().GetBool("debug")
			return cmder.run(cmd.Context(), cmd.OutOrStdout())
		},
	}

	config.AddStringFlag(cmd, cmder.flags, config.FlagBackend, &cmder.backend)
	config.AddStringFlag(cmd, cmder.flags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, cmder.flags, config.FlagPostgres, &cmder.postgresDSN)
	config.AddStringFlag(cmd, cmder.flags, config.FlagMongoURI, &cmder.mongoURI)
	config.AddStringFlag(cmd, cmder.flags, config.FlagMongoDatabase, &cmder.mongoDatabase)
	cmd.Flags().BoolVar(&cmder.skipStale, "skip-stale", false, "Skip the stale memory pass")

	return cmd
}

func (c *SweepCommander) run(ctx context.Context, w io.Writer) error {
	c.logger = logger.NewLogger(c.debug)
	defer func() { _ = c.logger.Sync() }()

	cfg, err := config.FromViper(c.viper)
	if err != nil {
		return err
	}

	driver, err := bootstrap.OpenDriver(ctx, cfg.Storage, c.configDir, c.logger)
	if err != nil {
		return err
	}
	defer driver.Close()

	dc := bootstrap.StackOptions(cfg, nil, c.logger).Decay
	dc.Driver = driver
	dc.Logger = c.logger.Named("decay")
	scheduler, err := decay.NewScheduler(&dc)
	if err != nil {
		return err
	}

	return Sweep(ctx, w, scheduler, c.skipStale)
}

// Sweep runs the expired pass, the stale pass unless skipped, and a stats
// refresh, reporting each step to w.
func Sweep(ctx context.Context, w io.Writer, scheduler *decay.Scheduler, skipStale bool) error {
	fmt.Fprintln(w)

	var expired decay.SweepResult
	err := cliui.Step(w, "Sweeping expired memories", func() error {
		var err error
		expired, err = scheduler.RunExpiredSweep(ctx)
		return err
	})
	if err != nil {
		return err
	}

	var stale decay.SweepResult
	if !skipStale {
		err = cliui.Step(w, "Deleting stale memories", func() error {
			var err error
			stale, err = scheduler.RunStaleSweep(ctx)
			return err
		})
		if err != nil {
			return err
		}
	}

	var summary *memory.Summary
	err = cliui.Step(w, "Refreshing statistics", func() error {
		var err error
		summary, err = scheduler.RefreshStats(ctx)
		return err
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "\n  %s %s  %s %s  %s %s\n",
		cliui.KeyStyle.Render("deleted"), cliui.ValueStyle.Render(fmt.Sprint(expired.Deleted+stale.Deleted)),
		cliui.KeyStyle.Render("downgraded"), cliui.ValueStyle.Render(fmt.Sprint(expired.Downgraded)),
		cliui.KeyStyle.Render("remaining"), cliui.ValueStyle.Render(fmt.Sprint(summary.Total)),
	)
	fmt.Fprintln(w)
	return nil
}
