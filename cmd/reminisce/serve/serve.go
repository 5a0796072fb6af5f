// Package servecmder provides the serve command, which runs the memory layer
// behind its REST and MCP surfaces.
package servecmder

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/papercomputeco/reminisce/api"
	"github.com/papercomputeco/reminisce/api/mcp"
	"github.com/papercomputeco/reminisce/pkg/bootstrap"
	"github.com/papercomputeco/reminisce/pkg/config"
	"github.com/papercomputeco/reminisce/pkg/logger"
	"github.com/papercomputeco/reminisce/pkg/metrics"
	"github.com/papercomputeco/reminisce/pkg/reminisce"
)

type ServeCommander struct {
	flags config.FlagSet

	listen        string
	backend       string
	sqlitePath    string
	postgresDSN   string
	mongoURI      string
	mongoDatabase string
	breaker       bool
	mcp           bool
	events        string
	brokers       string
	topic         string

	configDir string
	debug     bool
	viper     *viper.Viper
	logger    *zap.Logger
}

const serveLongDesc string = `Run the reminisce server.

Serves the REST API under /v1, the MCP tool server at /mcp and Prometheus
metrics at /metrics. The decay scheduler runs in the background and, when an
events provider is configured, entity change events are consumed and applied
to stored memories.

Examples:
  reminisce serve
  reminisce serve --backend memory --listen :9000
  reminisce serve --backend postgres --postgres "postgres://localhost/reminisce"
  reminisce serve --events-provider kafka --kafka-brokers localhost:9092`

const serveShortDesc string = "Run the reminisce server"

var serveFlags = []string{
	config.FlagListen,
	config.FlagBackend,
	config.FlagSQLite,
	config.FlagPostgres,
	config.FlagMongoURI,
	config.FlagMongoDatabase,
	config.FlagBreaker,
	config.FlagMCP,
	config.FlagEventsProvider,
	config.FlagKafkaBrokers,
	config.FlagKafkaTopic,
}

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{
		flags: config.Flags,
	}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")

			v, err := config.InitViper(cmder.configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			config.BindRegisteredFlags(v, cmd, cmder.flags, serveFlags)
			cmder.viper = v
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}
			return cmder.run(cmd.Context())
		},
	}

	config.AddStringFlag(cmd, cmder.flags, config.FlagListen, &cmder.listen)
	config.AddStringFlag(cmd, cmder.flags, config.FlagBackend, &cmder.backend)
	config.AddStringFlag(cmd, cmder.flags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, cmder.flags, config.FlagPostgres, &cmder.postgresDSN)
	config.AddStringFlag(cmd, cmder.flags, config.FlagMongoURI, &cmder.mongoURI)
	config.AddStringFlag(cmd, cmder.flags, config.FlagMongoDatabase, &cmder.mongoDatabase)
	config.AddBoolFlag(cmd, cmder.flags, config.FlagBreaker, &cmder.breaker)
	config.AddBoolFlag(cmd, cmder.flags, config.FlagMCP, &cmder.mcp)
	config.AddStringFlag(cmd, cmder.flags, config.FlagEventsProvider, &cmder.events)
	config.AddStringFlag(cmd, cmder.flags, config.FlagKafkaBrokers, &cmder.brokers)
	config.AddStringFlag(cmd, cmder.flags, config.FlagKafkaTopic, &cmder.topic)

	return cmd
}

func (c *ServeCommander) run(ctx context.Context) error {
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

	collector := metrics.NewCollector(metrics.DefaultNamespace)

	stack, err := reminisce.NewStack(driver, bootstrap.StackOptions(cfg, collector, c.logger))
	if err != nil {
		return fmt.Errorf("building memory stack: %w", err)
	}

	subscriber, err := bootstrap.NewSubscriber(cfg.Events, c.logger.Named("events"))
	if err != nil {
		stack.Stop()
		return fmt.Errorf("creating event subscriber: %w", err)
	}
	defer subscriber.Close()

	apiConfig := api.Config{
		ListenAddr:     cfg.API.Listen,
		MetricsHandler: collector.Handler(),
	}
	if cfg.API.MCP {
		mcpServer, err := mcp.NewServer(mcp.Config{
			Service: stack.Service,
			Logger:  c.logger.Named("mcp"),
		})
		if err != nil {
			stack.Stop()
			return fmt.Errorf("creating MCP server: %w", err)
		}
		apiConfig.MCPHandler = mcpServer.Handler()
	}

	apiServer, err := api.NewServer(apiConfig, stack.Service, c.logger)
	if err != nil {
		stack.Stop()
		return fmt.Errorf("creating API server: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := stack.Start(ctx); err != nil {
		stack.Stop()
		return fmt.Errorf("starting decay scheduler: %w", err)
	}

	c.logger.Info("starting reminisce",
		zap.String("listen", cfg.API.Listen),
		zap.String("backend", cfg.Storage.Backend),
		zap.String("events", cfg.Events.Provider),
		zap.Bool("mcp", cfg.API.MCP),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := apiServer.Run(); err != nil {
			return fmt.Errorf("API server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := subscriber.Subscribe(gctx, stack.Invalidation.Handle); err != nil {
			return fmt.Errorf("event subscriber error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		c.logger.Info("shutting down")
		return apiServer.Shutdown()
	})

	err = g.Wait()

	// Handlers are stopped, so pending access statistics can drain.
	stack.Stop()
	return err
}
