// Package emitcmder provides the emit command, which publishes an entity
// change event.
package emitcmder

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papercomputeco/reminisce/pkg/bootstrap"
	"github.com/papercomputeco/reminisce/pkg/cliui"
	"github.com/papercomputeco/reminisce/pkg/client"
	"github.com/papercomputeco/reminisce/pkg/config"
	"github.com/papercomputeco/reminisce/pkg/eventstream"
	"github.com/papercomputeco/reminisce/pkg/logger"
)

// Delivery routes.
const (
	ViaAPI    = "api"
	ViaStream = "stream"
)

type EmitCommander struct {
	flags config.FlagSet

	entityType string
	entityID   string
	eventType  string
	details    map[string]string
	via        string

	apiTarget string
	provider  string
	brokers   string
	topic     string

	debug bool
	viper *viper.Viper
}

const emitLongDesc string = `Publish an entity change event.

By default the event is posted to a running server, which applies the
matching invalidation rule at once and prints how many memories it touched.
With --via stream the event is written to the configured event stream
(Kafka) and applied by whichever server consumes it.

Examples:
  reminisce emit item transferred --entity-id X
  reminisce emit task status_changed --entity-id T42 --detail status=done
  reminisce emit location updated --via stream --kafka-brokers localhost:9092`

const emitShortDesc string = "Publish an entity change event"

var emitFlags = []string{
	config.FlagAPITarget,
	config.FlagEventsProvider,
	config.FlagKafkaBrokers,
	config.FlagKafkaTopic,
}

func NewEmitCmd() *cobra.Command {
	cmder := &EmitCommander{
		flags: config.Flags,
	}

	cmd := &cobra.Command{
		Use:   "emit <entity-type> <event-type>",
		Short: emitShortDesc,
		Long:  emitLongDesc,
		Args:  cobra.ExactArgs(2),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")

			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			config.BindRegisteredFlags(v, cmd, cmder.flags, emitFlags)
			cmder.viper = v
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmder.entityType = args[0]
			cmder.eventType = args[1]
			cmder.debug, _ = cmd.Flags().GetBool("debug")
			return cmder.run(cmd.Context(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&cmder.entityID, "entity-id", "", "Id of the changed entity (omit for type-wide changes)")
	cmd.Flags().StringToStringVar(&cmder.details, "detail", nil, "Event detail as key=value (repeatable)")
	cmd.Flags().StringVar(&cmder.via, "via", ViaAPI, "Delivery route (api, stream)")
	config.AddStringFlag(cmd, cmder.flags, config.FlagAPITarget, &cmder.apiTarget)
	config.AddStringFlag(cmd, cmder.flags, config.FlagEventsProvider, &cmder.provider)
	config.AddStringFlag(cmd, cmder.flags, config.FlagKafkaBrokers, &cmder.brokers)
	config.AddStringFlag(cmd, cmder.flags, config.FlagKafkaTopic, &cmder.topic)

	return cmd
}

func (c *EmitCommander) run(ctx context.Context, w io.Writer) error {
	event := c.event()
	if err := event.Validate(); err != nil {
		return err
	}

	cfg, err := config.FromViper(c.viper)
	if err != nil {
		return err
	}

	switch strings.ToLower(c.via) {
	case ViaAPI:
		return EmitAPI(ctx, w, cfg.Client.APITarget, event)
	case ViaStream:
		log := logger.NewLogger(c.debug)
		defer func() { _ = log.Sync() }()

		if strings.EqualFold(cfg.Events.Provider, bootstrap.EventsNone) {
			return fmt.Errorf("--via stream needs an events provider; set events.provider or --events-provider")
		}
		pub, err := bootstrap.NewPublisher(cfg.Events, log)
		if err != nil {
			return err
		}
		defer pub.Close()
		return EmitStream(ctx, w, pub, event)
	default:
		return fmt.Errorf("unknown delivery route %q (want %s or %s)", c.via, ViaAPI, ViaStream)
	}
}

func (c *EmitCommander) event() *eventstream.EntityChangeEvent {
	event := &eventstream.EntityChangeEvent{
		EntityType: c.entityType,
		EntityID:   c.entityID,
		EventType:  c.eventType,
		Timestamp:  time.Now().UTC(),
	}
	if len(c.details) > 0 {
		event.Details = make(map[string]any, len(c.details))
		for k, v := range c.details {
			event.Details[k] = v
		}
	}
	return event
}

// EmitAPI posts event to the server at apiTarget and reports the outcome.
func EmitAPI(ctx context.Context, w io.Writer, apiTarget string, event *eventstream.EntityChangeEvent) error {
	cl, err := client.New(apiTarget)
	if err != nil {
		return err
	}

	outcome, err := cl.EmitEntityChange(ctx, event)
	if err != nil {
		return err
	}

	if !outcome.Matched {
		fmt.Fprintf(w, "\n  %s %s %s\n\n",
			cliui.SuccessMark,
			cliui.KeyStyle.Render(event.Key()+" "+event.EventType),
			cliui.DimStyle.Render("(no rule matched)"),
		)
		return nil
	}

	fmt.Fprintf(w, "\n  %s %s %s %s\n\n",
		cliui.SuccessMark,
		cliui.KeyStyle.Render(event.Key()+" "+event.EventType),
		cliui.ValueStyle.Render(fmt.Sprintf("%s on %d memories", outcome.Rule.Action, outcome.Affected)),
		cliui.DimStyle.Render("(rule "+outcome.Key.String()+")"),
	)
	return nil
}

// EmitStream publishes event and reports it.
func EmitStream(ctx context.Context, w io.Writer, pub eventstream.Publisher, event *eventstream.EntityChangeEvent) error {
	err := cliui.Step(w, "Publishing "+event.Key()+" "+event.EventType, func() error {
		return pub.Publish(ctx, event)
	})
	if err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}
