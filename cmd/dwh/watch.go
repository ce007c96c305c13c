package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/clouddocs/warehouse/internal/events"
)

var watchCmd = &cobra.Command{
	Use:     "watch [subject]",
	Short:   "Stream pipeline events from NATS",
	GroupID: "system",
	Long: `Subscribe to pipeline events and print them as they arrive.
The default subject "warehouse.>" covers batch lifecycle, stage completion,
and dead-letter notifications.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subject := "warehouse.>"
		if len(args) == 1 {
			subject = args[0]
		}

		cfg, err := resolveConfig()
		if err != nil {
			return err
		}
		if cfg.NATSURL == "" {
			return fmt.Errorf("DWH_NATS_URL is not set")
		}

		sub, err := events.NewNATSSubscriber(cfg.NATSURL,
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				log.Printf("nats: disconnected: %v", err)
			}),
			nats.ReconnectHandler(func(_ *nats.Conn) {
				log.Printf("nats: reconnected")
			}),
		)
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		defer sub.Close()

		ch, cancel, err := sub.Subscribe(subject)
		if err != nil {
			return fmt.Errorf("subscribing to events: %w", err)
		}
		defer cancel()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		fmt.Fprintf(cmd.OutOrStdout(), "watching %s (ctrl-c to stop)\n", subject)
		for {
			select {
			case <-ctx.Done():
				return nil
			case data, ok := <-ch:
				if !ok {
					return nil
				}
				printEvent(cmd, data)
			}
		}
	},
}

func printEvent(cmd *cobra.Command, data []byte) {
	ts := time.Now().Format("15:04:05")
	if jsonOutput {
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", ts, string(data))
		return
	}
	line, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", ts, string(line))
}
