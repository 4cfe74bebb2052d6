package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	natspkg "github.com/brojonat/instapay/service/nats"
	"github.com/itchyny/gojq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

func eventsCommands() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Notification streaming commands (NATS JetStream)",
		Subcommands: []*cli.Command{
			subscribeCommand(),
			inspectStreamCommand(),
		},
	}
}

// subscribeCommand streams notifications published by instapay processes.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:  "subscribe",
		Usage: "Stream wallet, approval and transfer notifications",
		Description: `Subscribe to notifications published to NATS JetStream by any instapay
process running with NATS_URL set.

Notifications are published to the subject: instapay.events.{event}

Example:
  instapay events subscribe --event transfer-succeeded
  instapay events subscribe --must-jq '.error == true' --json`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "event",
				Usage: "Only stream this event (e.g. transfer-failed); all events if empty",
			},
			&cli.StringSliceFlag{
				Name:    "must-jq",
				Usage:   "jq filter expression that must evaluate to true (can be specified multiple times, all must match)",
				Aliases: []string{"jq"},
			},
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "instapay-cli",
			},
		},
		Action: func(c *cli.Context) error {
			natsURL := c.String("nats-url")
			if natsURL == "" {
				natsURL = nats.DefaultURL
			}

			filters, err := compileJQFilters(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}

			subject := natspkg.StreamSubjects
			if event := c.String("event"); event != "" {
				subject = natspkg.Subject(event)
			}

			return streamEvents(c.App.Writer, natsURL, subject, filters, c.Bool("durable"), c.String("consumer-name"), c.Bool("json"))
		},
	}
}

// streamEvents connects to NATS and prints matching notifications until interrupted.
func streamEvents(w io.Writer, natsURL, subject string, filters []*gojq.Code, durable bool, consumerName string, jsonOutput bool) error {
	// Connect to NATS
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if !jsonOutput {
		fmt.Fprintf(w, "📡 Subscribing to: %s\n", subject)
		fmt.Fprintf(w, "   NATS: %s\n", natsURL)
		if durable {
			fmt.Fprintf(w, "   Consumer: %s (durable)\n", consumerName)
		}
		fmt.Fprintf(w, "\nWaiting for notifications... (Ctrl-C to exit)\n\n")
	}

	// Only new notifications; old ones have long expired.
	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	}

	if durable {
		consumerConfig.Durable = consumerName
		consumerConfig.Name = consumerName
	}

	cons, err := js.CreateOrUpdateConsumer(context.Background(), natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	msgChan := make(chan jetstream.Msg, 10)
	consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
		msgChan <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer consumeCtx.Stop()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			msg.Ack()
			if !matchesJQ(filters, msg.Data()) {
				continue
			}

			var event natspkg.EventMessage
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				if !jsonOutput {
					fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
				}
				continue
			}

			count++
			if jsonOutput {
				fmt.Fprintln(w, string(msg.Data()))
			} else {
				printEvent(w, &event)
			}

		case <-sigChan:
			if !jsonOutput {
				fmt.Fprintf(w, "\n\n✅ Received %d notifications\n", count)
				fmt.Fprintln(w, "Shutting down...")
			}
			return nil
		}
	}
}

func printEvent(w io.Writer, event *natspkg.EventMessage) {
	mark := "✅"
	if event.Error {
		mark = "❌"
	}
	fmt.Fprintf(w, "%s %s\n", mark, event.Name)
	if event.Message != "" {
		fmt.Fprintf(w, "   Message:   %s\n", event.Message)
	}
	if event.ExplorerURL != "" {
		fmt.Fprintf(w, "   Explorer:  %s\n", event.ExplorerURL)
	}
	if event.Source != "" {
		fmt.Fprintf(w, "   Source:    %s\n", event.Source)
	}
	fmt.Fprintf(w, "   Created:   %s\n", event.CreatedAt.Format(time.RFC3339))
	if event.ExpiresAt != nil {
		fmt.Fprintf(w, "   Expires:   %s\n", event.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Fprintln(w)
}

// inspectStreamCommand shows information about the NATS JetStream stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the INSTAPAY_EVENTS JetStream stream",
		Action: func(c *cli.Context) error {
			natsURL := c.String("nats-url")
			if natsURL == "" {
				natsURL = nats.DefaultURL
			}

			nc, err := nats.Connect(natsURL)
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			stream, err := js.Stream(c.Context, natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}

			info, err := stream.Info(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			w := c.App.Writer
			if c.Bool("json") {
				return outputJSON(w, info)
			}
			fmt.Fprintf(w, "Stream: %s\n", info.Config.Name)
			fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
			fmt.Fprintf(w, "Description:  %s\n", info.Config.Description)
			fmt.Fprintf(w, "Subjects:     %v\n", info.Config.Subjects)
			fmt.Fprintf(w, "Messages:     %d\n", info.State.Msgs)
			fmt.Fprintf(w, "Consumers:    %d\n", info.State.Consumers)
			fmt.Fprintf(w, "Max Age:      %s\n", info.Config.MaxAge)
			return nil
		},
	}
}
