package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/brojonat/instapay/service/config"
	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "instapay",
		Usage: "Gasless USDC transfers through a paying relay",
		Description: `Connect a wallet, approve the relay's spender once, and send USDC
without paying gas. The relay submits the transfer and pays the fee.

Configuration comes from flags or the matching environment variables.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			walletCommands(),
			approveCommand(),
			sendCommand(),
			shellCommand(),
			eventsCommands(),
			configCommands(),
			versionCommand(),
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "relay-url",
				Usage:   "Relay base URL",
				EnvVars: []string{"RELAY_URL"},
				Value:   config.DefaultRelayURL,
			},
			&cli.DurationFlag{
				Name:    "relay-timeout",
				Usage:   "HTTP timeout for relay requests",
				EnvVars: []string{"RELAY_TIMEOUT"},
				Value:   config.DefaultRelayTimeout,
			},
			&cli.StringFlag{
				Name:    "rpc-url",
				Usage:   "Ethereum JSON-RPC URL",
				EnvVars: []string{"ETH_RPC_URL"},
			},
			&cli.StringFlag{
				Name:    "private-key",
				Usage:   "Hex private key of the wallet (no wallet is available without it)",
				EnvVars: []string{"WALLET_PRIVATE_KEY"},
			},
			&cli.DurationFlag{
				Name:    "receipt-poll-interval",
				Usage:   "How often to poll for the approval receipt",
				EnvVars: []string{"RECEIPT_POLL_INTERVAL"},
				Value:   config.DefaultReceiptPollInterval,
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "USDC token contract address",
				EnvVars: []string{"TOKEN_ADDRESS"},
				Value:   config.DefaultTokenAddress,
			},
			&cli.StringFlag{
				Name:    "spender",
				Usage:   "Relay spender address to approve",
				EnvVars: []string{"SPENDER_ADDRESS"},
				Value:   config.DefaultSpenderAddress,
			},
			&cli.StringFlag{
				Name:    "approval-amount",
				Usage:   "Allowance to approve, in whole tokens",
				EnvVars: []string{"APPROVAL_AMOUNT"},
				Value:   config.DefaultApprovalAmount,
			},
			&cli.IntFlag{
				Name:    "token-decimals",
				Usage:   "Token decimals",
				EnvVars: []string{"TOKEN_DECIMALS"},
				Value:   config.DefaultTokenDecimals,
			},
			&cli.DurationFlag{
				Name:    "notification-ttl",
				Usage:   "How long success notifications stay visible",
				EnvVars: []string{"NOTIFICATION_TTL"},
				Value:   config.DefaultNotificationTTL,
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL for publishing notifications (disabled if empty)",
				EnvVars: []string{"NATS_URL"},
			},
			&cli.StringFlag{
				Name:    "metrics-addr",
				Usage:   "Address to serve Prometheus /metrics on (disabled if empty)",
				EnvVars: []string{"METRICS_ADDR"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level for stderr (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "warn",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
