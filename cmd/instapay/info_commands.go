package main

import (
	"fmt"

	"github.com/brojonat/instapay/service/config"
	"github.com/brojonat/instapay/service/evm"
	"github.com/urfave/cli/v2"
)

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			w := c.App.Writer
			fmt.Fprintf(w, "instapay CLI\n")
			fmt.Fprintf(w, "  Version: %s\n", version)
			fmt.Fprintf(w, "  Commit:  %s\n", commit)
			fmt.Fprintf(w, "  Built:   %s\n", date)
			return nil
		},
	}
}

func configCommands() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Configuration commands",
		Subcommands: []*cli.Command{
			configCheckCommand(),
		},
	}
}

// configCheckCommand validates the environment alone, ignoring flags, so a
// deployment's env file can be checked before anything runs.
func configCheckCommand() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Validate configuration from environment variables and print it",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			amount, err := cfg.ApprovalAmountUnits()
			if err != nil {
				return err
			}

			wallet := "not configured"
			if cfg.HasWallet() {
				wallet = "configured"
			}

			w := c.App.Writer
			if c.Bool("json") {
				return outputJSON(w, map[string]interface{}{
					"relay_url":             cfg.RelayURL,
					"relay_timeout":         cfg.RelayTimeout.String(),
					"rpc_url":               cfg.RPCURL,
					"wallet":                wallet,
					"receipt_poll_interval": cfg.ReceiptPollInterval.String(),
					"token_address":         cfg.TokenAddress.Hex(),
					"spender_address":       cfg.SpenderAddress.Hex(),
					"approval_amount":       cfg.ApprovalAmount,
					"approval_units":        amount.String(),
					"token_decimals":        cfg.TokenDecimals,
					"notification_ttl":      cfg.NotificationTTL.String(),
					"nats_url":              cfg.NATSURL,
					"metrics_addr":          cfg.MetricsAddr,
					"log_level":             cfg.LogLevel,
				})
			}

			fmt.Fprintf(w, "✓ Configuration is valid\n")
			fmt.Fprintf(w, "  Relay:     %s (timeout %s)\n", cfg.RelayURL, cfg.RelayTimeout)
			fmt.Fprintf(w, "  RPC:       %s\n", cfg.RPCURL)
			fmt.Fprintf(w, "  Wallet:    %s\n", wallet)
			fmt.Fprintf(w, "  Token:     %s (%d decimals)\n", evm.ShortAddress(cfg.TokenAddress.Hex()), cfg.TokenDecimals)
			fmt.Fprintf(w, "  Spender:   %s\n", evm.ShortAddress(cfg.SpenderAddress.Hex()))
			fmt.Fprintf(w, "  Allowance: %s (%s base units)\n", cfg.ApprovalAmount, amount)
			if cfg.NATSURL != "" {
				fmt.Fprintf(w, "  NATS:      %s\n", cfg.NATSURL)
			}
			if cfg.MetricsAddr != "" {
				fmt.Fprintf(w, "  Metrics:   %s\n", cfg.MetricsAddr)
			}
			return nil
		},
	}
}
