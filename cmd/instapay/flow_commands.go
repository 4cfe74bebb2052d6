package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/brojonat/instapay/service/evm"
	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"
)

func walletCommands() *cli.Command {
	return &cli.Command{
		Name:  "wallet",
		Usage: "Wallet commands",
		Subcommands: []*cli.Command{
			walletConnectCommand(),
		},
	}
}

func walletConnectCommand() *cli.Command {
	return &cli.Command{
		Name:  "connect",
		Usage: "Connect the configured wallet and print its address",
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			addr, err := rt.connect(c.Context)
			if err != nil {
				return err
			}

			w := c.App.Writer
			if c.Bool("json") {
				return outputJSON(w, map[string]string{"address": addr.Hex()})
			}
			fmt.Fprintf(w, "✅ Wallet connected successfully\n")
			fmt.Fprintf(w, "  Address: %s\n", evm.ShortAddress(addr.Hex()))
			return nil
		},
	}
}

func approveCommand() *cli.Command {
	return &cli.Command{
		Name:  "approve",
		Usage: "Approve the relay's spender to move USDC from the wallet",
		Description: `Connects the wallet and submits approve(spender, amount) on the token
contract, then waits for the transaction to be mined.

This is needed once per wallet before the relay can send on its behalf.

Example:
  instapay approve --approval-amount 1000`,
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			addr, err := rt.connect(c.Context)
			if err != nil {
				return err
			}

			w := c.App.Writer
			if !c.Bool("json") {
				fmt.Fprintf(w, "Approving %s USDC for spender %s...\n", rt.cfg.ApprovalAmount, evm.ShortAddress(rt.cfg.SpenderAddress.Hex()))
			}

			if err := rt.approver.Approve(c.Context); err != nil {
				return userError(err)
			}

			if c.Bool("json") {
				return outputJSON(w, map[string]string{
					"owner":   addr.Hex(),
					"spender": rt.cfg.SpenderAddress.Hex(),
					"amount":  rt.cfg.ApprovalAmount,
					"state":   rt.approver.Status().State.String(),
				})
			}
			fmt.Fprintf(w, "✅ USDC approved successfully\n")
			return nil
		},
	}
}

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Send USDC through the relay without paying gas",
		ArgsUsage: "RECIPIENT AMOUNT",
		Description: `Connects the wallet, approves the spender, and asks the relay to transfer
AMOUNT (in whole USDC, e.g. 10.5) to RECIPIENT. The relay pays the gas.

Exactly one request is made to the relay; failures are not retried.

The approval is an on-chain transaction paid by the wallet, and each run of
this command starts a fresh session, so every send also pays for an approve.
Use "instapay shell" to approve once and send many times.

Example:
  instapay send 0x000000000000000000000000000000000000dEaD 10`,
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("recipient and amount are required")
			}
			recipient := c.Args().Get(0)
			amount := c.Args().Get(1)
			if err := validateTransfer(recipient, amount, c.Int("token-decimals")); err != nil {
				return err
			}

			rt, err := newRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			if _, err := rt.connect(c.Context); err != nil {
				return err
			}
			if err := rt.approver.Approve(c.Context); err != nil {
				return userError(err)
			}

			result, err := rt.transferer.Send(c.Context, recipient, amount)
			if err != nil {
				return userError(err)
			}

			w := c.App.Writer
			if c.Bool("json") {
				return outputJSON(w, result)
			}
			fmt.Fprintf(w, "✅ Transaction sent\n")
			fmt.Fprintf(w, "  Amount:    %s USDC\n", amount)
			fmt.Fprintf(w, "  Recipient: %s\n", evm.ShortAddress(recipient))
			fmt.Fprintf(w, "  Explorer:  %s\n", result.ExplorerURL)
			return nil
		},
	}
}

// validateTransfer rejects input the relay would refuse anyway.
func validateTransfer(recipient, amount string, decimals int) error {
	if !common.IsHexAddress(recipient) {
		return fmt.Errorf("invalid recipient address %q", recipient)
	}
	units, err := evm.ParseUnits(amount, int32(decimals))
	if err != nil {
		return err
	}
	if units.Sign() == 0 {
		return fmt.Errorf("amount must be greater than zero")
	}
	return nil
}

func outputJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}
