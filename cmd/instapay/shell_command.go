package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/brojonat/instapay/service/evm"
	"github.com/brojonat/instapay/service/gasless"
	"github.com/urfave/cli/v2"
)

const shellHelp = `Commands:
  connect                   connect the wallet
  approve                   approve the relay's spender
  send RECIPIENT AMOUNT     send USDC through the relay
  draft RECIPIENT AMOUNT    remember a transfer without sending it
  send-draft                send the remembered transfer
  disconnect                disconnect and forget approval, draft and result
  status                    show wallet, approval and transfer state
  dismiss                   dismiss the success message and the last error
  help                      show this help
  quit                      exit
`

func shellCommand() *cli.Command {
	return &cli.Command{
		Name:  "shell",
		Usage: "Interactive session that keeps the wallet connected between commands",
		Description: `Reads one command per line from stdin. State (connection, approval,
draft, last result, notifications) lives for the whole session, so approving
once is enough for any number of sends until you disconnect.

Type "help" for the list of commands.`,
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			sh := &shell{rt: rt, out: c.App.Writer, decimals: c.Int("token-decimals")}
			return sh.run(c.Context, c.App.Reader)
		},
	}
}

type shell struct {
	rt       *runtime
	out      io.Writer
	decimals int
}

var errQuit = errors.New("quit")

func (sh *shell) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(sh.out, "instapay> ")
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) > 0 {
			err := sh.exec(ctx, fields[0], fields[1:])
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(sh.out, "❌ %s\n", err)
			}
		}
		fmt.Fprint(sh.out, "instapay> ")
	}
	fmt.Fprintln(sh.out)
	return scanner.Err()
}

func (sh *shell) exec(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "connect":
		addr, err := sh.rt.connect(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "✅ %s (%s)\n", gasless.MsgWalletConnected, evm.ShortAddress(addr.Hex()))

	case "approve":
		if err := sh.rt.approver.Approve(ctx); err != nil {
			return userError(err)
		}
		fmt.Fprintf(sh.out, "✅ %s\n", gasless.MsgApprovalSucceeded)

	case "send":
		if len(args) != 2 {
			return fmt.Errorf("usage: send RECIPIENT AMOUNT")
		}
		if err := validateTransfer(args[0], args[1], sh.decimals); err != nil {
			return err
		}
		return sh.send(func() (gasless.TransferResult, error) {
			return sh.rt.transferer.Send(ctx, args[0], args[1])
		})

	case "draft":
		if len(args) != 2 {
			return fmt.Errorf("usage: draft RECIPIENT AMOUNT")
		}
		if err := validateTransfer(args[0], args[1], sh.decimals); err != nil {
			return err
		}
		sh.rt.transferer.SetDraft(args[0], args[1])
		fmt.Fprintf(sh.out, "Draft: %s USDC to %s\n", args[1], evm.ShortAddress(args[0]))

	case "send-draft":
		return sh.send(func() (gasless.TransferResult, error) {
			return sh.rt.transferer.SendDraft(ctx)
		})

	case "disconnect":
		sh.rt.session.Disconnect(ctx)
		fmt.Fprintln(sh.out, "Wallet disconnected")

	case "status":
		sh.printStatus()

	case "dismiss":
		sh.rt.transferer.DismissSuccess()
		sh.rt.bus.ClearErrors()

	case "help":
		fmt.Fprint(sh.out, shellHelp)

	case "quit", "exit":
		return errQuit

	default:
		return fmt.Errorf("unknown command %q (type \"help\")", cmd)
	}
	return nil
}

func (sh *shell) send(send func() (gasless.TransferResult, error)) error {
	result, err := send()
	if err != nil {
		return userError(err)
	}
	fmt.Fprintf(sh.out, "🎉 %s\n", gasless.MsgTransferSucceeded)
	fmt.Fprintf(sh.out, "  Explorer: %s\n", result.ExplorerURL)
	return nil
}

func (sh *shell) printStatus() {
	rt := sh.rt
	w := sh.out

	fmt.Fprintf(w, "Wallet:    %s", rt.session.State())
	if addr, err := rt.session.Address(); err == nil {
		fmt.Fprintf(w, " (%s)", evm.ShortAddress(addr.Hex()))
	}
	fmt.Fprintln(w)

	status := rt.approver.Status()
	fmt.Fprintf(w, "Approval:  %s", status.State)
	if status.Reason != "" {
		fmt.Fprintf(w, " (%s)", status.Reason)
	}
	fmt.Fprintln(w)

	if d := rt.transferer.Draft(); d.Recipient != "" || d.Amount != "" {
		fmt.Fprintf(w, "Draft:     %s USDC to %s\n", d.Amount, evm.ShortAddress(d.Recipient))
	}
	if result, ok := rt.transferer.Result(); ok {
		if result.ErrorMessage != "" {
			fmt.Fprintf(w, "Last send: failed (%s)\n", result.ErrorMessage)
		} else {
			fmt.Fprintf(w, "Last send: %s\n", result.ExplorerURL)
		}
	}
	if rt.transferer.Success() {
		fmt.Fprintln(w, "Success:   shown (type \"dismiss\" to close)")
	}

	for _, ev := range rt.bus.Active() {
		mark := "✅"
		if ev.Error {
			mark = "❌"
		}
		text := ev.Message
		if ev.ExplorerURL != "" {
			text += " " + ev.ExplorerURL
		}
		fmt.Fprintf(w, "%s %s\n", mark, text)
	}
}
