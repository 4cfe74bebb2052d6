package gasless

import (
	"context"

	"github.com/brojonat/instapay/service/notify"
)

// Notification names published on the bus.
const (
	EventWalletConnected   = "wallet-connected"
	EventConnectionFailed  = "wallet-connection-failed"
	EventApprovalSucceeded = "approval-succeeded"
	EventApprovalFailed    = "approval-failed"
	EventTransferSucceeded = "transfer-succeeded"
	EventTransferFailed    = "transfer-failed"
)

// Busy signals.
const (
	SignalApproving = "approving"
	SignalSending   = "sending"
)

const (
	MsgWalletConnected   = "Wallet connected successfully"
	MsgApprovalSucceeded = "USDC approved successfully"
	MsgTransferSucceeded = "Transaction sent"
)

// Notifier is where the flow reports what happened. *notify.Bus implements it.
type Notifier interface {
	Publish(ctx context.Context, ev notify.Event) notify.Event
	SetSignal(name string, on bool)
	ClearErrors()
}

type nopNotifier struct{}

func (nopNotifier) Publish(ctx context.Context, ev notify.Event) notify.Event { return ev }
func (nopNotifier) SetSignal(string, bool)                                    {}
func (nopNotifier) ClearErrors()                                              {}
