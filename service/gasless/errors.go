package gasless

import (
	"errors"
	"fmt"

	"github.com/brojonat/instapay/client"
)

// ErrorKind identifies which stage of the flow failed.
type ErrorKind string

const (
	KindConnection ErrorKind = "connection"
	KindApproval   ErrorKind = "approval"
	KindTransfer   ErrorKind = "transfer"
)

// User-facing failure messages. Causes within a stage are not distinguished.
const (
	MsgConnectionFailed = "Wallet connection failed"
	MsgApprovalFailed   = "Approval failed"
	MsgTransferFailed   = client.DefaultFailureMessage
)

// Precondition errors. These are returned before any external call is made
// and are not published as notifications.
var (
	ErrNotConnected     = errors.New("wallet is not connected")
	ErrNotApproved      = errors.New("spender is not approved for the connected wallet")
	ErrConnectInFlight  = errors.New("wallet connection already in progress")
	ErrApprovalInFlight = errors.New("approval already in progress")
	ErrTransferInFlight = errors.New("transfer already in progress")
	ErrEmptyField       = errors.New("recipient and amount are required")

	// ErrSessionChanged is returned when the wallet was disconnected or
	// reconnected while an operation was in flight. The operation's outcome
	// was discarded.
	ErrSessionChanged = errors.New("wallet session changed during operation")
)

// FlowError is a failure surfaced to the user. Message is exactly what was
// published on the notification bus; Cause is the underlying error.
type FlowError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *FlowError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}

// IsFlowError reports whether err is a FlowError of the given kind.
func IsFlowError(err error, kind ErrorKind) bool {
	var fe *FlowError
	return errors.As(err, &fe) && fe.Kind == kind
}
