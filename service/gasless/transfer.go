package gasless

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/brojonat/instapay/client"
	"github.com/brojonat/instapay/service/metrics"
	"github.com/brojonat/instapay/service/notify"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// DefaultCelebration is how long the celebration runs after a successful transfer.
const DefaultCelebration = 3 * time.Second

// Relay executes transfers and pays their gas. *client.Client implements it.
type Relay interface {
	Send(ctx context.Context, req client.SendRequest) (*client.SendResponse, error)
}

// TransferResult is the outcome of the last transfer attempt. Exactly one of
// ExplorerURL and ErrorMessage is set.
type TransferResult struct {
	ExplorerURL  string `json:"explorer_url,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Draft is the recipient and amount entered but not yet sent.
type Draft struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

// Transferer submits transfers to the relay for the connected, approved wallet.
// At most one transfer is in flight at a time.
type Transferer struct {
	session     *Session
	approver    *Approver
	relay       Relay
	notifier    Notifier
	clock       clock.Clock
	celebration time.Duration
	metrics     *metrics.Metrics
	logger      *slog.Logger

	mu             sync.Mutex
	sending        bool
	result         *TransferResult
	success        bool
	celebrateUntil time.Time
	draft          Draft
}

// NewTransferer creates a transferer bound to session and approver. A nil clock
// means wall-clock time; celebration <= 0 means DefaultCelebration.
func NewTransferer(session *Session, approver *Approver, relay Relay, notifier Notifier, clk clock.Clock, celebration time.Duration, m *metrics.Metrics, logger *slog.Logger) *Transferer {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if clk == nil {
		clk = clock.New()
	}
	if celebration <= 0 {
		celebration = DefaultCelebration
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	t := &Transferer{
		session:     session,
		approver:    approver,
		relay:       relay,
		notifier:    notifier,
		clock:       clk,
		celebration: celebration,
		metrics:     m,
		logger:      logger,
	}
	session.register(t)
	return t
}

// Send asks the relay to move amount from the connected wallet to recipient.
//
// Preconditions are checked before anything else and reported as plain
// errors: ErrEmptyField, ErrNotConnected, ErrNotApproved, ErrTransferInFlight.
// Once dispatched, exactly one relay request is made. A relay rejection is
// surfaced with the relay's message verbatim; any other failure is surfaced as
// "Transaction failed". Both come back as a *FlowError alongside the result.
func (t *Transferer) Send(ctx context.Context, recipient, amount string) (TransferResult, error) {
	if strings.TrimSpace(recipient) == "" || strings.TrimSpace(amount) == "" {
		t.metrics.RecordOperation("send", metrics.OutcomeRejected, 0)
		return TransferResult{}, ErrEmptyField
	}

	// Preconditions and the in-flight mark share one critical section.
	t.mu.Lock()
	sender, gen, err := t.admit()
	if err != nil {
		t.mu.Unlock()
		t.metrics.RecordOperation("send", metrics.OutcomeRejected, 0)
		return TransferResult{}, err
	}
	t.sending = true
	t.result = nil
	t.success = false
	t.mu.Unlock()

	t.notifier.ClearErrors()
	t.notifier.SetSignal(SignalSending, true)
	defer func() {
		t.mu.Lock()
		t.sending = false
		t.mu.Unlock()
		t.notifier.SetSignal(SignalSending, false)
	}()

	log := t.logger.With(
		"attempt_id", uuid.NewString(),
		"sender", sender.Hex(),
		"recipient", recipient,
		"amount", amount,
	)
	if !t.session.isCurrent(gen) {
		log.WarnContext(ctx, "session changed before dispatch, transfer not sent")
		t.metrics.RecordOperation("send", metrics.OutcomeRejected, 0)
		return TransferResult{}, ErrNotConnected
	}
	log.InfoContext(ctx, "sending transfer to relay")

	start := time.Now()
	resp, err := t.relay.Send(ctx, client.SendRequest{
		Sender:    sender.Hex(),
		Recipient: recipient,
		Amount:    amount,
	})
	elapsed := time.Since(start).Seconds()
	if err == nil && (resp == nil || resp.EtherscanTx == "") {
		resp, err = nil, client.ErrNoExplorerURL
	}

	t.mu.Lock()
	if !t.session.isCurrent(gen) {
		t.mu.Unlock()
		if err == nil {
			log.WarnContext(ctx, "relay accepted transfer after session change, result discarded",
				"explorer_url", resp.EtherscanTx,
			)
		} else {
			log.WarnContext(ctx, "discarding transfer result after session change", "error", err)
		}
		return TransferResult{}, ErrSessionChanged
	}
	if err != nil {
		message := failureMessage(err)
		result := TransferResult{ErrorMessage: message}
		t.result = &result
		t.mu.Unlock()

		t.metrics.RecordOperation("send", metrics.OutcomeFailure, elapsed)
		log.ErrorContext(ctx, "transfer failed", "error", err)
		t.notifier.Publish(ctx, notify.Event{
			Name:    EventTransferFailed,
			Message: message,
			Error:   true,
		})
		return result, &FlowError{Kind: KindTransfer, Message: message, Cause: err}
	}
	result := TransferResult{ExplorerURL: resp.EtherscanTx}
	t.result = &result
	t.success = true
	t.celebrateUntil = t.clock.Now().Add(t.celebration)
	t.mu.Unlock()

	t.metrics.RecordOperation("send", metrics.OutcomeSuccess, elapsed)
	log.InfoContext(ctx, "transfer sent", "explorer_url", result.ExplorerURL)
	t.notifier.Publish(ctx, notify.Event{
		Name:        EventTransferSucceeded,
		Message:     MsgTransferSucceeded,
		ExplorerURL: result.ExplorerURL,
	})
	return result, nil
}

// admit checks that a send may start now. t.mu must be held.
func (t *Transferer) admit() (common.Address, uint64, error) {
	sender, gen, ok := t.session.snapshot()
	if !ok {
		return common.Address{}, 0, ErrNotConnected
	}
	if !t.approver.approvedFor(gen) {
		return common.Address{}, 0, ErrNotApproved
	}
	if t.sending {
		return common.Address{}, 0, ErrTransferInFlight
	}
	return sender, gen, nil
}

// failureMessage is the relay's own message if it gave one.
func failureMessage(err error) string {
	var relayErr *client.RelayError
	if errors.As(err, &relayErr) && relayErr.Message != "" {
		return relayErr.Message
	}
	return MsgTransferFailed
}

// SetDraft stores the recipient and amount for a later SendDraft.
func (t *Transferer) SetDraft(recipient, amount string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.draft = Draft{Recipient: recipient, Amount: amount}
}

func (t *Transferer) Draft() Draft {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.draft
}

// SendDraft sends the stored draft. See Send.
func (t *Transferer) SendDraft(ctx context.Context) (TransferResult, error) {
	d := t.Draft()
	return t.Send(ctx, d.Recipient, d.Amount)
}

// Result returns the outcome of the last attempt, if there is one.
func (t *Transferer) Result() (TransferResult, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.result == nil {
		return TransferResult{}, false
	}
	return *t.result, true
}

// Success reports whether the last attempt succeeded and has not been dismissed.
func (t *Transferer) Success() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.success
}

// DismissSuccess acknowledges a successful transfer. The result is kept.
func (t *Transferer) DismissSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.success = false
}

// Celebrating reports whether the post-transfer celebration is still running.
// It ends on its own after the celebration duration, dismissed or not.
func (t *Transferer) Celebrating() bool {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	return now.Before(t.celebrateUntil)
}

// Sending reports whether a transfer is in flight.
func (t *Transferer) Sending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sending
}

func (t *Transferer) resetForDisconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.result = nil
	t.success = false
	t.celebrateUntil = time.Time{}
	t.draft = Draft{}
}
