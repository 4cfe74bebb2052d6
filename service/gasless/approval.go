package gasless

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/brojonat/instapay/service/evm"
	"github.com/brojonat/instapay/service/metrics"
	"github.com/brojonat/instapay/service/notify"
	"github.com/ethereum/go-ethereum/common"
)

// ApprovalState is where the spender authorization stands for the current
// wallet.
type ApprovalState int

const (
	NotApproved ApprovalState = iota
	Approving
	Approved
	ApprovalFailed
)

func (s ApprovalState) String() string {
	switch s {
	case NotApproved:
		return "not_approved"
	case Approving:
		return "approving"
	case Approved:
		return "approved"
	case ApprovalFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ApprovalStatus is an ApprovalState plus, for ApprovalFailed, the reason.
type ApprovalStatus struct {
	State  ApprovalState
	Reason string
}

// ApprovalTarget is the fixed token, spender and allowance this system approves.
type ApprovalTarget struct {
	Token   common.Address
	Spender common.Address
	Amount  *big.Int // in base units
}

// ApprovalRequest is a single approve(spender, amount) call on behalf of Owner.
type ApprovalRequest struct {
	Owner   common.Address
	Token   common.Address
	Spender common.Address
	Amount  *big.Int
}

// Approver drives the one-time spender authorization for the connected wallet.
// Once Approved it stays Approved until the session disconnects; the on-chain
// allowance is never re-read.
type Approver struct {
	session  *Session
	target   ApprovalTarget
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu          sync.Mutex
	busy        bool
	status      ApprovalStatus
	approvedGen uint64
}

// NewApprover creates an approver bound to session. The approver resets to
// NotApproved whenever the session disconnects.
func NewApprover(session *Session, target ApprovalTarget, notifier Notifier, m *metrics.Metrics, logger *slog.Logger) *Approver {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if target.Amount == nil {
		target.Amount = new(big.Int)
	}
	a := &Approver{
		session:  session,
		target:   target,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
	}
	session.register(a)
	return a
}

// Request builds the approval request for the connected wallet.
func (a *Approver) Request() (ApprovalRequest, error) {
	owner, err := a.session.Address()
	if err != nil {
		return ApprovalRequest{}, err
	}
	return a.request(owner), nil
}

func (a *Approver) request(owner common.Address) ApprovalRequest {
	return ApprovalRequest{
		Owner:   owner,
		Token:   a.target.Token,
		Spender: a.target.Spender,
		Amount:  new(big.Int).Set(a.target.Amount),
	}
}

// Approve submits approve(spender, amount) from the connected wallet and
// waits for it to be mined.
//
// It fails fast with ErrNotConnected or ErrApprovalInFlight. Approving an
// already approved session is a no-op. Any wallet or chain failure moves the
// state to ApprovalFailed, publishes "Approval failed" and returns a
// *FlowError. The approving signal is lowered on every return path.
func (a *Approver) Approve(ctx context.Context) error {
	owner, gen, ok := a.session.snapshot()
	if !ok {
		a.metrics.RecordOperation("approve", metrics.OutcomeRejected, 0)
		return ErrNotConnected
	}

	a.mu.Lock()
	if a.busy {
		a.mu.Unlock()
		a.metrics.RecordOperation("approve", metrics.OutcomeRejected, 0)
		return ErrApprovalInFlight
	}
	if a.status.State == Approved && a.approvedGen == gen {
		a.mu.Unlock()
		return nil
	}
	a.busy = true
	a.status = ApprovalStatus{State: Approving}
	a.mu.Unlock()

	a.notifier.SetSignal(SignalApproving, true)
	defer func() {
		a.mu.Lock()
		a.busy = false
		a.mu.Unlock()
		a.notifier.SetSignal(SignalApproving, false)
	}()

	req := a.request(owner)
	log := a.logger.With(
		"owner", req.Owner.Hex(),
		"spender", req.Spender.Hex(),
		"amount", req.Amount.String(),
	)
	log.InfoContext(ctx, "submitting approval")

	start := time.Now()
	err := a.execute(ctx, req, log)
	elapsed := time.Since(start).Seconds()

	a.mu.Lock()
	if !a.session.isCurrent(gen) {
		a.mu.Unlock()
		log.WarnContext(ctx, "discarding approval result after session change", "error", err)
		return ErrSessionChanged
	}
	if err != nil {
		a.status = ApprovalStatus{State: ApprovalFailed, Reason: MsgApprovalFailed}
		a.mu.Unlock()

		a.metrics.RecordOperation("approve", metrics.OutcomeFailure, elapsed)
		log.ErrorContext(ctx, "approval failed", "error", err)
		a.notifier.Publish(ctx, notify.Event{
			Name:    EventApprovalFailed,
			Message: MsgApprovalFailed,
			Error:   true,
		})
		return &FlowError{Kind: KindApproval, Message: MsgApprovalFailed, Cause: err}
	}
	a.status = ApprovalStatus{State: Approved}
	a.approvedGen = gen
	a.mu.Unlock()

	a.metrics.RecordOperation("approve", metrics.OutcomeSuccess, elapsed)
	log.InfoContext(ctx, "approval confirmed")
	a.notifier.Publish(ctx, notify.Event{
		Name:    EventApprovalSucceeded,
		Message: MsgApprovalSucceeded,
	})
	return nil
}

func (a *Approver) execute(ctx context.Context, req ApprovalRequest, log *slog.Logger) error {
	provider := a.session.provider
	if provider == nil {
		return evm.ErrNotConnected
	}

	tx, err := provider.SendContractCall(ctx, req.Token, evm.ERC20ApproveABI, evm.ApproveMethod, req.Spender, req.Amount)
	if err != nil {
		return fmt.Errorf("failed to submit approve transaction: %w", err)
	}
	log.InfoContext(ctx, "approve transaction submitted", "tx_hash", tx.Hash().Hex())

	if err := tx.Wait(ctx); err != nil {
		return fmt.Errorf("approve transaction %s not confirmed: %w", tx.Hash().Hex(), err)
	}
	return nil
}

// Status returns the current approval state.
func (a *Approver) Status() ApprovalStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Approved reports whether the connected wallet has approved the spender.
func (a *Approver) Approved() bool {
	_, gen, ok := a.session.snapshot()
	return ok && a.approvedFor(gen)
}

// Approving reports whether an approval is in flight.
func (a *Approver) Approving() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.busy
}

func (a *Approver) approvedFor(gen uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status.State == Approved && a.approvedGen == gen
}

func (a *Approver) resetForDisconnect() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = ApprovalStatus{}
	a.approvedGen = 0
}
