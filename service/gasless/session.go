// Package gasless sequences the three steps of a relayed stablecoin transfer:
// connecting a wallet, approving the relay's spender, and asking the relay to
// execute the transfer. Each step only runs once the previous one succeeded
// for the currently connected wallet, and a disconnect resets everything that
// was scoped to that wallet.
package gasless

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/instapay/service/evm"
	"github.com/brojonat/instapay/service/metrics"
	"github.com/brojonat/instapay/service/notify"
	"github.com/ethereum/go-ethereum/common"
)

// SessionState is the connection state of a Session.
type SessionState int

const (
	Disconnected SessionState = iota
	Connecting
	Connected
)

func (s SessionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// resetter is implemented by components holding wallet-scoped state.
type resetter interface {
	resetForDisconnect()
}

// Session owns the connected wallet address.
//
// Every connect and disconnect starts a new generation. Dependents capture the
// generation when they start an operation and only commit the outcome if it
// is still current, so nothing obtained for one wallet leaks into the next.
type Session struct {
	provider evm.Provider
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu         sync.Mutex
	state      SessionState
	address    common.Address
	generation uint64
	dependents []resetter
}

// NewSession creates a disconnected session. provider may be nil, meaning no
// wallet is available; Connect is then a no-op.
func NewSession(provider evm.Provider, notifier Notifier, m *metrics.Metrics, logger *slog.Logger) *Session {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Session{
		provider: provider,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
	}
}

func (s *Session) register(r resetter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dependents = append(s.dependents, r)
}

// Connect asks the wallet provider for an account.
//
// With no provider available it returns the zero address and a nil error
// without publishing anything. If already connected it returns the current
// address. A provider failure leaves the session disconnected, publishes a
// connection-failed error and returns a *FlowError.
func (s *Session) Connect(ctx context.Context) (common.Address, error) {
	if s.provider == nil {
		s.logger.DebugContext(ctx, "no wallet provider available, skipping connect")
		return common.Address{}, nil
	}

	s.mu.Lock()
	switch s.state {
	case Connected:
		addr := s.address
		s.mu.Unlock()
		return addr, nil
	case Connecting:
		s.mu.Unlock()
		s.metrics.RecordOperation("connect", metrics.OutcomeRejected, 0)
		return common.Address{}, ErrConnectInFlight
	}
	s.state = Connecting
	gen := s.generation
	s.mu.Unlock()

	start := time.Now()
	addr, err := s.provider.Connect(ctx)
	if err == nil && addr == (common.Address{}) {
		err = errors.New("wallet returned no account")
	}

	s.mu.Lock()
	if s.generation != gen {
		// Disconnected while the wallet prompt was open.
		s.mu.Unlock()
		s.logger.WarnContext(ctx, "discarding connect result after session change", "error", err)
		return common.Address{}, ErrSessionChanged
	}
	if err != nil {
		s.state = Disconnected
		s.mu.Unlock()

		s.metrics.RecordOperation("connect", metrics.OutcomeFailure, time.Since(start).Seconds())
		s.logger.ErrorContext(ctx, "wallet connection failed", "error", err)
		s.notifier.Publish(ctx, notify.Event{
			Name:    EventConnectionFailed,
			Message: MsgConnectionFailed,
			Error:   true,
		})
		return common.Address{}, &FlowError{Kind: KindConnection, Message: MsgConnectionFailed, Cause: err}
	}
	s.state = Connected
	s.address = addr
	s.generation++
	s.mu.Unlock()

	s.metrics.RecordOperation("connect", metrics.OutcomeSuccess, time.Since(start).Seconds())
	s.logger.InfoContext(ctx, "wallet connected", "address", addr.Hex())
	s.notifier.Publish(ctx, notify.Event{
		Name:    EventWalletConnected,
		Message: MsgWalletConnected,
	})
	return addr, nil
}

// Disconnect clears the address and resets every dependent's wallet-scoped
// state. It always cascades, whatever the current state.
func (s *Session) Disconnect(ctx context.Context) {
	s.mu.Lock()
	prev := s.address
	s.state = Disconnected
	s.address = common.Address{}
	s.generation++
	dependents := append([]resetter(nil), s.dependents...)
	s.mu.Unlock()

	for _, d := range dependents {
		d.resetForDisconnect()
	}
	s.logger.InfoContext(ctx, "wallet disconnected", "address", prev.Hex())
}

// Address returns the connected address, or ErrNotConnected.
func (s *Session) Address() (common.Address, error) {
	addr, _, ok := s.snapshot()
	if !ok {
		return common.Address{}, ErrNotConnected
	}
	return addr, nil
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Connected() bool {
	return s.State() == Connected
}

// snapshot returns the address and generation as of now, and whether the
// session is connected.
func (s *Session) snapshot() (common.Address, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address, s.generation, s.state == Connected
}

func (s *Session) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation == gen && s.state == Connected
}
