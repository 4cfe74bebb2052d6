package gasless

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/brojonat/instapay/client"
	"github.com/brojonat/instapay/service/evm"
	"github.com/brojonat/instapay/service/notify"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	testOwner   = common.HexToAddress("0xABCD00000000000000000000000000000000f234")
	testToken   = common.HexToAddress("0x1B5336949072F738D31Bc650B7723DAcc0bb3659")
	testSpender = common.HexToAddress("0x7632C8C0b1C1B35E3F634A7fe642362B561D2c78")
	// 1000 USDC at 6 decimals
	testAllowance = big.NewInt(1_000_000_000)
)

type contractCall struct {
	contract common.Address
	method   string
	args     []interface{}
}

type fakeTx struct {
	hash common.Hash
	wait func(ctx context.Context) error
}

func (tx *fakeTx) Hash() common.Hash { return tx.hash }

func (tx *fakeTx) Wait(ctx context.Context) error {
	if tx.wait == nil {
		return nil
	}
	return tx.wait(ctx)
}

// fakeProvider is an in-memory wallet capability.
type fakeProvider struct {
	mu         sync.Mutex
	address    common.Address
	connectErr error
	sendErr    error
	connect    func(ctx context.Context) // runs before Connect returns
	wait       func(ctx context.Context) error
	connects   int
	calls      []contractCall
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{address: testOwner}
}

func (p *fakeProvider) Connect(ctx context.Context) (common.Address, error) {
	p.mu.Lock()
	p.connects++
	hook := p.connect
	p.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connectErr != nil {
		return common.Address{}, p.connectErr
	}
	return p.address, nil
}

func (p *fakeProvider) Address(ctx context.Context) (common.Address, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.address, nil
}

func (p *fakeProvider) SendContractCall(ctx context.Context, contract common.Address, abiJSON []byte, method string, args ...interface{}) (evm.TxHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, contractCall{contract: contract, method: method, args: args})
	if p.sendErr != nil {
		return nil, p.sendErr
	}
	return &fakeTx{hash: common.HexToHash("0xfeed"), wait: p.wait}, nil
}

func (p *fakeProvider) contractCalls() []contractCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]contractCall(nil), p.calls...)
}

func (p *fakeProvider) connectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connects
}

// relayFunc adapts a function to the Relay interface.
type relayFunc func(ctx context.Context, req client.SendRequest) (*client.SendResponse, error)

func (f relayFunc) Send(ctx context.Context, req client.SendRequest) (*client.SendResponse, error) {
	return f(ctx, req)
}

var errUnreachableRelay = errors.New("relay must not be called")

func unreachableRelay(t *testing.T) Relay {
	return relayFunc(func(ctx context.Context, req client.SendRequest) (*client.SendResponse, error) {
		t.Error("unexpected relay call")
		return nil, errUnreachableRelay
	})
}

// newRelayServer starts a relay stub answering POST /api/send with status and body.
func newRelayServer(t *testing.T, status int, body string) (*client.Client, func() []client.SendRequest) {
	t.Helper()
	var (
		mu       sync.Mutex
		received []client.SendRequest
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/send" {
			http.NotFound(w, r)
			return
		}
		var req client.SendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, req)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	requests := func() []client.SendRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]client.SendRequest(nil), received...)
	}
	return client.NewClient(server.URL, nil, nil), requests
}

type flow struct {
	clk        *clock.Mock
	bus        *notify.Bus
	provider   *fakeProvider
	session    *Session
	approver   *Approver
	transferer *Transferer
}

func newFlow(t *testing.T, relay Relay) *flow {
	t.Helper()
	clk := clock.NewMock()
	bus := notify.NewBus(clk, notify.DefaultTTL, nil, nil)
	provider := newFakeProvider()
	session := NewSession(provider, bus, nil, nil)
	approver := NewApprover(session, ApprovalTarget{Token: testToken, Spender: testSpender, Amount: testAllowance}, bus, nil, nil)
	transferer := NewTransferer(session, approver, relay, bus, clk, DefaultCelebration, nil, nil)
	return &flow{
		clk:        clk,
		bus:        bus,
		provider:   provider,
		session:    session,
		approver:   approver,
		transferer: transferer,
	}
}

// ready connects and approves.
func (f *flow) ready(t *testing.T) {
	t.Helper()
	_, err := f.session.Connect(context.Background())
	require.NoError(t, err)
	require.NoError(t, f.approver.Approve(context.Background()))
}
