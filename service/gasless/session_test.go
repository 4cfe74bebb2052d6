package gasless

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/brojonat/instapay/service/evm"
	"github.com/brojonat/instapay/service/notify"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect_StoresAddressAndNotifiesOnce(t *testing.T) {
	f := newFlow(t, unreachableRelay(t))

	addr, err := f.session.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testOwner, addr)
	assert.Equal(t, Connected, f.session.State())
	assert.True(t, strings.EqualFold("0xABCD…f234", evm.ShortAddress(addr.Hex())))

	stored, err := f.session.Address()
	require.NoError(t, err)
	assert.Equal(t, testOwner, stored)

	active := f.bus.Active()
	require.Len(t, active, 1)
	assert.Equal(t, EventWalletConnected, active[0].Name)
	assert.Equal(t, MsgWalletConnected, active[0].Message)

	f.clk.Add(notify.DefaultTTL - time.Millisecond)
	assert.Len(t, f.bus.Active(), 1, "still visible just before the TTL")
	f.clk.Add(time.Millisecond)
	assert.Empty(t, f.bus.Active())
}

func TestConnect_AlreadyConnected(t *testing.T) {
	f := newFlow(t, unreachableRelay(t))

	_, err := f.session.Connect(context.Background())
	require.NoError(t, err)
	addr, err := f.session.Connect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, testOwner, addr)
	assert.Equal(t, 1, f.provider.connectCount())
}

func TestConnect_NoProviderIsSilent(t *testing.T) {
	bus := notify.NewBus(nil, 0, nil, nil)
	session := NewSession(nil, bus, nil, nil)

	addr, err := session.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, common.Address{}, addr)
	assert.Equal(t, Disconnected, session.State())
	assert.Empty(t, bus.Active())
}

func TestConnect_Failure(t *testing.T) {
	tests := []struct {
		name  string
		setup func(p *fakeProvider)
	}{
		{
			name:  "user rejected",
			setup: func(p *fakeProvider) { p.connectErr = errors.New("user rejected the request") },
		},
		{
			name:  "no account",
			setup: func(p *fakeProvider) { p.address = common.Address{} },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFlow(t, unreachableRelay(t))
			tt.setup(f.provider)

			addr, err := f.session.Connect(context.Background())
			require.Error(t, err)
			assert.Equal(t, common.Address{}, addr)
			assert.True(t, IsFlowError(err, KindConnection))
			assert.Equal(t, Disconnected, f.session.State())

			_, err = f.session.Address()
			assert.ErrorIs(t, err, ErrNotConnected)

			latest, ok := f.bus.LatestError()
			require.True(t, ok)
			assert.Equal(t, EventConnectionFailed, latest.Name)
			assert.Equal(t, MsgConnectionFailed, latest.Message)
		})
	}
}

func TestConnect_CauseIsWrapped(t *testing.T) {
	f := newFlow(t, unreachableRelay(t))
	rejected := errors.New("user rejected the request")
	f.provider.connectErr = rejected

	_, err := f.session.Connect(context.Background())

	var flowErr *FlowError
	require.True(t, errors.As(err, &flowErr))
	assert.Equal(t, MsgConnectionFailed, flowErr.Message)
	assert.ErrorIs(t, err, rejected)
}

func TestConnect_RetryAfterFailure(t *testing.T) {
	f := newFlow(t, unreachableRelay(t))
	f.provider.connectErr = errors.New("wallet locked")

	_, err := f.session.Connect(context.Background())
	require.Error(t, err)

	f.provider.mu.Lock()
	f.provider.connectErr = nil
	f.provider.mu.Unlock()

	addr, err := f.session.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testOwner, addr)
}

func TestConnect_InFlightRejected(t *testing.T) {
	f := newFlow(t, unreachableRelay(t))
	started := make(chan struct{})
	release := make(chan struct{})
	f.provider.connect = func(ctx context.Context) {
		close(started)
		<-release
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.session.Connect(context.Background())
		done <- err
	}()
	<-started

	assert.Equal(t, Connecting, f.session.State())
	_, err := f.session.Connect(context.Background())
	assert.ErrorIs(t, err, ErrConnectInFlight)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, f.provider.connectCount())
}

func TestConnect_DisconnectWhilePending(t *testing.T) {
	f := newFlow(t, unreachableRelay(t))
	started := make(chan struct{})
	release := make(chan struct{})
	f.provider.connect = func(ctx context.Context) {
		close(started)
		<-release
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.session.Connect(context.Background())
		done <- err
	}()
	<-started

	f.session.Disconnect(context.Background())
	close(release)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSessionChanged)
	case <-time.After(2 * time.Second):
		t.Fatal("connect did not return")
	}
	assert.Equal(t, Disconnected, f.session.State())
	assert.Empty(t, f.bus.Active())
}

// TestDisconnect_CascadesResets checks that nothing wallet-scoped survives a
// disconnect.
//
// WHAT IS BEING TESTED:
// Disconnect after a connect, an approval, a send and a saved draft.
//
// EXPECTED BEHAVIOR:
// The session has no address, the approval is back to not_approved, and the
// transfer result, success flag and draft are all cleared.
func TestDisconnect_CascadesResets(t *testing.T) {
	relay, _ := newRelayServer(t, 200, `{"etherscanTx":"https://etherscan.io/tx/0x99"}`)
	f := newFlow(t, relay)
	f.ready(t)

	f.transferer.SetDraft("0x000000000000000000000000000000000000dEaD", "10")
	_, err := f.transferer.SendDraft(context.Background())
	require.NoError(t, err)
	f.transferer.SetDraft("0x000000000000000000000000000000000000dEaD", "5")

	f.session.Disconnect(context.Background())

	assert.Equal(t, Disconnected, f.session.State())
	assert.Equal(t, ApprovalStatus{State: NotApproved}, f.approver.Status())
	assert.False(t, f.approver.Approved())
	_, ok := f.transferer.Result()
	assert.False(t, ok)
	assert.False(t, f.transferer.Success())
	assert.False(t, f.transferer.Celebrating())
	assert.Equal(t, Draft{}, f.transferer.Draft())
}

func TestDisconnect_FromAnyState(t *testing.T) {
	f := newFlow(t, unreachableRelay(t))

	assert.NotPanics(t, func() { f.session.Disconnect(context.Background()) })
	assert.Equal(t, ApprovalStatus{State: NotApproved}, f.approver.Status())

	f.provider.sendErr = errors.New("execution reverted")
	_, err := f.session.Connect(context.Background())
	require.NoError(t, err)
	require.Error(t, f.approver.Approve(context.Background()))
	require.Equal(t, ApprovalFailed, f.approver.Status().State)

	f.session.Disconnect(context.Background())
	assert.Equal(t, NotApproved, f.approver.Status().State)
}

func TestSessionState_String(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "unknown", SessionState(42).String())
}
