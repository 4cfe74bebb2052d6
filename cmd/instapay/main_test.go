package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/brojonat/instapay/client"
	"github.com/brojonat/instapay/service/config"
	"github.com/brojonat/instapay/service/evm"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRecipient = "0x000000000000000000000000000000000000dEaD"

var testWallet = common.HexToAddress("0x1111111111111111111111111111111111111111")

type stubTx struct{}

func (stubTx) Hash() common.Hash              { return common.HexToHash("0xabc") }
func (stubTx) Wait(ctx context.Context) error { return nil }

type stubProvider struct {
	mu      sync.Mutex
	methods []string
}

func (p *stubProvider) Connect(ctx context.Context) (common.Address, error) {
	return testWallet, nil
}

func (p *stubProvider) Address(ctx context.Context) (common.Address, error) {
	return testWallet, nil
}

func (p *stubProvider) SendContractCall(ctx context.Context, contract common.Address, abiJSON []byte, method string, args ...interface{}) (evm.TxHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.methods = append(p.methods, method)
	return stubTx{}, nil
}

func (p *stubProvider) calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.methods...)
}

// useProvider swaps the wallet factory for the duration of the test.
// A nil provider means no wallet is configured.
func useProvider(t *testing.T, p evm.Provider) {
	t.Helper()
	orig := newProvider
	newProvider = func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (evm.Provider, error) {
		return p, nil
	}
	t.Cleanup(func() { newProvider = orig })
}

// newRelay starts a relay stub and returns its URL and a request counter.
func newRelay(t *testing.T, status int, body string) (string, func() []client.SendRequest) {
	t.Helper()
	var (
		mu       sync.Mutex
		received []client.SendRequest
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req client.SendRequest
		json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		received = append(received, req)
		mu.Unlock()

		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	return server.URL, func() []client.SendRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]client.SendRequest(nil), received...)
	}
}

// run executes the CLI with args and optional stdin, returning stdout.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.Reader = strings.NewReader(stdin)

	err := app.Run(append([]string{"instapay", "--rpc-url", "http://127.0.0.1:8545", "--log-level", "error"}, args...))
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	// Set version info
	version = "1.0.0"
	commit = "abc123"
	date = "2025-10-10"

	out, err := run(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version: 1.0.0")
	assert.Contains(t, out, "Commit:  abc123")
}

func TestWalletConnectCommand(t *testing.T) {
	useProvider(t, &stubProvider{})

	out, err := run(t, "", "wallet", "connect")
	require.NoError(t, err)
	assert.Contains(t, out, "Wallet connected successfully")
	assert.Contains(t, out, "0x1111…1111")
}

func TestWalletConnectCommand_JSON(t *testing.T) {
	useProvider(t, &stubProvider{})

	out, err := run(t, "", "--json", "wallet", "connect")
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, testWallet.Hex(), got["address"])
}

func TestWalletConnectCommand_NoWallet(t *testing.T) {
	useProvider(t, nil)

	_, err := run(t, "", "wallet", "connect")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no wallet available")
}

func TestApproveCommand(t *testing.T) {
	provider := &stubProvider{}
	useProvider(t, provider)

	out, err := run(t, "", "approve")
	require.NoError(t, err)
	assert.Contains(t, out, "USDC approved successfully")
	assert.Equal(t, []string{evm.ApproveMethod}, provider.calls())
}

func TestSendCommand_Success(t *testing.T) {
	provider := &stubProvider{}
	useProvider(t, provider)
	relayURL, requests := newRelay(t, http.StatusOK, `{"etherscanTx":"https://etherscan.io/tx/0x99"}`)

	out, err := run(t, "", "--relay-url", relayURL, "send", testRecipient, "10")
	require.NoError(t, err)
	assert.Contains(t, out, "Transaction sent")
	assert.Contains(t, out, "https://etherscan.io/tx/0x99")

	got := requests()
	require.Len(t, got, 1)
	assert.Equal(t, client.SendRequest{Sender: testWallet.Hex(), Recipient: testRecipient, Amount: "10"}, got[0])
	assert.Equal(t, []string{evm.ApproveMethod}, provider.calls(), "approval must precede the send")
}

func TestSendCommand_RelayErrorIsVerbatim(t *testing.T) {
	useProvider(t, &stubProvider{})
	relayURL, requests := newRelay(t, http.StatusBadRequest, `{"error":"Insufficient balance"}`)

	_, err := run(t, "", "--relay-url", relayURL, "send", testRecipient, "10")
	require.Error(t, err)
	assert.Equal(t, "Insufficient balance", err.Error())
	assert.Len(t, requests(), 1)
}

func TestSendCommand_SuccessWithoutExplorerURL(t *testing.T) {
	useProvider(t, &stubProvider{})
	relayURL, requests := newRelay(t, http.StatusOK, `{}`)

	out, err := run(t, "", "--relay-url", relayURL, "send", testRecipient, "10")
	require.Error(t, err)
	assert.Equal(t, "Transaction failed", err.Error())
	assert.NotContains(t, out, "Explorer:")
	assert.Len(t, requests(), 1)
}

func TestSendCommand_InvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"missing amount", []string{"send", testRecipient}, "recipient and amount are required"},
		{"bad recipient", []string{"send", "0x...", "10"}, "invalid recipient address"},
		{"bad amount", []string{"send", testRecipient, "ten"}, "invalid amount"},
		{"negative amount", []string{"send", testRecipient, "-1"}, "must not be negative"},
		{"too precise", []string{"send", testRecipient, "0.0000001"}, "more than 6 decimal places"},
		{"zero amount", []string{"send", testRecipient, "0"}, "amount must be greater than zero"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			useProvider(t, &stubProvider{})
			relayURL, requests := newRelay(t, http.StatusOK, `{}`)

			_, err := run(t, "", append([]string{"--relay-url", relayURL}, tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Empty(t, requests())
		})
	}
}

func TestConfigFromFlags_InvalidAddresses(t *testing.T) {
	useProvider(t, &stubProvider{})

	_, err := run(t, "", "--token", "usdc", "--spender", "0x12", "wallet", "connect")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `--token: invalid address "usdc"`)
	assert.Contains(t, err.Error(), `--spender: invalid address "0x12"`)
}

func TestConfigFromFlags_InvalidApprovalAmount(t *testing.T) {
	useProvider(t, &stubProvider{})

	_, err := run(t, "", "--approval-amount", "0", "approve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ApprovalAmount must be greater than zero")
}

func TestConfigCheckCommand(t *testing.T) {
	os.Setenv("ETH_RPC_URL", "https://sepolia.example.com")
	os.Setenv("WALLET_PRIVATE_KEY", "0xabc")
	defer os.Unsetenv("ETH_RPC_URL")
	defer os.Unsetenv("WALLET_PRIVATE_KEY")

	out, err := run(t, "", "config", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")
	assert.Contains(t, out, "Wallet:    configured")
	assert.Contains(t, out, "1000000000 base units")
	assert.NotContains(t, out, "0xabc")
}
