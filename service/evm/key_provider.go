package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Backend is the subset of the Ethereum JSON-RPC API used by KeyProvider.
// *ethclient.Client satisfies it; tests substitute an in-memory fake.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// DefaultReceiptPollInterval is used when no poll interval is given.
const DefaultReceiptPollInterval = time.Second

// KeyProvider is a Provider backed by a local ECDSA key and an RPC node.
type KeyProvider struct {
	backend      Backend
	privateKey   *ecdsa.PrivateKey
	address      common.Address
	pollInterval time.Duration
	logger       *slog.Logger

	mu        sync.Mutex
	chainID   *big.Int
	connected bool
}

// NewKeyProvider creates a provider from a hex-encoded private key (with or
// without the 0x prefix).
func NewKeyProvider(backend Backend, privateKeyHex string, pollInterval time.Duration, logger *slog.Logger) (*KeyProvider, error) {
	privateKeyHex = strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")

	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	if pollInterval <= 0 {
		pollInterval = DefaultReceiptPollInterval
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	return &KeyProvider{
		backend:      backend,
		privateKey:   privateKey,
		address:      crypto.PubkeyToAddress(privateKey.PublicKey),
		pollInterval: pollInterval,
		logger:       logger,
	}, nil
}

// Dial connects to rpcURL and returns a KeyProvider using that node.
func Dial(ctx context.Context, rpcURL, privateKeyHex string, pollInterval time.Duration, logger *slog.Logger) (*KeyProvider, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	return NewKeyProvider(client, privateKeyHex, pollInterval, logger)
}

// Connect resolves the chain ID and marks the account as connected.
func (p *KeyProvider) Connect(ctx context.Context) (common.Address, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.chainID == nil {
		chainID, err := p.backend.ChainID(ctx)
		if err != nil {
			return common.Address{}, fmt.Errorf("failed to get chain ID: %w", err)
		}
		p.chainID = chainID
	}
	p.connected = true

	p.logger.DebugContext(ctx, "wallet provider connected",
		"address", p.address.Hex(),
		"chain_id", p.chainID.String(),
	)
	return p.address, nil
}

// Address returns the account address once Connect has succeeded.
func (p *KeyProvider) Address(ctx context.Context) (common.Address, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return common.Address{}, ErrNotConnected
	}
	return p.address, nil
}

// SendContractCall packs, signs and broadcasts a contract call.
func (p *KeyProvider) SendContractCall(ctx context.Context, contract common.Address, abiJSON []byte, method string, args ...interface{}) (TxHandle, error) {
	p.mu.Lock()
	connected, chainID := p.connected, p.chainID
	p.mu.Unlock()
	if !connected {
		return nil, ErrNotConnected
	}

	contractABI, err := abi.JSON(strings.NewReader(string(abiJSON)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}

	nonce, err := p.backend.PendingNonceAt(ctx, p.address)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}
	gasPrice, err := p.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	gas, err := p.backend.EstimateGas(ctx, ethereum.CallMsg{
		From: p.address,
		To:   &contract,
		Data: data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gas: %w", err)
	}

	tx := types.NewTransaction(nonce, contract, big.NewInt(0), gas, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), p.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := p.backend.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}

	p.logger.DebugContext(ctx, "contract call submitted",
		"contract", contract.Hex(),
		"method", method,
		"tx_hash", signedTx.Hash().Hex(),
		"nonce", nonce,
		"gas", gas,
	)

	return &txHandle{
		hash:     signedTx.Hash(),
		backend:  p.backend,
		interval: p.pollInterval,
	}, nil
}

type txHandle struct {
	hash     common.Hash
	backend  Backend
	interval time.Duration
}

func (h *txHandle) Hash() common.Hash {
	return h.hash
}

// Wait polls for the receipt until it exists or ctx is done.
func (h *txHandle) Wait(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		receipt, err := h.backend.TransactionReceipt(ctx, h.hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("transaction %s reverted in block %s", h.hash.Hex(), receipt.BlockNumber)
			}
			return nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			return fmt.Errorf("failed to get receipt for %s: %w", h.hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
