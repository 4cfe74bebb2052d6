package evm

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNotConnected is returned by a Provider when an operation needs an account
// that has not been connected yet.
var ErrNotConnected = errors.New("wallet provider is not connected")

// Provider is the wallet capability the transfer flow depends on.
// Implementations own the signing key (or the link to an external signer);
// callers only ever see addresses and transaction handles.
type Provider interface {
	// Connect asks the wallet for an account and returns its address.
	Connect(ctx context.Context) (common.Address, error)

	// Address returns the address of the connected account.
	Address(ctx context.Context) (common.Address, error)

	// SendContractCall signs and submits a state-changing contract call.
	// abiJSON only needs to describe the called method.
	SendContractCall(ctx context.Context, contract common.Address, abiJSON []byte, method string, args ...interface{}) (TxHandle, error)
}

// TxHandle refers to a submitted transaction.
type TxHandle interface {
	// Hash returns the transaction hash.
	Hash() common.Hash

	// Wait blocks until the transaction is mined. It returns an error if the
	// transaction reverted or ctx is done first.
	Wait(ctx context.Context) error
}
