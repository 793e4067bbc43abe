// Package chain provides the on-chain plumbing shared by settlement
// and distribution: client construction per network, nonce sequencing,
// gas price escalation, receipt waits and per-account serialization.
package chain

import (
	"context"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/vitwit/x402-facilitator/types"
)

// Backend is the subset of *ethclient.Client the facilitator uses.
// Reads, writes and gas suggestions all go through it so tests can
// substitute a fake chain.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// ClientSource resolves a Backend for a network. Satisfied by
// *Provider; tests substitute fixed fakes.
type ClientSource interface {
	GetClient(network types.Network) (Backend, error)
}
