// Package facilitator implements an x402 payment facilitator with
// two-phase settlement: payments are pulled into escrow through signed
// EIP-3009 authorizations, then forwarded into a project terminal on a
// best-effort basis.
package facilitator

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vitwit/x402-facilitator/chain"
	"github.com/vitwit/x402-facilitator/config"
	"github.com/vitwit/x402-facilitator/distribution"
	"github.com/vitwit/x402-facilitator/logger"
	"github.com/vitwit/x402-facilitator/metrics"
	"github.com/vitwit/x402-facilitator/settlement"
	"github.com/vitwit/x402-facilitator/types"
	"github.com/vitwit/x402-facilitator/verification"
)

// Facilitator wires the verification, settlement and distribution
// services behind a single entry point.
type Facilitator struct {
	provider     *chain.Provider
	verifier     *verification.Service
	orchestrator *settlement.Orchestrator

	log     logger.Logger
	rec     metrics.Recorder
	timeout time.Duration

	account common.Address
}

// New builds a Facilitator from configuration. The private key in the
// configuration signs every on-chain submission.
func New(cfg *config.Config, opts ...Option) (*Facilitator, error) {
	f := &Facilitator{
		log:     logger.NoopLogger{},
		rec:     metrics.NoopRecorder{},
		timeout: settlement.DefaultDistributionTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}

	key, err := crypto.HexToECDSA(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	f.account = crypto.PubkeyToAddress(key.PublicKey)

	projectID, err := cfg.ProjectIDInt()
	if err != nil {
		return nil, err
	}

	f.provider = chain.NewProvider(cfg.RPCURLs)
	queue := chain.NewAccountQueue()

	f.verifier = verification.NewService(f.provider, f.log, f.rec, verification.DefaultTimeout)
	settler := settlement.NewService(f.provider, f.verifier, key, queue, f.log, f.rec, 60*time.Second)

	executor := distribution.NewExecutor(f.provider, key, queue, distribution.Config{
		ProjectID: projectID,
		Terminal:  common.HexToAddress(cfg.TerminalAddress),
	}, f.log, f.rec)

	f.orchestrator = settlement.NewOrchestrator(settler, executor, f.log, f.rec, f.timeout)
	return f, nil
}

// NewWithSigner builds a Facilitator from an already-parsed key,
// bypassing environment configuration. Intended for tests and embedding.
func NewWithSigner(key *ecdsa.PrivateKey, dist distribution.Config, rpcURLs map[types.Network]string, opts ...Option) *Facilitator {
	f := &Facilitator{
		log:     logger.NoopLogger{},
		rec:     metrics.NoopRecorder{},
		timeout: settlement.DefaultDistributionTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.account = crypto.PubkeyToAddress(key.PublicKey)

	f.provider = chain.NewProvider(rpcURLs)
	queue := chain.NewAccountQueue()

	f.verifier = verification.NewService(f.provider, f.log, f.rec, verification.DefaultTimeout)
	settler := settlement.NewService(f.provider, f.verifier, key, queue, f.log, f.rec, 60*time.Second)
	executor := distribution.NewExecutor(f.provider, key, queue, dist, f.log, f.rec)

	f.orchestrator = settlement.NewOrchestrator(settler, executor, f.log, f.rec, f.timeout)
	return f
}

// Account returns the facilitator's signing address.
func (f *Facilitator) Account() common.Address {
	return f.account
}

// Verify checks a payment payload against its requirements without
// touching chain state beyond reads.
func (f *Facilitator) Verify(ctx context.Context, req *types.VerifyRequest) (*types.VerifyResponse, error) {
	return f.verifier.Verify(ctx, req)
}

// Settle runs the full two-phase settlement for a verified payment.
func (f *Facilitator) Settle(ctx context.Context, req *types.VerifyRequest) (*types.SettlementResult, error) {
	return f.orchestrator.Settle(ctx, req)
}

// Supported lists the scheme/network pairs this facilitator settles.
func (f *Facilitator) Supported() *types.SupportedResponse {
	kinds := make([]types.SupportedItem, 0, len(types.SupportedEVMNetworks))
	for _, network := range types.SupportedEVMNetworks {
		kinds = append(kinds, types.SupportedItem{
			X402Version: types.X402Version,
			Scheme:      string(types.SchemeExact),
			Network:     network.String(),
		})
	}
	return &types.SupportedResponse{Kinds: kinds}
}

// Close releases the cached RPC connections.
func (f *Facilitator) Close() {
	f.provider.Close()
}
