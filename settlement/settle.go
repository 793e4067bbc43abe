// Package settlement executes the primary authorized transfer into the
// escrow account and orchestrates the best-effort secondary
// distribution that follows it.
package settlement

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vitwit/x402-facilitator/chain"
	"github.com/vitwit/x402-facilitator/logger"
	"github.com/vitwit/x402-facilitator/metrics"
	"github.com/vitwit/x402-facilitator/types"
	"github.com/vitwit/x402-facilitator/verification"
)

// Settler executes the primary authorized transfer on-chain.
type Settler interface {
	Settle(ctx context.Context, req *types.VerifyRequest) (*types.SettlementResult, error)
}

// Service settles EIP-3009 payments by redeeming the signed
// authorization from the facilitator's account: the token contract
// moves the payer's funds to the escrow address named in the
// authorization.
type Service struct {
	clients  chain.ClientSource
	verifier *verification.Service
	signer   *ecdsa.PrivateKey
	account  common.Address
	queue    *chain.AccountQueue
	log      logger.Logger
	rec      metrics.Recorder
	timeout  time.Duration
}

func NewService(
	clients chain.ClientSource,
	verifier *verification.Service,
	signer *ecdsa.PrivateKey,
	queue *chain.AccountQueue,
	log logger.Logger,
	rec metrics.Recorder,
	timeout time.Duration,
) *Service {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Service{
		clients:  clients,
		verifier: verifier,
		signer:   signer,
		account:  crypto.PubkeyToAddress(signer.PublicKey),
		queue:    queue,
		log:      log,
		rec:      rec,
		timeout:  timeout,
	}
}

func failed(network, reason string) *types.SettlementResult {
	return &types.SettlementResult{Success: false, ErrorReason: reason, Network: network}
}

// Settle verifies the payment and, if valid, submits
// transferWithAuthorization and waits for its receipt. Settlement
// failures are reported in the result, not as errors.
func (s *Service) Settle(ctx context.Context, req *types.VerifyRequest) (*types.SettlementResult, error) {
	network := req.PaymentRequirements.Network
	labels := map[string]string{"network": network}

	start := time.Now()
	defer func() {
		s.rec.ObserveLatency(metrics.EventSettle, time.Since(start), labels)
	}()

	verdict, err := s.verifier.Verify(ctx, req)
	if err != nil {
		return nil, err
	}
	if !verdict.IsValid {
		s.rec.IncCounter(metrics.EventSettleFailed, labels)
		return failed(network, verdict.InvalidReason), nil
	}

	payload, err := req.PaymentPayload.ExactEvmPayload()
	if err != nil {
		return failed(network, err.Error()), nil
	}
	auth := payload.Authorization

	calldata, reason := packTransferWithAuthorization(auth, payload.Signature)
	if reason != "" {
		return failed(network, reason), nil
	}

	backend, err := s.clients.GetClient(types.Network(network))
	if err != nil {
		return nil, err
	}
	chainID := types.Network(network).ChainID()
	token := common.HexToAddress(req.PaymentRequirements.Asset)

	txHash, err := s.submit(ctx, backend, chainID, token, calldata)
	if err != nil {
		s.rec.IncCounter(metrics.EventSettleFailed, labels)
		return failed(network, fmt.Sprintf("failed to execute transfer: %v", err)), nil
	}

	receipt, err := chain.WaitForReceipt(ctx, backend, txHash, s.timeout, 1)
	if err != nil {
		s.rec.IncCounter(metrics.EventSettleFailed, labels)
		return failed(network, fmt.Sprintf("failed to get receipt: %v", err)), nil
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		s.rec.IncCounter(metrics.EventSettleFailed, labels)
		result := failed(network, "transaction failed")
		result.Transaction = txHash.Hex()
		return result, nil
	}

	s.log.Info("settlement confirmed", map[string]any{
		"network": network,
		"tx":      txHash.Hex(),
		"payer":   auth.From,
		"value":   types.HumanAmount(auth.Value, types.USDCDecimals),
	})

	return &types.SettlementResult{
		Success:     true,
		Transaction: txHash.Hex(),
		Network:     network,
		Payer:       auth.From,
	}, nil
}

// submit reads the nonce and sends the transaction while holding the
// account's queue slot, so concurrent settlements from the same
// account cannot collide on nonces.
func (s *Service) submit(
	ctx context.Context,
	backend chain.Backend,
	chainID *big.Int,
	token common.Address,
	calldata []byte,
) (common.Hash, error) {
	release := s.queue.Acquire(s.account)
	defer release()

	nonce, err := chain.NextNonce(ctx, backend, s.account)
	if err != nil {
		return common.Hash{}, err
	}
	gasPrice, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest gas price: %w", err)
	}
	return chain.SubmitCall(ctx, backend, s.signer, chainID, token, calldata, gasPrice, nonce)
}

func packTransferWithAuthorization(auth types.EIP3009Authorization, sigHex string) ([]byte, string) {
	v, r, sg, err := verification.SplitSignature(sigHex)
	if err != nil {
		return nil, fmt.Sprintf("invalid signature format: %v", err)
	}

	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return nil, "invalid authorization value"
	}
	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok {
		return nil, "invalid validAfter"
	}
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return nil, "invalid validBefore"
	}
	nonce, err := verification.HexToBytes32(auth.Nonce)
	if err != nil {
		return nil, "invalid authorization nonce"
	}

	calldata, err := chain.ERC20ABI.Pack(
		"transferWithAuthorization",
		common.HexToAddress(auth.From),
		common.HexToAddress(auth.To),
		value,
		validAfter,
		validBefore,
		nonce,
		v,
		r,
		sg,
	)
	if err != nil {
		return nil, fmt.Sprintf("pack call data failed: %v", err)
	}
	return calldata, ""
}
