// Package verification checks signed EIP-3009 payment authorizations
// against payment requirements: signature, validity window, balance
// and authorization-nonce state, plus an on-chain call simulation.
package verification

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/vitwit/x402-facilitator/chain"
	"github.com/vitwit/x402-facilitator/logger"
	"github.com/vitwit/x402-facilitator/metrics"
	"github.com/vitwit/x402-facilitator/types"
)

// DefaultTimeout bounds the chain reads of a single verification.
const DefaultTimeout = 30 * time.Second

// Service verifies payments. It only reads chain state; it never
// submits transactions.
type Service struct {
	clients chain.ClientSource
	log     logger.Logger
	rec     metrics.Recorder
	timeout time.Duration
}

func NewService(clients chain.ClientSource, log logger.Logger, rec metrics.Recorder, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{clients: clients, log: log, rec: rec, timeout: timeout}
}

// Verify checks the payment payload against the requirements and
// current chain state. Domain failures come back as an invalid
// verdict, not an error; errors are reserved for infrastructure
// problems (RPC unreachable and the like).
func (s *Service) Verify(ctx context.Context, req *types.VerifyRequest) (*types.VerifyResponse, error) {
	start := time.Now()
	labels := map[string]string{"network": req.PaymentRequirements.Network}
	defer func() {
		s.rec.ObserveLatency(metrics.EventVerify, time.Since(start), labels)
	}()

	invalid := func(reason string) *types.VerifyResponse {
		s.rec.IncCounter(metrics.EventVerifyInvalid, labels)
		s.log.Debug("payment rejected", map[string]any{
			"network": req.PaymentRequirements.Network,
			"reason":  reason,
		})
		return &types.VerifyResponse{IsValid: false, InvalidReason: reason}
	}

	verifyCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	reqs := &req.PaymentRequirements

	if !strings.EqualFold(reqs.Scheme, string(types.SchemeExact)) {
		return invalid("unsupported scheme"), nil
	}
	if err := req.PaymentPayload.Matches(reqs); err != nil {
		return invalid(err.Error()), nil
	}

	network := types.Network(reqs.Network)
	if !network.IsEVM() {
		return invalid(fmt.Sprintf("unsupported network: %s", network)), nil
	}

	payload, err := req.PaymentPayload.ExactEvmPayload()
	if err != nil {
		return invalid(err.Error()), nil
	}
	auth := payload.Authorization

	if !strings.EqualFold(auth.To, reqs.PayTo) {
		return invalid("recipient mismatch"), nil
	}

	required, err := reqs.Amount()
	if err != nil {
		return invalid(err.Error()), nil
	}
	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return invalid("invalid authorization value"), nil
	}
	if value.Cmp(required) < 0 {
		return invalid("insufficient amount"), nil
	}

	if reason := checkValidityWindow(auth); reason != "" {
		return invalid(reason), nil
	}

	chainID := network.ChainID()
	token := common.HexToAddress(reqs.Asset)
	tokenName, tokenVersion := tokenDomain(reqs)

	digest, err := AuthorizationDigest(auth, chainID, token, tokenName, tokenVersion)
	if err != nil {
		return invalid(err.Error()), nil
	}
	signer, err := RecoverSigner(digest, payload.Signature)
	if err != nil {
		return invalid(fmt.Sprintf("invalid signature: %v", err)), nil
	}
	if !strings.EqualFold(signer.Hex(), auth.From) {
		return invalid("signature signer mismatch"), nil
	}

	backend, err := s.clients.GetClient(network)
	if err != nil {
		return nil, err
	}

	erc20 := chain.NewERC20(token, backend)

	balance, err := erc20.BalanceOf(verifyCtx, common.HexToAddress(auth.From))
	if err != nil {
		return nil, fmt.Errorf("balance check: %w", err)
	}
	if balance.Cmp(value) < 0 {
		return invalid("insufficient balance"), nil
	}

	nonce, err := HexToBytes32(auth.Nonce)
	if err != nil {
		return invalid("invalid authorization nonce"), nil
	}
	used, err := erc20.AuthorizationState(verifyCtx, common.HexToAddress(auth.From), nonce)
	if err != nil {
		return nil, fmt.Errorf("authorization state check: %w", err)
	}
	if used {
		return invalid("authorization nonce already used"), nil
	}

	if reason, err := s.simulateTransfer(verifyCtx, backend, token, auth, payload.Signature); err != nil {
		return nil, err
	} else if reason != "" {
		return invalid(reason), nil
	}

	s.log.Debug("payment verified", map[string]any{
		"network": reqs.Network,
		"payer":   auth.From,
		"value":   auth.Value,
	})

	return &types.VerifyResponse{IsValid: true, Payer: auth.From}, nil
}

func checkValidityWindow(auth types.EIP3009Authorization) string {
	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok {
		return "invalid validAfter"
	}
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return "invalid validBefore"
	}
	now := big.NewInt(time.Now().Unix())
	if now.Cmp(validAfter) < 0 {
		return "authorization not yet valid"
	}
	if now.Cmp(validBefore) > 0 {
		return "authorization expired"
	}
	return ""
}

// simulateTransfer dry-runs transferWithAuthorization via eth_call. A
// revert means the settlement would fail on-chain; the revert reason is
// surfaced as the invalid reason.
func (s *Service) simulateTransfer(
	ctx context.Context,
	backend chain.Backend,
	token common.Address,
	auth types.EIP3009Authorization,
	sigHex string,
) (string, error) {
	v, r, sg, err := SplitSignature(sigHex)
	if err != nil {
		return fmt.Sprintf("invalid signature format: %v", err), nil
	}

	value, _ := new(big.Int).SetString(auth.Value, 10)
	validAfter, _ := new(big.Int).SetString(auth.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(auth.ValidBefore, 10)
	nonce, err := HexToBytes32(auth.Nonce)
	if err != nil {
		return "invalid authorization nonce", nil
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
		return "", fmt.Errorf("pack transferWithAuthorization: %w", err)
	}

	msg := ethereum.CallMsg{From: common.HexToAddress(auth.From), To: &token, Data: calldata}
	if _, err := backend.CallContract(ctx, msg, nil); err != nil {
		return fmt.Sprintf("simulation failed: %v", err), nil
	}
	return "", nil
}

func tokenDomain(reqs *types.PaymentRequirements) (name, version string) {
	name, version = DefaultTokenName, DefaultTokenVersion
	if reqs.Extra != nil {
		if n, ok := reqs.Extra["name"].(string); ok && n != "" {
			name = n
		}
		if v, ok := reqs.Extra["version"].(string); ok && v != "" {
			version = v
		}
	}
	return name, version
}
