package distribution

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"regexp"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vitwit/x402-facilitator/chain"
	"github.com/vitwit/x402-facilitator/logger"
	"github.com/vitwit/x402-facilitator/metrics"
	"github.com/vitwit/x402-facilitator/types"
)

// DefaultPaymentWait bounds the pay-into-project confirmation wait.
const DefaultPaymentWait = 60 * time.Second

// Config carries the provider/facilitator distribution agreement.
type Config struct {
	// ProjectID is the target project in the terminal contract.
	ProjectID *big.Int

	// Terminal is the distribution contract receiving pay() calls.
	Terminal common.Address

	// MinReturnedTokens floors the project tokens minted to the
	// beneficiary. Zero accepts any return.
	MinReturnedTokens *big.Int

	// Metadata is opaque extra calldata for the terminal; may be empty.
	Metadata []byte

	// ApprovalWait and PaymentWait override the confirmation wait
	// policy; zero values select the defaults.
	ApprovalWait time.Duration
	PaymentWait  time.Duration
}

// Executor runs the secondary distribution leg. Every failure is
// captured into the returned DistributionResult; nothing here can fail
// the settlement it follows.
type Executor struct {
	clients    chain.ClientSource
	signer     *ecdsa.PrivateKey
	account    common.Address
	queue      *chain.AccountQueue
	allowances *AllowanceManager
	cfg        Config
	log        logger.Logger
	rec        metrics.Recorder
}

func NewExecutor(
	clients chain.ClientSource,
	signer *ecdsa.PrivateKey,
	queue *chain.AccountQueue,
	cfg Config,
	log logger.Logger,
	rec metrics.Recorder,
) *Executor {
	if cfg.MinReturnedTokens == nil {
		cfg.MinReturnedTokens = big.NewInt(0)
	}
	if cfg.PaymentWait <= 0 {
		cfg.PaymentWait = DefaultPaymentWait
	}
	return &Executor{
		clients:    clients,
		signer:     signer,
		account:    crypto.PubkeyToAddress(signer.PublicKey),
		queue:      queue,
		allowances: NewAllowanceManager(log, cfg.ApprovalWait),
		cfg:        cfg,
		log:        log,
		rec:        rec,
	}
}

// ProjectID returns the configured target project identifier.
func (e *Executor) ProjectID() string {
	return e.cfg.ProjectID.String()
}

// Distribute forwards the settled amount into the project terminal:
// ensure allowance, acquire a fresh nonce, submit pay() at the
// escalated gas price, and wait one confirmation. Invoked only for
// settlements with Success set.
func (e *Executor) Distribute(
	ctx context.Context,
	settlement *types.SettlementResult,
	reqs *types.PaymentRequirements,
) *types.DistributionResult {
	labels := map[string]string{"network": reqs.Network}
	start := time.Now()
	defer func() {
		e.rec.ObserveLatency(metrics.EventDistribute, time.Since(start), labels)
	}()

	// The payer's account receives credit for the distributed payment.
	beneficiary := common.HexToAddress(settlement.Payer)

	result := &types.DistributionResult{
		ProjectID:   e.cfg.ProjectID.String(),
		Beneficiary: beneficiary.Hex(),
		Amount:      reqs.MaxAmountRequired,
		Token:       reqs.Asset,
	}

	fail := func(err error) *types.DistributionResult {
		e.rec.IncCounter(metrics.EventDistributeFailed, labels)
		e.log.Error("distribution failed", map[string]any{
			"network":   reqs.Network,
			"projectId": result.ProjectID,
			"error":     err.Error(),
		})
		result.Success = false
		result.Error = err.Error()
		return result
	}

	amount, err := reqs.Amount()
	if err != nil {
		return fail(err)
	}

	network := types.Network(reqs.Network)
	backend, err := e.clients.GetClient(network)
	if err != nil {
		return fail(err)
	}
	chainID := network.ChainID()
	token := common.HexToAddress(reqs.Asset)
	memo := buildMemo(reqs)

	calldata, err := TerminalABI.Pack(
		"pay",
		e.cfg.ProjectID,
		token,
		amount,
		beneficiary,
		e.cfg.MinReturnedTokens,
		memo,
		e.cfg.Metadata,
	)
	if err != nil {
		return fail(fmt.Errorf("pack pay: %w", err))
	}

	payTx, err := e.submitLeg(ctx, backend, chainID, token, calldata, result, labels)
	if err != nil {
		return fail(err)
	}
	result.PaymentTransaction = payTx.Hex()

	receipt, err := chain.WaitForReceipt(ctx, backend, payTx, e.cfg.PaymentWait, 1)
	if err != nil {
		return fail(err)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return fail(fmt.Errorf("distribution transaction %s reverted", payTx.Hex()))
	}

	e.log.Info("distribution confirmed", map[string]any{
		"network":     reqs.Network,
		"projectId":   result.ProjectID,
		"beneficiary": result.Beneficiary,
		"amount":      types.HumanAmount(result.Amount, types.USDCDecimals),
		"tx":          result.PaymentTransaction,
	})

	result.Success = true
	return result
}

// submitLeg performs the nonce-ordered submissions while holding the
// account's queue slot: the approval (when needed) must be submitted
// strictly before the payment nonce is read.
func (e *Executor) submitLeg(
	ctx context.Context,
	backend chain.Backend,
	chainID *big.Int,
	token common.Address,
	calldata []byte,
	result *types.DistributionResult,
	labels map[string]string,
) (common.Hash, error) {
	release := e.queue.Acquire(e.account)
	defer release()

	approvalTx, err := e.allowances.EnsureAllowance(ctx, backend, e.signer, chainID, token, e.account, e.cfg.Terminal)
	if err != nil {
		return common.Hash{}, err
	}
	if approvalTx != "" {
		result.ApprovalTransaction = approvalTx
		e.rec.IncCounter(metrics.EventApprovalSubmitted, labels)
	}

	nonce, err := chain.NextNonce(ctx, backend, e.account)
	if err != nil {
		return common.Hash{}, err
	}
	gasPrice, err := chain.EscalatedGasPrice(ctx, backend)
	if err != nil {
		return common.Hash{}, err
	}

	return chain.SubmitCall(ctx, backend, e.signer, chainID, e.cfg.Terminal, calldata, gasPrice, nonce)
}

var memoSanitizer = regexp.MustCompile(`[^a-zA-Z0-9]`)

// buildMemo embeds the scheme and a sanitized resource identifier in
// the terminal memo, e.g. "x402-exact-https___example_com_api_data".
func buildMemo(reqs *types.PaymentRequirements) string {
	resource := memoSanitizer.ReplaceAllString(reqs.Resource, "_")
	return fmt.Sprintf("x402-%s-%s", reqs.Scheme, resource)
}
