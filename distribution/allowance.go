// Package distribution forwards settled funds into a project terminal
// contract as a best-effort secondary leg: allowance management,
// escalated gas pricing and the pay-into-project transaction.
package distribution

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vitwit/x402-facilitator/chain"
	"github.com/vitwit/x402-facilitator/logger"
)

// UnlimitedAllowance is the maximum uint256 value. Approvals are set
// to this sentinel so one approval covers every future distribution.
var UnlimitedAllowance = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// DefaultApprovalWait bounds the approval confirmation wait. A timeout
// here is not fatal: the approval was submitted, and if it fails to
// land the payment transaction fails and is reported instead.
const DefaultApprovalWait = 10 * time.Second

// AllowanceManager ensures a spender contract may move tokens out of
// the facilitator's account. Allowance is re-read on every call, never
// cached: it can change between runs.
type AllowanceManager struct {
	log          logger.Logger
	approvalWait time.Duration
}

func NewAllowanceManager(log logger.Logger, approvalWait time.Duration) *AllowanceManager {
	if approvalWait <= 0 {
		approvalWait = DefaultApprovalWait
	}
	return &AllowanceManager{log: log, approvalWait: approvalWait}
}

// EnsureAllowance checks the owner's current allowance for the spender
// and, if it is below the unlimited sentinel, submits an unlimited
// approval at the escalated gas price. The returned hash is empty when
// no approval was needed. An error means submission itself failed; an
// unconfirmed-but-submitted approval is logged and tolerated.
func (m *AllowanceManager) EnsureAllowance(
	ctx context.Context,
	backend chain.Backend,
	key *ecdsa.PrivateKey,
	chainID *big.Int,
	token, owner, spender common.Address,
) (string, error) {
	erc20 := chain.NewERC20(token, backend)

	current, err := erc20.Allowance(ctx, owner, spender)
	if err != nil {
		return "", fmt.Errorf("read allowance: %w", err)
	}
	if current.Cmp(UnlimitedAllowance) >= 0 {
		m.log.Debug("unlimited allowance already in place", map[string]any{
			"token":   token.Hex(),
			"spender": spender.Hex(),
		})
		return "", nil
	}

	calldata, err := chain.ERC20ABI.Pack("approve", spender, UnlimitedAllowance)
	if err != nil {
		return "", fmt.Errorf("pack approve: %w", err)
	}

	nonce, err := chain.NextNonce(ctx, backend, owner)
	if err != nil {
		return "", err
	}
	gasPrice, err := chain.EscalatedGasPrice(ctx, backend)
	if err != nil {
		return "", err
	}

	txHash, err := chain.SubmitCall(ctx, backend, key, chainID, token, calldata, gasPrice, nonce)
	if err != nil {
		return "", fmt.Errorf("submit approval: %w", err)
	}

	m.log.Info("unlimited approval submitted", map[string]any{
		"token":   token.Hex(),
		"spender": spender.Hex(),
		"tx":      txHash.Hex(),
	})

	if _, err := chain.WaitForReceipt(ctx, backend, txHash, m.approvalWait, 0); err != nil {
		m.log.Warn("approval confirmation timed out, proceeding", map[string]any{
			"tx": txHash.Hex(),
		})
	}

	return txHash.Hex(), nil
}
