package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

const receiptPollInterval = 2 * time.Second

// WaitForReceipt polls for the transaction's receipt until it is
// available or the timeout elapses. With zero confirmations the
// receipt's existence is enough; otherwise the containing block must
// be at least confirmations-1 blocks behind the head.
func WaitForReceipt(
	ctx context.Context,
	backend Backend,
	txHash common.Hash,
	timeout time.Duration,
	confirmations uint64,
) (*ethtypes.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := backend.TransactionReceipt(waitCtx, txHash)
		if err == nil && receipt != nil {
			if confirmations <= 1 {
				return receipt, nil
			}
			head, err := backend.BlockNumber(waitCtx)
			if err == nil && head >= receipt.BlockNumber.Uint64()+confirmations-1 {
				return receipt, nil
			}
		}

		select {
		case <-waitCtx.Done():
			return nil, fmt.Errorf("timed out waiting for receipt of %s: %w", txHash.Hex(), waitCtx.Err())
		case <-ticker.C:
		}
	}
}
