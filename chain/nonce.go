package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// NextNonce reads the account's transaction count including pending
// transactions. It must be called immediately before each submission
// and never cached: within one run an approval transaction changes the
// next valid nonce for the payment transaction that follows it.
func NextNonce(ctx context.Context, backend Backend, account common.Address) (uint64, error) {
	nonce, err := backend.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("pending nonce for %s: %w", account.Hex(), err)
	}
	return nonce, nil
}
