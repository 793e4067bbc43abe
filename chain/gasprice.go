package chain

import (
	"context"
	"fmt"
	"math/big"
)

// EscalatedGasPrice returns the network-suggested gas price with a
// fixed 100% premium. Transactions submitted back-to-back from the
// same account at the suggested price risk a "replacement transaction
// underpriced" rejection when the price drifts between submissions;
// overpaying avoids a resubmit loop.
func EscalatedGasPrice(ctx context.Context, backend Backend) (*big.Int, error) {
	suggested, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	escalated := new(big.Int).Mul(suggested, big.NewInt(200))
	return escalated.Div(escalated, big.NewInt(100)), nil
}
