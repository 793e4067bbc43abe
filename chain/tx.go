package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// SubmitCall signs a contract call as a legacy transaction at the given
// gas price and nonce, submits it, and returns the transaction hash.
// No native value is attached; all payments here are token payments.
func SubmitCall(
	ctx context.Context,
	backend Backend,
	key *ecdsa.PrivateKey,
	chainID *big.Int,
	to common.Address,
	calldata []byte,
	gasPrice *big.Int,
	nonce uint64,
) (common.Hash, error) {
	from := crypto.PubkeyToAddress(key.PublicKey)

	gasLimit, err := backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: calldata})
	if err != nil {
		return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
	}

	tx := ethtypes.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, calldata)

	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(chainID), key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}

	if err := backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send tx: %w", err)
	}

	return signed.Hash(), nil
}
