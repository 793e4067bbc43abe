package facilitator

import (
	"encoding/hex"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/x402-facilitator/config"
	"github.com/vitwit/x402-facilitator/distribution"
)

func TestNewRejectsBadKey(t *testing.T) {
	_, err := New(&config.Config{
		PrivateKey:      "not-hex",
		ProjectID:       "127",
		TerminalAddress: config.DefaultTerminalAddress,
	})
	require.ErrorContains(t, err, "invalid private key")
}

func TestNewRejectsBadProjectID(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	_, err = New(&config.Config{
		PrivateKey:      hex.EncodeToString(crypto.FromECDSA(key)),
		ProjectID:       "abc",
		TerminalAddress: config.DefaultTerminalAddress,
	})
	require.ErrorContains(t, err, "invalid project id")
}

func TestDistributionTimeoutOption(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	f := NewWithSigner(key, distribution.Config{ProjectID: big.NewInt(127)}, nil,
		WithDistributionTimeout(5*time.Second))
	defer f.Close()

	// The option bounds only the distribution phase of a settlement;
	// verification keeps its own fixed chain-read timeout.
	assert.Equal(t, 5*time.Second, f.timeout)
}

func TestSupported(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	f := NewWithSigner(key, distribution.Config{ProjectID: big.NewInt(127)}, nil)
	defer f.Close()

	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), f.Account())

	supported := f.Supported()
	require.Len(t, supported.Kinds, 2)
	for _, kind := range supported.Kinds {
		assert.Equal(t, 1, kind.X402Version)
		assert.Equal(t, "exact", kind.Scheme)
	}
	assert.Equal(t, "base", supported.Kinds[0].Network)
	assert.Equal(t, "base-sepolia", supported.Kinds[1].Network)
}
