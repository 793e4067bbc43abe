package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	chainID  *big.Int
	nonce    uint64
	gasPrice *big.Int
	head     uint64

	callFn    func(msg ethereum.CallMsg) ([]byte, error)
	receipts  map[common.Hash]*ethtypes.Receipt
	sent      []*ethtypes.Transaction
	sendErr   error
	nonceErr  error
	mu        sync.Mutex
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) {
	return f.chainID, nil
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.callFn != nil {
		return f.callFn(msg)
	}
	return nil, nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	if f.nonceErr != nil {
		return 0, f.nonceErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	if f.gasPrice == nil {
		return nil, errors.New("no gas price")
	}
	return new(big.Int).Set(f.gasPrice), nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 21000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *ethtypes.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	f.nonce++
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	if r, ok := f.receipts[txHash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	return f.head, nil
}

func TestEscalatedGasPrice(t *testing.T) {
	backend := &fakeBackend{gasPrice: big.NewInt(15)}
	price, err := EscalatedGasPrice(context.Background(), backend)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(30), price)

	_, err = EscalatedGasPrice(context.Background(), &fakeBackend{})
	require.ErrorContains(t, err, "suggest gas price")
}

func TestNextNonce(t *testing.T) {
	backend := &fakeBackend{nonce: 7}
	nonce, err := NextNonce(context.Background(), backend, common.Address{})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), nonce)

	backend.nonceErr = errors.New("rpc down")
	_, err = NextNonce(context.Background(), backend, common.Address{})
	require.ErrorContains(t, err, "pending nonce")
}

func TestAccountQueueSerializes(t *testing.T) {
	queue := NewAccountQueue()
	account := common.HexToAddress("0x1")

	var inCritical, maxInCritical int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := queue.Acquire(account)
			defer release()

			mu.Lock()
			inCritical++
			if inCritical > maxInCritical {
				maxInCritical = inCritical
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inCritical--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInCritical)
}

func TestAccountQueueIndependentAccounts(t *testing.T) {
	queue := NewAccountQueue()

	releaseA := queue.Acquire(common.HexToAddress("0xa"))
	defer releaseA()

	acquired := make(chan struct{})
	go func() {
		releaseB := queue.Acquire(common.HexToAddress("0xb"))
		defer releaseB()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("different account blocked by held slot")
	}
}

func TestSubmitCall(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	chainID := big.NewInt(8453)
	backend := &fakeBackend{chainID: chainID, nonce: 3}
	to := common.HexToAddress("0xdb9644369c79c3633cde70d2df50d827d7dc7dbc")
	calldata := []byte{0xde, 0xad, 0xbe, 0xef}

	hash, err := SubmitCall(context.Background(), backend, key, chainID, to, calldata, big.NewInt(40), 3)
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)

	tx := backend.sent[0]
	assert.Equal(t, hash, tx.Hash())
	assert.Equal(t, uint64(3), tx.Nonce())
	assert.Equal(t, big.NewInt(40), tx.GasPrice())
	assert.Equal(t, to, *tx.To())
	assert.Equal(t, calldata, tx.Data())
	assert.Zero(t, tx.Value().Sign())

	sender, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(chainID), tx)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), sender)
}

func TestSubmitCallSendFailure(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	backend := &fakeBackend{sendErr: errors.New("nonce too low")}
	_, err = SubmitCall(context.Background(), backend, key, big.NewInt(1), common.Address{}, nil, big.NewInt(1), 0)
	require.ErrorContains(t, err, "send tx")
}

func TestWaitForReceipt(t *testing.T) {
	txHash := common.HexToHash("0xaaaa")
	receipt := &ethtypes.Receipt{
		Status:      ethtypes.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(100),
	}

	t.Run("zero confirmations", func(t *testing.T) {
		backend := &fakeBackend{receipts: map[common.Hash]*ethtypes.Receipt{txHash: receipt}}
		got, err := WaitForReceipt(context.Background(), backend, txHash, time.Second, 0)
		require.NoError(t, err)
		assert.Same(t, receipt, got)
	})

	t.Run("confirmed head", func(t *testing.T) {
		backend := &fakeBackend{
			receipts: map[common.Hash]*ethtypes.Receipt{txHash: receipt},
			head:     101,
		}
		got, err := WaitForReceipt(context.Background(), backend, txHash, time.Second, 2)
		require.NoError(t, err)
		assert.Same(t, receipt, got)
	})

	t.Run("timeout", func(t *testing.T) {
		backend := &fakeBackend{}
		_, err := WaitForReceipt(context.Background(), backend, txHash, 50*time.Millisecond, 1)
		require.ErrorContains(t, err, "timed out waiting for receipt")
	})
}

func TestERC20Reads(t *testing.T) {
	token := common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	owner := common.HexToAddress("0x857b06519E91e3A54538791bDbb0E22373e36b66")
	spender := common.HexToAddress("0xdb9644369c79c3633cde70d2df50d827d7dc7dbc")

	backend := &fakeBackend{
		callFn: func(msg ethereum.CallMsg) ([]byte, error) {
			require.Equal(t, token, *msg.To)
			method, err := ERC20ABI.MethodById(msg.Data[:4])
			require.NoError(t, err)
			switch method.Name {
			case "balanceOf":
				return method.Outputs.Pack(big.NewInt(123456))
			case "allowance":
				return method.Outputs.Pack(big.NewInt(999))
			case "authorizationState":
				return method.Outputs.Pack(true)
			}
			return nil, errors.New("unexpected call")
		},
	}

	erc20 := NewERC20(token, backend)
	ctx := context.Background()

	balance, err := erc20.BalanceOf(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(123456), balance)

	allowance, err := erc20.Allowance(ctx, owner, spender)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(999), allowance)

	used, err := erc20.AuthorizationState(ctx, owner, [32]byte{1})
	require.NoError(t, err)
	assert.True(t, used)
}

func TestProviderUnknownNetwork(t *testing.T) {
	provider := NewProvider(nil)
	defer provider.Close()

	_, err := provider.GetClient("tron")
	require.Error(t, err)
}
