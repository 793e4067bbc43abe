package distribution

import (
	"context"
	"errors"
	"fmt"
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

	"github.com/vitwit/x402-facilitator/chain"
	"github.com/vitwit/x402-facilitator/logger"
	"github.com/vitwit/x402-facilitator/metrics"
	"github.com/vitwit/x402-facilitator/types"
)

var (
	testToken    = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	testTerminal = common.HexToAddress("0xdb9644369c79c3633cde70d2df50d827d7dc7dbc")
	testPayer    = common.HexToAddress("0x857b06519E91e3A54538791bDbb0E22373e36b66")
)

// fakeChain tracks allowance state the way a token contract would:
// zero until an approve lands, unlimited afterwards.
type fakeChain struct {
	mu        sync.Mutex
	nonce     uint64
	allowance *big.Int
	sent      []*ethtypes.Transaction
	sendErr   error
	payStatus uint64
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		allowance: big.NewInt(0),
		payStatus: ethtypes.ReceiptStatusSuccessful,
	}
}

func (f *fakeChain) ChainID(context.Context) (*big.Int, error) { return big.NewInt(8453), nil }

func (f *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	method, err := chain.ERC20ABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	if method.Name != "allowance" {
		return nil, fmt.Errorf("unexpected call %s", method.Name)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return method.Outputs.Pack(f.allowance)
}

func (f *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeChain) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(25), nil }

func (f *fakeChain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 200000, nil
}

func (f *fakeChain) SendTransaction(_ context.Context, tx *ethtypes.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	f.nonce++
	// An approve call flips the allowance to the approved amount.
	if method, err := chain.ERC20ABI.MethodById(tx.Data()[:4]); err == nil && method.Name == "approve" {
		args, err := method.Inputs.Unpack(tx.Data()[4:])
		if err == nil {
			f.allowance = args[1].(*big.Int)
		}
	}
	return nil
}

func (f *fakeChain) TransactionReceipt(_ context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.sent {
		if tx.Hash() == txHash {
			status := ethtypes.ReceiptStatusSuccessful
			if tx.To() != nil && *tx.To() == testTerminal {
				status = f.payStatus
			}
			return &ethtypes.Receipt{Status: status, BlockNumber: big.NewInt(100)}, nil
		}
	}
	return nil, ethereum.NotFound
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) { return 200, nil }

type fakeSource struct {
	backend chain.Backend
	err     error
}

func (f *fakeSource) GetClient(types.Network) (chain.Backend, error) { return f.backend, f.err }

func newExecutor(t *testing.T, backend chain.Backend) *Executor {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	return NewExecutor(
		&fakeSource{backend: backend},
		key,
		chain.NewAccountQueue(),
		Config{
			ProjectID: big.NewInt(127),
			Terminal:  testTerminal,
		},
		logger.NoopLogger{},
		metrics.NoopRecorder{},
	)
}

func distributionInputs() (*types.SettlementResult, *types.PaymentRequirements) {
	settlement := &types.SettlementResult{
		Success:     true,
		Transaction: "0xprimary",
		Network:     "base",
		Payer:       testPayer.Hex(),
	}
	reqs := &types.PaymentRequirements{
		Scheme:            "exact",
		Network:           "base",
		MaxAmountRequired: "10000",
		Resource:          "https://example.com/api/data",
		PayTo:             "0xAbEa4e7a139FAdBDb2B76179C24f0ff76753C800",
		Asset:             testToken.Hex(),
	}
	return settlement, reqs
}

func TestDistributeFirstRunApprovesThenPays(t *testing.T) {
	backend := newFakeChain()
	executor := newExecutor(t, backend)
	settlement, reqs := distributionInputs()

	result := executor.Distribute(context.Background(), settlement, reqs)

	assert.True(t, result.Success)
	assert.Empty(t, result.Error)
	assert.NotEmpty(t, result.ApprovalTransaction)
	assert.NotEmpty(t, result.PaymentTransaction)
	assert.Equal(t, "127", result.ProjectID)
	assert.Equal(t, testPayer.Hex(), result.Beneficiary)
	assert.Equal(t, "10000", result.Amount)

	require.Len(t, backend.sent, 2)
	approval, payment := backend.sent[0], backend.sent[1]

	assert.Equal(t, testToken, *approval.To())
	assert.Equal(t, testTerminal, *payment.To())
	assert.Greater(t, payment.Nonce(), approval.Nonce())

	// Both legs pay the escalated price, double the suggested 25.
	assert.Equal(t, big.NewInt(50), approval.GasPrice())
	assert.Equal(t, big.NewInt(50), payment.GasPrice())
}

func TestDistributeApprovalIsUnlimited(t *testing.T) {
	backend := newFakeChain()
	executor := newExecutor(t, backend)
	settlement, reqs := distributionInputs()

	executor.Distribute(context.Background(), settlement, reqs)

	require.Len(t, backend.sent, 2)
	method, err := chain.ERC20ABI.MethodById(backend.sent[0].Data()[:4])
	require.NoError(t, err)
	require.Equal(t, "approve", method.Name)

	args, err := method.Inputs.Unpack(backend.sent[0].Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, testTerminal, args[0].(common.Address))
	assert.Equal(t, UnlimitedAllowance, args[1].(*big.Int))
}

func TestDistributeSecondRunSkipsApproval(t *testing.T) {
	backend := newFakeChain()
	executor := newExecutor(t, backend)
	settlement, reqs := distributionInputs()

	first := executor.Distribute(context.Background(), settlement, reqs)
	require.True(t, first.Success)

	second := executor.Distribute(context.Background(), settlement, reqs)
	require.True(t, second.Success)
	assert.Empty(t, second.ApprovalTransaction)
	assert.NotEmpty(t, second.PaymentTransaction)

	// approve + pay from the first run, pay only from the second.
	assert.Len(t, backend.sent, 3)
}

func TestDistributePayCalldata(t *testing.T) {
	backend := newFakeChain()
	executor := newExecutor(t, backend)
	settlement, reqs := distributionInputs()

	executor.Distribute(context.Background(), settlement, reqs)

	require.Len(t, backend.sent, 2)
	payment := backend.sent[1]

	method, err := TerminalABI.MethodById(payment.Data()[:4])
	require.NoError(t, err)
	require.Equal(t, "pay", method.Name)

	args, err := method.Inputs.Unpack(payment.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(127), args[0].(*big.Int))
	assert.Equal(t, testToken, args[1].(common.Address))
	assert.Equal(t, big.NewInt(10000), args[2].(*big.Int))
	assert.Equal(t, testPayer, args[3].(common.Address))
	assert.Zero(t, args[4].(*big.Int).Sign())
	assert.Equal(t, "x402-exact-https___example_com_api_data", args[5].(string))
}

func TestDistributeCapturesSubmissionFailure(t *testing.T) {
	backend := newFakeChain()
	backend.sendErr = errors.New("insufficient funds for gas")
	executor := newExecutor(t, backend)
	settlement, reqs := distributionInputs()

	result := executor.Distribute(context.Background(), settlement, reqs)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "insufficient funds for gas")
	assert.Equal(t, "127", result.ProjectID)
	assert.Empty(t, result.PaymentTransaction)
}

func TestDistributeCapturesRevertedPayment(t *testing.T) {
	backend := newFakeChain()
	backend.payStatus = ethtypes.ReceiptStatusFailed
	executor := newExecutor(t, backend)
	settlement, reqs := distributionInputs()

	result := executor.Distribute(context.Background(), settlement, reqs)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "reverted")
	assert.NotEmpty(t, result.PaymentTransaction)
}

func TestDistributeUnknownNetwork(t *testing.T) {
	executor := newExecutor(t, newFakeChain())
	settlement, reqs := distributionInputs()
	reqs.Network = "tron"

	backendErr := errors.New("unsupported network")
	executor.clients = &fakeSource{err: backendErr}

	result := executor.Distribute(context.Background(), settlement, reqs)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "unsupported network")
}

func TestBuildMemo(t *testing.T) {
	_, reqs := distributionInputs()
	assert.Equal(t, "x402-exact-https___example_com_api_data", buildMemo(reqs))

	reqs.Resource = ""
	assert.Equal(t, "x402-exact-", buildMemo(reqs))
}

func TestEnsureAllowanceIdempotent(t *testing.T) {
	backend := newFakeChain()
	backend.allowance = new(big.Int).Set(UnlimitedAllowance)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := crypto.PubkeyToAddress(key.PublicKey)

	manager := NewAllowanceManager(logger.NoopLogger{}, time.Second)
	hash, err := manager.EnsureAllowance(context.Background(), backend, key, big.NewInt(8453), testToken, owner, testTerminal)
	require.NoError(t, err)
	assert.Empty(t, hash)
	assert.Empty(t, backend.sent)
}
