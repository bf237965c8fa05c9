package lending

import (
	"bytes"
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/swap-agent/internal/allowance"
	"github.com/ggonzalez94/swap-agent/internal/chain/chaintest"
	clierr "github.com/ggonzalez94/swap-agent/internal/errors"
	"github.com/ggonzalez94/swap-agent/internal/signer"
	"github.com/ggonzalez94/swap-agent/internal/submit"
)

const testPrivateKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

var (
	testPool   = common.HexToAddress("0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2")
	testAsset  = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	testAToken = common.HexToAddress("0x4e65fE4DbA92790696d040ac24Aa414708F5c0AB")
	testUser   = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func packedReserveData(t *testing.T, aToken common.Address) []byte {
	t.Helper()
	rd := ReserveData{
		Configuration:               ReserveConfigurationMap{Data: big.NewInt(0)},
		LiquidityIndex:              big.NewInt(0),
		CurrentLiquidityRate:        big.NewInt(0),
		VariableBorrowIndex:         big.NewInt(0),
		CurrentVariableBorrowRate:   big.NewInt(0),
		CurrentStableBorrowRate:     big.NewInt(0),
		LastUpdateTimestamp:         big.NewInt(0),
		ATokenAddress:               aToken,
		AccruedToTreasury:           big.NewInt(0),
		Unbacked:                    big.NewInt(0),
		IsolationModeTotalDebt:      big.NewInt(0),
		StableDebtTokenAddress:      common.Address{},
		VariableDebtTokenAddress:    common.Address{},
		InterestRateStrategyAddress: common.Address{},
	}
	out, err := aavePoolABI.Methods["getReserveData"].Outputs.Pack(rd)
	if err != nil {
		t.Fatalf("pack reserve data: %v", err)
	}
	return out
}

// newTestAdapter wires an adapter against a fake node whose reserve query
// resolves to aToken and whose allowance reads report zero.
func newTestAdapter(t *testing.T, backend *chaintest.Backend, aToken common.Address) (*Adapter, common.Address) {
	t.Helper()
	s, err := signer.NewLocalSignerFromInputs(signer.KeySourceAuto, testPrivateKey)
	if err != nil {
		t.Fatalf("initialize signer: %v", err)
	}
	backend.CallHandler = func(msg ethereum.CallMsg) ([]byte, error) {
		switch {
		case bytes.Equal(msg.Data[:4], aavePoolABI.Methods["getReserveData"].ID):
			return packedReserveData(t, aToken), nil
		case bytes.Equal(msg.Data[:4], erc20ABI.Methods["allowance"].ID):
			return erc20ABI.Methods["allowance"].Outputs.Pack(big.NewInt(0))
		default:
			t.Fatalf("unexpected contract call: %x", msg.Data[:4])
			return nil, nil
		}
	}

	sub := submit.New(backend, s)
	allow := allowance.NewManager(backend, s, sub)
	allow.PollInterval = time.Millisecond
	allow.ConfirmTimeout = time.Second

	adapter := NewAdapter(backend, s, sub, allow, testPool)
	adapter.PollInterval = time.Millisecond
	adapter.ConfirmTimeout = time.Second
	return adapter, s.Address()
}

func TestStakeRunsPullApproveSupply(t *testing.T) {
	backend := chaintest.New()
	adapter, agent := newTestAdapter(t, backend, testAToken)

	hashes, err := adapter.Stake(context.Background(), testAsset, big.NewInt(500), testUser)
	if err != nil {
		t.Fatalf("Stake failed: %v", err)
	}

	sent := backend.Sent()
	if len(sent) != 3 {
		t.Fatalf("expected pull, approve and supply transactions, got %d", len(sent))
	}

	pull := sent[0]
	if *pull.To() != testAsset {
		t.Fatalf("pull-in sent to %s, want asset", pull.To())
	}
	if !bytes.Equal(pull.Data()[:4], erc20ABI.Methods["transferFrom"].ID) {
		t.Fatalf("first transaction is not transferFrom: %x", pull.Data()[:4])
	}
	pullArgs, err := erc20ABI.Methods["transferFrom"].Inputs.Unpack(pull.Data()[4:])
	if err != nil {
		t.Fatalf("unpack transferFrom args: %v", err)
	}
	if pullArgs[0].(common.Address) != testUser || pullArgs[1].(common.Address) != agent {
		t.Fatalf("pull-in moves %s -> %s, want user -> agent", pullArgs[0], pullArgs[1])
	}
	if pullArgs[2].(*big.Int).Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("pull-in amount %s, want 500", pullArgs[2])
	}

	approve := sent[1]
	if *approve.To() != testAsset {
		t.Fatalf("approval sent to %s, want asset", approve.To())
	}
	approveArgs, err := erc20ABI.Methods["approve"].Inputs.Unpack(approve.Data()[4:])
	if err != nil {
		t.Fatalf("unpack approve args: %v", err)
	}
	if approveArgs[0].(common.Address) != testPool {
		t.Fatalf("approved %s, want pool", approveArgs[0])
	}

	supply := sent[2]
	if *supply.To() != testPool {
		t.Fatalf("supply sent to %s, want pool", supply.To())
	}
	if !bytes.Equal(supply.Data()[:4], aavePoolABI.Methods["supply"].ID) {
		t.Fatalf("third transaction is not supply: %x", supply.Data()[:4])
	}
	supplyArgs, err := aavePoolABI.Methods["supply"].Inputs.Unpack(supply.Data()[4:])
	if err != nil {
		t.Fatalf("unpack supply args: %v", err)
	}
	if supplyArgs[0].(common.Address) != testAsset {
		t.Fatalf("supplied asset %s", supplyArgs[0])
	}
	if supplyArgs[1].(*big.Int).Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("supplied amount %s, want 500", supplyArgs[1])
	}
	if supplyArgs[2].(common.Address) != testUser {
		t.Fatalf("supply credits %s, want user", supplyArgs[2])
	}
	if supplyArgs[3].(uint16) != 0 {
		t.Fatalf("referral code %d, want 0", supplyArgs[3])
	}

	if hashes.PullIn != pull.Hash() || hashes.Approval != approve.Hash() || hashes.PoolCall != supply.Hash() {
		t.Fatal("returned hashes do not match broadcast order")
	}
}

func TestUnstakePullsReceiptTokenAndWithdraws(t *testing.T) {
	backend := chaintest.New()
	adapter, agent := newTestAdapter(t, backend, testAToken)

	hashes, err := adapter.Unstake(context.Background(), testAsset, big.NewInt(200), testUser)
	if err != nil {
		t.Fatalf("Unstake failed: %v", err)
	}

	sent := backend.Sent()
	if len(sent) != 3 {
		t.Fatalf("expected pull, approve and withdraw transactions, got %d", len(sent))
	}

	pull := sent[0]
	if *pull.To() != testAToken {
		t.Fatalf("pull-in targets %s, want the receipt token", pull.To())
	}
	pullArgs, err := erc20ABI.Methods["transferFrom"].Inputs.Unpack(pull.Data()[4:])
	if err != nil {
		t.Fatalf("unpack transferFrom args: %v", err)
	}
	if pullArgs[0].(common.Address) != testUser || pullArgs[1].(common.Address) != agent {
		t.Fatalf("pull-in moves %s -> %s, want user -> agent", pullArgs[0], pullArgs[1])
	}

	if *sent[1].To() != testAToken {
		t.Fatalf("approval targets %s, want the receipt token", sent[1].To())
	}

	withdraw := sent[2]
	if *withdraw.To() != testPool {
		t.Fatalf("withdraw sent to %s, want pool", withdraw.To())
	}
	if !bytes.Equal(withdraw.Data()[:4], aavePoolABI.Methods["withdraw"].ID) {
		t.Fatalf("third transaction is not withdraw: %x", withdraw.Data()[:4])
	}
	withdrawArgs, err := aavePoolABI.Methods["withdraw"].Inputs.Unpack(withdraw.Data()[4:])
	if err != nil {
		t.Fatalf("unpack withdraw args: %v", err)
	}
	if withdrawArgs[0].(common.Address) != testAsset {
		t.Fatalf("withdrew asset %s", withdrawArgs[0])
	}
	if withdrawArgs[1].(*big.Int).Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("withdrew amount %s, want 200", withdrawArgs[1])
	}
	if withdrawArgs[2].(common.Address) != testUser {
		t.Fatalf("withdraw pays %s, want user", withdrawArgs[2])
	}

	if hashes.PoolCall != withdraw.Hash() {
		t.Fatal("returned pool-call hash does not match broadcast withdraw")
	}
}

func TestUnstakeUnknownReserveFailsBeforeAnyTransfer(t *testing.T) {
	backend := chaintest.New()
	adapter, _ := newTestAdapter(t, backend, common.Address{})

	_, err := adapter.Unstake(context.Background(), testAsset, big.NewInt(200), testUser)
	if err == nil {
		t.Fatal("expected failure for an unconfigured reserve")
	}
	if !clierr.Is(err, clierr.CodeReserveNotFound) {
		t.Fatalf("expected reserve-not-found code, got %v", err)
	}
	if len(backend.Sent()) != 0 {
		t.Fatal("no transaction may be broadcast when the reserve is unknown")
	}
}

func TestReceiptTokenIsRefetchedEveryCall(t *testing.T) {
	backend := chaintest.New()
	adapter, _ := newTestAdapter(t, backend, testAToken)

	calls := 0
	inner := backend.CallHandler
	backend.CallHandler = func(msg ethereum.CallMsg) ([]byte, error) {
		if bytes.Equal(msg.Data[:4], aavePoolABI.Methods["getReserveData"].ID) {
			calls++
		}
		return inner(msg)
	}

	for i := 0; i < 2; i++ {
		got, err := adapter.ReceiptToken(context.Background(), testAsset)
		if err != nil {
			t.Fatalf("ReceiptToken failed: %v", err)
		}
		if got != testAToken {
			t.Fatalf("resolved %s, want %s", got, testAToken)
		}
	}
	if calls != 2 {
		t.Fatalf("expected the reserve query on every call, got %d queries", calls)
	}
}

func TestResolvePoolOverrideWins(t *testing.T) {
	pool, err := ResolvePool(context.Background(), chaintest.New(), 1, testPool.Hex())
	if err != nil {
		t.Fatalf("ResolvePool failed: %v", err)
	}
	if pool != testPool {
		t.Fatalf("resolved %s, want override", pool)
	}
}

func TestResolvePoolQueriesProvider(t *testing.T) {
	backend := chaintest.New()
	backend.CallHandler = func(msg ethereum.CallMsg) ([]byte, error) {
		if !bytes.Equal(msg.Data[:4], poolProviderABI.Methods["getPool"].ID) {
			t.Fatalf("unexpected contract call: %x", msg.Data[:4])
		}
		return poolProviderABI.Methods["getPool"].Outputs.Pack(testPool)
	}
	pool, err := ResolvePool(context.Background(), backend, 1, "")
	if err != nil {
		t.Fatalf("ResolvePool failed: %v", err)
	}
	if pool != testPool {
		t.Fatalf("resolved %s, want provider answer", pool)
	}
}

func TestResolvePoolUnknownChain(t *testing.T) {
	_, err := ResolvePool(context.Background(), chaintest.New(), 999_999, "")
	if !clierr.Is(err, clierr.CodeUnsupported) {
		t.Fatalf("expected unsupported-chain error, got %v", err)
	}
}
