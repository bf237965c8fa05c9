// Package lending moves a stablecoin into and out of an Aave-style pool on
// behalf of a user. Both operations are three sequential confirmed
// transactions (pull-in, approve, pool call); a revert at any step aborts
// the attempt with no compensation logic, matching the all-or-nothing
// application the pool contract itself guarantees per call.
package lending

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ggonzalez94/swap-agent/internal/allowance"
	"github.com/ggonzalez94/swap-agent/internal/chain"
	clierr "github.com/ggonzalez94/swap-agent/internal/errors"
	"github.com/ggonzalez94/swap-agent/internal/registry"
	"github.com/ggonzalez94/swap-agent/internal/signer"
	"github.com/ggonzalez94/swap-agent/internal/submit"
)

// Adapter performs supply/withdraw against one pool from the agent's
// account. Users pre-approve the agent's address for the pulled token; that
// precondition is the caller's responsibility, not enforced here.
type Adapter struct {
	backend   chain.Backend
	signer    signer.Signer
	submitter *submit.Submitter
	allow     *allowance.Manager
	pool      common.Address

	PollInterval   time.Duration
	ConfirmTimeout time.Duration
}

// TxHashes lists the confirmed transactions of one stake/unstake attempt in
// submission order.
type TxHashes struct {
	PullIn   common.Hash
	Approval common.Hash
	PoolCall common.Hash
}

func NewAdapter(backend chain.Backend, txSigner signer.Signer, submitter *submit.Submitter, allow *allowance.Manager, pool common.Address) *Adapter {
	return &Adapter{
		backend:        backend,
		signer:         txSigner,
		submitter:      submitter,
		allow:          allow,
		pool:           pool,
		PollInterval:   2 * time.Second,
		ConfirmTimeout: 2 * time.Minute,
	}
}

// Stake pulls amount of asset from onBehalfOf into the agent's custody,
// grants the pool an allowance, and supplies crediting onBehalfOf.
func (a *Adapter) Stake(ctx context.Context, asset common.Address, amount *big.Int, onBehalfOf common.Address) (TxHashes, error) {
	if amount == nil || amount.Sign() <= 0 {
		return TxHashes{}, clierr.New(clierr.CodeUsage, "stake amount must be a positive integer in base units")
	}
	var hashes TxHashes

	pull, err := a.pullIn(ctx, asset, onBehalfOf, amount)
	if err != nil {
		return TxHashes{}, err
	}
	hashes.PullIn = pull

	approved, err := a.allow.Ensure(ctx, asset, a.pool, amount)
	if err != nil {
		return TxHashes{}, err
	}
	hashes.Approval = approved.ApprovalTxHash

	supplyData, err := aavePoolABI.Pack("supply", asset, amount, onBehalfOf, uint16(0))
	if err != nil {
		return TxHashes{}, clierr.Wrap(clierr.CodeInternal, "pack pool supply calldata", err)
	}
	hash, err := a.confirmedCall(ctx, a.pool, supplyData, "pool supply")
	if err != nil {
		return TxHashes{}, err
	}
	hashes.PoolCall = hash
	return hashes, nil
}

// Unstake resolves the pool's receipt token for asset, pulls amount of it
// from to, grants the pool an allowance on the receipt token, and withdraws
// sending proceeds to to. The receipt-token address is authoritative pool
// state and is re-fetched on every call, never cached.
func (a *Adapter) Unstake(ctx context.Context, asset common.Address, amount *big.Int, to common.Address) (TxHashes, error) {
	if amount == nil || amount.Sign() <= 0 {
		return TxHashes{}, clierr.New(clierr.CodeUsage, "unstake amount must be a positive integer in base units")
	}

	receiptToken, err := a.ReceiptToken(ctx, asset)
	if err != nil {
		return TxHashes{}, err
	}
	var hashes TxHashes

	pull, err := a.pullIn(ctx, receiptToken, to, amount)
	if err != nil {
		return TxHashes{}, err
	}
	hashes.PullIn = pull

	approved, err := a.allow.Ensure(ctx, receiptToken, a.pool, amount)
	if err != nil {
		return TxHashes{}, err
	}
	hashes.Approval = approved.ApprovalTxHash

	withdrawData, err := aavePoolABI.Pack("withdraw", asset, amount, to)
	if err != nil {
		return TxHashes{}, clierr.Wrap(clierr.CodeInternal, "pack pool withdraw calldata", err)
	}
	hash, err := a.confirmedCall(ctx, a.pool, withdrawData, "pool withdraw")
	if err != nil {
		return TxHashes{}, err
	}
	hashes.PoolCall = hash
	return hashes, nil
}

// ReceiptToken resolves the aToken address for asset via the pool's
// reserve-data query. An unconfigured reserve resolves to the zero address
// and fails here, before any transfer could target it.
func (a *Adapter) ReceiptToken(ctx context.Context, asset common.Address) (common.Address, error) {
	callData, err := aavePoolABI.Pack("getReserveData", asset)
	if err != nil {
		return common.Address{}, clierr.Wrap(clierr.CodeInternal, "pack getReserveData calldata", err)
	}
	pool := a.pool
	raw, err := a.backend.CallContract(ctx, ethereum.CallMsg{To: &pool, Data: callData}, nil)
	if err != nil {
		return common.Address{}, clierr.Wrap(clierr.CodeUnavailable, "fetch reserve data", err)
	}
	out, err := aavePoolABI.Unpack("getReserveData", raw)
	if err != nil || len(out) == 0 {
		return common.Address{}, clierr.Wrap(clierr.CodeUnavailable, "decode reserve data", err)
	}
	reserve := *abi.ConvertType(out[0], new(ReserveData)).(*ReserveData)
	if reserve.ATokenAddress == (common.Address{}) {
		return common.Address{}, clierr.New(clierr.CodeReserveNotFound, "no reserve configured for asset "+asset.Hex())
	}
	return reserve.ATokenAddress, nil
}

func (a *Adapter) pullIn(ctx context.Context, token, from common.Address, amount *big.Int) (common.Hash, error) {
	data, err := erc20ABI.Pack("transferFrom", from, a.signer.Address(), amount)
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeInternal, "pack transferFrom calldata", err)
	}
	return a.confirmedCall(ctx, token, data, "pull token in")
}

func (a *Adapter) confirmedCall(ctx context.Context, to common.Address, data []byte, what string) (common.Hash, error) {
	hash, err := a.submitter.Submit(ctx, submit.Request{To: to, Data: data})
	if err != nil {
		return common.Hash{}, err
	}
	receipt, err := submit.WaitMined(ctx, a.backend, hash, a.PollInterval, a.ConfirmTimeout)
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeUnavailable, "confirm "+what, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return common.Hash{}, clierr.New(clierr.CodeUnavailable, what+" transaction reverted on-chain")
	}
	return hash, nil
}

// ReserveData mirrors the pool's getReserveData return tuple.
type ReserveData struct {
	Configuration               ReserveConfigurationMap
	LiquidityIndex              *big.Int
	CurrentLiquidityRate        *big.Int
	VariableBorrowIndex         *big.Int
	CurrentVariableBorrowRate   *big.Int
	CurrentStableBorrowRate     *big.Int
	LastUpdateTimestamp         *big.Int
	Id                          uint16
	ATokenAddress               common.Address
	StableDebtTokenAddress      common.Address
	VariableDebtTokenAddress    common.Address
	InterestRateStrategyAddress common.Address
	AccruedToTreasury           *big.Int
	Unbacked                    *big.Int
	IsolationModeTotalDebt      *big.Int
}

type ReserveConfigurationMap struct {
	Data *big.Int
}

var aavePoolABI = mustABI(registry.AavePoolABI)

var erc20ABI = mustABI(registry.ERC20MinimalABI)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
