package allowance

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ggonzalez94/swap-agent/internal/chain"
	clierr "github.com/ggonzalez94/swap-agent/internal/errors"
	"github.com/ggonzalez94/swap-agent/internal/registry"
	"github.com/ggonzalez94/swap-agent/internal/signer"
	"github.com/ggonzalez94/swap-agent/internal/submit"
)

// maxApproval is the uint256 sentinel used to amortize approvals across
// future attempts.
var maxApproval = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Result reports whether an approval transaction was needed. When
// AlreadySufficient is true the call was a no-op and ApprovalTxHash is zero.
type Result struct {
	AlreadySufficient bool
	ApprovalTxHash    common.Hash
}

// Manager ensures a spender holds a sufficient ERC-20 allowance from the
// signing account, issuing an approval transaction only when the on-chain
// allowance falls short. It is not safe to call concurrently for the same
// (token, owner, spender) tuple; callers serialize.
type Manager struct {
	backend   chain.Backend
	signer    signer.Signer
	submitter *submit.Submitter

	// ExactApprovals approves the requested amount instead of the
	// max-uint256 ceiling.
	ExactApprovals bool
	PollInterval   time.Duration
	ConfirmTimeout time.Duration
}

func NewManager(backend chain.Backend, txSigner signer.Signer, submitter *submit.Submitter) *Manager {
	return &Manager{
		backend:        backend,
		signer:         txSigner,
		submitter:      submitter,
		PollInterval:   2 * time.Second,
		ConfirmTimeout: 2 * time.Minute,
	}
}

// Ensure checks allowance(owner, spender) on token and approves the spender
// when the current allowance is below amount. The approval is waited to
// confirmation: a reverted or timed-out approval fails the whole attempt and
// the caller must not proceed to use the allowance.
func (m *Manager) Ensure(ctx context.Context, token, spender common.Address, amount *big.Int) (Result, error) {
	if amount == nil || amount.Sign() <= 0 {
		return Result{}, clierr.New(clierr.CodeUsage, "allowance amount must be a positive integer in base units")
	}
	owner := m.signer.Address()

	current, err := m.currentAllowance(ctx, token, owner, spender)
	if err != nil {
		return Result{}, err
	}
	if current.Cmp(amount) >= 0 {
		return Result{AlreadySufficient: true}, nil
	}

	ceiling := maxApproval
	if m.ExactApprovals {
		ceiling = amount
	}
	approveData, err := erc20ABI.Pack("approve", spender, ceiling)
	if err != nil {
		return Result{}, clierr.Wrap(clierr.CodeInternal, "pack approve calldata", err)
	}
	hash, err := m.submitter.Submit(ctx, submit.Request{To: token, Data: approveData})
	if err != nil {
		return Result{}, clierr.Wrap(clierr.CodeApprovalFailed, "submit approval transaction", err)
	}
	receipt, err := submit.WaitMined(ctx, m.backend, hash, m.PollInterval, m.ConfirmTimeout)
	if err != nil {
		return Result{}, clierr.Wrap(clierr.CodeApprovalFailed, "confirm approval transaction", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return Result{}, clierr.New(clierr.CodeApprovalFailed, "approval transaction reverted on-chain")
	}
	return Result{ApprovalTxHash: hash}, nil
}

func (m *Manager) currentAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	callData, err := erc20ABI.Pack("allowance", owner, spender)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack allowance calldata", err)
	}
	raw, err := m.backend.CallContract(ctx, ethereum.CallMsg{From: owner, To: &token, Data: callData}, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read token allowance", err)
	}
	out, err := erc20ABI.Unpack("allowance", raw)
	if err != nil || len(out) == 0 {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "decode token allowance", err)
	}
	current, ok := out[0].(*big.Int)
	if !ok {
		return nil, clierr.New(clierr.CodeUnavailable, "invalid allowance response")
	}
	return current, nil
}

var erc20ABI = mustABI(registry.ERC20MinimalABI)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
