// Package swap owns the sequencing of one execution attempt: indicative
// price, conditional Permit2 allowance, firm quote, permit signature
// embedding, and broadcast. Steps are strictly sequential; each consumes
// the previous step's output.
package swap

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ggonzalez94/swap-agent/internal/aggregator"
	"github.com/ggonzalez94/swap-agent/internal/allowance"
	clierr "github.com/ggonzalez94/swap-agent/internal/errors"
	"github.com/ggonzalez94/swap-agent/internal/journal"
	"github.com/ggonzalez94/swap-agent/internal/lending"
	"github.com/ggonzalez94/swap-agent/internal/permit"
	"github.com/ggonzalez94/swap-agent/internal/signer"
	"github.com/ggonzalez94/swap-agent/internal/submit"
)

type Request struct {
	SellToken  common.Address
	BuyToken   common.Address
	SellAmount *big.Int
}

// Result reports one completed swap attempt. IndicativeBuyAmount is the
// price-phase preview and BuyAmount the firm quote's value; the pipeline
// surfaces both instead of enforcing a slippage bound.
type Result struct {
	AttemptID           string
	TxHash              common.Hash
	ApprovalTxHash      common.Hash
	PermitKind          permit.Kind
	IndicativeBuyAmount string
	BuyAmount           string
	Quote               aggregator.Quote
}

// Orchestrator runs swap and lend attempts. A per-account mutex keeps a
// single transaction in flight per account: concurrent attempts would read
// the same pending nonce and one broadcast would be rejected or silently
// replace the other in the mempool.
type Orchestrator struct {
	agg       *aggregator.Client
	allow     *allowance.Manager
	submitter *submit.Submitter
	signer    signer.Signer
	adapter   *lending.Adapter
	store     *journal.Store
	chainID   int64

	// AffiliateFeeBps and SurplusCollection are forwarded to the aggregator
	// on both the price and the quote call.
	AffiliateFeeBps   int64
	SurplusCollection bool
	// Warnings receives non-fatal operational warnings.
	Warnings io.Writer

	mu        sync.Mutex
	locks     map[common.Address]*sync.Mutex
	storeWarn sync.Once
}

func NewOrchestrator(agg *aggregator.Client, allow *allowance.Manager, submitter *submit.Submitter, txSigner signer.Signer, adapter *lending.Adapter, store *journal.Store, chainID int64) *Orchestrator {
	return &Orchestrator{
		agg:       agg,
		allow:     allow,
		submitter: submitter,
		signer:    txSigner,
		adapter:   adapter,
		store:     store,
		chainID:   chainID,
		Warnings:  os.Stderr,
		locks:     map[common.Address]*sync.Mutex{},
	}
}

// ExecuteSwap runs the full pipeline and returns the broadcast hash without
// waiting for confirmation. Once broadcast, the attempt is no longer
// cancellable.
func (o *Orchestrator) ExecuteSwap(ctx context.Context, req Request) (Result, error) {
	account := o.signer.Address()
	unlock := o.lockAccount(account)
	defer unlock()

	attempt := journal.NewAttempt(newAttemptID(), journal.KindSwap, o.chainID, account.Hex())
	attempt.SellToken = req.SellToken.Hex()
	attempt.BuyToken = req.BuyToken.Hex()
	if req.SellAmount != nil {
		attempt.SellAmount = req.SellAmount.String()
	}
	o.record(&attempt)

	result, err := o.executeSwap(ctx, req, &attempt)
	if err != nil {
		attempt.Status = journal.StatusFailed
		attempt.Error = err.Error()
		attempt.Touch()
		o.record(&attempt)
		return Result{}, err
	}
	return result, nil
}

func (o *Orchestrator) executeSwap(ctx context.Context, req Request, attempt *journal.Attempt) (Result, error) {
	aggReq := aggregator.Request{
		ChainID:           o.chainID,
		SellToken:         req.SellToken,
		BuyToken:          req.BuyToken,
		SellAmount:        req.SellAmount,
		Taker:             o.signer.Address(),
		AffiliateFeeBps:   o.AffiliateFeeBps,
		SurplusCollection: o.SurplusCollection,
	}

	// The price response is advisory: it carries no executable payload and
	// is consulted only for the allowance issue and the expected output.
	price, err := o.agg.Price(ctx, aggReq)
	if err != nil {
		return Result{}, err
	}
	attempt.IndicativeBuyAmount = price.BuyAmount

	var approvalHash common.Hash
	if price.Issues != nil && price.Issues.Allowance != nil {
		spender := strings.TrimSpace(price.Issues.Allowance.Spender)
		if !common.IsHexAddress(spender) {
			return Result{}, clierr.New(clierr.CodeQuoteUnavailable, "aggregator reported an allowance issue without a valid spender")
		}
		ensured, err := o.allow.Ensure(ctx, req.SellToken, common.HexToAddress(spender), req.SellAmount)
		if err != nil {
			return Result{}, err
		}
		if !ensured.AlreadySufficient {
			approvalHash = ensured.ApprovalTxHash
			attempt.ApprovalTxHash = approvalHash.Hex()
		}
	}

	quote, err := o.agg.Quote(ctx, aggReq)
	if err != nil {
		return Result{}, err
	}
	attempt.BuyAmount = quote.BuyAmount
	attempt.Status = journal.StatusQuoted
	attempt.Touch()
	o.record(attempt)

	embedded, err := permit.Embed(quote, o.signer)
	if err != nil {
		return Result{}, err
	}

	subReq, err := submitRequest(embedded.Quote.Transaction)
	if err != nil {
		return Result{}, err
	}
	hash, err := o.submitter.Submit(ctx, subReq)
	if err != nil {
		return Result{}, err
	}
	attempt.TxHash = hash.Hex()
	attempt.Status = journal.StatusSubmitted
	attempt.Touch()
	o.record(attempt)

	return Result{
		AttemptID:           attempt.AttemptID,
		TxHash:              hash,
		ApprovalTxHash:      approvalHash,
		PermitKind:          embedded.Kind,
		IndicativeBuyAmount: price.BuyAmount,
		BuyAmount:           quote.BuyAmount,
		Quote:               embedded.Quote,
	}, nil
}

// Stake supplies amount of asset to the lending pool crediting onBehalfOf,
// under the same per-account serialization as swaps.
func (o *Orchestrator) Stake(ctx context.Context, asset common.Address, amount *big.Int, onBehalfOf common.Address) (lending.TxHashes, error) {
	return o.lend(ctx, journal.KindStake, asset, amount, func(ctx context.Context) (lending.TxHashes, error) {
		return o.adapter.Stake(ctx, asset, amount, onBehalfOf)
	})
}

// Unstake withdraws amount of asset from the lending pool sending proceeds
// to to.
func (o *Orchestrator) Unstake(ctx context.Context, asset common.Address, amount *big.Int, to common.Address) (lending.TxHashes, error) {
	return o.lend(ctx, journal.KindUnstake, asset, amount, func(ctx context.Context) (lending.TxHashes, error) {
		return o.adapter.Unstake(ctx, asset, amount, to)
	})
}

func (o *Orchestrator) lend(ctx context.Context, kind journal.AttemptKind, asset common.Address, amount *big.Int, run func(context.Context) (lending.TxHashes, error)) (lending.TxHashes, error) {
	if o.adapter == nil {
		return lending.TxHashes{}, clierr.New(clierr.CodeUsage, "lending adapter is not configured")
	}
	account := o.signer.Address()
	unlock := o.lockAccount(account)
	defer unlock()

	attempt := journal.NewAttempt(newAttemptID(), kind, o.chainID, account.Hex())
	attempt.SellToken = asset.Hex()
	if amount != nil {
		attempt.SellAmount = amount.String()
	}
	o.record(&attempt)

	hashes, err := run(ctx)
	if err != nil {
		attempt.Status = journal.StatusFailed
		attempt.Error = err.Error()
		attempt.Touch()
		o.record(&attempt)
		return lending.TxHashes{}, err
	}
	attempt.TxHash = hashes.PoolCall.Hex()
	attempt.ApprovalTxHash = hashes.Approval.Hex()
	attempt.Status = journal.StatusSubmitted
	attempt.Touch()
	o.record(&attempt)
	return hashes, nil
}

func (o *Orchestrator) lockAccount(account common.Address) func() {
	o.mu.Lock()
	lock, ok := o.locks[account]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[account] = lock
	}
	o.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

// record persists the attempt best-effort: a broken journal must not abort
// an in-flight attempt, but the first failure is reported so it does not
// stay invisible.
func (o *Orchestrator) record(attempt *journal.Attempt) {
	if o.store == nil {
		return
	}
	if err := o.store.Save(*attempt); err != nil {
		o.storeWarn.Do(func() {
			fmt.Fprintf(o.Warnings, "warning: journal write failed, attempts are not being recorded: %v\n", err)
		})
	}
}

func submitRequest(tx *aggregator.Transaction) (submit.Request, error) {
	if tx == nil || strings.TrimSpace(tx.To) == "" {
		return submit.Request{}, clierr.New(clierr.CodeTxDataMissing, "quote transaction is missing a target")
	}
	if !common.IsHexAddress(tx.To) {
		return submit.Request{}, clierr.New(clierr.CodeTxDataMissing, "quote transaction target is not an address")
	}
	data, err := decodeOptionalHex(tx.Data)
	if err != nil {
		return submit.Request{}, clierr.Wrap(clierr.CodeTxDataMissing, "decode quote transaction data", err)
	}

	req := submit.Request{To: common.HexToAddress(tx.To), Data: data}
	// Only fields present in the quote are coerced; absent fields stay
	// unset so the submitter resolves them against the node.
	if strings.TrimSpace(tx.Value) != "" {
		value, ok := new(big.Int).SetString(strings.TrimSpace(tx.Value), 10)
		if !ok {
			return submit.Request{}, clierr.New(clierr.CodeTxDataMissing, "invalid quote transaction value")
		}
		req.Value = value
	}
	if strings.TrimSpace(tx.Gas) != "" {
		gas, ok := new(big.Int).SetString(strings.TrimSpace(tx.Gas), 10)
		if !ok || !gas.IsUint64() {
			return submit.Request{}, clierr.New(clierr.CodeTxDataMissing, "invalid quote transaction gas")
		}
		req.Gas = gas.Uint64()
	}
	if strings.TrimSpace(tx.GasPrice) != "" {
		gasPrice, ok := new(big.Int).SetString(strings.TrimSpace(tx.GasPrice), 10)
		if !ok {
			return submit.Request{}, clierr.New(clierr.CodeTxDataMissing, "invalid quote transaction gas price")
		}
		req.GasPrice = gasPrice
	}
	return req, nil
}

func decodeOptionalHex(v string) ([]byte, error) {
	clean := strings.TrimSpace(v)
	if clean == "" || clean == "0x" {
		return []byte{}, nil
	}
	return hexutil.Decode(clean)
}

func newAttemptID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "attempt-unknown"
	}
	return fmt.Sprintf("att_%s", hex.EncodeToString(b))
}
