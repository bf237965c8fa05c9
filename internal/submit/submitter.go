package submit

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ggonzalez94/swap-agent/internal/chain"
	clierr "github.com/ggonzalez94/swap-agent/internal/errors"
	"github.com/ggonzalez94/swap-agent/internal/signer"
)

// Request describes one transaction to sign and broadcast. Value, Gas and
// GasPrice are optional: fields absent from the aggregator quote stay nil
// (or zero) here and are resolved against the node instead of being
// defaulted to zero on the wire.
type Request struct {
	To       common.Address
	Data     []byte
	Value    *big.Int
	Gas      uint64
	GasPrice *big.Int
}

// Submitter assigns a nonce, signs and broadcasts transactions for one
// account. Nonce assignment reads the pending transaction count, so only a
// single transaction per account may be in flight; callers serialize
// attempts (the orchestrator holds a per-account lock for this).
type Submitter struct {
	backend chain.Backend
	signer  signer.Signer
}

func New(backend chain.Backend, txSigner signer.Signer) *Submitter {
	return &Submitter{backend: backend, signer: txSigner}
}

// Submit broadcasts the transaction and returns its hash without waiting
// for confirmation. There is no retry and no nonce bump: a rejected
// broadcast is terminal for the attempt.
func (s *Submitter) Submit(ctx context.Context, req Request) (common.Hash, error) {
	from := s.signer.Address()

	chainID, err := s.backend.ChainID(ctx)
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	nonce, err := s.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeUnavailable, "fetch nonce", err)
	}

	value := req.Value
	if value == nil {
		value = big.NewInt(0)
	}
	gas := req.Gas
	if gas == 0 {
		to := req.To
		gas, err = s.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: req.Data})
		if err != nil {
			return common.Hash{}, clierr.Wrap(clierr.CodeBroadcastRejected, "estimate gas", err)
		}
	}
	gasPrice := req.GasPrice
	if gasPrice == nil {
		gasPrice, err = s.backend.SuggestGasPrice(ctx)
		if err != nil {
			return common.Hash{}, clierr.Wrap(clierr.CodeUnavailable, "suggest gas price", err)
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &req.To,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     req.Data,
	})
	signed, err := s.signer.SignTx(chainID, tx)
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeSigningFailed, "sign transaction", err)
	}
	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeBroadcastRejected, "broadcast transaction", err)
	}
	return signed.Hash(), nil
}

// WaitMined polls for the receipt of hash until it confirms, reverts, or
// the timeout elapses. Transient polling failures are ignored until the
// deadline.
func WaitMined(ctx context.Context, backend chain.Backend, hash common.Hash, pollInterval, timeout time.Duration) (*types.Receipt, error) {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := backend.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		// Ignore transient RPC polling failures until timeout.
		select {
		case <-waitCtx.Done():
			return nil, clierr.Wrap(clierr.CodeUnavailable, "timed out waiting for receipt", waitCtx.Err())
		case <-ticker.C:
		}
	}
}
