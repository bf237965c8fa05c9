// Package chaintest provides an in-memory chain.Backend for tests.
package chaintest

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Backend records broadcast transactions and serves canned contract-call
// responses. Every accepted transaction immediately gets a successful
// receipt unless NextReceiptStatus says otherwise, so confirmation waits
// return on their first poll.
type Backend struct {
	mu sync.Mutex

	Chain    *big.Int
	Gas      uint64
	GasPrice *big.Int

	// CallHandler serves eth_call. Nil means every call fails.
	CallHandler func(msg ethereum.CallMsg) ([]byte, error)

	SendErr     error
	EstimateErr error

	// NextReceiptStatus overrides the receipt status of subsequently
	// accepted transactions.
	NextReceiptStatus uint64

	nonce    uint64
	sent     []*types.Transaction
	receipts map[common.Hash]*types.Receipt
}

func New() *Backend {
	return &Backend{
		Chain:             big.NewInt(1),
		Gas:               90_000,
		GasPrice:          big.NewInt(2_000_000_000),
		NextReceiptStatus: types.ReceiptStatusSuccessful,
		receipts:          make(map[common.Hash]*types.Receipt),
	}
}

func (b *Backend) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.Chain), nil
}

func (b *Backend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if b.CallHandler == nil {
		return nil, ethereum.NotFound
	}
	return b.CallHandler(msg)
}

func (b *Backend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonce, nil
}

func (b *Backend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if b.EstimateErr != nil {
		return 0, b.EstimateErr
	}
	return b.Gas, nil
}

func (b *Backend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.GasPrice), nil
}

func (b *Backend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if b.SendErr != nil {
		return b.SendErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nonce++
	b.sent = append(b.sent, tx)
	b.receipts[tx.Hash()] = &types.Receipt{
		Status: b.NextReceiptStatus,
		TxHash: tx.Hash(),
	}
	return nil
}

func (b *Backend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	receipt, ok := b.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

// Sent returns the broadcast transactions in order.
func (b *Backend) Sent() []*types.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*types.Transaction, len(b.sent))
	copy(out, b.sent)
	return out
}
