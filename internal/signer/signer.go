package signer

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

type Signer interface {
	Address() common.Address
	SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error)
	// SignTypedData signs the EIP-712 digest of the given typed data and
	// returns a 65-byte [R || S || V] signature with V in {27, 28}.
	SignTypedData(typedData apitypes.TypedData) ([]byte, error)
}
