// Package permit signs a quote's Permit2 typed data and embeds the
// signature into the quote's transaction calldata.
//
// The receiving contract parses calldata as
//
//	original data || 32-byte big-endian signature length || signature
//
// with nothing between the segments. A wrong-width or wrong-endianness
// length header makes the contract misparse the appended bytes and either
// revert or read garbage as the signature, so the layout here is treated as
// part of the contract ABI, not a serialization detail.
package permit

import (
	"encoding/json"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/ggonzalez94/swap-agent/internal/aggregator"
	clierr "github.com/ggonzalez94/swap-agent/internal/errors"
	"github.com/ggonzalez94/swap-agent/internal/signer"
)

type Kind string

const (
	// KindNoPermitNeeded means the quote carried no permit payload: the
	// swap settles through a direct allowance and the transaction data is
	// returned untouched.
	KindNoPermitNeeded Kind = "no_permit_needed"
	// KindPermitEmbedded means the permit was signed and the signature was
	// appended to the transaction data.
	KindPermitEmbedded Kind = "permit_embedded"
)

// Result is the tagged outcome of Embed. Failure is an explicit error
// (SigningFailed or TransactionDataMissing), never a result with partial
// state, so a caller cannot accidentally broadcast a malformed payload.
type Result struct {
	Kind      Kind
	Quote     aggregator.Quote
	Signature []byte
}

// Embed signs quote.Permit2.EIP712 and returns a copy of the quote whose
// transaction data has the signature appended. It must be called at most
// once per quote: embedding is not idempotent and re-embedding would
// double-append.
func Embed(quote aggregator.Quote, s signer.Signer) (Result, error) {
	if quote.Permit2 == nil || len(quote.Permit2.EIP712) == 0 {
		return Result{Kind: KindNoPermitNeeded, Quote: quote}, nil
	}

	var typedData apitypes.TypedData
	if err := json.Unmarshal(quote.Permit2.EIP712, &typedData); err != nil {
		return Result{}, clierr.Wrap(clierr.CodeSigningFailed, "decode permit typed data", err)
	}
	sig, err := s.SignTypedData(typedData)
	if err != nil {
		return Result{}, clierr.Wrap(clierr.CodeSigningFailed, "sign permit typed data", err)
	}

	if quote.Transaction == nil || strings.TrimSpace(quote.Transaction.Data) == "" {
		return Result{}, clierr.New(clierr.CodeTxDataMissing, "quote has a signed permit but no transaction data")
	}
	data, err := hexutil.Decode(quote.Transaction.Data)
	if err != nil {
		return Result{}, clierr.Wrap(clierr.CodeTxDataMissing, "decode transaction data", err)
	}

	embedded := AppendSignature(data, sig)

	tx := *quote.Transaction
	tx.Data = hexutil.Encode(embedded)
	quote.Transaction = &tx
	return Result{Kind: KindPermitEmbedded, Quote: quote, Signature: sig}, nil
}

// AppendSignature concatenates data, the 32-byte big-endian signature
// length, and the raw signature, in that exact order.
func AppendSignature(data, sig []byte) []byte {
	header := common.LeftPadBytes(big.NewInt(int64(len(sig))).Bytes(), 32)
	out := make([]byte, 0, len(data)+32+len(sig))
	out = append(out, data...)
	out = append(out, header...)
	out = append(out, sig...)
	return out
}
