package lending

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/swap-agent/internal/chain"
	clierr "github.com/ggonzalez94/swap-agent/internal/errors"
	"github.com/ggonzalez94/swap-agent/internal/registry"
)

// ResolvePool returns the pool address to use: an explicit override wins,
// otherwise the chain's PoolAddressesProvider is queried for getPool.
func ResolvePool(ctx context.Context, backend chain.Backend, chainID int64, override string) (common.Address, error) {
	if strings.TrimSpace(override) != "" {
		if !common.IsHexAddress(override) {
			return common.Address{}, clierr.New(clierr.CodeUsage, "invalid pool address")
		}
		return common.HexToAddress(override), nil
	}
	providerAddr, ok := registry.AavePoolAddressProvider(chainID)
	if !ok {
		return common.Address{}, clierr.New(clierr.CodeUnsupported, "no pool addresses provider known for this chain; configure lending.pool_address")
	}
	provider := common.HexToAddress(providerAddr)
	callData, err := poolProviderABI.Pack("getPool")
	if err != nil {
		return common.Address{}, clierr.Wrap(clierr.CodeInternal, "pack getPool calldata", err)
	}
	out, err := backend.CallContract(ctx, ethereum.CallMsg{To: &provider, Data: callData}, nil)
	if err != nil {
		return common.Address{}, clierr.Wrap(clierr.CodeUnavailable, "fetch pool address", err)
	}
	decoded, err := poolProviderABI.Unpack("getPool", out)
	if err != nil || len(decoded) == 0 {
		return common.Address{}, clierr.Wrap(clierr.CodeUnavailable, "decode pool address", err)
	}
	pool, ok := decoded[0].(common.Address)
	if !ok {
		return common.Address{}, clierr.New(clierr.CodeUnavailable, "invalid pool address response")
	}
	if pool == (common.Address{}) {
		return common.Address{}, clierr.New(clierr.CodeUnavailable, "pool address is zero")
	}
	return pool, nil
}

var poolProviderABI = mustABI(registry.AavePoolAddressProviderABI)
