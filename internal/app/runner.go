package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ggonzalez94/swap-agent/internal/aggregator"
	"github.com/ggonzalez94/swap-agent/internal/allowance"
	"github.com/ggonzalez94/swap-agent/internal/config"
	clierr "github.com/ggonzalez94/swap-agent/internal/errors"
	"github.com/ggonzalez94/swap-agent/internal/httpx"
	"github.com/ggonzalez94/swap-agent/internal/journal"
	"github.com/ggonzalez94/swap-agent/internal/lending"
	"github.com/ggonzalez94/swap-agent/internal/registry"
	"github.com/ggonzalez94/swap-agent/internal/signer"
	"github.com/ggonzalez94/swap-agent/internal/submit"
	"github.com/ggonzalez94/swap-agent/internal/swap"
	"github.com/spf13/cobra"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{stdout: stdout, stderr: stderr}
}

func (r *Runner) Run(args []string) int {
	root := r.newRootCommand()
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(r.stderr, "error: %v\n", err)
		return clierr.ExitCode(err)
	}
	return int(clierr.CodeSuccess)
}

func (r *Runner) newRootCommand() *cobra.Command {
	flags := &config.GlobalFlags{}
	root := &cobra.Command{
		Use:           "swap-agent",
		Short:         "Execute aggregator swaps and lending operations from a local account",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterFlags(root.PersistentFlags(), flags)

	root.AddCommand(r.newSwapCommand(flags))
	root.AddCommand(r.newStakeCommand(flags))
	root.AddCommand(r.newUnstakeCommand(flags))
	root.AddCommand(r.newAttemptsCommand(flags))
	return root
}

type runtime struct {
	settings config.Settings
	client   *ethclient.Client
	signer   *signer.LocalSigner
	store    *journal.Store
	orch     *swap.Orchestrator
}

func (rt *runtime) Close() {
	if rt.client != nil {
		rt.client.Close()
	}
	if rt.store != nil {
		_ = rt.store.Close()
	}
}

func (r *Runner) setup(ctx context.Context, flags *config.GlobalFlags, needPool bool) (*runtime, error) {
	settings, err := config.Load(*flags)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "load configuration", err)
	}
	rpcURL, err := registry.ResolveRPCURL(settings.RPCURL, settings.ChainID)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "resolve rpc url", err)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	localSigner, err := signer.NewLocalSignerFromEnv(settings.KeySource)
	if err != nil {
		client.Close()
		return nil, clierr.Wrap(clierr.CodeSigningFailed, "load signing key", err)
	}
	store, err := journal.OpenStore(settings.JournalPath, settings.JournalLockPath)
	if err != nil {
		client.Close()
		return nil, clierr.Wrap(clierr.CodeInternal, "open attempt journal", err)
	}

	httpClient := httpx.New(settings.Timeout, settings.Retries)
	aggClient := aggregator.New(httpClient, settings.AggregatorBaseURL, settings.AggregatorAPIKey, settings.AggregatorAPIVersion)
	submitter := submit.New(client, localSigner)
	allowManager := allowance.NewManager(client, localSigner, submitter)

	var adapter *lending.Adapter
	if needPool {
		pool, err := lending.ResolvePool(ctx, client, settings.ChainID, settings.PoolAddress)
		if err != nil {
			client.Close()
			_ = store.Close()
			return nil, err
		}
		adapter = lending.NewAdapter(client, localSigner, submitter, allowManager, pool)
	}

	orch := swap.NewOrchestrator(aggClient, allowManager, submitter, localSigner, adapter, store, settings.ChainID)
	orch.AffiliateFeeBps = settings.AffiliateFeeBps
	orch.SurplusCollection = settings.SurplusCollection
	orch.Warnings = r.stderr
	return &runtime{settings: settings, client: client, signer: localSigner, store: store, orch: orch}, nil
}

func (r *Runner) printJSON(v any) {
	enc := json.NewEncoder(r.stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func parseAddressArg(name, value string) (common.Address, error) {
	if !common.IsHexAddress(strings.TrimSpace(value)) {
		return common.Address{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("%s must be a valid EVM address", name))
	}
	return common.HexToAddress(strings.TrimSpace(value)), nil
}

func parseAmountArg(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok || amount.Sign() <= 0 {
		return nil, clierr.New(clierr.CodeUsage, "amount must be a positive integer in base units")
	}
	return amount, nil
}
