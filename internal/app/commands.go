package app

import (
	"fmt"
	"strings"

	"github.com/ggonzalez94/swap-agent/internal/aggregator"
	"github.com/ggonzalez94/swap-agent/internal/config"
	"github.com/ggonzalez94/swap-agent/internal/journal"
	"github.com/ggonzalez94/swap-agent/internal/swap"
	"github.com/spf13/cobra"
)

func (r *Runner) newSwapCommand(flags *config.GlobalFlags) *cobra.Command {
	var (
		sellToken string
		buyToken  string
		amount    string
	)
	cmd := &cobra.Command{
		Use:   "swap",
		Short: "Execute a best-price swap through the aggregator",
		RunE: func(cmd *cobra.Command, args []string) error {
			sell, err := parseAddressArg("--sell-token", sellToken)
			if err != nil {
				return err
			}
			buy, err := parseAddressArg("--buy-token", buyToken)
			if err != nil {
				return err
			}
			sellAmount, err := parseAmountArg(amount)
			if err != nil {
				return err
			}

			rt, err := r.setup(cmd.Context(), flags, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			result, err := rt.orch.ExecuteSwap(cmd.Context(), swap.Request{
				SellToken:  sell,
				BuyToken:   buy,
				SellAmount: sellAmount,
			})
			if err != nil {
				return err
			}
			if rt.settings.JSON {
				r.printJSON(result)
				return nil
			}
			fmt.Fprintf(r.stdout, "attempt %s submitted: %s\n", result.AttemptID, result.TxHash.Hex())
			fmt.Fprintf(r.stdout, "buy amount: %s (indicative %s)\n", result.BuyAmount, result.IndicativeBuyAmount)
			r.printRoute(result.Quote)
			return nil
		},
	}
	cmd.Flags().StringVar(&sellToken, "sell-token", "", "token to sell (address)")
	cmd.Flags().StringVar(&buyToken, "buy-token", "", "token to buy (address)")
	cmd.Flags().StringVar(&amount, "amount", "", "sell amount in base units")
	_ = cmd.MarkFlagRequired("sell-token")
	_ = cmd.MarkFlagRequired("buy-token")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

// printRoute reports liquidity-source shares and detected token taxes from
// an already-fetched quote.
func (r *Runner) printRoute(quote aggregator.Quote) {
	for _, fill := range quote.Route.Fills {
		fmt.Fprintf(r.stdout, "  route: %s %s bps\n", fill.Source, fill.ProportionBps)
	}
	if tax := quote.TokenMetadata.BuyToken; tax.BuyTaxBps != "" || tax.SellTaxBps != "" {
		fmt.Fprintf(r.stdout, "  buy token tax: buy %s bps, sell %s bps\n", orZero(tax.BuyTaxBps), orZero(tax.SellTaxBps))
	}
	if tax := quote.TokenMetadata.SellToken; tax.BuyTaxBps != "" || tax.SellTaxBps != "" {
		fmt.Fprintf(r.stdout, "  sell token tax: buy %s bps, sell %s bps\n", orZero(tax.BuyTaxBps), orZero(tax.SellTaxBps))
	}
}

func (r *Runner) newStakeCommand(flags *config.GlobalFlags) *cobra.Command {
	var (
		asset      string
		amount     string
		onBehalfOf string
	)
	cmd := &cobra.Command{
		Use:   "stake",
		Short: "Supply an asset to the lending pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			assetAddr, err := parseAddressArg("--asset", asset)
			if err != nil {
				return err
			}
			stakeAmount, err := parseAmountArg(amount)
			if err != nil {
				return err
			}

			rt, err := r.setup(cmd.Context(), flags, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			beneficiary := rt.signer.Address()
			if strings.TrimSpace(onBehalfOf) != "" {
				beneficiary, err = parseAddressArg("--on-behalf-of", onBehalfOf)
				if err != nil {
					return err
				}
			}
			hashes, err := rt.orch.Stake(cmd.Context(), assetAddr, stakeAmount, beneficiary)
			if err != nil {
				return err
			}
			if rt.settings.JSON {
				r.printJSON(hashes)
				return nil
			}
			fmt.Fprintf(r.stdout, "supplied: %s\n", hashes.PoolCall.Hex())
			return nil
		},
	}
	cmd.Flags().StringVar(&asset, "asset", "", "asset to supply (address)")
	cmd.Flags().StringVar(&amount, "amount", "", "amount in base units")
	cmd.Flags().StringVar(&onBehalfOf, "on-behalf-of", "", "account credited with the supplied position (defaults to signer)")
	_ = cmd.MarkFlagRequired("asset")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func (r *Runner) newUnstakeCommand(flags *config.GlobalFlags) *cobra.Command {
	var (
		asset  string
		amount string
		to     string
	)
	cmd := &cobra.Command{
		Use:   "unstake",
		Short: "Withdraw an asset from the lending pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			assetAddr, err := parseAddressArg("--asset", asset)
			if err != nil {
				return err
			}
			unstakeAmount, err := parseAmountArg(amount)
			if err != nil {
				return err
			}

			rt, err := r.setup(cmd.Context(), flags, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			recipient := rt.signer.Address()
			if strings.TrimSpace(to) != "" {
				recipient, err = parseAddressArg("--to", to)
				if err != nil {
					return err
				}
			}
			hashes, err := rt.orch.Unstake(cmd.Context(), assetAddr, unstakeAmount, recipient)
			if err != nil {
				return err
			}
			if rt.settings.JSON {
				r.printJSON(hashes)
				return nil
			}
			fmt.Fprintf(r.stdout, "withdrawn: %s\n", hashes.PoolCall.Hex())
			return nil
		},
	}
	cmd.Flags().StringVar(&asset, "asset", "", "underlying asset to withdraw (address)")
	cmd.Flags().StringVar(&amount, "amount", "", "amount in base units")
	cmd.Flags().StringVar(&to, "to", "", "recipient of withdrawn funds (defaults to signer)")
	_ = cmd.MarkFlagRequired("asset")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func (r *Runner) newAttemptsCommand(flags *config.GlobalFlags) *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "attempts",
		Short: "List recorded swap and lend attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(*flags)
			if err != nil {
				return err
			}
			store, err := journal.OpenStore(settings.JournalPath, settings.JournalLockPath)
			if err != nil {
				return err
			}
			defer store.Close()

			attempts, err := store.List(status, limit)
			if err != nil {
				return err
			}
			if settings.JSON {
				r.printJSON(attempts)
				return nil
			}
			for _, a := range attempts {
				fmt.Fprintf(r.stdout, "%s  %-7s  %-9s  %s\n", a.AttemptID, a.Kind, a.Status, a.TxHash)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows")
	return cmd
}

func orZero(v string) string {
	if strings.TrimSpace(v) == "" {
		return "0"
	}
	return v
}
