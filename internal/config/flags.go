package config

import "github.com/spf13/pflag"

// RegisterFlags binds the global CLI flags onto fs. Zero values mean "not
// set" and lose to file and env configuration in Load.
func RegisterFlags(fs *pflag.FlagSet, flags *GlobalFlags) {
	fs.StringVar(&flags.ConfigPath, "config", "", "path to config file")
	fs.Int64Var(&flags.ChainID, "chain-id", 0, "EVM chain id")
	fs.StringVar(&flags.RPCURL, "rpc-url", "", "RPC endpoint override")
	fs.StringVar(&flags.Timeout, "timeout", "", "HTTP timeout (e.g. 10s)")
	fs.IntVar(&flags.Retries, "retries", 0, "HTTP retries for aggregator calls")
	fs.BoolVar(&flags.JSON, "json", false, "emit JSON output")
	fs.StringVar(&flags.KeySource, "key-source", "", "signing key source (auto|env|file|keystore)")
	fs.Int64Var(&flags.AffiliateFeeBps, "affiliate-fee-bps", 0, "affiliate fee passed to the aggregator, in bps")
	fs.BoolVar(&flags.SurplusCollection, "surplus-collection", false, "let the aggregator collect execution surplus")
}
