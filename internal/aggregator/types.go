package aggregator

import "encoding/json"

// Fill is one liquidity source the aggregator routed part of the sell
// amount through, with its share in basis points.
type Fill struct {
	Source        string `json:"source"`
	ProportionBps string `json:"proportionBps"`
}

type Route struct {
	Fills []Fill `json:"fills"`
}

// TokenTax carries the aggregator-detected transfer taxes for one token.
type TokenTax struct {
	BuyTaxBps  string `json:"buyTaxBps"`
	SellTaxBps string `json:"sellTaxBps"`
}

type TokenMetadata struct {
	BuyToken  TokenTax `json:"buyToken"`
	SellToken TokenTax `json:"sellToken"`
}

// AllowanceIssue reports that the taker has not granted Permit2 a
// sufficient allowance on the sell token. A nil issue means no approval
// transaction is required before quoting.
type AllowanceIssue struct {
	Spender string `json:"spender"`
	Actual  string `json:"actual"`
}

type Issues struct {
	Allowance *AllowanceIssue `json:"allowance"`
}

// Permit2 carries the typed-data payload the taker must sign off-chain.
// The raw JSON is decoded into apitypes.TypedData only at signing time.
type Permit2 struct {
	Type   string          `json:"type"`
	Hash   string          `json:"hash"`
	EIP712 json.RawMessage `json:"eip712"`
}

// Transaction is the executable payload of a firm quote. Data is mutated
// exactly once, by the permit signature embedder; every other component
// treats it as read-only.
type Transaction struct {
	To       string `json:"to"`
	Data     string `json:"data"`
	Value    string `json:"value"`
	Gas      string `json:"gas"`
	GasPrice string `json:"gasPrice"`
}

// Price is the advisory response of GET /price. It carries no executable
// payload and is used only to preview the expected output and to detect
// whether a Permit2 allowance must be granted before quoting.
type Price struct {
	SellToken  string  `json:"sellToken"`
	BuyToken   string  `json:"buyToken"`
	SellAmount string  `json:"sellAmount"`
	BuyAmount  string  `json:"buyAmount"`
	Issues     *Issues `json:"issues"`
}

// Quote is the firm response of GET /quote. It is valid only within the
// aggregator's validity window and must be consumed by the same
// orchestration run that fetched it.
type Quote struct {
	SellToken       string        `json:"sellToken"`
	BuyToken        string        `json:"buyToken"`
	SellAmount      string        `json:"sellAmount"`
	BuyAmount       string        `json:"buyAmount"`
	Route           Route         `json:"route"`
	TokenMetadata   TokenMetadata `json:"tokenMetadata"`
	AffiliateFeeBps string        `json:"affiliateFeeBps"`
	TradeSurplus    string        `json:"tradeSurplus"`
	Issues          *Issues       `json:"issues"`
	Permit2         *Permit2      `json:"permit2"`
	Transaction     *Transaction  `json:"transaction"`
}
