package aggregator

import (
	"context"
	"math/big"
	"net/url"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/swap-agent/internal/errors"
	"github.com/ggonzalez94/swap-agent/internal/httpx"
)

const defaultBase = "https://api.0x.org/swap/permit2"

const (
	headerAPIKey     = "0x-api-key"
	headerAPIVersion = "0x-version"
)

// Request is the shared parameter set of the price and quote endpoints.
// AffiliateFeeBps and SurplusCollection are pass-through monetization
// configuration; they never alter transaction assembly.
type Request struct {
	ChainID           int64
	SellToken         common.Address
	BuyToken          common.Address
	SellAmount        *big.Int
	Taker             common.Address
	AffiliateFeeBps   int64
	SurplusCollection bool
}

type Client struct {
	http       *httpx.Client
	baseURL    string
	apiKey     string
	apiVersion string
}

func New(httpClient *httpx.Client, baseURL, apiKey, apiVersion string) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBase
	}
	if strings.TrimSpace(apiVersion) == "" {
		apiVersion = "v2"
	}
	return &Client{http: httpClient, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, apiVersion: apiVersion}
}

// Price fetches an indicative price. The response must never be executed:
// it exists to preview the expected buy amount and to surface the Permit2
// allowance issue before a firm quote is requested.
func (c *Client) Price(ctx context.Context, req Request) (Price, error) {
	var price Price
	if err := c.get(ctx, "/price", req, &price); err != nil {
		return Price{}, err
	}
	return price, nil
}

// Quote fetches a firm quote. A response without a transaction payload is
// unusable and rejected here so no later step has to guard against it.
func (c *Client) Quote(ctx context.Context, req Request) (Quote, error) {
	var quote Quote
	if err := c.get(ctx, "/quote", req, &quote); err != nil {
		return Quote{}, err
	}
	if quote.Transaction == nil || strings.TrimSpace(quote.Transaction.To) == "" {
		return Quote{}, clierr.New(clierr.CodeQuoteUnavailable, "aggregator quote missing transaction payload")
	}
	return quote, nil
}

func (c *Client) get(ctx context.Context, path string, req Request, out any) error {
	if req.SellAmount == nil || req.SellAmount.Sign() <= 0 {
		return clierr.New(clierr.CodeUsage, "sell amount must be a positive integer in base units")
	}

	vals := url.Values{}
	vals.Set("chainId", strconv.FormatInt(req.ChainID, 10))
	vals.Set("sellToken", req.SellToken.Hex())
	vals.Set("buyToken", req.BuyToken.Hex())
	vals.Set("sellAmount", req.SellAmount.String())
	vals.Set("taker", req.Taker.Hex())
	if req.AffiliateFeeBps > 0 {
		vals.Set("affiliateFee", strconv.FormatInt(req.AffiliateFeeBps, 10))
	}
	if req.SurplusCollection {
		vals.Set("surplusCollection", "true")
	}

	headers := map[string]string{
		headerAPIVersion: c.apiVersion,
	}
	if strings.TrimSpace(c.apiKey) != "" {
		headers[headerAPIKey] = c.apiKey
	}

	if _, err := c.http.GetJSON(ctx, c.baseURL+path+"?"+vals.Encode(), headers, out); err != nil {
		return clierr.Wrap(clierr.CodeQuoteUnavailable, "aggregator "+strings.TrimPrefix(path, "/")+" request failed", err)
	}
	return nil
}
