// Package pricing converts bond and reward amounts between the stable
// settlement asset and the ledger's native unit.
//
// Rates come from a primary HTTP source with a secondary fallback; when both
// fail the converter degrades to the last cached value, and past the cache
// TTL to a conservative hardcoded default marked as degraded.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Source provides the native/stable exchange rate from one upstream.
type Source interface {
	// Name identifies the source in PriceInfo and logs.
	Name() string

	// Rate fetches the current price of one native unit in stable units.
	Rate(ctx context.Context) (decimal.Decimal, error)
}

// JupiterSource fetches the native asset price from a Jupiter-style price API.
type JupiterSource struct {
	// URL is the full price endpoint including the mint query.
	URL string

	// Mint is the native asset mint whose price is extracted.
	Mint string

	// Client is the HTTP client; http.DefaultClient if nil.
	Client *http.Client
}

// Name implements Source.
func (s *JupiterSource) Name() string { return "jupiter" }

// Rate implements Source.
func (s *JupiterSource) Rate(ctx context.Context) (decimal.Decimal, error) {
	var body struct {
		Data map[string]struct {
			Price string `json:"price"`
		} `json:"data"`
	}
	if err := fetchJSON(ctx, s.Client, s.URL, &body); err != nil {
		return decimal.Zero, err
	}

	entry, ok := body.Data[s.Mint]
	if !ok || entry.Price == "" {
		return decimal.Zero, fmt.Errorf("pricing: no price for mint %s", s.Mint)
	}

	price, err := decimal.NewFromString(entry.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("pricing: invalid price %q: %w", entry.Price, err)
	}
	if price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("pricing: non-positive price %s", price)
	}
	return price, nil
}

// CoinGeckoSource fetches the native asset price from a CoinGecko-style API.
type CoinGeckoSource struct {
	// URL is the full simple-price endpoint including query parameters.
	URL string

	// CoinID is the coin identifier in the response (e.g. "solana").
	CoinID string

	// Client is the HTTP client; http.DefaultClient if nil.
	Client *http.Client
}

// Name implements Source.
func (s *CoinGeckoSource) Name() string { return "coingecko" }

// Rate implements Source.
func (s *CoinGeckoSource) Rate(ctx context.Context) (decimal.Decimal, error) {
	var body map[string]struct {
		USD float64 `json:"usd"`
	}
	if err := fetchJSON(ctx, s.Client, s.URL, &body); err != nil {
		return decimal.Zero, err
	}

	entry, ok := body[s.CoinID]
	if !ok || entry.USD <= 0 {
		return decimal.Zero, fmt.Errorf("pricing: no usable price for %s", s.CoinID)
	}
	return decimal.NewFromFloat(entry.USD), nil
}

const sourceTimeout = 15 * time.Second

func fetchJSON(ctx context.Context, client *http.Client, url string, out interface{}) error {
	if client == nil {
		client = http.DefaultClient
	}

	reqCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, sourceTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("pricing: failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("pricing: fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pricing: fetch status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("pricing: decode failed: %w", err)
	}
	return nil
}
