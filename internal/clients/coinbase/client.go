// Package coinbase implements the Coinbase Advanced Trade REST client
// used for balances, spot prices, daily candles, and order submission.
package coinbase

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jhd66g/coinbase-systematic-trader/internal/domain"
	"github.com/rs/zerolog"
)

const (
	apiHost        = "api.coinbase.com"
	defaultBaseURL = "https://" + apiHost
)

// ErrOrderRejected indicates the exchange accepted the request but
// refused the order itself.
var ErrOrderRejected = errors.New("order rejected")

// Client talks to the Coinbase Advanced Trade API. It implements both
// domain.ExchangeClient and domain.MarketDataProvider.
type Client struct {
	httpClient *http.Client
	baseURL    string
	keyName    string
	key        *ecdsa.PrivateKey
	now        func() time.Time
	log        zerolog.Logger
}

// NewClient creates an authenticated Coinbase client from the API key
// name and its EC private key PEM.
func NewClient(keyName, privateKeyPEM string, log zerolog.Logger) (*Client, error) {
	if keyName == "" || privateKeyPEM == "" {
		return nil, fmt.Errorf("coinbase credentials are not configured")
	}
	key, err := parsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("invalid coinbase private key: %w", err)
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		keyName:    keyName,
		key:        key,
		now:        time.Now,
		log:        log.With().Str("client", "coinbase").Logger(),
	}, nil
}

// NewClientWithBaseURL is used by tests to point the client at a local
// server. Requests are still signed so the auth path stays exercised.
func NewClientWithBaseURL(keyName, privateKeyPEM, baseURL string, log zerolog.Logger) (*Client, error) {
	c, err := NewClient(keyName, privateKeyPEM, log)
	if err != nil {
		return nil, err
	}
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	token, err := buildJWT(c.key, c.keyName, method, path, c.now())
	if err != nil {
		return err
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("coinbase returned %d for %s: %s", resp.StatusCode, path, strings.TrimSpace(string(data)))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response from %s: %w", path, err)
		}
	}
	return nil
}

type accountsResponse struct {
	Accounts []struct {
		Currency         string `json:"currency"`
		AvailableBalance struct {
			Value string `json:"value"`
		} `json:"available_balance"`
	} `json:"accounts"`
}

// GetBalances returns available balances keyed by currency symbol.
func (c *Client) GetBalances(ctx context.Context) (map[string]float64, error) {
	var resp accountsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v3/brokerage/accounts", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch balances: %w", err)
	}

	balances := make(map[string]float64, len(resp.Accounts))
	for _, acc := range resp.Accounts {
		v, err := strconv.ParseFloat(acc.AvailableBalance.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("bad balance %q for %s: %w", acc.AvailableBalance.Value, acc.Currency, err)
		}
		balances[acc.Currency] += v
	}
	return balances, nil
}

type tickerResponse struct {
	Price   string `json:"price"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

func (c *Client) ticker(ctx context.Context, productID string) (*tickerResponse, error) {
	var resp tickerResponse
	path := fmt.Sprintf("/api/v3/brokerage/products/%s/ticker", productID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch ticker for %s: %w", productID, err)
	}
	return &resp, nil
}

// GetPrice returns the current spot price, falling back to the best bid
// or ask when the trade price is absent.
func (c *Client) GetPrice(ctx context.Context, productID string) (float64, error) {
	t, err := c.ticker(ctx, productID)
	if err != nil {
		return 0, err
	}
	for _, raw := range []string{t.Price, t.BestBid, t.BestAsk} {
		if raw == "" {
			continue
		}
		price, err := strconv.ParseFloat(raw, 64)
		if err == nil && price > 0 {
			return price, nil
		}
	}
	return 0, fmt.Errorf("no usable price in ticker for %s", productID)
}

type orderResponse struct {
	Success         bool `json:"success"`
	SuccessResponse struct {
		OrderID string `json:"order_id"`
	} `json:"success_response"`
	ErrorResponse struct {
		Message string `json:"message"`
	} `json:"error_response"`
}

// SubmitOrder places a GTC limit order at the touch: best ask for buys,
// best bid for sells. Crossing the spread fills immediately in practice
// while still bounding the execution price.
func (c *Client) SubmitOrder(ctx context.Context, productID string, side domain.TradeSide, size float64) (string, error) {
	t, err := c.ticker(ctx, productID)
	if err != nil {
		return "", err
	}

	raw := t.BestAsk
	if side == domain.SideSell {
		raw = t.BestBid
	}
	if raw == "" {
		raw = t.Price
	}
	limitPrice, err := strconv.ParseFloat(raw, 64)
	if err != nil || limitPrice <= 0 {
		return "", fmt.Errorf("no usable limit price for %s", productID)
	}

	order := map[string]interface{}{
		"client_order_id": uuid.NewString(),
		"product_id":      productID,
		"side":            string(side),
		"order_configuration": map[string]interface{}{
			"limit_limit_gtc": map[string]interface{}{
				"base_size":   formatBaseSize(productID, size),
				"limit_price": strconv.FormatFloat(limitPrice, 'f', 2, 64),
				"post_only":   false,
			},
		},
	}

	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/api/v3/brokerage/orders", order, &resp); err != nil {
		return "", fmt.Errorf("failed to submit %s order for %s: %w", side, productID, err)
	}
	if !resp.Success {
		msg := resp.ErrorResponse.Message
		if msg == "" {
			msg = "unknown reason"
		}
		return "", fmt.Errorf("%w: %s", ErrOrderRejected, msg)
	}
	return resp.SuccessResponse.OrderID, nil
}

// formatBaseSize renders order size at the product's precision: BTC
// trades in satoshis, everything else at 5 decimals.
func formatBaseSize(productID string, size float64) string {
	if strings.HasPrefix(productID, "BTC") {
		return strconv.FormatFloat(size, 'f', 8, 64)
	}
	return strconv.FormatFloat(size, 'f', 5, 64)
}

type candlesResponse struct {
	Candles []struct {
		Start string `json:"start"`
		Close string `json:"close"`
	} `json:"candles"`
}

// GetPriceHistory fetches daily candles for a product, sorted ascending
// by date, truncated at asOf (YYYY-MM-DD), and trimmed to the trailing
// numDays observations. A few extra candles are requested since the
// exchange occasionally returns gaps.
func (c *Client) GetPriceHistory(ctx context.Context, productID, asOf string, numDays int) ([]domain.Candle, error) {
	path := fmt.Sprintf("/api/v3/brokerage/products/%s/candles?granularity=ONE_DAY&limit=%d", productID, numDays+10)

	var resp candlesResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch candles for %s: %w", productID, err)
	}

	candles := make([]domain.Candle, 0, len(resp.Candles))
	for _, raw := range resp.Candles {
		ts, err := strconv.ParseInt(raw.Start, 10, 64)
		if err != nil {
			continue
		}
		closePrice, err := strconv.ParseFloat(raw.Close, 64)
		if err != nil || closePrice <= 0 {
			continue
		}
		date := time.Unix(ts, 0).UTC().Format("2006-01-02")
		if asOf != "" && date > asOf {
			continue
		}
		candles = append(candles, domain.Candle{Date: date, Close: closePrice})
	}

	sort.Slice(candles, func(i, j int) bool { return candles[i].Date < candles[j].Date })

	if len(candles) > numDays {
		candles = candles[len(candles)-numDays:]
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("no candles returned for %s", productID)
	}
	return candles, nil
}
