// Package orderbook implements the REST client for the external central
// limit order book: balance refresh, quote discovery, order submission, and
// result classification.
package orderbook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cosminimum/polycopy/internal/crypto"
	"github.com/cosminimum/polycopy/internal/domain"
)

// Client talks to the order-book service over authenticated REST.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       *crypto.HMACAuth
	address    string // custodial wallet the credentials belong to
}

// New creates an order-book client. baseURL is the API root, e.g.
// "https://clob.polymarket.com"; auth may be nil for read-only use.
func New(baseURL string, address string, auth *crypto.HMACAuth) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		auth:    auth,
		address: address,
	}
}

// RefreshBalance asks the venue to re-read the wallet's on-chain collateral
// balance and allowance, so a freshly funded wallet is spendable immediately.
func (c *Client) RefreshBalance(ctx context.Context, wallet string) error {
	path := "/balance-allowance/update?asset_type=COLLATERAL&signature_type=2"
	if _, err := c.doAuthenticatedRequest(ctx, http.MethodGet, path, nil); err != nil {
		return fmt.Errorf("orderbook: refresh balance for %s: %w", wallet, err)
	}
	return nil
}

// BestQuote returns the best opposing price for a taker order: the lowest ask
// for a BUY, the highest bid for a SELL. An empty opposing side returns a
// CodedError with CodeNoLiquidity.
func (c *Client) BestQuote(ctx context.Context, tokenID string, side domain.OrderSide) (float64, error) {
	path := "/book?token_id=" + url.QueryEscape(tokenID)
	respBody, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, fmt.Errorf("orderbook: get book for %s: %w", tokenID, err)
	}

	var book apiBook
	if err := json.Unmarshal(respBody, &book); err != nil {
		return 0, fmt.Errorf("orderbook: decode book: %w", err)
	}

	levels := book.Asks
	if side == domain.OrderSideSell {
		levels = book.Bids
	}
	if len(levels) == 0 {
		return 0, domain.NewCodedError(domain.CodeNoLiquidity,
			"no opposing quotes for asset %s (%s)", tokenID, side)
	}

	// The venue sorts asks ascending and bids descending, so the best
	// opposing quote is the first level in both cases.
	best := parseAmount(levels[0].Price)
	if best <= 0 {
		return 0, domain.NewCodedError(domain.CodeNoLiquidity,
			"unparseable best quote %q for asset %s", levels[0].Price, tokenID)
	}
	return best, nil
}

// SubmitOrder posts a signed order and classifies the venue's answer.
// Rejections carrying a balance complaint come back as CodeBalance so the
// caller can distinguish "needs funding" from "needs liquidity".
// A client built without credentials can read the book but not trade.
func (c *Client) SubmitOrder(ctx context.Context, order domain.SignedOrder) (domain.SubmitResult, error) {
	if c.auth == nil {
		return domain.SubmitResult{}, domain.NewCodedError(domain.CodePrecondition,
			"no venue credentials configured, cannot submit orders")
	}

	side := 0
	if order.Side == domain.OrderSideSell {
		side = 1
	}

	body := map[string]any{
		"order": map[string]any{
			"salt":          order.Salt,
			"maker":         order.Maker,
			"signer":        order.Signer,
			"taker":         "0x0000000000000000000000000000000000000000",
			"tokenId":       order.TokenID,
			"makerAmount":   order.MakerAmount.String(),
			"takerAmount":   order.TakerAmount.String(),
			"expiration":    "0",
			"nonce":         "0",
			"feeRateBps":    "0",
			"side":          side,
			"signatureType": order.SignatureType,
			"signature":     order.Signature,
		},
		"owner":     c.auth.Key,
		"orderType": "FOK",
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodPost, "/order", body)
	if err != nil {
		return domain.SubmitResult{}, domain.WrapCoded(domain.CodeVenue, err, "order submission failed")
	}

	var apiResult apiOrderResult
	if err := json.Unmarshal(respBody, &apiResult); err != nil {
		return domain.SubmitResult{}, domain.WrapCoded(domain.CodeVenue, err, "decode order result")
	}

	result := apiResult.toSubmitResult(order.Side)
	if result.Status == domain.SubmitRejected && isBalanceError(result.RawMessage) {
		return result, domain.NewCodedError(domain.CodeBalance,
			"venue reports insufficient balance: %s", result.RawMessage)
	}
	return result, nil
}

// OrderStatus re-queries a previously submitted order, used to reconcile
// unmatched orders that may have filled later.
func (c *Client) OrderStatus(ctx context.Context, orderID string) (domain.SubmitResult, error) {
	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodGet, "/data/order/"+url.PathEscape(orderID), nil)
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("orderbook: order status %s: %w", orderID, err)
	}

	var apiResult apiOrderResult
	if err := json.Unmarshal(respBody, &apiResult); err != nil {
		return domain.SubmitResult{}, fmt.Errorf("orderbook: decode order status: %w", err)
	}
	apiResult.Success = true
	apiResult.OrderID = orderID

	// The status endpoint reports sides from the order's own perspective;
	// amounts are already resolved, so classification only needs the status.
	return apiResult.toSubmitResult(domain.OrderSideBuy), nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doAuthenticatedRequest signs the request with HMAC credentials before
// sending. doRequest sends unauthenticated (public market data).
func (c *Client) doAuthenticatedRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	return c.send(ctx, method, path, body, true)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	return c.send(ctx, method, path, body, false)
}

func (c *Client) send(ctx context.Context, method, path string, body any, authed bool) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if authed && c.auth != nil {
		for k, v := range c.auth.Headers(c.address, method, path, bodyStr) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, string(respBody))
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// Compile-time interface check.
var _ domain.OrderBook = (*Client)(nil)
