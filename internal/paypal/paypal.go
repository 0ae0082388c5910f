// Package paypal verifies checkout orders against the payment
// gateway's REST API. This is the secondary confirmation flow next to
// email ingestion: given an order id it reports the captured amount,
// and any failure at any step simply yields "unverified".
package paypal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	sandboxBase = "https://api-m.sandbox.paypal.com"
	liveBase    = "https://api-m.paypal.com"

	requestTimeout = 8 * time.Second
)

// Config holds API credentials and environment selection. BaseURL is
// normally derived from Env; setting it explicitly wins (tests point
// it at a local server).
type Config struct {
	ClientID string
	Secret   string
	Env      string // "sandbox" (default) or "live"
	BaseURL  string
}

// Verified is the confirmed value of a completed, captured order.
type Verified struct {
	Amount   decimal.Decimal
	Currency string
}

// Client talks to the gateway's token and order-lookup endpoints.
type Client struct {
	cfg  Config
	base string
	http *http.Client
}

// NewClient builds a verification client. Without credentials the
// client still constructs; VerifyOrder then always reports unverified.
func NewClient(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		if strings.EqualFold(cfg.Env, "live") {
			base = liveBase
		} else {
			base = sandboxBase
		}
	}

	return &Client{
		cfg:  cfg,
		base: base,
		http: &http.Client{Timeout: requestTimeout},
	}
}

// VerifyOrder confirms that the order is COMPLETED with at least one
// completed capture and returns the captured amount. The second return
// is false on any failure: missing credentials, transport errors,
// non-200 responses, malformed JSON, or an order in any other state.
// Verification never raises; an unverifiable order is a result, not a
// fault.
func (c *Client) VerifyOrder(ctx context.Context, orderID string) (*Verified, bool) {
	if c.cfg.ClientID == "" || c.cfg.Secret == "" || orderID == "" {
		return nil, false
	}

	token, ok := c.accessToken(ctx)
	if !ok {
		return nil, false
	}

	order, ok := c.fetchOrder(ctx, token, orderID)
	if !ok {
		return nil, false
	}

	if order.Status != "COMPLETED" || len(order.PurchaseUnits) == 0 {
		return nil, false
	}

	captures := order.PurchaseUnits[0].Payments.Captures
	if len(captures) == 0 || captures[0].Status != "COMPLETED" {
		return nil, false
	}

	amt := captures[0].Amount
	if amt.Value == "" || amt.CurrencyCode == "" {
		return nil, false
	}

	value, err := decimal.NewFromString(amt.Value)
	if err != nil {
		return nil, false
	}

	return &Verified{
		Amount:   value.Round(2),
		Currency: amt.CurrencyCode,
	}, true
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

type orderResponse struct {
	Status        string `json:"status"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				Status string `json:"status"`
				Amount struct {
					Value        string `json:"value"`
					CurrencyCode string `json:"currency_code"`
				} `json:"amount"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

// accessToken performs the OAuth client-credentials exchange.
func (c *Client) accessToken(ctx context.Context) (string, bool) {
	form := url.Values{"grant_type": {"client_credentials"}}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost,
		c.base+"/v1/oauth2/token",
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return "", false
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.Secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var tok tokenResponse
	if !c.doJSON(req, &tok) || tok.AccessToken == "" {
		return "", false
	}
	return tok.AccessToken, true
}

// fetchOrder retrieves order details with a bearer token.
func (c *Client) fetchOrder(
	ctx context.Context, token, orderID string,
) (*orderResponse, bool) {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet,
		fmt.Sprintf("%s/v2/checkout/orders/%s", c.base, url.PathEscape(orderID)),
		nil,
	)
	if err != nil {
		return nil, false
	}
	req.Header.Set("Authorization", "Bearer "+token)

	var order orderResponse
	if !c.doJSON(req, &order) {
		return nil, false
	}
	return &order, true
}

// doJSON executes the request and decodes a 200 JSON body into out.
func (c *Client) doJSON(req *http.Request, out any) bool {
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false
	}

	return json.Unmarshal(body, out) == nil
}
