// Package binance implements the Exchange and MarketStream contracts
// against the Binance spot API.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"sync"
	"time"

	"VolBot/internal/domain/models"
	drepo "VolBot/internal/domain/repository"
	"VolBot/internal/service/ratelimit"
	pkghttp "VolBot/pkg/http"
	"VolBot/pkg/logger"
)

const (
	codeClockSkew = -1021

	defaultRecvWindow = 5000 * time.Millisecond

	// Binance spot allows 50 orders per 10 seconds per account; stay
	// comfortably under it.
	requestBurst  = 20
	requestRefill = 4 // per second
)

// ErrThrottled is returned when the local request budget for a user is
// exhausted. Transient: callers retry on a later cycle.
var ErrThrottled = errors.New("binance: request budget exhausted")

// rejection codes the exchange treats as terminal; never retried.
var rejectionCodes = map[int]bool{
	-1013: true, // filter failure (lot size, price, notional)
	-2010: true, // new order rejected (insufficient balance)
	-2011: true, // cancel rejected
}

// Credentials holds one user's API key pair.
type Credentials struct {
	APIKey    string `yaml:"api_key"`
	SecretKey string `yaml:"secret_key"`
}

// Keyring maps user ids to their exchange credentials.
type Keyring map[string]Credentials

// Client is a signed Binance spot REST client. One clock offset is shared
// across users: the skew is between this host and the exchange, not per
// account.
type Client struct {
	baseURL    string
	keys       Keyring
	http       *pkghttp.Client
	log        *logger.Logger
	recvWindow time.Duration
	limiter    *ratelimit.Limiter

	mu       sync.Mutex
	offsetMs int64
}

func NewClient(baseURL string, keys Keyring, httpClient *pkghttp.Client, log *logger.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		keys:       keys,
		http:       httpClient,
		log:        log,
		recvWindow: defaultRecvWindow,
		limiter:    ratelimit.New(requestBurst, requestRefill),
	}
}

var _ drepo.Exchange = (*Client)(nil)

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

type orderPayload struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	ExecutedQty   string `json:"executedQty"`
	Price         string `json:"price"`
	// market fills report price zero; average over fills instead
	Fills []struct {
		Price string `json:"price"`
		Qty   string `json:"qty"`
	} `json:"fills"`
}

// CreateOrder submits an order for the user. Clock-skew rejections map to
// ErrClockSkew; terminal exchange rejections map to RejectionError.
func (c *Client) CreateOrder(ctx context.Context, userID string, req models.OrderRequest) (*models.OrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", string(req.Type))
	params.Set("quantity", formatDecimal(req.Quantity))
	if req.Type == models.OrderLimit {
		params.Set("price", formatDecimal(req.Price))
		tif := req.TimeInForce
		if tif == "" {
			tif = "GTC"
		}
		params.Set("timeInForce", tif)
	}
	params.Set("newOrderRespType", "FULL")

	body, err := c.signedCall(ctx, userID, pkghttp.MethodPost, "/api/v3/order", params)
	if err != nil {
		return nil, err
	}
	return parseOrder(body)
}

// GetOrderStatus fetches the current state of one order.
func (c *Client) GetOrderStatus(ctx context.Context, userID, symbol, orderID string) (*models.OrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	body, err := c.signedCall(ctx, userID, pkghttp.MethodGet, "/api/v3/order", params)
	if err != nil {
		return nil, err
	}
	return parseOrder(body)
}

type accountPayload struct {
	Balances []struct {
		Asset string `json:"asset"`
		Free  string `json:"free"`
	} `json:"balances"`
}

// GetAccountBalance returns the free balance of one asset.
func (c *Client) GetAccountBalance(ctx context.Context, userID, asset string) (float64, error) {
	body, err := c.signedCall(ctx, userID, pkghttp.MethodGet, "/api/v3/account", url.Values{})
	if err != nil {
		return 0, err
	}
	var acct accountPayload
	if err := json.Unmarshal(body, &acct); err != nil {
		return 0, fmt.Errorf("account payload: %w", err)
	}
	for _, b := range acct.Balances {
		if b.Asset == asset {
			free, err := strconv.ParseFloat(b.Free, 64)
			if err != nil {
				return 0, fmt.Errorf("balance %s: %w", asset, err)
			}
			return free, nil
		}
	}
	return 0, nil
}

// GetServerTime returns the exchange clock in epoch milliseconds.
func (c *Client) GetServerTime(ctx context.Context) (int64, error) {
	resp, err := c.http.SendRequest(ctx, &pkghttp.RequestOptions{
		Method: pkghttp.MethodGet,
		URL:    c.baseURL + "/api/v3/time",
	})
	if err != nil {
		return 0, fmt.Errorf("server time: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("server time body: %w", err)
	}
	var payload struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("server time payload: %w", err)
	}
	return payload.ServerTime, nil
}

// SyncTime re-measures the offset between the local clock and the
// exchange clock. Signed requests use the offset from then on.
func (c *Client) SyncTime(ctx context.Context, _ string) error {
	serverMs, err := c.GetServerTime(ctx)
	if err != nil {
		return err
	}
	offset := serverMs - time.Now().UnixMilli()

	c.mu.Lock()
	c.offsetMs = offset
	c.mu.Unlock()

	c.log.Info("exchange clock synced", logger.Int64("offset_ms", offset))
	return nil
}

func (c *Client) timestampMs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().UnixMilli() + c.offsetMs
}

// signedCall signs the params for the user and performs the request,
// normalizing exchange errors. The returned body is the raw payload.
func (c *Client) signedCall(ctx context.Context, userID, method, path string, params url.Values) ([]byte, error) {
	creds, ok := c.keys[userID]
	if !ok {
		return nil, fmt.Errorf("no exchange credentials for user %s", userID)
	}
	if !c.limiter.Allow(userID) {
		return nil, fmt.Errorf("%s %s: %w", method, path, ErrThrottled)
	}

	params.Set("timestamp", strconv.FormatInt(c.timestampMs(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.recvWindow.Milliseconds(), 10))

	query := params.Encode()
	mac := hmac.New(sha256.New, []byte(creds.SecretKey))
	mac.Write([]byte(query))
	signature := hex.EncodeToString(mac.Sum(nil))
	query += "&signature=" + signature

	resp, err := c.http.SendRequest(ctx, &pkghttp.RequestOptions{
		Method:  method,
		URL:     c.baseURL + path + "?" + query,
		Headers: map[string]string{"X-MBX-APIKEY": creds.APIKey},
	})
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s body: %w", method, path, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Code == 0 {
		return nil, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, body)
	}
	return nil, classifyError(apiErr)
}

func classifyError(e apiError) error {
	if e.Code == codeClockSkew {
		return fmt.Errorf("%s: %w", e.Message, drepo.ErrClockSkew)
	}
	if rejectionCodes[e.Code] {
		return &drepo.RejectionError{Code: e.Code, Message: e.Message}
	}
	return fmt.Errorf("exchange error %d: %s", e.Code, e.Message)
}

func parseOrder(body []byte) (*models.OrderResponse, error) {
	var p orderPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("order payload: %w", err)
	}

	executed, _ := strconv.ParseFloat(p.ExecutedQty, 64)
	price, _ := strconv.ParseFloat(p.Price, 64)
	if price == 0 && len(p.Fills) > 0 {
		var amount, qty float64
		for _, f := range p.Fills {
			fp, _ := strconv.ParseFloat(f.Price, 64)
			fq, _ := strconv.ParseFloat(f.Qty, 64)
			amount += fp * fq
			qty += fq
		}
		if qty > 0 {
			price = amount / qty
		}
	}

	return &models.OrderResponse{
		OrderID:       strconv.FormatInt(p.OrderID, 10),
		ClientOrderID: p.ClientOrderID,
		Symbol:        p.Symbol,
		Status:        p.Status,
		ExecutedQty:   executed,
		Price:         price,
		Raw:           body,
	}, nil
}

// formatDecimal renders a quantity or price without scientific notation
// and without trailing zeros, the form the exchange accepts.
func formatDecimal(v float64) string {
	s := strconv.FormatFloat(v, 'f', 8, 64)
	// trim trailing zeros but keep at least one digit after the point
	for len(s) > 0 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	if len(s) > 0 && s[len(s)-1] == '.' {
		s = s[:len(s)-1]
	}
	return s
}
