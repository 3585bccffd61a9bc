package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VolBot/internal/domain/models"
	drepo "VolBot/internal/domain/repository"
	pkghttp "VolBot/pkg/http"
	"VolBot/pkg/logger"
)

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	keys := Keyring{"user-1": {APIKey: "key", SecretKey: "secret"}}
	return NewClient(baseURL, keys, pkghttp.NewClient(), log)
}

func TestCreateOrderClockSkewMapsToSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("X-MBX-APIKEY"))
		assert.NotEmpty(t, r.URL.Query().Get("signature"))
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1021,"msg":"Timestamp for this request is outside of the recvWindow."}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.CreateOrder(context.Background(), "user-1", models.OrderRequest{
		Symbol: "BTCUSDT", Side: models.OrderBuy, Type: models.OrderMarket, Quantity: 0.001,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, drepo.ErrClockSkew)
}

func TestCreateOrderInsufficientBalanceIsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-2010,"msg":"Account has insufficient balance for requested action."}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.CreateOrder(context.Background(), "user-1", models.OrderRequest{
		Symbol: "BTCUSDT", Side: models.OrderBuy, Type: models.OrderMarket, Quantity: 0.001,
	})
	require.Error(t, err)
	assert.True(t, drepo.IsRejection(err))
	assert.NotErrorIs(t, err, drepo.ErrClockSkew)
}

func TestCreateOrderParsesMarketFill(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "0.001", r.URL.Query().Get("quantity"))
		w.Write([]byte(`{
			"orderId": 42,
			"clientOrderId": "abc",
			"symbol": "BTCUSDT",
			"status": "FILLED",
			"executedQty": "0.00100000",
			"price": "0.00000000",
			"fills": [
				{"price": "105000.00", "qty": "0.0006"},
				{"price": "105100.00", "qty": "0.0004"}
			]
		}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	resp, err := c.CreateOrder(context.Background(), "user-1", models.OrderRequest{
		Symbol: "BTCUSDT", Side: models.OrderBuy, Type: models.OrderMarket, Quantity: 0.001,
	})
	require.NoError(t, err)
	assert.Equal(t, "42", resp.OrderID)
	assert.Equal(t, models.OrderStatusFilled, resp.Status)
	assert.InDelta(t, 0.001, resp.ExecutedQty, 1e-12)
	// fill-weighted average price
	assert.InDelta(t, (105000*0.0006+105100*0.0004)/0.001, resp.Price, 1e-6)
	assert.True(t, resp.Resolved())
}

func TestGetOrderStatusUnknownUser(t *testing.T) {
	c := testClient(t, "http://127.0.0.1:0")
	_, err := c.GetOrderStatus(context.Background(), "stranger", "BTCUSDT", "42")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no exchange credentials")
}

func TestSyncTimeAppliesOffset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v3/time" {
			w.Write([]byte(`{"serverTime": 9999999999999}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	require.NoError(t, c.SyncTime(context.Background(), "user-1"))

	// timestamp now tracks the scripted server clock, far in the future
	assert.Greater(t, c.timestampMs(), int64(9_000_000_000_000))
}

func TestFormatDecimal(t *testing.T) {
	assert.Equal(t, "0.001", formatDecimal(0.001))
	assert.Equal(t, "0.00001", formatDecimal(0.00001))
	assert.Equal(t, "105000", formatDecimal(105000))
	assert.Equal(t, "1.5", formatDecimal(1.5))
}

func TestParseKlineClosedCandle(t *testing.T) {
	c, err := parseKline(wsKline{
		StartTime: 1700000000000,
		Open:      "104000.1",
		High:      "105500.2",
		Low:       "103900.5",
		Close:     "105000.0",
		Volume:    "12.5",
		Closed:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000), c.Timestamp)
	assert.Equal(t, 105000.0, c.Close)
	assert.True(t, c.Valid())
	assert.True(t, c.Bullish())

	_, err = parseKline(wsKline{Open: "not-a-number"})
	assert.Error(t, err)
}
