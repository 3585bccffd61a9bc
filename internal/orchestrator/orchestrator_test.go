package orchestrator

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VolBot/internal/domain/models"
	"VolBot/internal/domain/repository/repositorytest"
	"VolBot/internal/strategy"
	"VolBot/internal/usecase"
	"VolBot/internal/window"
	"VolBot/pkg/cache"
	"VolBot/pkg/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	orch     *Orchestrator
	store    *repositorytest.Store
	notifier *repositorytest.Notifier
	clock    *fakeClock
	window   *window.Window
	mirror   cache.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := repositorytest.NewStore()
	notifier := &repositorytest.Notifier{}
	exchange := repositorytest.NewExchange()

	cfg := strategy.Defaults()
	cfg.PaperTrading = true
	engine := strategy.NewEngine(cfg)
	lifecycle := usecase.NewLifecycle(store, notifier, repositorytest.Metrics{}, log)
	trader := usecase.NewTrader(engine, store, exchange, lifecycle, repositorytest.Metrics{}, log)

	win := window.New(100, 24*time.Hour, clock)
	mirror := cache.NewMemoryCache()
	orch := New("BTCUSDT", win, trader, store, nil, mirror,
		repositorytest.Metrics{}, log, clock)

	return &harness{orch: orch, store: store, notifier: notifier, clock: clock, window: win, mirror: mirror}
}

func testUser(id string) *models.UserConfig {
	return &models.UserConfig{
		UserID:           id,
		Email:            id + "@example.com",
		CapitalPerTrade:  100,
		ProfitMargin:     0.004,
		SellMargin:       0.004,
		MaxActiveSignals: 2,
		MaxDailySignals:  300,
		LastResetDate:    "2026-03-01",
	}
}

// flatCandle builds a valid candle at the given close.
func flatCandle(ts time.Time, close float64) models.Candle {
	return models.Candle{
		Open:      close,
		High:      close + 1,
		Low:       close - 1,
		Close:     close,
		Volume:    5,
		Timestamp: ts.UnixMilli(),
	}
}

func TestUserRegistry(t *testing.T) {
	h := newHarness(t)

	h.store.PutUser(testUser("alice"))
	h.store.PutUser(testUser("bob"))
	require.NoError(t, h.orch.LoadUsers(context.Background()))
	assert.Equal(t, 2, h.orch.UserCount())

	h.orch.AddUser(testUser("carol"))
	assert.Equal(t, 3, h.orch.UserCount())

	h.orch.RemoveUser("bob")
	assert.Equal(t, 2, h.orch.UserCount())

	// reload replaces the registry wholesale
	require.NoError(t, h.orch.LoadUsers(context.Background()))
	assert.Equal(t, 2, h.orch.UserCount())
}

func TestOnCandleRejectsInvalidCandle(t *testing.T) {
	h := newHarness(t)

	h.orch.OnCandle(context.Background(), models.Candle{
		Open: 100, High: 101, Low: 99, Close: -5, Volume: 1,
		Timestamp: h.clock.Now().UnixMilli(),
	})

	assert.Equal(t, 0, h.window.Count())
}

func TestOnCandleShortWindowSkipsEvaluation(t *testing.T) {
	h := newHarness(t)
	h.orch.AddUser(testUser("alice"))

	for i := 0; i < 10; i++ {
		h.orch.OnCandle(context.Background(), flatCandle(h.clock.Now(), 110))
		h.clock.Advance(time.Minute)
	}

	assert.Equal(t, 10, h.window.Count())
	active, err := h.store.ActiveSignals(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestOnCandleClosesProfitableOpenPosition(t *testing.T) {
	h := newHarness(t)
	user := testUser("alice")
	h.orch.AddUser(user)

	// open position bought at 105000
	buy := &models.Movement{
		ID:          "mov-buy",
		SignalID:    "sig-1",
		Type:        models.MovementBuy,
		Status:      models.MovementFilled,
		Price:       105000,
		Quantity:    0.001,
		TotalAmount: 105,
		Commission:  0.105,
		NetAmount:   105.105,
		OrderID:     "ord-buy",
		CreatedAt:   h.clock.Now().Add(-time.Hour),
	}
	sig := &models.Signal{
		ID:           "sig-1",
		UserID:       "alice",
		Symbol:       "BTCUSDT",
		Status:       models.SignalActive,
		InitialPrice: 105000,
		StopLoss:     103000,
		TakeProfit:   108000,
		PaperTrading: true,
		CreatedAt:    h.clock.Now().Add(-time.Hour),
		Movements:    []*models.Movement{buy},
	}
	require.NoError(t, h.store.CreateSignal(context.Background(), sig))

	// warm the window past the indicator lookback, then tick at a price
	// comfortably above the immediate-sell floor
	for i := 0; i < 55; i++ {
		h.orch.OnCandle(context.Background(), flatCandle(h.clock.Now(), 107000))
		h.clock.Advance(time.Minute)
	}

	got, err := h.store.GetSignal(context.Background(), "sig-1")
	require.NoError(t, err)
	assert.Equal(t, models.SignalMatched, got.Status)
	require.NotNil(t, got.FilledSell())
	assert.Equal(t, 107000.0, got.FilledSell().Price)

	reports := h.notifier.Reports()
	require.Len(t, reports, 1)
	assert.Equal(t, "sig-1", reports[0].SignalID)
	assert.True(t, reports[0].PaperTrading)
	assert.Greater(t, reports[0].NetProfit, 0.0)
}

// uptrendCandles builds a steadily rising series with alternating small
// pullbacks so RSI stays out of overbought, ending in a sharp dip and a
// modest bullish recovery that closes below the short average. Only the
// final candle clears the entry battery.
func uptrendCandles(start time.Time) []models.Candle {
	out := make([]models.Candle, 0, 60)
	ts := start
	push := func(o, c, ref float64) {
		h := math.Max(o, c) + ref*0.0005
		l := math.Min(o, c) - ref*0.0005
		out = append(out, models.Candle{
			Open: o, High: h, Low: l, Close: c,
			Volume:    5,
			Timestamp: ts.UnixMilli(),
		})
		ts = ts.Add(time.Minute)
	}

	price := 100000.0
	for i := 0; i < 58; i++ {
		step := price * 0.0020
		if i%2 == 1 {
			step = -price * 0.0008
		}
		push(price, price+step, price)
		price += step
	}
	// dip
	push(price, price-price*0.0045, price)
	price -= price * 0.0045
	// recovery
	push(price-price*0.0005, price+price*0.0015, price)
	return out
}

func TestUptrendDipEmitsSingleBuySignal(t *testing.T) {
	h := newHarness(t)
	user := testUser("alice")
	h.orch.AddUser(user)

	for _, c := range uptrendCandles(h.clock.Now()) {
		h.orch.OnCandle(context.Background(), c)
		h.clock.Advance(time.Minute)
	}

	sigs, err := h.store.ActiveSignals(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, sigs, 1)

	sig := sigs[0]
	assert.Equal(t, models.SignalActive, sig.Status)
	assert.Greater(t, sig.StopLoss, 0.0)
	assert.Less(t, sig.StopLoss, sig.InitialPrice)
	assert.Greater(t, sig.TakeProfit, sig.InitialPrice)

	require.Len(t, sig.Movements, 1)
	buy := sig.Movements[0]
	assert.Equal(t, models.MovementBuy, buy.Type)
	assert.Equal(t, models.MovementFilled, buy.Status)
	assert.Greater(t, buy.Quantity, 0.0)
	assert.Equal(t, 1, user.DailySignalCount)
}

func TestDailyCounterResetOnCalendarDay(t *testing.T) {
	h := newHarness(t)
	user := testUser("alice")
	user.DailySignalCount = 300
	user.LastResetDate = "2026-02-28"
	h.orch.AddUser(user)

	h.orch.ResetDailyCounters()

	assert.Equal(t, 0, user.DailySignalCount)
	assert.Equal(t, "2026-03-01", user.LastResetDate)

	// same-day re-run is a no-op
	user.DailySignalCount = 7
	h.orch.ResetDailyCounters()
	assert.Equal(t, 7, user.DailySignalCount)
}

func TestCandleMirrorRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.orch.OnCandle(ctx, flatCandle(h.clock.Now(), 110))
	h.orch.OnCandle(ctx, flatCandle(h.clock.Now().Add(time.Minute), 111))

	var payload string
	require.NoError(t, h.mirror.Get(ctx, "candles:BTCUSDT:latest", &payload))

	var mirrored []models.Candle
	require.NoError(t, json.Unmarshal([]byte(payload), &mirrored))
	require.Len(t, mirrored, 2)
	assert.Equal(t, 111.0, mirrored[1].Close)
}

func TestWarmStartReloadsMirroredWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	candles := []models.Candle{
		flatCandle(h.clock.Now().Add(-2*time.Minute), 108),
		flatCandle(h.clock.Now().Add(-time.Minute), 109),
		flatCandle(h.clock.Now(), 110),
	}
	payload, err := json.Marshal(candles)
	require.NoError(t, err)
	require.NoError(t, h.mirror.Set(ctx, "candles:BTCUSDT:latest", string(payload), time.Hour))

	h.orch.WarmStart(ctx)
	assert.Equal(t, 3, h.window.Count())
}

func TestWarmStartMissIsQuiet(t *testing.T) {
	h := newHarness(t)

	h.orch.WarmStart(context.Background())
	assert.Equal(t, 0, h.window.Count())
}
