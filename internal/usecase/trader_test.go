package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VolBot/internal/domain/models"
	domrepo "VolBot/internal/domain/repository"
	"VolBot/internal/domain/repository/repositorytest"
	"VolBot/internal/strategy"
)

func newTrader(t *testing.T, paper bool) (*Trader, *repositorytest.Store, *repositorytest.Exchange, *repositorytest.Notifier) {
	t.Helper()
	cfg := strategy.Defaults()
	cfg.PaperTrading = paper
	store := repositorytest.NewStore()
	exchange := repositorytest.NewExchange()
	notifier := &repositorytest.Notifier{}
	log := testLogger(t)
	lc := NewLifecycle(store, notifier, repositorytest.Metrics{}, log)
	trader := NewTrader(strategy.NewEngine(cfg), store, exchange, lc, repositorytest.Metrics{}, log)
	return trader, store, exchange, notifier
}

func traderUser() *models.UserConfig {
	return &models.UserConfig{
		UserID:           "user-1",
		Email:            "user-1@example.com",
		CapitalPerTrade:  100,
		ProfitMargin:     0.005,
		SellMargin:       0.05,
		MaxActiveSignals: 2,
		MaxDailySignals:  300,
		LastResetDate:    time.Now().Format("2006-01-02"),
	}
}

// bullishSetup passes the full entry battery: aligned averages, moderate
// RSI, positive MACD cross, a bullish candle below the short average and
// enough ATR to clear the volatility gate.
func bullishSetup() (models.Candle, *strategy.IndicatorSet) {
	candle := models.Candle{
		Timestamp: time.Now().UnixMilli(),
		Open:      99,
		High:      100.5,
		Low:       98.5,
		Close:     100,
		Volume:    12,
	}
	ind := &strategy.IndicatorSet{
		SMAShort:    101,
		SMALong:     100.5,
		SMAVeryLong: 100,
		EMAShort:    101,
		EMALong:     100,
		RSI:         50,
		MACD:        1,
		MACDSignal:  0.5,
		Histogram:   0.5,
		ATR:         1,
		Volume:      12,
		VolumeMA:    10,
	}
	ind.Bands.Lower = 98
	ind.Bands.Middle = 100
	ind.Bands.Upper = 102
	return candle, ind
}

// flatSetup fails the entry battery outright: overbought RSI, negative
// momentum and a bearish candle well above the lower band.
func flatSetup(close float64) (models.Candle, *strategy.IndicatorSet) {
	candle := models.Candle{
		Timestamp: time.Now().UnixMilli(),
		Open:      close + 1,
		High:      close + 1.5,
		Low:       close - 0.5,
		Close:     close,
		Volume:    5,
	}
	ind := &strategy.IndicatorSet{
		SMAShort:    close - 5,
		SMALong:     close - 4,
		SMAVeryLong: close - 3,
		EMAShort:    close - 5,
		EMALong:     close - 4,
		RSI:         80,
		MACD:        -1,
		MACDSignal:  0,
		Histogram:   -1,
		ATR:         1,
		Volume:      5,
		VolumeMA:    10,
	}
	ind.Bands.Lower = close * 0.9
	ind.Bands.Middle = close
	ind.Bands.Upper = close * 1.1
	return candle, ind
}

func TestPaperEntryAutoFills(t *testing.T) {
	ctx := context.Background()
	trader, store, _, _ := newTrader(t, true)
	user := traderUser()
	candle, ind := bullishSetup()

	require.NoError(t, trader.EvaluateUser(ctx, user, candle, ind))

	active, err := store.ActiveSignals(ctx, user.UserID)
	require.NoError(t, err)
	require.Len(t, active, 1)

	sig := active[0]
	assert.Equal(t, models.SignalActive, sig.Status)
	assert.InDelta(t, 100, sig.InitialPrice, 1e-9)
	assert.Greater(t, sig.TakeProfit, sig.InitialPrice)
	assert.Less(t, sig.StopLoss, sig.InitialPrice)

	buy := sig.FilledBuy()
	require.NotNil(t, buy)
	assert.InDelta(t, 1.0, buy.Quantity, 1e-4)
	assert.NotNil(t, buy.ExecutedAt)
	assert.Equal(t, 1, user.DailySignalCount)
}

func TestZeroDailyCapInheritsEngineDefault(t *testing.T) {
	ctx := context.Background()
	trader, store, _, _ := newTrader(t, true)
	user := traderUser()
	user.MaxDailySignals = 0

	candle, ind := bullishSetup()
	require.NoError(t, trader.EvaluateUser(ctx, user, candle, ind))

	active, err := store.ActiveSignals(ctx, user.UserID)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestEntryBlockedAtDailyCap(t *testing.T) {
	ctx := context.Background()
	trader, store, _, _ := newTrader(t, true)
	user := traderUser()
	user.DailySignalCount = user.MaxDailySignals
	candle, ind := bullishSetup()

	require.NoError(t, trader.EvaluateUser(ctx, user, candle, ind))

	active, err := store.ActiveSignals(ctx, user.UserID)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestEnforceExposure(t *testing.T) {
	ctx := context.Background()
	trader, store, _, _ := newTrader(t, true)
	user := traderUser()
	user.MaxActiveSignals = 1

	require.NoError(t, trader.EnforceExposure(ctx, user))

	_, _ = seedOpenSignal(t, store)
	assert.ErrorIs(t, trader.EnforceExposure(ctx, user), ErrMaxExposure)
}

func TestExposureCapBlocksSecondEntry(t *testing.T) {
	ctx := context.Background()
	trader, store, _, _ := newTrader(t, true)
	user := traderUser()
	user.MaxActiveSignals = 1
	candle, ind := bullishSetup()

	require.NoError(t, trader.EvaluateUser(ctx, user, candle, ind))
	require.NoError(t, trader.EvaluateUser(ctx, user, candle, ind))

	active, err := store.ActiveSignals(ctx, user.UserID)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestPaperExitClosesProfitablePosition(t *testing.T) {
	ctx := context.Background()
	trader, store, _, notifier := newTrader(t, true)
	user := traderUser()
	_, _ = seedOpenSignal(t, store)

	// 8% above the 100 entry clears the 5% sell margin.
	candle, ind := flatSetup(108)
	require.NoError(t, trader.EvaluateUser(ctx, user, candle, ind))

	sig, err := store.GetSignal(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, models.SignalMatched, sig.Status)

	sell := sig.FilledSell()
	require.NotNil(t, sell)
	assert.InDelta(t, 108, sell.Price, 1e-9)
	// one commission lot stays with the exchange in the base asset
	assert.InDelta(t, 0.999, sell.Quantity, 1e-4)

	reports := notifier.Reports()
	require.Len(t, reports, 1)
	assert.Greater(t, reports[0].NetProfit, 0.0)
}

func TestExitWaitsBelowPolicyFloor(t *testing.T) {
	ctx := context.Background()
	trader, store, _, _ := newTrader(t, true)
	user := traderUser()
	_, _ = seedOpenSignal(t, store)

	// 0.2% above entry: under the sell margin and under the round-trip
	// floor of the wait_for_profit policy.
	candle, ind := flatSetup(100.2)
	require.NoError(t, trader.EvaluateUser(ctx, user, candle, ind))

	sig, err := store.GetSignal(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, models.SignalActive, sig.Status)
	assert.Nil(t, sig.FilledSell())
	assert.Nil(t, sig.PendingSell())
}

func TestExitSkippedWhileSellPending(t *testing.T) {
	ctx := context.Background()
	trader, store, _, _ := newTrader(t, true)
	user := traderUser()
	_, _ = seedOpenSignal(t, store)
	require.NoError(t, store.CreateMovement(ctx, pendingSell(107, 0.999)))

	candle, ind := flatSetup(108)
	require.NoError(t, trader.EvaluateUser(ctx, user, candle, ind))

	sig, err := store.GetSignal(ctx, "sig-1")
	require.NoError(t, err)
	sells := 0
	for _, m := range sig.Movements {
		if m.Type == models.MovementSell {
			sells++
		}
	}
	assert.Equal(t, 1, sells)
}

func TestLiveRejectionFailsMovementTerminally(t *testing.T) {
	ctx := context.Background()
	trader, store, exchange, _ := newTrader(t, false)
	user := traderUser()
	exchange.Balance = 3.5
	exchange.QueueCreate(nil, &domrepo.RejectionError{Code: -2010, Message: "insufficient balance"})

	candle, ind := bullishSetup()
	require.NoError(t, trader.EvaluateUser(ctx, user, candle, ind))

	active, err := store.ActiveSignals(ctx, user.UserID)
	require.NoError(t, err)
	require.Len(t, active, 1)

	buy := active[0].Movements[0]
	assert.Equal(t, models.MovementFailed, buy.Status)
	assert.Contains(t, buy.OrderError, "insufficient balance")
	assert.Empty(t, buy.OrderID)
}

func TestLiveSubmissionErrorLeavesMovementForSweep(t *testing.T) {
	ctx := context.Background()
	trader, store, exchange, _ := newTrader(t, false)
	user := traderUser()
	exchange.QueueCreate(nil, errors.New("connection reset"))

	candle, ind := bullishSetup()
	require.NoError(t, trader.EvaluateUser(ctx, user, candle, ind))

	active, err := store.ActiveSignals(ctx, user.UserID)
	require.NoError(t, err)
	require.Len(t, active, 1)

	buy := active[0].Movements[0]
	assert.Equal(t, models.MovementPending, buy.Status)
	assert.Empty(t, buy.OrderID)
	assert.Contains(t, buy.OrderError, "connection reset")
}

func TestLiveClockSkewResyncsAndRetriesSubmit(t *testing.T) {
	ctx := context.Background()
	trader, store, exchange, _ := newTrader(t, false)
	user := traderUser()
	exchange.QueueCreate(nil, domrepo.ErrClockSkew)
	exchange.QueueCreate(&models.OrderResponse{
		OrderID: "ord-88",
		Status:  models.OrderStatusNew,
	}, nil)

	candle, ind := bullishSetup()
	require.NoError(t, trader.EvaluateUser(ctx, user, candle, ind))

	assert.Equal(t, 1, exchange.SyncCalls)
	require.Len(t, exchange.CreatedOrder, 2)

	active, err := store.ActiveSignals(ctx, user.UserID)
	require.NoError(t, err)
	require.Len(t, active, 1)

	buy := active[0].Movements[0]
	assert.Equal(t, models.MovementPending, buy.Status)
	assert.Equal(t, "ord-88", buy.OrderID)
	assert.Empty(t, buy.OrderError)
}

func TestLiveClockSkewSecondFailureLeftForSweep(t *testing.T) {
	ctx := context.Background()
	trader, store, exchange, _ := newTrader(t, false)
	user := traderUser()
	exchange.QueueCreate(nil, domrepo.ErrClockSkew)
	exchange.QueueCreate(nil, domrepo.ErrClockSkew)

	candle, ind := bullishSetup()
	require.NoError(t, trader.EvaluateUser(ctx, user, candle, ind))

	assert.Equal(t, 1, exchange.SyncCalls)
	require.Len(t, exchange.CreatedOrder, 2)

	active, err := store.ActiveSignals(ctx, user.UserID)
	require.NoError(t, err)
	require.Len(t, active, 1)

	buy := active[0].Movements[0]
	assert.Equal(t, models.MovementPending, buy.Status)
	assert.Empty(t, buy.OrderID)
	assert.NotEmpty(t, buy.OrderError)
}

func TestLiveEntrySubmitsOrderAndRecordsID(t *testing.T) {
	ctx := context.Background()
	trader, store, exchange, _ := newTrader(t, false)
	user := traderUser()
	exchange.QueueCreate(&models.OrderResponse{
		OrderID:     "ord-77",
		Status:      models.OrderStatusNew,
		ExecutedQty: 0,
	}, nil)

	candle, ind := bullishSetup()
	require.NoError(t, trader.EvaluateUser(ctx, user, candle, ind))

	require.Len(t, exchange.CreatedOrder, 1)
	req := exchange.CreatedOrder[0]
	assert.Equal(t, models.OrderBuy, req.Side)
	assert.Equal(t, models.OrderMarket, req.Type)

	active, err := store.ActiveSignals(ctx, user.UserID)
	require.NoError(t, err)
	require.Len(t, active, 1)

	buy := active[0].Movements[0]
	assert.Equal(t, models.MovementPending, buy.Status)
	assert.Equal(t, "ord-77", buy.OrderID)
}
