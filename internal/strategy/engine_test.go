package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VolBot/internal/domain/models"
	"VolBot/internal/indicator"
)

func testUser() *models.UserConfig {
	return &models.UserConfig{
		UserID:           "u1",
		CapitalPerTrade:  50,
		ProfitMargin:     0.002,
		SellMargin:       0.004,
		MaxActiveSignals: 2,
		MaxDailySignals:  300,
	}
}

// uptrendSet builds an indicator set that satisfies every entry condition.
func uptrendSet(price float64) *IndicatorSet {
	return &IndicatorSet{
		SMAShort:         price * 0.999,
		SMALong:          price * 0.99,
		SMAVeryLong:      price * 0.98,
		EMAShort:         price * 0.999,
		EMALong:          price * 0.995,
		RSI:              55,
		MACD:             12,
		MACDSignal:       8,
		Histogram:        4,
		ATR:              price * 0.004,
		Bands:            indicatorBands(price),
		VolumeMA:         10,
		Volume:           12,
		BullishEngulfing: true,
	}
}

func indicatorBands(price float64) indicator.BollingerBands {
	return indicator.BollingerBands{
		Upper:  price * 1.01,
		Middle: price,
		Lower:  price * 0.99,
	}
}

func TestEvaluateEntryQualifies(t *testing.T) {
	e := NewEngine(Defaults())
	price := 109500.0
	candle := models.Candle{Open: price - 50, High: price + 60, Low: price - 80, Close: price, Volume: 12}

	plan := e.EvaluateEntry(testUser(), candle, uptrendSet(price))
	require.NotNil(t, plan)

	assert.Less(t, plan.StopLoss, price)
	assert.Greater(t, plan.TakeProfit, price)
	assert.Greater(t, plan.Quantity, 0.0)
	assert.GreaterOrEqual(t, plan.Conditions, 5)

	// Take-profit always clears round-trip commission plus minimum margin.
	assert.GreaterOrEqual(t, plan.TakeProfit, price*(1+e.Config().RoundTrip()))
}

func TestEvaluateEntryRejectsWeakConditions(t *testing.T) {
	e := NewEngine(Defaults())
	price := 109500.0
	ind := uptrendSet(price)
	ind.RSI = 90            // condition 2 fails
	ind.MACD = 1            // conditions 1 and 3 fail
	ind.MACDSignal = 5
	ind.Histogram = -1
	candle := models.Candle{Open: price - 50, High: price + 60, Low: price - 80, Close: price, Volume: 12}

	assert.Nil(t, e.EvaluateEntry(testUser(), candle, ind))
}

func TestSafetyGateRejectsDegenerateATR(t *testing.T) {
	e := NewEngine(Defaults())
	price := 109500.0
	ind := uptrendSet(price)
	// ATR far below a tenth of the round-trip price move.
	ind.ATR = price * 0.00001
	candle := models.Candle{Open: price - 50, High: price + 60, Low: price - 80, Close: price, Volume: 12}

	assert.Nil(t, e.EvaluateEntry(testUser(), candle, ind))
}

func TestSafetyGateRejectsNonPositivePrice(t *testing.T) {
	e := NewEngine(Defaults())
	assert.False(t, e.safetyGate(0, 100))
	assert.False(t, e.safetyGate(-5, 100))
}

func TestSelectSellPolicyImmediateOnProfit(t *testing.T) {
	e := NewEngine(Defaults())
	user := testUser()
	sig := &models.Signal{
		InitialPrice: 105000,
		TakeProfit:   108000,
		Movements: []*models.Movement{
			{Type: models.MovementBuy, Status: models.MovementFilled, Price: 105000, Quantity: 0.0004},
		},
	}
	candle := models.Candle{Open: 106900, High: 107100, Low: 106800, Close: 107000, Volume: 10}

	plan := e.SelectSellPolicy(user, sig, candle, uptrendSet(107000))
	assert.Equal(t, SellImmediate, plan.Policy)
	// Minimum sell covers both commissions plus the user's sell margin.
	assert.GreaterOrEqual(t, plan.MinPrice, 105000*(1+2*0.001+0.004)-1e-6)
	assert.InDelta(t, 105000*(1+2*0.001+user.SellMargin), plan.MinPrice, 1e-6)
}

func TestSelectSellPolicyHoldTrend(t *testing.T) {
	e := NewEngine(Defaults())
	user := testUser()
	sig := &models.Signal{
		InitialPrice: 106900,
		TakeProfit:   108000,
		Movements: []*models.Movement{
			{Type: models.MovementBuy, Status: models.MovementFilled, Price: 106900, Quantity: 0.0004},
		},
	}
	// Barely above water: below the sell margin, uptrend with momentum.
	candle := models.Candle{Open: 106950, High: 107050, Low: 106900, Close: 107000, Volume: 10}
	ind := uptrendSet(107000)
	ind.RSI = 55

	plan := e.SelectSellPolicy(user, sig, candle, ind)
	assert.Equal(t, SellHoldTrend, plan.Policy)
	assert.Equal(t, sig.TakeProfit, plan.MinPrice)
}

func TestSelectSellPolicyWaitByDefault(t *testing.T) {
	e := NewEngine(Defaults())
	user := testUser()
	sig := &models.Signal{
		InitialPrice: 107100,
		TakeProfit:   108000,
		Movements: []*models.Movement{
			{Type: models.MovementBuy, Status: models.MovementFilled, Price: 107100, Quantity: 0.0004},
		},
	}
	// Underwater, no strong trend: wait for profit.
	candle := models.Candle{Open: 107000, High: 107050, Low: 106900, Close: 107000, Volume: 10}
	ind := uptrendSet(107000)
	ind.SMAVeryLong = ind.SMALong * 1.01 // break the trend alignment

	plan := e.SelectSellPolicy(user, sig, candle, ind)
	assert.Equal(t, SellWaitForProfit, plan.Policy)
	assert.InDelta(t, 107100*(1+e.Config().RoundTrip()), plan.MinPrice, 1e-6)
}

func TestFormatQuantityLotStep(t *testing.T) {
	e := NewEngine(Defaults())
	q := e.FormatQuantity(0.000457)
	assert.InDelta(t, 0.00045, q, 1e-12)

	// Below minimum lot clamps up.
	assert.Equal(t, 0.00001, e.FormatQuantity(0.000004))

	// Garbage in, zero out.
	assert.Equal(t, 0.0, e.FormatQuantity(-1))
}

func TestComputeIndicatorsHonorsMinWindow(t *testing.T) {
	candles := make([]models.Candle, 0, 60)
	price := 100.0
	for i := 0; i < 60; i++ {
		price += 0.1
		candles = append(candles, models.Candle{
			Open: price - 0.05, High: price + 0.1, Low: price - 0.1,
			Close: price, Volume: 5, Timestamp: int64(i + 1),
		})
	}

	_, err := ComputeIndicators(candles[:55], 60)
	assert.ErrorIs(t, err, ErrInsufficientData)

	// Zero floors at the longest indicator lookback.
	ind, err := ComputeIndicators(candles[:55], 0)
	require.NoError(t, err)
	assert.Greater(t, ind.SMAVeryLong, 0.0)

	_, err = ComputeIndicators(candles[:49], 0)
	assert.ErrorIs(t, err, ErrInsufficientData)
}
