package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VolBot/internal/domain/models"
)

func TestSMAKnownValue(t *testing.T) {
	closes := []float64{109100, 109200, 109300, 109400, 109500, 109600, 109700}
	got, ok := SMA(closes, 5)
	require.True(t, ok)
	assert.InDelta(t, 109500, got, 1e-9)
}

func TestSMAInsufficientData(t *testing.T) {
	_, ok := SMA([]float64{1, 2, 3}, 5)
	assert.False(t, ok)
}

func TestSMANonFiniteInput(t *testing.T) {
	_, ok := SMA([]float64{1, 2, math.NaN(), 4, 5}, 5)
	assert.False(t, ok)

	_, ok = SMA([]float64{1, 2, math.Inf(1), 4, 5}, 5)
	assert.False(t, ok)
}

func TestEMASeedEqualsSMA(t *testing.T) {
	data := []float64{10, 11, 12, 13, 14}
	series, ok := EMASeries(data, 5)
	require.True(t, ok)
	require.Len(t, series, 1)
	assert.InDelta(t, 12, series[0], 1e-9)
}

func TestEMAExponentialUpdate(t *testing.T) {
	data := []float64{10, 10, 10, 10, 10, 20}
	got, ok := EMA(data, 5)
	require.True(t, ok)
	// seed 10, then 20*k + 10*(1-k) with k = 2/6
	k := 2.0 / 6.0
	assert.InDelta(t, 20*k+10*(1-k), got, 1e-9)
}

func TestRSIBounds(t *testing.T) {
	up := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
	got, ok := RSI(up, 14)
	require.True(t, ok)
	assert.Equal(t, 100.0, got)

	down := []float64{15, 14, 13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1}
	got, ok = RSI(down, 14)
	require.True(t, ok)
	assert.Equal(t, 0.0, got)
}

func TestRSIMidRange(t *testing.T) {
	data := make([]float64, 0, 30)
	price := 100.0
	for i := 0; i < 30; i++ {
		if i%2 == 0 {
			price += 2
		} else {
			price -= 1
		}
		data = append(data, price)
	}
	got, ok := RSI(data, 14)
	require.True(t, ok)
	assert.Greater(t, got, 50.0)
	assert.Less(t, got, 100.0)
}

func TestRSIInsufficientData(t *testing.T) {
	_, ok := RSI([]float64{1, 2, 3}, 14)
	assert.False(t, ok)
}

func TestMACDHistogramIdentity(t *testing.T) {
	data := make([]float64, 0, 60)
	for i := 0; i < 60; i++ {
		data = append(data, 100+math.Sin(float64(i)/5)*10+float64(i)*0.3)
	}
	res, ok := MACD(data, 12, 26, 9)
	require.True(t, ok)

	tail := res.MACDLine[len(res.MACDLine)-len(res.SignalLine):]
	for i := range res.SignalLine {
		assert.InDelta(t, tail[i]-res.SignalLine[i], res.Histogram[i], 1e-9)
	}
}

func TestMACDInsufficientData(t *testing.T) {
	_, ok := MACD(make([]float64, 34), 12, 26, 9)
	assert.False(t, ok)
}

func candleSeq(closes ...float64) []models.Candle {
	out := make([]models.Candle, len(closes))
	for i, c := range closes {
		out[i] = models.Candle{Open: c - 1, High: c + 2, Low: c - 2, Close: c, Volume: 10}
	}
	return out
}

func TestATRKnownValue(t *testing.T) {
	// Constant 4-point high-low range with contiguous closes keeps TR at 4.
	candles := make([]models.Candle, 0, 16)
	for i := 0; i < 16; i++ {
		candles = append(candles, models.Candle{Open: 100, High: 102, Low: 98, Close: 100, Volume: 5})
	}
	got, ok := ATR(candles, 14)
	require.True(t, ok)
	assert.InDelta(t, 4, got, 1e-9)
}

func TestATRInsufficientData(t *testing.T) {
	_, ok := ATR(candleSeq(1, 2, 3), 14)
	assert.False(t, ok)
}

func TestBollingerOrdering(t *testing.T) {
	data := []float64{99, 101, 100, 102, 98, 100, 101, 99, 100, 102,
		98, 101, 100, 99, 102, 100, 101, 98, 99, 100}
	bb, ok := Bollinger(data, 20, 2)
	require.True(t, ok)
	assert.GreaterOrEqual(t, bb.Upper, bb.Middle)
	assert.GreaterOrEqual(t, bb.Middle, bb.Lower)
}

func TestBollingerFlatSeries(t *testing.T) {
	data := make([]float64, 20)
	for i := range data {
		data[i] = 100
	}
	bb, ok := Bollinger(data, 20, 2)
	require.True(t, ok)
	assert.Equal(t, bb.Upper, bb.Middle)
	assert.Equal(t, bb.Middle, bb.Lower)
}

func TestBullishEngulfing(t *testing.T) {
	candles := []models.Candle{
		{Open: 105, High: 106, Low: 99, Close: 100, Volume: 1},  // bearish
		{Open: 99, High: 107, Low: 98, Close: 106, Volume: 1},   // engulfs it
	}
	assert.True(t, BullishEngulfing(candles))

	// Current bullish but not containing the previous body.
	candles[1] = models.Candle{Open: 101, High: 104, Low: 100, Close: 103, Volume: 1}
	assert.False(t, BullishEngulfing(candles))
}

func TestBearishEngulfing(t *testing.T) {
	candles := []models.Candle{
		{Open: 100, High: 106, Low: 99, Close: 105, Volume: 1},  // bullish
		{Open: 106, High: 107, Low: 98, Close: 99, Volume: 1},   // engulfs it
	}
	assert.True(t, BearishEngulfing(candles))
	assert.False(t, BearishEngulfing(candles[:1]))
}
