// Package indicator provides pure, stateless technical indicator functions
// over ordered price and candle series. Every function returns ok=false when
// the input is shorter than its lookback or contains a non-finite value;
// no function ever returns NaN or Inf.
package indicator

import (
	"math"

	"VolBot/internal/domain/models"
)

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func allFinite(data []float64) bool {
	for _, v := range data {
		if !finite(v) {
			return false
		}
	}
	return true
}

// SMA returns the arithmetic mean of the trailing period values.
func SMA(data []float64, period int) (float64, bool) {
	if period <= 0 || len(data) < period || !allFinite(data) {
		return 0, false
	}
	var sum float64
	for _, v := range data[len(data)-period:] {
		sum += v
	}
	return sum / float64(period), true
}

// EMASeries computes the exponential moving average series, seeded by the
// SMA of the first period points, k = 2/(period+1).
func EMASeries(data []float64, period int) ([]float64, bool) {
	if period <= 0 || len(data) < period || !allFinite(data) {
		return nil, false
	}
	k := 2.0 / float64(period+1)
	prev, ok := SMA(data[:period], period)
	if !ok {
		return nil, false
	}
	out := make([]float64, 0, len(data)-period+1)
	out = append(out, prev)
	for _, v := range data[period:] {
		prev = v*k + prev*(1-k)
		out = append(out, prev)
	}
	return out, true
}

// EMA returns the latest exponential moving average value.
func EMA(data []float64, period int) (float64, bool) {
	series, ok := EMASeries(data, period)
	if !ok {
		return 0, false
	}
	return series[len(series)-1], true
}

// RSI computes a Wilder-style relative strength index over the trailing
// period window. Needs period+1 points. All losses → 0, all gains → 100.
func RSI(data []float64, period int) (float64, bool) {
	if period <= 0 || len(data) < period+1 || !allFinite(data) {
		return 0, false
	}
	var gains, losses float64
	for i := len(data) - period; i < len(data); i++ {
		diff := data[i] - data[i-1]
		if diff > 0 {
			gains += diff
		} else {
			losses -= diff
		}
	}
	if losses == 0 {
		return 100, true
	}
	if gains == 0 {
		return 0, true
	}
	rs := gains / losses
	return 100 - 100/(1+rs), true
}

// MACDResult holds the aligned MACD series. Histogram[i] equals
// MACDLine[i]-SignalLine[i] over the overlapping suffix.
type MACDResult struct {
	MACDLine   []float64
	SignalLine []float64
	Histogram  []float64
}

// Latest returns the most recent macd, signal and histogram values.
func (r *MACDResult) Latest() (macd, signal, histogram float64) {
	return r.MACDLine[len(r.MACDLine)-1],
		r.SignalLine[len(r.SignalLine)-1],
		r.Histogram[len(r.Histogram)-1]
}

// MACD computes the MACD line as emaShort-emaLong aligned on the long EMA
// span (the short EMA head is zero-filled, matching the usual fast/slow
// alignment), the signal line as the EMA of the MACD line, and the
// histogram over the overlapping suffix. Needs long+signal points.
func MACD(data []float64, short, long, signal int) (*MACDResult, bool) {
	if len(data) < long+signal {
		return nil, false
	}
	emaShort, okS := EMASeries(data, short)
	emaLong, okL := EMASeries(data, long)
	if !okS || !okL {
		return nil, false
	}

	offset := len(emaShort) - len(emaLong)
	macdLine := make([]float64, len(emaLong))
	for i := range emaLong {
		j := i + offset
		var shortVal float64
		if j >= 0 && j < len(emaShort) {
			shortVal = emaShort[j]
		}
		macdLine[i] = shortVal - emaLong[i]
	}

	signalLine, ok := EMASeries(macdLine, signal)
	if !ok {
		return nil, false
	}

	tail := macdLine[len(macdLine)-len(signalLine):]
	histogram := make([]float64, len(signalLine))
	for i := range signalLine {
		histogram[i] = tail[i] - signalLine[i]
	}

	return &MACDResult{MACDLine: macdLine, SignalLine: signalLine, Histogram: histogram}, true
}

// ATR computes the mean true range over the trailing period candle pairs,
// TR = max(high-low, |high-prevClose|, |low-prevClose|). Candle pairs that
// yield a non-finite TR are skipped; at least period/2 valid samples are
// required.
func ATR(candles []models.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period+1 {
		return 0, false
	}
	var sum float64
	valid := 0
	for i := len(candles) - period; i < len(candles); i++ {
		cur, prev := candles[i], candles[i-1]
		tr := math.Max(cur.High-cur.Low,
			math.Max(math.Abs(cur.High-prev.Close), math.Abs(cur.Low-prev.Close)))
		if !finite(tr) {
			continue
		}
		sum += tr
		valid++
	}
	if valid < period/2 {
		return 0, false
	}
	return sum / float64(valid), true
}

// BollingerBands holds the band triple; Upper >= Middle >= Lower always
// holds for valid input.
type BollingerBands struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// Bollinger computes bands over the trailing period window with a k-sigma
// width (population standard deviation).
func Bollinger(data []float64, period int, k float64) (*BollingerBands, bool) {
	middle, ok := SMA(data, period)
	if !ok || k < 0 {
		return nil, false
	}
	var variance float64
	for _, v := range data[len(data)-period:] {
		d := v - middle
		variance += d * d
	}
	stddev := math.Sqrt(variance / float64(period))
	return &BollingerBands{
		Upper:  middle + k*stddev,
		Middle: middle,
		Lower:  middle - k*stddev,
	}, true
}
