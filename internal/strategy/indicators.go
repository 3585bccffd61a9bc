package strategy

import (
	"errors"

	"VolBot/internal/domain/models"
	"VolBot/internal/indicator"
)

// ErrInsufficientData is returned while the window is still warming up.
// Always non-fatal: the tick is skipped, never aborted.
var ErrInsufficientData = errors.New("strategy: not enough candles for indicators")

// IndicatorSet is the per-tick indicator battery, computed once from the
// shared window and handed read-only to every user evaluation.
type IndicatorSet struct {
	SMAShort    float64 // 9
	SMALong     float64 // 21
	SMAVeryLong float64 // 50
	EMAShort    float64 // 12
	EMALong     float64 // 26
	RSI         float64
	MACD        float64
	MACDSignal  float64
	Histogram   float64
	ATR         float64
	Bands       indicator.BollingerBands
	VolumeMA    float64
	Volume      float64

	BullishEngulfing bool
	BearishEngulfing bool
}

// StrongUptrend reports aligned short/long/very-long averages with the
// exponential pair confirming.
func (s *IndicatorSet) StrongUptrend() bool {
	return s.SMAShort > s.SMALong && s.SMALong > s.SMAVeryLong && s.EMAShort > s.EMALong
}

// StrongDowntrend is the mirror alignment.
func (s *IndicatorSet) StrongDowntrend() bool {
	return s.SMAShort < s.SMALong && s.SMALong < s.SMAVeryLong && s.EMAShort < s.EMALong
}

// RangeMarket reports neither trend alignment.
func (s *IndicatorSet) RangeMarket() bool {
	return !s.StrongUptrend() && !s.StrongDowntrend()
}

// ComputeIndicators derives the full battery from the window snapshot.
// Returns ErrInsufficientData until the window holds minWindow candles;
// minWindow is floored at 50, the longest indicator lookback.
func ComputeIndicators(candles []models.Candle, minWindow int) (*IndicatorSet, error) {
	if minWindow < 50 {
		minWindow = 50
	}
	if len(candles) < minWindow {
		return nil, ErrInsufficientData
	}

	closes := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		if !c.Valid() {
			return nil, ErrInsufficientData
		}
		closes[i] = c.Close
		volumes[i] = c.Volume
	}

	smaShort, ok1 := indicator.SMA(closes, 9)
	smaLong, ok2 := indicator.SMA(closes, 21)
	smaVeryLong, ok3 := indicator.SMA(closes, 50)
	emaShort, ok4 := indicator.EMA(closes, 12)
	emaLong, ok5 := indicator.EMA(closes, 26)
	rsi, ok6 := indicator.RSI(closes, 14)
	macd, ok7 := indicator.MACD(closes, 12, 26, 9)
	volumeMA, ok8 := indicator.SMA(volumes, 10)
	bands, ok9 := indicator.Bollinger(closes, 20, 2)

	// ATR over the last 20 candles keeps the volatility estimate local.
	atrWindow := candles
	if len(atrWindow) > 20 {
		atrWindow = atrWindow[len(atrWindow)-20:]
	}
	atr, ok10 := indicator.ATR(atrWindow, 14)

	for _, ok := range []bool{ok1, ok2, ok3, ok4, ok5, ok6, ok7, ok8, ok9, ok10} {
		if !ok {
			return nil, ErrInsufficientData
		}
	}

	latestMACD, latestSignal, latestHistogram := macd.Latest()

	return &IndicatorSet{
		SMAShort:         smaShort,
		SMALong:          smaLong,
		SMAVeryLong:      smaVeryLong,
		EMAShort:         emaShort,
		EMALong:          emaLong,
		RSI:              rsi,
		MACD:             latestMACD,
		MACDSignal:       latestSignal,
		Histogram:        latestHistogram,
		ATR:              atr,
		Bands:            *bands,
		VolumeMA:         volumeMA,
		Volume:           volumes[len(volumes)-1],
		BullishEngulfing: indicator.BullishEngulfing(candles),
		BearishEngulfing: indicator.BearishEngulfing(candles),
	}, nil
}
