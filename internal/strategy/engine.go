// Package strategy implements the entry and exit decision logic. The engine
// is pure: it consumes a window snapshot plus the per-tick indicator set and
// returns plans; persistence and order submission happen in the usecase
// layer.
package strategy

import (
	"math"

	"VolBot/internal/domain/models"
)

// EntryPlan describes a qualifying buy: sizing, protective levels and the
// indicator snapshot to persist with the signal.
type EntryPlan struct {
	Price      float64
	Quantity   float64
	StopLoss   float64
	TakeProfit float64
	Snapshot   models.IndicatorSnapshot
	Conditions int // how many entry conditions held
}

// SellPolicy names the exit stance chosen for an open position.
type SellPolicy string

const (
	SellImmediate     SellPolicy = "immediate"
	SellHoldTrend     SellPolicy = "hold_trend"
	SellWaitForProfit SellPolicy = "wait_for_profit"
)

// SellPlan carries the chosen policy and the minimum acceptable sell price.
// A sell movement is only created once the market trades at or above
// MinPrice.
type SellPlan struct {
	Policy   SellPolicy
	MinPrice float64
}

// Engine evaluates entries and exits under a fixed policy configuration.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

func (e *Engine) Config() Config { return e.cfg }

// entryConditions computes the fixed boolean battery. At least five must
// hold for a signal.
func (e *Engine) entryConditions(candle models.Candle, ind *IndicatorSet) []bool {
	return []bool{
		ind.StrongUptrend() || (ind.RangeMarket() && ind.MACD > ind.MACDSignal),
		ind.RSI >= 25 && ind.RSI <= 65,
		ind.MACD > ind.MACDSignal || ind.Histogram > 0,
		ind.BullishEngulfing || candle.Bullish(),
		candle.Close <= ind.Bands.Lower*1.005 || candle.Close < ind.SMAShort,
		candle.Close > ind.SMALong*0.995,
	}
}

// safetyGate rejects entries at degenerate prices or volatility too thin to
// ever cover the round trip.
func (e *Engine) safetyGate(price, atr float64) bool {
	if price <= 0 || !isFinite(price) || !isFinite(atr) {
		return false
	}
	minMove := price * e.cfg.RoundTrip()
	return atr >= minMove*0.1
}

// EvaluateEntry returns a plan when the candle qualifies for a buy under
// the user's capital, or nil when it does not.
func (e *Engine) EvaluateEntry(user *models.UserConfig, candle models.Candle, ind *IndicatorSet) *EntryPlan {
	conds := e.entryConditions(candle, ind)
	passed := 0
	for _, c := range conds {
		if c {
			passed++
		}
	}
	if passed < 5 {
		return nil
	}
	if !e.safetyGate(candle.Close, ind.ATR) {
		return nil
	}

	price := candle.Close
	qty := e.FormatQuantity(user.CapitalPerTrade / price)
	if qty <= 0 {
		return nil
	}

	stopLoss := price * (1 - e.cfg.StopLossATRMult*ind.ATR/price)
	takeProfit := price * (1 + e.cfg.TakeProfitATRMult*ind.ATR/price)

	// Floor take-profit so a fill always clears commissions plus margin.
	minTake := price * (1 + e.cfg.RoundTrip())
	if takeProfit < minTake {
		takeProfit = minTake
	}

	return &EntryPlan{
		Price:      price,
		Quantity:   qty,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		Conditions: passed,
		Snapshot: models.IndicatorSnapshot{
			ATR:      ind.ATR,
			RSI:      ind.RSI,
			MACD:     ind.MACD,
			SMAShort: ind.SMAShort,
			SMALong:  ind.SMALong,
			Volume:   ind.Volume,
		},
	}
}

// SelectSellPolicy picks the exit stance for one open position. The default
// is risk-averse: any profit at or above the user's sell margin is taken
// immediately; holding requires a strong uptrend with confirming momentum,
// moderate RSI and low ATR-normalized volatility at the same time.
func (e *Engine) SelectSellPolicy(user *models.UserConfig, signal *models.Signal, candle models.Candle, ind *IndicatorSet) SellPlan {
	buy := signal.FilledBuy()
	buyPrice := signal.InitialPrice
	if buy != nil && buy.Price > 0 {
		buyPrice = buy.Price
	}

	profitPct := (candle.Close - buyPrice) / buyPrice
	volRatio := ind.ATR / candle.Close

	if profitPct >= user.SellMargin {
		return SellPlan{
			Policy:   SellImmediate,
			MinPrice: buyPrice * (1 + 2*e.cfg.Commission + user.SellMargin),
		}
	}

	if ind.StrongUptrend() && ind.Histogram > 0 &&
		ind.RSI >= e.cfg.HoldRSIMin && ind.RSI <= e.cfg.HoldRSIMax &&
		volRatio < e.cfg.HoldMaxVolRatio {
		return SellPlan{Policy: SellHoldTrend, MinPrice: signal.TakeProfit}
	}

	return SellPlan{
		Policy:   SellWaitForProfit,
		MinPrice: buyPrice * (1 + e.cfg.RoundTrip()),
	}
}

// FormatQuantity floors a raw quantity to the instrument's lot step and
// clamps to the minimum lot, matching what the exchange accepts.
func (e *Engine) FormatQuantity(raw float64) float64 {
	if !isFinite(raw) || raw <= 0 {
		return 0
	}
	q := math.Floor(raw/e.cfg.LotStep) * e.cfg.LotStep
	if q < e.cfg.MinLot {
		q = e.cfg.MinLot
	}
	return q
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
