package models

import (
	"math"
	"time"
)

type SignalStatus string

const (
	SignalActive    SignalStatus = "active"
	SignalMatched   SignalStatus = "matched"
	SignalExpired   SignalStatus = "expired"
	SignalCancelled SignalStatus = "cancelled"
)

// IndicatorSnapshot freezes the indicator values that justified a signal.
type IndicatorSnapshot struct {
	ATR      float64 `json:"atr"`
	RSI      float64 `json:"rsi"`
	MACD     float64 `json:"macd"`
	SMAShort float64 `json:"smaShort"`
	SMALong  float64 `json:"smaLong"`
	Volume   float64 `json:"volume"`
}

// Signal tracks one trading opportunity from entry to economic closure.
// Owned by exactly one user; created by the decision engine, mutated only
// at closure.
type Signal struct {
	ID           string            `json:"id"`
	UserID       string            `json:"userId"`
	Symbol       string            `json:"symbol"`
	Status       SignalStatus      `json:"status"`
	InitialPrice float64           `json:"initialPrice"`
	FinalPrice   float64           `json:"finalPrice"`
	StopLoss     float64           `json:"stopLoss"`
	TakeProfit   float64           `json:"takeProfit"`
	Indicators   IndicatorSnapshot `json:"indicators"`

	TotalProfit     float64 `json:"totalProfit"`
	TotalCommission float64 `json:"totalCommission"`
	NetProfit       float64 `json:"netProfit"`

	PaperTrading bool       `json:"paperTrading"`
	CreatedAt    time.Time  `json:"createdAt"`
	ClosedAt     *time.Time `json:"closedAt,omitempty"`

	Movements []*Movement `json:"movements,omitempty"`
}

// Validate rejects signals carrying non-finite numeric fields before they
// reach storage.
func (s *Signal) Validate() bool {
	vals := []float64{
		s.InitialPrice, s.StopLoss, s.TakeProfit,
		s.Indicators.ATR, s.Indicators.RSI, s.Indicators.MACD,
		s.Indicators.SMAShort, s.Indicators.SMALong, s.Indicators.Volume,
	}
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// OpenPosition reports whether the signal has a filled buy and no filled
// sell. Derived from the movement set on every call, never persisted.
func (s *Signal) OpenPosition() bool {
	return s.FilledBuy() != nil && s.FilledSell() == nil
}

// FilledBuy returns the first FILLED BUY movement, or nil.
func (s *Signal) FilledBuy() *Movement {
	for _, m := range s.Movements {
		if m.Type == MovementBuy && m.Status == MovementFilled {
			return m
		}
	}
	return nil
}

// FilledSell returns the first FILLED SELL movement, or nil.
func (s *Signal) FilledSell() *Movement {
	for _, m := range s.Movements {
		if m.Type == MovementSell && m.Status == MovementFilled {
			return m
		}
	}
	return nil
}

// PendingSell returns the first PENDING SELL movement, or nil. At most one
// pending sell may exist per signal; the decision engine checks this before
// creating another.
func (s *Signal) PendingSell() *Movement {
	for _, m := range s.Movements {
		if m.Type == MovementSell && m.Status == MovementPending {
			return m
		}
	}
	return nil
}

// PendingBuy returns the first PENDING BUY movement, or nil.
func (s *Signal) PendingBuy() *Movement {
	for _, m := range s.Movements {
		if m.Type == MovementBuy && m.Status == MovementPending {
			return m
		}
	}
	return nil
}
