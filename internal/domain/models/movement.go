package models

import (
	"math"
	"time"
)

type MovementType string

const (
	MovementBuy  MovementType = "buy"
	MovementSell MovementType = "sell"
)

type MovementStatus string

const (
	MovementPending   MovementStatus = "pending"
	MovementFilled    MovementStatus = "filled"
	MovementCancelled MovementStatus = "cancelled"
	MovementFailed    MovementStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s MovementStatus) Terminal() bool {
	return s == MovementFilled || s == MovementCancelled || s == MovementFailed
}

// Movement is one side (buy or sell) of the execution of a Signal. Status
// transitions are monotone: once terminal, a movement never goes back to
// pending.
type Movement struct {
	ID       string         `json:"id"`
	SignalID string         `json:"signalId"`
	Type     MovementType   `json:"type"`
	Status   MovementStatus `json:"status"`

	Price       float64 `json:"price"`
	Quantity    float64 `json:"quantity"`
	TotalAmount float64 `json:"totalAmount"`
	Commission  float64 `json:"commission"`
	NetAmount   float64 `json:"netAmount"`

	// Exchange order linkage; empty until the order reaches the exchange.
	OrderID       string `json:"orderId,omitempty"`
	ClientOrderID string `json:"clientOrderId,omitempty"`
	OrderResponse []byte `json:"-"`
	OrderError    string `json:"orderError,omitempty"`

	ExecutedAt *time.Time `json:"executedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Validate rejects movements carrying non-finite numeric fields before they
// reach storage.
func (m *Movement) Validate() bool {
	for _, v := range []float64{m.Price, m.Quantity, m.TotalAmount, m.Commission, m.NetAmount} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
