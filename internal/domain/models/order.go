package models

type OrderSide string

const (
	OrderBuy  OrderSide = "BUY"
	OrderSell OrderSide = "SELL"
)

type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
)

// Exchange-reported order statuses we act on. Anything else is treated as
// still in flight.
const (
	OrderStatusNew             = "NEW"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusCanceled        = "CANCELED"
	OrderStatusRejected        = "REJECTED"
	OrderStatusExpired         = "EXPIRED"
)

// OrderRequest is a normalized order submission. Quantity must already be
// formatted to the instrument's lot step.
type OrderRequest struct {
	Symbol      string
	Side        OrderSide
	Type        OrderType
	Quantity    float64
	Price       float64 // LIMIT only
	TimeInForce string  // LIMIT only, defaults to GTC
}

// OrderResponse is the closed, validated result variant returned by the
// exchange collaborator. The raw exchange payload is kept for audit only.
type OrderResponse struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Status        string
	ExecutedQty   float64
	Price         float64
	Raw           []byte
}

// Resolved reports whether the exchange considers the order terminal.
func (r *OrderResponse) Resolved() bool {
	switch r.Status {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// Failed reports a terminal non-fill.
func (r *OrderResponse) Failed() bool {
	switch r.Status {
	case OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}
