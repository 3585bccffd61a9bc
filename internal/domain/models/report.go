package models

// TradeReport is the human-facing summary sent once per closed signal.
// Delivery is best-effort; a failed send never touches trading state.
type TradeReport struct {
	SignalID        string  `json:"signalId"`
	Symbol          string  `json:"symbol"`
	BuyPrice        float64 `json:"buyPrice"`
	SellPrice       float64 `json:"sellPrice"`
	Quantity        float64 `json:"quantity"`
	TotalBuyAmount  float64 `json:"totalBuyAmount"`
	TotalSellAmount float64 `json:"totalSellAmount"`
	GrossProfit     float64 `json:"grossProfit"`
	TotalCommission float64 `json:"totalCommission"`
	NetProfit       float64 `json:"netProfit"`
	ProfitPercent   float64 `json:"profitPercent"`
	ROI             float64 `json:"roi"`
	Duration        string  `json:"duration"`
	PaperTrading    bool    `json:"paperTrading"`
}
