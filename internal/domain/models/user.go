package models

// UserConfig holds one tenant's trading parameters and daily risk counter.
// The counter is reset by the orchestrator at most once per calendar day;
// everything else is administrative state loaded from storage.
type UserConfig struct {
	UserID           string  `json:"userId"`
	Email            string  `json:"email"`
	CapitalPerTrade  float64 `json:"capitalPerTrade"`
	ProfitMargin     float64 `json:"profitMargin"`
	SellMargin       float64 `json:"sellMargin"`
	MaxActiveSignals int     `json:"maxActiveSignals"`
	MaxDailySignals  int     `json:"maxDailySignals"`

	DailySignalCount int    `json:"dailySignalCount"`
	LastResetDate    string `json:"lastResetDate"`
}
