package strategy

// Config holds the tuned policy parameters of the decision engine. The
// thresholds started life as constants in an earlier bot iteration; they are
// configuration here so operators can adjust them without a rebuild.
type Config struct {
	Symbol string `yaml:"symbol"`

	Commission      float64 `yaml:"commission"`        // per-side, fraction
	MinProfitMargin float64 `yaml:"min_profit_margin"` // on top of round-trip commission

	MinWindow int `yaml:"min_window"` // candles required before evaluating

	LotStep float64 `yaml:"lot_step"`
	MinLot  float64 `yaml:"min_lot"`

	StopLossATRMult   float64 `yaml:"stop_loss_atr_mult"`
	TakeProfitATRMult float64 `yaml:"take_profit_atr_mult"`

	// Sell-policy thresholds.
	HoldRSIMin      float64 `yaml:"hold_rsi_min"`
	HoldRSIMax      float64 `yaml:"hold_rsi_max"`
	HoldMaxVolRatio float64 `yaml:"hold_max_vol_ratio"` // ATR/price ceiling for hold_trend

	PaperTrading bool `yaml:"paper_trading"`

	// Fallback daily movement cap for users without their own.
	MaxDailySignals int `yaml:"max_daily_signals"`
}

// Defaults returns the production BTCUSDT parameter set.
func Defaults() Config {
	return Config{
		Symbol:            "BTCUSDT",
		Commission:        0.001,
		MinProfitMargin:   0.005,
		MinWindow:         50,
		LotStep:           0.00001,
		MinLot:            0.00001,
		StopLossATRMult:   1.5,
		TakeProfitATRMult: 3.0,
		HoldRSIMin:        45,
		HoldRSIMax:        70,
		HoldMaxVolRatio:   0.01,
		PaperTrading:      true,
		MaxDailySignals:   300,
	}
}

// RoundTrip returns the fractional price move needed to cover both
// commissions plus the minimum profit margin.
func (c Config) RoundTrip() float64 {
	return 2*c.Commission + c.MinProfitMargin
}
