package indicator

import "VolBot/internal/domain/models"

// BullishEngulfing detects a bearish candle fully engulfed by the following
// bullish one: the current open below the previous close and the current
// close above the previous open.
func BullishEngulfing(candles []models.Candle) bool {
	if len(candles) < 2 {
		return false
	}
	prev := candles[len(candles)-2]
	curr := candles[len(candles)-1]

	prevBear := prev.Close < prev.Open
	currBull := curr.Close > curr.Open

	return currBull && prevBear &&
		curr.Open < prev.Close &&
		curr.Close > prev.Open
}

// BearishEngulfing is the mirror pattern: a bullish candle fully engulfed by
// the following bearish one.
func BearishEngulfing(candles []models.Candle) bool {
	if len(candles) < 2 {
		return false
	}
	prev := candles[len(candles)-2]
	curr := candles[len(candles)-1]

	prevBull := prev.Close > prev.Open
	currBear := curr.Close < curr.Open

	return currBear && prevBull &&
		curr.Open > prev.Close &&
		curr.Close < prev.Open
}
