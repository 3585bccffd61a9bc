package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VolBot/internal/domain/models"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func candleAt(ts int64, close float64) models.Candle {
	return models.Candle{Open: close, High: close + 1, Low: close - 1, Close: close, Volume: 1, Timestamp: ts}
}

func TestAppendEvictsOldest(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(0)}
	w := New(5, 24*time.Hour, clock)

	for i := 0; i < 6; i++ {
		w.Append(candleAt(int64(i), float64(100+i)))
	}

	require.Equal(t, 5, w.Count())
	snap := w.Snapshot()
	for i, c := range snap {
		assert.Equal(t, float64(101+i), c.Close, "retained set must be the most recent inserts in order")
	}
}

func TestStaleWindowClearsOnAppend(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	w := New(100, 24*time.Hour, clock)

	w.Append(candleAt(start.UnixMilli(), 100))
	w.Append(candleAt(start.Add(time.Minute).UnixMilli(), 101))
	require.Equal(t, 2, w.Count())

	// A day and change later the whole window is invalidated, not trimmed.
	clock.now = start.Add(25 * time.Hour)
	w.Append(candleAt(clock.now.UnixMilli(), 102))

	require.Equal(t, 1, w.Count())
	assert.Equal(t, 102.0, w.Snapshot()[0].Close)
}

func TestSnapshotIsCopy(t *testing.T) {
	w := New(10, time.Hour, &fakeClock{now: time.UnixMilli(0)})
	w.Append(candleAt(0, 100))

	snap := w.Snapshot()
	snap[0].Close = 999

	assert.Equal(t, 100.0, w.Snapshot()[0].Close)
}

func TestClear(t *testing.T) {
	w := New(10, time.Hour, &fakeClock{now: time.UnixMilli(0)})
	w.Append(candleAt(0, 100))
	w.Clear()
	assert.Equal(t, 0, w.Count())
}
