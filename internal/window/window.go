// Package window holds the bounded, time-expiring candle buffer shared by
// all tenants for one traded symbol. Single-writer on the tick path;
// Snapshot hands out copies for read-only use.
package window

import (
	"sync"
	"time"

	"VolBot/internal/domain/models"
)

// Clock abstracts wall time so staleness can be tested with fake time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the default wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Window is a bounded ordered buffer of recent candles, most-recent-last.
// If the oldest retained candle is older than ttl the whole window is
// cleared on the next Append, so a long outage never mixes a stale regime
// with fresh data.
type Window struct {
	mu      sync.RWMutex
	candles []models.Candle
	maxSize int
	ttl     time.Duration
	clock   Clock
}

// New creates a window holding at most maxSize candles with the given ttl.
func New(maxSize int, ttl time.Duration, clock Clock) *Window {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Window{
		candles: make([]models.Candle, 0, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
		clock:   clock,
	}
}

// Append inserts a candle, evicting the oldest on overflow. A stale window
// is cleared before the insert.
func (w *Window) Append(c models.Candle) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stale() {
		w.candles = w.candles[:0]
	}

	if len(w.candles) >= w.maxSize {
		copy(w.candles, w.candles[1:])
		w.candles = w.candles[:len(w.candles)-1]
	}
	w.candles = append(w.candles, c)
}

// stale reports whether the oldest retained candle exceeds ttl. Caller holds
// the lock.
func (w *Window) stale() bool {
	if len(w.candles) == 0 {
		return false
	}
	oldest := time.UnixMilli(w.candles[0].Timestamp)
	return w.clock.Now().Sub(oldest) > w.ttl
}

// Snapshot returns a copy of the buffered candles in insertion order.
func (w *Window) Snapshot() []models.Candle {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]models.Candle, len(w.candles))
	copy(out, w.candles)
	return out
}

// Count returns the number of buffered candles.
func (w *Window) Count() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.candles)
}

// Clear drops all buffered candles.
func (w *Window) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.candles = w.candles[:0]
}
