// Package orchestrator fans one candle stream out to every registered
// user. The candle window and indicator battery are computed once per
// tick and shared; user evaluation failures are isolated so one tenant
// can never stall another.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"VolBot/internal/domain/models"
	domrepo "VolBot/internal/domain/repository"
	"VolBot/internal/strategy"
	"VolBot/internal/usecase"
	"VolBot/internal/window"
	"VolBot/pkg/cache"
	"VolBot/pkg/logger"
)

const candleMirrorTTL = 24 * time.Hour

// Orchestrator owns the shared candle window and the user registry.
type Orchestrator struct {
	symbol  string
	window  *window.Window
	trader  *usecase.Trader
	store   domrepo.SignalStore
	archive domrepo.CandleArchive
	mirror  cache.Service
	metrics domrepo.Metrics
	log     *logger.Logger
	clock   window.Clock

	minWindow int

	mu    sync.RWMutex
	users map[string]*models.UserConfig
}

func New(symbol string, win *window.Window, trader *usecase.Trader, store domrepo.SignalStore, archive domrepo.CandleArchive, mirror cache.Service, metrics domrepo.Metrics, log *logger.Logger, clock window.Clock) *Orchestrator {
	if clock == nil {
		clock = window.SystemClock{}
	}
	return &Orchestrator{
		symbol:    symbol,
		window:    win,
		trader:    trader,
		store:     store,
		archive:   archive,
		mirror:    mirror,
		metrics:   metrics,
		log:       log,
		clock:     clock,
		minWindow: trader.Engine().Config().MinWindow,
		users:     make(map[string]*models.UserConfig),
	}
}

// LoadUsers replaces the registry with the active users from storage.
// Called at startup and on demand from the admin API.
func (o *Orchestrator) LoadUsers(ctx context.Context) error {
	users, err := o.store.ActiveUsers(ctx)
	if err != nil {
		return fmt.Errorf("loading active users: %w", err)
	}

	o.mu.Lock()
	o.users = make(map[string]*models.UserConfig, len(users))
	for _, u := range users {
		o.users[u.UserID] = u
	}
	o.mu.Unlock()

	o.log.Info("user registry loaded", logger.Int("users", len(users)))
	return nil
}

// AddUser registers or replaces one user without touching the others.
func (o *Orchestrator) AddUser(u *models.UserConfig) {
	o.mu.Lock()
	o.users[u.UserID] = u
	o.mu.Unlock()
	o.log.Info("user registered", logger.String("user_id", u.UserID))
}

// RemoveUser drops a user from evaluation. Their open signals keep
// reconciling; only new decisions stop.
func (o *Orchestrator) RemoveUser(userID string) {
	o.mu.Lock()
	delete(o.users, userID)
	o.mu.Unlock()
	o.log.Info("user removed", logger.String("user_id", userID))
}

// UserCount returns the registry size, for health reporting.
func (o *Orchestrator) UserCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.users)
}

// OnCandle ingests one closed candle and runs a full evaluation tick.
// Archive and mirror writes are best-effort; indicator failure on a short
// window skips evaluation silently.
func (o *Orchestrator) OnCandle(ctx context.Context, c models.Candle) {
	start := o.clock.Now()

	if !c.Valid() {
		o.log.Warn("discarding malformed candle", logger.Int64("timestamp", c.Timestamp))
		o.metrics.RecordError("candle_invalid")
		return
	}

	o.window.Append(c)
	o.metrics.RecordLastPrice(o.symbol, c.Close)
	o.persistCandle(ctx, c)

	candles := o.window.Snapshot()
	ind, err := strategy.ComputeIndicators(candles, o.minWindow)
	if err != nil {
		o.log.Debug("indicators unavailable",
			logger.Int("window", len(candles)), logger.Error(err))
		return
	}

	for _, user := range o.snapshotUsers() {
		o.resetDailyCounter(user)
		func() {
			defer func() {
				if r := recover(); r != nil {
					o.log.Error("user evaluation panicked",
						logger.String("user_id", user.UserID),
						logger.Any("panic", r))
					o.metrics.RecordError("evaluation_panic")
				}
			}()
			if err := o.trader.EvaluateUser(ctx, user, c, ind); err != nil {
				o.log.Error("user evaluation failed",
					logger.String("user_id", user.UserID), logger.Error(err))
				o.metrics.RecordError("evaluation")
			}
		}()
	}

	o.metrics.RecordTickLatency(o.clock.Now().Sub(start).Seconds())
}

// ResetDailyCounters runs the calendar-day reset across the registry.
// Wired to a midnight cron; OnCandle also resets lazily per user so a
// quiet feed cannot stall the counter.
func (o *Orchestrator) ResetDailyCounters() {
	for _, user := range o.snapshotUsers() {
		o.resetDailyCounter(user)
	}
}

func (o *Orchestrator) resetDailyCounter(u *models.UserConfig) {
	today := o.clock.Now().Format("2006-01-02")
	if u.LastResetDate == today {
		return
	}
	u.DailySignalCount = 0
	u.LastResetDate = today
	o.log.Info("daily signal counter reset",
		logger.String("user_id", u.UserID), logger.String("date", today))
}

func (o *Orchestrator) snapshotUsers() []*models.UserConfig {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*models.UserConfig, 0, len(o.users))
	for _, u := range o.users {
		out = append(out, u)
	}
	return out
}

// persistCandle archives the candle and mirrors the recent window for
// external readers. Neither write can fail the tick.
func (o *Orchestrator) persistCandle(ctx context.Context, c models.Candle) {
	if o.archive != nil {
		if err := o.archive.Store(ctx, o.symbol, &c); err != nil {
			o.log.Warn("candle archive write failed", logger.Error(err))
			o.metrics.RecordError("archive")
		}
	}
	if o.mirror != nil {
		payload, err := json.Marshal(o.window.Snapshot())
		if err != nil {
			return
		}
		if err := o.mirror.Set(ctx, o.mirrorKey(), string(payload), candleMirrorTTL); err != nil {
			o.log.Warn("candle mirror write failed", logger.Error(err))
			o.metrics.RecordError("mirror")
		}
	}
}

func (o *Orchestrator) mirrorKey() string {
	return fmt.Sprintf("candles:%s:latest", o.symbol)
}

// WarmStart reloads the mirrored window after a restart so indicators do
// not wait a full warm-up on a live feed. A miss is normal on first boot.
func (o *Orchestrator) WarmStart(ctx context.Context) {
	if o.mirror == nil {
		return
	}

	var payload string
	if err := o.mirror.Get(ctx, o.mirrorKey(), &payload); err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			o.log.Warn("candle mirror read failed", logger.Error(err))
		}
		return
	}

	var candles []models.Candle
	if err := json.Unmarshal([]byte(payload), &candles); err != nil {
		o.log.Warn("candle mirror payload malformed", logger.Error(err))
		return
	}

	for _, c := range candles {
		if c.Valid() {
			o.window.Append(c)
		}
	}
	o.log.Info("window warm-started from mirror", logger.Int("candles", o.window.Count()))
}
