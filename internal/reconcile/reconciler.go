// Package reconcile drives pending movements to a terminal status by
// polling the exchange. It runs on its own schedule, decoupled from candle
// cadence, and never blocks tick ingestion.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"VolBot/internal/domain/models"
	domrepo "VolBot/internal/domain/repository"
	"VolBot/internal/usecase"
	"VolBot/pkg/logger"
)

// Clock abstracts time for fake-clock tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config tunes the reconciliation cadence and retry budget.
type Config struct {
	CronSpec    string        `yaml:"cron_spec"`    // e.g. "*/15 * * * * *"
	MaxAttempts int           `yaml:"max_attempts"` // per movement, per lifetime
	OrphanGrace time.Duration `yaml:"orphan_grace"` // pending with no order id
}

func DefaultConfig() Config {
	return Config{
		CronSpec:    "*/15 * * * * *",
		MaxAttempts: 20,
		OrphanGrace: 5 * time.Minute,
	}
}

// Reconciler polls unresolved orders and sweeps orphaned submissions.
type Reconciler struct {
	cfg       Config
	store     domrepo.SignalStore
	exchange  domrepo.Exchange
	lifecycle *usecase.Lifecycle
	metrics   domrepo.Metrics
	log       *logger.Logger
	clock     Clock

	cron *cron.Cron

	mu       sync.Mutex
	attempts map[string]int  // movement id -> poll attempts
	parked   map[string]bool // gave up, waiting for manual reconciliation
}

func New(cfg Config, store domrepo.SignalStore, exchange domrepo.Exchange, lifecycle *usecase.Lifecycle, metrics domrepo.Metrics, log *logger.Logger, clock Clock) *Reconciler {
	if clock == nil {
		clock = systemClock{}
	}
	return &Reconciler{
		cfg:       cfg,
		store:     store,
		exchange:  exchange,
		lifecycle: lifecycle,
		metrics:   metrics,
		log:       log,
		clock:     clock,
		attempts:  make(map[string]int),
		parked:    make(map[string]bool),
	}
}

// Start schedules reconciliation cycles on the configured cron spec.
func (r *Reconciler) Start(ctx context.Context) error {
	r.cron = cron.New(cron.WithSeconds())
	_, err := r.cron.AddFunc(r.cfg.CronSpec, func() {
		cycleCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		r.RunCycle(cycleCtx)
	})
	if err != nil {
		return fmt.Errorf("reconcile schedule: %w", err)
	}
	r.cron.Start()
	r.log.Info("reconciler started", logger.String("cron", r.cfg.CronSpec))
	return nil
}

// Stop halts the schedule and waits for a running cycle to finish.
func (r *Reconciler) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// RunCycle performs one reconciliation pass: sweep orphans, then poll every
// pending movement that has an exchange order id.
func (r *Reconciler) RunCycle(ctx context.Context) {
	r.sweepOrphans(ctx)

	pending, err := r.store.PendingMovementsWithOrder(ctx)
	if err != nil {
		r.log.Error("listing pending movements", logger.Error(err))
		r.metrics.RecordError("reconcile_list")
		return
	}

	for _, m := range pending {
		if err := r.pollMovement(ctx, m); err != nil {
			r.log.Warn("movement unresolved",
				logger.String("movement_id", m.ID), logger.Error(err))
		}
	}
}

// sweepOrphans fails pending movements whose submission never reached the
// exchange: no order id and older than the grace window.
func (r *Reconciler) sweepOrphans(ctx context.Context) {
	cutoff := r.clock.Now().Add(-r.cfg.OrphanGrace)
	orphans, err := r.store.OrphanedPendingMovements(ctx, cutoff)
	if err != nil {
		r.log.Error("listing orphaned movements", logger.Error(err))
		return
	}
	for _, m := range orphans {
		r.log.Warn("sweeping orphaned movement",
			logger.String("movement_id", m.ID),
			logger.String("type", string(m.Type)))
		if err := r.store.UpdateMovementStatus(ctx, m.ID, models.MovementFailed, nil); err != nil {
			r.log.Error("failing orphaned movement", logger.String("movement_id", m.ID), logger.Error(err))
			continue
		}
		r.metrics.RecordMovementStatus(string(m.Type), string(models.MovementFailed))
		r.forget(m.ID)
	}
}

// pollMovement asks the exchange about one order and advances the
// movement. Clock-skew errors trigger one resync and one retry; transient
// errors burn one attempt from the movement's budget.
func (r *Reconciler) pollMovement(ctx context.Context, m *models.Movement) error {
	if m.Status.Terminal() {
		r.forget(m.ID)
		return nil
	}
	if r.exhausted(m.ID) {
		return nil
	}

	signal, err := r.store.GetSignal(ctx, m.SignalID)
	if err != nil {
		return fmt.Errorf("signal for movement %s: %w", m.ID, err)
	}

	resp, err := r.exchange.GetOrderStatus(ctx, signal.UserID, signal.Symbol, m.OrderID)
	if errors.Is(err, domrepo.ErrClockSkew) {
		r.metrics.RecordReconcileAttempt("clock_skew")
		if syncErr := r.exchange.SyncTime(ctx, signal.UserID); syncErr != nil {
			return r.recordAttempt(m, fmt.Errorf("time resync: %w", syncErr))
		}
		resp, err = r.exchange.GetOrderStatus(ctx, signal.UserID, signal.Symbol, m.OrderID)
	}
	if err != nil {
		return r.recordAttempt(m, err)
	}

	switch {
	case resp.Status == models.OrderStatusFilled:
		r.metrics.RecordReconcileAttempt("filled")
		r.forget(m.ID)
		return r.lifecycle.MovementFilled(ctx, m, resp)
	case resp.Failed():
		r.metrics.RecordReconcileAttempt("failed")
		r.forget(m.ID)
		if err := r.store.UpdateMovementStatus(ctx, m.ID, models.MovementFailed, resp); err != nil {
			return err
		}
		r.metrics.RecordMovementStatus(string(m.Type), string(models.MovementFailed))
		return nil
	default:
		// Still working at the exchange; check again next cycle.
		r.metrics.RecordReconcileAttempt("in_flight")
		return nil
	}
}

func (r *Reconciler) recordAttempt(m *models.Movement, cause error) error {
	r.mu.Lock()
	r.attempts[m.ID]++
	n := r.attempts[m.ID]
	ceiling := n >= r.cfg.MaxAttempts
	if ceiling {
		r.parked[m.ID] = true
	}
	r.mu.Unlock()

	r.metrics.RecordReconcileAttempt("error")
	if ceiling {
		r.log.Error("poll attempt ceiling reached, leaving movement pending",
			logger.String("movement_id", m.ID),
			logger.Int("attempts", n),
			logger.Error(cause))
		return nil
	}
	return fmt.Errorf("poll attempt %d/%d: %w", n, r.cfg.MaxAttempts, cause)
}

func (r *Reconciler) exhausted(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.parked[id]
}

func (r *Reconciler) forget(id string) {
	r.mu.Lock()
	delete(r.attempts, id)
	delete(r.parked, id)
	r.mu.Unlock()
}
