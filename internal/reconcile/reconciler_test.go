package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VolBot/internal/domain/models"
	domrepo "VolBot/internal/domain/repository"
	"VolBot/internal/domain/repository/repositorytest"
	"VolBot/internal/usecase"
	"VolBot/pkg/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	return log
}

func testHarness(t *testing.T, clock Clock) (*Reconciler, *repositorytest.Store, *repositorytest.Exchange, *repositorytest.Notifier) {
	t.Helper()
	store := repositorytest.NewStore()
	exchange := repositorytest.NewExchange()
	notifier := &repositorytest.Notifier{}
	log := testLogger(t)
	lifecycle := usecase.NewLifecycle(store, notifier, repositorytest.Metrics{}, log)
	cfg := DefaultConfig()
	cfg.MaxAttempts = 3
	r := New(cfg, store, exchange, lifecycle, repositorytest.Metrics{}, log, clock)
	return r, store, exchange, notifier
}

func seedSignal(t *testing.T, store *repositorytest.Store, created time.Time) (*models.Signal, *models.Movement, *models.Movement) {
	t.Helper()
	buy := &models.Movement{
		ID:          "mov-buy",
		SignalID:    "sig-1",
		Type:        models.MovementBuy,
		Status:      models.MovementFilled,
		Price:       105000,
		Quantity:    0.001,
		TotalAmount: 105,
		Commission:  0.105,
		NetAmount:   105.105,
		OrderID:     "ord-buy",
		CreatedAt:   created,
	}
	sell := &models.Movement{
		ID:          "mov-sell",
		SignalID:    "sig-1",
		Type:        models.MovementSell,
		Status:      models.MovementPending,
		Price:       107000,
		Quantity:    0.000999,
		TotalAmount: 106.893,
		Commission:  0.106893,
		NetAmount:   106.786107,
		OrderID:     "ord-sell",
		CreatedAt:   created,
	}
	sig := &models.Signal{
		ID:           "sig-1",
		UserID:       "user-1",
		Symbol:       "BTCUSDT",
		Status:       models.SignalActive,
		InitialPrice: 105000,
		CreatedAt:    created,
		Movements:    []*models.Movement{buy, sell},
	}
	require.NoError(t, store.CreateSignal(context.Background(), sig))
	return sig, buy, sell
}

func TestRunCycleFilledSellClosesSignal(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	r, store, exchange, notifier := testHarness(t, clock)
	sig, _, sell := seedSignal(t, store, clock.Now().Add(-time.Hour))

	exchange.QueuePoll("ord-sell", &models.OrderResponse{
		OrderID:     "ord-sell",
		Symbol:      "BTCUSDT",
		Status:      models.OrderStatusFilled,
		ExecutedQty: sell.Quantity,
		Price:       sell.Price,
	}, nil)

	r.RunCycle(context.Background())

	got, err := store.GetSignal(context.Background(), sig.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SignalMatched, got.Status)
	assert.Equal(t, models.MovementFilled, sell.Status)
	require.NotNil(t, got.ClosedAt)
	assert.InDelta(t, 106.893-105, got.TotalProfit, 1e-9)

	reports := notifier.Reports()
	require.Len(t, reports, 1)
	assert.Equal(t, sig.ID, reports[0].SignalID)
}

func TestRunCycleClosureIsIdempotent(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	r, store, exchange, notifier := testHarness(t, clock)
	sig, _, sell := seedSignal(t, store, clock.Now().Add(-time.Hour))

	exchange.QueuePoll("ord-sell", &models.OrderResponse{
		OrderID: "ord-sell", Status: models.OrderStatusFilled,
		ExecutedQty: sell.Quantity, Price: sell.Price,
	}, nil)

	r.RunCycle(context.Background())
	// second cycle sees no pending movements and must not re-close
	r.RunCycle(context.Background())

	got, _ := store.GetSignal(context.Background(), sig.ID)
	assert.Equal(t, models.SignalMatched, got.Status)
	assert.Len(t, notifier.Reports(), 1)
}

func TestRunCycleClockSkewResyncsAndRetriesOnce(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	r, store, exchange, _ := testHarness(t, clock)
	_, _, sell := seedSignal(t, store, clock.Now().Add(-time.Hour))

	exchange.QueuePoll("ord-sell", nil, domrepo.ErrClockSkew)
	exchange.QueuePoll("ord-sell", &models.OrderResponse{
		OrderID: "ord-sell", Status: models.OrderStatusFilled,
		ExecutedQty: sell.Quantity, Price: sell.Price,
	}, nil)

	r.RunCycle(context.Background())

	assert.Equal(t, 1, exchange.SyncCalls)
	assert.Equal(t, 2, exchange.PollCount["ord-sell"])
	assert.Equal(t, models.MovementFilled, sell.Status)
}

func TestRunCycleTerminalNonFillFailsMovement(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	r, store, exchange, notifier := testHarness(t, clock)
	sig, _, sell := seedSignal(t, store, clock.Now().Add(-time.Hour))

	exchange.QueuePoll("ord-sell", &models.OrderResponse{
		OrderID: "ord-sell", Status: models.OrderStatusCanceled,
	}, nil)

	r.RunCycle(context.Background())

	assert.Equal(t, models.MovementFailed, sell.Status)
	got, _ := store.GetSignal(context.Background(), sig.ID)
	assert.Equal(t, models.SignalActive, got.Status)
	assert.Empty(t, notifier.Reports())
}

func TestRunCycleAttemptCeilingParksMovement(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	r, store, exchange, _ := testHarness(t, clock)
	_, _, sell := seedSignal(t, store, clock.Now().Add(-time.Hour))

	for i := 0; i < 5; i++ {
		exchange.QueuePoll("ord-sell", nil, errors.New("transient"))
	}

	for i := 0; i < 5; i++ {
		r.RunCycle(context.Background())
	}

	// MaxAttempts is 3; cycles after that must not touch the exchange.
	assert.Equal(t, 3, exchange.PollCount["ord-sell"])
	assert.Equal(t, models.MovementPending, sell.Status)
}

func TestSweepOrphansFailsStaleUnsubmittedMovements(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	r, store, _, _ := testHarness(t, clock)

	stale := &models.Movement{
		ID:        "mov-stale",
		SignalID:  "sig-x",
		Type:      models.MovementBuy,
		Status:    models.MovementPending,
		CreatedAt: clock.Now().Add(-10 * time.Minute),
	}
	fresh := &models.Movement{
		ID:        "mov-fresh",
		SignalID:  "sig-x",
		Type:      models.MovementBuy,
		Status:    models.MovementPending,
		CreatedAt: clock.Now().Add(-time.Minute),
	}
	require.NoError(t, store.CreateMovement(context.Background(), stale))
	require.NoError(t, store.CreateMovement(context.Background(), fresh))

	r.RunCycle(context.Background())

	assert.Equal(t, models.MovementFailed, stale.Status)
	assert.Equal(t, models.MovementPending, fresh.Status)
}
