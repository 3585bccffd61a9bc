package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VolBot/internal/domain/models"
	"VolBot/internal/domain/repository/repositorytest"
	"VolBot/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	return log
}

func seedOpenSignal(t *testing.T, store *repositorytest.Store) (*models.Signal, *models.Movement) {
	t.Helper()
	buy := &models.Movement{
		ID:          "mov-buy",
		SignalID:    "sig-1",
		Type:        models.MovementBuy,
		Status:      models.MovementFilled,
		Price:       100,
		Quantity:    1,
		TotalAmount: 100,
		Commission:  0.1,
		NetAmount:   100.1,
		CreatedAt:   time.Now().Add(-time.Hour),
	}
	sig := &models.Signal{
		ID:           "sig-1",
		UserID:       "user-1",
		Symbol:       "BTCUSDT",
		Status:       models.SignalActive,
		InitialPrice: 100,
		CreatedAt:    time.Now().Add(-time.Hour),
		Movements:    []*models.Movement{buy},
	}
	require.NoError(t, store.CreateSignal(context.Background(), sig))
	return sig, buy
}

func pendingSell(price, qty float64) *models.Movement {
	total := price * qty
	return &models.Movement{
		ID:          "mov-sell",
		SignalID:    "sig-1",
		Type:        models.MovementSell,
		Status:      models.MovementPending,
		Price:       price,
		Quantity:    qty,
		TotalAmount: total,
		Commission:  total * 0.001,
		NetAmount:   total * 0.999,
		CreatedAt:   time.Now(),
	}
}

func TestMovementFilledClosesSignal(t *testing.T) {
	ctx := context.Background()
	store := repositorytest.NewStore()
	notifier := &repositorytest.Notifier{}
	lc := NewLifecycle(store, notifier, repositorytest.Metrics{}, testLogger(t))

	_, _ = seedOpenSignal(t, store)
	sell := pendingSell(108, 0.999)
	require.NoError(t, store.CreateMovement(ctx, sell))

	fill := &models.OrderResponse{
		OrderID:     "ord-sell",
		Status:      models.OrderStatusFilled,
		ExecutedQty: sell.Quantity,
		Price:       sell.Price,
	}
	require.NoError(t, lc.MovementFilled(ctx, sell, fill))

	got, err := store.GetSignal(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, models.SignalMatched, got.Status)
	require.NotNil(t, got.ClosedAt)
	assert.InDelta(t, 108, got.FinalPrice, 1e-9)
	// gross: 107.892 - 100, net: gross minus both commissions
	assert.InDelta(t, 7.892, got.TotalProfit, 1e-6)
	assert.InDelta(t, 7.892-0.1-sell.Commission, got.NetProfit, 1e-6)

	reports := notifier.Reports()
	require.Len(t, reports, 1)
	assert.Equal(t, "sig-1", reports[0].SignalID)
	assert.InDelta(t, 100, reports[0].BuyPrice, 1e-9)
	assert.InDelta(t, 8, reports[0].ProfitPercent, 1e-6)
	assert.Greater(t, reports[0].ROI, 0.0)
}

func TestClosureIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := repositorytest.NewStore()
	notifier := &repositorytest.Notifier{}
	lc := NewLifecycle(store, notifier, repositorytest.Metrics{}, testLogger(t))

	_, _ = seedOpenSignal(t, store)
	sell := pendingSell(108, 0.999)
	require.NoError(t, store.CreateMovement(ctx, sell))
	fill := &models.OrderResponse{OrderID: "ord-sell", Status: models.OrderStatusFilled}

	require.NoError(t, lc.MovementFilled(ctx, sell, fill))
	require.NoError(t, lc.MovementFilled(ctx, sell, fill))
	require.NoError(t, lc.CheckClosure(ctx, "sig-1"))

	got, err := store.GetSignal(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, models.SignalMatched, got.Status)
	assert.Len(t, notifier.Reports(), 1)
}

func TestClosureNeedsBothSides(t *testing.T) {
	ctx := context.Background()
	store := repositorytest.NewStore()
	notifier := &repositorytest.Notifier{}
	lc := NewLifecycle(store, notifier, repositorytest.Metrics{}, testLogger(t))

	_, _ = seedOpenSignal(t, store)

	require.NoError(t, lc.CheckClosure(ctx, "sig-1"))

	got, err := store.GetSignal(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, models.SignalActive, got.Status)
	assert.Empty(t, notifier.Reports())
}

func TestReportFailureDoesNotUndoClosure(t *testing.T) {
	ctx := context.Background()
	store := repositorytest.NewStore()
	notifier := &repositorytest.Notifier{FailAll: true}
	lc := NewLifecycle(store, notifier, repositorytest.Metrics{}, testLogger(t))

	_, _ = seedOpenSignal(t, store)
	sell := pendingSell(108, 0.999)
	require.NoError(t, store.CreateMovement(ctx, sell))

	fill := &models.OrderResponse{OrderID: "ord-sell", Status: models.OrderStatusFilled}
	require.NoError(t, lc.MovementFilled(ctx, sell, fill))

	got, err := store.GetSignal(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, models.SignalMatched, got.Status)
}

func TestNilNotifierSkipsReporting(t *testing.T) {
	ctx := context.Background()
	store := repositorytest.NewStore()
	lc := NewLifecycle(store, nil, repositorytest.Metrics{}, testLogger(t))

	_, _ = seedOpenSignal(t, store)
	sell := pendingSell(108, 0.999)
	require.NoError(t, store.CreateMovement(ctx, sell))

	fill := &models.OrderResponse{OrderID: "ord-sell", Status: models.OrderStatusFilled}
	require.NoError(t, lc.MovementFilled(ctx, sell, fill))

	got, err := store.GetSignal(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, models.SignalMatched, got.Status)
}
