package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"VolBot/internal/domain/models"
	domrepo "VolBot/internal/domain/repository"
	"VolBot/pkg/logger"
)

// Lifecycle owns the signal closure invariant: a signal becomes MATCHED
// exactly when it holds at least one filled buy and one filled sell. The
// check runs after every fill and is idempotent.
type Lifecycle struct {
	store    domrepo.SignalStore
	notifier domrepo.Notifier
	metrics  domrepo.Metrics
	log      *logger.Logger
}

func NewLifecycle(store domrepo.SignalStore, notifier domrepo.Notifier, metrics domrepo.Metrics, log *logger.Logger) *Lifecycle {
	return &Lifecycle{store: store, notifier: notifier, metrics: metrics, log: log}
}

// MovementFilled transitions a movement to FILLED, records the exchange
// response, and re-evaluates closure for the owning signal. Safe to call
// for a movement that already reached FILLED: the store keeps transitions
// monotone and the closure check is a no-op on matched signals.
func (l *Lifecycle) MovementFilled(ctx context.Context, m *models.Movement, order *models.OrderResponse) error {
	if err := l.store.UpdateMovementStatus(ctx, m.ID, models.MovementFilled, order); err != nil {
		return fmt.Errorf("movement %s fill: %w", m.ID, err)
	}
	l.metrics.RecordMovementStatus(string(m.Type), string(models.MovementFilled))
	return l.CheckClosure(ctx, m.SignalID)
}

// CheckClosure closes the signal if its movement set is economically
// complete. Re-running on an already-MATCHED signal is a no-op.
func (l *Lifecycle) CheckClosure(ctx context.Context, signalID string) error {
	signal, err := l.store.GetSignal(ctx, signalID)
	if err != nil {
		return fmt.Errorf("closure check %s: %w", signalID, err)
	}
	if signal.Status != models.SignalActive {
		return nil
	}

	var buys, sells []*models.Movement
	for _, m := range signal.Movements {
		if m.Status != models.MovementFilled {
			continue
		}
		switch m.Type {
		case models.MovementBuy:
			buys = append(buys, m)
		case models.MovementSell:
			sells = append(sells, m)
		}
	}
	if len(buys) == 0 || len(sells) == 0 {
		return nil
	}

	l.closeSignal(ctx, signal, buys, sells)
	return nil
}

// SelfHeal re-runs the closure check on a signal observed ACTIVE with both
// sides filled. The inconsistency is loud in the logs but never fatal.
func (l *Lifecycle) SelfHeal(ctx context.Context, signal *models.Signal) {
	l.log.Warn("signal has filled buy and sell but is still active, re-running closure",
		logger.String("signal_id", signal.ID))
	l.metrics.RecordError("closure_inconsistency")
	if err := l.CheckClosure(ctx, signal.ID); err != nil {
		l.log.Error("self-heal closure failed", logger.String("signal_id", signal.ID), logger.Error(err))
	}
}

func (l *Lifecycle) closeSignal(ctx context.Context, signal *models.Signal, buys, sells []*models.Movement) {
	totalSellAmount := sumFinite(sells, func(m *models.Movement) float64 { return m.TotalAmount })
	totalSellQty := sumFinite(sells, func(m *models.Movement) float64 { return m.Quantity })
	totalBuyAmount := sumFinite(buys, func(m *models.Movement) float64 { return m.TotalAmount })

	var avgSellPrice float64
	if totalSellQty > 0 {
		avgSellPrice = totalSellAmount / totalSellQty
	}

	var totalCommission float64
	for _, m := range append(append([]*models.Movement{}, buys...), sells...) {
		if !finite(m.Commission) {
			l.log.Warn("invalid commission on movement, counted as zero",
				logger.String("movement_id", m.ID))
			continue
		}
		totalCommission += m.Commission
	}

	totalProfit := totalSellAmount - totalBuyAmount
	netProfit := totalProfit - totalCommission

	for _, v := range []float64{avgSellPrice, totalCommission, totalProfit, netProfit, totalSellAmount, totalBuyAmount} {
		if !finite(v) {
			l.log.Error("non-finite closure computation, aborting close",
				logger.String("signal_id", signal.ID))
			l.metrics.RecordError("closure_nonfinite")
			return
		}
	}

	now := time.Now()
	signal.Status = models.SignalMatched
	signal.FinalPrice = avgSellPrice
	signal.TotalProfit = totalProfit
	signal.TotalCommission = totalCommission
	signal.NetProfit = netProfit
	signal.ClosedAt = &now

	if err := l.store.UpdateSignalClosure(ctx, signal); err != nil {
		l.log.Error("persisting signal closure failed",
			logger.String("signal_id", signal.ID), logger.Error(err))
		return
	}

	l.log.Info("signal closed",
		logger.String("signal_id", signal.ID),
		logger.Any("gross_profit", totalProfit),
		logger.Any("net_profit", netProfit))

	l.sendReport(ctx, signal, buys, sells, totalBuyAmount, totalSellAmount, avgSellPrice)
}

// sendReport assembles and publishes the trade report. Best-effort: any
// failure is logged and swallowed, trading state is already final.
func (l *Lifecycle) sendReport(ctx context.Context, signal *models.Signal, buys, sells []*models.Movement, totalBuy, totalSell, avgSellPrice float64) {
	if l.notifier == nil {
		return
	}

	var avgBuyPrice float64
	for _, m := range buys {
		avgBuyPrice += m.Price
	}
	avgBuyPrice /= float64(len(buys))

	totalQty := sumFinite(buys, func(m *models.Movement) float64 { return m.Quantity })
	if totalQty <= 0 && len(buys) > 0 {
		totalQty = buys[0].Quantity
	}

	var profitPercent, roi float64
	if avgBuyPrice > 0 {
		profitPercent = (avgSellPrice - avgBuyPrice) / avgBuyPrice * 100
	}
	if totalBuy > 0 {
		roi = signal.NetProfit / totalBuy * 100
	}

	report := &models.TradeReport{
		SignalID:        signal.ID,
		Symbol:          signal.Symbol,
		BuyPrice:        avgBuyPrice,
		SellPrice:       avgSellPrice,
		Quantity:        totalQty,
		TotalBuyAmount:  totalBuy,
		TotalSellAmount: totalSell,
		GrossProfit:     signal.TotalProfit,
		TotalCommission: signal.TotalCommission,
		NetProfit:       signal.NetProfit,
		ProfitPercent:   profitPercent,
		ROI:             roi,
		Duration:        formatDuration(signal.ClosedAt.Sub(signal.CreatedAt)),
		PaperTrading:    signal.PaperTrading,
	}

	if err := l.notifier.SendTradeReport(ctx, report); err != nil {
		l.log.Warn("trade report delivery failed", logger.String("signal_id", signal.ID), logger.Error(err))
		l.metrics.RecordError("notify")
	}
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

func sumFinite(ms []*models.Movement, f func(*models.Movement) float64) float64 {
	var sum float64
	for _, m := range ms {
		v := f(m)
		if finite(v) {
			sum += v
		}
	}
	return sum
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
