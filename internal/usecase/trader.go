package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"VolBot/internal/domain/models"
	domrepo "VolBot/internal/domain/repository"
	"VolBot/internal/strategy"
	"VolBot/pkg/logger"
)

// ErrMaxExposure is returned when a user already holds the configured
// maximum of open positions; no signal is created.
var ErrMaxExposure = errors.New("trader: max active signals reached")

// Trader executes the decision engine's plans for one user at a time:
// persisting signals and movements, submitting orders, and auto-filling in
// paper mode. All state it touches is per-user, so concurrent use across
// different users is safe.
type Trader struct {
	engine    *strategy.Engine
	store     domrepo.SignalStore
	exchange  domrepo.Exchange
	lifecycle *Lifecycle
	metrics   domrepo.Metrics
	log       *logger.Logger
}

func NewTrader(engine *strategy.Engine, store domrepo.SignalStore, exchange domrepo.Exchange, lifecycle *Lifecycle, metrics domrepo.Metrics, log *logger.Logger) *Trader {
	return &Trader{
		engine:    engine,
		store:     store,
		exchange:  exchange,
		lifecycle: lifecycle,
		metrics:   metrics,
		log:       log,
	}
}

// Engine exposes the decision engine so collaborators can read its
// policy configuration.
func (t *Trader) Engine() *strategy.Engine { return t.engine }

// EvaluateUser runs one tick of entry and exit evaluation for a user. A
// returned error means the whole user evaluation failed; per-position
// failures are contained and logged.
func (t *Trader) EvaluateUser(ctx context.Context, user *models.UserConfig, candle models.Candle, ind *strategy.IndicatorSet) error {
	active, err := t.store.ActiveSignals(ctx, user.UserID)
	if err != nil {
		return fmt.Errorf("active signals for %s: %w", user.UserID, err)
	}

	// Self-heal signals stuck ACTIVE with both sides filled.
	for _, sig := range active {
		if sig.FilledBuy() != nil && sig.FilledSell() != nil {
			t.lifecycle.SelfHeal(ctx, sig)
		}
	}

	openPositions := 0
	for _, sig := range active {
		if sig.OpenPosition() {
			openPositions++
		}
	}

	// Users without an explicit daily cap inherit the engine default.
	dailyCap := user.MaxDailySignals
	if dailyCap <= 0 {
		dailyCap = t.engine.Config().MaxDailySignals
	}

	if user.DailySignalCount < dailyCap && openPositions < user.MaxActiveSignals && len(active) < user.MaxActiveSignals {
		if plan := t.engine.EvaluateEntry(user, candle, ind); plan != nil {
			if err := t.openPosition(ctx, user, plan); err != nil {
				t.log.Error("entry failed",
					logger.String("user_id", user.UserID), logger.Error(err))
			}
		}
	}

	// Exits are evaluated even when the daily entry cap is reached.
	for _, sig := range active {
		if !sig.OpenPosition() || sig.PendingSell() != nil {
			continue
		}
		if err := t.evaluateExit(ctx, user, sig, candle, ind); err != nil {
			t.log.Error("exit evaluation failed",
				logger.String("user_id", user.UserID),
				logger.String("signal_id", sig.ID),
				logger.Error(err))
		}
	}

	return nil
}

// EnforceExposure refuses a new entry for a user already at the open
// position cap. Exported for callers that pre-check before evaluation.
func (t *Trader) EnforceExposure(ctx context.Context, user *models.UserConfig) error {
	active, err := t.store.ActiveSignals(ctx, user.UserID)
	if err != nil {
		return err
	}
	open := 0
	for _, sig := range active {
		if sig.OpenPosition() {
			open++
		}
	}
	if open >= user.MaxActiveSignals {
		return ErrMaxExposure
	}
	return nil
}

func (t *Trader) openPosition(ctx context.Context, user *models.UserConfig, plan *strategy.EntryPlan) error {
	cfg := t.engine.Config()

	signal := &models.Signal{
		ID:           uuid.NewString(),
		UserID:       user.UserID,
		Symbol:       cfg.Symbol,
		Status:       models.SignalActive,
		InitialPrice: plan.Price,
		StopLoss:     plan.StopLoss,
		TakeProfit:   plan.TakeProfit,
		Indicators:   plan.Snapshot,
		PaperTrading: cfg.PaperTrading,
		CreatedAt:    time.Now(),
	}
	if !signal.Validate() {
		t.metrics.RecordError("signal_nonfinite")
		return fmt.Errorf("signal for user %s has non-finite fields", user.UserID)
	}
	if err := t.store.CreateSignal(ctx, signal); err != nil {
		return fmt.Errorf("create signal: %w", err)
	}

	totalAmount := plan.Quantity * plan.Price
	commission := totalAmount * cfg.Commission
	movement := &models.Movement{
		ID:          uuid.NewString(),
		SignalID:    signal.ID,
		Type:        models.MovementBuy,
		Status:      models.MovementPending,
		Price:       plan.Price,
		Quantity:    plan.Quantity,
		TotalAmount: totalAmount,
		Commission:  commission,
		NetAmount:   totalAmount + commission,
		CreatedAt:   time.Now(),
	}
	if err := t.createMovement(ctx, user, movement); err != nil {
		return err
	}

	t.metrics.RecordSignalCreated(user.UserID, signal.Symbol)
	t.log.Info("buy signal created",
		logger.String("user_id", user.UserID),
		logger.String("signal_id", signal.ID),
		logger.Any("price", plan.Price),
		logger.Any("quantity", plan.Quantity))

	return t.execute(ctx, user, signal, movement, models.OrderRequest{
		Symbol:   signal.Symbol,
		Side:     models.OrderBuy,
		Type:     models.OrderMarket,
		Quantity: plan.Quantity,
	})
}

func (t *Trader) evaluateExit(ctx context.Context, user *models.UserConfig, signal *models.Signal, candle models.Candle, ind *strategy.IndicatorSet) error {
	plan := t.engine.SelectSellPolicy(user, signal, candle, ind)
	if candle.Close < plan.MinPrice {
		return nil
	}

	cfg := t.engine.Config()
	buy := signal.FilledBuy()
	if buy == nil {
		return nil
	}

	sellPrice := candle.Close
	if sellPrice < plan.MinPrice {
		sellPrice = plan.MinPrice
	}
	// The exchange keeps its commission in the base asset on the buy side.
	sellQty := t.engine.FormatQuantity(buy.Quantity * (1 - cfg.Commission))
	if sellQty <= 0 {
		return fmt.Errorf("sell quantity degenerate for signal %s", signal.ID)
	}

	totalAmount := sellPrice * sellQty
	commission := totalAmount * cfg.Commission
	movement := &models.Movement{
		ID:          uuid.NewString(),
		SignalID:    signal.ID,
		Type:        models.MovementSell,
		Status:      models.MovementPending,
		Price:       sellPrice,
		Quantity:    sellQty,
		TotalAmount: totalAmount,
		Commission:  commission,
		NetAmount:   totalAmount - commission,
		CreatedAt:   time.Now(),
	}
	if err := t.createMovement(ctx, user, movement); err != nil {
		return err
	}

	t.log.Info("sell movement created",
		logger.String("user_id", user.UserID),
		logger.String("signal_id", signal.ID),
		logger.String("policy", string(plan.Policy)),
		logger.Any("price", sellPrice))

	return t.execute(ctx, user, signal, movement, models.OrderRequest{
		Symbol:      signal.Symbol,
		Side:        models.OrderSell,
		Type:        models.OrderLimit,
		Quantity:    sellQty,
		Price:       sellPrice,
		TimeInForce: "GTC",
	})
}

func (t *Trader) createMovement(ctx context.Context, user *models.UserConfig, m *models.Movement) error {
	if !m.Validate() {
		t.metrics.RecordError("movement_nonfinite")
		return fmt.Errorf("movement for signal %s has non-finite fields", m.SignalID)
	}
	if err := t.store.CreateMovement(ctx, m); err != nil {
		return fmt.Errorf("create movement: %w", err)
	}
	user.DailySignalCount++
	t.metrics.RecordMovementStatus(string(m.Type), string(m.Status))
	return nil
}

// execute submits the order in live mode or auto-fills in paper mode. A
// clock-skew error gets one time resync and a single retry. Any other
// submission failure leaves the movement PENDING without an order id for
// the sweeper, except terminal rejections which fail it immediately.
func (t *Trader) execute(ctx context.Context, user *models.UserConfig, signal *models.Signal, m *models.Movement, req models.OrderRequest) error {
	if t.engine.Config().PaperTrading {
		fill := &models.OrderResponse{
			OrderID:     "paper-" + m.ID,
			Symbol:      req.Symbol,
			Status:      models.OrderStatusFilled,
			ExecutedQty: req.Quantity,
			Price:       m.Price,
		}
		return t.lifecycle.MovementFilled(ctx, m, fill)
	}

	resp, err := t.exchange.CreateOrder(ctx, user.UserID, req)
	if errors.Is(err, domrepo.ErrClockSkew) {
		t.log.Warn("clock skew on order submit, resyncing",
			logger.String("movement_id", m.ID))
		if syncErr := t.exchange.SyncTime(ctx, user.UserID); syncErr != nil {
			_ = t.store.SetMovementError(ctx, m.ID, syncErr.Error())
			return nil
		}
		resp, err = t.exchange.CreateOrder(ctx, user.UserID, req)
	}
	if err != nil {
		if domrepo.IsRejection(err) {
			t.captureRejection(ctx, user, m, err)
			return nil
		}
		t.log.Error("order submission failed, movement left for sweep",
			logger.String("movement_id", m.ID), logger.Error(err))
		_ = t.store.SetMovementError(ctx, m.ID, err.Error())
		return nil
	}

	if err := t.store.SetMovementOrder(ctx, m.ID, resp); err != nil {
		return fmt.Errorf("record order id: %w", err)
	}
	m.OrderID = resp.OrderID

	if resp.Status == models.OrderStatusFilled {
		return t.lifecycle.MovementFilled(ctx, m, resp)
	}
	return nil
}

// captureRejection marks the movement failed and grabs the balance so an
// operator can see why the exchange said no.
func (t *Trader) captureRejection(ctx context.Context, user *models.UserConfig, m *models.Movement, cause error) {
	balance, balErr := t.exchange.GetAccountBalance(ctx, user.UserID, "USDT")
	if balErr != nil {
		balance = -1
	}
	t.log.Error("order rejected by exchange",
		logger.String("user_id", user.UserID),
		logger.String("movement_id", m.ID),
		logger.Any("requested_amount", m.TotalAmount),
		logger.Any("usdt_balance", balance),
		logger.Error(cause))
	t.metrics.RecordError("order_rejected")
	if err := t.store.UpdateMovementStatus(ctx, m.ID, models.MovementFailed, nil); err != nil {
		t.log.Error("marking rejected movement failed", logger.String("movement_id", m.ID), logger.Error(err))
	}
	_ = t.store.SetMovementError(ctx, m.ID, cause.Error())
	t.metrics.RecordMovementStatus(string(m.Type), string(models.MovementFailed))
}
