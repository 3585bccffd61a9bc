// Package repository provides the persistent implementations of the
// domain repository contracts: PostgreSQL for mutable trading state,
// ClickHouse for the append-only candle archive, Kafka for report
// delivery.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"VolBot/internal/domain/models"
	domrepo "VolBot/internal/domain/repository"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id            TEXT PRIMARY KEY,
		email              TEXT NOT NULL DEFAULT '',
		capital_per_trade  DOUBLE PRECISION NOT NULL,
		profit_margin      DOUBLE PRECISION NOT NULL,
		sell_margin        DOUBLE PRECISION NOT NULL,
		max_active_signals INT NOT NULL DEFAULT 1,
		max_daily_signals  INT NOT NULL DEFAULT 300,
		daily_signal_count INT NOT NULL DEFAULT 0,
		last_reset_date    TEXT NOT NULL DEFAULT '',
		active             BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS signals (
		id               UUID PRIMARY KEY,
		user_id          TEXT NOT NULL,
		symbol           TEXT NOT NULL,
		status           TEXT NOT NULL,
		initial_price    DOUBLE PRECISION NOT NULL,
		final_price      DOUBLE PRECISION NOT NULL DEFAULT 0,
		stop_loss        DOUBLE PRECISION NOT NULL DEFAULT 0,
		take_profit      DOUBLE PRECISION NOT NULL DEFAULT 0,
		indicators       JSONB NOT NULL DEFAULT '{}',
		total_profit     DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_commission DOUBLE PRECISION NOT NULL DEFAULT 0,
		net_profit       DOUBLE PRECISION NOT NULL DEFAULT 0,
		paper_trading    BOOLEAN NOT NULL DEFAULT FALSE,
		created_at       TIMESTAMPTZ NOT NULL,
		closed_at        TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_user_status ON signals (user_id, status)`,
	`CREATE TABLE IF NOT EXISTS movements (
		id              UUID PRIMARY KEY,
		signal_id       UUID NOT NULL REFERENCES signals (id),
		type            TEXT NOT NULL,
		status          TEXT NOT NULL,
		price           DOUBLE PRECISION NOT NULL,
		quantity        DOUBLE PRECISION NOT NULL,
		total_amount    DOUBLE PRECISION NOT NULL,
		commission      DOUBLE PRECISION NOT NULL,
		net_amount      DOUBLE PRECISION NOT NULL,
		order_id        TEXT NOT NULL DEFAULT '',
		client_order_id TEXT NOT NULL DEFAULT '',
		order_response  JSONB,
		order_error     TEXT NOT NULL DEFAULT '',
		executed_at     TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_movements_signal ON movements (signal_id)`,
	`CREATE INDEX IF NOT EXISTS idx_movements_status ON movements (status)`,
}

// terminal movement statuses; transitions away from them are silently
// ignored to keep updates monotone under concurrent reconciliation.
const terminalStatuses = `('filled', 'cancelled', 'failed')`

// SignalStore is the PostgreSQL implementation of the signal store.
type SignalStore struct {
	db *pgxpool.Pool
}

func NewSignalStore(db *pgxpool.Pool) *SignalStore {
	return &SignalStore{db: db}
}

var _ domrepo.SignalStore = (*SignalStore)(nil)

// InitSchema creates tables and indexes when missing. Idempotent.
func (s *SignalStore) InitSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *SignalStore) CreateSignal(ctx context.Context, sig *models.Signal) error {
	indicators, err := json.Marshal(sig.Indicators)
	if err != nil {
		return fmt.Errorf("marshal indicators: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO signals (
			id, user_id, symbol, status, initial_price, final_price,
			stop_loss, take_profit, indicators, total_profit,
			total_commission, net_profit, paper_trading, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		sig.ID, sig.UserID, sig.Symbol, sig.Status, sig.InitialPrice, sig.FinalPrice,
		sig.StopLoss, sig.TakeProfit, indicators, sig.TotalProfit,
		sig.TotalCommission, sig.NetProfit, sig.PaperTrading, sig.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

// UpdateSignalClosure persists the economic outcome. Only ACTIVE signals
// are touched, so a concurrent duplicate close is a harmless no-op.
func (s *SignalStore) UpdateSignalClosure(ctx context.Context, sig *models.Signal) error {
	_, err := s.db.Exec(ctx, `
		UPDATE signals
		SET status = $2, final_price = $3, total_profit = $4,
		    total_commission = $5, net_profit = $6, closed_at = $7
		WHERE id = $1 AND status = 'active'`,
		sig.ID, sig.Status, sig.FinalPrice, sig.TotalProfit,
		sig.TotalCommission, sig.NetProfit, sig.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("close signal %s: %w", sig.ID, err)
	}
	return nil
}

const signalColumns = `
	id, user_id, symbol, status, initial_price, final_price,
	stop_loss, take_profit, indicators, total_profit,
	total_commission, net_profit, paper_trading, created_at, closed_at`

func (s *SignalStore) GetSignal(ctx context.Context, id string) (*models.Signal, error) {
	row := s.db.QueryRow(ctx, `SELECT`+signalColumns+` FROM signals WHERE id = $1`, id)
	sig, err := scanSignal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domrepo.ErrNotFound
		}
		return nil, fmt.Errorf("get signal %s: %w", id, err)
	}
	if err := s.attachMovements(ctx, []*models.Signal{sig}); err != nil {
		return nil, err
	}
	return sig, nil
}

func (s *SignalStore) ActiveSignals(ctx context.Context, userID string) ([]*models.Signal, error) {
	rows, err := s.db.Query(ctx, `
		SELECT`+signalColumns+`
		FROM signals
		WHERE user_id = $1 AND status = 'active'
		ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("active signals for %s: %w", userID, err)
	}
	defer rows.Close()

	signals, err := scanSignals(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachMovements(ctx, signals); err != nil {
		return nil, err
	}
	return signals, nil
}

func (s *SignalStore) SignalHistory(ctx context.Context, limit int) ([]*models.Signal, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT`+signalColumns+`
		FROM signals
		WHERE status <> 'active'
		ORDER BY closed_at DESC NULLS LAST
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("signal history: %w", err)
	}
	defer rows.Close()

	signals, err := scanSignals(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachMovements(ctx, signals); err != nil {
		return nil, err
	}
	return signals, nil
}

func (s *SignalStore) Statistics(ctx context.Context) (*domrepo.SignalStatistics, error) {
	stats := &domrepo.SignalStatistics{}
	err := s.db.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'active'),
			COUNT(*) FILTER (WHERE status = 'matched'),
			COALESCE(SUM(total_profit) FILTER (WHERE status = 'matched'), 0),
			COALESCE(SUM(total_commission) FILTER (WHERE status = 'matched'), 0),
			COALESCE(SUM(net_profit) FILTER (WHERE status = 'matched'), 0),
			COALESCE(AVG(net_profit) FILTER (WHERE status = 'matched' AND net_profit > 0), 0)
		FROM signals`).Scan(
		&stats.TotalSignals, &stats.ActiveSignals, &stats.MatchedSignals,
		&stats.TotalProfit, &stats.TotalCommission, &stats.TotalNetProfit,
		&stats.AvgProfitPerWin,
	)
	if err != nil {
		return nil, fmt.Errorf("signal statistics: %w", err)
	}

	closed := stats.TotalSignals - stats.ActiveSignals
	if closed > 0 {
		var wins int
		err = s.db.QueryRow(ctx,
			`SELECT COUNT(*) FROM signals WHERE status = 'matched' AND net_profit > 0`,
		).Scan(&wins)
		if err != nil {
			return nil, fmt.Errorf("signal statistics wins: %w", err)
		}
		stats.SuccessRate = float64(wins) / float64(closed) * 100
	}
	return stats, nil
}

func (s *SignalStore) CreateMovement(ctx context.Context, m *models.Movement) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO movements (
			id, signal_id, type, status, price, quantity, total_amount,
			commission, net_amount, order_id, client_order_id,
			order_response, order_error, executed_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		m.ID, m.SignalID, m.Type, m.Status, m.Price, m.Quantity, m.TotalAmount,
		m.Commission, m.NetAmount, m.OrderID, m.ClientOrderID,
		nullableJSON(m.OrderResponse), m.OrderError, m.ExecutedAt, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert movement: %w", err)
	}
	return nil
}

// UpdateMovementStatus advances a movement. Rows already in a terminal
// status are left untouched, which makes duplicate fill notifications and
// racing reconcile cycles harmless.
func (s *SignalStore) UpdateMovementStatus(ctx context.Context, id string, status models.MovementStatus, order *models.OrderResponse) error {
	var (
		executedAt *time.Time
		raw        []byte
	)
	if status == models.MovementFilled {
		now := time.Now()
		executedAt = &now
	}
	if order != nil {
		raw = order.Raw
	}

	_, err := s.db.Exec(ctx, `
		UPDATE movements
		SET status = $2,
		    order_id = COALESCE(NULLIF($3, ''), order_id),
		    order_response = COALESCE($4, order_response),
		    executed_at = COALESCE($5, executed_at)
		WHERE id = $1 AND status NOT IN `+terminalStatuses,
		id, status, orderID(order), nullableJSON(raw), executedAt,
	)
	if err != nil {
		return fmt.Errorf("update movement %s: %w", id, err)
	}
	return nil
}

func (s *SignalStore) SetMovementOrder(ctx context.Context, id string, order *models.OrderResponse) error {
	_, err := s.db.Exec(ctx, `
		UPDATE movements
		SET order_id = $2, client_order_id = $3, order_response = $4
		WHERE id = $1`,
		id, order.OrderID, order.ClientOrderID, nullableJSON(order.Raw),
	)
	if err != nil {
		return fmt.Errorf("set movement order %s: %w", id, err)
	}
	return nil
}

func (s *SignalStore) SetMovementError(ctx context.Context, id string, orderErr string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE movements SET order_error = $2 WHERE id = $1`, id, orderErr)
	if err != nil {
		return fmt.Errorf("set movement error %s: %w", id, err)
	}
	return nil
}

func (s *SignalStore) PendingMovementsWithOrder(ctx context.Context) ([]*models.Movement, error) {
	rows, err := s.db.Query(ctx, `
		SELECT`+movementColumns+`
		FROM movements
		WHERE status = 'pending' AND order_id <> ''
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("pending movements: %w", err)
	}
	defer rows.Close()
	return scanMovements(rows)
}

func (s *SignalStore) OrphanedPendingMovements(ctx context.Context, olderThan time.Time) ([]*models.Movement, error) {
	rows, err := s.db.Query(ctx, `
		SELECT`+movementColumns+`
		FROM movements
		WHERE status = 'pending' AND order_id = '' AND created_at < $1
		ORDER BY created_at`, olderThan)
	if err != nil {
		return nil, fmt.Errorf("orphaned movements: %w", err)
	}
	defer rows.Close()
	return scanMovements(rows)
}

const userColumns = `
	user_id, email, capital_per_trade, profit_margin, sell_margin,
	max_active_signals, max_daily_signals, daily_signal_count, last_reset_date`

func (s *SignalStore) ActiveUsers(ctx context.Context) ([]*models.UserConfig, error) {
	rows, err := s.db.Query(ctx,
		`SELECT`+userColumns+` FROM users WHERE active ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("active users: %w", err)
	}
	defer rows.Close()

	var users []*models.UserConfig
	for rows.Next() {
		u := &models.UserConfig{}
		if err := rows.Scan(
			&u.UserID, &u.Email, &u.CapitalPerTrade, &u.ProfitMargin, &u.SellMargin,
			&u.MaxActiveSignals, &u.MaxDailySignals, &u.DailySignalCount, &u.LastResetDate,
		); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		normalizeUser(u)
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SignalStore) GetUser(ctx context.Context, id string) (*models.UserConfig, error) {
	u := &models.UserConfig{}
	err := s.db.QueryRow(ctx,
		`SELECT`+userColumns+` FROM users WHERE user_id = $1`, id).Scan(
		&u.UserID, &u.Email, &u.CapitalPerTrade, &u.ProfitMargin, &u.SellMargin,
		&u.MaxActiveSignals, &u.MaxDailySignals, &u.DailySignalCount, &u.LastResetDate,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domrepo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	normalizeUser(u)
	return u, nil
}

// attachMovements loads and distributes the movements of the given signals.
func (s *SignalStore) attachMovements(ctx context.Context, signals []*models.Signal) error {
	if len(signals) == 0 {
		return nil
	}
	ids := make([]string, len(signals))
	byID := make(map[string]*models.Signal, len(signals))
	for i, sig := range signals {
		ids[i] = sig.ID
		byID[sig.ID] = sig
	}

	rows, err := s.db.Query(ctx, `
		SELECT`+movementColumns+`
		FROM movements
		WHERE signal_id = ANY($1)
		ORDER BY created_at`, ids)
	if err != nil {
		return fmt.Errorf("movements for signals: %w", err)
	}
	defer rows.Close()

	movements, err := scanMovements(rows)
	if err != nil {
		return err
	}
	for _, m := range movements {
		if sig, ok := byID[m.SignalID]; ok {
			sig.Movements = append(sig.Movements, m)
		}
	}
	return nil
}

const movementColumns = `
	id, signal_id, type, status, price, quantity, total_amount,
	commission, net_amount, order_id, client_order_id,
	order_response, order_error, executed_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSignal(row rowScanner) (*models.Signal, error) {
	sig := &models.Signal{}
	var indicators []byte
	if err := row.Scan(
		&sig.ID, &sig.UserID, &sig.Symbol, &sig.Status, &sig.InitialPrice, &sig.FinalPrice,
		&sig.StopLoss, &sig.TakeProfit, &indicators, &sig.TotalProfit,
		&sig.TotalCommission, &sig.NetProfit, &sig.PaperTrading, &sig.CreatedAt, &sig.ClosedAt,
	); err != nil {
		return nil, err
	}
	if len(indicators) > 0 {
		if err := json.Unmarshal(indicators, &sig.Indicators); err != nil {
			return nil, fmt.Errorf("unmarshal indicators: %w", err)
		}
	}
	normalizeSignal(sig)
	return sig, nil
}

func scanSignals(rows pgx.Rows) ([]*models.Signal, error) {
	var out []*models.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

func scanMovements(rows pgx.Rows) ([]*models.Movement, error) {
	var out []*models.Movement
	for rows.Next() {
		m := &models.Movement{}
		if err := rows.Scan(
			&m.ID, &m.SignalID, &m.Type, &m.Status, &m.Price, &m.Quantity, &m.TotalAmount,
			&m.Commission, &m.NetAmount, &m.OrderID, &m.ClientOrderID,
			&m.OrderResponse, &m.OrderError, &m.ExecutedAt, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan movement: %w", err)
		}
		normalizeMovement(m)
		out = append(out, m)
	}
	return out, rows.Err()
}

// normalize* replace any non-finite numeric field with zero at the load
// boundary so downstream arithmetic never sees NaN or Inf.
func normalizeSignal(sig *models.Signal) {
	sig.InitialPrice = finiteOrZero(sig.InitialPrice)
	sig.FinalPrice = finiteOrZero(sig.FinalPrice)
	sig.StopLoss = finiteOrZero(sig.StopLoss)
	sig.TakeProfit = finiteOrZero(sig.TakeProfit)
	sig.TotalProfit = finiteOrZero(sig.TotalProfit)
	sig.TotalCommission = finiteOrZero(sig.TotalCommission)
	sig.NetProfit = finiteOrZero(sig.NetProfit)
}

func normalizeMovement(m *models.Movement) {
	m.Price = finiteOrZero(m.Price)
	m.Quantity = finiteOrZero(m.Quantity)
	m.TotalAmount = finiteOrZero(m.TotalAmount)
	m.Commission = finiteOrZero(m.Commission)
	m.NetAmount = finiteOrZero(m.NetAmount)
}

func normalizeUser(u *models.UserConfig) {
	u.CapitalPerTrade = finiteOrZero(u.CapitalPerTrade)
	u.ProfitMargin = finiteOrZero(u.ProfitMargin)
	u.SellMargin = finiteOrZero(u.SellMargin)
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func nullableJSON(raw []byte) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func orderID(order *models.OrderResponse) string {
	if order == nil {
		return ""
	}
	return order.OrderID
}
