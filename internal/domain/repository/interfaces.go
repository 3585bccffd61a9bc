package repository

import (
	"context"
	"time"

	"VolBot/internal/domain/models"
)

// MarketStream delivers closed candles from the exchange feed.
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Candle, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// Exchange is the narrow order-execution surface. Implementations validate
// and normalize exchange payloads at the boundary; callers never see raw
// response shapes.
type Exchange interface {
	CreateOrder(ctx context.Context, userID string, req models.OrderRequest) (*models.OrderResponse, error)
	GetOrderStatus(ctx context.Context, userID, symbol, orderID string) (*models.OrderResponse, error)
	GetAccountBalance(ctx context.Context, userID, asset string) (float64, error)
	GetServerTime(ctx context.Context) (int64, error)
	SyncTime(ctx context.Context, userID string) error
}

// SignalStore persists signals, movements and user configs.
type SignalStore interface {
	CreateSignal(ctx context.Context, s *models.Signal) error
	UpdateSignalClosure(ctx context.Context, s *models.Signal) error
	GetSignal(ctx context.Context, id string) (*models.Signal, error)
	ActiveSignals(ctx context.Context, userID string) ([]*models.Signal, error)
	SignalHistory(ctx context.Context, limit int) ([]*models.Signal, error)
	Statistics(ctx context.Context) (*SignalStatistics, error)

	CreateMovement(ctx context.Context, m *models.Movement) error
	UpdateMovementStatus(ctx context.Context, id string, status models.MovementStatus, order *models.OrderResponse) error
	SetMovementOrder(ctx context.Context, id string, order *models.OrderResponse) error
	SetMovementError(ctx context.Context, id string, orderErr string) error
	PendingMovementsWithOrder(ctx context.Context) ([]*models.Movement, error)
	OrphanedPendingMovements(ctx context.Context, olderThan time.Time) ([]*models.Movement, error)

	ActiveUsers(ctx context.Context) ([]*models.UserConfig, error)
	GetUser(ctx context.Context, id string) (*models.UserConfig, error)
}

// SignalStatistics aggregates closed-signal economics for the API.
type SignalStatistics struct {
	TotalSignals    int     `json:"totalSignals"`
	ActiveSignals   int     `json:"activeSignals"`
	MatchedSignals  int     `json:"matchedSignals"`
	TotalProfit     float64 `json:"totalProfit"`
	TotalCommission float64 `json:"totalCommission"`
	TotalNetProfit  float64 `json:"totalNetProfit"`
	SuccessRate     float64 `json:"successRate"`
	AvgProfitPerWin float64 `json:"avgProfitPerSignal"`
}

// CandleArchive stores every accepted candle for later range queries.
// Append-only; failures are non-fatal to the tick path.
type CandleArchive interface {
	Store(ctx context.Context, symbol string, c *models.Candle) error
	Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.Candle, error)
	Health(ctx context.Context) error
	Close() error
}

// Notifier delivers trade reports. Best-effort by contract.
type Notifier interface {
	SendTradeReport(ctx context.Context, r *models.TradeReport) error
	Close() error
}

// Metrics records operational counters for the trading pipeline.
type Metrics interface {
	RecordSignalCreated(userID, symbol string)
	RecordMovementStatus(mtype, status string)
	RecordReconcileAttempt(outcome string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordTickLatency(seconds float64)
}
