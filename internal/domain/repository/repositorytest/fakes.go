// Package repositorytest provides in-memory fakes of the repository
// contracts for package tests.
package repositorytest

import (
	"context"
	"errors"
	"sync"
	"time"

	"VolBot/internal/domain/models"
	domrepo "VolBot/internal/domain/repository"
)

// Store is an in-memory SignalStore. Movement status transitions are
// monotone like the real store: terminal statuses never change.
type Store struct {
	mu        sync.Mutex
	signals   map[string]*models.Signal
	movements map[string]*models.Movement
	users     map[string]*models.UserConfig
}

func NewStore() *Store {
	return &Store{
		signals:   make(map[string]*models.Signal),
		movements: make(map[string]*models.Movement),
		users:     make(map[string]*models.UserConfig),
	}
}

func (s *Store) CreateSignal(_ context.Context, sig *models.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals[sig.ID] = sig
	for _, m := range sig.Movements {
		s.movements[m.ID] = m
	}
	return nil
}

func (s *Store) UpdateSignalClosure(_ context.Context, sig *models.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.signals[sig.ID]
	if !ok {
		return domrepo.ErrNotFound
	}
	stored.Status = sig.Status
	stored.FinalPrice = sig.FinalPrice
	stored.TotalProfit = sig.TotalProfit
	stored.TotalCommission = sig.TotalCommission
	stored.NetProfit = sig.NetProfit
	stored.ClosedAt = sig.ClosedAt
	return nil
}

func (s *Store) GetSignal(_ context.Context, id string) (*models.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[id]
	if !ok {
		return nil, domrepo.ErrNotFound
	}
	return sig, nil
}

func (s *Store) ActiveSignals(_ context.Context, userID string) ([]*models.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Signal
	for _, sig := range s.signals {
		if sig.UserID == userID && sig.Status == models.SignalActive {
			out = append(out, sig)
		}
	}
	return out, nil
}

func (s *Store) SignalHistory(_ context.Context, limit int) ([]*models.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Signal
	for _, sig := range s.signals {
		if sig.Status != models.SignalActive {
			out = append(out, sig)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) Statistics(context.Context) (*domrepo.SignalStatistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &domrepo.SignalStatistics{}
	for _, sig := range s.signals {
		stats.TotalSignals++
		switch sig.Status {
		case models.SignalActive:
			stats.ActiveSignals++
		case models.SignalMatched:
			stats.MatchedSignals++
			stats.TotalProfit += sig.TotalProfit
			stats.TotalCommission += sig.TotalCommission
			stats.TotalNetProfit += sig.NetProfit
		}
	}
	return stats, nil
}

func (s *Store) CreateMovement(_ context.Context, m *models.Movement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.movements[m.ID] = m
	if sig, ok := s.signals[m.SignalID]; ok {
		sig.Movements = append(sig.Movements, m)
	}
	return nil
}

func (s *Store) UpdateMovementStatus(_ context.Context, id string, status models.MovementStatus, order *models.OrderResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.movements[id]
	if !ok {
		return domrepo.ErrNotFound
	}
	if m.Status.Terminal() {
		return nil
	}
	m.Status = status
	if order != nil {
		m.OrderID = order.OrderID
		m.OrderResponse = order.Raw
	}
	if status == models.MovementFilled {
		now := time.Now()
		m.ExecutedAt = &now
	}
	return nil
}

func (s *Store) SetMovementOrder(_ context.Context, id string, order *models.OrderResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.movements[id]
	if !ok {
		return domrepo.ErrNotFound
	}
	m.OrderID = order.OrderID
	m.ClientOrderID = order.ClientOrderID
	m.OrderResponse = order.Raw
	return nil
}

func (s *Store) SetMovementError(_ context.Context, id string, orderErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.movements[id]
	if !ok {
		return domrepo.ErrNotFound
	}
	m.OrderError = orderErr
	return nil
}

func (s *Store) PendingMovementsWithOrder(context.Context) ([]*models.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Movement
	for _, m := range s.movements {
		if m.Status == models.MovementPending && m.OrderID != "" {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) OrphanedPendingMovements(_ context.Context, olderThan time.Time) ([]*models.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Movement
	for _, m := range s.movements {
		if m.Status == models.MovementPending && m.OrderID == "" && m.CreatedAt.Before(olderThan) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) ActiveUsers(context.Context) ([]*models.UserConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.UserConfig
	for _, u := range s.users {
		out = append(out, u)
	}
	return out, nil
}

func (s *Store) GetUser(_ context.Context, id string) (*models.UserConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, domrepo.ErrNotFound
	}
	return u, nil
}

// PutUser seeds the user table.
func (s *Store) PutUser(u *models.UserConfig) {
	s.mu.Lock()
	s.users[u.UserID] = u
	s.mu.Unlock()
}

// Movement looks a movement up directly for assertions.
func (s *Store) Movement(id string) *models.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.movements[id]
}

// PollResult scripts one GetOrderStatus outcome.
type PollResult struct {
	Resp *models.OrderResponse
	Err  error
}

// Exchange is a scriptable Exchange fake. Order-status polls consume
// queued results per order id; order creation consumes a single queue.
type Exchange struct {
	mu           sync.Mutex
	polls        map[string][]PollResult
	PollCount    map[string]int
	createQueue  []PollResult
	CreatedOrder []models.OrderRequest
	SyncCalls    int
	Balance      float64
}

func NewExchange() *Exchange {
	return &Exchange{
		polls:     make(map[string][]PollResult),
		PollCount: make(map[string]int),
	}
}

// QueuePoll scripts the next GetOrderStatus result for an order id.
func (e *Exchange) QueuePoll(orderID string, resp *models.OrderResponse, err error) {
	e.mu.Lock()
	e.polls[orderID] = append(e.polls[orderID], PollResult{resp, err})
	e.mu.Unlock()
}

// QueueCreate scripts the next CreateOrder result.
func (e *Exchange) QueueCreate(resp *models.OrderResponse, err error) {
	e.mu.Lock()
	e.createQueue = append(e.createQueue, PollResult{resp, err})
	e.mu.Unlock()
}

func (e *Exchange) CreateOrder(_ context.Context, _ string, req models.OrderRequest) (*models.OrderResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CreatedOrder = append(e.CreatedOrder, req)
	if len(e.createQueue) == 0 {
		return nil, errors.New("no scripted create response")
	}
	head := e.createQueue[0]
	e.createQueue = e.createQueue[1:]
	return head.Resp, head.Err
}

func (e *Exchange) GetOrderStatus(_ context.Context, _, _, orderID string) (*models.OrderResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.PollCount[orderID]++
	queued := e.polls[orderID]
	if len(queued) == 0 {
		return nil, errors.New("no scripted poll response")
	}
	head := queued[0]
	e.polls[orderID] = queued[1:]
	return head.Resp, head.Err
}

func (e *Exchange) GetAccountBalance(context.Context, string, string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Balance, nil
}

func (e *Exchange) GetServerTime(context.Context) (int64, error) {
	return time.Now().UnixMilli(), nil
}

func (e *Exchange) SyncTime(context.Context, string) error {
	e.mu.Lock()
	e.SyncCalls++
	e.mu.Unlock()
	return nil
}

// Notifier records every delivered report.
type Notifier struct {
	mu      sync.Mutex
	FailAll bool
	reports []*models.TradeReport
}

func (n *Notifier) SendTradeReport(_ context.Context, r *models.TradeReport) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.FailAll {
		return errors.New("notifier down")
	}
	n.reports = append(n.reports, r)
	return nil
}

func (n *Notifier) Close() error { return nil }

func (n *Notifier) Reports() []*models.TradeReport {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*models.TradeReport, len(n.reports))
	copy(out, n.reports)
	return out
}

// Metrics discards everything.
type Metrics struct{}

func (Metrics) RecordSignalCreated(string, string)  {}
func (Metrics) RecordMovementStatus(string, string) {}
func (Metrics) RecordReconcileAttempt(string)       {}
func (Metrics) RecordError(string)                  {}
func (Metrics) RecordLastPrice(string, float64)     {}
func (Metrics) RecordTickLatency(float64)           {}
