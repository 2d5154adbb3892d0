package services

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	gateway "github.com/nimasrn/voucher-gateway/internal/gateways"
	"github.com/nimasrn/voucher-gateway/internal/model"
	"github.com/nimasrn/voucher-gateway/internal/repository"
	"github.com/stretchr/testify/mock"
)

// memoryStore mirrors the conditional settle of the gorm repository.
type memoryStore struct {
	mu           sync.Mutex
	rows         map[string]model.Transaction
	beforeSettle func(id string)
	createErr    error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: make(map[string]model.Transaction)}
}

func (m *memoryStore) Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	if _, ok := m.rows[txn.ID]; ok {
		return nil, repository.ErrDuplicateTransaction
	}
	m.rows[txn.ID] = *txn
	out := *txn
	return &out, nil
}

func (m *memoryStore) Get(ctx context.Context, id string) (*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrTransactionNotFound
	}
	return &row, nil
}

func (m *memoryStore) List(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Transaction
	for _, row := range m.rows {
		row := row
		out = append(out, &row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memoryStore) Settle(ctx context.Context, id string, s model.Settlement) (bool, error) {
	if m.beforeSettle != nil {
		m.beforeSettle(id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.Status != model.StatusPending {
		return false, nil
	}
	row.Status = s.Status
	row.SerialNumber = s.SerialNumber
	row.FailureReason = s.FailureReason
	row.Timestamp = s.SettledAt
	if s.ProviderTransactionID != "" {
		row.ProviderTransactionID = s.ProviderTransactionID
	}
	m.rows[id] = row
	return true, nil
}

func (m *memoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return repository.ErrTransactionNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *memoryStore) ProfitSummary(ctx context.Context, from, to time.Time) (*model.ProfitReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &model.ProfitReport{From: from, To: to}
	for _, row := range m.rows {
		if row.Status != model.StatusSukses || row.Timestamp.Before(from) || row.Timestamp.After(to) {
			continue
		}
		r.Count++
		r.Revenue += row.SellingPrice
		r.Cost += row.CostPrice
	}
	r.Profit = r.Revenue - r.Cost
	return r, nil
}

func (m *memoryStore) put(txn model.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[txn.ID] = txn
}

func (m *memoryStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// scriptedAdapter answers purchases through fn and records every ref id.
type scriptedAdapter struct {
	provider model.Provider
	fn       func(req gateway.PurchaseRequest) (*gateway.Outcome, error)
	calls    atomic.Int32
	mu       sync.Mutex
	requests []gateway.PurchaseRequest
}

func (a *scriptedAdapter) Provider() model.Provider { return a.provider }

func (a *scriptedAdapter) Purchase(ctx context.Context, req gateway.PurchaseRequest) (*gateway.Outcome, error) {
	a.calls.Add(1)
	a.mu.Lock()
	a.requests = append(a.requests, req)
	a.mu.Unlock()
	return a.fn(req)
}

func (a *scriptedAdapter) refIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, len(a.requests))
	for i, r := range a.requests {
		ids[i] = r.RefID
	}
	return ids
}

func answer(status gateway.OutcomeStatus, message, sn string) func(gateway.PurchaseRequest) (*gateway.Outcome, error) {
	return func(gateway.PurchaseRequest) (*gateway.Outcome, error) {
		return &gateway.Outcome{
			IsSuccess:    status == gateway.OutcomeSukses,
			Status:       status,
			Message:      message,
			SerialNumber: sn,
		}, nil
	}
}

type MockPinVerifier struct {
	mock.Mock
}

func (m *MockPinVerifier) Verify(ctx context.Context, username, pin string) (model.PinResult, error) {
	args := m.Called(ctx, username, pin)
	return args.Get(0).(model.PinResult), args.Error(1)
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []model.SettlementNotice
}

func (n *recordingNotifier) Notify(ctx context.Context, notice model.SettlementNotice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *recordingNotifier) all() []model.SettlementNotice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.SettlementNotice(nil), n.notices...)
}

type recordingAttempts struct {
	mu       sync.Mutex
	attempts []*model.ProviderAttempt
}

func (r *recordingAttempts) Append(ctx context.Context, a *model.ProviderAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
	return nil
}

func (r *recordingAttempts) ListByTransaction(ctx context.Context, id string) ([]*model.ProviderAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*model.ProviderAttempt{}
	for _, a := range r.attempts {
		if a.TransactionID == id {
			out = append(out, a)
		}
	}
	return out, nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
