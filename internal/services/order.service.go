package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	gateway "github.com/nimasrn/voucher-gateway/internal/gateways"
	"github.com/nimasrn/voucher-gateway/internal/model"
	"github.com/nimasrn/voucher-gateway/pkg/logger"
	"github.com/nimasrn/voucher-gateway/pkg/prom"
	"github.com/pkg/errors"
)

var (
	ErrInvalidPin            = errors.New("pin verification failed")
	ErrInvalidPinFormat      = errors.New("pin must be 6 digits")
	ErrProviderNotConfigured = gateway.ErrNotConfigured
	ErrReconcileFailed       = errors.New("provider status check failed")
	ErrInvalidRange          = errors.New("report range start is after its end")
)

const (
	TriggerCreate    = "create"
	TriggerReconcile = "reconcile"
	TriggerCallback  = "callback"
)

type TransactionRepository interface {
	Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error)
	Get(ctx context.Context, id string) (*model.Transaction, error)
	List(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, error)
	Settle(ctx context.Context, id string, s model.Settlement) (bool, error)
	Delete(ctx context.Context, id string) error
	ProfitSummary(ctx context.Context, from, to time.Time) (*model.ProfitReport, error)
}

// AttemptLog keeps the raw provider exchanges of every transaction.
type AttemptLog interface {
	Append(ctx context.Context, attempt *model.ProviderAttempt) error
	ListByTransaction(ctx context.Context, transactionID string) ([]*model.ProviderAttempt, error)
}

type PriceResolver interface {
	Resolve(ctx context.Context, costPrice int64, productCode string, provider model.Provider) int64
}

type AdapterRegistry interface {
	Adapter(p model.Provider) (gateway.Adapter, error)
}

type PinVerifier interface {
	Verify(ctx context.Context, username, pin string) (model.PinResult, error)
}

// Notifier receives a notice for every recorded order and every applied
// settlement. Implementations must not block and must not fail the caller.
type Notifier interface {
	Notify(ctx context.Context, notice model.SettlementNotice)
}

type ReconcileResult struct {
	Transaction  *model.Transaction `json:"transaction"`
	Transitioned bool               `json:"transitioned"`
}

type OrderService struct {
	transactions TransactionRepository
	attempts     AttemptLog
	pricer       PriceResolver
	adapters     AdapterRegistry
	pins         PinVerifier
	notifier     Notifier
	idPrefix     string
	now          func() time.Time
	newID        func() string
}

type OrderOption func(*OrderService)

func WithAttemptLog(log AttemptLog) OrderOption {
	return func(s *OrderService) { s.attempts = log }
}

func WithClock(now func() time.Time) OrderOption {
	return func(s *OrderService) { s.now = now }
}

func WithIDGenerator(gen func() string) OrderOption {
	return func(s *OrderService) { s.newID = gen }
}

func NewOrderService(
	transactions TransactionRepository,
	pricer PriceResolver,
	adapters AdapterRegistry,
	pins PinVerifier,
	notifier Notifier,
	idPrefix string,
	opts ...OrderOption,
) *OrderService {
	s := &OrderService{
		transactions: transactions,
		pricer:       pricer,
		adapters:     adapters,
		pins:         pins,
		notifier:     notifier,
		idPrefix:     idPrefix,
		now:          time.Now,
	}
	s.newID = s.refID
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *OrderService) refID() string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	if s.idPrefix == "" {
		return id
	}
	return s.idPrefix + id
}

// PlaceOrder verifies the PIN and then creates the order. A rejected PIN
// aborts before anything is persisted.
func (s *OrderService) PlaceOrder(ctx context.Context, req model.CreateOrderRequest) (*model.Transaction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	result, err := s.pins.Verify(ctx, req.Username, req.Pin)
	if err != nil {
		return nil, errors.Wrap(err, "pin verification unavailable")
	}
	if !result.Valid {
		logger.Info("order rejected by pin check", "username", req.Username, "reason", result.Message)
		if result.Message != "" {
			return nil, errors.Wrap(ErrInvalidPin, result.Message)
		}
		return nil, ErrInvalidPin
	}

	return s.CreateOrder(ctx, req)
}

// CreateOrder purchases from the selected provider and records the outcome.
// Every purchase attempt that reached the adapter is persisted; provider
// errors are recorded as Gagal. Missing credentials abort with no record.
func (s *OrderService) CreateOrder(ctx context.Context, req model.CreateOrderRequest) (*model.Transaction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	adapter, err := s.adapters.Adapter(req.Provider)
	if err != nil {
		return nil, err
	}

	id := s.newID()
	sellingPrice := s.pricer.Resolve(ctx, req.CostPrice, req.ProductCode, req.Provider)

	started := s.now()
	outcome, err := adapter.Purchase(ctx, gateway.PurchaseRequest{
		RefID:       id,
		ProductCode: req.ProductCode,
		Destination: req.Destination,
		ServerID:    req.ServerID,
	})
	if err != nil {
		if errors.Is(err, gateway.ErrNotConfigured) {
			prom.IncOrderCreated(string(req.Provider), "not_configured")
			return nil, err
		}
		outcome = &gateway.Outcome{Status: gateway.OutcomeError, Message: err.Error()}
	}
	s.logAttempt(ctx, id, req.Provider, model.PhasePurchase, outcome, s.now().Sub(started))

	source := req.Source
	if source == "" {
		source = model.SourceWeb
	}

	txn := &model.Transaction{
		ID:                    id,
		ProductName:           req.ProductName,
		Details:               req.Details,
		CostPrice:             req.CostPrice,
		SellingPrice:          sellingPrice,
		Timestamp:             s.now(),
		BuyerSkuCode:          req.ProductCode,
		OriginalCustomerNo:    model.JoinDestination(req.Destination, req.ServerID),
		ProductCategory:       req.Category,
		ProductBrand:          req.Brand,
		Provider:              req.Provider,
		ProviderTransactionID: outcome.ProviderTransactionID,
		Source:                source,
	}

	switch outcome.Status {
	case gateway.OutcomeSukses:
		txn.Status = model.StatusSukses
		txn.SerialNumber = outcome.SerialNumber
	case gateway.OutcomePending:
		txn.Status = model.StatusPending
	default:
		txn.Status = model.StatusGagal
		txn.FailureReason = outcome.Message
	}

	created, err := s.transactions.Create(ctx, txn)
	if err != nil {
		logger.Error("failed to persist order", "ref_id", id, "provider", req.Provider, "status", txn.Status, "error", err)
		return nil, errors.Wrap(err, "persist transaction")
	}
	created.CategoryKey = Classify(created.ProductCategory, created.ProductBrand)

	prom.IncOrderCreated(string(created.Provider), string(created.Status))
	logger.Info("order recorded", "ref_id", created.ID, "provider", created.Provider,
		"status", created.Status, "outcome", outcome.Status, "selling_price", created.SellingPrice)

	s.notify(ctx, created, TriggerCreate)
	return created, nil
}

// Reconcile re-queries the provider for a Pending transaction with the
// stored ref id and applies a terminal answer at most once. Terminal
// transactions return immediately without a provider call.
func (s *OrderService) Reconcile(ctx context.Context, id string) (*ReconcileResult, error) {
	txn, err := s.transactions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	txn.CategoryKey = Classify(txn.ProductCategory, txn.ProductBrand)

	if txn.Status.IsTerminal() {
		logger.Debug("reconcile skipped, transaction already settled", "ref_id", id, "status", txn.Status)
		prom.IncReconcileAttempt(string(txn.Provider), "terminal")
		return &ReconcileResult{Transaction: txn}, nil
	}

	adapter, err := s.adapters.Adapter(txn.Provider)
	if err != nil {
		return nil, err
	}

	destination, serverID := model.SplitDestination(txn.OriginalCustomerNo)
	started := s.now()
	outcome, err := adapter.Purchase(ctx, gateway.PurchaseRequest{
		RefID:       txn.ID,
		ProductCode: txn.BuyerSkuCode,
		Destination: destination,
		ServerID:    serverID,
	})
	if err != nil {
		prom.IncReconcileAttempt(string(txn.Provider), "not_configured")
		return nil, err
	}
	s.logAttempt(ctx, id, txn.Provider, model.PhaseReconcile, outcome, s.now().Sub(started))

	switch outcome.Status {
	case gateway.OutcomeSukses, gateway.OutcomeGagal:
		prom.IncReconcileAttempt(string(txn.Provider), string(outcome.Status))
		return s.settle(ctx, id, outcome, TriggerReconcile)
	case gateway.OutcomePending:
		prom.IncReconcileAttempt(string(txn.Provider), "pending")
		return &ReconcileResult{Transaction: txn}, nil
	default:
		prom.IncReconcileAttempt(string(txn.Provider), "error")
		logger.Info("reconcile attempt failed, transaction stays pending", "ref_id", id, "provider", txn.Provider, "message", outcome.Message)
		return nil, errors.Wrap(ErrReconcileFailed, outcome.Message)
	}
}

// ApplyCallback settles a transaction from a provider push. It goes through
// the same conditional settle as Reconcile.
func (s *OrderService) ApplyCallback(ctx context.Context, id string, outcome *gateway.Outcome) (*ReconcileResult, error) {
	txn, err := s.transactions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	txn.CategoryKey = Classify(txn.ProductCategory, txn.ProductBrand)
	s.logAttempt(ctx, id, txn.Provider, model.PhaseCallback, outcome, 0)

	if txn.Status.IsTerminal() {
		logger.Debug("callback ignored, transaction already settled", "ref_id", id, "status", txn.Status)
		return &ReconcileResult{Transaction: txn}, nil
	}

	switch outcome.Status {
	case gateway.OutcomeSukses, gateway.OutcomeGagal:
		return s.settle(ctx, id, outcome, TriggerCallback)
	default:
		logger.Debug("callback without final status", "ref_id", id, "status", outcome.Status)
		return &ReconcileResult{Transaction: txn}, nil
	}
}

// settle re-reads the row right before the conditional write. Losing the race
// to another trigger is not an error; the stale outcome is dropped.
func (s *OrderService) settle(ctx context.Context, id string, outcome *gateway.Outcome, trigger string) (*ReconcileResult, error) {
	current, err := s.transactions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	current.CategoryKey = Classify(current.ProductCategory, current.ProductBrand)
	if current.Status.IsTerminal() {
		logger.Info("settlement discarded, already settled", "ref_id", id, "status", current.Status, "trigger", trigger)
		return &ReconcileResult{Transaction: current}, nil
	}

	settlement := model.Settlement{
		ProviderTransactionID: outcome.ProviderTransactionID,
		SettledAt:             s.now(),
	}
	if outcome.Status == gateway.OutcomeSukses {
		settlement.Status = model.StatusSukses
		settlement.SerialNumber = outcome.SerialNumber
	} else {
		settlement.Status = model.StatusGagal
		settlement.FailureReason = outcome.Message
	}

	applied, err := s.transactions.Settle(ctx, id, settlement)
	if err != nil {
		logger.Error("failed to settle transaction", "ref_id", id, "provider", current.Provider, "error", err)
		return nil, err
	}
	if !applied {
		logger.Info("settlement lost race", "ref_id", id, "provider", current.Provider, "trigger", trigger)
		latest, err := s.transactions.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		latest.CategoryKey = Classify(latest.ProductCategory, latest.ProductBrand)
		return &ReconcileResult{Transaction: latest}, nil
	}

	settled := *current
	settled.Status = settlement.Status
	settled.SerialNumber = settlement.SerialNumber
	settled.FailureReason = settlement.FailureReason
	settled.Timestamp = settlement.SettledAt
	if settlement.ProviderTransactionID != "" {
		settled.ProviderTransactionID = settlement.ProviderTransactionID
	}

	prom.IncSettlement(string(settled.Provider), string(settled.Status), trigger)
	logger.Info("transaction settled", "ref_id", id, "provider", settled.Provider, "status", settled.Status, "trigger", trigger)

	s.notify(ctx, &settled, trigger)
	return &ReconcileResult{Transaction: &settled, Transitioned: true}, nil
}

// DeleteOrder removes the local record only; the provider is not contacted.
func (s *OrderService) DeleteOrder(ctx context.Context, id string) error {
	if err := s.transactions.Delete(ctx, id); err != nil {
		return err
	}
	logger.Info("transaction deleted", "ref_id", id)
	return nil
}

// Attempts lists the provider exchanges of one transaction, oldest first.
func (s *OrderService) Attempts(ctx context.Context, id string) ([]*model.ProviderAttempt, error) {
	if _, err := s.transactions.Get(ctx, id); err != nil {
		return nil, err
	}
	if s.attempts == nil {
		return []*model.ProviderAttempt{}, nil
	}
	return s.attempts.ListByTransaction(ctx, id)
}

func (s *OrderService) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	txn, err := s.transactions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	txn.CategoryKey = Classify(txn.ProductCategory, txn.ProductBrand)
	return txn, nil
}

// ListTransactions returns transactions newest first. Category is derived on
// read, so a category filter loads the unpaginated set and pages in memory.
func (s *OrderService) ListTransactions(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, error) {
	query := f
	if f.Category != nil {
		query.Limit, query.Offset = 0, 0
	}

	list, err := s.transactions.List(ctx, query)
	if err != nil {
		return nil, err
	}

	out := make([]*model.Transaction, 0, len(list))
	for _, txn := range list {
		txn.CategoryKey = Classify(txn.ProductCategory, txn.ProductBrand)
		if f.Matches(txn) {
			out = append(out, txn)
		}
	}

	if f.Category == nil {
		return out, nil
	}
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []*model.Transaction{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *OrderService) ProfitReport(ctx context.Context, from, to time.Time) (*model.ProfitReport, error) {
	if from.After(to) {
		return nil, ErrInvalidRange
	}
	return s.transactions.ProfitSummary(ctx, from, to)
}

func (s *OrderService) notify(ctx context.Context, txn *model.Transaction, trigger string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, model.NoticeFromTransaction(txn, trigger))
}

func (s *OrderService) logAttempt(ctx context.Context, id string, provider model.Provider, phase model.AttemptPhase, outcome *gateway.Outcome, took time.Duration) {
	if s.attempts == nil || outcome == nil {
		return
	}
	if took == 0 {
		took = outcome.Latency
	}
	err := s.attempts.Append(ctx, &model.ProviderAttempt{
		TransactionID: id,
		Provider:      provider,
		Phase:         phase,
		Status:        string(outcome.Status),
		ResponseCode:  outcome.ResponseCode,
		Message:       outcome.Message,
		Raw:           outcome.Raw,
		Duration:      took,
	})
	if err != nil {
		logger.Warn("failed to record provider attempt", "ref_id", id, "provider", provider, "phase", phase, "error", err)
	}
}
