package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	gateway "github.com/nimasrn/voucher-gateway/internal/gateways"
	"github.com/nimasrn/voucher-gateway/internal/model"
	"github.com/nimasrn/voucher-gateway/internal/pricing"
	"github.com/nimasrn/voucher-gateway/internal/repository"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type orderFixture struct {
	service  *OrderService
	store    *memoryStore
	adapterA *scriptedAdapter
	adapterB *scriptedAdapter
	pins     *MockPinVerifier
	notifier *recordingNotifier
	attempts *recordingAttempts
	clock    *testClock
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	f := &orderFixture{
		store:    newMemoryStore(),
		adapterA: &scriptedAdapter{provider: model.ProviderVoucherA, fn: answer(gateway.OutcomePending, "Transaksi Pending", "")},
		adapterB: &scriptedAdapter{provider: model.ProviderVoucherB, fn: answer(gateway.OutcomePending, "diproses", "")},
		pins:     new(MockPinVerifier),
		notifier: &recordingNotifier{},
		attempts: &recordingAttempts{},
		clock:    &testClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
	}

	seq := 0
	var seqMu sync.Mutex
	f.service = NewOrderService(
		f.store,
		pricing.NewResolver(nil),
		gateway.NewRegistry(f.adapterA, f.adapterB),
		f.pins,
		f.notifier,
		"TRX",
		WithAttemptLog(f.attempts),
		WithClock(f.clock.Now),
		WithIDGenerator(func() string {
			seqMu.Lock()
			defer seqMu.Unlock()
			seq++
			return fmt.Sprintf("TRX%04d", seq)
		}),
	)
	return f
}

func pulsaOrder() model.CreateOrderRequest {
	return model.CreateOrderRequest{
		Username:    "budi",
		Pin:         "123456",
		Provider:    model.ProviderVoucherA,
		ProductCode: "SKU-100",
		ProductName: "Telkomsel 15.000",
		Destination: "081234567890",
		CostPrice:   15000,
		Category:    "Pulsa",
		Brand:       "TELKOMSEL",
	}
}

func TestOrderService_CreateOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("pending answer is persisted as Pending with tiered price", func(t *testing.T) {
		f := newOrderFixture(t)

		txn, err := f.service.CreateOrder(ctx, pulsaOrder())
		require.NoError(t, err)
		assert.Equal(t, model.StatusPending, txn.Status)
		assert.Equal(t, int64(16000), txn.SellingPrice)
		assert.Equal(t, "Pulsa", txn.CategoryKey)
		assert.Equal(t, model.SourceWeb, txn.Source)

		stored, err := f.store.Get(ctx, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusPending, stored.Status)
		assert.Equal(t, []string{txn.ID}, f.adapterA.refIDs())

		notices := f.notifier.all()
		require.Len(t, notices, 1)
		assert.Equal(t, model.StatusPending, notices[0].Status)
		assert.Equal(t, TriggerCreate, notices[0].Trigger)
	})

	t.Run("success answer records serial number", func(t *testing.T) {
		f := newOrderFixture(t)
		f.adapterA.fn = answer(gateway.OutcomeSukses, "ok", "SN-777")

		txn, err := f.service.CreateOrder(ctx, pulsaOrder())
		require.NoError(t, err)
		assert.Equal(t, model.StatusSukses, txn.Status)
		assert.Equal(t, "SN-777", txn.SerialNumber)
		assert.Empty(t, txn.FailureReason)
	})

	t.Run("provider error is recorded as Gagal", func(t *testing.T) {
		f := newOrderFixture(t)
		f.adapterA.fn = answer(gateway.OutcomeError, "digiflazz unreachable: timeout", "")

		txn, err := f.service.CreateOrder(ctx, pulsaOrder())
		require.NoError(t, err)
		assert.Equal(t, model.StatusGagal, txn.Status)
		assert.Equal(t, "digiflazz unreachable: timeout", txn.FailureReason)
		assert.Equal(t, 1, f.store.count())
	})

	t.Run("provider rejection is recorded as Gagal", func(t *testing.T) {
		f := newOrderFixture(t)
		f.adapterA.fn = answer(gateway.OutcomeGagal, "Saldo tidak cukup", "")

		txn, err := f.service.CreateOrder(ctx, pulsaOrder())
		require.NoError(t, err)
		assert.Equal(t, model.StatusGagal, txn.Status)
		assert.Equal(t, "Saldo tidak cukup", txn.FailureReason)
	})

	t.Run("missing credentials persist nothing", func(t *testing.T) {
		f := newOrderFixture(t)
		f.adapterA.fn = func(gateway.PurchaseRequest) (*gateway.Outcome, error) {
			return nil, errors.Wrap(gateway.ErrNotConfigured, "digiflazz username or api key missing")
		}

		txn, err := f.service.CreateOrder(ctx, pulsaOrder())
		assert.ErrorIs(t, err, ErrProviderNotConfigured)
		assert.Nil(t, txn)
		assert.Zero(t, f.store.count())
		assert.Empty(t, f.notifier.all())
		assert.Empty(t, f.attempts.attempts)
	})

	t.Run("server id is kept with the destination", func(t *testing.T) {
		f := newOrderFixture(t)
		req := pulsaOrder()
		req.Provider = model.ProviderVoucherB
		req.Destination = "12345678"
		req.ServerID = "2001"
		req.Category = "Game"
		req.Brand = "MOBILE LEGENDS"

		txn, err := f.service.CreateOrder(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "12345678|2001", txn.OriginalCustomerNo)
		assert.Equal(t, "12345678", txn.Destination())
		assert.Equal(t, "MOBILE LEGENDS", txn.CategoryKey)
		require.Len(t, f.adapterB.requests, 1)
		assert.Equal(t, "2001", f.adapterB.requests[0].ServerID)
	})

	t.Run("invalid request makes no provider call", func(t *testing.T) {
		f := newOrderFixture(t)
		req := pulsaOrder()
		req.Destination = " "

		_, err := f.service.CreateOrder(ctx, req)
		assert.ErrorIs(t, err, model.ErrMissingDestination)
		assert.Zero(t, f.adapterA.calls.Load())
	})

	t.Run("separator in destination is rejected before purchase", func(t *testing.T) {
		f := newOrderFixture(t)
		req := pulsaOrder()
		req.Destination = "user|42"

		txn, err := f.service.CreateOrder(ctx, req)
		assert.ErrorIs(t, err, model.ErrInvalidDestination)
		assert.Nil(t, txn)
		assert.Zero(t, f.adapterA.calls.Load())
		assert.Zero(t, f.store.count())
	})

	t.Run("store failure is reported", func(t *testing.T) {
		f := newOrderFixture(t)
		f.store.createErr = errors.New("disk full")

		_, err := f.service.CreateOrder(ctx, pulsaOrder())
		assert.Error(t, err)
		assert.Empty(t, f.notifier.all())
	})

	t.Run("purchase attempt is logged", func(t *testing.T) {
		f := newOrderFixture(t)

		txn, err := f.service.CreateOrder(ctx, pulsaOrder())
		require.NoError(t, err)
		require.Len(t, f.attempts.attempts, 1)
		assert.Equal(t, txn.ID, f.attempts.attempts[0].TransactionID)
		assert.Equal(t, model.PhasePurchase, f.attempts.attempts[0].Phase)
		assert.Equal(t, "pending", f.attempts.attempts[0].Status)
	})
}

func TestOrderService_PlaceOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid pin aborts before anything is created", func(t *testing.T) {
		f := newOrderFixture(t)
		f.pins.On("Verify", mock.Anything, "budi", "123456").Return(model.PinResult{Valid: false, Message: "Invalid PIN."}, nil)

		txn, err := f.service.PlaceOrder(ctx, pulsaOrder())
		assert.ErrorIs(t, err, ErrInvalidPin)
		assert.Nil(t, txn)
		assert.Zero(t, f.adapterA.calls.Load())
		assert.Zero(t, f.store.count())
		f.pins.AssertExpectations(t)
	})

	t.Run("pin service failure aborts", func(t *testing.T) {
		f := newOrderFixture(t)
		f.pins.On("Verify", mock.Anything, "budi", "123456").Return(model.PinResult{}, errors.New("db down"))

		_, err := f.service.PlaceOrder(ctx, pulsaOrder())
		assert.Error(t, err)
		assert.Zero(t, f.store.count())
	})

	t.Run("valid pin creates the order", func(t *testing.T) {
		f := newOrderFixture(t)
		f.pins.On("Verify", mock.Anything, "budi", "123456").Return(model.PinResult{Valid: true}, nil)

		txn, err := f.service.PlaceOrder(ctx, pulsaOrder())
		require.NoError(t, err)
		assert.Equal(t, model.StatusPending, txn.Status)
		assert.Equal(t, 1, f.store.count())
	})
}

func TestOrderService_Reconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("pending to sukses settles once and notifies once", func(t *testing.T) {
		f := newOrderFixture(t)
		txn, err := f.service.CreateOrder(ctx, pulsaOrder())
		require.NoError(t, err)

		settledAt := f.clock.Now().Add(3 * time.Minute)
		f.clock.Set(settledAt)
		f.adapterA.fn = answer(gateway.OutcomeSukses, "Transaksi Sukses", "ABC123")

		result, err := f.service.Reconcile(ctx, txn.ID)
		require.NoError(t, err)
		assert.True(t, result.Transitioned)
		assert.Equal(t, model.StatusSukses, result.Transaction.Status)
		assert.Equal(t, "ABC123", result.Transaction.SerialNumber)
		assert.True(t, settledAt.Equal(result.Transaction.Timestamp))

		stored, err := f.store.Get(ctx, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusSukses, stored.Status)
		assert.True(t, settledAt.Equal(stored.Timestamp))

		// same ref id, buyer sku and destination on every call
		assert.Equal(t, []string{txn.ID, txn.ID}, f.adapterA.refIDs())
		assert.Equal(t, "SKU-100", f.adapterA.requests[1].ProductCode)
		assert.Equal(t, "081234567890", f.adapterA.requests[1].Destination)

		notices := f.notifier.all()
		require.Len(t, notices, 2)
		assert.Equal(t, model.StatusSukses, notices[1].Status)
		assert.Equal(t, TriggerReconcile, notices[1].Trigger)
	})

	t.Run("re-query repeats destination and server id", func(t *testing.T) {
		f := newOrderFixture(t)
		req := pulsaOrder()
		req.Provider = model.ProviderVoucherB
		req.Destination = "12345678"
		req.ServerID = "2001"
		txn, err := f.service.CreateOrder(ctx, req)
		require.NoError(t, err)

		_, err = f.service.Reconcile(ctx, txn.ID)
		require.NoError(t, err)

		require.Len(t, f.adapterB.requests, 2)
		first, second := f.adapterB.requests[0], f.adapterB.requests[1]
		assert.Equal(t, first.RefID, second.RefID)
		assert.Equal(t, first.Destination, second.Destination)
		assert.Equal(t, first.ServerID, second.ServerID)
		assert.Equal(t, "12345678", second.Destination)
		assert.Equal(t, "2001", second.ServerID)
	})

	t.Run("terminal transaction is returned without a provider call", func(t *testing.T) {
		f := newOrderFixture(t)
		f.adapterA.fn = answer(gateway.OutcomeSukses, "ok", "SN-1")
		txn, err := f.service.CreateOrder(ctx, pulsaOrder())
		require.NoError(t, err)
		before, _ := f.store.Get(ctx, txn.ID)

		for i := 0; i < 3; i++ {
			result, err := f.service.Reconcile(ctx, txn.ID)
			require.NoError(t, err)
			assert.False(t, result.Transitioned)
		}

		after, _ := f.store.Get(ctx, txn.ID)
		assert.Equal(t, *before, *after)
		assert.Equal(t, int32(1), f.adapterA.calls.Load())
		assert.Len(t, f.notifier.all(), 1)
	})

	t.Run("provider error leaves transaction pending", func(t *testing.T) {
		f := newOrderFixture(t)
		txn, err := f.service.CreateOrder(ctx, pulsaOrder())
		require.NoError(t, err)

		f.adapterA.fn = answer(gateway.OutcomeError, "digiflazz returned http 502", "")
		result, err := f.service.Reconcile(ctx, txn.ID)
		assert.ErrorIs(t, err, ErrReconcileFailed)
		assert.Nil(t, result)

		stored, _ := f.store.Get(ctx, txn.ID)
		assert.Equal(t, model.StatusPending, stored.Status)
		assert.Empty(t, stored.FailureReason)
		assert.Len(t, f.notifier.all(), 1)
	})

	t.Run("still pending is not a transition", func(t *testing.T) {
		f := newOrderFixture(t)
		txn, err := f.service.CreateOrder(ctx, pulsaOrder())
		require.NoError(t, err)

		result, err := f.service.Reconcile(ctx, txn.ID)
		require.NoError(t, err)
		assert.False(t, result.Transitioned)
		assert.Equal(t, model.StatusPending, result.Transaction.Status)
		assert.Len(t, f.notifier.all(), 1)
	})

	t.Run("gagal answer records the reason", func(t *testing.T) {
		f := newOrderFixture(t)
		txn, err := f.service.CreateOrder(ctx, pulsaOrder())
		require.NoError(t, err)

		f.adapterA.fn = answer(gateway.OutcomeGagal, "Nomor tujuan salah", "")
		result, err := f.service.Reconcile(ctx, txn.ID)
		require.NoError(t, err)
		assert.True(t, result.Transitioned)
		assert.Equal(t, model.StatusGagal, result.Transaction.Status)
		assert.Equal(t, "Nomor tujuan salah", result.Transaction.FailureReason)
		assert.Empty(t, result.Transaction.SerialNumber)
	})

	t.Run("losing the race discards the stale result", func(t *testing.T) {
		f := newOrderFixture(t)
		txn, err := f.service.CreateOrder(ctx, pulsaOrder())
		require.NoError(t, err)

		f.store.beforeSettle = func(id string) {
			f.store.mu.Lock()
			row := f.store.rows[id]
			row.Status = model.StatusGagal
			row.FailureReason = "settled elsewhere"
			f.store.rows[id] = row
			f.store.mu.Unlock()
		}
		f.adapterA.fn = answer(gateway.OutcomeSukses, "ok", "SN-LATE")

		result, err := f.service.Reconcile(ctx, txn.ID)
		require.NoError(t, err)
		assert.False(t, result.Transitioned)
		assert.Equal(t, model.StatusGagal, result.Transaction.Status)
		assert.Equal(t, "settled elsewhere", result.Transaction.FailureReason)
		assert.Len(t, f.notifier.all(), 1)
	})

	t.Run("missing credentials during reconcile", func(t *testing.T) {
		f := newOrderFixture(t)
		txn, err := f.service.CreateOrder(ctx, pulsaOrder())
		require.NoError(t, err)

		f.adapterA.fn = func(gateway.PurchaseRequest) (*gateway.Outcome, error) {
			return nil, gateway.ErrNotConfigured
		}
		_, err = f.service.Reconcile(ctx, txn.ID)
		assert.ErrorIs(t, err, ErrProviderNotConfigured)
	})

	t.Run("unknown id", func(t *testing.T) {
		f := newOrderFixture(t)
		_, err := f.service.Reconcile(ctx, "missing")
		assert.ErrorIs(t, err, repository.ErrTransactionNotFound)
	})
}

func TestOrderService_ConcurrentReconcile(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t)
	txn, err := f.service.CreateOrder(ctx, pulsaOrder())
	require.NoError(t, err)

	var flip sync.Mutex
	n := 0
	f.adapterA.fn = func(gateway.PurchaseRequest) (*gateway.Outcome, error) {
		flip.Lock()
		defer flip.Unlock()
		n++
		if n%2 == 0 {
			return &gateway.Outcome{Status: gateway.OutcomeGagal, Message: "rejected"}, nil
		}
		return &gateway.Outcome{Status: gateway.OutcomeSukses, IsSuccess: true, SerialNumber: "SN-OK"}, nil
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	transitions := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.service.Reconcile(ctx, txn.ID)
			if err != nil {
				return
			}
			if result.Transitioned {
				mu.Lock()
				transitions++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, transitions)

	settleNotices := 0
	for _, notice := range f.notifier.all() {
		if notice.Trigger == TriggerReconcile {
			settleNotices++
		}
	}
	assert.Equal(t, 1, settleNotices)

	stored, err := f.store.Get(ctx, txn.ID)
	require.NoError(t, err)
	switch stored.Status {
	case model.StatusSukses:
		assert.Equal(t, "SN-OK", stored.SerialNumber)
		assert.Empty(t, stored.FailureReason)
	case model.StatusGagal:
		assert.Equal(t, "rejected", stored.FailureReason)
		assert.Empty(t, stored.SerialNumber)
	default:
		t.Fatalf("transaction not settled: %s", stored.Status)
	}
}

func TestOrderService_ApplyCallback(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t)
	txn, err := f.service.CreateOrder(ctx, pulsaOrder())
	require.NoError(t, err)

	pending, err := f.service.ApplyCallback(ctx, txn.ID, &gateway.Outcome{Status: gateway.OutcomePending})
	require.NoError(t, err)
	assert.False(t, pending.Transitioned)

	done, err := f.service.ApplyCallback(ctx, txn.ID, &gateway.Outcome{Status: gateway.OutcomeSukses, SerialNumber: "SN-CB"})
	require.NoError(t, err)
	assert.True(t, done.Transitioned)
	assert.Equal(t, "SN-CB", done.Transaction.SerialNumber)

	again, err := f.service.ApplyCallback(ctx, txn.ID, &gateway.Outcome{Status: gateway.OutcomeGagal, Message: "late"})
	require.NoError(t, err)
	assert.False(t, again.Transitioned)
	assert.Equal(t, model.StatusSukses, again.Transaction.Status)

	notices := f.notifier.all()
	require.Len(t, notices, 2)
	assert.Equal(t, TriggerCallback, notices[1].Trigger)
}

func TestOrderService_ListTransactions(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t)
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	rows := []model.Transaction{
		{ID: "T1", ProductCategory: "Pulsa", Status: model.StatusSukses, Provider: model.ProviderVoucherA, Timestamp: base.Add(1 * time.Hour), SellingPrice: 1},
		{ID: "T2", ProductCategory: "Games", ProductBrand: "FREE FIRE", Status: model.StatusPending, Provider: model.ProviderVoucherB, Timestamp: base.Add(2 * time.Hour), SellingPrice: 1},
		{ID: "T3", ProductCategory: "Pulsa", Status: model.StatusGagal, Provider: model.ProviderVoucherA, Timestamp: base.Add(3 * time.Hour), SellingPrice: 1},
		{ID: "T4", ProductCategory: "PLN", Status: model.StatusSukses, Provider: model.ProviderVoucherA, Timestamp: base.Add(4 * time.Hour), SellingPrice: 1},
		{ID: "T5", ProductCategory: "Pulsa", Status: model.StatusSukses, Provider: model.ProviderVoucherB, Timestamp: base.Add(5 * time.Hour), SellingPrice: 1},
	}
	for _, r := range rows {
		f.store.put(r)
	}

	t.Run("all newest first with derived categories", func(t *testing.T) {
		list, err := f.service.ListTransactions(ctx, model.TransactionFilter{})
		require.NoError(t, err)
		require.Len(t, list, 5)
		assert.Equal(t, "T5", list[0].ID)
		assert.Equal(t, "Token Listrik", list[1].CategoryKey)
		assert.Equal(t, "FREE FIRE", list[3].CategoryKey)
	})

	t.Run("category filter pages after classification", func(t *testing.T) {
		category := "pulsa"
		list, err := f.service.ListTransactions(ctx, model.TransactionFilter{Category: &category, Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "T3", list[0].ID)
		assert.Equal(t, "T1", list[1].ID)
	})

	t.Run("predicates combine with AND", func(t *testing.T) {
		category := "Pulsa"
		provider := model.ProviderVoucherA
		list, err := f.service.ListTransactions(ctx, model.TransactionFilter{
			Category: &category,
			Provider: &provider,
			Statuses: []model.TransactionStatus{model.StatusSukses},
		})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "T1", list[0].ID)
	})
}

func TestOrderService_DeleteAndReport(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t)
	f.adapterA.fn = answer(gateway.OutcomeSukses, "ok", "SN")

	txn, err := f.service.CreateOrder(ctx, pulsaOrder())
	require.NoError(t, err)

	report, err := f.service.ProfitReport(ctx, f.clock.Now().Add(-time.Hour), f.clock.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Count)
	assert.Equal(t, int64(1000), report.Profit)

	_, err = f.service.ProfitReport(ctx, f.clock.Now(), f.clock.Now().Add(-time.Hour))
	assert.ErrorIs(t, err, ErrInvalidRange)

	require.NoError(t, f.service.DeleteOrder(ctx, txn.ID))
	_, err = f.service.GetTransaction(ctx, txn.ID)
	assert.ErrorIs(t, err, repository.ErrTransactionNotFound)
	assert.Equal(t, int32(1), f.adapterA.calls.Load())
}

func TestOrderService_Attempts(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t)

	txn, err := f.service.CreateOrder(ctx, pulsaOrder())
	require.NoError(t, err)
	_, err = f.service.Reconcile(ctx, txn.ID)
	require.NoError(t, err)

	attempts, err := f.service.Attempts(ctx, txn.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, model.PhasePurchase, attempts[0].Phase)
	assert.Equal(t, model.PhaseReconcile, attempts[1].Phase)

	_, err = f.service.Attempts(ctx, "TRX-UNKNOWN")
	assert.ErrorIs(t, err, repository.ErrTransactionNotFound)
}
