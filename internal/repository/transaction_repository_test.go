package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nimasrn/voucher-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedRepairer struct {
	price int64
	calls int
}

func (f *fixedRepairer) Resolve(ctx context.Context, costPrice int64, productCode string, provider model.Provider) int64 {
	f.calls++
	return f.price
}

func newTransaction(id string, status model.TransactionStatus, ts time.Time) *model.Transaction {
	return &model.Transaction{
		ID:                 id,
		ProductName:        "Telkomsel 10.000",
		CostPrice:          15000,
		SellingPrice:       16000,
		Status:             status,
		Timestamp:          ts,
		BuyerSkuCode:       "tsel10",
		OriginalCustomerNo: "081234567890",
		ProductCategory:    "Pulsa",
		ProductBrand:       "TELKOMSEL",
		Provider:           model.ProviderVoucherA,
		Source:             model.SourceWeb,
	}
}

func TestTransactionRepository_Create(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewTransactionRepository(db, nil)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("create and read back", func(t *testing.T) {
		created, err := repo.Create(ctx, newTransaction("TRX-1", model.StatusPending, now))
		require.NoError(t, err)
		assert.Equal(t, "TRX-1", created.ID)

		got, err := repo.Get(ctx, "TRX-1")
		require.NoError(t, err)
		assert.Equal(t, model.StatusPending, got.Status)
		assert.Equal(t, int64(16000), got.SellingPrice)
		assert.Equal(t, model.ProviderVoucherA, got.Provider)
		assert.True(t, now.Equal(got.Timestamp))
		assert.False(t, got.PriceRepaired)
	})

	t.Run("duplicate id is rejected", func(t *testing.T) {
		_, err := repo.Create(ctx, newTransaction("TRX-1", model.StatusPending, now))
		assert.ErrorIs(t, err, ErrDuplicateTransaction)
	})

	t.Run("missing id", func(t *testing.T) {
		_, err := repo.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrTransactionNotFound)
	})
}

func TestTransactionRepository_GetRepairsSellingPrice(t *testing.T) {
	db := setupTestDB(t).DB
	repairer := &fixedRepairer{price: 16000}
	repo := NewTransactionRepository(db, repairer)
	ctx := context.Background()

	txn := newTransaction("TRX-R", model.StatusSukses, time.Now().UTC())
	txn.SellingPrice = 0
	_, err := repo.Create(ctx, txn)
	require.NoError(t, err)

	got, err := repo.Get(ctx, "TRX-R")
	require.NoError(t, err)
	assert.Equal(t, int64(16000), got.SellingPrice)
	assert.True(t, got.PriceRepaired)
	require.NotNil(t, got.RepairedAt)

	// persisted, so the second read does not recompute
	again, err := repo.Get(ctx, "TRX-R")
	require.NoError(t, err)
	assert.Equal(t, int64(16000), again.SellingPrice)
	assert.True(t, again.PriceRepaired)
	assert.Equal(t, 1, repairer.calls)
}

func TestTransactionRepository_Settle(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewTransactionRepository(db, nil)
	ctx := context.Background()
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	settled := created.Add(5 * time.Minute)

	_, err := repo.Create(ctx, newTransaction("TRX-S", model.StatusPending, created))
	require.NoError(t, err)

	t.Run("first settle applies", func(t *testing.T) {
		applied, err := repo.Settle(ctx, "TRX-S", model.Settlement{
			Status:                model.StatusSukses,
			SerialNumber:          "SN-1",
			ProviderTransactionID: "P-1",
			SettledAt:             settled,
		})
		require.NoError(t, err)
		assert.True(t, applied)

		got, err := repo.Get(ctx, "TRX-S")
		require.NoError(t, err)
		assert.Equal(t, model.StatusSukses, got.Status)
		assert.Equal(t, "SN-1", got.SerialNumber)
		assert.Equal(t, "P-1", got.ProviderTransactionID)
		assert.True(t, settled.Equal(got.Timestamp))
	})

	t.Run("second settle is not applied", func(t *testing.T) {
		applied, err := repo.Settle(ctx, "TRX-S", model.Settlement{
			Status:        model.StatusGagal,
			FailureReason: "late answer",
			SettledAt:     settled.Add(time.Minute),
		})
		require.NoError(t, err)
		assert.False(t, applied)

		got, err := repo.Get(ctx, "TRX-S")
		require.NoError(t, err)
		assert.Equal(t, model.StatusSukses, got.Status)
		assert.Empty(t, got.FailureReason)
		assert.True(t, settled.Equal(got.Timestamp))
	})

	t.Run("pending is not a settlement", func(t *testing.T) {
		_, err := repo.Settle(ctx, "TRX-S", model.Settlement{Status: model.StatusPending})
		assert.Error(t, err)
	})

	t.Run("unknown id is not applied", func(t *testing.T) {
		applied, err := repo.Settle(ctx, "missing", model.Settlement{Status: model.StatusGagal, SettledAt: settled})
		require.NoError(t, err)
		assert.False(t, applied)
	})
}

func TestTransactionRepository_ConcurrentSettle(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewTransactionRepository(db, nil)
	ctx := context.Background()

	_, err := repo.Create(ctx, newTransaction("TRX-C", model.StatusPending, time.Now().UTC()))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	appliedCount := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := model.Settlement{Status: model.StatusSukses, SerialNumber: "SN", SettledAt: time.Now().UTC()}
			if i%2 == 1 {
				s = model.Settlement{Status: model.StatusGagal, FailureReason: "rejected", SettledAt: time.Now().UTC()}
			}
			applied, err := repo.Settle(ctx, "TRX-C", s)
			assert.NoError(t, err)
			if applied {
				mu.Lock()
				appliedCount++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, appliedCount)

	got, err := repo.Get(ctx, "TRX-C")
	require.NoError(t, err)
	switch got.Status {
	case model.StatusSukses:
		assert.Equal(t, "SN", got.SerialNumber)
		assert.Empty(t, got.FailureReason)
	case model.StatusGagal:
		assert.Equal(t, "rejected", got.FailureReason)
		assert.Empty(t, got.SerialNumber)
	default:
		t.Fatalf("unexpected status %s", got.Status)
	}
}

func TestTransactionRepository_ListAndPending(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewTransactionRepository(db, nil)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	b := newTransaction("TRX-B", model.StatusPending, base.Add(2*time.Hour))
	b.Provider = model.ProviderVoucherB
	for _, txn := range []*model.Transaction{
		newTransaction("TRX-A", model.StatusPending, base.Add(time.Hour)),
		b,
		newTransaction("TRX-C", model.StatusSukses, base.Add(3*time.Hour)),
		newTransaction("TRX-D", model.StatusGagal, base.Add(4*time.Hour)),
	} {
		_, err := repo.Create(ctx, txn)
		require.NoError(t, err)
	}

	t.Run("newest first", func(t *testing.T) {
		all, err := repo.List(ctx, model.TransactionFilter{})
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, []string{"TRX-D", "TRX-C", "TRX-B", "TRX-A"}, ids(all))
	})

	t.Run("status and provider filters", func(t *testing.T) {
		provider := model.ProviderVoucherA
		list, err := repo.List(ctx, model.TransactionFilter{
			Statuses: []model.TransactionStatus{model.StatusPending},
			Provider: &provider,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"TRX-A"}, ids(list))
	})

	t.Run("time range and pagination", func(t *testing.T) {
		from := base.Add(90 * time.Minute)
		to := base.Add(3 * time.Hour)
		list, err := repo.List(ctx, model.TransactionFilter{From: &from, To: &to})
		require.NoError(t, err)
		assert.Equal(t, []string{"TRX-C", "TRX-B"}, ids(list))

		page, err := repo.List(ctx, model.TransactionFilter{Limit: 2, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"TRX-C", "TRX-B"}, ids(page))
	})

	t.Run("pending oldest first", func(t *testing.T) {
		pending, err := repo.ListPending(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, []model.PendingRef{
			{ID: "TRX-A", Provider: model.ProviderVoucherA},
			{ID: "TRX-B", Provider: model.ProviderVoucherB},
		}, pending)

		limited, err := repo.ListPending(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("pending counts per provider", func(t *testing.T) {
		counts, err := repo.CountPendingByProvider(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), counts[model.ProviderVoucherA])
		assert.Equal(t, int64(1), counts[model.ProviderVoucherB])
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, "TRX-D"))
		assert.ErrorIs(t, repo.Delete(ctx, "TRX-D"), ErrTransactionNotFound)
		_, err := repo.Get(ctx, "TRX-D")
		assert.ErrorIs(t, err, ErrTransactionNotFound)
	})
}

func TestTransactionRepository_ProfitSummary(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewTransactionRepository(db, nil)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	cheap := newTransaction("TRX-1", model.StatusSukses, base.Add(time.Hour))
	pricey := newTransaction("TRX-2", model.StatusSukses, base.Add(2*time.Hour))
	pricey.CostPrice, pricey.SellingPrice = 60000, 62000
	failed := newTransaction("TRX-3", model.StatusGagal, base.Add(3*time.Hour))
	outside := newTransaction("TRX-4", model.StatusSukses, base.Add(48*time.Hour))
	for _, txn := range []*model.Transaction{cheap, pricey, failed, outside} {
		_, err := repo.Create(ctx, txn)
		require.NoError(t, err)
	}

	report, err := repo.ProfitSummary(ctx, base, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.Count)
	assert.Equal(t, int64(78000), report.Revenue)
	assert.Equal(t, int64(75000), report.Cost)
	assert.Equal(t, int64(3000), report.Profit)

	empty, err := repo.ProfitSummary(ctx, base.Add(-48*time.Hour), base.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, empty.Count)
	assert.Zero(t, empty.Profit)
}

func ids(list []*model.Transaction) []string {
	out := make([]string, len(list))
	for i, t := range list {
		out[i] = t.ID
	}
	return out
}
