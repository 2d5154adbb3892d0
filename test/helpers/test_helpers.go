package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nimasrn/voucher-gateway/internal/model"
	"github.com/nimasrn/voucher-gateway/internal/repository"
	"github.com/nimasrn/voucher-gateway/internal/services"
	"github.com/nimasrn/voucher-gateway/pkg/pg"
	"github.com/nimasrn/voucher-gateway/pkg/redis"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// SetupTestDB opens an in-memory sqlite database with every table migrated.
// The same handle serves both the read and write side.
func SetupTestDB(t *testing.T) *pg.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	err = db.AutoMigrate(
		&repository.TransactionEntity{},
		&repository.ProviderAttemptEntity{},
		&repository.PriceOverrideEntity{},
		&repository.SettingEntity{},
		&repository.AccountEntity{},
	)
	require.NoError(t, err)

	return pg.NewDB(db, db)
}

// SetupTestRedis starts miniredis and an adapter bound to it. Both are torn
// down with the test.
func SetupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	t.Helper()
	mr := miniredis.RunT(t)
	adapter, err := redis.NewRedisAdapter(t.Name()+"-"+mr.Addr(), "test:", &redis.Options{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)
	return mr, adapter
}

func CreateTestAccount(t *testing.T, db *pg.DB, username, pin string) *model.Account {
	t.Helper()
	account, err := services.NewPinService(repository.NewAccountRepository(db)).
		CreateAccount(context.Background(), username, pin)
	require.NoError(t, err)
	return account
}

// CreateTestTransaction stores txn as-is, bypassing any provider call.
func CreateTestTransaction(t *testing.T, db *pg.DB, txn *model.Transaction) *model.Transaction {
	t.Helper()
	created, err := repository.NewTransactionRepository(db, nil).Create(context.Background(), txn)
	require.NoError(t, err)
	return created
}

func CreateTestPriceOverride(t *testing.T, db *pg.DB, provider model.Provider, productCode string, price int64) *model.PriceOverride {
	t.Helper()
	o, err := repository.NewPriceOverrideRepository(db).Upsert(context.Background(), &model.PriceOverride{
		Provider:    provider,
		ProductCode: productCode,
		Price:       price,
	})
	require.NoError(t, err)
	return o
}

func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func AssertEventually(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	if !WaitForCondition(t, timeout, condition) {
		t.Fatal(msg)
	}
}

func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func Ptr[T any](v T) *T {
	return &v
}
