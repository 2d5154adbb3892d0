package repository

import (
	"testing"

	"github.com/nimasrn/voucher-gateway/pkg/pg"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testDB struct {
	*pg.DB
	rawDB *gorm.DB
}

func setupTestDB(t *testing.T) *testDB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	// every new connection to :memory: would see an empty database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	err = db.AutoMigrate(
		&TransactionEntity{},
		&ProviderAttemptEntity{},
		&PriceOverrideEntity{},
		&SettingEntity{},
		&AccountEntity{},
	)
	require.NoError(t, err)

	return &testDB{
		DB:    pg.NewDB(db, db),
		rawDB: db,
	}
}
