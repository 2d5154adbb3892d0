package e2e

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gateway "github.com/nimasrn/voucher-gateway/internal/gateways"
	"github.com/nimasrn/voucher-gateway/internal/model"
	"github.com/nimasrn/voucher-gateway/internal/notify"
	"github.com/nimasrn/voucher-gateway/internal/pricing"
	"github.com/nimasrn/voucher-gateway/internal/processor"
	"github.com/nimasrn/voucher-gateway/internal/queue"
	"github.com/nimasrn/voucher-gateway/internal/repository"
	"github.com/nimasrn/voucher-gateway/internal/services"
	"github.com/nimasrn/voucher-gateway/internal/settings"
	"github.com/nimasrn/voucher-gateway/pkg/pg"
	"github.com/nimasrn/voucher-gateway/pkg/redis"
	"github.com/nimasrn/voucher-gateway/test/fixtures"
	"github.com/nimasrn/voucher-gateway/test/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDigiflazz answers Pending on the first call for a ref id and the
// configured final status afterwards.
type fakeDigiflazz struct {
	mu     sync.Mutex
	calls  map[string]int
	final  string
	reason string
}

func (f *fakeDigiflazz) handle(c *gin.Context) {
	var req struct {
		RefID        string `json:"ref_id"`
		CustomerNo   string `json:"customer_no"`
		BuyerSkuCode string `json:"buyer_sku_code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"data": gin.H{"status": "Gagal", "rc": "40"}})
		return
	}

	f.mu.Lock()
	f.calls[req.RefID]++
	n := f.calls[req.RefID]
	f.mu.Unlock()

	data := gin.H{
		"ref_id":         req.RefID,
		"customer_no":    req.CustomerNo,
		"buyer_sku_code": req.BuyerSkuCode,
		"price":          10200,
		"status":         "Pending",
		"rc":             "03",
		"message":        "Transaksi Pending",
	}
	if n > 1 {
		data["status"] = f.final
		switch f.final {
		case "Sukses":
			data["rc"] = "00"
			data["sn"] = "SN-" + req.RefID
			data["message"] = "Transaksi Sukses"
		default:
			data["rc"] = "02"
			data["message"] = f.reason
		}
	}
	c.JSON(http.StatusOK, gin.H{"data": data})
}

func (f *fakeDigiflazz) callsFor(refID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[refID]
}

type fakeTelegram struct {
	mu    sync.Mutex
	chats []string
}

func (f *fakeTelegram) handle(c *gin.Context) {
	var msg struct {
		ChatID string `json:"chat_id"`
		Text   string `json:"text"`
	}
	_ = c.ShouldBindJSON(&msg)
	f.mu.Lock()
	f.chats = append(f.chats, msg.ChatID)
	f.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"ok": true, "result": gin.H{"message_id": 1}})
}

func (f *fakeTelegram) sent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chats)
}

type TestEnvironment struct {
	DB           *pg.DB
	Redis        redis.RedisAdapter
	Outbox       queue.QueueConfig
	Transactions *repository.TransactionRepository
	Orders       *services.OrderService
	Callbacks    *services.CallbackService
	Settings     *settings.Service
	Upstream     *fakeDigiflazz
	Telegram     *fakeTelegram
	TelegramURL  string
}

func setupE2EEnvironment(t *testing.T, final string) *TestEnvironment {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := helpers.SetupTestDB(t)
	_, redisAdapter := helpers.SetupTestRedis(t)

	upstream := &fakeDigiflazz{calls: map[string]int{}, final: final, reason: "Nomor tujuan salah"}
	upstreamRouter := gin.New()
	upstreamRouter.POST("/v1/transaction", upstream.handle)
	upstreamSrv := httptest.NewServer(upstreamRouter)
	t.Cleanup(upstreamSrv.Close)

	telegram := &fakeTelegram{}
	telegramRouter := gin.New()
	telegramRouter.POST("/:bot/sendMessage", telegram.handle)
	telegramSrv := httptest.NewServer(telegramRouter)
	t.Cleanup(telegramSrv.Close)

	fallback := fixtures.TestVoucherASettings
	fallback.TelegramBotToken = "bot-token"
	fallback.TelegramChatID = "1001"
	settingsService := settings.NewService(repository.NewSettingsRepository(db), redisAdapter, time.Minute, fallback)

	registry, err := gateway.NewProviderRegistry(gateway.ProvidersConfig{
		DigiflazzBaseURLs:   upstreamSrv.URL,
		TokoVoucherBaseURLs: upstreamSrv.URL,
		Timeout:             2 * time.Second,
	}, nil, settingsService)
	require.NoError(t, err)

	outboxConf := queue.QueueConfig{
		Name:              "notifications",
		ConsumerGroup:     "notifiers",
		ConsumerName:      "e2e",
		MaxRetries:        3,
		VisibilityTimeout: 100 * time.Millisecond,
		PollInterval:      20 * time.Millisecond,
		BatchSize:         10,
		MaxLen:            1000,
		EnableDLQ:         true,
	}
	outbox, err := queue.NewQueue(context.Background(), redisAdapter, outboxConf)
	require.NoError(t, err)

	overrides := repository.NewPriceOverrideRepository(db)
	resolver := pricing.NewResolver(overrides)
	transactions := repository.NewTransactionRepository(db, resolver)

	orders := services.NewOrderService(
		transactions,
		resolver,
		registry,
		services.NewPinService(repository.NewAccountRepository(db)),
		notify.NewOutboxNotifier(outbox),
		"TRX",
		services.WithAttemptLog(repository.NewProviderAttemptRepository(db)),
	)

	helpers.CreateTestAccount(t, db, fixtures.TestUsername, fixtures.TestPin)

	return &TestEnvironment{
		DB:           db,
		Redis:        redisAdapter,
		Outbox:       outboxConf,
		Transactions: transactions,
		Orders:       orders,
		Callbacks:    services.NewCallbackService(orders, settingsService),
		Settings:     settingsService,
		Upstream:     upstream,
		Telegram:     telegram,
		TelegramURL:  telegramSrv.URL,
	}
}

func (env *TestEnvironment) startScheduler(t *testing.T) *processor.ReconcileScheduler {
	t.Helper()
	scheduler := processor.NewReconcileScheduler(
		env.Transactions,
		env.Orders,
		processor.NewLeaseService(env.Redis, processor.LeaseConfig{TTL: 10 * time.Second}),
		processor.SchedulerConfig{Interval: 30 * time.Millisecond, AttemptTimeout: 2 * time.Second, Workers: 2},
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = scheduler.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return scheduler
}

func (env *TestEnvironment) startNotifier(t *testing.T) *processor.ProcessorService {
	t.Helper()
	dispatcher := notify.NewDispatcher(
		env.Settings,
		notify.NewTelegramChannel(env.TelegramURL, nil, 2*time.Second),
		nil,
	)
	svc := processor.NewProcessorService(env.Redis, processor.NewNotificationProcessor(dispatcher), processor.ServiceConfig{
		Queue:   env.Outbox,
		Workers: 2,
	})
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(svc.Stop)
	return svc
}

func signDigiflazz(secret string, body []byte) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	return "sha1=" + hex.EncodeToString(mac.Sum(nil))
}

func (env *TestEnvironment) status(t *testing.T, id string) model.TransactionStatus {
	txn, err := env.Orders.GetTransaction(context.Background(), id)
	require.NoError(t, err)
	return txn.Status
}

func TestE2E_PendingOrderIsReconciledToSukses(t *testing.T) {
	env := setupE2EEnvironment(t, "Sukses")
	ctx := context.Background()

	txn, err := env.Orders.PlaceOrder(ctx, fixtures.OrderRequestVoucherA())
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, txn.Status)
	assert.Equal(t, "Pulsa", txn.CategoryKey)
	assert.Equal(t, 1, env.Upstream.callsFor(txn.ID))

	env.startScheduler(t)

	helpers.AssertEventually(t, 3*time.Second, func() bool {
		return env.status(t, txn.ID) == model.StatusSukses
	}, "pending order was not reconciled")

	settled, err := env.Orders.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, "SN-"+txn.ID, settled.SerialNumber)
	assert.Empty(t, settled.FailureReason)

	// once terminal the scheduler never calls the provider again
	calls := env.Upstream.callsFor(txn.ID)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, calls, env.Upstream.callsFor(txn.ID))
}

func TestE2E_PendingOrderIsReconciledToGagal(t *testing.T) {
	env := setupE2EEnvironment(t, "Gagal")
	ctx := context.Background()

	txn, err := env.Orders.PlaceOrder(ctx, fixtures.OrderRequestVoucherA())
	require.NoError(t, err)

	result, err := env.Orders.Reconcile(ctx, txn.ID)
	require.NoError(t, err)
	assert.True(t, result.Transitioned)
	assert.Equal(t, model.StatusGagal, result.Transaction.Status)
	assert.Equal(t, "Nomor tujuan salah", result.Transaction.FailureReason)

	again, err := env.Orders.Reconcile(ctx, txn.ID)
	require.NoError(t, err)
	assert.False(t, again.Transitioned)
	assert.Equal(t, 2, env.Upstream.callsFor(txn.ID))
}

func TestE2E_InvalidPinPersistsNothing(t *testing.T) {
	env := setupE2EEnvironment(t, "Sukses")
	ctx := context.Background()

	req := fixtures.OrderRequestVoucherA()
	req.Pin = "654321"
	txn, err := env.Orders.PlaceOrder(ctx, req)
	assert.ErrorIs(t, err, services.ErrInvalidPin)
	assert.Nil(t, txn)

	list, err := env.Orders.ListTransactions(ctx, model.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestE2E_UnconfiguredProviderPersistsNothing(t *testing.T) {
	env := setupE2EEnvironment(t, "Sukses")
	ctx := context.Background()

	txn, err := env.Orders.PlaceOrder(ctx, fixtures.OrderRequestVoucherB())
	assert.ErrorIs(t, err, services.ErrProviderNotConfigured)
	assert.Nil(t, txn)

	list, err := env.Orders.ListTransactions(ctx, model.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestE2E_CallbackSettlesBeforeReconcile(t *testing.T) {
	env := setupE2EEnvironment(t, "Gagal")
	ctx := context.Background()

	txn, err := env.Orders.PlaceOrder(ctx, fixtures.OrderRequestVoucherA())
	require.NoError(t, err)

	body, err := json.Marshal(map[string]any{"data": map[string]any{
		"ref_id":  txn.ID,
		"status":  "Sukses",
		"rc":      "00",
		"sn":      "SN-CALLBACK",
		"message": "Transaksi Sukses",
	}})
	require.NoError(t, err)

	_, err = env.Callbacks.HandleDigiflazz(ctx, body, "sha1=deadbeef", "203.0.113.7")
	assert.ErrorIs(t, err, services.ErrCallbackSignature)
	assert.Equal(t, model.StatusPending, env.status(t, txn.ID))

	result, err := env.Callbacks.HandleDigiflazz(ctx, body, signDigiflazz(fixtures.TestVoucherASettings.DigiflazzWebhookSecret, body), "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, result.Transitioned)
	assert.Equal(t, "SN-CALLBACK", result.Transaction.SerialNumber)

	// the later Gagal answer must not overwrite the callback
	reconciled, err := env.Orders.Reconcile(ctx, txn.ID)
	require.NoError(t, err)
	assert.False(t, reconciled.Transitioned)
	assert.Equal(t, model.StatusSukses, env.status(t, txn.ID))
	assert.Equal(t, 1, env.Upstream.callsFor(txn.ID))
}

func TestE2E_NotificationsReachTelegram(t *testing.T) {
	env := setupE2EEnvironment(t, "Sukses")
	ctx := context.Background()

	txn, err := env.Orders.PlaceOrder(ctx, fixtures.OrderRequestVoucherA())
	require.NoError(t, err)
	_, err = env.Orders.Reconcile(ctx, txn.ID)
	require.NoError(t, err)

	svc := env.startNotifier(t)

	// one notice for the created order, one for the settlement
	helpers.AssertEventually(t, 3*time.Second, func() bool {
		return env.Telegram.sent() == 2
	}, "notices were not delivered")
	helpers.AssertEventually(t, time.Second, func() bool {
		return svc.Metrics().GetStats()["total_processed"] == int64(2)
	}, "notices were not acknowledged")
}
