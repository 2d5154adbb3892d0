package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nimasrn/voucher-gateway/internal/config"
	gateway "github.com/nimasrn/voucher-gateway/internal/gateways"
	"github.com/nimasrn/voucher-gateway/internal/notify"
	"github.com/nimasrn/voucher-gateway/internal/pricing"
	"github.com/nimasrn/voucher-gateway/internal/processor"
	"github.com/nimasrn/voucher-gateway/internal/queue"
	"github.com/nimasrn/voucher-gateway/internal/repository"
	"github.com/nimasrn/voucher-gateway/internal/services"
	"github.com/nimasrn/voucher-gateway/internal/settings"
	"github.com/nimasrn/voucher-gateway/pkg/logger"
	"github.com/nimasrn/voucher-gateway/pkg/pg"
	"github.com/nimasrn/voucher-gateway/pkg/prom"
	"github.com/nimasrn/voucher-gateway/pkg/redis"
	"github.com/valyala/fasthttp"
	"golang.org/x/sync/errgroup"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	if err := logger.Configure(config.Get().AppName+"-processor", config.Get().AppEnv, config.Get().LogLevel); err != nil {
		logger.Error("invalid logger settings, keeping defaults", "error", err)
	}
	defer logger.Sync()
	logger.Info("starting voucher-gateway processor", "version", version, "commit", commit, "date", date)

	readConf := pg.Config{
		User:     config.Get().PostgresReadUser,
		Host:     config.Get().PostgresReadHost,
		Port:     config.Get().PostgresReadPort,
		Password: config.Get().PostgresReadPassword,
		Database: config.Get().PostgresReadDatabase,
	}
	writeConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
	}

	pgDebug := false
	if config.Get().AppEnv == "dev" {
		pgDebug = true
	}
	db, err := pg.CreateReadWrite(readConf, writeConf, pgDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", config.Get().RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{config.Get().RedisAddr},
		ClientName: "default",
		DB:         config.Get().RedisDatabase,
		Username:   config.Get().RedisUsername,
		Password:   config.Get().RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	var hostname string
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	err = prom.Create(hostname, config.Get().AppEnv, config.Get().PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	queueConf := queue.QueueConfig{
		Name:              config.Get().QueueName,
		ConsumerGroup:     config.Get().QueueConsumerGroup,
		ConsumerName:      consumerName(hostname),
		MaxRetries:        config.Get().QueueMaxRetries,
		VisibilityTimeout: config.Get().QueueVisibilityTimeout,
		PollInterval:      config.Get().QueuePollInterval,
		BatchSize:         config.Get().QueueBatchSize,
		MaxLen:            config.Get().QueueMaxLen,
		EnableDLQ:         config.Get().QueueEnableDLQ,
	}
	outbox, err := queue.NewQueue(ctx, redisAdap, queueConf)
	if err != nil {
		logger.Error("failed creating notification outbox", "error", err)
		return
	}

	overrideRepo := repository.NewPriceOverrideRepository(db)
	resolver := pricing.NewResolver(overrideRepo)
	transactionRepo := repository.NewTransactionRepository(db, resolver)
	settingsService := settings.NewService(repository.NewSettingsRepository(db), redisAdap,
		config.Get().SettingsCacheTTL, settings.FallbackFromConfig(config.Get()))

	registry, err := gateway.NewProviderRegistry(gateway.ProvidersConfig{
		DigiflazzBaseURLs:   config.Get().DigiflazzBaseUrls,
		DigiflazzTesting:    config.Get().DigiflazzTesting,
		TokoVoucherBaseURLs: config.Get().TokoVoucherBaseUrls,
		Timeout:             config.Get().ProviderTimeout,
		MaxRetries:          config.Get().ProviderMaxRetries,
		MaxConns:            int(config.Get().ReconcileProviderConcurrency) * 4,
		CircuitThreshold:    int32(config.Get().ProviderCircuitThreshold),
		CircuitCooldown:     config.Get().ProviderCircuitCooldown,
	}, nil, settingsService)
	if err != nil {
		logger.Error("failed to create provider adapters", "error", err)
		return
	}

	notifier := notify.NewOutboxNotifier(outbox)
	orderService := services.NewOrderService(
		transactionRepo,
		resolver,
		registry,
		services.NewPinService(repository.NewAccountRepository(db)),
		notifier,
		config.Get().OrderIDPrefix,
		services.WithAttemptLog(repository.NewProviderAttemptRepository(db)),
	)

	leaseConf := processor.DefaultLeaseConfig()
	leaseConf.TTL = config.Get().ReconcileLeaseTTL
	scheduler := processor.NewReconcileScheduler(
		transactionRepo,
		orderService,
		processor.NewLeaseService(redisAdap, leaseConf),
		processor.SchedulerConfig{
			Interval:            config.Get().ReconcileInterval,
			AttemptTimeout:      config.Get().ReconcileAttemptTimeout,
			BatchLimit:          config.Get().ReconcileBatchLimit,
			ProviderConcurrency: config.Get().ReconcileProviderConcurrency,
			Workers:             config.Get().ReconcileWorkers,
		},
	)

	notifyClient := &fasthttp.Client{
		Name:                "voucher-gateway-notify",
		ReadTimeout:         config.Get().NotifyTimeout,
		WriteTimeout:        config.Get().NotifyTimeout,
		MaxIdleConnDuration: time.Minute,
	}
	dispatcher := notify.NewDispatcher(
		settingsService,
		notify.NewTelegramChannel(config.Get().TelegramApiUrl, notifyClient, config.Get().NotifyTimeout),
		notify.NewWebhookChannel(notifyClient, config.Get().NotifyTimeout),
	)
	service := processor.NewProcessorService(redisAdap, processor.NewNotificationProcessor(dispatcher), processor.ServiceConfig{
		Queue:             queueConf,
		Workers:           config.Get().NotifyWorkers,
		ProcessingTimeout: 2 * config.Get().NotifyTimeout,
	})

	go func() {
		prom.ListenAndServer(config.Get().PromAddr, "/metrics")
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		if err := service.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		service.Stop()
		return nil
	})

	err = g.Wait()
	notifier.Wait(5 * time.Second)
	if err != nil {
		logger.Error("processor stopped with error", "error", err)
		return
	}
	logger.Info("processor stopped")
}

func consumerName(hostname string) string {
	if name := config.Get().QueueConsumerName; name != "" {
		return name
	}
	return hostname
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
