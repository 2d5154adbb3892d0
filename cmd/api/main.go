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
	"github.com/nimasrn/voucher-gateway/internal/handlers"
	"github.com/nimasrn/voucher-gateway/internal/notify"
	"github.com/nimasrn/voucher-gateway/internal/pricing"
	"github.com/nimasrn/voucher-gateway/internal/queue"
	"github.com/nimasrn/voucher-gateway/internal/repository"
	"github.com/nimasrn/voucher-gateway/internal/services"
	"github.com/nimasrn/voucher-gateway/internal/settings"
	xhttp "github.com/nimasrn/voucher-gateway/pkg/http"
	"github.com/nimasrn/voucher-gateway/pkg/logger"
	"github.com/nimasrn/voucher-gateway/pkg/pg"
	"github.com/nimasrn/voucher-gateway/pkg/prom"
	"github.com/nimasrn/voucher-gateway/pkg/redis"
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
	if err := logger.Configure(config.Get().AppName+"-api", config.Get().AppEnv, config.Get().LogLevel); err != nil {
		logger.Error("invalid logger settings, keeping defaults", "error", err)
	}
	defer logger.Sync()
	logger.Info("starting voucher-gateway api", "version", version, "commit", commit, "date", date)

	// transport (tcp for now)
	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Server.ReadBufferSize = 1024 * 16
	s.Server.WriteBufferSize = 1024 * 16
	s.Use(xhttp.RecoverMiddleware)
	s.Use(xhttp.RequestIDMiddleware)
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(config.Get().HttpRequestTimeout))

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

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if err := prom.Create(hostname, config.Get().AppEnv, config.Get().PromNamespace); err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}
	go prom.ListenAndServer(config.Get().PromAddr, "/metrics")

	outbox, err := queue.NewQueue(context.Background(), redisAdap, queue.QueueConfig{
		Name:          config.Get().QueueName,
		ConsumerGroup: config.Get().QueueConsumerGroup,
		MaxLen:        config.Get().QueueMaxLen,
		EnableDLQ:     config.Get().QueueEnableDLQ,
	})
	if err != nil {
		logger.Error("failed creating notification outbox", "error", err)
		return
	}

	// repositories
	overrideRepo := repository.NewPriceOverrideRepository(db)
	resolver := pricing.NewResolver(overrideRepo)
	transactionRepo := repository.NewTransactionRepository(db, resolver)
	attemptRepo := repository.NewProviderAttemptRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)

	// services
	settingsService := settings.NewService(settingsRepo, redisAdap, config.Get().SettingsCacheTTL, settings.FallbackFromConfig(config.Get()))
	registry, err := gateway.NewProviderRegistry(gateway.ProvidersConfig{
		DigiflazzBaseURLs:   config.Get().DigiflazzBaseUrls,
		DigiflazzTesting:    config.Get().DigiflazzTesting,
		TokoVoucherBaseURLs: config.Get().TokoVoucherBaseUrls,
		Timeout:             config.Get().ProviderTimeout,
		MaxRetries:          config.Get().ProviderMaxRetries,
		MaxConns:            512,
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
		services.NewPinService(accountRepo),
		notifier,
		config.Get().OrderIDPrefix,
		services.WithAttemptLog(attemptRepo),
	)
	callbackService := services.NewCallbackService(orderService, settingsService)
	trustedProxies, err := handlers.ParseTrustedProxies(config.Get().TrustedProxies)
	if err != nil {
		logger.Error("invalid TRUSTED_PROXIES", "error", err)
		return
	}
	overrideService := services.NewPriceOverrideService(overrideRepo)

	// v1 handlers
	g := s.Router.Group("/api/v1")
	handlers.RegisterTransactionRoutes(g, handlers.NewTransactionHandler(orderService))
	handlers.RegisterPriceOverrideRoutes(g, handlers.NewPriceOverrideHandler(overrideService))
	handlers.RegisterCallbackRoutes(g, handlers.NewCallbackHandler(callbackService, trustedProxies))
	handlers.RegisterHealthRoutes(g, handlers.NewHealthHandler(map[string]handlers.Pinger{
		"postgres": db,
		"redis":    redisAdap,
	}))

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		var err = s.ListenAndServe(config.Get().HttpListenAddr)
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	<-c
	shutdownDone := make(chan struct{})
	go func() {
		s.Shutdown()
		close(shutdownDone)
	}()
	select {
	case <-shutdownDone:
	case <-time.After(30 * time.Second):
		logger.Warn("http server did not drain in time")
	}
	notifier.Wait(5 * time.Second)
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
