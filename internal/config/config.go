package config

import (
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/nimasrn/voucher-gateway/pkg/logger"
	"github.com/pkg/errors"
)

var config *Config

// Config holds every runtime knob of the gateway binaries. Values come from
// the process environment, optionally seeded from a .env file.
type Config struct {
	AppEnv   string `env:"APP_ENV,default=dev"`
	AppName  string `env:"APP_NAME,default=voucher_gateway"`
	LogLevel string `env:"LOG_LEVEL,default=info"`

	HttpListenAddr         string        `env:"HTTP_LISTEN_ADDR,default=:8080"`
	HttpServerReadTimeout  time.Duration `env:"HTTP_SERVER_READ_TIMEOUT,default=10s"`
	HttpServerWriteTimeout time.Duration `env:"HTTP_SERVER_WRITE_TIMEOUT,default=30s"`
	HttpRequestTimeout     time.Duration `env:"HTTP_REQUEST_TIMEOUT,default=45s"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`

	RedisAddr               string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX,default=vgw:"`

	PromNamespace string `env:"PROM_NAMESPACE,default=voucher_gateway"`
	PromAddr      string `env:"PROM_ADDR,default=:9100"`

	OrderIDPrefix string `env:"ORDER_ID_PREFIX,default=TRX"`

	ReconcileInterval            time.Duration `env:"RECONCILE_INTERVAL,default=60s"`
	ReconcileAttemptTimeout      time.Duration `env:"RECONCILE_ATTEMPT_TIMEOUT,default=30s"`
	ReconcileBatchLimit          int           `env:"RECONCILE_BATCH_LIMIT,default=500"`
	ReconcileProviderConcurrency int64         `env:"RECONCILE_PROVIDER_CONCURRENCY,default=5"`
	ReconcileLeaseTTL            time.Duration `env:"RECONCILE_LEASE_TTL,default=45s"`
	ReconcileWorkers             int           `env:"RECONCILE_WORKERS,default=16"`

	DigiflazzBaseUrls        string        `env:"DIGIFLAZZ_BASE_URLS,default=https://api.digiflazz.com"`
	DigiflazzTesting         bool          `env:"DIGIFLAZZ_TESTING,default=false"`
	TokoVoucherBaseUrls      string        `env:"TOKOVOUCHER_BASE_URLS,default=https://api.tokovoucher.net"`
	ProviderTimeout          time.Duration `env:"PROVIDER_TIMEOUT,default=20s"`
	ProviderMaxRetries       int           `env:"PROVIDER_MAX_RETRIES,default=2"`
	ProviderCircuitThreshold int64         `env:"PROVIDER_CIRCUIT_THRESHOLD,default=5"`
	ProviderCircuitCooldown  time.Duration `env:"PROVIDER_CIRCUIT_COOLDOWN,default=30s"`

	// Peers whose forwarding headers are honored on the callback route.
	TrustedProxies string `env:"TRUSTED_PROXIES"`

	// Credential fallbacks, used only for fields not stored in app_settings.
	DigiflazzUsername      string `env:"DIGIFLAZZ_USERNAME"`
	DigiflazzApiKey        string `env:"DIGIFLAZZ_API_KEY"`
	DigiflazzWebhookSecret string `env:"DIGIFLAZZ_WEBHOOK_SECRET"`
	AllowedDigiflazzIPs    string `env:"ALLOWED_DIGIFLAZZ_IPS"`
	TokoVoucherMemberCode  string `env:"TOKOVOUCHER_MEMBER_CODE"`
	TokoVoucherSignature   string `env:"TOKOVOUCHER_SIGNATURE"`
	TokoVoucherKey         string `env:"TOKOVOUCHER_KEY"`
	TelegramBotToken       string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID         string `env:"TELEGRAM_CHAT_ID"`
	NotifyWebhookUrl       string `env:"NOTIFY_WEBHOOK_URL"`

	SettingsCacheTTL time.Duration `env:"SETTINGS_CACHE_TTL,default=30s"`
	TelegramApiUrl   string        `env:"TELEGRAM_API_URL,default=https://api.telegram.org"`
	NotifyTimeout    time.Duration `env:"NOTIFY_TIMEOUT,default=10s"`
	NotifyWorkers    int           `env:"NOTIFY_WORKERS,default=4"`

	QueueName              string        `env:"QUEUE_NAME,default=settlement-notices"`
	QueueConsumerGroup     string        `env:"QUEUE_CONSUMER_GROUP,default=notifiers"`
	QueueConsumerName      string        `env:"QUEUE_CONSUMER_NAME"`
	QueueMaxRetries        int           `env:"QUEUE_MAX_RETRIES,default=3"`
	QueueVisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT,default=1m"`
	QueuePollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL,default=1s"`
	QueueBatchSize         int64         `env:"QUEUE_BATCH_SIZE,default=10"`
	QueueMaxLen            int64         `env:"QUEUE_MAX_LEN,default=100000"`
	QueueEnableDLQ         bool          `env:"QUEUE_ENABLE_DLQ,default=true"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	if path != "" {
		logger.Info("loading env file", "path", path)
		if err := godotenv.Load(path); err != nil {
			return errors.Wrapf(err, "failed to load configuration file %s", path)
		}
	}

	if _, err := env.UnmarshalFromEnviron(c); err != nil {
		return errors.Wrap(err, "failed to map env variables to Config")
	}

	if err := c.Validate(); err != nil {
		return err
	}

	config = c
	return nil
}

// Validate rejects settings that would let a reconcile lease expire while its
// attempt is still running.
func (c *Config) Validate() error {
	if c.ReconcileLeaseTTL <= c.ReconcileAttemptTimeout {
		return errors.Errorf("RECONCILE_LEASE_TTL (%s) must be greater than RECONCILE_ATTEMPT_TIMEOUT (%s)",
			c.ReconcileLeaseTTL, c.ReconcileAttemptTimeout)
	}
	return nil
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}
