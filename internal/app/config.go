package app

import "time"

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска сервиса. Структура сравнима по значению.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	// RedisURL включает очередь уведомлений в Redis и лидерство outbox-воркера.
	RedisURL string
	// KafkaBrokers: список брокеров через запятую; пусто — без Kafka.
	KafkaBrokers       string
	KafkaConsumerGroup string

	JWTSecret            string
	JWTTTL               time.Duration
	APIKeyCacheSize      int
	APIKeyCacheTTL       time.Duration
	PhoneRegion          string
	DefaultWarehouseCity string
	RequestTimeout       time.Duration

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	OutboxLeaderTTL    time.Duration

	NotifyPollInterval time.Duration
	NotifyConcurrency  int
	NotifyMaxAttempts  int

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int
}

// DefaultConfig возвращает настройки для локального запуска.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		KafkaConsumerGroup: "fulfillment-notify",

		JWTTTL:               12 * time.Hour,
		APIKeyCacheSize:      1024,
		APIKeyCacheTTL:       time.Minute,
		PhoneRegion:          "BD",
		DefaultWarehouseCity: "Dhaka",
		RequestTimeout:       30 * time.Second,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  5,
		OutboxRetryDelay:   time.Second,
		OutboxLeaderTTL:    10 * time.Second,

		NotifyPollInterval: time.Second,
		NotifyConcurrency:  4,
		NotifyMaxAttempts:  5,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
	}
}
