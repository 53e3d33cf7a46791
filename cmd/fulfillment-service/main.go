package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/app"
	"github.com/vladislavdragonenkov/fulfillment/internal/version"
)

const (
	envHTTPAddr             = "FULFILLMENT_HTTP_ADDR"
	envGRPCAddr             = "FULFILLMENT_GRPC_ADDR"
	envMetricsAddr          = "FULFILLMENT_METRICS_ADDR"
	envStorageDriver        = "FULFILLMENT_STORAGE_DRIVER"
	envPostgresDSN          = "FULFILLMENT_POSTGRES_DSN"
	envPostgresAutoMigrate  = "FULFILLMENT_POSTGRES_AUTO_MIGRATE"
	envRedisURL             = "FULFILLMENT_REDIS_URL"
	envKafkaBrokers         = "FULFILLMENT_KAFKA_BROKERS"
	envKafkaConsumerGroup   = "FULFILLMENT_KAFKA_CONSUMER_GROUP"
	envJWTSecret            = "FULFILLMENT_JWT_SECRET"
	envJWTTTL               = "FULFILLMENT_JWT_TTL"
	envAPIKeyCacheSize      = "FULFILLMENT_API_KEY_CACHE_SIZE"
	envAPIKeyCacheTTL       = "FULFILLMENT_API_KEY_CACHE_TTL"
	envPhoneRegion          = "FULFILLMENT_PHONE_REGION"
	envDefaultWarehouseCity = "FULFILLMENT_DEFAULT_WAREHOUSE_CITY"
	envRequestTimeout       = "FULFILLMENT_REQUEST_TIMEOUT"

	envOutboxPollInterval = "FULFILLMENT_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize    = "FULFILLMENT_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts  = "FULFILLMENT_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay   = "FULFILLMENT_OUTBOX_RETRY_DELAY"
	envOutboxLeaderTTL    = "FULFILLMENT_OUTBOX_LEADER_TTL"

	envNotifyPollInterval = "FULFILLMENT_NOTIFY_POLL_INTERVAL"
	envNotifyConcurrency  = "FULFILLMENT_NOTIFY_CONCURRENCY"
	envNotifyMaxAttempts  = "FULFILLMENT_NOTIFY_MAX_ATTEMPTS"

	envIdempotencyTTL              = "FULFILLMENT_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "FULFILLMENT_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "FULFILLMENT_IDEMPOTENCY_CLEANUP_BATCH_SIZE"

	envLogLevel  = "FULFILLMENT_LOG_LEVEL"
	envLogFormat = "FULFILLMENT_LOG_FORMAT"
)

type envLookup func(string) (string, bool)

// setupLogger настраивает формат и уровень логирования.
func setupLogger(lookup envLookup) {
	if format, _ := lookup(envLogFormat); strings.EqualFold(strings.TrimSpace(format), "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	log.SetLevel(log.InfoLevel)
	if raw, ok := lookup(envLogLevel); ok && strings.TrimSpace(raw) != "" {
		level, err := log.ParseLevel(strings.TrimSpace(raw))
		if err != nil {
			log.WithError(err).Warn("invalid log level, using info")
			return
		}
		log.SetLevel(level)
	}
}

// readConfigFromEnv собирает конфигурацию из окружения. Некорректные
// значения не роняют запуск: остаётся значение по умолчанию и пишется предупреждение.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	warn := func(key, raw string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s=%q ignored: %v", key, raw, err))
	}
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			parsed, err := parseBool(v)
			if err != nil {
				warn(key, v, err)
				return
			}
			*dst = parsed
		}
	}
	positiveInt := func(key string, dst *int) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			parsed, err := parseInt(v, func(n int) bool { return n > 0 }, "must be > 0")
			if err != nil {
				warn(key, v, err)
				return
			}
			*dst = parsed
		}
	}
	duration := func(key string, dst *time.Duration, allowZero bool) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			valid, rule := func(d time.Duration) bool { return d > 0 }, "must be > 0"
			if allowZero {
				valid, rule = func(d time.Duration) bool { return d >= 0 }, "must be >= 0"
			}
			parsed, err := parseDuration(v, valid, rule)
			if err != nil {
				warn(key, v, err)
				return
			}
			*dst = parsed
		}
	}

	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envGRPCAddr, &cfg.GRPCAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)
	str(envStorageDriver, &cfg.StorageDriver)
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	str(envPostgresDSN, &cfg.PostgresDSN)
	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	str(envRedisURL, &cfg.RedisURL)
	str(envKafkaBrokers, &cfg.KafkaBrokers)
	str(envKafkaConsumerGroup, &cfg.KafkaConsumerGroup)
	str(envJWTSecret, &cfg.JWTSecret)
	duration(envJWTTTL, &cfg.JWTTTL, false)
	positiveInt(envAPIKeyCacheSize, &cfg.APIKeyCacheSize)
	duration(envAPIKeyCacheTTL, &cfg.APIKeyCacheTTL, false)
	str(envPhoneRegion, &cfg.PhoneRegion)
	cfg.PhoneRegion = strings.ToUpper(cfg.PhoneRegion)
	str(envDefaultWarehouseCity, &cfg.DefaultWarehouseCity)
	duration(envRequestTimeout, &cfg.RequestTimeout, false)

	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, false)
	positiveInt(envOutboxBatchSize, &cfg.OutboxBatchSize)
	positiveInt(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts)
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, true)
	duration(envOutboxLeaderTTL, &cfg.OutboxLeaderTTL, false)

	duration(envNotifyPollInterval, &cfg.NotifyPollInterval, false)
	positiveInt(envNotifyConcurrency, &cfg.NotifyConcurrency)
	positiveInt(envNotifyMaxAttempts, &cfg.NotifyMaxAttempts)

	duration(envIdempotencyTTL, &cfg.IdempotencyTTL, false)
	duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, false)
	positiveInt(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize)

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int value %q: %w", raw, err)
	}
	if !valid(value) {
		return 0, fmt.Errorf("value %d %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	if !valid(value) {
		return 0, fmt.Errorf("duration %s %s", value, rule)
	}
	return value, nil
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("failed to load .env file")
	}
	setupLogger(os.LookupEnv)

	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, w := range warnings {
		log.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(version.Fields()).WithFields(log.Fields{
		"http_addr":      cfg.HTTPAddr,
		"grpc_addr":      cfg.GRPCAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"kafka":          cfg.KafkaBrokers != "",
		"redis":          cfg.RedisURL != "",
	}).Info("запускаем fulfillment-service")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("fulfillment-service остановлен")
}
