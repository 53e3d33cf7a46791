package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/fulfillment/internal/auth"
	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/fulfillment/internal/health"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
	"github.com/vladislavdragonenkov/fulfillment/internal/notify"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/accounts"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/catalog"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/idempotency"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/ordering"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/outbox"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/returns"
	"github.com/vladislavdragonenkov/fulfillment/internal/transport/grpcapi"
	"github.com/vladislavdragonenkov/fulfillment/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/fulfillment/internal/validation"
	"github.com/vladislavdragonenkov/fulfillment/internal/version"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// Run поднимает хранилище, фоновые воркеры, HTTP и gRPC серверы и
// блокируется до отмены ctx или ошибки одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if deps.closeFn != nil {
			if err := deps.closeFn(); err != nil {
				logger.WithError(err).Warn("failed to close storage")
			}
		}
	}()

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	if deps.storageChecker != nil {
		healthHandler.RegisterChecker("storage", deps.storageChecker)
	}

	fulfillmentMetrics := metrics.NewFulfillmentMetrics()
	validator := validation.New(cfg.PhoneRegion)

	orderingSvc := ordering.New(ordering.Deps{
		Orders:     deps.orders,
		Products:   deps.products,
		Merchants:  deps.merchants,
		Warehouses: deps.warehouses,
		Audit:      deps.audit,
		Validator:  validator,
		Metrics:    fulfillmentMetrics,
		Logger:     log.WithField("component", "ordering"),
	})
	returnsSvc := returns.New(returns.Deps{
		Orders:    deps.orders,
		Returns:   deps.returns,
		Refunds:   deps.refunds,
		Validator: validator,
		Metrics:   fulfillmentMetrics,
		Logger:    log.WithField("component", "returns"),
	})
	catalogSvc := catalog.New(catalog.Deps{
		Products:             deps.products,
		Warehouses:           deps.warehouses,
		Stock:                deps.stock,
		Validator:            validator,
		Metrics:              fulfillmentMetrics,
		Logger:               log.WithField("component", "catalog"),
		DefaultWarehouseCity: cfg.DefaultWarehouseCity,
	})
	accountsSvc := accounts.New(accounts.Deps{
		Merchants:     deps.merchants,
		Users:         deps.users,
		APIKeys:       deps.apiKeys,
		Notifications: deps.notifications,
		Validator:     validator,
		Logger:        log.WithField("component", "accounts"),
	})

	tokens, err := auth.NewTokenManager(jwtSecret(cfg, logger), cfg.JWTTTL)
	if err != nil {
		return fmt.Errorf("init token manager: %w", err)
	}
	keys := auth.NewKeyAuthenticator(deps.apiKeys, log.WithField("component", "auth"),
		auth.WithKeyCache(cfg.APIKeyCacheSize, cfg.APIKeyCacheTTL))
	guard := idempotency.NewGuard(deps.idempotency, cfg.IdempotencyTTL, log.WithField("component", "idempotency"))

	redisClient := initRedis(ctx, cfg.RedisURL, logger)
	defer closeRedis(redisClient, logger)

	var queue notify.Queue = notify.NewMemoryQueue()
	if redisClient != nil {
		queue = notify.NewRedisQueue(redisClient, notify.DefaultRedisQueueKey)
		healthHandler.RegisterChecker("redis", healthcheck.NewOptionalChecker("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))
	}
	enqueuer := notify.NewEnqueuer(queue, log.WithField("component", "notify-enqueuer"))

	outboxOptions := []outbox.Option{
		outbox.WithLogger(log.WithField("component", "outbox")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}
	if redisClient != nil {
		outboxOptions = append(outboxOptions, outbox.WithLeader(outbox.NewRedisLeader(redisClient, outbox.DefaultLeaderKey, cfg.OutboxLeaderTTL)))
	}

	// Без Kafka outbox публикует прямо в очередь уведомлений.
	var publisher domain.OutboxPublisher = enqueuer
	var consumer *kafka.Consumer
	producer := initKafkaProducer(cfg.KafkaBrokers, logger)
	if producer != nil {
		publisher = kafka.NewOutboxPublisher(producer, kafka.TopicOrderEvents)
		outboxOptions = append(outboxOptions, outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)))
		consumer = startKafkaConsumer(ctx, cfg, producer, enqueuer.HandleMessage, logger)
		healthHandler.RegisterChecker("kafka", healthcheck.NewOptionalChecker("kafka", func(context.Context) error {
			if consumer == nil {
				return errors.New("order events consumer is not running")
			}
			return nil
		}))
	}

	outboxWorker := outbox.NewWorker(deps.outbox, publisher, outboxOptions...)
	outboxCancel, outboxDone := startWorker(outboxWorker.Run)

	dispatcher := notify.NewDispatcher(
		queue,
		notify.NewLogMailer(log.WithField("component", "mailer")),
		deps.merchants,
		deps.users,
		deps.notifications,
		notify.WithLogger(log.WithField("component", "notify-dispatcher")),
		notify.WithPollInterval(cfg.NotifyPollInterval),
		notify.WithConcurrency(cfg.NotifyConcurrency),
		notify.WithMaxAttempts(cfg.NotifyMaxAttempts),
	)
	dispatcherCancel, dispatcherDone := startWorker(dispatcher.Run)

	cleanupWorker := idempotency.NewCleanupWorker(
		deps.idempotency,
		idempotency.WithLogger(log.WithField("component", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	cleanupCancel, cleanupDone := startWorker(cleanupWorker.Run)

	apiSrv := &http.Server{
		Handler: httpapi.NewRouter(httpapi.Deps{
			Orders:      orderingSvc,
			Returns:     returnsSvc,
			Catalog:     catalogSvc,
			Accounts:    accountsSvc,
			Tokens:      tokens,
			Keys:        keys,
			RequestLogs: deps.requestLogs,
			Idempotency: guard,
			Logger:      log.WithField("component", "http"),
			Timeout:     cfg.RequestTimeout,
		}),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	externalOrders := grpcapi.NewServer(orderingSvc, keys, deps.requestLogs, guard, log.WithField("component", "grpc"))
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		grpcMetrics.UnaryServerInterceptor(),
		grpcapi.RecoveryInterceptor(log.WithField("component", "grpc")),
		externalOrders.UnaryInterceptor(),
	))
	grpcapi.RegisterExternalOrderServer(grpcServer, externalOrders)
	grpcMetrics.InitializeMetrics(grpcServer)
	reflection.Register(grpcServer)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcapi.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	stopBackground := func() {
		shutdownHTTP(metricsSrv, logger)
		stopKafkaConsumer(consumer, logger)
		shutdownWorker(outboxCancel, outboxDone, logger)
		shutdownDispatcher(dispatcher, dispatcherCancel, dispatcherDone, logger)
		shutdownWorker(cleanupCancel, cleanupDone, logger)
		closeKafkaProducer(producer, logger)
	}

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		stopBackground()
		return fmt.Errorf("listen grpc: %w", err)
	}
	httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = grpcLis.Close()
		stopBackground()
		return fmt.Errorf("listen http: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("gRPC сервер слушает %s", grpcLis.Addr())
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		logger.Infof("HTTP API слушает %s", httpLis.Addr())
		if err := apiSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		runErr = ctx.Err()
	case runErr = <-errCh:
		logger.WithError(runErr).Error("server failed")
	}

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	stoppedCh := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stoppedCh)
	}()
	select {
	case <-stoppedCh:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		grpcServer.Stop()
	}
	shutdownHTTP(apiSrv, logger)
	stopBackground()

	return runErr
}

// jwtSecret возвращает секрет подписи токенов. Без настройки генерируется
// случайный: выпущенные токены перестают действовать после рестарта.
func jwtSecret(cfg Config, logger *log.Entry) string {
	if cfg.JWTSecret != "" {
		return cfg.JWTSecret
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		logger.WithError(err).Warn("failed to generate jwt secret")
		return "insecure-development-secret"
	}
	logger.Warn("FULFILLMENT_JWT_SECRET is not set, using an ephemeral secret")
	return hex.EncodeToString(buf)
}

// initRedis подключается к Redis. При ошибке сервис работает с очередью в памяти.
func initRedis(ctx context.Context, rawURL string, logger *log.Entry) *redis.Client {
	if rawURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		logger.WithError(err).Warn("invalid redis url, continuing without redis")
		return nil
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.WithError(err).Warn("redis is unavailable, continuing without redis")
		_ = client.Close()
		return nil
	}
	logger.WithField("addr", opts.Addr).Info("redis client initialized")
	return client
}

func closeRedis(client *redis.Client, logger *log.Entry) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		logger.WithError(err).Warn("failed to close redis client")
	}
}

// startWorker запускает цикл воркера со своим контекстом: воркеры
// останавливаются после серверов, чтобы дообработать начатое.
func startWorker(run func(context.Context)) (context.CancelFunc, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		run(ctx)
	}()
	return cancel, done
}

// shutdownWorker отменяет воркер и ждёт выхода не дольше shutdownTimeout.
func shutdownWorker(cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	if cancel == nil {
		return
	}
	cancel()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		logger.Warn("worker did not stop in time")
	}
}

func shutdownDispatcher(d *notify.Dispatcher, cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	ctx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := d.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("notification dispatcher shutdown timed out")
	}
	shutdownWorker(cancel, done, logger)
}

// startMetricsServer запускает /metrics и health-пробы.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: readHeaderTimeout}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
