package idempotency

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
	// В лог попадают только самые шумные области.
	maxLoggedScopes = 10
)

var (
	cleanupRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_idempotency_cleanup_runs_total",
		Help: "Idempotency cleanup runs by result.",
	}, []string{"result"})
	cleanupDeletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_idempotency_cleanup_deleted_total",
		Help: "Expired idempotency keys removed, by the state they were left in.",
	}, []string{"state"})
	cleanupLastScopes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fulfillment_idempotency_cleanup_last_scopes",
		Help: "Distinct callers whose keys expired during the last cleanup run.",
	})
)

// CleanupOptions задает параметры воркера очистки.
type CleanupOptions struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupOptions)

// WithLogger задает logger для воркера.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Logger = logger
	}
}

// WithInterval задает интервал между проходами.
func WithInterval(interval time.Duration) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Interval = interval
	}
}

// WithBatchSize задает размер одной порции удаления.
func WithBatchSize(batchSize int) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.BatchSize = batchSize
	}
}

// CleanupReport: итог одного прохода очистки.
type CleanupReport struct {
	Deleted int
	// ByScope: число удалённых ключей на вызывающего (часть до ':').
	ByScope map[string]int
	ByState map[domain.IdempotencyStatus]int
	// Stale: ключи, так и не вышедшие из processing. Обычно это
	// запросы, прерванные рестартом.
	Stale []string
}

func newCleanupReport() CleanupReport {
	return CleanupReport{
		ByScope: make(map[string]int),
		ByState: make(map[domain.IdempotencyStatus]int),
	}
}

func (r *CleanupReport) add(records []domain.IdempotencyRecord) {
	for _, record := range records {
		r.Deleted++
		scope, _ := SplitKey(record.Key)
		r.ByScope[scope]++
		r.ByState[record.State]++
		if record.State == domain.IdempotencyStatusProcessing {
			r.Stale = append(r.Stale, record.Key)
		}
	}
}

// busiestScopes возвращает до limit областей с наибольшим числом ключей.
func (r CleanupReport) busiestScopes(limit int) log.Fields {
	scopes := make([]string, 0, len(r.ByScope))
	for scope := range r.ByScope {
		scopes = append(scopes, scope)
	}
	sort.Slice(scopes, func(i, j int) bool {
		if r.ByScope[scopes[i]] != r.ByScope[scopes[j]] {
			return r.ByScope[scopes[i]] > r.ByScope[scopes[j]]
		}
		return scopes[i] < scopes[j]
	})

	fields := make(log.Fields, min(limit, len(scopes)))
	for _, scope := range scopes[:min(limit, len(scopes))] {
		name := scope
		if name == "" {
			name = "unscoped"
		}
		fields["scope."+name] = r.ByScope[scope]
	}
	return fields
}

// CleanupWorker удаляет ключи Guard с истёкшим TTL и отчитывается,
// чьи ключи ушли и в каком состоянии.
type CleanupWorker struct {
	repo      domain.IdempotencyRepository
	logger    *log.Entry
	interval  time.Duration
	batchSize int
}

// NewCleanupWorker создает воркер очистки.
func NewCleanupWorker(repo domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	opts := CleanupOptions{
		Interval:  defaultCleanupInterval,
		BatchSize: defaultCleanupBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "idempotency-cleanup")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultCleanupInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultCleanupBatchSize
	}

	return &CleanupWorker{
		repo:      repo,
		logger:    logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
	}
}

// Run запускает периодическую очистку до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup is disabled: repo is nil")
		return
	}

	w.cleanup(ctx, time.Now().UTC())

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.cleanup(ctx, time.Now().UTC())
		}
	}
}

func (w *CleanupWorker) cleanup(ctx context.Context, before time.Time) {
	report, err := w.DeleteExpired(ctx, before)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		cleanupRunsTotal.WithLabelValues("error").Inc()
		w.logger.WithError(err).WithField("deleted", report.Deleted).Warn("idempotency cleanup failed")
		return
	}

	cleanupRunsTotal.WithLabelValues("ok").Inc()
	cleanupLastScopes.Set(float64(len(report.ByScope)))
	if report.Deleted == 0 {
		return
	}

	if len(report.Stale) > 0 {
		w.logger.WithFields(log.Fields{
			"count": len(report.Stale),
			"keys":  report.Stale[:min(maxLoggedScopes, len(report.Stale))],
		}).Warn("expired idempotency keys were still processing")
	}
	w.logger.
		WithFields(report.busiestScopes(maxLoggedScopes)).
		WithFields(log.Fields{"deleted": report.Deleted, "scopes": len(report.ByScope)}).
		Info("idempotency cleanup completed")
}

// DeleteExpired удаляет все ключи с ttl <= before порциями batchSize.
// При ошибке отчёт содержит то, что успели удалить.
func (w *CleanupWorker) DeleteExpired(ctx context.Context, before time.Time) (CleanupReport, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	report := newCleanupReport()
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		records, err := w.repo.DeleteExpired(ctx, before, w.batchSize)
		if err != nil {
			return report, err
		}

		report.add(records)
		for _, record := range records {
			cleanupDeletedTotal.WithLabelValues(string(record.State)).Inc()
		}

		if len(records) < w.batchSize {
			return report, nil
		}
	}
}
