package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const (
	defaultPollInterval   = 500 * time.Millisecond
	defaultBatchSize      = 50
	defaultMaxAttempts    = 5
	defaultRetryBaseDelay = time.Second
	defaultConcurrency    = 8

	notificationTypeOrderCreated = "order_created"
)

var notifyJobs = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fulfillment_notify_jobs_total",
	Help: "Total number of notification jobs processed grouped by step and result.",
}, []string{"step", "result"})

var notificationNamespace = uuid.MustParse("6f1c2a4e-8d3b-5e7a-9c10-4b2f8e6d0a13")

// DispatcherOptions задаёт параметры диспетчера.
type DispatcherOptions struct {
	Logger         *log.Entry
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	Concurrency    int
}

// Option настраивает Dispatcher.
type Option func(*DispatcherOptions)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *DispatcherOptions) { opts.Logger = logger }
}

// WithPollInterval задаёт частоту опроса очереди.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *DispatcherOptions) { opts.PollInterval = interval }
}

// WithBatchSize задаёт число задач, забираемых за цикл.
func WithBatchSize(size int) Option {
	return func(opts *DispatcherOptions) { opts.BatchSize = size }
}

// WithMaxAttempts задаёт число попыток шага.
func WithMaxAttempts(attempts int) Option {
	return func(opts *DispatcherOptions) { opts.MaxAttempts = attempts }
}

// WithRetryBaseDelay задаёт базовую задержку экспоненциального backoff.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(opts *DispatcherOptions) { opts.RetryBaseDelay = delay }
}

// WithConcurrency ограничивает число одновременно исполняемых задач.
func WithConcurrency(n int) Option {
	return func(opts *DispatcherOptions) { opts.Concurrency = n }
}

// Dispatcher исполняет задачи рассылки. Ошибка шага приводит к повтору
// только этого шага, заказ и остальные шаги от неё не зависят.
type Dispatcher struct {
	queue         Queue
	mailer        Mailer
	merchants     domain.MerchantRepository
	users         domain.UserRepository
	notifications domain.NotificationRepository

	logger         *log.Entry
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
	slots          chan struct{}
	now            func() time.Time

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// NewDispatcher создаёт диспетчер.
func NewDispatcher(
	queue Queue,
	mailer Mailer,
	merchants domain.MerchantRepository,
	users domain.UserRepository,
	notifications domain.NotificationRepository,
	options ...Option,
) *Dispatcher {
	opts := DispatcherOptions{
		PollInterval:   defaultPollInterval,
		BatchSize:      defaultBatchSize,
		MaxAttempts:    defaultMaxAttempts,
		RetryBaseDelay: defaultRetryBaseDelay,
		Concurrency:    defaultConcurrency,
	}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "notify-dispatcher")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryBaseDelay < 0 {
		opts.RetryBaseDelay = 0
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}

	return &Dispatcher{
		queue:          queue,
		mailer:         mailer,
		merchants:      merchants,
		users:          users,
		notifications:  notifications,
		logger:         opts.Logger,
		pollInterval:   opts.PollInterval,
		batchSize:      opts.BatchSize,
		maxAttempts:    opts.MaxAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		slots:          make(chan struct{}, opts.Concurrency),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Run опрашивает очередь до отмены ctx.
func (d *Dispatcher) Run(ctx context.Context) {
	if d.queue == nil {
		d.logger.Warn("notify dispatcher is disabled: queue is nil")
		return
	}

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		// Полный батч означает, что в очереди могут остаться готовые задачи.
		for d.ProcessOnce(ctx) == d.batchSize && ctx.Err() == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce забирает готовые задачи, исполняет их и возвращает их число.
func (d *Dispatcher) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil || d.isClosed() {
		return 0
	}

	jobs, err := d.queue.Claim(ctx, d.now(), d.batchSize)
	if err != nil {
		d.logger.WithError(err).Warn("failed to claim notification jobs")
	}
	if len(jobs) == 0 {
		return 0
	}

	var batch sync.WaitGroup
	for _, job := range jobs {
		batch.Add(1)
		job := job
		if !d.runAsync(job, func() {
			defer batch.Done()
			d.execute(ctx, job)
		}) {
			batch.Done()
			if err := d.queue.Enqueue(context.WithoutCancel(ctx), job, d.now()); err != nil {
				d.logger.WithError(err).WithField("job_id", job.ID).Error("failed to return notification job to queue")
			}
		}
	}
	batch.Wait()
	return len(jobs)
}

// runAsync запускает задачу в отдельной горутине, ограничивая параллелизм.
func (d *Dispatcher) runAsync(job Job, fn func()) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.WithField("job_id", job.ID).Warn("notification dispatch skipped during shutdown")
		return false
	}
	d.inflight.Add(1)
	d.mu.Unlock()

	d.slots <- struct{}{}
	go func() {
		defer func() {
			<-d.slots
			d.inflight.Done()
		}()
		fn()
	}()
	return true
}

func (d *Dispatcher) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Shutdown прекращает приём задач и ждёт завершения начатых.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	waitDone := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) execute(ctx context.Context, job Job) {
	err := d.handle(ctx, job)
	if err == nil {
		notifyJobs.WithLabelValues(string(job.Step), "sent").Inc()
		return
	}
	d.reschedule(context.WithoutCancel(ctx), job, err)
}

func (d *Dispatcher) reschedule(ctx context.Context, job Job, cause error) {
	entry := d.logger.WithError(cause).WithFields(log.Fields{
		"job_id":   job.ID,
		"step":     job.Step,
		"order_id": job.Order.OrderID,
		"attempt":  job.Attempt + 1,
	})

	job.Attempt++
	if job.Attempt >= d.maxAttempts {
		notifyJobs.WithLabelValues(string(job.Step), "dropped").Inc()
		entry.Error("notification step failed, giving up")
		return
	}

	if err := d.queue.Enqueue(ctx, job, d.now().Add(d.retryBackoff(job.Attempt))); err != nil {
		notifyJobs.WithLabelValues(string(job.Step), "lost").Inc()
		entry.WithField("requeue_error", err.Error()).Error("failed to requeue notification job")
		return
	}
	notifyJobs.WithLabelValues(string(job.Step), "retry").Inc()
	entry.Warn("notification step failed, retry scheduled")
}

func (d *Dispatcher) retryBackoff(attempt int) time.Duration {
	if d.retryBaseDelay <= 0 {
		return 0
	}
	delay := d.retryBaseDelay
	for i := 1; i < attempt && delay < time.Hour; i++ {
		delay *= 2
	}
	return min(delay, time.Hour)
}

func (d *Dispatcher) handle(ctx context.Context, job Job) error {
	order := job.Order
	switch job.Step {
	case StepWarehouseRole:
		return d.notifyRole(ctx, domain.RoleWarehouseStaff, job)
	case StepAdminRole:
		return d.notifyRole(ctx, domain.RoleAdmin, job)
	case StepCustomerEmail:
		if order.CustomerEmail == "" {
			return nil
		}
		return d.mailer.Send(ctx, Email{
			To:      order.CustomerEmail,
			Subject: fmt.Sprintf("Your order %s has been received", order.OrderNumber),
			Body: fmt.Sprintf("Dear %s, we have received your order %s. Total: %s (%s).",
				order.CustomerName, order.OrderNumber, order.TotalAmount, order.PaymentMethod),
		})
	case StepMerchantEmail:
		to, err := d.merchantEmail(ctx, order.MerchantID)
		if err != nil {
			return err
		}
		if to == "" {
			d.logger.WithField("merchant_id", order.MerchantID).Warn("merchant has no email, skipping order email")
			return nil
		}
		return d.mailer.Send(ctx, Email{
			To:      to,
			Subject: fmt.Sprintf("New order %s", order.OrderNumber),
			Body: fmt.Sprintf("Order %s from %s, %d item(s), total %s.",
				order.OrderNumber, order.CustomerName, order.ItemCount, order.TotalAmount),
		})
	case StepMerchantNotice:
		admins, err := d.users.FindByMerchantRole(ctx, order.MerchantID, domain.RoleMerchantAdmin)
		if err != nil {
			return fmt.Errorf("find merchant admins: %w", err)
		}
		for _, admin := range admins {
			if err := d.notifications.Create(ctx, d.notification(job, admin.ID, "")); err != nil {
				return fmt.Errorf("notify merchant admin: %w", err)
			}
		}
		return nil
	default:
		d.logger.WithField("step", job.Step).Warn("unknown notification step dropped")
		return nil
	}
}

func (d *Dispatcher) notifyRole(ctx context.Context, role domain.Role, job Job) error {
	if err := d.notifications.Create(ctx, d.notification(job, "", role)); err != nil {
		return fmt.Errorf("notify role %s: %w", role, err)
	}
	return nil
}

// merchantEmail выбирает адрес первого администратора мерчанта,
// при его отсутствии — адрес самого мерчанта.
func (d *Dispatcher) merchantEmail(ctx context.Context, merchantID string) (string, error) {
	admins, err := d.users.FindByMerchantRole(ctx, merchantID, domain.RoleMerchantAdmin)
	if err != nil {
		return "", fmt.Errorf("find merchant admins: %w", err)
	}
	for _, admin := range admins {
		if admin.Email != "" {
			return admin.Email, nil
		}
	}
	merchant, err := d.merchants.Get(ctx, merchantID)
	if err != nil {
		if errors.Is(err, domain.ErrMerchantNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("load merchant: %w", err)
	}
	return merchant.Email, nil
}

// notification выводит ID из задачи и получателя, поэтому повтор шага
// не создаёт дубликатов у тех, кому уведомление уже записано.
func (d *Dispatcher) notification(job Job, userID string, role domain.Role) domain.Notification {
	order := job.Order
	return domain.Notification{
		ID:        NotificationID(job.ID, userID, role),
		UserID:    userID,
		Role:      role,
		Type:      notificationTypeOrderCreated,
		Title:     "New order " + order.OrderNumber,
		Message:   fmt.Sprintf("%s placed order %s for %s.", order.CustomerName, order.OrderNumber, order.TotalAmount),
		OrderID:   order.OrderID,
		CreatedAt: d.now(),
	}
}

// NotificationID: детерминированный UUID уведомления для шага рассылки.
func NotificationID(jobID, userID string, role domain.Role) string {
	return uuid.NewSHA1(notificationNamespace, []byte(jobID+"|"+userID+"|"+string(role))).String()
}
