package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// DefaultTTL: время жизни сохранённого ответа.
const DefaultTTL = 24 * time.Hour

var (
	// ErrInProgress: запрос с тем же ключом ещё обрабатывается.
	ErrInProgress = errors.New("request with the same idempotency key is already processing")
	// ErrKeyReused: ключ уже использован с другим телом запроса.
	ErrKeyReused = errors.New("idempotency key is already used with different request payload")
)

// Response: ответ, сохраняемый под ключом. Status хранится в HTTP-семантике.
// Transient-отказ не сохраняется: ключ освобождается для повтора.
type Response struct {
	Status    int
	Body      []byte
	Failed    bool
	Transient bool
}

// Failure собирает ответ об ошибке. Сбои сервера и нехватка остатка
// считаются временными.
func Failure(status int, body []byte, err error) Response {
	return Response{
		Status:    status,
		Body:      body,
		Failed:    true,
		Transient: status >= http.StatusInternalServerError || errors.Is(err, domain.ErrInsufficientStock),
	}
}

// StorageKey склеивает область (обычно ID вызывающего) и клиентский ключ.
func StorageKey(scope, key string) string {
	if scope == "" {
		return key
	}
	return scope + ":" + key
}

// SplitKey разбирает ключ хранилища обратно на область и клиентский ключ.
func SplitKey(storageKey string) (scope, key string) {
	scope, key, ok := strings.Cut(storageKey, ":")
	if !ok {
		return "", storageKey
	}
	return scope, key
}

// Guard исполняет обработчик не более одного раза на ключ и
// повторно отдаёт сохранённый ответ.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	logger *log.Entry
	now    func() time.Time
}

// NewGuard создаёт Guard. Без репозитория обработчик вызывается напрямую.
func NewGuard(repo domain.IdempotencyRepository, ttl time.Duration, logger *log.Entry) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.WithField("component", "idempotency")
	}
	return &Guard{
		repo:   repo,
		ttl:    ttl,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Do выполняет handler под ключом scope:key. replayed=true означает,
// что ответ взят из хранилища. Ключи разных scope не пересекаются.
func (g *Guard) Do(
	ctx context.Context,
	scope, key, requestHash string,
	handler func(context.Context) Response,
) (resp Response, replayed bool, err error) {
	key = strings.TrimSpace(key)
	if g == nil || g.repo == nil || key == "" {
		return handler(ctx), false, nil
	}
	storageKey := StorageKey(scope, key)

	record, err := g.repo.CreateProcessing(ctx, storageKey, requestHash, g.now().Add(g.ttl))
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return Response{}, false, ErrKeyReused
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.State {
		case domain.IdempotencyStatusDone:
			return Response{Status: record.Status, Body: record.ResponseBody}, true, nil
		case domain.IdempotencyStatusFailed:
			return Response{Status: record.Status, Body: record.ResponseBody, Failed: true}, true, nil
		case domain.IdempotencyStatusProcessing:
			return Response{}, false, ErrInProgress
		default:
			return Response{}, false, fmt.Errorf("unknown idempotency record state %q", record.State)
		}
	default:
		return Response{}, false, fmt.Errorf("create idempotency record: %w", err)
	}

	resp = handler(ctx)

	// Ответ сохраняется даже при отменённом контексте запроса.
	storeCtx := context.WithoutCancel(ctx)
	switch {
	case resp.Failed && resp.Transient:
		err = g.repo.Delete(storeCtx, storageKey)
	case resp.Failed:
		err = g.repo.MarkFailed(storeCtx, storageKey, resp.Body, resp.Status)
	default:
		err = g.repo.MarkDone(storeCtx, storageKey, resp.Body, resp.Status)
	}
	if err != nil {
		g.logger.WithError(err).WithField("idempotency_key", storageKey).Warn("failed to store idempotent response")
	}
	return resp, false, nil
}

// RequestHash возвращает SHA-256 от операции и тела запроса.
func RequestHash(operation string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(operation))
	h.Write([]byte{':'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
