// Package httpapi — REST-адаптер сервиса: внутренний API для пользователей
// платформы (JWT) и внешний API для интеграций мерчантов (X-API-Key).
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/accounts"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/catalog"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/idempotency"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/ordering"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/returns"
)

const (
	defaultRequestTimeout = 30 * time.Second
	maxBodyBytes          = 1 << 20

	headerAPIKey          = "X-API-Key"
	headerIdempotencyKey  = "Idempotency-Key"
	headerIdempotentReply = "Idempotent-Replayed"
)

// TokenVerifier проверяет bearer-токен пользователя платформы.
type TokenVerifier interface {
	Verify(raw string) (domain.Principal, error)
}

// KeyAuthenticator проверяет API-ключ интеграции.
type KeyAuthenticator interface {
	Authenticate(ctx context.Context, raw string) (domain.Principal, error)
}

// Deps — зависимости REST-адаптера.
type Deps struct {
	Orders      *ordering.Service
	Returns     *returns.Service
	Catalog     *catalog.Service
	Accounts    *accounts.Service
	Tokens      TokenVerifier
	Keys        KeyAuthenticator
	RequestLogs domain.APIRequestLogRepository
	Idempotency *idempotency.Guard
	Logger      *log.Entry
	Timeout     time.Duration
}

type server struct {
	orders      *ordering.Service
	returns     *returns.Service
	catalog     *catalog.Service
	accounts    *accounts.Service
	tokens      TokenVerifier
	keys        KeyAuthenticator
	requestLogs domain.APIRequestLogRepository
	idempotency *idempotency.Guard
	logger      *log.Entry
	now         func() time.Time
}

// NewRouter собирает chi-роутер со всеми маршрутами API.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "http")
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	s := &server{
		orders:      deps.Orders,
		returns:     deps.Returns,
		catalog:     deps.Catalog,
		accounts:    deps.Accounts,
		tokens:      deps.Tokens,
		keys:        deps.Keys,
		requestLogs: deps.RequestLogs,
		idempotency: deps.Idempotency,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/external", func(r chi.Router) {
			r.Use(s.requireAPIKey)
			r.Use(s.recordExternalCall)

			r.Post("/orders", s.createOrder)
			r.Get("/orders", s.listOrders)
			r.Get("/orders/{id}", s.getOrder)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)

			r.Post("/orders", s.createOrder)
			r.Get("/orders", s.listOrders)
			r.Get("/orders/{id}", s.getOrder)
			r.Put("/orders/{id}", s.transitionOrder)
			r.Get("/orders/{id}/history", s.orderHistory)
			r.Get("/orders/{id}/audit", s.orderAudit)

			r.Post("/returns", s.createReturn)
			r.Get("/returns", s.listReturns)
			r.Put("/returns/{id}", s.decideReturn)
			r.Post("/refund-requests", s.createRefund)
			r.Get("/refund-requests", s.listRefunds)
			r.Put("/refund-requests/{id}", s.decideRefund)

			r.Post("/products", s.createProduct)
			r.Put("/products/{id}", s.updateProduct)
			r.Get("/products/{id}/stock", s.productStock)
			r.Get("/products/{id}/movements", s.productMovements)
			r.Post("/stock/receive", s.receiveStock)
			r.Get("/stock/low", s.lowStock)
			r.Post("/warehouses", s.createWarehouse)
			r.Get("/warehouses", s.listWarehouses)

			r.Post("/merchants", s.createMerchant)
			r.Post("/users", s.createUser)
			r.Post("/api-keys", s.issueAPIKey)
			r.Get("/notifications", s.listNotifications)
		})
	})

	return r
}
