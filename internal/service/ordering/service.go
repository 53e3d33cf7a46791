// Package ordering реализует создание заказов с атомарным резервированием стока,
// чтение заказов и переходы их статусов.
package ordering

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
	"github.com/vladislavdragonenkov/fulfillment/internal/validation"
)

const (
	// DefaultListLimit: размер страницы по умолчанию.
	DefaultListLimit = 20
	// MaxExternalListLimit: предел страницы для API-ключей.
	MaxExternalListLimit = 100
	// MaxInternalListLimit: предел страницы для пользователей платформы.
	MaxInternalListLimit = 500

	maxNumberAttempts    = 5
	maxTransitionRetries = 3
)

// Deps: зависимости сервиса заказов.
type Deps struct {
	Orders     domain.OrderRepository
	Products   domain.ProductRepository
	Merchants  domain.MerchantRepository
	Warehouses domain.WarehouseRepository
	Audit      domain.AuditRepository
	Validator  *validation.Validator
	Metrics    *metrics.FulfillmentMetrics
	Logger     *log.Entry
}

// Service: сценарии работы с заказами.
type Service struct {
	orders     domain.OrderRepository
	products   domain.ProductRepository
	merchants  domain.MerchantRepository
	warehouses domain.WarehouseRepository
	audit      domain.AuditRepository
	validator  *validation.Validator
	metrics    *metrics.FulfillmentMetrics
	logger     *log.Entry

	now     func() time.Time
	numbers func(time.Time) (string, error)
}

// New создаёт сервис заказов.
func New(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = log.New().WithField("component", "ordering")
	}
	v := deps.Validator
	if v == nil {
		v = validation.New(validation.DefaultRegion)
	}
	return &Service{
		orders:     deps.Orders,
		products:   deps.Products,
		merchants:  deps.Merchants,
		warehouses: deps.Warehouses,
		audit:      deps.Audit,
		validator:  v,
		metrics:    deps.Metrics,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		numbers:    NewOrderNumber,
	}
}
