// Package catalog управляет товарами, складами и складскими остатками.
// Все изменения остатков вне заказов проходят через domain.StockRepository.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
	"github.com/vladislavdragonenkov/fulfillment/internal/validation"
)

const (
	// DefaultWarehouseCity: город склада, создаваемого при первой правке остатка.
	DefaultWarehouseCity = "Dhaka"

	defaultMovementLimit = 50
	maxMovementLimit     = 500
	maxCodeAttempts      = 3
)

// Deps: зависимости сервиса каталога.
type Deps struct {
	Products             domain.ProductRepository
	Warehouses           domain.WarehouseRepository
	Stock                domain.StockRepository
	Validator            *validation.Validator
	Metrics              *metrics.FulfillmentMetrics
	Logger               *log.Entry
	DefaultWarehouseCity string
}

// Service: сценарии каталога и склада.
type Service struct {
	products    domain.ProductRepository
	warehouses  domain.WarehouseRepository
	stock       domain.StockRepository
	validator   *validation.Validator
	metrics     *metrics.FulfillmentMetrics
	logger      *log.Entry
	defaultCity string
	now         func() time.Time
}

// New создаёт сервис каталога.
func New(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = log.New().WithField("component", "catalog")
	}
	v := deps.Validator
	if v == nil {
		v = validation.New(validation.DefaultRegion)
	}
	city := strings.TrimSpace(deps.DefaultWarehouseCity)
	if city == "" {
		city = DefaultWarehouseCity
	}
	return &Service{
		products:    deps.Products,
		warehouses:  deps.Warehouses,
		stock:       deps.Stock,
		validator:   v,
		metrics:     deps.Metrics,
		logger:      logger,
		defaultCity: city,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateProductInput: тело запроса на создание товара.
// Quantity > 0 сразу заводит остаток на складе по умолчанию.
type CreateProductInput struct {
	MerchantID   string          `json:"merchantId,omitempty"`
	SKU          string          `json:"sku" validate:"required,max=64"`
	Name         string          `json:"name" validate:"required,max=255"`
	Description  string          `json:"description,omitempty" validate:"max=2000"`
	UnitPrice    decimal.Decimal `json:"unitPrice" validate:"gt=0,money"`
	ReorderLevel int             `json:"reorderLevel" validate:"gte=0"`
	Quantity     int             `json:"quantity" validate:"gte=0"`
}

// UpdateProductInput: частичное обновление товара.
type UpdateProductInput struct {
	Name         *string          `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	Description  *string          `json:"description,omitempty" validate:"omitempty,max=2000"`
	UnitPrice    *decimal.Decimal `json:"unitPrice,omitempty" validate:"omitempty,gt=0,money"`
	ReorderLevel *int             `json:"reorderLevel,omitempty" validate:"omitempty,gte=0"`
	IsActive     *bool            `json:"isActive,omitempty"`
	Quantity     *int             `json:"quantity,omitempty" validate:"omitempty,gte=0"`
}

// ProductStock: товар с остатками по складам.
type ProductStock struct {
	Product domain.Product
	Items   []domain.StockCandidate
}

// Totals суммирует остатки по всем складам.
func (p ProductStock) Totals() (quantity, reserved, available int) {
	for _, c := range p.Items {
		quantity += c.Item.Quantity
		reserved += c.Item.Reserved
		available += c.Item.Available
	}
	return quantity, reserved, available
}

// CreateProduct создаёт товар мерчанта.
func (s *Service) CreateProduct(ctx context.Context, caller domain.Principal, in CreateProductInput) (ProductStock, error) {
	if !caller.HasRole(domain.RoleAdmin, domain.RoleMerchantAdmin, domain.RoleMerchantStaff) {
		return ProductStock{}, fmt.Errorf("%w: role cannot manage products", domain.ErrForbidden)
	}
	if err := s.validator.Struct(in); err != nil {
		return ProductStock{}, err
	}
	merchantID := in.MerchantID
	if !caller.IsAdmin() {
		merchantID = caller.MerchantID
	}
	if strings.TrimSpace(merchantID) == "" {
		return ProductStock{}, domain.NewValidationError("merchantId", "is required")
	}

	now := s.now()
	product := domain.Product{
		ID:           uuid.NewString(),
		MerchantID:   merchantID,
		SKU:          strings.ToUpper(strings.TrimSpace(in.SKU)),
		Name:         strings.TrimSpace(in.Name),
		Description:  in.Description,
		UnitPrice:    in.UnitPrice,
		ReorderLevel: in.ReorderLevel,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.products.Create(ctx, product); err != nil {
		return ProductStock{}, err
	}
	s.logger.WithFields(log.Fields{"product_id": product.ID, "sku": product.SKU, "merchant_id": merchantID}).Info("product created")

	if in.Quantity > 0 {
		if _, err := s.adjust(ctx, caller, product, in.Quantity, "initial stock"); err != nil {
			return ProductStock{}, err
		}
	}
	return s.productStock(ctx, product)
}

// UpdateProduct применяет частичное обновление. Quantity выставляет фактический
// остаток через складской учёт, резервы не меняются.
func (s *Service) UpdateProduct(ctx context.Context, caller domain.Principal, id string, in UpdateProductInput) (ProductStock, error) {
	if !caller.HasRole(domain.RoleAdmin, domain.RoleMerchantAdmin, domain.RoleMerchantStaff) {
		return ProductStock{}, fmt.Errorf("%w: role cannot manage products", domain.ErrForbidden)
	}
	if err := s.validator.Struct(in); err != nil {
		return ProductStock{}, err
	}

	product, err := s.ownedProduct(ctx, caller, id)
	if err != nil {
		return ProductStock{}, err
	}

	patch := domain.ProductPatch{
		Name:         in.Name,
		Description:  in.Description,
		UnitPrice:    in.UnitPrice,
		ReorderLevel: in.ReorderLevel,
		IsActive:     in.IsActive,
		Quantity:     in.Quantity,
	}
	if patch.Name != nil || patch.Description != nil || patch.UnitPrice != nil || patch.ReorderLevel != nil || patch.IsActive != nil {
		patch.Apply(&product)
		product.UpdatedAt = s.now()
		if err := s.products.Update(ctx, product); err != nil {
			return ProductStock{}, err
		}
	}

	if patch.Quantity != nil {
		if _, err := s.adjust(ctx, caller, product, *patch.Quantity, "product quantity edit"); err != nil {
			return ProductStock{}, err
		}
	}
	return s.productStock(ctx, product)
}

// Stock возвращает остатки товара по складам.
func (s *Service) Stock(ctx context.Context, caller domain.Principal, productID string) (ProductStock, error) {
	product, err := s.ownedProduct(ctx, caller, productID)
	if err != nil {
		return ProductStock{}, err
	}
	return s.productStock(ctx, product)
}

// Movements возвращает журнал движений товара, новые первыми.
func (s *Service) Movements(ctx context.Context, caller domain.Principal, productID string, limit int) ([]domain.StockMovement, error) {
	if _, err := s.ownedProduct(ctx, caller, productID); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = defaultMovementLimit
	case limit > maxMovementLimit:
		limit = maxMovementLimit
	}
	return s.stock.MovementsByProduct(ctx, productID, limit)
}

// ReceiveInput: приход товара на склад.
type ReceiveInput struct {
	ProductID   string `json:"productId" validate:"required"`
	WarehouseID string `json:"warehouseId" validate:"required"`
	Quantity    int    `json:"quantity" validate:"gt=0"`
	Note        string `json:"note,omitempty" validate:"max=500"`
}

// Receive приходует товар на склад с движением STOCK_IN.
func (s *Service) Receive(ctx context.Context, caller domain.Principal, in ReceiveInput) (domain.StockItem, error) {
	if !caller.HasRole(domain.RoleAdmin, domain.RoleWarehouseStaff) {
		return domain.StockItem{}, fmt.Errorf("%w: only warehouse staff receive stock", domain.ErrForbidden)
	}
	if err := s.validator.Struct(in); err != nil {
		return domain.StockItem{}, err
	}

	item, mv, err := s.stock.Receive(ctx, domain.StockReceipt{
		ProductID:   in.ProductID,
		WarehouseID: in.WarehouseID,
		Quantity:    in.Quantity,
		Note:        strings.TrimSpace(in.Note),
		ActorID:     caller.ID,
		At:          s.now(),
	})
	if err != nil {
		return domain.StockItem{}, err
	}
	s.recordMovement(mv)
	s.logger.WithFields(log.Fields{
		"product_id":   item.ProductID,
		"warehouse_id": item.WarehouseID,
		"quantity":     in.Quantity,
		"available":    item.Available,
	}).Info("stock received")
	return item, nil
}

// LowStock возвращает позиции, достигшие порога дозаказа.
func (s *Service) LowStock(ctx context.Context, caller domain.Principal, merchantID string, limit int) ([]domain.StockItem, error) {
	if caller.Kind != domain.PrincipalUser || !caller.Role.Valid() {
		return nil, domain.ErrForbidden
	}
	if limit <= 0 || limit > maxMovementLimit {
		limit = maxMovementLimit
	}
	return s.stock.LowStock(ctx, caller.ScopeMerchant(merchantID), limit)
}

// adjust выставляет фактический остаток. Если складских позиций у товара ещё нет,
// позиция заводится на складе по умолчанию.
func (s *Service) adjust(ctx context.Context, caller domain.Principal, product domain.Product, quantity int, note string) (domain.StockItem, error) {
	existing, err := s.stock.ListByProduct(ctx, product.ID)
	if err != nil {
		return domain.StockItem{}, fmt.Errorf("load stock: %w", err)
	}
	var fallbackID string
	if len(existing) == 0 {
		fallback, err := s.ensureDefaultWarehouse(ctx)
		if err != nil {
			return domain.StockItem{}, err
		}
		fallbackID = fallback.ID
	}

	item, mv, err := s.stock.Adjust(ctx, domain.StockAdjustment{
		ProductID:           product.ID,
		Quantity:            quantity,
		FallbackWarehouseID: fallbackID,
		Note:                note,
		ActorID:             caller.ID,
		At:                  s.now(),
	})
	if err != nil {
		return domain.StockItem{}, err
	}
	s.recordMovement(mv)
	s.logger.WithFields(log.Fields{
		"product_id":   product.ID,
		"warehouse_id": item.WarehouseID,
		"quantity":     item.Quantity,
		"reserved":     item.Reserved,
	}).Info("stock adjusted")
	return item, nil
}

// ensureDefaultWarehouse возвращает первый активный склад или создаёт склад по умолчанию.
func (s *Service) ensureDefaultWarehouse(ctx context.Context) (domain.Warehouse, error) {
	wh, err := s.warehouses.FirstActive(ctx)
	if err == nil {
		return wh, nil
	}
	if !errors.Is(err, domain.ErrWarehouseNotFound) {
		return domain.Warehouse{}, err
	}
	wh, err = s.createWarehouse(ctx, WarehouseInput{Name: s.defaultCity + " Main Warehouse", City: s.defaultCity})
	if err != nil {
		return domain.Warehouse{}, fmt.Errorf("create default warehouse: %w", err)
	}
	s.logger.WithField("warehouse_code", wh.Code).Warn("no active warehouse, default warehouse created")
	return wh, nil
}

func (s *Service) ownedProduct(ctx context.Context, caller domain.Principal, id string) (domain.Product, error) {
	if caller.Kind != domain.PrincipalUser || !caller.Role.Valid() {
		return domain.Product{}, domain.ErrForbidden
	}
	product, err := s.products.Get(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	if !caller.SeesAllMerchants() && product.MerchantID != caller.MerchantID {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

func (s *Service) productStock(ctx context.Context, product domain.Product) (ProductStock, error) {
	items, err := s.stock.ListByProduct(ctx, product.ID)
	if err != nil {
		return ProductStock{}, fmt.Errorf("load stock: %w", err)
	}
	return ProductStock{Product: product, Items: items}, nil
}

func (s *Service) recordMovement(mv domain.StockMovement) {
	if s.metrics != nil {
		s.metrics.RecordStockMovement(string(mv.Type), string(mv.ReferenceType))
	}
}
