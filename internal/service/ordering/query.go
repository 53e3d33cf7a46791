package ordering

import (
	"context"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// WarehouseRef — склад, из которого зарезервирован товар.
// Address пуст, если склад скрыт от мерчанта.
type WarehouseRef struct {
	ID      string
	Code    string
	Name    string
	City    string
	Address string
}

// OrderDetails: заказ с мерчантом и складами распределения.
type OrderDetails struct {
	Order      domain.Order
	Merchant   *domain.Merchant
	Warehouses map[string]WarehouseRef
}

// Get возвращает заказ, видимый вызывающему. Заказы чужого мерчанта
// неотличимы от несуществующих.
func (s *Service) Get(ctx context.Context, caller domain.Principal, id string) (OrderDetails, error) {
	if err := canRead(caller); err != nil {
		return OrderDetails{}, err
	}

	order, err := s.orders.Get(ctx, id)
	if err != nil {
		return OrderDetails{}, err
	}
	if !visible(caller, order) {
		return OrderDetails{}, domain.ErrOrderNotFound
	}
	return s.details(ctx, caller, order, nil), nil
}

// History возвращает журнал статусов заказа.
func (s *Service) History(ctx context.Context, caller domain.Principal, id string) ([]domain.OrderStatusHistory, error) {
	if _, err := s.Get(ctx, caller, id); err != nil {
		return nil, err
	}
	return s.orders.History(ctx, id)
}

// AuditTrail возвращает журнал аудита заказа. Доступен только SJFS_ADMIN.
func (s *Service) AuditTrail(ctx context.Context, caller domain.Principal, id string) ([]domain.AuditEntry, error) {
	if caller.Kind != domain.PrincipalUser || caller.Role != domain.RoleAdmin {
		return nil, domain.ErrForbidden
	}
	if _, err := s.orders.Get(ctx, id); err != nil {
		return nil, err
	}
	if s.audit == nil {
		return []domain.AuditEntry{}, nil
	}
	entries, err := s.audit.List(ctx, domain.AggregateOrder, id)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}

// List возвращает страницу заказов. Мерчант-роли и API-ключи видят только свои заказы,
// limit ограничивается в зависимости от канала.
func (s *Service) List(ctx context.Context, caller domain.Principal, filter domain.OrderFilter) (domain.Page[domain.Order], error) {
	if err := canRead(caller); err != nil {
		return domain.Page[domain.Order]{}, err
	}

	filter.MerchantID = caller.ScopeMerchant(filter.MerchantID)
	if filter.Status != "" && !filter.Status.Valid() {
		return domain.Page[domain.Order]{}, domain.NewValidationError("status", "is not a valid order status")
	}
	if filter.PaymentMethod != "" && !filter.PaymentMethod.Valid() {
		return domain.Page[domain.Order]{}, domain.NewValidationError("paymentMethod", "is not a valid payment method")
	}

	maxLimit := MaxInternalListLimit
	if caller.Kind == domain.PrincipalAPIKey {
		maxLimit = MaxExternalListLimit
	}
	filter.Limit = clampLimit(filter.Limit, maxLimit)
	if filter.Page < 1 {
		filter.Page = 1
	}

	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.Page[domain.Order]{}, fmt.Errorf("list orders: %w", err)
	}
	return page, nil
}

func clampLimit(limit, maxLimit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > maxLimit:
		return maxLimit
	default:
		return limit
	}
}

func canRead(caller domain.Principal) error {
	switch caller.Kind {
	case domain.PrincipalAPIKey:
		if !caller.Can(domain.PermissionOrdersRead) {
			return fmt.Errorf("%w: api key lacks %s", domain.ErrForbidden, domain.PermissionOrdersRead)
		}
		return nil
	case domain.PrincipalUser:
		if !caller.Role.Valid() {
			return domain.ErrForbidden
		}
		return nil
	default:
		return domain.ErrUnauthenticated
	}
}

func visible(caller domain.Principal, order domain.Order) bool {
	return caller.SeesAllMerchants() || order.MerchantID == caller.MerchantID
}

// details дополняет заказ мерчантом и складами. Ошибки дозагрузки не
// прерывают ответ: заказ уже сохранён, справочные данные вторичны.
func (s *Service) details(ctx context.Context, caller domain.Principal, order domain.Order, merchant *domain.Merchant) OrderDetails {
	result := OrderDetails{Order: order, Merchant: merchant, Warehouses: make(map[string]WarehouseRef)}

	if result.Merchant == nil && s.merchants != nil {
		m, err := s.merchants.Get(ctx, order.MerchantID)
		switch {
		case err == nil:
			result.Merchant = &m
		case !errors.Is(err, domain.ErrMerchantNotFound):
			s.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to load order merchant")
		}
	}

	if s.warehouses == nil {
		return result
	}
	for _, item := range order.Items {
		for _, a := range item.Allocations {
			if _, ok := result.Warehouses[a.WarehouseID]; ok {
				continue
			}
			w, err := s.warehouses.Get(ctx, a.WarehouseID)
			if err != nil {
				s.logger.WithError(err).WithField("warehouse_id", a.WarehouseID).Warn("failed to load allocation warehouse")
				continue
			}
			ref := WarehouseRef{ID: w.ID, Code: w.Code, Name: w.Name, City: w.City}
			if w.MerchantVisible || caller.SeesAllMerchants() {
				ref.Address = w.Address
			}
			result.Warehouses[w.ID] = ref
		}
	}
	return result
}
