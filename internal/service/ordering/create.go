package ordering

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
)

// AddressInput: адрес доставки в запросе.
type AddressInput struct {
	Line1      string `json:"line1" validate:"required,max=255"`
	Line2      string `json:"line2,omitempty" validate:"max=255"`
	Area       string `json:"area,omitempty" validate:"max=120"`
	City       string `json:"city" validate:"required,max=120"`
	PostalCode string `json:"postalCode,omitempty" validate:"max=20"`
	Country    string `json:"country,omitempty" validate:"max=60"`
}

// ItemInput: позиция заказа в запросе. Цена фиксируется на момент заказа.
type ItemInput struct {
	ProductID string          `json:"productId" validate:"required"`
	Quantity  int             `json:"quantity" validate:"gt=0"`
	UnitPrice decimal.Decimal `json:"unitPrice" validate:"gt=0,money"`
}

// CreateInput: тело запроса на создание заказа.
// MerchantID учитывается только для администратора платформы.
type CreateInput struct {
	MerchantID      string               `json:"merchantId,omitempty"`
	CustomerName    string               `json:"customerName" validate:"required,max=255"`
	CustomerEmail   string               `json:"customerEmail,omitempty" validate:"omitempty,email"`
	CustomerPhone   string               `json:"customerPhone" validate:"required,phone"`
	ShippingAddress AddressInput         `json:"shippingAddress"`
	Items           []ItemInput          `json:"items" validate:"min=1,dive"`
	DeliveryFee     decimal.Decimal      `json:"deliveryFee" validate:"gte=0,money"`
	PaymentMethod   domain.PaymentMethod `json:"paymentMethod,omitempty" validate:"omitempty,oneof=COD PREPAID CARD BANK_TRANSFER"`
	Notes           string               `json:"notes,omitempty" validate:"max=1000"`
}

// Create создаёт заказ: проверяет права и вход, атомарно резервирует сток
// и сохраняет заказ вместе с историей, аудитом и событием order.created.
func (s *Service) Create(ctx context.Context, caller domain.Principal, in CreateInput) (OrderDetails, error) {
	channel := metrics.ChannelInternal
	switch {
	case caller.Kind == domain.PrincipalAPIKey:
		if !caller.Can(domain.PermissionOrdersWrite) {
			return OrderDetails{}, fmt.Errorf("%w: api key lacks %s", domain.ErrForbidden, domain.PermissionOrdersWrite)
		}
		channel = metrics.ChannelExternal
	case !caller.HasRole(domain.RoleAdmin, domain.RoleMerchantAdmin, domain.RoleMerchantStaff):
		return OrderDetails{}, fmt.Errorf("%w: role cannot create orders", domain.ErrForbidden)
	}

	merchantID := in.MerchantID
	if !caller.IsAdmin() {
		merchantID = caller.MerchantID
	}
	merchantID = strings.TrimSpace(merchantID)
	if merchantID == "" {
		return OrderDetails{}, domain.NewValidationError("merchantId", "is required")
	}

	if err := s.validator.Struct(in); err != nil {
		s.reject("validation")
		return OrderDetails{}, err
	}
	phone, err := s.validator.NormalizePhone(in.CustomerPhone)
	if err != nil {
		s.reject("validation")
		return OrderDetails{}, domain.NewValidationError("customerPhone", "must be a valid phone number")
	}
	if in.PaymentMethod == "" {
		in.PaymentMethod = domain.PaymentCOD
	}

	merchant, err := s.merchants.Get(ctx, merchantID)
	if err != nil {
		return OrderDetails{}, err
	}
	if !merchant.IsActive {
		return OrderDetails{}, domain.ErrMerchantInactive
	}

	products, err := s.activeProducts(ctx, merchantID, in.Items)
	if err != nil {
		s.reject("products_unavailable")
		return OrderDetails{}, err
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return OrderDetails{}, fmt.Errorf("encode audit payload: %w", err)
	}

	var placed domain.Order
	for attempt := 1; ; attempt++ {
		number, err := s.numbers(s.now())
		if err != nil {
			return OrderDetails{}, err
		}
		placement, err := s.buildPlacement(caller, merchantID, number, phone, in, products, payload)
		if err != nil {
			return OrderDetails{}, err
		}

		started := time.Now()
		placed, err = s.orders.PlaceOrder(ctx, placement)
		if s.metrics != nil {
			s.metrics.RecordPlacementDuration(time.Since(started))
		}
		if err == nil {
			break
		}
		if errors.Is(err, domain.ErrOrderNumberConflict) && attempt < maxNumberAttempts {
			if s.metrics != nil {
				s.metrics.RecordOrderNumberRetry()
			}
			s.logger.WithFields(log.Fields{"order_number": number, "attempt": attempt}).Warn("order number collision, retrying")
			continue
		}
		if errors.Is(err, domain.ErrInsufficientStock) {
			s.reject("insufficient_stock")
		}
		return OrderDetails{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordOrderCreated(channel)
	}
	s.logger.WithFields(log.Fields{
		"order_id":     placed.ID,
		"order_number": placed.OrderNumber,
		"merchant_id":  placed.MerchantID,
		"channel":      channel,
	}).Info("order created")

	return s.details(ctx, caller, placed, &merchant), nil
}

// activeProducts загружает активные товары мерчанта. Если найдено меньше,
// чем различных товаров в запросе, заказ отклоняется целиком.
func (s *Service) activeProducts(ctx context.Context, merchantID string, items []ItemInput) (map[string]domain.Product, error) {
	ids := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}

	found, err := s.products.ListActive(ctx, merchantID, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	if len(found) != len(ids) {
		return nil, domain.ErrProductsUnavailable
	}

	result := make(map[string]domain.Product, len(found))
	for _, p := range found {
		result[p.ID] = p
	}
	return result, nil
}

func (s *Service) buildPlacement(
	caller domain.Principal,
	merchantID, number, phone string,
	in CreateInput,
	products map[string]domain.Product,
	auditPayload []byte,
) (domain.OrderPlacement, error) {
	now := s.now()
	orderID := uuid.NewString()

	items := make([]domain.OrderItem, 0, len(in.Items))
	for _, line := range in.Items {
		product := products[line.ProductID]
		items = append(items, domain.OrderItem{
			ID:          uuid.NewString(),
			OrderID:     orderID,
			ProductID:   product.ID,
			SKU:         product.SKU,
			ProductName: product.Name,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			CreatedAt:   now,
		})
	}

	order := domain.Order{
		ID:            orderID,
		OrderNumber:   number,
		MerchantID:    merchantID,
		CustomerName:  strings.TrimSpace(in.CustomerName),
		CustomerEmail: strings.TrimSpace(in.CustomerEmail),
		CustomerPhone: phone,
		ShippingAddress: domain.ShippingAddress{
			Line1:      in.ShippingAddress.Line1,
			Line2:      in.ShippingAddress.Line2,
			Area:       in.ShippingAddress.Area,
			City:       in.ShippingAddress.City,
			PostalCode: in.ShippingAddress.PostalCode,
			Country:    in.ShippingAddress.Country,
		},
		PaymentMethod: in.PaymentMethod,
		Notes:         in.Notes,
		Status:        domain.OrderStatusPending,
		DeliveryFee:   in.DeliveryFee,
		Items:         items,
		CreatedBy:     caller.ID,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	order.ComputeTotals()
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.OrderPlacement{}, fmt.Errorf("build order: %w", errors.Join(errs...))
	}

	event, err := json.Marshal(domain.OrderCreatedPayload{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		MerchantID:    order.MerchantID,
		CustomerName:  order.CustomerName,
		CustomerEmail: order.CustomerEmail,
		CustomerPhone: order.CustomerPhone,
		TotalAmount:   order.TotalAmount.StringFixed(2),
		PaymentMethod: string(order.PaymentMethod),
		ItemCount:     len(order.Items),
	})
	if err != nil {
		return domain.OrderPlacement{}, fmt.Errorf("encode order event: %w", err)
	}

	return domain.OrderPlacement{
		Order: order,
		History: domain.OrderStatusHistory{
			ID:        uuid.NewString(),
			OrderID:   orderID,
			Status:    domain.OrderStatusPending,
			Note:      "order created",
			ChangedBy: caller.ID,
			CreatedAt: now,
		},
		Audit: domain.AuditEntry{
			ID:         uuid.NewString(),
			ActorID:    caller.ID,
			ActorKind:  caller.Kind,
			MerchantID: merchantID,
			Action:     domain.AuditOrderCreated,
			EntityType: domain.AggregateOrder,
			EntityID:   orderID,
			Payload:    auditPayload,
			CreatedAt:  now,
		},
		Events: []domain.OutboxMessage{{
			ID:            uuid.NewString(),
			AggregateType: domain.AggregateOrder,
			AggregateID:   orderID,
			EventType:     domain.EventOrderCreated,
			Payload:       event,
			CreatedAt:     now,
		}},
	}, nil
}

func (s *Service) reject(reason string) {
	if s.metrics != nil {
		s.metrics.RecordOrderRejected(reason)
	}
}
