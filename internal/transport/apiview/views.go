// Package apiview описывает JSON-представления ответов API и классификацию
// ошибок. Внутренний REST, внешний REST и gRPC отдают одинаковые формы.
package apiview

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/accounts"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/catalog"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/ordering"
)

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func optionalMoney(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := money(*d)
	return &s
}

// MerchantRef — краткие сведения о мерчанте в ответе заказа.
type MerchantRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// WarehouseRef: склад распределения. Адрес пуст для скрытых складов.
type WarehouseRef struct {
	ID      string `json:"id"`
	Code    string `json:"code"`
	Name    string `json:"name,omitempty"`
	City    string `json:"city,omitempty"`
	Address string `json:"address,omitempty"`
}

// AllocationView: часть позиции, зарезервированная на одном складе.
type AllocationView struct {
	Warehouse WarehouseRef `json:"warehouse"`
	Quantity  int          `json:"quantity"`
}

// OrderItemView: позиция заказа.
type OrderItemView struct {
	ID          string           `json:"id"`
	ProductID   string           `json:"productId"`
	SKU         string           `json:"sku"`
	ProductName string           `json:"productName"`
	Quantity    int              `json:"quantity"`
	UnitPrice   string           `json:"unitPrice"`
	TotalPrice  string           `json:"totalPrice"`
	Allocations []AllocationView `json:"allocations"`
}

// HistoryView: запись журнала статусов.
type HistoryView struct {
	Status    domain.OrderStatus `json:"status"`
	Note      string             `json:"note,omitempty"`
	ChangedBy string             `json:"changedBy,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
}

// AuditView: запись журнала аудита. Payload отдаётся как есть.
type AuditView struct {
	ID        string             `json:"id"`
	Action    domain.AuditAction `json:"action"`
	ActorID   string             `json:"actorId"`
	ActorKind string             `json:"actorKind"`
	Payload   json.RawMessage    `json:"payload,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
}

// NewAudit строит представление записи аудита.
func NewAudit(e domain.AuditEntry) AuditView {
	view := AuditView{
		ID:        e.ID,
		Action:    e.Action,
		ActorID:   e.ActorID,
		ActorKind: string(e.ActorKind),
		CreatedAt: e.CreatedAt,
	}
	if json.Valid(e.Payload) {
		view.Payload = json.RawMessage(e.Payload)
	}
	return view
}

// OrderView: заказ целиком.
type OrderView struct {
	ID              string                  `json:"id"`
	OrderNumber     string                  `json:"orderNumber"`
	MerchantID      string                  `json:"merchantId"`
	Merchant        *MerchantRef            `json:"merchant,omitempty"`
	CustomerName    string                  `json:"customerName"`
	CustomerEmail   string                  `json:"customerEmail,omitempty"`
	CustomerPhone   string                  `json:"customerPhone"`
	ShippingAddress domain.ShippingAddress  `json:"shippingAddress"`
	PaymentMethod   domain.PaymentMethod    `json:"paymentMethod"`
	Notes           string                  `json:"notes,omitempty"`
	Status          domain.OrderStatus      `json:"status"`
	Reservation     domain.ReservationState `json:"reservation"`
	OrderValue      string                  `json:"orderValue"`
	DeliveryFee     string                  `json:"deliveryFee"`
	TotalAmount     string                  `json:"totalAmount"`
	Items           []OrderItemView         `json:"items"`
	History         []HistoryView           `json:"history,omitempty"`
	Version         int64                   `json:"version"`
	CreatedAt       time.Time               `json:"createdAt"`
	UpdatedAt       time.Time               `json:"updatedAt"`
}

// OrderSummary: заказ в списке, без позиций.
type OrderSummary struct {
	ID            string               `json:"id"`
	OrderNumber   string               `json:"orderNumber"`
	MerchantID    string               `json:"merchantId"`
	CustomerName  string               `json:"customerName"`
	CustomerPhone string               `json:"customerPhone"`
	City          string               `json:"city"`
	PaymentMethod domain.PaymentMethod `json:"paymentMethod"`
	Status        domain.OrderStatus   `json:"status"`
	TotalAmount   string               `json:"totalAmount"`
	ItemCount     int                  `json:"itemCount"`
	CreatedAt     time.Time            `json:"createdAt"`
}

// Pagination: сведения о странице.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// PageView — страница списка.
type PageView[T any] struct {
	Items      []T        `json:"items"`
	Pagination Pagination `json:"pagination"`
}

// NewPage переводит страницу доменных объектов в представление.
func NewPage[S, T any](page domain.Page[S], convert func(S) T) PageView[T] {
	items := make([]T, 0, len(page.Items))
	for _, it := range page.Items {
		items = append(items, convert(it))
	}
	return PageView[T]{
		Items: items,
		Pagination: Pagination{
			Page:       page.Page,
			Limit:      page.Limit,
			Total:      page.Total,
			TotalPages: page.TotalPages(),
		},
	}
}

// NewOrder строит полное представление заказа.
func NewOrder(details ordering.OrderDetails, history []domain.OrderStatusHistory) OrderView {
	o := details.Order
	view := OrderView{
		ID:              o.ID,
		OrderNumber:     o.OrderNumber,
		MerchantID:      o.MerchantID,
		CustomerName:    o.CustomerName,
		CustomerEmail:   o.CustomerEmail,
		CustomerPhone:   o.CustomerPhone,
		ShippingAddress: o.ShippingAddress,
		PaymentMethod:   o.PaymentMethod,
		Notes:           o.Notes,
		Status:          o.Status,
		Reservation:     o.ReservationState,
		OrderValue:      money(o.OrderValue),
		DeliveryFee:     money(o.DeliveryFee),
		TotalAmount:     money(o.TotalAmount),
		Items:           make([]OrderItemView, 0, len(o.Items)),
		Version:         o.Version,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	if details.Merchant != nil {
		view.Merchant = &MerchantRef{ID: details.Merchant.ID, Name: details.Merchant.Name}
	}

	for _, it := range o.Items {
		item := OrderItemView{
			ID:          it.ID,
			ProductID:   it.ProductID,
			SKU:         it.SKU,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   money(it.UnitPrice),
			TotalPrice:  money(it.TotalPrice),
			Allocations: make([]AllocationView, 0, len(it.Allocations)),
		}
		for _, a := range it.Allocations {
			ref := WarehouseRef{ID: a.WarehouseID, Code: a.WarehouseCode}
			if w, ok := details.Warehouses[a.WarehouseID]; ok {
				ref = WarehouseRef{ID: w.ID, Code: w.Code, Name: w.Name, City: w.City, Address: w.Address}
			}
			item.Allocations = append(item.Allocations, AllocationView{Warehouse: ref, Quantity: a.Quantity})
		}
		view.Items = append(view.Items, item)
	}

	for _, h := range history {
		view.History = append(view.History, HistoryView{Status: h.Status, Note: h.Note, ChangedBy: h.ChangedBy, CreatedAt: h.CreatedAt})
	}
	return view
}

// NewOrderSummary строит строку списка заказов.
func NewOrderSummary(o domain.Order) OrderSummary {
	count := 0
	for _, it := range o.Items {
		count += it.Quantity
	}
	return OrderSummary{
		ID:            o.ID,
		OrderNumber:   o.OrderNumber,
		MerchantID:    o.MerchantID,
		CustomerName:  o.CustomerName,
		CustomerPhone: o.CustomerPhone,
		City:          o.ShippingAddress.City,
		PaymentMethod: o.PaymentMethod,
		Status:        o.Status,
		TotalAmount:   money(o.TotalAmount),
		ItemCount:     count,
		CreatedAt:     o.CreatedAt,
	}
}

// ReturnView: запрос на возврат товара.
type ReturnView struct {
	ID              string               `json:"id"`
	OrderID         string               `json:"orderId"`
	MerchantID      string               `json:"merchantId"`
	Reason          string               `json:"reason"`
	Status          domain.RequestStatus `json:"status"`
	RejectionReason string               `json:"rejectionReason,omitempty"`
	AdminNotes      string               `json:"adminNotes,omitempty"`
	RequestedBy     string               `json:"requestedBy"`
	ProcessedAt     *time.Time           `json:"processedAt,omitempty"`
	ProcessedBy     string               `json:"processedBy,omitempty"`
	CreatedAt       time.Time            `json:"createdAt"`
	UpdatedAt       time.Time            `json:"updatedAt"`
}

// NewReturn строит представление запроса на возврат товара.
func NewReturn(r domain.ReturnRequest) ReturnView {
	return ReturnView{
		ID:              r.ID,
		OrderID:         r.OrderID,
		MerchantID:      r.MerchantID,
		Reason:          r.Reason,
		Status:          r.Status,
		RejectionReason: r.RejectionReason,
		AdminNotes:      r.AdminNotes,
		RequestedBy:     r.RequestedBy,
		ProcessedAt:     r.ProcessedAt,
		ProcessedBy:     r.ProcessedBy,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

// RefundView: запрос на возврат средств.
type RefundView struct {
	ReturnView
	Amount         string  `json:"amount"`
	ApprovedAmount *string `json:"approvedAmount,omitempty"`
}

// NewRefund строит представление запроса на возврат средств.
func NewRefund(r domain.RefundRequest) RefundView {
	return RefundView{
		ReturnView: NewReturn(domain.ReturnRequest{
			ID:              r.ID,
			OrderID:         r.OrderID,
			MerchantID:      r.MerchantID,
			Reason:          r.Reason,
			Status:          r.Status,
			RejectionReason: r.RejectionReason,
			AdminNotes:      r.AdminNotes,
			RequestedBy:     r.RequestedBy,
			ProcessedAt:     r.ProcessedAt,
			ProcessedBy:     r.ProcessedBy,
			CreatedAt:       r.CreatedAt,
			UpdatedAt:       r.UpdatedAt,
		}),
		Amount:         money(r.Amount),
		ApprovedAmount: optionalMoney(r.ApprovedAmount),
	}
}

// StockItemView: остаток товара на складе.
type StockItemView struct {
	ID            string `json:"id"`
	ProductID     string `json:"productId"`
	WarehouseID   string `json:"warehouseId"`
	WarehouseCode string `json:"warehouseCode,omitempty"`
	Quantity      int    `json:"quantity"`
	Reserved      int    `json:"reserved"`
	Available     int    `json:"available"`
	ReorderLevel  int    `json:"reorderLevel"`
}

// NewStockItem строит представление остатка.
func NewStockItem(item domain.StockItem, warehouseCode string) StockItemView {
	return StockItemView{
		ID:            item.ID,
		ProductID:     item.ProductID,
		WarehouseID:   item.WarehouseID,
		WarehouseCode: warehouseCode,
		Quantity:      item.Quantity,
		Reserved:      item.Reserved,
		Available:     item.Available,
		ReorderLevel:  item.ReorderLevel,
	}
}

// ProductView: товар с остатками по складам.
type ProductView struct {
	ID           string          `json:"id"`
	MerchantID   string          `json:"merchantId"`
	SKU          string          `json:"sku"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	UnitPrice    string          `json:"unitPrice"`
	ReorderLevel int             `json:"reorderLevel"`
	IsActive     bool            `json:"isActive"`
	Quantity     int             `json:"quantity"`
	Reserved     int             `json:"reserved"`
	Available    int             `json:"available"`
	Stock        []StockItemView `json:"stock"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// NewProduct строит представление товара.
func NewProduct(ps catalog.ProductStock) ProductView {
	p := ps.Product
	quantity, reserved, available := ps.Totals()
	view := ProductView{
		ID:           p.ID,
		MerchantID:   p.MerchantID,
		SKU:          p.SKU,
		Name:         p.Name,
		Description:  p.Description,
		UnitPrice:    money(p.UnitPrice),
		ReorderLevel: p.ReorderLevel,
		IsActive:     p.IsActive,
		Quantity:     quantity,
		Reserved:     reserved,
		Available:    available,
		Stock:        make([]StockItemView, 0, len(ps.Items)),
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
	for _, c := range ps.Items {
		view.Stock = append(view.Stock, NewStockItem(c.Item, c.WarehouseCode))
	}
	return view
}

// MovementView: запись журнала движений остатка.
type MovementView struct {
	ID            string               `json:"id"`
	WarehouseID   string               `json:"warehouseId"`
	Type          domain.MovementType  `json:"type"`
	Quantity      int                  `json:"quantity"`
	ReferenceType domain.ReferenceType `json:"referenceType"`
	ReferenceID   string               `json:"referenceId,omitempty"`
	Note          string               `json:"note,omitempty"`
	CreatedBy     string               `json:"createdBy,omitempty"`
	CreatedAt     time.Time            `json:"createdAt"`
}

// NewMovement строит представление движения.
func NewMovement(m domain.StockMovement) MovementView {
	return MovementView{
		ID:            m.ID,
		WarehouseID:   m.WarehouseID,
		Type:          m.Type,
		Quantity:      m.Quantity,
		ReferenceType: m.ReferenceType,
		ReferenceID:   m.ReferenceID,
		Note:          m.Note,
		CreatedBy:     m.CreatedBy,
		CreatedAt:     m.CreatedAt,
	}
}

// WarehouseView: склад.
type WarehouseView struct {
	ID              string    `json:"id"`
	Code            string    `json:"code"`
	Name            string    `json:"name"`
	City            string    `json:"city"`
	Address         string    `json:"address,omitempty"`
	IsActive        bool      `json:"isActive"`
	MerchantVisible bool      `json:"merchantVisible"`
	CreatedAt       time.Time `json:"createdAt"`
}

// NewWarehouse строит представление склада.
func NewWarehouse(w domain.Warehouse) WarehouseView {
	return WarehouseView{
		ID:              w.ID,
		Code:            w.Code,
		Name:            w.Name,
		City:            w.City,
		Address:         w.Address,
		IsActive:        w.IsActive,
		MerchantVisible: w.MerchantVisible,
		CreatedAt:       w.CreatedAt,
	}
}

// MerchantView: мерчант.
type MerchantView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewMerchant строит представление мерчанта.
func NewMerchant(m domain.Merchant) MerchantView {
	return MerchantView{ID: m.ID, Name: m.Name, Email: m.Email, Phone: m.Phone, IsActive: m.IsActive, CreatedAt: m.CreatedAt}
}

// UserView — пользователь платформы.
type UserView struct {
	ID         string      `json:"id"`
	Email      string      `json:"email"`
	Name       string      `json:"name"`
	Role       domain.Role `json:"role"`
	MerchantID string      `json:"merchantId,omitempty"`
	IsActive   bool        `json:"isActive"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// NewUser строит представление пользователя.
func NewUser(u domain.User) UserView {
	return UserView{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role, MerchantID: u.MerchantID, IsActive: u.IsActive, CreatedAt: u.CreatedAt}
}

// APIKeyView: выпущенный ключ. Key присутствует только в ответе на выпуск.
type APIKeyView struct {
	ID          string              `json:"id"`
	MerchantID  string              `json:"merchantId"`
	Name        string              `json:"name"`
	Prefix      string              `json:"prefix"`
	Key         string              `json:"key,omitempty"`
	Permissions []domain.Permission `json:"permissions"`
	ExpiresAt   *time.Time          `json:"expiresAt,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
}

// NewIssuedKey строит ответ на выпуск ключа.
func NewIssuedKey(issued accounts.IssuedKey) APIKeyView {
	k := issued.Key
	return APIKeyView{
		ID:          k.ID,
		MerchantID:  k.MerchantID,
		Name:        k.Name,
		Prefix:      k.Prefix,
		Key:         issued.Raw,
		Permissions: k.Permissions,
		ExpiresAt:   k.ExpiresAt,
		CreatedAt:   k.CreatedAt,
	}
}

// NotificationView: уведомление платформы.
type NotificationView struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	OrderID   string    `json:"orderId,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewNotification строит представление уведомления.
func NewNotification(n domain.Notification) NotificationView {
	return NotificationView{ID: n.ID, Type: n.Type, Title: n.Title, Message: n.Message, OrderID: n.OrderID, Read: n.Read, CreatedAt: n.CreatedAt}
}
