package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod: способ оплаты заказа.
type PaymentMethod string

const (
	// PaymentCOD: оплата наличными при получении (по умолчанию).
	PaymentCOD          PaymentMethod = "COD"
	PaymentPrepaid      PaymentMethod = "PREPAID"
	PaymentCard         PaymentMethod = "CARD"
	PaymentBankTransfer PaymentMethod = "BANK_TRANSFER"
)

// Valid проверяет способ оплаты.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCOD, PaymentPrepaid, PaymentCard, PaymentBankTransfer:
		return true
	default:
		return false
	}
}

// ReservationState показывает, что стало с резервами заказа.
type ReservationState string

const (
	// ReservationHeld — резерв удерживается под заказ.
	ReservationHeld ReservationState = "RESERVED"
	// ReservationReleased: резерв возвращён в доступный остаток (отмена).
	ReservationReleased ReservationState = "RELEASED"
	// ReservationConsumed: резерв списан при отгрузке.
	ReservationConsumed ReservationState = "CONSUMED"
)

// ShippingAddress: адрес доставки.
type ShippingAddress struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	Area       string `json:"area,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

// OrderItem: позиция заказа. Цена фиксируется в момент оформления.
type OrderItem struct {
	ID          string
	OrderID     string
	ProductID   string
	SKU         string
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
	TotalPrice  decimal.Decimal
	Allocations []Allocation
	CreatedAt   time.Time
}

// Allocation: часть позиции, зарезервированная на конкретном складе.
type Allocation struct {
	ID            string
	OrderID       string
	OrderItemID   string
	ProductID     string
	StockItemID   string
	WarehouseID   string
	WarehouseCode string
	Quantity      int
	CreatedAt     time.Time
}

// Order: заголовок заказа с позициями.
type Order struct {
	ID               string
	OrderNumber      string
	MerchantID       string
	CustomerName     string
	CustomerEmail    string
	CustomerPhone    string
	ShippingAddress  ShippingAddress
	PaymentMethod    PaymentMethod
	Notes            string
	Status           OrderStatus
	ReservationState ReservationState
	OrderValue       decimal.Decimal
	DeliveryFee      decimal.Decimal
	TotalAmount      decimal.Decimal
	Items            []OrderItem
	CreatedBy        string
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// LineTotal считает стоимость позиции.
func LineTotal(quantity int, unitPrice decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
}

// ComputeTotals пересчитывает суммы позиций и заказа.
func (o *Order) ComputeTotals() {
	value := decimal.Zero
	for i := range o.Items {
		o.Items[i].TotalPrice = LineTotal(o.Items[i].Quantity, o.Items[i].UnitPrice)
		value = value.Add(o.Items[i].TotalPrice)
	}
	o.OrderValue = value
	o.TotalAmount = value.Add(o.DeliveryFee)
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.MerchantID == "" {
		errs = append(errs, ErrMerchantRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.DeliveryFee.IsNegative() {
		errs = append(errs, ErrDeliveryFeeNegative)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrInvalidStatus)
	}

	value := decimal.Zero
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if !item.UnitPrice.IsPositive() {
			errs = append(errs, ErrItemPriceInvalid)
		}
		value = value.Add(LineTotal(item.Quantity, item.UnitPrice))
	}
	if !value.Equal(o.OrderValue) || !value.Add(o.DeliveryFee).Equal(o.TotalAmount) {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// ReservedQuantity возвращает суммарное количество единиц, распределённых по складам.
func (o *Order) ReservedQuantity() int {
	total := 0
	for _, item := range o.Items {
		for _, a := range item.Allocations {
			total += a.Quantity
		}
	}
	return total
}

// OrderFilter: фильтры списка заказов.
type OrderFilter struct {
	MerchantID    string
	Status        OrderStatus
	PaymentMethod PaymentMethod
	DateFrom      time.Time
	DateTo        time.Time
	Page          int
	Limit         int
}

// MaxPage: наибольший номер страницы в списках.
const MaxPage = 100_000

// Offset возвращает смещение для постраничной выборки.
func (f OrderFilter) Offset() int {
	return pageOffset(f.Page, f.Limit)
}

// pageOffset не переполняется: страница ограничена MaxPage, limit списков
// ограничен сервисами сотнями записей.
func pageOffset(page, limit int) int {
	if page <= 1 || limit <= 0 {
		return 0
	}
	return (min(page, MaxPage) - 1) * limit
}

// Matches проверяет заказ на соответствие фильтру (для in-memory хранилища).
func (f OrderFilter) Matches(o Order) bool {
	if f.MerchantID != "" && o.MerchantID != f.MerchantID {
		return false
	}
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.PaymentMethod != "" && o.PaymentMethod != f.PaymentMethod {
		return false
	}
	if !f.DateFrom.IsZero() && o.CreatedAt.Before(f.DateFrom) {
		return false
	}
	if !f.DateTo.IsZero() && !o.CreatedAt.Before(f.DateTo) {
		return false
	}
	return true
}

// Page — страница результатов.
type Page[T any] struct {
	Items []T
	Total int
	Page  int
	Limit int
}

// TotalPages считает количество страниц.
func (p Page[T]) TotalPages() int {
	if p.Limit <= 0 {
		return 0
	}
	return (p.Total + p.Limit - 1) / p.Limit
}
