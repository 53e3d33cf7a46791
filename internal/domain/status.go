package domain

import (
	"fmt"
	"time"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "PENDING"
	OrderStatusConfirmed      OrderStatus = "CONFIRMED"
	OrderStatusProcessing     OrderStatus = "PROCESSING"
	OrderStatusPicked         OrderStatus = "PICKED"
	OrderStatusPacked         OrderStatus = "PACKED"
	OrderStatusShipped        OrderStatus = "SHIPPED"
	OrderStatusOutForDelivery OrderStatus = "OUT_FOR_DELIVERY"
	OrderStatusDelivered      OrderStatus = "DELIVERED"
	// OrderStatusCancelled: боковая ветка до отгрузки.
	OrderStatusCancelled OrderStatus = "CANCELLED"
	// OrderStatusReturned: боковая ветка после отгрузки.
	OrderStatusReturned OrderStatus = "RETURNED"
)

// HappyPath: канонический порядок статусов без боковых веток.
var HappyPath = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusPicked,
	OrderStatusPacked,
	OrderStatusShipped,
	OrderStatusOutForDelivery,
	OrderStatusDelivered,
}

func (s OrderStatus) pathIndex() int {
	for i, st := range HappyPath {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid проверяет, что статус входит в перечисление.
func (s OrderStatus) Valid() bool {
	return s.pathIndex() >= 0 || s == OrderStatusCancelled || s == OrderStatusReturned
}

// Terminal сообщает, что из статуса нет переходов.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusReturned
}

// Shipped сообщает, что товар уже покинул склад.
func (s OrderStatus) Shipped() bool {
	return s.pathIndex() >= OrderStatusShipped.pathIndex()
}

// NextStatuses возвращает статусы, в которые разрешён переход.
func (s OrderStatus) NextStatuses() []OrderStatus {
	if s.Terminal() {
		return nil
	}
	idx := s.pathIndex()
	if idx < 0 {
		return nil
	}

	next := make([]OrderStatus, 0, len(HappyPath)-idx+1)
	next = append(next, HappyPath[idx+1:]...)
	if s.Shipped() {
		next = append(next, OrderStatusReturned)
	} else {
		next = append(next, OrderStatusCancelled)
	}
	return next
}

// CanTransition проверяет допустимость перехода.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	for _, st := range s.NextStatuses() {
		if st == to {
			return true
		}
	}
	return false
}

// ValidateTransition возвращает ошибку, если переход недопустим.
func ValidateTransition(from, to OrderStatus) error {
	if !to.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, to)
	}
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// ReservationEffect определяет, что делать с резервами при переходе.
func ReservationEffect(current ReservationState, to OrderStatus) ReservationState {
	if current != ReservationHeld {
		return current
	}
	switch {
	case to == OrderStatusCancelled:
		return ReservationReleased
	case to.Shipped():
		return ReservationConsumed
	default:
		return current
	}
}

// OrderStatusHistory: запись журнала переходов статуса заказа.
type OrderStatusHistory struct {
	ID        string
	OrderID   string
	Status    OrderStatus
	Note      string
	ChangedBy string
	CreatedAt time.Time
}

// StatusChange: заявка на переход статуса заказа.
type StatusChange struct {
	OrderID         string
	From            OrderStatus
	To              OrderStatus
	ExpectedVersion int64
	Reservation     ReservationState
	History         OrderStatusHistory
	Audit           AuditEntry
	Events          []OutboxMessage
	At              time.Time
}
