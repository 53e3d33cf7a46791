package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RequestStatus: статус запроса на возврат товара или средств.
type RequestStatus string

const (
	RequestPending   RequestStatus = "PENDING"
	RequestApproved  RequestStatus = "APPROVED"
	RequestRejected  RequestStatus = "REJECTED"
	RequestProcessed RequestStatus = "PROCESSED"
)

// Valid проверяет статус запроса.
func (s RequestStatus) Valid() bool {
	switch s {
	case RequestPending, RequestApproved, RequestRejected, RequestProcessed:
		return true
	default:
		return false
	}
}

// Terminal сообщает, что из статуса переходов нет.
func (s RequestStatus) Terminal() bool {
	return s == RequestRejected || s == RequestProcessed
}

// CanTransition: PENDING → APPROVED|REJECTED, APPROVED → PROCESSED.
func (s RequestStatus) CanTransition(to RequestStatus) bool {
	switch s {
	case RequestPending:
		return to == RequestApproved || to == RequestRejected
	case RequestApproved:
		return to == RequestProcessed
	default:
		return false
	}
}

func validateRequestTransition(from, to RequestStatus) error {
	if !to.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, to)
	}
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// RequestDecision: решение оператора по запросу.
type RequestDecision struct {
	Status          RequestStatus
	ApprovedAmount  *decimal.Decimal
	RejectionReason string
	AdminNotes      string
	ActorID         string
	At              time.Time
}

// ReturnRequest: запрос клиента на возврат товара.
type ReturnRequest struct {
	ID              string
	OrderID         string
	MerchantID      string
	Reason          string
	Status          RequestStatus
	RejectionReason string
	AdminNotes      string
	RequestedBy     string
	ProcessedAt     *time.Time
	ProcessedBy     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ReturnableStatus: заказ можно вернуть только после доставки.
func ReturnableStatus(s OrderStatus) bool {
	return s == OrderStatusDelivered
}

// Apply применяет решение к запросу на возврат товара.
func (r *ReturnRequest) Apply(d RequestDecision) error {
	if err := validateRequestTransition(r.Status, d.Status); err != nil {
		return err
	}
	if d.Status == RequestRejected {
		if d.RejectionReason == "" {
			return ErrRejectionReasonRequired
		}
		r.RejectionReason = d.RejectionReason
	}
	if d.AdminNotes != "" {
		r.AdminNotes = d.AdminNotes
	}
	r.Status = d.Status
	at := d.At.UTC()
	r.ProcessedAt = &at
	r.ProcessedBy = d.ActorID
	r.UpdatedAt = at
	return nil
}

// RefundRequest: запрос на возврат средств.
// ApprovedAmount и RejectionReason взаимоисключающие.
type RefundRequest struct {
	ID              string
	OrderID         string
	MerchantID      string
	Amount          decimal.Decimal
	Reason          string
	Status          RequestStatus
	ApprovedAmount  *decimal.Decimal
	RejectionReason string
	AdminNotes      string
	RequestedBy     string
	ProcessedAt     *time.Time
	ProcessedBy     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RefundableStatus: средства возвращаются по доставленным, возвращённым или отменённым заказам.
func RefundableStatus(s OrderStatus) bool {
	return s == OrderStatusDelivered || s == OrderStatusReturned || s == OrderStatusCancelled
}

// Apply применяет решение к запросу на возврат средств.
// orderTotal ограничивает одобряемую сумму.
func (r *RefundRequest) Apply(d RequestDecision, orderTotal decimal.Decimal) error {
	if err := validateRequestTransition(r.Status, d.Status); err != nil {
		return err
	}
	switch d.Status {
	case RequestApproved:
		if d.ApprovedAmount == nil {
			return ErrApprovedAmountRequired
		}
		if !d.ApprovedAmount.IsPositive() || d.ApprovedAmount.GreaterThan(orderTotal) {
			return ErrApprovedAmountInvalid
		}
		amount := *d.ApprovedAmount
		r.ApprovedAmount = &amount
		r.RejectionReason = ""
	case RequestRejected:
		if d.RejectionReason == "" {
			return ErrRejectionReasonRequired
		}
		r.RejectionReason = d.RejectionReason
		r.ApprovedAmount = nil
	}
	if d.AdminNotes != "" {
		r.AdminNotes = d.AdminNotes
	}
	r.Status = d.Status
	at := d.At.UTC()
	r.ProcessedAt = &at
	r.ProcessedBy = d.ActorID
	r.UpdatedAt = at
	return nil
}

// RequestFilter — фильтр списков запросов.
type RequestFilter struct {
	MerchantID string
	OrderID    string
	Status     RequestStatus
	Page       int
	Limit      int
}

// Offset возвращает смещение для постраничной выборки.
func (f RequestFilter) Offset() int {
	return pageOffset(f.Page, f.Limit)
}
