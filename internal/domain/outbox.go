package domain

import "time"

// Типы событий, публикуемых через outbox.
const (
	EventOrderCreated        = "order.created"
	EventOrderStatusChanged  = "order.status_changed"
	EventReturnStatusChanged = "return.status_changed"
	EventRefundStatusChanged = "refund.status_changed"
)

// Типы агрегатов outbox.
const (
	AggregateOrder  = "order"
	AggregateReturn = "return_request"
	AggregateRefund = "refund_request"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// OrderCreatedPayload: тело события order.created.
type OrderCreatedPayload struct {
	OrderID       string `json:"orderId"`
	OrderNumber   string `json:"orderNumber"`
	MerchantID    string `json:"merchantId"`
	CustomerName  string `json:"customerName"`
	CustomerEmail string `json:"customerEmail,omitempty"`
	CustomerPhone string `json:"customerPhone"`
	TotalAmount   string `json:"totalAmount"`
	PaymentMethod string `json:"paymentMethod"`
	ItemCount     int    `json:"itemCount"`
}

// StatusChangedPayload: тело событий смены статуса.
type StatusChangedPayload struct {
	ID         string `json:"id"`
	OrderID    string `json:"orderId"`
	MerchantID string `json:"merchantId"`
	From       string `json:"from"`
	To         string `json:"to"`
	ChangedBy  string `json:"changedBy"`
	Note       string `json:"note,omitempty"`
}
