package domain

import "time"

// AuditAction: действие, попадающее в журнал аудита.
type AuditAction string

const (
	AuditOrderCreated        AuditAction = "ORDER_CREATED"
	AuditOrderStatusChanged  AuditAction = "ORDER_STATUS_CHANGED"
	AuditReturnStatusChanged AuditAction = "RETURN_STATUS_CHANGED"
	AuditRefundStatusChanged AuditAction = "REFUND_STATUS_CHANGED"
	AuditStockAdjusted       AuditAction = "STOCK_ADJUSTED"
)

// AuditEntry: запись журнала аудита. Payload хранит исходный запрос целиком.
type AuditEntry struct {
	ID         string
	ActorID    string
	ActorKind  PrincipalKind
	MerchantID string
	Action     AuditAction
	EntityType string
	EntityID   string
	Payload    []byte
	CreatedAt  time.Time
}
