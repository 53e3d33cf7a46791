package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const (
	opTimeout = 5 * time.Second

	outboxPending = "pending"
	outboxSent    = "sent"
	outboxFailed  = "failed"
)

// execer: общий интерфейс *sql.DB и *sql.Tx для вставок, которые
// выполняются как отдельно, так и внутри транзакции заказа.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	_, ok := uniqueViolation(err)
	return ok
}

// uniqueViolation возвращает имя нарушенного ограничения уникальности.
func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

func insertHistory(ctx context.Context, db execer, h domain.OrderStatusHistory) error {
	if _, err := db.ExecContext(ctx, `
		INSERT INTO order_status_history (id, order_id, status, note, changed_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, h.ID, h.OrderID, string(h.Status), h.Note, h.ChangedBy, h.CreatedAt); err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}
	return nil
}

func insertAudit(ctx context.Context, db execer, a domain.AuditEntry) error {
	if a.ID == "" {
		return nil
	}
	var payload any
	if len(a.Payload) > 0 {
		payload = a.Payload
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, actor_id, actor_kind, merchant_id, action, entity_type, entity_id, payload, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, a.ID, a.ActorID, string(a.ActorKind), a.MerchantID, string(a.Action),
		a.EntityType, a.EntityID, payload, a.CreatedAt); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func insertOutbox(ctx context.Context, db execer, msgs []domain.OutboxMessage) error {
	for _, msg := range msgs {
		if _, err := db.ExecContext(ctx, `
			INSERT INTO outbox_messages (
				id, aggregate_type, aggregate_id, event_type, payload,
				status, attempt_count, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,0,$7,$7)
		`, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload,
			outboxPending, msg.CreatedAt); err != nil {
			return fmt.Errorf("enqueue outbox message: %w", err)
		}
	}
	return nil
}

func insertMovement(ctx context.Context, db execer, mv domain.StockMovement) error {
	if _, err := db.ExecContext(ctx, `
		INSERT INTO stock_movements (
			id, stock_item_id, product_id, warehouse_id, movement_type, quantity,
			reference_type, reference_id, note, created_by, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, mv.ID, mv.StockItemID, mv.ProductID, mv.WarehouseID, string(mv.Type), mv.Quantity,
		string(mv.ReferenceType), mv.ReferenceID, mv.Note, mv.CreatedBy, mv.CreatedAt); err != nil {
		return fmt.Errorf("insert stock movement: %w", err)
	}
	return nil
}

func rollback(tx *sql.Tx, err *error) {
	if *err != nil {
		_ = tx.Rollback()
	}
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
