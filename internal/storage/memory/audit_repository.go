package memory

import (
	"context"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type auditRepositoryInMemory struct {
	s *Store
}

// NewAuditRepository создаёт in-memory реализацию AuditRepository.
func NewAuditRepository(s *Store) domain.AuditRepository {
	return &auditRepositoryInMemory{s: s}
}

func (r *auditRepositoryInMemory) Append(ctx context.Context, entry domain.AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.appendAuditLocked(entry)
	return nil
}

// List возвращает записи сущности в хронологическом порядке.
func (r *auditRepositoryInMemory) List(ctx context.Context, entityType, entityID string) ([]domain.AuditEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]domain.AuditEntry, 0)
	for _, entry := range r.s.audit {
		if entry.EntityType == entityType && entry.EntityID == entityID {
			result = append(result, entry)
		}
	}
	return result, nil
}

type notificationRepositoryInMemory struct {
	s *Store
}

// NewNotificationRepository создаёт in-memory реализацию NotificationRepository.
func NewNotificationRepository(s *Store) domain.NotificationRepository {
	return &notificationRepositoryInMemory{s: s}
}

func (r *notificationRepositoryInMemory) Create(ctx context.Context, n domain.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.notifications {
		if existing.ID == n.ID {
			return nil
		}
	}
	r.s.notifications = append(r.s.notifications, n)
	return nil
}

func (r *notificationRepositoryInMemory) ListFor(ctx context.Context, userID string, role domain.Role, limit int) ([]domain.Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]domain.Notification, 0)
	for i := len(r.s.notifications) - 1; i >= 0; i-- {
		n := r.s.notifications[i]
		addressed := (n.UserID != "" && n.UserID == userID) || (n.UserID == "" && n.Role != "" && n.Role == role)
		if !addressed {
			continue
		}
		result = append(result, n)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

var (
	_ domain.AuditRepository        = (*auditRepositoryInMemory)(nil)
	_ domain.NotificationRepository = (*notificationRepositoryInMemory)(nil)
)
