package ordering

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// TransitionInput: запрос на смену статуса заказа.
// ExpectedVersion > 0 включает строгую проверку версии без повторов.
type TransitionInput struct {
	Status          domain.OrderStatus `json:"status" validate:"required"`
	Note            string             `json:"note,omitempty" validate:"max=1000"`
	ExpectedVersion int64              `json:"version,omitempty" validate:"gte=0"`
}

// Transition переводит заказ в новый статус. Сток освобождается при отмене
// и списывается при первой отгрузке в той же транзакции.
func (s *Service) Transition(ctx context.Context, caller domain.Principal, orderID string, in TransitionInput) (domain.Order, error) {
	if err := s.validator.Struct(in); err != nil {
		return domain.Order{}, err
	}
	if !in.Status.Valid() {
		return domain.Order{}, domain.NewValidationError("status", "is not a valid order status")
	}

	for attempt := 1; ; attempt++ {
		order, err := s.orders.Get(ctx, orderID)
		if err != nil {
			return domain.Order{}, err
		}
		if err := authorizeTransition(caller, order, in.Status); err != nil {
			return domain.Order{}, err
		}
		if in.ExpectedVersion > 0 && in.ExpectedVersion != order.Version {
			return domain.Order{}, domain.ErrOrderVersionConflict
		}
		if err := domain.ValidateTransition(order.Status, in.Status); err != nil {
			return domain.Order{}, err
		}

		change, err := s.buildChange(caller, order, in)
		if err != nil {
			return domain.Order{}, err
		}
		updated, err := s.orders.ChangeStatus(ctx, change)
		if err == nil {
			if s.metrics != nil {
				s.metrics.RecordStatusTransition(string(in.Status))
			}
			s.logger.WithFields(log.Fields{
				"order_id":    order.ID,
				"from":        order.Status,
				"to":          in.Status,
				"reservation": updated.ReservationState,
				"changed_by":  caller.ID,
			}).Info("order status changed")
			return updated, nil
		}
		if errors.Is(err, domain.ErrOrderVersionConflict) && in.ExpectedVersion == 0 && attempt < maxTransitionRetries {
			continue
		}
		return domain.Order{}, err
	}
}

// authorizeTransition: склад и администратор меняют статус свободно,
// администратор мерчанта может только отменить свой заказ в PENDING.
func authorizeTransition(caller domain.Principal, order domain.Order, to domain.OrderStatus) error {
	switch {
	case caller.HasRole(domain.RoleAdmin, domain.RoleWarehouseStaff):
		return nil
	case caller.HasRole(domain.RoleMerchantAdmin):
		if order.MerchantID != caller.MerchantID {
			return domain.ErrOrderNotFound
		}
		if to != domain.OrderStatusCancelled || order.Status != domain.OrderStatusPending {
			return fmt.Errorf("%w: merchant admin may only cancel a pending order", domain.ErrForbidden)
		}
		return nil
	default:
		return fmt.Errorf("%w: role cannot change order status", domain.ErrForbidden)
	}
}

func (s *Service) buildChange(caller domain.Principal, order domain.Order, in TransitionInput) (domain.StatusChange, error) {
	now := s.now()
	note := strings.TrimSpace(in.Note)

	payload, err := json.Marshal(domain.StatusChangedPayload{
		ID:         order.ID,
		OrderID:    order.ID,
		MerchantID: order.MerchantID,
		From:       string(order.Status),
		To:         string(in.Status),
		ChangedBy:  caller.ID,
		Note:       note,
	})
	if err != nil {
		return domain.StatusChange{}, fmt.Errorf("encode status event: %w", err)
	}

	return domain.StatusChange{
		OrderID:         order.ID,
		From:            order.Status,
		To:              in.Status,
		ExpectedVersion: order.Version,
		Reservation:     domain.ReservationEffect(order.ReservationState, in.Status),
		History: domain.OrderStatusHistory{
			ID:        uuid.NewString(),
			OrderID:   order.ID,
			Status:    in.Status,
			Note:      note,
			ChangedBy: caller.ID,
			CreatedAt: now,
		},
		Audit: domain.AuditEntry{
			ID:         uuid.NewString(),
			ActorID:    caller.ID,
			ActorKind:  caller.Kind,
			MerchantID: order.MerchantID,
			Action:     domain.AuditOrderStatusChanged,
			EntityType: domain.AggregateOrder,
			EntityID:   order.ID,
			Payload:    payload,
			CreatedAt:  now,
		},
		Events: []domain.OutboxMessage{{
			ID:            uuid.NewString(),
			AggregateType: domain.AggregateOrder,
			AggregateID:   order.ID,
			EventType:     domain.EventOrderStatusChanged,
			Payload:       payload,
			CreatedAt:     now,
		}},
		At: now,
	}, nil
}
