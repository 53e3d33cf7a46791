package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// WarehouseInput — тело запроса на создание склада.
type WarehouseInput struct {
	Name            string `json:"name" validate:"required,max=255"`
	City            string `json:"city" validate:"required,max=120"`
	Address         string `json:"address,omitempty" validate:"max=500"`
	MerchantVisible bool   `json:"merchantVisible"`
}

// CreateWarehouse создаёт склад с кодом вида DHA-01.
func (s *Service) CreateWarehouse(ctx context.Context, caller domain.Principal, in WarehouseInput) (domain.Warehouse, error) {
	if !caller.IsAdmin() {
		return domain.Warehouse{}, fmt.Errorf("%w: only platform admins manage warehouses", domain.ErrForbidden)
	}
	if err := s.validator.Struct(in); err != nil {
		return domain.Warehouse{}, err
	}
	wh, err := s.createWarehouse(ctx, in)
	if err != nil {
		return domain.Warehouse{}, err
	}
	s.logger.WithFields(log.Fields{"warehouse_id": wh.ID, "code": wh.Code}).Info("warehouse created")
	return wh, nil
}

// ListWarehouses возвращает склады. Мерчант видит только активные склады,
// адрес скрытых складов очищается.
func (s *Service) ListWarehouses(ctx context.Context, caller domain.Principal, activeOnly bool) ([]domain.Warehouse, error) {
	if caller.Kind != domain.PrincipalUser || !caller.Role.Valid() {
		return nil, domain.ErrForbidden
	}
	if !caller.SeesAllMerchants() {
		activeOnly = true
	}
	list, err := s.warehouses.List(ctx, activeOnly)
	if err != nil {
		return nil, err
	}
	if !caller.SeesAllMerchants() {
		for i := range list {
			if !list[i].MerchantVisible {
				list[i].Address = ""
			}
		}
	}
	return list, nil
}

// createWarehouse подбирает следующий свободный код для префикса города.
// Гонка за код разрешается уникальным ограничением и повтором.
func (s *Service) createWarehouse(ctx context.Context, in WarehouseInput) (domain.Warehouse, error) {
	prefix := domain.WarehouseCodePrefix(in.City)
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		count, err := s.warehouses.CountByCodePrefix(ctx, prefix)
		if err != nil {
			return domain.Warehouse{}, fmt.Errorf("count warehouses: %w", err)
		}
		wh := domain.Warehouse{
			ID:              uuid.NewString(),
			Code:            domain.WarehouseCode(in.City, count+1+attempt),
			Name:            strings.TrimSpace(in.Name),
			Address:         strings.TrimSpace(in.Address),
			City:            strings.TrimSpace(in.City),
			IsActive:        true,
			MerchantVisible: in.MerchantVisible,
			CreatedAt:       s.now(),
		}
		err = s.warehouses.Create(ctx, wh)
		if err == nil {
			return wh, nil
		}
		if !errors.Is(err, domain.ErrWarehouseCodeTaken) {
			return domain.Warehouse{}, err
		}
	}
	return domain.Warehouse{}, domain.ErrWarehouseCodeTaken
}
