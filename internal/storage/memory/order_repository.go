package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type orderRepositoryInMemory struct {
	s *Store
}

// NewOrderRepository создаёт in-memory реализацию OrderRepository поверх общего Store.
func NewOrderRepository(s *Store) domain.OrderRepository {
	return &orderRepositoryInMemory{s: s}
}

// PlaceOrder резервирует сток и сохраняет заказ под одной блокировкой хранилища.
// Изменения сначала собираются в staged и применяются только если все позиции зарезервированы.
func (r *orderRepositoryInMemory) PlaceOrder(ctx context.Context, p domain.OrderPlacement) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	order := cloneOrder(p.Order)
	if _, taken := r.s.orderNumbers[order.OrderNumber]; taken {
		return domain.Order{}, domain.ErrOrderNumberConflict
	}
	if _, exists := r.s.orders[order.ID]; exists {
		return domain.Order{}, domain.ErrOrderVersionConflict
	}

	staged := make(map[string]domain.StockItem)
	movements := make([]domain.StockMovement, 0, len(order.Items))
	for i := range order.Items {
		item := &order.Items[i]
		draws, err := domain.PlanReservation(r.s.candidatesLocked(item.ProductID, staged), item.Quantity)
		if err != nil {
			return domain.Order{}, fmt.Errorf("product %s: %w", item.ProductID, err)
		}

		item.Allocations = make([]domain.Allocation, 0, len(draws))
		for _, d := range draws {
			stock, ok := staged[d.StockItemID]
			if !ok {
				stock = r.s.stock[d.StockItemID]
			}
			if err := stock.Reserve(d.Quantity); err != nil {
				return domain.Order{}, fmt.Errorf("product %s: %w", item.ProductID, err)
			}
			stock.UpdatedAt = order.CreatedAt
			staged[stock.ID] = stock

			item.Allocations = append(item.Allocations, domain.Allocation{
				ID:            uuid.NewString(),
				OrderID:       order.ID,
				OrderItemID:   item.ID,
				ProductID:     item.ProductID,
				StockItemID:   d.StockItemID,
				WarehouseID:   d.WarehouseID,
				WarehouseCode: d.WarehouseCode,
				Quantity:      d.Quantity,
				CreatedAt:     order.CreatedAt,
			})
			movements = append(movements, domain.StockMovement{
				ID:            uuid.NewString(),
				StockItemID:   d.StockItemID,
				ProductID:     item.ProductID,
				WarehouseID:   d.WarehouseID,
				Type:          domain.MovementStockOut,
				Quantity:      d.Quantity,
				ReferenceType: domain.ReferenceOrder,
				ReferenceID:   order.ID,
				Note:          "reserved for order " + order.OrderNumber,
				CreatedBy:     order.CreatedBy,
				CreatedAt:     order.CreatedAt,
			})
		}
	}

	for id, stock := range staged {
		r.s.stock[id] = stock
	}
	r.s.movements = append(r.s.movements, movements...)

	order.ReservationState = domain.ReservationHeld
	r.s.orders[order.ID] = order
	r.s.orderNumbers[order.OrderNumber] = order.ID
	r.s.history[order.ID] = append(r.s.history[order.ID], p.History)
	r.s.appendAuditLocked(p.Audit)
	r.s.enqueueLocked(p.Events)

	return cloneOrder(order), nil
}

func (r *orderRepositoryInMemory) Get(ctx context.Context, id string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	order, ok := r.s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// List возвращает заказы по фильтру, отсортированные по дате создания по убыванию.
func (r *orderRepositoryInMemory) List(ctx context.Context, filter domain.OrderFilter) (domain.Page[domain.Order], error) {
	if err := ctx.Err(); err != nil {
		return domain.Page[domain.Order]{}, err
	}

	r.s.mu.RLock()
	matched := make([]domain.Order, 0)
	for _, order := range r.s.orders {
		if filter.Matches(order) {
			matched = append(matched, order)
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	items := paginate(matched, filter.Offset(), filter.Limit)
	for i := range items {
		items[i] = cloneOrder(items[i])
	}
	return domain.Page[domain.Order]{
		Items: items,
		Total: len(matched),
		Page:  max(filter.Page, 1),
		Limit: filter.Limit,
	}, nil
}

func (r *orderRepositoryInMemory) History(ctx context.Context, orderID string) ([]domain.OrderStatusHistory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if _, ok := r.s.orders[orderID]; !ok {
		return nil, domain.ErrOrderNotFound
	}
	history := r.s.history[orderID]
	result := make([]domain.OrderStatusHistory, len(history))
	copy(result, history)
	return result, nil
}

// ChangeStatus применяет переход, если версия и статус заказа не изменились с момента чтения.
func (r *orderRepositoryInMemory) ChangeStatus(ctx context.Context, change domain.StatusChange) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	order, ok := r.s.orders[change.OrderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if order.Version != change.ExpectedVersion || order.Status != change.From {
		return domain.Order{}, domain.ErrOrderVersionConflict
	}

	var (
		staged    = make(map[string]domain.StockItem)
		movements []domain.StockMovement
	)
	if order.ReservationState == domain.ReservationHeld && change.Reservation != domain.ReservationHeld {
		for _, item := range order.Items {
			for _, a := range item.Allocations {
				stock, ok := staged[a.StockItemID]
				if !ok {
					stock, ok = r.s.stock[a.StockItemID]
					if !ok {
						return domain.Order{}, fmt.Errorf("%w: stock item %s", domain.ErrStockItemNotFound, a.StockItemID)
					}
				}

				switch change.Reservation {
				case domain.ReservationReleased:
					if err := stock.Release(a.Quantity); err != nil {
						return domain.Order{}, err
					}
					movements = append(movements, domain.StockMovement{
						ID:            uuid.NewString(),
						StockItemID:   a.StockItemID,
						ProductID:     a.ProductID,
						WarehouseID:   a.WarehouseID,
						Type:          domain.MovementStockIn,
						Quantity:      a.Quantity,
						ReferenceType: domain.ReferenceOrder,
						ReferenceID:   order.ID,
						Note:          "released for cancelled order " + order.OrderNumber,
						CreatedBy:     change.History.ChangedBy,
						CreatedAt:     change.At,
					})
				case domain.ReservationConsumed:
					if err := stock.Consume(a.Quantity); err != nil {
						return domain.Order{}, err
					}
				}
				stock.UpdatedAt = change.At
				staged[stock.ID] = stock
			}
		}
		order.ReservationState = change.Reservation
	}

	for id, stock := range staged {
		r.s.stock[id] = stock
	}
	r.s.movements = append(r.s.movements, movements...)

	order.Status = change.To
	order.Version++
	order.UpdatedAt = change.At
	r.s.orders[order.ID] = order
	r.s.history[order.ID] = append(r.s.history[order.ID], change.History)
	r.s.appendAuditLocked(change.Audit)
	r.s.enqueueLocked(change.Events)

	return cloneOrder(order), nil
}

func (r *orderRepositoryInMemory) Movements(ctx context.Context, orderID string) ([]domain.StockMovement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]domain.StockMovement, 0)
	for _, mv := range r.s.movements {
		if mv.ReferenceType == domain.ReferenceOrder && mv.ReferenceID == orderID {
			result = append(result, mv)
		}
	}
	return result, nil
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
