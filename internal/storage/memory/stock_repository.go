package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type stockRepositoryInMemory struct {
	s *Store
}

// NewStockRepository создаёт in-memory реализацию StockRepository.
func NewStockRepository(s *Store) domain.StockRepository {
	return &stockRepositoryInMemory{s: s}
}

func (r *stockRepositoryInMemory) ListByProduct(ctx context.Context, productID string) ([]domain.StockCandidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return r.allCandidatesLocked(productID), nil
}

// allCandidatesLocked включает позиции на неактивных складах.
func (r *stockRepositoryInMemory) allCandidatesLocked(productID string) []domain.StockCandidate {
	candidates := make([]domain.StockCandidate, 0, 2)
	for _, item := range r.s.stock {
		if item.ProductID != productID {
			continue
		}
		candidates = append(candidates, domain.StockCandidate{
			Item:          item,
			WarehouseCode: r.s.warehouses[item.WarehouseID].Code,
		})
	}
	domain.SortCandidates(candidates)
	return candidates
}

func (r *stockRepositoryInMemory) Receive(ctx context.Context, receipt domain.StockReceipt) (domain.StockItem, domain.StockMovement, error) {
	if err := ctx.Err(); err != nil {
		return domain.StockItem{}, domain.StockMovement{}, err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	product, ok := r.s.products[receipt.ProductID]
	if !ok {
		return domain.StockItem{}, domain.StockMovement{}, domain.ErrProductNotFound
	}
	wh, ok := r.s.warehouses[receipt.WarehouseID]
	if !ok {
		return domain.StockItem{}, domain.StockMovement{}, domain.ErrWarehouseNotFound
	}
	if !wh.IsActive {
		return domain.StockItem{}, domain.StockMovement{}, domain.ErrWarehouseInactive
	}

	item := r.itemForLocked(product, wh.ID, receipt.At)
	if err := item.Receive(receipt.Quantity); err != nil {
		return domain.StockItem{}, domain.StockMovement{}, err
	}
	item.UpdatedAt = receipt.At

	mv := domain.MovementForDelta(item, receipt.Quantity)
	mv.ID = uuid.NewString()
	mv.ReferenceType = domain.ReferenceStockReceipt
	mv.ReferenceID = wh.ID
	mv.Note = receipt.Note
	mv.CreatedBy = receipt.ActorID
	mv.CreatedAt = receipt.At

	r.saveLocked(item)
	r.s.movements = append(r.s.movements, mv)
	return item, mv, nil
}

// Adjust правит первую позицию товара в порядке резервирования.
func (r *stockRepositoryInMemory) Adjust(ctx context.Context, adj domain.StockAdjustment) (domain.StockItem, domain.StockMovement, error) {
	if err := ctx.Err(); err != nil {
		return domain.StockItem{}, domain.StockMovement{}, err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	product, ok := r.s.products[adj.ProductID]
	if !ok {
		return domain.StockItem{}, domain.StockMovement{}, domain.ErrProductNotFound
	}

	var item domain.StockItem
	if candidates := r.allCandidatesLocked(product.ID); len(candidates) > 0 {
		item = candidates[0].Item
	} else {
		if _, ok := r.s.warehouses[adj.FallbackWarehouseID]; !ok {
			return domain.StockItem{}, domain.StockMovement{}, fmt.Errorf("%w: no stock item for product %s", domain.ErrWarehouseNotFound, product.ID)
		}
		item = r.itemForLocked(product, adj.FallbackWarehouseID, adj.At)
	}

	delta, err := item.SetQuantity(adj.Quantity)
	if err != nil {
		return domain.StockItem{}, domain.StockMovement{}, err
	}
	item.UpdatedAt = adj.At

	mv := domain.MovementForDelta(item, delta)
	mv.ID = uuid.NewString()
	mv.ReferenceType = domain.ReferenceProductUpdate
	mv.ReferenceID = product.ID
	mv.Note = adj.Note
	mv.CreatedBy = adj.ActorID
	mv.CreatedAt = adj.At

	r.saveLocked(item)
	r.s.movements = append(r.s.movements, mv)
	return item, mv, nil
}

func (r *stockRepositoryInMemory) MovementsByProduct(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]domain.StockMovement, 0)
	for i := len(r.s.movements) - 1; i >= 0; i-- {
		mv := r.s.movements[i]
		if mv.ProductID != productID {
			continue
		}
		result = append(result, mv)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (r *stockRepositoryInMemory) LowStock(ctx context.Context, merchantID string, limit int) ([]domain.StockItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.s.mu.RLock()
	result := make([]domain.StockItem, 0)
	for _, item := range r.s.stock {
		product, ok := r.s.products[item.ProductID]
		if !ok || !product.IsActive {
			continue
		}
		if merchantID != "" && product.MerchantID != merchantID {
			continue
		}
		if item.IsLow() {
			result = append(result, item)
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].Available != result[j].Available {
			return result[i].Available < result[j].Available
		}
		return result[i].ID < result[j].ID
	})
	return paginate(result, 0, limit), nil
}

func (r *stockRepositoryInMemory) itemForLocked(product domain.Product, warehouseID string, at time.Time) domain.StockItem {
	if id, ok := r.s.stockKeys[stockKey{productID: product.ID, warehouseID: warehouseID}]; ok {
		return r.s.stock[id]
	}
	return domain.StockItem{
		ID:           uuid.NewString(),
		ProductID:    product.ID,
		WarehouseID:  warehouseID,
		ReorderLevel: product.ReorderLevel,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
}

func (r *stockRepositoryInMemory) saveLocked(item domain.StockItem) {
	r.s.stock[item.ID] = item
	r.s.stockKeys[stockKey{productID: item.ProductID, warehouseID: item.WarehouseID}] = item.ID
}

var _ domain.StockRepository = (*stockRepositoryInMemory)(nil)
