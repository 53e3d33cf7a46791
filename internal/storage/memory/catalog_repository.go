package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type productRepositoryInMemory struct {
	s *Store
}

// NewProductRepository создаёт in-memory реализацию ProductRepository.
func NewProductRepository(s *Store) domain.ProductRepository {
	return &productRepositoryInMemory{s: s}
}

func (r *productRepositoryInMemory) Create(ctx context.Context, p domain.Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, taken := r.s.skus[p.SKU]; taken {
		return domain.ErrSKUTaken
	}
	r.s.products[p.ID] = p
	r.s.skus[p.SKU] = p.ID
	return nil
}

func (r *productRepositoryInMemory) Get(ctx context.Context, id string) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, err
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p, nil
}

func (r *productRepositoryInMemory) Update(ctx context.Context, p domain.Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.products[p.ID]
	if !ok {
		return domain.ErrProductNotFound
	}
	if current.SKU != p.SKU {
		if _, taken := r.s.skus[p.SKU]; taken {
			return domain.ErrSKUTaken
		}
		delete(r.s.skus, current.SKU)
		r.s.skus[p.SKU] = p.ID
	}
	r.s.products[p.ID] = p
	return nil
}

func (r *productRepositoryInMemory) ListActive(ctx context.Context, merchantID string, ids []string) ([]domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	seen := make(map[string]struct{}, len(ids))
	result := make([]domain.Product, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		p, ok := r.s.products[id]
		if !ok || !p.IsActive || p.MerchantID != merchantID {
			continue
		}
		result = append(result, p)
	}
	return result, nil
}

var _ domain.ProductRepository = (*productRepositoryInMemory)(nil)

type warehouseRepositoryInMemory struct {
	s *Store
}

// NewWarehouseRepository создаёт in-memory реализацию WarehouseRepository.
func NewWarehouseRepository(s *Store) domain.WarehouseRepository {
	return &warehouseRepositoryInMemory{s: s}
}

func (r *warehouseRepositoryInMemory) Create(ctx context.Context, w domain.Warehouse) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.warehouses {
		if existing.Code == w.Code {
			return domain.ErrWarehouseCodeTaken
		}
	}
	r.s.warehouses[w.ID] = w
	return nil
}

func (r *warehouseRepositoryInMemory) Get(ctx context.Context, id string) (domain.Warehouse, error) {
	if err := ctx.Err(); err != nil {
		return domain.Warehouse{}, err
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	w, ok := r.s.warehouses[id]
	if !ok {
		return domain.Warehouse{}, domain.ErrWarehouseNotFound
	}
	return w, nil
}

func (r *warehouseRepositoryInMemory) Update(ctx context.Context, w domain.Warehouse) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.warehouses[w.ID]
	if !ok {
		return domain.ErrWarehouseNotFound
	}
	w.Code = current.Code
	w.CreatedAt = current.CreatedAt
	r.s.warehouses[w.ID] = w
	return nil
}

// List возвращает склады, отсортированные по коду.
func (r *warehouseRepositoryInMemory) List(ctx context.Context, activeOnly bool) ([]domain.Warehouse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.s.mu.RLock()
	result := make([]domain.Warehouse, 0, len(r.s.warehouses))
	for _, w := range r.s.warehouses {
		if activeOnly && !w.IsActive {
			continue
		}
		result = append(result, w)
	}
	r.s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].Code != result[j].Code {
			return result[i].Code < result[j].Code
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (r *warehouseRepositoryInMemory) FirstActive(ctx context.Context) (domain.Warehouse, error) {
	list, err := r.List(ctx, true)
	if err != nil {
		return domain.Warehouse{}, err
	}
	if len(list) == 0 {
		return domain.Warehouse{}, domain.ErrWarehouseNotFound
	}
	return list[0], nil
}

func (r *warehouseRepositoryInMemory) CountByCodePrefix(ctx context.Context, prefix string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	count := 0
	for _, w := range r.s.warehouses {
		if strings.HasPrefix(w.Code, prefix) {
			count++
		}
	}
	return count, nil
}

var _ domain.WarehouseRepository = (*warehouseRepositoryInMemory)(nil)
