package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const productColumns = `id, merchant_id, sku, name, description, unit_price, reorder_level, is_active, created_at, updated_at`

type productRepository struct {
	db *sql.DB
}

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{db: store.DB()}
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	if err := row.Scan(&p.ID, &p.MerchantID, &p.SKU, &p.Name, &p.Description, &p.UnitPrice,
		&p.ReorderLevel, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return domain.Product{}, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func (r *productRepository) Create(ctx context.Context, p domain.Product) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, p.ID, p.MerchantID, p.SKU, p.Name, p.Description, p.UnitPrice, p.ReorderLevel, p.IsActive, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrSKUTaken
		}
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (r *productRepository) Get(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	p, err := scanProduct(r.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return p, nil
}

func (r *productRepository) Update(ctx context.Context, p domain.Product) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE products
		SET sku = $2, name = $3, description = $4, unit_price = $5,
		    reorder_level = $6, is_active = $7, updated_at = $8
		WHERE id = $1
	`, p.ID, p.SKU, p.Name, p.Description, p.UnitPrice, p.ReorderLevel, p.IsActive, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrSKUTaken
		}
		return fmt.Errorf("update product: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for product update: %w", err)
	}
	if affected == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

func (r *productRepository) ListActive(ctx context.Context, merchantID string, ids []string) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE merchant_id = $1 AND is_active AND id = ANY($2)
		ORDER BY id
	`, merchantID, ids)
	if err != nil {
		return nil, fmt.Errorf("list active products: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Product, 0, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return result, nil
}

const warehouseColumns = `id, code, name, address, city, is_active, merchant_visible, created_at`

type warehouseRepository struct {
	db *sql.DB
}

// NewWarehouseRepository создаёт PostgreSQL-реализацию WarehouseRepository.
func NewWarehouseRepository(store *Store) domain.WarehouseRepository {
	return &warehouseRepository{db: store.DB()}
}

func scanWarehouse(row rowScanner) (domain.Warehouse, error) {
	var w domain.Warehouse
	if err := row.Scan(&w.ID, &w.Code, &w.Name, &w.Address, &w.City, &w.IsActive, &w.MerchantVisible, &w.CreatedAt); err != nil {
		return domain.Warehouse{}, err
	}
	w.CreatedAt = w.CreatedAt.UTC()
	return w, nil
}

func (r *warehouseRepository) Create(ctx context.Context, w domain.Warehouse) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO warehouses (`+warehouseColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, w.ID, w.Code, w.Name, w.Address, w.City, w.IsActive, w.MerchantVisible, w.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrWarehouseCodeTaken
		}
		return fmt.Errorf("insert warehouse: %w", err)
	}
	return nil
}

func (r *warehouseRepository) Get(ctx context.Context, id string) (domain.Warehouse, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	w, err := scanWarehouse(r.db.QueryRowContext(ctx, `SELECT `+warehouseColumns+` FROM warehouses WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Warehouse{}, domain.ErrWarehouseNotFound
		}
		return domain.Warehouse{}, fmt.Errorf("select warehouse: %w", err)
	}
	return w, nil
}

func (r *warehouseRepository) Update(ctx context.Context, w domain.Warehouse) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE warehouses
		SET name = $2, address = $3, city = $4, is_active = $5, merchant_visible = $6
		WHERE id = $1
	`, w.ID, w.Name, w.Address, w.City, w.IsActive, w.MerchantVisible)
	if err != nil {
		return fmt.Errorf("update warehouse: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for warehouse update: %w", err)
	}
	if affected == 0 {
		return domain.ErrWarehouseNotFound
	}
	return nil
}

func (r *warehouseRepository) List(ctx context.Context, activeOnly bool) ([]domain.Warehouse, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+warehouseColumns+`
		FROM warehouses
		WHERE is_active OR NOT $1
		ORDER BY code, id
	`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list warehouses: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Warehouse, 0)
	for rows.Next() {
		w, err := scanWarehouse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan warehouse: %w", err)
		}
		result = append(result, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate warehouses: %w", err)
	}
	return result, nil
}

func (r *warehouseRepository) FirstActive(ctx context.Context) (domain.Warehouse, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	w, err := scanWarehouse(r.db.QueryRowContext(ctx, `
		SELECT `+warehouseColumns+`
		FROM warehouses
		WHERE is_active
		ORDER BY code, id
		LIMIT 1
	`))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Warehouse{}, domain.ErrWarehouseNotFound
		}
		return domain.Warehouse{}, fmt.Errorf("select first active warehouse: %w", err)
	}
	return w, nil
}

func (r *warehouseRepository) CountByCodePrefix(ctx context.Context, prefix string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var count int
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM warehouses WHERE starts_with(code, $1)
	`, prefix).Scan(&count); err != nil {
		return 0, fmt.Errorf("count warehouses: %w", err)
	}
	return count, nil
}

var (
	_ domain.ProductRepository   = (*productRepository)(nil)
	_ domain.WarehouseRepository = (*warehouseRepository)(nil)
)
