package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const stockColumns = `s.id, s.product_id, s.warehouse_id, s.quantity, s.reserved_quantity,
	s.available_quantity, s.reorder_level, s.created_at, s.updated_at`

type stockRepository struct {
	db *sql.DB
}

// NewStockRepository создаёт PostgreSQL-реализацию StockRepository.
func NewStockRepository(store *Store) domain.StockRepository {
	return &stockRepository{db: store.DB()}
}

func scanStockItem(row rowScanner, extra ...any) (domain.StockItem, error) {
	var item domain.StockItem
	dest := append([]any{
		&item.ID, &item.ProductID, &item.WarehouseID, &item.Quantity, &item.Reserved,
		&item.Available, &item.ReorderLevel, &item.CreatedAt, &item.UpdatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return domain.StockItem{}, err
	}
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, nil
}

func (r *stockRepository) ListByProduct(ctx context.Context, productID string) ([]domain.StockCandidate, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+stockColumns+`, w.code
		FROM stock_items s
		JOIN warehouses w ON w.id = s.warehouse_id
		WHERE s.product_id = $1
		ORDER BY w.code, w.id
	`, productID)
	if err != nil {
		return nil, fmt.Errorf("list stock items: %w", err)
	}
	defer rows.Close()

	result := make([]domain.StockCandidate, 0, 2)
	for rows.Next() {
		var c domain.StockCandidate
		if c.Item, err = scanStockItem(rows, &c.WarehouseCode); err != nil {
			return nil, fmt.Errorf("scan stock item: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock items: %w", err)
	}
	return result, nil
}

func (r *stockRepository) Receive(ctx context.Context, receipt domain.StockReceipt) (_ domain.StockItem, _ domain.StockMovement, err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if receipt.Quantity <= 0 {
		return domain.StockItem{}, domain.StockMovement{}, domain.ErrItemQtyInvalid
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StockItem{}, domain.StockMovement{}, fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(tx, &err)

	var reorderLevel int
	if err = tx.QueryRowContext(ctx, `SELECT reorder_level FROM products WHERE id = $1`, receipt.ProductID).Scan(&reorderLevel); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockItem{}, domain.StockMovement{}, domain.ErrProductNotFound
		}
		return domain.StockItem{}, domain.StockMovement{}, fmt.Errorf("select product: %w", err)
	}

	var active bool
	if err = tx.QueryRowContext(ctx, `SELECT is_active FROM warehouses WHERE id = $1`, receipt.WarehouseID).Scan(&active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockItem{}, domain.StockMovement{}, domain.ErrWarehouseNotFound
		}
		return domain.StockItem{}, domain.StockMovement{}, fmt.Errorf("select warehouse: %w", err)
	}
	if !active {
		return domain.StockItem{}, domain.StockMovement{}, domain.ErrWarehouseInactive
	}

	item, err := scanStockItem(tx.QueryRowContext(ctx, `
		INSERT INTO stock_items AS s (
			id, product_id, warehouse_id, quantity, reserved_quantity, available_quantity,
			reorder_level, created_at, updated_at
		) VALUES ($1,$2,$3,$4,0,$4,$5,$6,$6)
		ON CONFLICT (product_id, warehouse_id) DO UPDATE
		SET quantity = s.quantity + EXCLUDED.quantity,
		    available_quantity = s.available_quantity + EXCLUDED.quantity,
		    updated_at = EXCLUDED.updated_at
		RETURNING `+stockColumns,
		uuid.NewString(), receipt.ProductID, receipt.WarehouseID, receipt.Quantity, reorderLevel, receipt.At,
	))
	if err != nil {
		return domain.StockItem{}, domain.StockMovement{}, fmt.Errorf("upsert stock item: %w", err)
	}

	mv := domain.MovementForDelta(item, receipt.Quantity)
	mv.ID = uuid.NewString()
	mv.ReferenceType = domain.ReferenceStockReceipt
	mv.ReferenceID = receipt.WarehouseID
	mv.Note = receipt.Note
	mv.CreatedBy = receipt.ActorID
	mv.CreatedAt = receipt.At
	if err = insertMovement(ctx, tx, mv); err != nil {
		return domain.StockItem{}, domain.StockMovement{}, err
	}

	if err = tx.Commit(); err != nil {
		return domain.StockItem{}, domain.StockMovement{}, fmt.Errorf("commit receipt: %w", err)
	}
	return item, mv, nil
}

// Adjust блокирует первую позицию товара (по коду склада) и выставляет количество.
func (r *stockRepository) Adjust(ctx context.Context, adj domain.StockAdjustment) (_ domain.StockItem, _ domain.StockMovement, err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StockItem{}, domain.StockMovement{}, fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(tx, &err)

	var reorderLevel int
	if err = tx.QueryRowContext(ctx, `SELECT reorder_level FROM products WHERE id = $1`, adj.ProductID).Scan(&reorderLevel); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockItem{}, domain.StockMovement{}, domain.ErrProductNotFound
		}
		return domain.StockItem{}, domain.StockMovement{}, fmt.Errorf("select product: %w", err)
	}

	item, err := scanStockItem(tx.QueryRowContext(ctx, `
		SELECT `+stockColumns+`
		FROM stock_items s
		JOIN warehouses w ON w.id = s.warehouse_id
		WHERE s.product_id = $1
		ORDER BY w.code, w.id
		LIMIT 1
		FOR UPDATE OF s
	`, adj.ProductID))
	existing := true
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return domain.StockItem{}, domain.StockMovement{}, fmt.Errorf("lock stock item: %w", err)
		}
		existing = false

		var found bool
		if err = tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM warehouses WHERE id = $1)`, adj.FallbackWarehouseID).Scan(&found); err != nil {
			return domain.StockItem{}, domain.StockMovement{}, fmt.Errorf("check warehouse: %w", err)
		}
		if !found {
			err = fmt.Errorf("%w: no stock item for product %s", domain.ErrWarehouseNotFound, adj.ProductID)
			return domain.StockItem{}, domain.StockMovement{}, err
		}
		item = domain.StockItem{
			ID:           uuid.NewString(),
			ProductID:    adj.ProductID,
			WarehouseID:  adj.FallbackWarehouseID,
			ReorderLevel: reorderLevel,
			CreatedAt:    adj.At,
		}
	}

	delta, err := item.SetQuantity(adj.Quantity)
	if err != nil {
		return domain.StockItem{}, domain.StockMovement{}, err
	}
	item.UpdatedAt = adj.At

	if existing {
		_, err = tx.ExecContext(ctx, `
			UPDATE stock_items
			SET quantity = $2, available_quantity = $3, updated_at = $4
			WHERE id = $1
		`, item.ID, item.Quantity, item.Available, item.UpdatedAt)
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO stock_items (
				id, product_id, warehouse_id, quantity, reserved_quantity, available_quantity,
				reorder_level, created_at, updated_at
			) VALUES ($1,$2,$3,$4,0,$4,$5,$6,$6)
		`, item.ID, item.ProductID, item.WarehouseID, item.Quantity, item.ReorderLevel, item.UpdatedAt)
	}
	if err != nil {
		return domain.StockItem{}, domain.StockMovement{}, fmt.Errorf("save stock item: %w", err)
	}

	mv := domain.MovementForDelta(item, delta)
	mv.ID = uuid.NewString()
	mv.ReferenceType = domain.ReferenceProductUpdate
	mv.ReferenceID = adj.ProductID
	mv.Note = adj.Note
	mv.CreatedBy = adj.ActorID
	mv.CreatedAt = adj.At
	if err = insertMovement(ctx, tx, mv); err != nil {
		return domain.StockItem{}, domain.StockMovement{}, err
	}

	if err = tx.Commit(); err != nil {
		return domain.StockItem{}, domain.StockMovement{}, fmt.Errorf("commit adjustment: %w", err)
	}
	return item, mv, nil
}

func (r *stockRepository) MovementsByProduct(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	return queryMovements(ctx, r.db, `
		WHERE product_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, productID, limit)
}

func (r *stockRepository) LowStock(ctx context.Context, merchantID string, limit int) ([]domain.StockItem, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+stockColumns+`
		FROM stock_items s
		JOIN products p ON p.id = s.product_id
		WHERE p.is_active
		  AND ($1 = '' OR p.merchant_id = $1)
		  AND s.available_quantity <= s.reorder_level
		ORDER BY s.available_quantity, s.id
		LIMIT $2
	`, merchantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list low stock: %w", err)
	}
	defer rows.Close()

	result := make([]domain.StockItem, 0)
	for rows.Next() {
		item, err := scanStockItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stock item: %w", err)
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate low stock: %w", err)
	}
	return result, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryMovements(ctx context.Context, db queryer, tail string, args ...any) ([]domain.StockMovement, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, stock_item_id, product_id, warehouse_id, movement_type, quantity,
		       reference_type, reference_id, note, created_by, created_at
		FROM stock_movements
	`+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("list stock movements: %w", err)
	}
	defer rows.Close()

	result := make([]domain.StockMovement, 0)
	for rows.Next() {
		var (
			mv            domain.StockMovement
			kind, refKind string
		)
		if err := rows.Scan(&mv.ID, &mv.StockItemID, &mv.ProductID, &mv.WarehouseID, &kind, &mv.Quantity,
			&refKind, &mv.ReferenceID, &mv.Note, &mv.CreatedBy, &mv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan stock movement: %w", err)
		}
		mv.Type = domain.MovementType(kind)
		mv.ReferenceType = domain.ReferenceType(refKind)
		mv.CreatedAt = mv.CreatedAt.UTC()
		result = append(result, mv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock movements: %w", err)
	}
	return result, nil
}

var _ domain.StockRepository = (*stockRepository)(nil)
