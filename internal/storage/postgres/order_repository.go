package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const orderColumns = `
	id, order_number, merchant_id, customer_name, customer_email, customer_phone,
	shipping_address, payment_method, notes, status, reservation_state,
	order_value, delivery_fee, total_amount, created_by, version, created_at, updated_at`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

// PlaceOrder выполняет проверку и резервирование одной транзакцией.
// Строки stock_items блокируются через SELECT ... FOR UPDATE в порядке
// (product_id, код склада, id склада). Тот же порядок держат
// applyReservationEffect и складские операции.
func (r *orderRepository) PlaceOrder(ctx context.Context, p domain.OrderPlacement) (_ domain.Order, err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order := p.Order
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(tx, &err)

	candidates, err := lockCandidates(ctx, tx, productIDs(order.Items))
	if err != nil {
		return domain.Order{}, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, orderArgs(order, domain.ReservationHeld)...)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			if constraint == "orders_order_number_key" {
				return domain.Order{}, domain.ErrOrderNumberConflict
			}
			return domain.Order{}, domain.ErrOrderVersionConflict
		}
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, product_id, sku, product_name, quantity, unit_price, total_price, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, item.ID, order.ID, item.ProductID, item.SKU, item.ProductName, item.Quantity,
			item.UnitPrice, item.TotalPrice, item.CreatedAt); err != nil {
			return domain.Order{}, fmt.Errorf("insert order item: %w", err)
		}

		productCandidates := candidates[item.ProductID]
		var draws []domain.Draw
		draws, err = domain.PlanReservation(productCandidates, item.Quantity)
		if err != nil {
			return domain.Order{}, fmt.Errorf("product %s: %w", item.ProductID, err)
		}

		item.Allocations = make([]domain.Allocation, 0, len(draws))
		for _, d := range draws {
			if err = reserveStock(ctx, tx, d, order.CreatedAt); err != nil {
				return domain.Order{}, fmt.Errorf("product %s: %w", item.ProductID, err)
			}
			// повторная позиция того же товара должна видеть уже зарезервированное
			for k := range productCandidates {
				if productCandidates[k].Item.ID == d.StockItemID {
					if err = productCandidates[k].Item.Reserve(d.Quantity); err != nil {
						return domain.Order{}, err
					}
				}
			}

			alloc := domain.Allocation{
				ID:            uuid.NewString(),
				OrderID:       order.ID,
				OrderItemID:   item.ID,
				ProductID:     item.ProductID,
				StockItemID:   d.StockItemID,
				WarehouseID:   d.WarehouseID,
				WarehouseCode: d.WarehouseCode,
				Quantity:      d.Quantity,
				CreatedAt:     order.CreatedAt,
			}
			if _, err = tx.ExecContext(ctx, `
				INSERT INTO order_allocations (
					id, order_id, order_item_id, product_id, stock_item_id,
					warehouse_id, warehouse_code, quantity, created_at
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			`, alloc.ID, alloc.OrderID, alloc.OrderItemID, alloc.ProductID, alloc.StockItemID,
				alloc.WarehouseID, alloc.WarehouseCode, alloc.Quantity, alloc.CreatedAt); err != nil {
				return domain.Order{}, fmt.Errorf("insert allocation: %w", err)
			}
			item.Allocations = append(item.Allocations, alloc)

			if err = insertMovement(ctx, tx, domain.StockMovement{
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
			}); err != nil {
				return domain.Order{}, err
			}
		}
	}

	if err = insertHistory(ctx, tx, p.History); err != nil {
		return domain.Order{}, err
	}
	if err = insertAudit(ctx, tx, p.Audit); err != nil {
		return domain.Order{}, err
	}
	if err = insertOutbox(ctx, tx, p.Events); err != nil {
		return domain.Order{}, err
	}

	if err = tx.Commit(); err != nil {
		return domain.Order{}, fmt.Errorf("commit place order: %w", err)
	}

	order.ReservationState = domain.ReservationHeld
	return order, nil
}

// lockCandidates блокирует складские позиции товаров на активных складах.
func lockCandidates(ctx context.Context, tx *sql.Tx, ids []string) (map[string][]domain.StockCandidate, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT s.id, s.product_id, s.warehouse_id, s.quantity, s.reserved_quantity,
		       s.available_quantity, s.reorder_level, s.created_at, s.updated_at, w.code
		FROM stock_items s
		JOIN warehouses w ON w.id = s.warehouse_id
		WHERE s.product_id = ANY($1) AND w.is_active
		ORDER BY s.product_id, w.code, w.id
		FOR UPDATE OF s
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("lock stock items: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]domain.StockCandidate, len(ids))
	for rows.Next() {
		var c domain.StockCandidate
		if err := rows.Scan(
			&c.Item.ID, &c.Item.ProductID, &c.Item.WarehouseID, &c.Item.Quantity, &c.Item.Reserved,
			&c.Item.Available, &c.Item.ReorderLevel, &c.Item.CreatedAt, &c.Item.UpdatedAt, &c.WarehouseCode,
		); err != nil {
			return nil, fmt.Errorf("scan stock item: %w", err)
		}
		result[c.Item.ProductID] = append(result[c.Item.ProductID], c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock items: %w", err)
	}
	for id := range result {
		domain.SortCandidates(result[id])
	}
	return result, nil
}

// reserveStock: условное списание в резерв: ноль затронутых строк означает, что сток уже занят.
func reserveStock(ctx context.Context, tx *sql.Tx, d domain.Draw, at time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE stock_items
		SET reserved_quantity = reserved_quantity + $2,
		    available_quantity = available_quantity - $2,
		    updated_at = $3
		WHERE id = $1 AND available_quantity >= $2
	`, d.StockItemID, d.Quantity, at)
	if err != nil {
		return fmt.Errorf("reserve stock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for reserve: %w", err)
	}
	if affected == 0 {
		return domain.ErrInsufficientStock
	}
	return nil
}

func productIDs(items []domain.OrderItem) []string {
	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	sort.Strings(ids)
	return ids
}

func orderArgs(o domain.Order, state domain.ReservationState) []any {
	address, _ := json.Marshal(o.ShippingAddress)
	return []any{
		o.ID, o.OrderNumber, o.MerchantID, o.CustomerName, o.CustomerEmail, o.CustomerPhone,
		address, string(o.PaymentMethod), o.Notes, string(o.Status), string(state),
		o.OrderValue, o.DeliveryFee, o.TotalAmount, o.CreatedBy, o.Version, o.CreatedAt, o.UpdatedAt,
	}
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		o                               domain.Order
		address                         []byte
		payment, status, reservationRaw string
	)
	if err := row.Scan(
		&o.ID, &o.OrderNumber, &o.MerchantID, &o.CustomerName, &o.CustomerEmail, &o.CustomerPhone,
		&address, &payment, &o.Notes, &status, &reservationRaw,
		&o.OrderValue, &o.DeliveryFee, &o.TotalAmount, &o.CreatedBy, &o.Version, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	if len(address) > 0 {
		if err := json.Unmarshal(address, &o.ShippingAddress); err != nil {
			return domain.Order{}, fmt.Errorf("decode shipping address: %w", err)
		}
	}
	o.PaymentMethod = domain.PaymentMethod(payment)
	o.Status = domain.OrderStatus(status)
	o.ReservationState = domain.ReservationState(reservationRaw)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return o, nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	orders := []domain.Order{order}
	if err := r.loadItems(ctx, orders); err != nil {
		return domain.Order{}, err
	}
	return orders[0], nil
}

func (r *orderRepository) List(ctx context.Context, filter domain.OrderFilter) (domain.Page[domain.Order], error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.MerchantID != "" {
		add("merchant_id = $%d", filter.MerchantID)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.PaymentMethod != "" {
		add("payment_method = $%d", string(filter.PaymentMethod))
	}
	if !filter.DateFrom.IsZero() {
		add("created_at >= $%d", filter.DateFrom)
	}
	if !filter.DateTo.IsZero() {
		add("created_at < $%d", filter.DateTo)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	page := domain.Page[domain.Order]{Page: max(filter.Page, 1), Limit: filter.Limit, Items: []domain.Order{}}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&page.Total); err != nil {
		return domain.Page[domain.Order]{}, fmt.Errorf("count orders: %w", err)
	}

	query := `SELECT ` + orderColumns + ` FROM orders` + where + ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit, filter.Offset())
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return domain.Page[domain.Order]{}, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return domain.Page[domain.Order]{}, fmt.Errorf("scan order: %w", err)
		}
		page.Items = append(page.Items, order)
	}
	if err := rows.Err(); err != nil {
		return domain.Page[domain.Order]{}, fmt.Errorf("iterate orders: %w", err)
	}

	if err := r.loadItems(ctx, page.Items); err != nil {
		return domain.Page[domain.Order]{}, err
	}
	return page, nil
}

// loadItems подгружает позиции и резервы для набора заказов двумя запросами.
func (r *orderRepository) loadItems(ctx context.Context, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
		orders[i].Items = []domain.OrderItem{}
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, sku, product_name, quantity, unit_price, total_price, created_at
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY created_at, id
	`, ids)
	if err != nil {
		return fmt.Errorf("select order items: %w", err)
	}
	itemIndex := make(map[string][2]int)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.SKU, &item.ProductName,
			&item.Quantity, &item.UnitPrice, &item.TotalPrice, &item.CreatedAt); err != nil {
			rows.Close()
			return fmt.Errorf("scan order item: %w", err)
		}
		oi := index[item.OrderID]
		orders[oi].Items = append(orders[oi].Items, item)
		itemIndex[item.ID] = [2]int{oi, len(orders[oi].Items) - 1}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate order items: %w", err)
	}
	rows.Close()

	allocRows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, order_item_id, product_id, stock_item_id, warehouse_id, warehouse_code, quantity, created_at
		FROM order_allocations
		WHERE order_id = ANY($1)
		ORDER BY warehouse_code, id
	`, ids)
	if err != nil {
		return fmt.Errorf("select allocations: %w", err)
	}
	defer allocRows.Close()

	for allocRows.Next() {
		var a domain.Allocation
		if err := allocRows.Scan(&a.ID, &a.OrderID, &a.OrderItemID, &a.ProductID, &a.StockItemID,
			&a.WarehouseID, &a.WarehouseCode, &a.Quantity, &a.CreatedAt); err != nil {
			return fmt.Errorf("scan allocation: %w", err)
		}
		pos, ok := itemIndex[a.OrderItemID]
		if !ok {
			continue
		}
		item := &orders[pos[0]].Items[pos[1]]
		item.Allocations = append(item.Allocations, a)
	}
	if err := allocRows.Err(); err != nil {
		return fmt.Errorf("iterate allocations: %w", err)
	}
	return nil
}

func (r *orderRepository) History(ctx context.Context, orderID string) ([]domain.OrderStatusHistory, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check order exists: %w", err)
	}
	if !exists {
		return nil, domain.ErrOrderNotFound
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, status, note, changed_by, created_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY created_at, id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list status history: %w", err)
	}
	defer rows.Close()

	history := make([]domain.OrderStatusHistory, 0)
	for rows.Next() {
		var (
			h      domain.OrderStatusHistory
			status string
		)
		if err := rows.Scan(&h.ID, &h.OrderID, &status, &h.Note, &h.ChangedBy, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan status history: %w", err)
		}
		h.Status = domain.OrderStatus(status)
		h.CreatedAt = h.CreatedAt.UTC()
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status history: %w", err)
	}
	return history, nil
}

// ChangeStatus блокирует строку заказа, сверяет версию и применяет эффект на резервы.
func (r *orderRepository) ChangeStatus(ctx context.Context, change domain.StatusChange) (_ domain.Order, err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(tx, &err)

	order, err := scanOrder(tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, change.OrderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("lock order: %w", err)
	}
	if order.Version != change.ExpectedVersion || order.Status != change.From {
		return domain.Order{}, domain.ErrOrderVersionConflict
	}

	state := order.ReservationState
	if state == domain.ReservationHeld && change.Reservation != domain.ReservationHeld {
		if err = applyReservationEffect(ctx, tx, order, change); err != nil {
			return domain.Order{}, err
		}
		state = change.Reservation
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, reservation_state = $3, version = version + 1, updated_at = $4
		WHERE id = $1
	`, order.ID, string(change.To), string(state), change.At); err != nil {
		return domain.Order{}, fmt.Errorf("update order status: %w", err)
	}
	if err = insertHistory(ctx, tx, change.History); err != nil {
		return domain.Order{}, err
	}
	if err = insertAudit(ctx, tx, change.Audit); err != nil {
		return domain.Order{}, err
	}
	if err = insertOutbox(ctx, tx, change.Events); err != nil {
		return domain.Order{}, err
	}
	if err = tx.Commit(); err != nil {
		return domain.Order{}, fmt.Errorf("commit status change: %w", err)
	}

	return r.Get(ctx, order.ID)
}

// applyReservationEffect сначала блокирует строки stock_items в том же
// порядке, что и lockCandidates: отмена и размещение, задевающие одни
// товары, ждут друг друга, а не встают в цикл.
func applyReservationEffect(ctx context.Context, tx *sql.Tx, order domain.Order, change domain.StatusChange) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT a.stock_item_id, a.product_id, a.warehouse_id, a.quantity
		FROM order_allocations a
		JOIN stock_items s ON s.id = a.stock_item_id
		JOIN warehouses w ON w.id = s.warehouse_id
		WHERE a.order_id = $1
		ORDER BY s.product_id, w.code, w.id
		FOR UPDATE OF s
	`, order.ID)
	if err != nil {
		return fmt.Errorf("select allocations: %w", err)
	}
	var allocs []domain.Allocation
	for rows.Next() {
		var a domain.Allocation
		if err := rows.Scan(&a.StockItemID, &a.ProductID, &a.WarehouseID, &a.Quantity); err != nil {
			rows.Close()
			return fmt.Errorf("scan allocation: %w", err)
		}
		allocs = append(allocs, a)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate allocations: %w", err)
	}
	rows.Close()

	for _, a := range allocs {
		var query string
		switch change.Reservation {
		case domain.ReservationReleased:
			query = `
				UPDATE stock_items
				SET reserved_quantity = reserved_quantity - $2,
				    available_quantity = available_quantity + $2,
				    updated_at = $3
				WHERE id = $1 AND reserved_quantity >= $2`
		case domain.ReservationConsumed:
			query = `
				UPDATE stock_items
				SET reserved_quantity = reserved_quantity - $2,
				    quantity = quantity - $2,
				    updated_at = $3
				WHERE id = $1 AND reserved_quantity >= $2`
		default:
			return fmt.Errorf("%w: unsupported reservation effect %s", domain.ErrStockInvariant, change.Reservation)
		}

		res, err := tx.ExecContext(ctx, query, a.StockItemID, a.Quantity, change.At)
		if err != nil {
			return fmt.Errorf("apply reservation effect: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected for reservation effect: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("%w: stock item %s", domain.ErrStockInvariant, a.StockItemID)
		}

		if change.Reservation == domain.ReservationReleased {
			if err := insertMovement(ctx, tx, domain.StockMovement{
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
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *orderRepository) Movements(ctx context.Context, orderID string) ([]domain.StockMovement, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return queryMovements(ctx, r.db, `
		WHERE reference_type = $1 AND reference_id = $2
		ORDER BY created_at, id
	`, string(domain.ReferenceOrder), orderID)
}

var _ domain.OrderRepository = (*orderRepository)(nil)
