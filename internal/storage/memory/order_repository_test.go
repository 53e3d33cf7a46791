package memory_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

type fixture struct {
	store      *memory.Store
	orders     domain.OrderRepository
	stock      domain.StockRepository
	products   domain.ProductRepository
	warehouses domain.WarehouseRepository
	outbox     domain.OutboxRepository
	audit      domain.AuditRepository
	product    domain.Product
	whA        domain.Warehouse
	whB        domain.Warehouse
}

func newFixture(t *testing.T, qtyA, qtyB int) *fixture {
	t.Helper()

	ctx := context.Background()
	store := memory.NewStore()
	f := &fixture{
		store:      store,
		orders:     memory.NewOrderRepository(store),
		stock:      memory.NewStockRepository(store),
		products:   memory.NewProductRepository(store),
		warehouses: memory.NewWarehouseRepository(store),
		outbox:     memory.NewOutboxRepository(store),
		audit:      memory.NewAuditRepository(store),
	}

	now := time.Now().UTC()
	f.product = domain.Product{
		ID: "prod-1", MerchantID: "m-1", SKU: "SKU-1", Name: "Tea",
		UnitPrice: decimal.NewFromInt(250), ReorderLevel: 2, IsActive: true, CreatedAt: now,
	}
	require.NoError(t, f.products.Create(ctx, f.product))

	// B создаётся первым, чтобы порядок резервирования не зависел от порядка вставки.
	f.whB = domain.Warehouse{ID: "wh-b", Code: "DHA-02", Name: "B", City: "Dhaka", IsActive: true, CreatedAt: now}
	f.whA = domain.Warehouse{ID: "wh-a", Code: "DHA-01", Name: "A", City: "Dhaka", IsActive: true, CreatedAt: now}
	require.NoError(t, f.warehouses.Create(ctx, f.whB))
	require.NoError(t, f.warehouses.Create(ctx, f.whA))

	for wh, qty := range map[string]int{f.whA.ID: qtyA, f.whB.ID: qtyB} {
		if qty == 0 {
			continue
		}
		_, _, err := f.stock.Receive(ctx, domain.StockReceipt{ProductID: f.product.ID, WarehouseID: wh, Quantity: qty, At: now})
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) placement(number string, qty int) domain.OrderPlacement {
	now := time.Now().UTC()
	orderID := uuid.NewString()
	order := domain.Order{
		ID:            orderID,
		OrderNumber:   number,
		MerchantID:    "m-1",
		CustomerName:  "Rahim",
		CustomerPhone: "+8801712345678",
		PaymentMethod: domain.PaymentCOD,
		Status:        domain.OrderStatusPending,
		DeliveryFee:   decimal.NewFromInt(60),
		Items: []domain.OrderItem{{
			ID: uuid.NewString(), OrderID: orderID, ProductID: f.product.ID, SKU: f.product.SKU,
			ProductName: f.product.Name, Quantity: qty, UnitPrice: f.product.UnitPrice, CreatedAt: now,
		}},
		CreatedBy: "user-1",
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	order.ComputeTotals()
	return domain.OrderPlacement{
		Order:   order,
		History: domain.OrderStatusHistory{ID: uuid.NewString(), OrderID: orderID, Status: domain.OrderStatusPending, ChangedBy: "user-1", CreatedAt: now},
		Audit:   domain.AuditEntry{ID: uuid.NewString(), Action: domain.AuditOrderCreated, EntityType: "order", EntityID: orderID, CreatedAt: now},
		Events:  []domain.OutboxMessage{{ID: uuid.NewString(), AggregateType: domain.AggregateOrder, AggregateID: orderID, EventType: domain.EventOrderCreated, CreatedAt: now}},
	}
}

func (f *fixture) stockByWarehouse(t *testing.T) map[string]domain.StockItem {
	t.Helper()
	candidates, err := f.stock.ListByProduct(context.Background(), f.product.ID)
	require.NoError(t, err)
	result := make(map[string]domain.StockItem, len(candidates))
	for _, c := range candidates {
		require.NoError(t, c.Item.Validate())
		result[c.Item.WarehouseID] = c.Item
	}
	return result
}

func TestOrderRepository_PlaceOrderSplitsAcrossWarehouses(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 3, 5)

	placed, err := f.orders.PlaceOrder(ctx, f.placement("ORD-20240501-AAAAAA", 6))
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationHeld, placed.ReservationState)

	allocs := placed.Items[0].Allocations
	require.Len(t, allocs, 2)
	assert.Equal(t, "wh-a", allocs[0].WarehouseID)
	assert.Equal(t, 3, allocs[0].Quantity)
	assert.Equal(t, "wh-b", allocs[1].WarehouseID)
	assert.Equal(t, 3, allocs[1].Quantity)

	stock := f.stockByWarehouse(t)
	assert.Equal(t, 0, stock["wh-a"].Available)
	assert.Equal(t, 3, stock["wh-a"].Reserved)
	assert.Equal(t, 2, stock["wh-b"].Available)
	assert.Equal(t, 3, stock["wh-b"].Reserved)

	movements, err := f.orders.Movements(ctx, placed.ID)
	require.NoError(t, err)
	require.Len(t, movements, 2)
	for _, mv := range movements {
		assert.Equal(t, domain.MovementStockOut, mv.Type)
		assert.Equal(t, 3, mv.Quantity)
	}

	history, err := f.orders.History(ctx, placed.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.OrderStatusPending, history[0].Status)

	pending, err := f.outbox.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.EventOrderCreated, pending[0].EventType)

	audit, err := f.audit.List(ctx, "order", placed.ID)
	require.NoError(t, err)
	assert.Len(t, audit, 1)
}

func TestOrderRepository_InsufficientStockHasNoSideEffects(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 3, 5)

	p := f.placement("ORD-20240501-BBBBBB", 2)
	p.Order.Items = append(p.Order.Items, domain.OrderItem{
		ID: uuid.NewString(), OrderID: p.Order.ID, ProductID: f.product.ID, Quantity: 7,
		UnitPrice: f.product.UnitPrice,
	})

	_, err := f.orders.PlaceOrder(ctx, p)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	stock := f.stockByWarehouse(t)
	assert.Equal(t, 3, stock["wh-a"].Available)
	assert.Equal(t, 0, stock["wh-a"].Reserved)
	assert.Equal(t, 5, stock["wh-b"].Available)

	_, err = f.orders.Get(ctx, p.Order.ID)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	movements, err := f.stock.MovementsByProduct(ctx, f.product.ID, 0)
	require.NoError(t, err)
	assert.Len(t, movements, 2, "only the receipts")

	pending, err := f.outbox.PullPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestOrderRepository_InactiveWarehouseIsSkipped(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 3, 5)

	f.whA.IsActive = false
	require.NoError(t, f.warehouses.Update(ctx, f.whA))

	whs, err := f.warehouses.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, whs, 1)

	_, err = f.orders.PlaceOrder(ctx, f.placement("ORD-20240501-CCCCC0", 6))
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	_, err = f.orders.PlaceOrder(ctx, f.placement("ORD-20240501-CCCCCC", 5))
	require.NoError(t, err)
	stock := f.stockByWarehouse(t)
	assert.Equal(t, 3, stock["wh-a"].Available)
	assert.Equal(t, 0, stock["wh-b"].Available)
	assert.Equal(t, 5, stock["wh-b"].Reserved)
}

func TestOrderRepository_OrderNumberConflict(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 10, 0)

	_, err := f.orders.PlaceOrder(ctx, f.placement("ORD-20240501-DUPDUP", 1))
	require.NoError(t, err)

	_, err = f.orders.PlaceOrder(ctx, f.placement("ORD-20240501-DUPDUP", 1))
	require.ErrorIs(t, err, domain.ErrOrderNumberConflict)
	assert.Equal(t, 9, f.stockByWarehouse(t)["wh-a"].Available)
}

func TestOrderRepository_ConcurrentLastUnit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 1, 0)

	const workers = 16
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.orders.PlaceOrder(ctx, f.placement(fmt.Sprintf("ORD-20240501-%06d", i), 1))
			if err == nil {
				succeeded.Add(1)
				return
			}
			if !errors.Is(err, domain.ErrInsufficientStock) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	item := f.stockByWarehouse(t)["wh-a"]
	assert.Equal(t, 0, item.Available)
	assert.Equal(t, 1, item.Reserved)
}

func TestOrderRepository_ChangeStatusReleasesOnCancel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 3, 5)

	placed, err := f.orders.PlaceOrder(ctx, f.placement("ORD-20240501-CANCEL", 6))
	require.NoError(t, err)

	now := time.Now().UTC()
	cancelled, err := f.orders.ChangeStatus(ctx, domain.StatusChange{
		OrderID:         placed.ID,
		From:            domain.OrderStatusPending,
		To:              domain.OrderStatusCancelled,
		ExpectedVersion: placed.Version,
		Reservation:     domain.ReservationReleased,
		History:         domain.OrderStatusHistory{ID: uuid.NewString(), OrderID: placed.ID, Status: domain.OrderStatusCancelled, ChangedBy: "admin", CreatedAt: now},
		At:              now,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, domain.ReservationReleased, cancelled.ReservationState)
	assert.Equal(t, placed.Version+1, cancelled.Version)

	stock := f.stockByWarehouse(t)
	assert.Equal(t, 3, stock["wh-a"].Available)
	assert.Equal(t, 5, stock["wh-b"].Available)
	assert.Equal(t, 0, stock["wh-b"].Reserved)

	movements, err := f.orders.Movements(ctx, placed.ID)
	require.NoError(t, err)
	in := 0
	for _, mv := range movements {
		if mv.Type == domain.MovementStockIn {
			in += mv.Quantity
		}
	}
	assert.Equal(t, 6, in)

	history, err := f.orders.History(ctx, placed.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestOrderRepository_ChangeStatusConsumesOnShip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 10, 0)

	placed, err := f.orders.PlaceOrder(ctx, f.placement("ORD-20240501-SHIPPD", 4))
	require.NoError(t, err)

	shipped, err := f.orders.ChangeStatus(ctx, domain.StatusChange{
		OrderID: placed.ID, From: domain.OrderStatusPending, To: domain.OrderStatusShipped,
		ExpectedVersion: placed.Version, Reservation: domain.ReservationConsumed, At: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationConsumed, shipped.ReservationState)

	item := f.stockByWarehouse(t)["wh-a"]
	assert.Equal(t, 6, item.Quantity)
	assert.Equal(t, 0, item.Reserved)
	assert.Equal(t, 6, item.Available)

	_, err = f.orders.ChangeStatus(ctx, domain.StatusChange{
		OrderID: placed.ID, From: domain.OrderStatusPending, To: domain.OrderStatusCancelled,
		ExpectedVersion: placed.Version, Reservation: domain.ReservationReleased, At: time.Now().UTC(),
	})
	require.ErrorIs(t, err, domain.ErrOrderVersionConflict)
}

func TestOrderRepository_ListFiltersAndPaginates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 100, 0)

	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		p := f.placement(fmt.Sprintf("ORD-20240501-L%05d", i), 1)
		p.Order.CreatedAt = base.Add(time.Duration(i) * 24 * time.Hour)
		if i == 4 {
			p.Order.PaymentMethod = domain.PaymentPrepaid
		}
		_, err := f.orders.PlaceOrder(ctx, p)
		require.NoError(t, err)
	}

	page, err := f.orders.List(ctx, domain.OrderFilter{MerchantID: "m-1", Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 3, page.TotalPages())
	require.Len(t, page.Items, 2)
	assert.True(t, page.Items[0].CreatedAt.After(page.Items[1].CreatedAt))

	page, err = f.orders.List(ctx, domain.OrderFilter{
		MerchantID: "m-1",
		DateFrom:   base.Add(24 * time.Hour),
		DateTo:     base.Add(3 * 24 * time.Hour),
		Limit:      20,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	page, err = f.orders.List(ctx, domain.OrderFilter{PaymentMethod: domain.PaymentPrepaid, Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	page, err = f.orders.List(ctx, domain.OrderFilter{MerchantID: "m-1", Page: 461168601842738792, Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Empty(t, page.Items)

	page, err = f.orders.List(ctx, domain.OrderFilter{MerchantID: "other", Limit: 20})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
	assert.Empty(t, page.Items)
}
