package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

var (
	admin     = domain.Principal{Kind: domain.PrincipalUser, ID: "admin-1", Role: domain.RoleAdmin}
	staff     = domain.Principal{Kind: domain.PrincipalUser, ID: "staff-1", Role: domain.RoleMerchantStaff, MerchantID: "m-1"}
	outsider  = domain.Principal{Kind: domain.PrincipalUser, ID: "staff-2", Role: domain.RoleMerchantStaff, MerchantID: "m-2"}
	warehouse = domain.Principal{Kind: domain.PrincipalUser, ID: "wh-1", Role: domain.RoleWarehouseStaff}
)

type fixture struct {
	svc    *Service
	store  *memory.Store
	orders domain.OrderRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	return &fixture{
		store:  store,
		orders: memory.NewOrderRepository(store),
		svc: New(Deps{
			Products:   memory.NewProductRepository(store),
			Warehouses: memory.NewWarehouseRepository(store),
			Stock:      memory.NewStockRepository(store),
		}),
	}
}

func productInput(sku string, qty int) CreateProductInput {
	return CreateProductInput{SKU: sku, Name: "Green tea", UnitPrice: decimal.RequireFromString("120.00"), ReorderLevel: 2, Quantity: qty}
}

func (f *fixture) reserve(t *testing.T, productID string, qty int) {
	t.Helper()
	now := time.Now().UTC()
	id := uuid.NewString()
	order := domain.Order{
		ID: id, OrderNumber: "ORD-20240501-" + id[:6], MerchantID: "m-1", CustomerName: "Karim", CustomerPhone: "+8801712345678",
		PaymentMethod: domain.PaymentCOD, Status: domain.OrderStatusPending, Version: 1, CreatedAt: now, UpdatedAt: now,
		Items: []domain.OrderItem{{ID: uuid.NewString(), OrderID: id, ProductID: productID, Quantity: qty, UnitPrice: decimal.NewFromInt(120)}},
	}
	order.ComputeTotals()
	_, err := f.orders.PlaceOrder(context.Background(), domain.OrderPlacement{Order: order})
	require.NoError(t, err)
}

func TestCreateProduct_InitialStockCreatesDefaultWarehouse(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	created, err := f.svc.CreateProduct(ctx, staff, productInput(" tea-1 ", 5))
	require.NoError(t, err)
	assert.Equal(t, "TEA-1", created.Product.SKU)
	assert.Equal(t, "m-1", created.Product.MerchantID)
	require.Len(t, created.Items, 1)
	assert.Equal(t, "DHA-01", created.Items[0].WarehouseCode)
	assert.Equal(t, 2, created.Items[0].Item.ReorderLevel)

	qty, reserved, available := created.Totals()
	assert.Equal(t, []int{5, 0, 5}, []int{qty, reserved, available})

	warehouses, err := f.svc.ListWarehouses(ctx, admin, false)
	require.NoError(t, err)
	require.Len(t, warehouses, 1)
	assert.Equal(t, "Dhaka Main Warehouse", warehouses[0].Name)

	movements, err := f.svc.Movements(ctx, staff, created.Product.ID, 0)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, domain.MovementStockIn, movements[0].Type)
	assert.Equal(t, domain.ReferenceProductUpdate, movements[0].ReferenceType)
	assert.Equal(t, 5, movements[0].Quantity)

	_, err = f.svc.CreateProduct(ctx, staff, productInput("TEA-1", 0))
	require.ErrorIs(t, err, domain.ErrSKUTaken)

	_, err = f.svc.CreateProduct(ctx, admin, productInput("TEA-2", 0))
	require.True(t, domain.IsValidation(err), "admin must name the merchant")

	_, err = f.svc.CreateProduct(ctx, warehouse, productInput("TEA-3", 0))
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestUpdateProduct_QuantityKeepsReservations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	created, err := f.svc.CreateProduct(ctx, staff, productInput("TEA-1", 5))
	require.NoError(t, err)
	f.reserve(t, created.Product.ID, 3)

	four := 4
	updated, err := f.svc.UpdateProduct(ctx, staff, created.Product.ID, UpdateProductInput{Quantity: &four})
	require.NoError(t, err)
	qty, reserved, available := updated.Totals()
	assert.Equal(t, []int{4, 3, 1}, []int{qty, reserved, available})

	two := 2
	_, err = f.svc.UpdateProduct(ctx, staff, created.Product.ID, UpdateProductInput{Quantity: &two})
	require.ErrorIs(t, err, domain.ErrQuantityBelowReserved)

	movements, err := f.svc.Movements(ctx, staff, created.Product.ID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, movements)
	assert.Equal(t, domain.MovementStockOut, movements[0].Type)
	assert.Equal(t, 1, movements[0].Quantity)

	name := "Black tea"
	price := decimal.RequireFromString("99.50")
	renamed, err := f.svc.UpdateProduct(ctx, staff, created.Product.ID, UpdateProductInput{Name: &name, UnitPrice: &price})
	require.NoError(t, err)
	assert.Equal(t, "Black tea", renamed.Product.Name)
	assert.True(t, renamed.Product.UnitPrice.Equal(price))

	_, err = f.svc.UpdateProduct(ctx, outsider, created.Product.ID, UpdateProductInput{Name: &name})
	require.ErrorIs(t, err, domain.ErrProductNotFound)

	negative := -1
	_, err = f.svc.UpdateProduct(ctx, staff, created.Product.ID, UpdateProductInput{Quantity: &negative})
	require.True(t, domain.IsValidation(err))
}

func TestWarehouses(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.CreateWarehouse(ctx, staff, WarehouseInput{Name: "x", City: "Dhaka"})
	require.ErrorIs(t, err, domain.ErrForbidden)

	first, err := f.svc.CreateWarehouse(ctx, admin, WarehouseInput{Name: "Mirpur hub", City: "Dhaka", Address: "Mirpur 10", MerchantVisible: true})
	require.NoError(t, err)
	second, err := f.svc.CreateWarehouse(ctx, admin, WarehouseInput{Name: "Tejgaon hub", City: "dhaka", Address: "Tejgaon I/A"})
	require.NoError(t, err)
	ctg, err := f.svc.CreateWarehouse(ctx, admin, WarehouseInput{Name: "Port hub", City: "Chattogram"})
	require.NoError(t, err)

	assert.Equal(t, "DHA-01", first.Code)
	assert.Equal(t, "DHA-02", second.Code)
	assert.Equal(t, "CHA-01", ctg.Code)

	list, err := f.svc.ListWarehouses(ctx, staff, false)
	require.NoError(t, err)
	require.Len(t, list, 3)
	addresses := map[string]string{}
	for _, w := range list {
		addresses[w.Code] = w.Address
	}
	assert.Equal(t, "Mirpur 10", addresses["DHA-01"])
	assert.Empty(t, addresses["DHA-02"])

	list, err = f.svc.ListWarehouses(ctx, warehouse, false)
	require.NoError(t, err)
	assert.Equal(t, "Tejgaon I/A", list[2].Address)
}

func TestReceiveAndLowStock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	wh, err := f.svc.CreateWarehouse(ctx, admin, WarehouseInput{Name: "Mirpur hub", City: "Dhaka"})
	require.NoError(t, err)
	created, err := f.svc.CreateProduct(ctx, staff, productInput("TEA-1", 0))
	require.NoError(t, err)
	assert.Empty(t, created.Items)

	_, err = f.svc.Receive(ctx, staff, ReceiveInput{ProductID: created.Product.ID, WarehouseID: wh.ID, Quantity: 1})
	require.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.svc.Receive(ctx, warehouse, ReceiveInput{ProductID: created.Product.ID, WarehouseID: wh.ID})
	require.True(t, domain.IsValidation(err))
	_, err = f.svc.Receive(ctx, warehouse, ReceiveInput{ProductID: "missing", WarehouseID: wh.ID, Quantity: 1})
	require.ErrorIs(t, err, domain.ErrProductNotFound)

	item, err := f.svc.Receive(ctx, warehouse, ReceiveInput{ProductID: created.Product.ID, WarehouseID: wh.ID, Quantity: 2, Note: "inbound truck"})
	require.NoError(t, err)
	assert.Equal(t, 2, item.Available)

	low, err := f.svc.LowStock(ctx, staff, "", 0)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, item.ID, low[0].ID)

	low, err = f.svc.LowStock(ctx, outsider, "m-1", 0)
	require.NoError(t, err)
	assert.Empty(t, low)

	_, err = f.svc.Receive(ctx, warehouse, ReceiveInput{ProductID: created.Product.ID, WarehouseID: wh.ID, Quantity: 10})
	require.NoError(t, err)
	low, err = f.svc.LowStock(ctx, admin, "", 10)
	require.NoError(t, err)
	assert.Empty(t, low)

	stock, err := f.svc.Stock(ctx, staff, created.Product.ID)
	require.NoError(t, err)
	qty, _, _ := stock.Totals()
	assert.Equal(t, 12, qty)
}
