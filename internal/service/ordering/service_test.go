package ordering

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

var (
	admin         = domain.Principal{Kind: domain.PrincipalUser, ID: "admin-1", Role: domain.RoleAdmin}
	merchantAdmin = domain.Principal{Kind: domain.PrincipalUser, ID: "madmin-1", Role: domain.RoleMerchantAdmin, MerchantID: "m-1"}
	merchantStaff = domain.Principal{Kind: domain.PrincipalUser, ID: "staff-1", Role: domain.RoleMerchantStaff, MerchantID: "m-1"}
	warehouse     = domain.Principal{Kind: domain.PrincipalUser, ID: "wh-user", Role: domain.RoleWarehouseStaff}
	apiWriter     = domain.Principal{Kind: domain.PrincipalAPIKey, ID: "key-1", MerchantID: "m-1", Permissions: []domain.Permission{domain.PermissionOrdersWrite, domain.PermissionOrdersRead}}
	apiReader     = domain.Principal{Kind: domain.PrincipalAPIKey, ID: "key-2", MerchantID: "m-1", Permissions: []domain.Permission{domain.PermissionOrdersRead}}
)

type fixture struct {
	svc    *Service
	store  *memory.Store
	stock  domain.StockRepository
	outbox domain.OutboxRepository
	tea    domain.Product
	coffee domain.Product
}

func newFixture(t *testing.T, teaA, teaB int) *fixture {
	t.Helper()

	ctx := context.Background()
	store := memory.NewStore()
	now := time.Now().UTC()

	merchants := memory.NewMerchantRepository(store)
	products := memory.NewProductRepository(store)
	warehouses := memory.NewWarehouseRepository(store)
	stock := memory.NewStockRepository(store)

	require.NoError(t, merchants.Create(ctx, domain.Merchant{ID: "m-1", Name: "Tea House", IsActive: true, CreatedAt: now}))
	require.NoError(t, merchants.Create(ctx, domain.Merchant{ID: "m-2", Name: "Other", IsActive: true, CreatedAt: now}))
	require.NoError(t, merchants.Create(ctx, domain.Merchant{ID: "m-off", Name: "Closed", IsActive: false, CreatedAt: now}))

	f := &fixture{
		store:  store,
		stock:  stock,
		outbox: memory.NewOutboxRepository(store),
		tea:    domain.Product{ID: "tea", MerchantID: "m-1", SKU: "TEA", Name: "Tea", UnitPrice: decimal.NewFromInt(250), ReorderLevel: 1, IsActive: true, CreatedAt: now},
		coffee: domain.Product{ID: "coffee", MerchantID: "m-1", SKU: "COF", Name: "Coffee", UnitPrice: decimal.NewFromInt(400), IsActive: true, CreatedAt: now},
	}
	require.NoError(t, products.Create(ctx, f.tea))
	require.NoError(t, products.Create(ctx, f.coffee))
	require.NoError(t, products.Create(ctx, domain.Product{ID: "foreign", MerchantID: "m-2", SKU: "FOR", Name: "Foreign", UnitPrice: decimal.NewFromInt(1), IsActive: true, CreatedAt: now}))
	require.NoError(t, products.Create(ctx, domain.Product{ID: "retired", MerchantID: "m-1", SKU: "RET", Name: "Retired", UnitPrice: decimal.NewFromInt(1), IsActive: false, CreatedAt: now}))

	require.NoError(t, warehouses.Create(ctx, domain.Warehouse{ID: "wh-b", Code: "DHA-02", Name: "Dhaka 2", City: "Dhaka", Address: "Tejgaon", IsActive: true, CreatedAt: now}))
	require.NoError(t, warehouses.Create(ctx, domain.Warehouse{ID: "wh-a", Code: "DHA-01", Name: "Dhaka 1", City: "Dhaka", Address: "Mirpur", IsActive: true, MerchantVisible: true, CreatedAt: now}))

	for wh, qty := range map[string]int{"wh-a": teaA, "wh-b": teaB} {
		if qty > 0 {
			_, _, err := stock.Receive(ctx, domain.StockReceipt{ProductID: f.tea.ID, WarehouseID: wh, Quantity: qty, At: now})
			require.NoError(t, err)
		}
	}
	_, _, err := stock.Receive(ctx, domain.StockReceipt{ProductID: f.coffee.ID, WarehouseID: "wh-b", Quantity: 10, At: now})
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	f.svc = New(Deps{
		Orders:     memory.NewOrderRepository(store),
		Products:   products,
		Merchants:  merchants,
		Warehouses: warehouses,
		Audit:      memory.NewAuditRepository(store),
		Metrics:    metrics.NewFulfillmentMetricsWithRegisterer(prometheus.NewRegistry()),
		Logger:     logger.WithField("component", "ordering-test"),
	})
	return f
}

func createInput(items ...ItemInput) CreateInput {
	return CreateInput{
		CustomerName:    "Rahim Uddin",
		CustomerEmail:   "rahim@example.com",
		CustomerPhone:   "01712345678",
		ShippingAddress: AddressInput{Line1: "House 12, Road 5", City: "Dhaka"},
		Items:           items,
		DeliveryFee:     decimal.NewFromInt(60),
	}
}

func tea(qty int) ItemInput {
	return ItemInput{ProductID: "tea", Quantity: qty, UnitPrice: decimal.RequireFromString("250.50")}
}

func (f *fixture) teaStock(t *testing.T) map[string]domain.StockItem {
	t.Helper()
	candidates, err := f.stock.ListByProduct(context.Background(), f.tea.ID)
	require.NoError(t, err)
	result := map[string]domain.StockItem{}
	for _, c := range candidates {
		require.NoError(t, c.Item.Validate())
		result[c.Item.WarehouseID] = c.Item
	}
	return result
}

func TestCreate_ReservesAcrossWarehouses(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 3, 5)

	details, err := f.svc.Create(ctx, merchantStaff, createInput(tea(6), ItemInput{ProductID: "coffee", Quantity: 1, UnitPrice: decimal.NewFromInt(400)}))
	require.NoError(t, err)

	order := details.Order
	assert.Regexp(t, regexp.MustCompile(`^ORD-\d{8}-[A-Z2-9]{6}$`), order.OrderNumber)
	assert.Equal(t, "m-1", order.MerchantID)
	assert.Equal(t, "+8801712345678", order.CustomerPhone)
	assert.Equal(t, domain.PaymentCOD, order.PaymentMethod)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, "1903", order.OrderValue.String())
	assert.Equal(t, "1963", order.TotalAmount.String())
	assert.Equal(t, 7, order.ReservedQuantity())

	require.NotNil(t, details.Merchant)
	assert.Equal(t, "Tea House", details.Merchant.Name)
	assert.Equal(t, "Mirpur", details.Warehouses["wh-a"].Address)
	assert.Empty(t, details.Warehouses["wh-b"].Address, "hidden warehouse address")

	stock := f.teaStock(t)
	assert.Equal(t, 3, stock["wh-a"].Reserved)
	assert.Equal(t, 3, stock["wh-b"].Reserved)
	assert.Equal(t, 2, stock["wh-b"].Available)

	pending, err := f.outbox.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.EventOrderCreated, pending[0].EventType)
	assert.Contains(t, string(pending[0].Payload), order.OrderNumber)
}

func TestCreate_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		caller domain.Principal
		input  func() CreateInput
		check  func(t *testing.T, err error)
	}{
		{
			name:   "invalid phone",
			caller: merchantStaff,
			input:  func() CreateInput { in := createInput(tea(1)); in.CustomerPhone = "123"; return in },
			check: func(t *testing.T, err error) {
				var ve *domain.ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Contains(t, ve.Fields, "customerPhone")
			},
		},
		{
			name:   "zero quantity",
			caller: merchantStaff,
			input:  func() CreateInput { return createInput(tea(0)) },
			check: func(t *testing.T, err error) {
				var ve *domain.ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, "must be greater than 0", ve.Fields["items[0].quantity"])
			},
		},
		{
			name:   "sub-cent unit price",
			caller: merchantStaff,
			input: func() CreateInput {
				return createInput(ItemInput{ProductID: "tea", Quantity: 3, UnitPrice: decimal.RequireFromString("0.335")})
			},
			check: func(t *testing.T, err error) {
				var ve *domain.ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, "must be an amount with at most 2 decimal places", ve.Fields["items[0].unitPrice"])
			},
		},
		{
			name:   "unit price rounding to zero",
			caller: merchantStaff,
			input: func() CreateInput {
				return createInput(ItemInput{ProductID: "tea", Quantity: 1, UnitPrice: decimal.RequireFromString("0.001")})
			},
			check: func(t *testing.T, err error) {
				var ve *domain.ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Contains(t, ve.Fields, "items[0].unitPrice")
			},
		},
		{
			name:   "fractional delivery fee",
			caller: merchantStaff,
			input:  func() CreateInput { in := createInput(tea(1)); in.DeliveryFee = decimal.RequireFromString("60.005"); return in },
			check: func(t *testing.T, err error) {
				var ve *domain.ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Contains(t, ve.Fields, "deliveryFee")
			},
		},
		{
			name:   "unknown payment method",
			caller: merchantStaff,
			input:  func() CreateInput { in := createInput(tea(1)); in.PaymentMethod = "CRYPTO"; return in },
			check:  func(t *testing.T, err error) { require.True(t, domain.IsValidation(err)) },
		},
		{
			name:   "admin without merchant",
			caller: admin,
			input:  func() CreateInput { return createInput(tea(1)) },
			check:  func(t *testing.T, err error) { require.True(t, domain.IsValidation(err)) },
		},
		{
			name:   "inactive merchant",
			caller: admin,
			input:  func() CreateInput { in := createInput(tea(1)); in.MerchantID = "m-off"; return in },
			check:  func(t *testing.T, err error) { require.ErrorIs(t, err, domain.ErrMerchantInactive) },
		},
		{
			name:   "foreign product",
			caller: merchantStaff,
			input:  func() CreateInput { return createInput(ItemInput{ProductID: "foreign", Quantity: 1, UnitPrice: decimal.NewFromInt(1)}) },
			check:  func(t *testing.T, err error) { require.ErrorIs(t, err, domain.ErrProductsUnavailable) },
		},
		{
			name:   "inactive product",
			caller: merchantStaff,
			input:  func() CreateInput { return createInput(tea(1), ItemInput{ProductID: "retired", Quantity: 1, UnitPrice: decimal.NewFromInt(1)}) },
			check:  func(t *testing.T, err error) { require.ErrorIs(t, err, domain.ErrProductsUnavailable) },
		},
		{
			name:   "warehouse staff cannot create",
			caller: warehouse,
			input:  func() CreateInput { return createInput(tea(1)) },
			check:  func(t *testing.T, err error) { require.ErrorIs(t, err, domain.ErrForbidden) },
		},
		{
			name:   "read-only api key",
			caller: apiReader,
			input:  func() CreateInput { return createInput(tea(1)) },
			check:  func(t *testing.T, err error) { require.ErrorIs(t, err, domain.ErrForbidden) },
		},
		{
			name:   "insufficient stock",
			caller: apiWriter,
			input:  func() CreateInput { return createInput(tea(5), tea(4)) },
			check:  func(t *testing.T, err error) { require.ErrorIs(t, err, domain.ErrInsufficientStock) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, 3, 5)
			_, err := f.svc.Create(context.Background(), tt.caller, tt.input())
			require.Error(t, err)
			tt.check(t, err)

			stock := f.teaStock(t)
			assert.Zero(t, stock["wh-a"].Reserved)
			assert.Zero(t, stock["wh-b"].Reserved)
		})
	}
}

func TestCreate_MerchantIsBoundToCaller(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3, 5)
	in := createInput(tea(1))
	in.MerchantID = "m-2"

	details, err := f.svc.Create(context.Background(), apiWriter, in)
	require.NoError(t, err)
	assert.Equal(t, "m-1", details.Order.MerchantID)

	in.MerchantID = "m-1"
	details, err = f.svc.Create(context.Background(), admin, in)
	require.NoError(t, err)
	assert.Equal(t, "m-1", details.Order.MerchantID)
}

func TestCreate_RetriesOrderNumberCollision(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 3, 5)

	f.svc.numbers = func(time.Time) (string, error) { return "ORD-20240501-AAAAAA", nil }
	_, err := f.svc.Create(ctx, merchantStaff, createInput(tea(1)))
	require.NoError(t, err)

	var calls int
	f.svc.numbers = func(time.Time) (string, error) {
		calls++
		if calls < 3 {
			return "ORD-20240501-AAAAAA", nil
		}
		return fmt.Sprintf("ORD-20240501-BBBBB%d", calls), nil
	}
	details, err := f.svc.Create(ctx, merchantStaff, createInput(tea(1)))
	require.NoError(t, err)
	assert.Equal(t, "ORD-20240501-BBBBB3", details.Order.OrderNumber)

	calls = 0
	f.svc.numbers = func(time.Time) (string, error) { calls++; return "ORD-20240501-AAAAAA", nil }
	_, err = f.svc.Create(ctx, merchantStaff, createInput(tea(1)))
	require.ErrorIs(t, err, domain.ErrOrderNumberConflict)
	assert.Equal(t, maxNumberAttempts, calls)
	assert.Equal(t, 2, f.teaStock(t)["wh-a"].Reserved)
}

func TestCreate_ConcurrentOrdersNeverOversell(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 3, 5)

	const workers = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers = map[string]struct{}{}
		failed  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			details, err := f.svc.Create(ctx, merchantStaff, createInput(tea(1)))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if !errors.Is(err, domain.ErrInsufficientStock) {
					t.Errorf("unexpected error: %v", err)
				}
				failed++
				return
			}
			numbers[details.Order.OrderNumber] = struct{}{}
		}()
	}
	wg.Wait()

	assert.Len(t, numbers, 8)
	assert.Equal(t, workers-8, failed)
	for _, item := range f.teaStock(t) {
		assert.Zero(t, item.Available)
		assert.Equal(t, item.Quantity, item.Reserved)
	}
}

func TestGetAndList_Scope(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 10, 10)

	created, err := f.svc.Create(ctx, merchantStaff, createInput(tea(1)))
	require.NoError(t, err)
	in := createInput(tea(1))
	in.PaymentMethod = domain.PaymentPrepaid
	_, err = f.svc.Create(ctx, merchantStaff, in)
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, apiReader, created.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Order.ID, got.Order.ID)

	other := domain.Principal{Kind: domain.PrincipalUser, ID: "x", Role: domain.RoleMerchantStaff, MerchantID: "m-2"}
	_, err = f.svc.Get(ctx, other, created.Order.ID)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	page, err := f.svc.List(ctx, other, domain.OrderFilter{MerchantID: "m-1"})
	require.NoError(t, err)
	assert.Zero(t, page.Total, "merchant filter is ignored for merchant roles")

	page, err = f.svc.List(ctx, apiReader, domain.OrderFilter{Limit: 1000})
	require.NoError(t, err)
	assert.Equal(t, MaxExternalListLimit, page.Limit)
	assert.Equal(t, 2, page.Total)

	page, err = f.svc.List(ctx, admin, domain.OrderFilter{Limit: 1000, PaymentMethod: domain.PaymentPrepaid})
	require.NoError(t, err)
	assert.Equal(t, MaxInternalListLimit, page.Limit)
	assert.Equal(t, 1, page.Total)

	page, err = f.svc.List(ctx, warehouse, domain.OrderFilter{})
	require.NoError(t, err)
	assert.Equal(t, DefaultListLimit, page.Limit)
	assert.Equal(t, 1, page.Page)

	_, err = f.svc.List(ctx, admin, domain.OrderFilter{Status: "LOST"})
	require.True(t, domain.IsValidation(err))

	_, err = f.svc.List(ctx, domain.Principal{Kind: domain.PrincipalAPIKey, ID: "k"}, domain.OrderFilter{})
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestTransition(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("merchant admin cancels pending order", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, 3, 5)
		created, err := f.svc.Create(ctx, merchantStaff, createInput(tea(4)))
		require.NoError(t, err)

		_, err = f.svc.Transition(ctx, merchantAdmin, created.Order.ID, TransitionInput{Status: domain.OrderStatusConfirmed})
		require.ErrorIs(t, err, domain.ErrForbidden)

		cancelled, err := f.svc.Transition(ctx, merchantAdmin, created.Order.ID, TransitionInput{Status: domain.OrderStatusCancelled, Note: "customer called"})
		require.NoError(t, err)
		assert.Equal(t, domain.ReservationReleased, cancelled.ReservationState)
		for _, item := range f.teaStock(t) {
			assert.Zero(t, item.Reserved)
		}

		history, err := f.svc.History(ctx, merchantAdmin, created.Order.ID)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, "customer called", history[1].Note)
	})

	t.Run("warehouse ships and delivers", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, 3, 5)
		created, err := f.svc.Create(ctx, merchantStaff, createInput(tea(2)))
		require.NoError(t, err)

		_, err = f.svc.Transition(ctx, merchantStaff, created.Order.ID, TransitionInput{Status: domain.OrderStatusConfirmed})
		require.ErrorIs(t, err, domain.ErrForbidden)

		_, err = f.svc.Transition(ctx, warehouse, created.Order.ID, TransitionInput{Status: domain.OrderStatusPacked, ExpectedVersion: 7})
		require.ErrorIs(t, err, domain.ErrOrderVersionConflict)

		shipped, err := f.svc.Transition(ctx, warehouse, created.Order.ID, TransitionInput{Status: domain.OrderStatusShipped, ExpectedVersion: created.Order.Version})
		require.NoError(t, err)
		assert.Equal(t, domain.ReservationConsumed, shipped.ReservationState)
		assert.Equal(t, 1, f.teaStock(t)["wh-a"].Quantity)

		_, err = f.svc.Transition(ctx, warehouse, created.Order.ID, TransitionInput{Status: domain.OrderStatusCancelled})
		require.ErrorIs(t, err, domain.ErrInvalidTransition)
		_, err = f.svc.Transition(ctx, warehouse, created.Order.ID, TransitionInput{Status: domain.OrderStatusShipped})
		require.ErrorIs(t, err, domain.ErrInvalidTransition)

		delivered, err := f.svc.Transition(ctx, admin, created.Order.ID, TransitionInput{Status: domain.OrderStatusDelivered})
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusDelivered, delivered.Status)
		assert.Equal(t, domain.ReservationConsumed, delivered.ReservationState)
	})

	t.Run("unknown status", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, 3, 5)
		_, err := f.svc.Transition(ctx, admin, "missing", TransitionInput{Status: "LOST"})
		require.True(t, domain.IsValidation(err))
		_, err = f.svc.Transition(ctx, admin, "missing", TransitionInput{Status: domain.OrderStatusConfirmed})
		require.ErrorIs(t, err, domain.ErrOrderNotFound)
	})
}

func TestAuditTrail(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 5, 0)
	created, err := f.svc.Create(ctx, merchantStaff, createInput(tea(1)))
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, warehouse, created.Order.ID, TransitionInput{Status: domain.OrderStatusConfirmed})
	require.NoError(t, err)

	entries, err := f.svc.AuditTrail(ctx, admin, created.Order.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.AuditOrderCreated, entries[0].Action)
	assert.Equal(t, merchantStaff.ID, entries[0].ActorID)
	assert.Equal(t, domain.AuditOrderStatusChanged, entries[1].Action)

	_, err = f.svc.AuditTrail(ctx, merchantAdmin, created.Order.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.svc.AuditTrail(ctx, admin, "missing")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestNewOrderNumber(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 5, 1, 23, 30, 0, 0, time.FixedZone("BDT", 6*3600))
	seen := map[string]struct{}{}
	for i := 0; i < 200; i++ {
		number, err := NewOrderNumber(at)
		require.NoError(t, err)
		require.Regexp(t, `^ORD-20240501-[A-Z2-9]{6}$`, number)
		seen[number] = struct{}{}
	}
	assert.Greater(t, len(seen), 190)
}
