package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

func TestProductRepository_SKUUniqueAndActiveList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewProductRepository(memory.NewStore())

	p1 := domain.Product{ID: "p-1", MerchantID: "m-1", SKU: "A", UnitPrice: decimal.NewFromInt(1), IsActive: true}
	p2 := domain.Product{ID: "p-2", MerchantID: "m-1", SKU: "B", UnitPrice: decimal.NewFromInt(1)}
	p3 := domain.Product{ID: "p-3", MerchantID: "m-2", SKU: "C", UnitPrice: decimal.NewFromInt(1), IsActive: true}
	for _, p := range []domain.Product{p1, p2, p3} {
		require.NoError(t, repo.Create(ctx, p))
	}
	require.ErrorIs(t, repo.Create(ctx, domain.Product{ID: "p-4", SKU: "A"}), domain.ErrSKUTaken)

	active, err := repo.ListActive(ctx, "m-1", []string{"p-1", "p-2", "p-3", "p-1", "missing"})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "p-1", active[0].ID)

	p1.SKU = "B"
	require.ErrorIs(t, repo.Update(ctx, p1), domain.ErrSKUTaken)
	p1.SKU = "A2"
	require.NoError(t, repo.Update(ctx, p1))
	require.NoError(t, repo.Create(ctx, domain.Product{ID: "p-5", SKU: "A"}))
}

func TestWarehouseRepository_OrderingAndCodes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewWarehouseRepository(memory.NewStore())

	_, err := repo.FirstActive(ctx)
	require.ErrorIs(t, err, domain.ErrWarehouseNotFound)

	now := time.Now().UTC()
	require.NoError(t, repo.Create(ctx, domain.Warehouse{ID: "w-2", Code: "DHA-02", IsActive: true, CreatedAt: now}))
	require.NoError(t, repo.Create(ctx, domain.Warehouse{ID: "w-1", Code: "DHA-01", IsActive: false, CreatedAt: now}))
	require.NoError(t, repo.Create(ctx, domain.Warehouse{ID: "w-3", Code: "CHI-01", IsActive: true, CreatedAt: now}))
	require.ErrorIs(t, repo.Create(ctx, domain.Warehouse{ID: "w-4", Code: "DHA-01"}), domain.ErrWarehouseCodeTaken)

	first, err := repo.FirstActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "CHI-01", first.Code)

	count, err := repo.CountByCodePrefix(ctx, "DHA-")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	all, err := repo.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"CHI-01", "DHA-01", "DHA-02"}, []string{all[0].Code, all[1].Code, all[2].Code})

	require.NoError(t, repo.Update(ctx, domain.Warehouse{ID: "w-1", Code: "XXX-99", IsActive: true}))
	updated, err := repo.Get(ctx, "w-1")
	require.NoError(t, err)
	assert.Equal(t, "DHA-01", updated.Code)
	assert.True(t, updated.IsActive)
}

func TestRequestRepositories_ConditionalUpdate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()
	refunds := memory.NewRefundRepository(store)
	outbox := memory.NewOutboxRepository(store)

	now := time.Now().UTC()
	req := domain.RefundRequest{ID: "rf-1", OrderID: "o-1", MerchantID: "m-1", Status: domain.RequestPending, CreatedAt: now}
	require.NoError(t, refunds.Create(ctx, req))

	amount := decimal.NewFromInt(50)
	approved := req
	approved.Status = domain.RequestApproved
	approved.ApprovedAmount = &amount
	upd := domain.RequestUpdate{
		ExpectedStatus: domain.RequestPending,
		Events:         []domain.OutboxMessage{{ID: "evt-1", EventType: domain.EventRefundStatusChanged, CreatedAt: now}},
	}
	require.NoError(t, refunds.Update(ctx, approved, upd))
	require.ErrorIs(t, refunds.Update(ctx, approved, upd), domain.ErrRequestConflict)

	stored, err := refunds.Get(ctx, "rf-1")
	require.NoError(t, err)
	require.NotNil(t, stored.ApprovedAmount)
	assert.Equal(t, "50", stored.ApprovedAmount.String())
	assert.Len(t, outbox.AllPending(), 1)

	page, err := refunds.List(ctx, domain.RequestFilter{MerchantID: "m-1", Status: domain.RequestApproved, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	returns := memory.NewReturnRepository(store)
	_, err = returns.Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrReturnNotFound)
}

func TestNotificationRepository_ListFor(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewNotificationRepository(memory.NewStore())

	require.NoError(t, repo.Create(ctx, domain.Notification{ID: "n-1", Role: domain.RoleWarehouseStaff, Title: "new order"}))
	require.NoError(t, repo.Create(ctx, domain.Notification{ID: "n-2", UserID: "u-1", Title: "yours"}))
	require.NoError(t, repo.Create(ctx, domain.Notification{ID: "n-3", Role: domain.RoleAdmin, Title: "admin"}))

	list, err := repo.ListFor(ctx, "u-1", domain.RoleWarehouseStaff, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "n-2", list[0].ID)
	assert.Equal(t, "n-1", list[1].ID)

	require.NoError(t, repo.Create(ctx, domain.Notification{ID: "n-2", UserID: "u-1", Title: "retried"}))
	list, err = repo.ListFor(ctx, "u-1", "", 10)
	require.NoError(t, err)
	require.Len(t, list, 1, "same id is stored once")
	assert.Equal(t, "yours", list[0].Title)
}
