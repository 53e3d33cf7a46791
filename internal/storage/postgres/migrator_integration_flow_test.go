package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tableExists(ctx context.Context, t *testing.T, store *Store, table string) bool {
	t.Helper()
	var exists bool
	require.NoError(t, store.DB().QueryRowContext(ctx, `SELECT to_regclass($1) IS NOT NULL`, "public."+table).Scan(&exists))
	return exists
}

func constraintExists(ctx context.Context, t *testing.T, store *Store, name string) bool {
	t.Helper()
	var exists bool
	require.NoError(t, store.DB().QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = $1)`, name).Scan(&exists))
	return exists
}

func TestMigrator_UpDownWalksFulfillmentSchema(t *testing.T) {
	store := openRawPostgresStoreForIntegrationTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	status := func() (int64, int) {
		version, count, err := store.MigrationStatus(ctx)
		require.NoError(t, err)
		return version, count
	}

	require.NoError(t, store.MigrateDown(ctx, 100))
	version, count := status()
	require.Zero(t, version)
	require.Zero(t, count)
	assert.False(t, tableExists(ctx, t, store, "stock_items"))
	assert.False(t, tableExists(ctx, t, store, "orders"))

	require.NoError(t, store.MigrateUp(ctx, 1))
	version, count = status()
	assert.Equal(t, int64(1), version)
	assert.Equal(t, 1, count)
	assert.True(t, tableExists(ctx, t, store, "stock_items"))
	assert.True(t, tableExists(ctx, t, store, "orders"))
	assert.True(t, constraintExists(ctx, t, store, "stock_items_non_negative"))
	assert.False(t, constraintExists(ctx, t, store, "order_items_total_consistent"))

	require.NoError(t, store.MigrateUp(ctx, 0))
	require.NoError(t, store.MigrateUp(ctx, 0), "repeated up is a no-op")
	version, count = status()
	assert.Equal(t, int64(3), version)
	assert.Equal(t, 3, count)
	assert.True(t, constraintExists(ctx, t, store, "order_items_total_consistent"))
	assert.True(t, constraintExists(ctx, t, store, "orders_total_consistent"))

	require.NoError(t, store.MigrateDown(ctx, 1))
	version, _ = status()
	assert.Equal(t, int64(2), version)
	assert.False(t, constraintExists(ctx, t, store, "orders_total_consistent"))
	assert.True(t, tableExists(ctx, t, store, "orders"))

	require.NoError(t, store.MigrateDown(ctx, 0))
	version, _ = status()
	assert.Equal(t, int64(1), version, "down without steps rolls back one migration")

	require.NoError(t, store.MigrateDown(ctx, 100))
	version, count = status()
	assert.Zero(t, version)
	assert.Zero(t, count)
	assert.False(t, tableExists(ctx, t, store, "stock_items"))
	require.NoError(t, store.MigrateDown(ctx, 1), "down on an empty schema is a no-op")

	require.NoError(t, store.MigrateUp(ctx, 0))
}

func TestMigrator_GuardsAndUnsupportedDirection(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var nilStore *Store
	assert.Error(t, nilStore.MigrateUp(ctx, 0))
	assert.Error(t, nilStore.MigrateDown(ctx, 1))
	_, _, err := nilStore.MigrationStatus(ctx)
	assert.Error(t, err)

	store := openRawPostgresStoreForIntegrationTest(t)
	assert.Error(t, store.migrate(ctx, migrationDirection("sideways"), 0))
}
