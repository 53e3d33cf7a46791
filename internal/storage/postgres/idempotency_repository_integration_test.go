package postgres

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func TestIdempotencyRepository_PostgresCreateGetAndMarkDone(t *testing.T) {
	store := openPostgresStoreForIdempotencyTest(t)
	repo := NewIdempotencyRepository(store)
	ctx := context.Background()

	key := "idem-test-key-done"
	hash := "req-hash-1"
	ttl := time.Now().UTC().Add(2 * time.Hour).Round(time.Second)

	created, err := repo.CreateProcessing(ctx, key, hash, ttl)
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusProcessing, created.State)

	err = repo.MarkDone(ctx, key, []byte(`{"result":"ok"}`), http.StatusCreated)
	require.NoError(t, err)

	got, err := repo.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, hash, got.RequestHash)
	require.Equal(t, domain.IdempotencyStatusDone, got.State)
	require.Equal(t, http.StatusCreated, got.Status)
	require.JSONEq(t, `{"result":"ok"}`, string(got.ResponseBody))
	require.True(t, got.TTLAt.Equal(ttl), "ttl mismatch: expected %s, got %s", ttl, got.TTLAt)
}

func TestIdempotencyRepository_PostgresConflictAndHashMismatch(t *testing.T) {
	store := openPostgresStoreForIdempotencyTest(t)
	repo := NewIdempotencyRepository(store)
	ctx := context.Background()

	ttl := time.Now().UTC().Add(time.Hour)
	_, err := repo.CreateProcessing(ctx, "idem-test-key-conflict", "req-hash-a", ttl)
	require.NoError(t, err)

	_, err = repo.CreateProcessing(ctx, "idem-test-key-conflict", "req-hash-a", ttl)
	require.Error(t, err)
	require.True(t, errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists))

	_, err = repo.CreateProcessing(ctx, "idem-test-key-conflict", "req-hash-b", ttl)
	require.Error(t, err)
	require.True(t, errors.Is(err, domain.ErrIdempotencyHashMismatch))
}

func TestIdempotencyRepository_PostgresDeleteExpired(t *testing.T) {
	store := openPostgresStoreForIdempotencyTest(t)
	repo := NewIdempotencyRepository(store)
	ctx := context.Background()

	now := time.Now().UTC()
	_, err := repo.CreateProcessing(ctx, "idem-expired-1", "h1", now.Add(-5*time.Minute))
	require.NoError(t, err)
	_, err = repo.CreateProcessing(ctx, "idem-expired-2", "h2", now.Add(-4*time.Minute))
	require.NoError(t, err)
	_, err = repo.CreateProcessing(ctx, "idem-expired-3", "h3", now.Add(-3*time.Minute))
	require.NoError(t, err)
	_, err = repo.CreateProcessing(ctx, "idem-active-1", "h4", now.Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, repo.MarkDone(ctx, "idem-expired-1", []byte(`{}`), http.StatusCreated))

	removed, err := repo.DeleteExpired(ctx, now, 2)
	require.NoError(t, err)
	require.Len(t, removed, 2)
	byKey := map[string]domain.IdempotencyRecord{}
	for _, record := range removed {
		byKey[record.Key] = record
	}
	require.Equal(t, domain.IdempotencyStatusDone, byKey["idem-expired-1"].State)
	require.Equal(t, http.StatusCreated, byKey["idem-expired-1"].Status)
	require.Equal(t, domain.IdempotencyStatusProcessing, byKey["idem-expired-2"].State)

	removed, err = repo.DeleteExpired(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	require.Equal(t, "idem-expired-3", removed[0].Key)

	require.NoError(t, repo.Delete(ctx, "idem-active-1"))
	_, err = repo.Get(ctx, "idem-active-1")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
	require.NoError(t, repo.Delete(ctx, "idem-active-1"))
}

func TestIdempotencyRepository_PostgresKeepsActive(t *testing.T) {
	store := openPostgresStoreForIdempotencyTest(t)
	repo := NewIdempotencyRepository(store)
	ctx := context.Background()

	now := time.Now().UTC()
	_, err := repo.CreateProcessing(ctx, "idem-active-1", "h4", now.Add(time.Hour))
	require.NoError(t, err)

	removed, err := repo.DeleteExpired(ctx, now, 0)
	require.NoError(t, err)
	require.Empty(t, removed)

	_, err = repo.Get(ctx, "idem-active-1")
	require.NoError(t, err)
}

func openPostgresStoreForIdempotencyTest(t *testing.T) *Store {
	t.Helper()

	store := openPostgresStoreForIntegrationTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := store.DB().ExecContext(ctx, `TRUNCATE TABLE idempotency_keys`)
	require.NoError(t, err)

	return store
}

func TestIdempotencyRepository_PostgresMarkFailedAndMissing(t *testing.T) {
	store := openPostgresStoreForIdempotencyTest(t)
	repo := NewIdempotencyRepository(store)
	ctx := context.Background()

	_, err := repo.CreateProcessing(ctx, "idem-failed", "h", time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed(ctx, "idem-failed", []byte(`{"error":"insufficient stock"}`), http.StatusConflict))

	got, err := repo.Get(ctx, "idem-failed")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusFailed, got.State)
	require.Equal(t, http.StatusConflict, got.Status)

	_, err = repo.Get(ctx, "idem-missing")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
	require.ErrorIs(t, repo.MarkDone(ctx, "idem-missing", nil, http.StatusOK), domain.ErrIdempotencyKeyNotFound)
}
