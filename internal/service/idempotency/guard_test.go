package idempotency

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

func TestGuard_Do(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	guard := NewGuard(memory.NewIdempotencyRepository(), 0, nil)
	hash := RequestHash("POST /api/external/orders", []byte(`{"a":1}`))

	calls := 0
	handler := func(context.Context) Response {
		calls++
		return Response{Status: 201, Body: []byte(`{"id":"o-1"}`)}
	}

	resp, replayed, err := guard.Do(ctx, "key-1", "abc", hash, handler)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, 201, resp.Status)

	resp, replayed, err = guard.Do(ctx, "key-1", "abc", hash, handler)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, `{"id":"o-1"}`, string(resp.Body))
	assert.Equal(t, 1, calls)

	_, _, err = guard.Do(ctx, "key-1", "abc", RequestHash("POST /api/external/orders", []byte(`{"a":2}`)), handler)
	require.ErrorIs(t, err, ErrKeyReused)

	// Тот же ключ другой интеграции — отдельная запись.
	_, replayed, err = guard.Do(ctx, "key-2", "abc", hash, handler)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, 2, calls)
}

func TestGuard_ReplaysFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	guard := NewGuard(memory.NewIdempotencyRepository(), 0, nil)
	hash := RequestHash("op", []byte("{}"))

	calls := 0
	handler := func(context.Context) Response {
		calls++
		return Failure(400, []byte(`{"error":"validation_error"}`), domain.NewValidationError("items", "must not be empty"))
	}

	first, _, err := guard.Do(ctx, "s", "k", hash, handler)
	require.NoError(t, err)
	second, replayed, err := guard.Do(ctx, "s", "k", hash, handler)
	require.NoError(t, err)

	assert.True(t, replayed)
	assert.True(t, second.Failed)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, 400, second.Status)
	assert.Equal(t, 1, calls)
}

func TestGuard_InProgress(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	guard := NewGuard(memory.NewIdempotencyRepository(), 0, nil)
	hash := RequestHash("op", nil)

	_, _, err := guard.Do(ctx, "s", "k", hash, func(ctx context.Context) Response {
		_, _, innerErr := guard.Do(ctx, "s", "k", hash, func(context.Context) Response {
			t.Fatal("nested handler must not run")
			return Response{}
		})
		assert.ErrorIs(t, innerErr, ErrInProgress)
		return Response{Status: 200}
	})
	require.NoError(t, err)
}

func TestGuard_WithoutKeyOrRepo(t *testing.T) {
	t.Parallel()

	calls := 0
	handler := func(context.Context) Response { calls++; return Response{Status: 200} }

	_, replayed, err := NewGuard(nil, 0, nil).Do(context.Background(), "s", "k", "h", handler)
	require.NoError(t, err)
	assert.False(t, replayed)

	guard := NewGuard(memory.NewIdempotencyRepository(), 0, nil)
	_, _, err = guard.Do(context.Background(), "s", "  ", "h", handler)
	require.NoError(t, err)
	_, _, err = guard.Do(context.Background(), "s", "", "h", handler)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestGuard_ReleasesTransientFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		resp Response
	}{
		{
			name: "server error",
			resp: Failure(500, []byte(`{"error":"internal_error"}`), errors.New("connection reset")),
		},
		{
			name: "insufficient stock",
			resp: Failure(400, []byte(`{"error":"business_rule_violation"}`), fmt.Errorf("reserve: %w", domain.ErrInsufficientStock)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			repo := memory.NewIdempotencyRepository()
			guard := NewGuard(repo, 0, nil)
			hash := RequestHash("op", []byte("{}"))

			calls := 0
			handler := func(context.Context) Response {
				calls++
				if calls == 1 {
					return tt.resp
				}
				return Response{Status: 201, Body: []byte(`{"id":"o-1"}`)}
			}

			first, replayed, err := guard.Do(ctx, "merchant-1", "retry-me", hash, handler)
			require.NoError(t, err)
			assert.False(t, replayed)
			assert.True(t, first.Failed)

			_, err = repo.Get(ctx, StorageKey("merchant-1", "retry-me"))
			require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)

			second, replayed, err := guard.Do(ctx, "merchant-1", "retry-me", hash, handler)
			require.NoError(t, err)
			assert.False(t, replayed)
			assert.False(t, second.Failed)
			assert.Equal(t, 201, second.Status)
			assert.Equal(t, 2, calls)
		})
	}
}

func TestFailure_Transient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		err       error
		transient bool
	}{
		{name: "validation", status: 400, err: domain.NewValidationError("items", "must not be empty"), transient: false},
		{name: "not found", status: 404, err: domain.ErrProductNotFound, transient: false},
		{name: "insufficient stock", status: 400, err: domain.ErrInsufficientStock, transient: true},
		{name: "internal", status: 500, err: errors.New("db down"), transient: true},
		{name: "unavailable", status: 503, err: nil, transient: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resp := Failure(tt.status, nil, tt.err)
			assert.True(t, resp.Failed)
			assert.Equal(t, tt.transient, resp.Transient)
		})
	}
}

func TestStorageKey_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		scope, key string
		stored     string
	}{
		{scope: "merchant-1", key: "abc", stored: "merchant-1:abc"},
		{scope: "merchant-1", key: "with:colon", stored: "merchant-1:with:colon"},
		{scope: "", key: "bare", stored: "bare"},
	}

	for _, tt := range tests {
		t.Run(tt.stored, func(t *testing.T) {
			t.Parallel()

			stored := StorageKey(tt.scope, tt.key)
			assert.Equal(t, tt.stored, stored)

			scope, key := SplitKey(stored)
			assert.Equal(t, tt.scope, scope)
			assert.Equal(t, tt.key, key)
		})
	}
}
