package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

func TestCleanupWorker_ReportsScopesAndStates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	guard := NewGuard(repo, time.Minute, nil)
	hash := RequestHash("POST /api/orders", []byte(`{}`))

	ok := func(context.Context) Response { return Response{Status: 201, Body: []byte(`{}`)} }
	rejected := func(context.Context) Response {
		return Failure(400, []byte(`{}`), domain.NewValidationError("items", "must not be empty"))
	}

	for _, key := range []string{"a", "b", "c"} {
		_, _, err := guard.Do(ctx, "merchant-1", key, hash, ok)
		require.NoError(t, err)
	}
	_, _, err := guard.Do(ctx, "merchant-2", "a", hash, rejected)
	require.NoError(t, err)
	// Запрос, оборванный до ответа.
	_, err = repo.CreateProcessing(ctx, StorageKey("merchant-2", "lost"), hash, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	// Ещё живой ключ не трогается.
	_, err = repo.CreateProcessing(ctx, StorageKey("merchant-3", "fresh"), hash, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)

	worker := NewCleanupWorker(repo, WithBatchSize(2))
	report, err := worker.DeleteExpired(ctx, time.Now().UTC().Add(10*time.Minute))
	require.NoError(t, err)

	assert.Equal(t, 5, report.Deleted)
	assert.Equal(t, map[string]int{"merchant-1": 3, "merchant-2": 2}, report.ByScope)
	assert.Equal(t, map[domain.IdempotencyStatus]int{
		domain.IdempotencyStatusDone:       3,
		domain.IdempotencyStatusFailed:     1,
		domain.IdempotencyStatusProcessing: 1,
	}, report.ByState)
	assert.Equal(t, []string{"merchant-2:lost"}, report.Stale)

	_, err = repo.Get(ctx, StorageKey("merchant-3", "fresh"))
	require.NoError(t, err)
}

func TestCleanupWorker_BusiestScopes(t *testing.T) {
	t.Parallel()

	report := newCleanupReport()
	report.add([]domain.IdempotencyRecord{
		{Key: "m-1:a", State: domain.IdempotencyStatusDone},
		{Key: "m-2:a", State: domain.IdempotencyStatusDone},
		{Key: "m-2:b", State: domain.IdempotencyStatusDone},
		{Key: "legacy", State: domain.IdempotencyStatusDone},
	})

	tests := []struct {
		name  string
		limit int
		want  map[string]any
	}{
		{name: "top one", limit: 1, want: map[string]any{"scope.m-2": 2}},
		{name: "ties by name", limit: 3, want: map[string]any{"scope.m-2": 2, "scope.m-1": 1, "scope.unscoped": 1}},
		{name: "limit above size", limit: 10, want: map[string]any{"scope.m-2": 2, "scope.m-1": 1, "scope.unscoped": 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, map[string]any(report.busiestScopes(tt.limit)))
		})
	}
}

func TestCleanupWorker_DeleteExpired(t *testing.T) {
	t.Parallel()

	expired := func(n int) []domain.IdempotencyRecord {
		records := make([]domain.IdempotencyRecord, n)
		for i := range records {
			records[i] = domain.IdempotencyRecord{Key: "merchant-1:k", State: domain.IdempotencyStatusDone}
		}
		return records
	}

	tests := []struct {
		name      string
		batches   [][]domain.IdempotencyRecord
		errs      []error
		wantCalls int
		wantTotal int
		wantErr   bool
	}{
		{name: "drains full batches", batches: [][]domain.IdempotencyRecord{expired(2), expired(2), expired(1)}, wantCalls: 3, wantTotal: 5},
		{name: "nothing expired", batches: nil, wantCalls: 1, wantTotal: 0},
		{name: "exact multiple needs empty tail", batches: [][]domain.IdempotencyRecord{expired(2), expired(2)}, wantCalls: 3, wantTotal: 4},
		{name: "error keeps partial report", batches: [][]domain.IdempotencyRecord{expired(2)}, errs: []error{nil, errors.New("db down")}, wantCalls: 2, wantTotal: 2, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			repo := &scriptedCleanupRepo{batches: tt.batches, errs: tt.errs}
			worker := NewCleanupWorker(repo, WithBatchSize(2))

			report, err := worker.DeleteExpired(context.Background(), time.Now().UTC())
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantTotal, report.Deleted)
			assert.Equal(t, tt.wantCalls, repo.calls())
		})
	}
}

func TestCleanupWorker_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	repo := &scriptedCleanupRepo{}
	worker := NewCleanupWorker(repo, WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	require.Eventually(t, func() bool { return repo.calls() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

func TestCleanupWorker_NilRepo(t *testing.T) {
	t.Parallel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		NewCleanupWorker(nil).Run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker without repo must return immediately")
	}
}

// scriptedCleanupRepo отдаёт заранее заданные пачки удалённых записей.
type scriptedCleanupRepo struct {
	domain.IdempotencyRepository

	mu        sync.Mutex
	batches   [][]domain.IdempotencyRecord
	errs      []error
	callCount int
}

func (s *scriptedCleanupRepo) DeleteExpired(context.Context, time.Time, int) ([]domain.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call := s.callCount
	s.callCount++
	if call < len(s.errs) && s.errs[call] != nil {
		return nil, s.errs[call]
	}
	if call < len(s.batches) {
		return s.batches[call], nil
	}
	return nil, nil
}

func (s *scriptedCleanupRepo) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}
