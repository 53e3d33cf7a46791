package notify

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testJob(id string, step Step) Job {
	return Job{
		ID:   id,
		Step: step,
		Order: domain.OrderCreatedPayload{
			OrderID:     "order-1",
			OrderNumber: "ORD-20240501-AB12CD",
			MerchantID:  "m-1",
		},
		CreatedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestMemoryQueue_ClaimsOnlyDueJobs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewMemoryQueue()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, q.Enqueue(ctx, testJob("late", StepAdminRole), now.Add(time.Minute)))
	require.NoError(t, q.Enqueue(ctx, testJob("second", StepAdminRole), now.Add(-time.Second)))
	require.NoError(t, q.Enqueue(ctx, testJob("first", StepWarehouseRole), now.Add(-time.Minute)))

	jobs, err := q.Claim(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "first", jobs[0].ID)
	assert.Equal(t, "second", jobs[1].ID)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	jobs, err = q.Claim(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	jobs, err = q.Claim(ctx, now.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "late", jobs[0].ID)
}

func TestMemoryQueue_RespectsLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewMemoryQueue()
	now := time.Now().UTC()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, testJob(id, StepAdminRole), now))
	}

	jobs, err := q.Claim(ctx, now, 2)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRedisQueue(t *testing.T) {
	url := os.Getenv("FULFILLMENT_TEST_REDIS_URL")
	if url == "" {
		t.Skip("FULFILLMENT_TEST_REDIS_URL is not set")
	}

	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	defer client.Close()

	ctx := context.Background()
	key := "fulfillment:test:notify:" + time.Now().Format("150405.000000000")
	defer client.Del(ctx, key)

	q := NewRedisQueue(client, key)
	now := time.Now().UTC().Truncate(time.Millisecond)

	job := testJob("evt-1:admin_role", StepAdminRole)
	require.NoError(t, q.Enqueue(ctx, job, now))
	// Повторная постановка той же задачи не создаёт дубль.
	require.NoError(t, q.Enqueue(ctx, job, now))
	require.NoError(t, q.Enqueue(ctx, testJob("evt-1:merchant_email", StepMerchantEmail), now.Add(time.Hour)))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	jobs, err := q.Claim(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, job, jobs[0])

	jobs, err = q.Claim(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}
