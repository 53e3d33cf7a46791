package notify

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Queue — отложенная очередь задач.
type Queue interface {
	// Enqueue ставит задачу к исполнению не раньше at.
	Enqueue(ctx context.Context, job Job, at time.Time) error
	// Claim забирает до limit задач, срок которых наступил к now.
	// Забранная задача другим обработчикам не выдаётся.
	Claim(ctx context.Context, now time.Time, limit int) ([]Job, error)
	// Len возвращает число задач в очереди.
	Len(ctx context.Context) (int, error)
}

type scheduledJob struct {
	job Job
	at  time.Time
}

// MemoryQueue: очередь в памяти процесса для storage-драйвера memory.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs []scheduledJob
}

// NewMemoryQueue создаёт пустую очередь.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job Job, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	q.jobs = append(q.jobs, scheduledJob{job: job, at: at})
	sort.SliceStable(q.jobs, func(i, j int) bool { return q.jobs[i].at.Before(q.jobs[j].at) })
	return nil
}

func (q *MemoryQueue) Claim(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for n < len(q.jobs) && n < limit && !q.jobs[n].at.After(now) {
		n++
	}
	claimed := make([]Job, 0, n)
	for _, sj := range q.jobs[:n] {
		claimed = append(claimed, sj.job)
	}
	q.jobs = append(q.jobs[:0], q.jobs[n:]...)
	return claimed, nil
}

func (q *MemoryQueue) Len(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs), nil
}

var _ Queue = (*MemoryQueue)(nil)
