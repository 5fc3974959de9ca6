package store

import (
	"context"
	"time"

	"github.com/dkeye/vidtalk/internal/core"
	"github.com/dkeye/vidtalk/internal/metrics"
	"github.com/rs/zerolog/log"
)

type job struct {
	name string
	fn   func(ctx context.Context, s core.Store) error
}

// Queue runs store writes on a single worker so the realtime path never
// waits on the database. Writes are applied in submission order.
type Queue struct {
	store   core.Store
	jobs    chan job
	timeout time.Duration
	metrics *metrics.Metrics
}

var _ core.Persister = (*Queue)(nil)

func NewQueue(s core.Store, size int, m *metrics.Metrics) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{
		store:   s,
		jobs:    make(chan job, size),
		timeout: 5 * time.Second,
		metrics: m,
	}
}

// Submit enqueues without blocking. A full queue drops the job.
func (q *Queue) Submit(name string, fn func(ctx context.Context, s core.Store) error) bool {
	select {
	case q.jobs <- job{name: name, fn: fn}:
		return true
	default:
		log.Warn().Str("module", "store.queue").Str("job", name).Msg("persist queue full, dropping")
		q.metrics.PersistDropped()
		return false
	}
}

// Run drains the queue until ctx is done, then flushes what is left.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			q.flush()
			return nil
		case j := <-q.jobs:
			q.exec(context.Background(), j)
		}
	}
}

func (q *Queue) flush() {
	n := 0
	for {
		select {
		case j := <-q.jobs:
			q.exec(context.Background(), j)
			n++
		default:
			log.Info().Str("module", "store.queue").Int("flushed", n).Msg("persist queue stopped")
			return
		}
	}
}

func (q *Queue) exec(parent context.Context, j job) {
	ctx, cancel := context.WithTimeout(parent, q.timeout)
	defer cancel()
	if err := j.fn(ctx, q.store); err != nil {
		log.Error().Err(err).Str("module", "store.queue").Str("job", j.name).Msg("persist failed")
		q.metrics.PersistFailed(j.name)
	}
}
