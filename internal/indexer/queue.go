package indexer

import (
	"context"
	"sync"
	"time"

	"github.com/ssaamm/rss2/internal/model"
	"go.uber.org/zap"
)

// Queue defaults.
const (
	DefaultWorkers   = 2
	DefaultQueueSize = 64
	DefaultTimeout   = 2 * time.Minute
)

// IndexFunc indexes one feed. (*Indexer).Index satisfies it.
type IndexFunc func(ctx context.Context, feed *model.Feed) (int, error)

// Queue runs index jobs on a fixed pool of workers, detached from the
// requests that submit them. Failures are logged and dropped; the next
// submission for the feed retries.
type Queue struct {
	index   IndexFunc
	tasks   chan *model.Feed
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewQueue starts workers goroutines. Non-positive arguments select the
// defaults.
func NewQueue(index IndexFunc, workers, size int, timeout time.Duration, logger *zap.Logger) *Queue {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if size <= 0 {
		size = DefaultQueueSize
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	q := &Queue{
		index:   index,
		tasks:   make(chan *model.Feed, size),
		timeout: timeout,
		logger:  logger.Named("queue"),
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	return q
}

// Submit enqueues feed without blocking. It returns false when the queue is
// full or closed.
func (q *Queue) Submit(feed *model.Feed) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.tasks <- feed:
		return true
	default:
		q.logger.Warn("index queue full, dropping job", zap.String("feed_id", feed.ID))
		return false
	}
}

// Close stops accepting jobs and waits for queued ones to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	for feed := range q.tasks {
		q.run(id, feed)
	}
}

func (q *Queue) run(worker int, feed *model.Feed) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("index job panicked", zap.String("feed_id", feed.ID), zap.Any("panic", r))
		}
	}()

	start := time.Now()
	n, err := q.index(ctx, feed)
	if err != nil {
		q.logger.Error("background index failed",
			zap.Int("worker", worker), zap.String("feed_id", feed.ID), zap.Error(err))
		return
	}
	q.logger.Debug("indexed feed",
		zap.Int("worker", worker), zap.String("feed_id", feed.ID),
		zap.Int("items", n), zap.Duration("took", time.Since(start)))
}
