// Package worker provides an asynchronous worker pool that persists recall
// usage statistics using the provided storage.Driver.
//
// The pool decouples statistic writes from the recall hot path so that a
// cache hit returns to its caller without waiting on storage.
package worker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/reminisce/pkg/memory"
	"github.com/papercomputeco/reminisce/pkg/metrics"
	"github.com/papercomputeco/reminisce/pkg/storage"
)

var (
	defaultNumWorkers   uint = 3
	defaultJobQueueSize uint = 256
	defaultMaxAttempts  uint = 3
	defaultRetryBackoff      = 50 * time.Millisecond
)

// Job records that a set of memories was served at an instant.
type Job struct {
	MemoryIDs  []string
	AccessedAt time.Time
}

// Config is the configuration options for the worker pool.
type Config struct {
	// Driver is the storage backend the statistics are written to.
	Driver storage.Driver

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	// MaxAttempts bounds retries of a write that failed transiently.
	MaxAttempts uint

	// RetryBackoff is the pause between attempts.
	RetryBackoff time.Duration

	// Metrics counts coalesced jobs. Optional.
	Metrics *metrics.Collector

	// Logger is the provided zap logger
	Logger *zap.Logger
}

// Pool applies access statistics asynchronously via a worker pool.
type Pool struct {
	config *Config
	queue  chan Job
	wg     sync.WaitGroup
	once   sync.Once
	logger *zap.Logger

	// overflow coalesces hits that arrive while the queue is full, so that
	// counts still converge under load. Guarded by mu.
	mu         sync.Mutex
	overflow   map[string]int64
	overflowAt time.Time
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c *Config) (*Pool, error) {
	if c.Driver == nil {
		return nil, fmt.Errorf("worker pool requires a storage driver")
	}
	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	wp := &Pool{
		config:   c,
		queue:    make(chan Job, c.QueueSize),
		logger:   c.Logger,
		overflow: make(map[string]int64),
	}

	wp.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go wp.worker(i)
	}

	return wp, nil
}

// Enqueue submits a job for processing by the worker pool. It never blocks.
// Returns true if queued, false if the queue was full and the hits were
// folded into the overflow batch instead.
func (p *Pool) Enqueue(job Job) bool {
	if len(job.MemoryIDs) == 0 {
		return true
	}

	select {
	case p.queue <- job:
		p.logger.Debug("access job queued", zap.Int("memories", len(job.MemoryIDs)))
		return true
	default:
		p.mu.Lock()
		for _, id := range job.MemoryIDs {
			p.overflow[id]++
		}
		if job.AccessedAt.After(p.overflowAt) {
			p.overflowAt = job.AccessedAt
		}
		p.mu.Unlock()

		p.config.Metrics.RecordCoalescedAccess()
		p.logger.Warn("access queue full, coalescing job",
			zap.Int("memories", len(job.MemoryIDs)),
		)
		return false
	}
}

// Close signals workers to stop and waits for in-flight jobs to drain.
// Call this during graceful shutdown after request handlers have stopped.
// Enqueue must not be called after Close.
func (p *Pool) Close() {
	p.once.Do(func() {
		close(p.queue)
		p.wg.Wait()
		p.flushOverflow()
	})
}

// worker is the inner worker thread that continuously pulls jobs off the jobs queue
func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("access worker started", zap.Uint("worker_id", id))

	for job := range p.queue {
		p.processJob(job)
		p.flushOverflow()
	}

	p.logger.Debug("access worker stopped", zap.Uint("worker_id", id))
}

// processJob increments the access count of every memory in the job in a
// single batch write.
func (p *Pool) processJob(job Job) {
	p.record(job.MemoryIDs, 1, job.AccessedAt)
}

func (p *Pool) flushOverflow() {
	p.mu.Lock()
	if len(p.overflow) == 0 {
		p.mu.Unlock()
		return
	}
	pending := p.overflow
	at := p.overflowAt
	p.overflow = make(map[string]int64)
	p.overflowAt = time.Time{}
	p.mu.Unlock()

	// Group by count so each distinct increment is one batch write.
	byCount := make(map[int64][]string)
	for id, n := range pending {
		byCount[n] = append(byCount[n], id)
	}
	for n, ids := range byCount {
		p.record(ids, n, at)
	}
}

func (p *Pool) record(ids []string, hits int64, at time.Time) {
	ctx := context.Background()
	patch := memory.Patch{
		IncrementAccess: hits,
		LastAccessed:    &at,
	}

	var err error
	for attempt := uint(1); attempt <= p.config.MaxAttempts; attempt++ {
		var n int
		n, err = p.config.Driver.UpdateMany(ctx, memory.Filter{IDs: ids}, patch)
		if err == nil {
			p.logger.Debug("access statistics stored",
				zap.Int("memories", n),
				zap.Int64("hits", hits),
			)
			return
		}
		if !storage.IsTransient(err) {
			break
		}
		time.Sleep(p.config.RetryBackoff)
	}

	p.logger.Error("failed to store access statistics",
		zap.Strings("memory_ids", ids),
		zap.Error(err),
	)
}
