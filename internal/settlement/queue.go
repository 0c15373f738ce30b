package settlement

import (
	"context"
	"sync"
	"time"

	"auction-rounds/internal/biddingerrors"
	"auction-rounds/utils"
)

// Task asks for one round to be settled
type Task struct {
	AuctionID string
	Round     int
	Attempt   int
}

// Handler settles the round named by a task
type Handler func(ctx context.Context, auctionID string, round int) error

// QueueOptions sizes the worker pool and its retry policy
type QueueOptions struct {
	Workers int
	Buffer  int
	// AlertAfter is the attempt from which failures are logged as critical.
	// Retries continue past it at MaxBackoff.
	AlertAfter  int
	Backoff     time.Duration
	MaxBackoff  time.Duration
	TaskTimeout time.Duration
}

func (o QueueOptions) withDefaults() QueueOptions {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Buffer <= 0 {
		o.Buffer = 256
	}
	if o.AlertAfter <= 0 {
		o.AlertAfter = 5
	}
	if o.Backoff <= 0 {
		o.Backoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.TaskTimeout <= 0 {
		o.TaskTimeout = 30 * time.Second
	}
	return o
}

// Queue delivers settlement tasks at least once to a pool of workers.
// Retryable failures are re-enqueued with capped exponential back-off until
// they succeed or the queue stops.
type Queue struct {
	handler Handler
	opts    QueueOptions
	tasks   chan Task

	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewQueue creates a stopped queue; tasks enqueued before Start are buffered
func NewQueue(handler Handler, opts QueueOptions) *Queue {
	opts = opts.withDefaults()
	return &Queue{
		handler: handler,
		opts:    opts,
		tasks:   make(chan Task, opts.Buffer),
		done:    make(chan struct{}),
	}
}

// Start launches the workers. In-flight tasks use ctx as their parent.
func (q *Queue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		for i := 0; i < q.opts.Workers; i++ {
			q.wg.Add(1)
			go q.work(ctx)
		}
	})
}

// Stop refuses new tasks and waits for running ones. Buffered tasks are
// dropped; recovery settles their rounds on the next start.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.done)
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
	})
	q.wg.Wait()
}

// Enqueue hands a task to the workers
func (q *Queue) Enqueue(ctx context.Context, task Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return biddingerrors.ErrQueueClosed
	}
	select {
	case q.tasks <- task:
		return nil
	case <-q.done:
		return biddingerrors.ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) work(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-q.done:
			return
		case task := <-q.tasks:
			q.run(ctx, task)
		}
	}
}

func (q *Queue) run(ctx context.Context, task Task) {
	task.Attempt++
	taskCtx, cancel := context.WithTimeout(ctx, q.opts.TaskTimeout)
	err := q.handler(taskCtx, task.AuctionID, task.Round)
	cancel()
	if err == nil {
		return
	}

	fields := map[string]any{
		"auction_id": task.AuctionID,
		"round":      task.Round,
		"attempt":    task.Attempt,
		"error":      err.Error(),
	}
	if !biddingerrors.IsRetryable(err) {
		utils.Error("settlement: task failed permanently", fields)
		return
	}

	delay := q.backoff(task.Attempt)
	fields["retry_in"] = delay.String()
	if task.Attempt >= q.opts.AlertAfter {
		utils.Critical("settlement: round still unsettled, retrying", fields)
	} else {
		utils.Warn("settlement: task failed, retrying", fields)
	}

	time.AfterFunc(delay, func() {
		if err := q.Enqueue(context.Background(), task); err != nil {
			utils.Warn("settlement: retry dropped", map[string]any{
				"auction_id": task.AuctionID,
				"round":      task.Round,
				"error":      err.Error(),
			})
		}
	})
}

func (q *Queue) backoff(attempt int) time.Duration {
	delay := q.opts.Backoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= q.opts.MaxBackoff {
			return q.opts.MaxBackoff
		}
	}
	return delay
}
