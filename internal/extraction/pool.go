package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Lllllllleong/documentintake/internal/models"
)

// ErrPoolClosed is returned by Submit and Go after Shutdown.
var ErrPoolClosed = errors.New("extraction pool is closed")

// Pool executes Segment Tasks on a fixed set of goroutines.
type Pool struct {
	engine  Engine
	logger  *slog.Logger
	workers int
	timeout time.Duration

	tasks chan *job
	wg    sync.WaitGroup
	once  sync.Once

	mu     sync.RWMutex
	closed bool
}

type job struct {
	ctx    context.Context
	task   SegmentTask
	future *Future
}

// Future is the pending result of a submitted task.
type Future struct {
	done chan struct{}
	res  Result
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(res Result, err error) {
	f.res, f.err = res, err
	close(f.done)
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the task resolves or ctx is done.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.res, f.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

type Option func(*Pool)

// WithWorkers overrides the default worker count.
func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithQueueSize sets the buffer of the task queue.
func WithQueueSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.tasks = make(chan *job, n)
		}
	}
}

// WithTaskTimeout bounds each engine call.
func WithTaskTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// DefaultWorkers is the number of parallel execution units minus one, at least one.
func DefaultWorkers() int {
	return max(runtime.NumCPU()-1, 1)
}

// NewPool starts a pool running engine.
func NewPool(engine Engine, logger *slog.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		engine:  engine,
		logger:  logger,
		workers: DefaultWorkers(),
		timeout: 2 * time.Minute,
		tasks:   make(chan *job, 256),
	}
	for _, o := range opts {
		o(p)
	}
	p.start()
	return p
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int { return p.workers }

func (p *Pool) start() {
	p.once.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go func(workerID int) {
				defer p.wg.Done()
				p.logger.Debug("Extraction worker started.", "workerId", workerID)
				for j := range p.tasks {
					res, err := p.run(j)
					j.future.resolve(res, err)
				}
				p.logger.Debug("Extraction worker stopped.", "workerId", workerID)
			}(i + 1)
		}
	})
}

// run executes one job. A panic in the engine is converted into an ExtractionError
// so the worker survives for the next task.
func (p *Pool) run(j *job) (res Result, err error) {
	if err := j.ctx.Err(); err != nil {
		return Result{}, &models.ExtractionError{Message: j.task.Label() + " was cancelled before it started", Segment: j.task.Index, Cause: err}
	}
	ctx, cancel := context.WithTimeout(j.ctx, p.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Extraction engine panicked.", "documentId", j.task.DocumentID, "segment", j.task.Label(), "panic", r, "stack", string(debug.Stack()))
			res = Result{}
			err = &models.ExtractionError{
				Message: j.task.Label() + " extraction failed",
				Segment: j.task.Index,
				Cause:   fmt.Errorf("engine panic: %v", r),
			}
		}
	}()

	res, err = p.engine.Extract(ctx, j.task)
	if err != nil {
		var ee *models.ExtractionError
		if errors.As(err, &ee) {
			return Result{}, err
		}
		return Result{}, &models.ExtractionError{Message: j.task.Label() + " extraction failed", Segment: j.task.Index, Cause: err}
	}
	res.Index = j.task.Index
	if res.Page == 0 {
		res.Page = j.task.Page
	}
	return res, nil
}

// Go queues task and returns its future. It blocks while the queue is full.
func (p *Pool) Go(ctx context.Context, task SegmentTask) (*Future, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	j := &job{ctx: ctx, task: task, future: newFuture()}
	select {
	case p.tasks <- j:
		return j.future, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Submit queues task and waits for its result.
func (p *Pool) Submit(ctx context.Context, task SegmentTask) (Result, error) {
	f, err := p.Go(ctx, task)
	if err != nil {
		return Result{}, err
	}
	return f.Wait(ctx)
}

// Shutdown stops accepting tasks, lets queued tasks finish and waits for the workers.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); p.wg.Wait() }()

	select {
	case <-ctx.Done():
		p.logger.Warn("Extraction pool shutdown interrupted.", "error", ctx.Err())
	case <-done:
		p.logger.Info("Extraction pool drained.")
	}
}
