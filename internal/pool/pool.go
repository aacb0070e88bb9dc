// Package pool runs classification tasks on a fixed set of persistent workers and hands the
// outcomes back in completion order.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/andresmejia3/emoscan/internal/metrics"
	"github.com/andresmejia3/emoscan/internal/types"
	"go.uber.org/zap"
)

// Worker classifies tasks. Each worker is used by exactly one goroutine.
type Worker interface {
	Classify(ctx context.Context, task types.ClassificationTask) types.Outcome
	Close() error
}

// InitFunc builds worker id. It runs once per worker, before any task is dispatched,
// and is where the model gets loaded.
type InitFunc func(ctx context.Context, id int) (Worker, error)

// Liveness is implemented by workers that can tell when their backing process has gone away.
type Liveness interface {
	Alive() bool
}

// Pool is a fixed set of warmed-up workers.
type Pool struct {
	workers  []Worker
	init     InitFunc
	logger   *zap.Logger
	respawns atomic.Int64
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger logs worker restarts.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// New starts size workers concurrently and waits until all of them are ready.
// If any worker fails to start, the others are closed and the first error is returned.
func New(ctx context.Context, size int, init InitFunc, opts ...Option) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool size must be >= 1, got %d", size)
	}

	workers := make([]Worker, size)
	errs := make([]error, size)
	var wg sync.WaitGroup
	for i := 0; i < size; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			workers[id], errs[id] = init(ctx, id)
		}(i)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		for _, w := range workers {
			if w != nil {
				w.Close()
			}
		}
		return nil, fmt.Errorf("worker startup failed: %w", err)
	}

	metrics.ActiveWorkers.Add(float64(size))
	p := &Pool{workers: workers, init: init, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Size returns the number of worker slots.
func (p *Pool) Size() int { return len(p.workers) }

// Respawns returns how many dead workers have been replaced so far.
func (p *Pool) Respawns() int { return int(p.respawns.Load()) }

func dead(w Worker) bool {
	l, ok := w.(Liveness)
	return ok && !l.Alive()
}

// replace swaps the dead worker in slot id for a fresh one. On failure the slot is left empty.
func (p *Pool) replace(ctx context.Context, id int) Worker {
	old := p.workers[id]
	if err := old.Close(); err != nil {
		p.logger.Debug("dead worker close", zap.Int("worker", id), zap.Error(err))
	}
	metrics.ActiveWorkers.Dec()

	w, err := p.init(ctx, id)
	if err != nil {
		p.workers[id] = nil
		p.logger.Error("worker died and could not be restarted", zap.Int("worker", id), zap.Error(err))
		return nil
	}
	p.workers[id] = w
	p.respawns.Add(1)
	metrics.ActiveWorkers.Inc()
	p.logger.Warn("worker died, restarted", zap.Int("worker", id))
	return w
}

// Run dispatches tasks in submission order and calls handle once per task, in the order
// the workers finish. handle runs on the caller's goroutine. Nothing is retried.
//
// A worker that reports itself dead after a task is restarted through the InitFunc. The task it
// was holding keeps its single failure outcome. If the restart fails the slot stops taking tasks,
// unless it is the last one serving, which keeps running so every task still gets an outcome.
func (p *Pool) Run(ctx context.Context, tasks []types.ClassificationTask, handle func(types.Outcome)) error {
	if len(tasks) == 0 {
		return nil
	}
	if p.workers == nil {
		return errors.New("pool is closed")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	taskChan := make(chan types.ClassificationTask)
	resultsChan := make(chan types.Outcome, len(p.workers)*2)
	var wg sync.WaitGroup

	var serving atomic.Int64
	for id, w := range p.workers {
		if w == nil {
			continue
		}
		serving.Add(1)
		wg.Add(1)
		go func(id int, w Worker) {
			defer wg.Done()
			retired := false
			for task := range taskChan {
				out := w.Classify(ctx, task)
				select {
				case resultsChan <- out:
				case <-ctx.Done():
					return
				}
				if retired || !dead(w) || ctx.Err() != nil {
					continue
				}
				if fresh := p.replace(ctx, id); fresh != nil {
					w = fresh
					continue
				}
				if serving.Add(-1) > 0 {
					return
				}
				// Last slot standing: keep draining with the dead worker, failing fast.
				serving.Add(1)
				retired = true
			}
		}(id, w)
	}
	if serving.Load() == 0 {
		return errors.New("no live workers")
	}

	// Feeder
	go func() {
		defer close(taskChan)
		for _, task := range tasks {
			select {
			case taskChan <- task:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Drain exactly one outcome per task. Order carries no meaning here.
	for consumed := 0; consumed < len(tasks); consumed++ {
		select {
		case out := <-resultsChan:
			handle(out)
		case <-ctx.Done():
			cancel()
			wg.Wait()
			return ctx.Err()
		}
	}

	wg.Wait()
	return nil
}

// Close tears every worker down.
func (p *Pool) Close() error {
	var errs []error
	for _, w := range p.workers {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
		metrics.ActiveWorkers.Dec()
	}
	p.workers = nil
	return errors.Join(errs...)
}
