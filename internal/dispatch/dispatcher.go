// Package dispatch serializes reconciliation work per conversation token.
// Each signaling payload is one job; jobs for the same token run on a single
// worker goroutine in arrival order, so the reconciler needs no coordination
// between the HTTP ingest and the standalone signaling client.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/pravatus-technologies/spreed/pkg/logger"
)

// Job is one unit of reconciliation work.
type Job func(ctx context.Context)

const jobQueueSize = 256

type worker struct {
	mu     sync.Mutex
	closed bool

	jobs         chan Job
	done         chan struct{}
	lastActivity time.Time
}

func newWorker(ctx context.Context) *worker {
	w := &worker{
		jobs:         make(chan Job, jobQueueSize),
		done:         make(chan struct{}),
		lastActivity: time.Now(),
	}
	go w.run(ctx)
	return w
}

func (w *worker) run(ctx context.Context) {
	defer close(w.done)
	for job := range w.jobs {
		job(ctx)
	}
}

// enqueue reports false when the worker was already closed; a full queue
// blocks only this worker's callers, not the dispatcher.
func (w *worker) enqueue(job Job) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return false
	}
	w.jobs <- job
	return true
}

func (w *worker) close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.closed {
		w.closed = true
		close(w.jobs)
	}
}

// Dispatcher owns one worker per active conversation token. Idle workers are
// reaped periodically; a later payload simply spawns a fresh one.
type Dispatcher struct {
	mu        sync.Mutex
	workers   map[string]*worker
	baseCtx   context.Context
	cancel    context.CancelFunc
	idleAfter time.Duration
	closed    bool
}

func NewDispatcher(idleAfter time.Duration) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		workers:   make(map[string]*worker),
		baseCtx:   ctx,
		cancel:    cancel,
		idleAfter: idleAfter,
	}
	go d.reapIdleWorkers()
	return d
}

// Submit queues a job on the token's worker, creating one if needed. Jobs for
// one token execute strictly in submission order. The dispatcher lock covers
// only the worker lookup, so a token with a full queue cannot stall
// submissions for other tokens.
func (d *Dispatcher) Submit(token string, job Job) {
	for {
		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			logger.Warn("Dropping job for conversation %s: dispatcher closed", token)
			return
		}
		w, ok := d.workers[token]
		if !ok {
			w = newWorker(d.baseCtx)
			d.workers[token] = w
		}
		w.lastActivity = time.Now()
		d.mu.Unlock()

		if w.enqueue(job) {
			return
		}
		// The reaper closed this worker between lookup and enqueue; a fresh
		// lookup gets a live one.
	}
}

// ActiveWorkers returns the number of live per-token workers.
func (d *Dispatcher) ActiveWorkers() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.workers)
}

func (d *Dispatcher) reapIdleWorkers() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-d.baseCtx.Done():
			return
		case <-ticker.C:
			d.mu.Lock()
			var idle []*worker
			for token, w := range d.workers {
				if time.Since(w.lastActivity) > d.idleAfter && len(w.jobs) == 0 {
					idle = append(idle, w)
					delete(d.workers, token)
					logger.Debug("Reaped idle worker for conversation %s", token)
				}
			}
			d.mu.Unlock()
			for _, w := range idle {
				w.close()
			}
		}
	}
}

// Close stops all workers after their queued jobs drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	workers := make([]*worker, 0, len(d.workers))
	for token, w := range d.workers {
		workers = append(workers, w)
		delete(d.workers, token)
	}
	d.mu.Unlock()

	for _, w := range workers {
		w.close()
	}
	for _, w := range workers {
		<-w.done
	}
	d.cancel()
}
