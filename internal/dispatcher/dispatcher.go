// Package dispatcher couples the job queue to the single search worker.
package dispatcher

import (
	"context"
	"fmt"
)

// Queue accepts job IDs for later processing.
type Queue interface {
	Enqueue(ctx context.Context, jobID string) error
	Close()
}

// Runner consumes the queue until its context ends.
type Runner interface {
	Run(ctx context.Context)
	Cancel(jobID string) bool
}

// Dispatcher owns the queue and the one worker that drains it. Searches are
// processed strictly one at a time.
type Dispatcher struct {
	queue  Queue
	worker Runner
}

// New creates a Dispatcher.
func New(queue Queue, worker Runner) *Dispatcher {
	return &Dispatcher{
		queue:  queue,
		worker: worker,
	}
}

// Run starts the worker and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.worker.Run(ctx)
	}()
	<-ctx.Done()
	d.queue.Close()
	<-done
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, jobID string) error {
	if err := d.queue.Enqueue(ctx, jobID); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Cancel interrupts jobID if it is the job currently running.
func (d *Dispatcher) Cancel(jobID string) bool {
	return d.worker.Cancel(jobID)
}
