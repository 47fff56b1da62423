// Package dispatcher runs the worker pool against the job queue and gives
// the API a single control surface for submitting and canceling work.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/mirrorlab/sitemirror/internal/crawler"
	"github.com/mirrorlab/sitemirror/internal/worker"
)

// Dispatcher owns the worker pool for one serve process.
type Dispatcher struct {
	queue   crawler.Queue
	workers []*worker.Worker
	cancels *worker.Cancels
}

// New builds a Dispatcher. The cancels registry must be the same instance
// the workers were built with, otherwise Cancel cannot reach running jobs.
func New(queue crawler.Queue, workers []*worker.Worker, cancels *worker.Cancels) *Dispatcher {
	if cancels == nil {
		cancels = worker.NewCancels()
	}
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		cancels: cancels,
	}
}

// Run launches every worker and blocks until ctx ends and the pool has
// drained.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue hands a job to the queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("enqueue job %s: %w", item.JobID, err)
	}
	return nil
}

// Cancel interrupts the named job if a worker is currently running it and
// reports whether one was. Jobs still sitting in the queue are canceled at
// the job store instead.
func (d *Dispatcher) Cancel(jobID string) bool {
	return d.cancels.Cancel(jobID)
}
