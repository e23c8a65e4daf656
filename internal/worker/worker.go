package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"typhonrelay/internal/logging"
)

// Job is one unit of background work. Jobs sharing a Key are dispatched in submission order.
type Job struct {
	Key  string
	Name string
	Run  func(ctx context.Context) error

	stop bool
}

type Worker struct {
	id         int
	pool       *jobChannelPool
	jobChannel chan Job
}

func newWorker(id int, pool *jobChannelPool) *Worker {
	return &Worker{
		id:         id,
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) Start() {
	go func() {
		defer w.pool.wg.Done()
		for {
			w.pool.Release(w.jobChannel)
			select {
			case job := <-w.jobChannel:
				if job.stop {
					w.pool.retire(w.jobChannel)
					return
				}
				w.run(job)
			case <-w.pool.quit:
				w.pool.retire(w.jobChannel)
				return
			}
		}
	}()
}

func (w *Worker) run(job Job) {
	log := logging.With(zap.Int("worker", w.id), zap.String("job", job.Name), zap.String("key", job.Key))
	ctx := context.Background()
	if w.pool.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.pool.jobTimeout)
		defer cancel()
	}
	start := time.Now()
	err := safeRun(ctx, job)
	if err != nil {
		log.Warn("background job failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return
	}
	log.Debug("background job done", zap.Duration("elapsed", time.Since(start)))
}

func safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	if job.Run == nil {
		return nil
	}
	return job.Run(ctx)
}
