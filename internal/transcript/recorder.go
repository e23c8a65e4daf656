package transcript

import (
	"context"
	"errors"
	"fmt"

	"typhonrelay/internal/models"
	"typhonrelay/internal/worker"
)

// AsyncRecorder queues exchanges on a worker dispatcher and writes them to a sink in the
// background. Write failures are logged by the worker, never returned.
type AsyncRecorder struct {
	sink       Sink
	dispatcher *worker.Dispatcher
}

func NewAsyncRecorder(sink Sink, dispatcher *worker.Dispatcher) *AsyncRecorder {
	return &AsyncRecorder{sink: sink, dispatcher: dispatcher}
}

// Record enqueues the exchange. It only fails when the queue cannot accept it.
func (r *AsyncRecorder) Record(ctx context.Context, ex models.Exchange) error {
	key := ex.SessionKey
	if key == "" {
		key = ex.ID
	}
	err := r.dispatcher.Submit(worker.Job{
		Key:  key,
		Name: "transcript:" + ex.ID,
		Run: func(jobCtx context.Context) error {
			return Write(jobCtx, r.sink, ex)
		},
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, worker.ErrQueueFull), errors.Is(err, worker.ErrClosed):
		return fmt.Errorf("%w: %v", ErrDispatcherBusy, err)
	default:
		return err
	}
}
