package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"typhonrelay/internal/logging"
)

var (
	ErrQueueFull = errors.New("worker: job queue full")
	ErrClosed    = errors.New("worker: dispatcher closed")
)

// Config sizes a Dispatcher.
type Config struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
	JobTimeout  time.Duration
}

type keyQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher hands jobs to a bounded worker pool, round-robin across keys so one busy
// key cannot starve the others.
type Dispatcher struct {
	pool     *jobChannelPool
	jobQueue chan Job

	closeMu sync.RWMutex
	closed  bool
	done    chan struct{}

	mu        sync.Mutex
	queues    map[string]*keyQueue // pending jobs for each key
	ready     *list.List           // round-robin queue of keys
	positions map[string]*list.Element
}

func NewDispatcher(cfg Config) *Dispatcher {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	d := &Dispatcher{
		pool:      newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout, cfg.JobTimeout),
		jobQueue:  make(chan Job, queueSize),
		done:      make(chan struct{}),
		queues:    make(map[string]*keyQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
	}

	// warm up
	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit enqueues job without blocking.
func (d *Dispatcher) Submit(job Job) error {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.jobQueue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting jobs, runs everything already queued, then stops the workers.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeMu.Lock()
	if d.closed {
		d.closeMu.Unlock()
		return nil
	}
	d.closed = true
	close(d.jobQueue)
	d.closeMu.Unlock()

	select {
	case <-d.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return d.pool.shutdown(ctx)
}

// Workers reports the number of live workers.
func (d *Dispatcher) Workers() int {
	return d.pool.size()
}

func (d *Dispatcher) run() {
	defer close(d.done)
	open := true
	for {
		if d.dispatchOne() {
			if open {
				select {
				case job, ok := <-d.jobQueue:
					if ok {
						d.enqueueJob(job)
					} else {
						open = false
					}
				default:
				}
			}
			continue
		}
		if !open {
			return
		}
		job, ok := <-d.jobQueue // nothing pending, block
		if !ok {
			open = false
			continue
		}
		d.enqueueJob(job)
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.Key]
	if q == nil {
		q = &keyQueue{}
		d.queues[job.Key] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.Key] = d.ready.PushBack(job.Key)
}

// dispatchOne takes the next job of the key at the front and hands it to a worker
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	key := elem.Value.(string)
	q := d.queues[key]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, key)
		delete(d.queues, key)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	workerChan := d.pool.acquire()
	logging.L().Debug("dispatch job",
		zap.String("job", job.Name),
		zap.String("key", key),
		zap.Int("worker", d.pool.workerID(workerChan)))
	workerChan <- job
	return true
}
