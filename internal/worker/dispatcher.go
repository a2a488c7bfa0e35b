package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"
)

type keyQueue struct {
	jobs     []Job
	enqueued bool
}

type Dispatcher struct {
	pool       *jobChannelPool
	JobQueue   chan Job // interface for outer jobs get in the dispatcher
	jobTimeout time.Duration

	mu        sync.Mutex
	queues    map[string]*keyQueue // job queue for each key
	ready     *list.List           // LRU queue storing keys
	positions map[string]*list.Element

	stateMu  sync.Mutex
	stopped  bool
	pending  sync.WaitGroup
	quit     chan struct{}
	quitOnce sync.Once
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	d := &Dispatcher{
		queues:     make(map[string]*keyQueue),
		ready:      list.New(),
		positions:  make(map[string]*list.Element),
		JobQueue:   make(chan Job, cfg.QueueSize),
		jobTimeout: cfg.JobTimeout,
		quit:       make(chan struct{}),
	}
	d.pool = newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.WorkerIdleTimeout, d)

	// warm up workers
	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit queues job without blocking. It returns ErrDispatcherBusy when the
// queue is full and ErrDispatcherStopped after Stop.
func (d *Dispatcher) Submit(job Job) error {
	if job.Run == nil {
		return errors.New("job has no run func")
	}
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	if d.stopped {
		return ErrDispatcherStopped
	}
	d.pending.Add(1)
	select {
	case d.JobQueue <- job:
		return nil
	default:
		d.pending.Done()
		return ErrDispatcherBusy
	}
}

// Stop rejects new jobs, waits for queued and running jobs to finish (or
// ctx to expire) and retires every worker.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.stateMu.Lock()
	d.stopped = true
	d.stateMu.Unlock()

	done := make(chan struct{})
	go func() {
		d.pending.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	d.quitOnce.Do(func() {
		close(d.quit)
		d.pool.close()
	})
	return err
}

func (d *Dispatcher) run() {
	for {
		d.drainQueue()
		// dispatch one job of the key in the front of LRU queue
		if d.dispatchOne() {
			continue
		}
		select {
		case job := <-d.JobQueue: // wait for work
			d.enqueueJob(job)
		case <-d.quit:
			return
		}
	}
}

// drainQueue moves every submitted job into its key queue so that keys
// are ordered by the time they joined, not by channel position.
func (d *Dispatcher) drainQueue() {
	for {
		select {
		case job := <-d.JobQueue:
			d.enqueueJob(job)
		default:
			return
		}
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
		// key already enqueued, skip
		return
	}
	q.enqueued = true
	elem := d.ready.PushBack(job.Key)
	d.positions[job.Key] = elem
}

// dispatchOne takes the first key in the LRU and hands one of its jobs to a worker
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
		// last job of this key, it leaves the queue
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, key)
		delete(d.queues, key)
	} else {
		// get to the back of queue
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	workerChan := d.pool.acquire()
	if workerChan == nil {
		// pool closed while waiting
		d.pending.Done()
		return true
	}
	debugLog("dispatcher assigned job", "job", job.Name, "key", key, "worker", d.pool.workerID(workerChan))
	workerChan <- job
	return true
}

// finished is called by workers after each job.
func (d *Dispatcher) finished() {
	d.pending.Done()
}
