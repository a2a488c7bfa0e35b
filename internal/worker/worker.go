package worker

import (
	"context"
	"log/slog"
)

type Worker struct {
	id         int
	pool       *jobChannelPool
	dispatcher *Dispatcher
	jobChannel chan Job
}

func NewWorker(id int, pool *jobChannelPool, d *Dispatcher) *Worker {
	return &Worker{
		id:         id,
		pool:       pool,
		dispatcher: d,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) Start() {
	go func() {
		defer w.pool.retire(w.jobChannel)
		if !w.pool.Release(w.jobChannel) {
			return
		}
		for job := range w.jobChannel {
			if job.stop {
				debugLog("worker retired", "worker", w.id)
				return
			}
			w.run(job)
			w.dispatcher.finished()
			if !w.pool.Release(w.jobChannel) {
				return
			}
		}
	}()
}

func (w *Worker) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("worker job panicked", "worker", w.id, "job", job.Name, "key", job.Key, "panic", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), w.dispatcher.jobTimeout)
	defer cancel()
	if err := job.Run(ctx); err != nil {
		slog.Warn("worker job failed", "worker", w.id, "job", job.Name, "key", job.Key, "err", err)
	}
}
