package worker

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDispatcherBusy    = errors.New("dispatcher queue is full")
	ErrDispatcherStopped = errors.New("dispatcher stopped")
)

// Job is a unit of background work. Jobs sharing a Key are run in
// submission order and keys are served round-robin, so one busy user
// cannot starve the others.
type Job struct {
	Key  string
	Name string
	Run  func(ctx context.Context) error

	stop bool // retires the receiving worker
}

// DispatcherConfig sizes the worker pool.
type DispatcherConfig struct {
	MinWorkers        int
	MaxWorkers        int
	QueueSize         int
	WorkerIdleTimeout time.Duration
	JobTimeout        time.Duration
}

const defaultJobTimeout = 10 * time.Second
