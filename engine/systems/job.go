package systems

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/graph"
)

// JobTask is a unit of background work.
type JobTask struct {
	Name    string
	OnStart func(ctx context.Context) error
	// Called after OnStart succeeds.
	OnComplete func()
	OnFailure  func(err error)
	// Called after OnComplete or OnFailure, whatever the outcome.
	OnCompletionCallback func()
}

type JobSystem struct {
	numWorkers int
	jobQueue   chan JobTask
	wg         sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	inFlight sync.WaitGroup
}

var ErrNoWorkers = errors.New("attempting to create worker pool with less than 1 worker")
var ErrNegativeChannelSize = errors.New("attempting to create worker pool with a negative channel size")
var ErrJobSystemClosed = errors.New("job system is shut down")
var ErrJobQueueFull = errors.New("job queue is full")

func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   make(chan JobTask, channelSize),
		ctx:        ctx,
		cancel:     cancel,
	}

	js.start()

	return js, nil
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for job := range js.jobQueue {
				js.run(job)
			}
		}()
	}
}

func (js *JobSystem) run(job JobTask) {
	defer js.inFlight.Done()

	if err := job.OnStart(js.ctx); err != nil {
		core.LogError("job '%s' failed: %s", job.Name, err)
		if job.OnFailure != nil {
			job.OnFailure(err)
		}
	} else if job.OnComplete != nil {
		job.OnComplete()
	}

	if job.OnCompletionCallback != nil {
		job.OnCompletionCallback()
	}
}

/**
 * @brief Shuts the job system down. Queued jobs still run; their context is
 * cancelled so blocking waits return early.
 */
func (js *JobSystem) Shutdown() error {
	js.mu.Lock()
	if js.closed {
		js.mu.Unlock()
		return nil
	}
	js.closed = true
	js.mu.Unlock()

	js.cancel()
	close(js.jobQueue)
	js.wg.Wait()
	return nil
}

// Wait blocks until every job submitted so far has run.
func (js *JobSystem) Wait() {
	js.inFlight.Wait()
}

// AddWorkNonBlocking queues jt, failing with ErrJobQueueFull instead of
// waiting for room in the queue.
func (js *JobSystem) AddWorkNonBlocking(jt JobTask) error {
	return js.enqueue(jt, false)
}

/**
 * @brief Submits the provided job to be queued for execution.
 * Blocks while the queue is full.
 * @param jt The description of the job to be executed.
 */
func (js *JobSystem) Submit(jt JobTask) error {
	return js.enqueue(jt, true)
}

func (js *JobSystem) enqueue(jt JobTask, block bool) error {
	if jt.OnStart == nil {
		return errors.Newf("job '%s' has no OnStart", jt.Name)
	}
	js.mu.Lock()
	defer js.mu.Unlock()
	if js.closed {
		return ErrJobSystemClosed
	}
	js.inFlight.Add(1)
	if block {
		js.jobQueue <- jt
		return nil
	}
	select {
	case js.jobQueue <- jt:
		return nil
	default:
		js.inFlight.Done()
		return ErrJobQueueFull
	}
}

// Retire waits in the background for done, then completes sub so its scratch
// leases return to the pool. onRetired receives the outcome and may be nil.
func (js *JobSystem) Retire(name string, sub *graph.Submission, done graph.Completion, timeout time.Duration, onRetired func(error)) error {
	report := func(err error) {
		if onRetired != nil {
			onRetired(err)
		}
	}
	return js.Submit(JobTask{
		Name: "retire/" + name,
		OnStart: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return sub.Retire(ctx, done)
		},
		OnComplete: func() { report(nil) },
		OnFailure:  report,
	})
}
