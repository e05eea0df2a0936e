package server

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/netraid/netraid/internal/logger"
	"github.com/netraid/netraid/pkg/config"
)

// Dispatcher runs a bounded worker pool that drains a node's priority
// queues, per §4.H: workers try each queue in priority order and, finding
// none ready, sleep with a bounded exponential back-off before trying
// again.
type Dispatcher struct {
	queues *Queues
	cfg    config.DispatchConfig

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

// NewDispatcher creates a dispatcher over queues using cfg's back-off
// parameters.
func NewDispatcher(queues *Queues, cfg config.DispatchConfig) *Dispatcher {
	return &Dispatcher{
		queues: queues,
		cfg:    cfg,
		stop:   make(chan struct{}),
	}
}

// Start launches poolSize workers, each running its own drain loop until
// Stop is called. poolSize is conventionally BASE_THREADNUMBER*2.
func (d *Dispatcher) Start(poolSize int) {
	for i := 0; i < poolSize; i++ {
		d.wg.Add(1)
		go d.drainLoop(i)
	}
}

// Stop signals every worker to exit and waits for them to drain their
// current job.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
	d.wg.Wait()
}

func (d *Dispatcher) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.USleep
	b.Multiplier = d.cfg.Backoff
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0 // bounded by MaxIter below, not elapsed wall time
	b.Reset()
	return b
}

func (d *Dispatcher) drainLoop(workerID int) {
	defer d.wg.Done()

	b := d.newBackOff()
	iter := 0

	for {
		select {
		case <-d.stop:
			return
		default:
		}

		job, ok := d.queues.TryPopInOrder()
		if ok {
			iter = 0
			b.Reset()
			runJob(workerID, job)
			continue
		}

		if iter >= d.cfg.MaxIter {
			iter = 0
			b.Reset()
		}
		wait := b.NextBackOff()
		iter++

		select {
		case <-d.stop:
			return
		case <-time.After(wait):
		}
	}
}

func runJob(workerID int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("dispatch worker recovered from panic", "worker", workerID, "panic", r)
		}
	}()
	job()
}

// RunMaintenance enqueues a recurring maintenance job (GC tick or watchdog
// sweep) every interval until ctx is cancelled. The job itself runs on the
// dispatcher's worker pool, not on this ticking goroutine, so a slow GC
// pass never delays the next watchdog sweep's enqueue.
func (d *Dispatcher) RunMaintenance(ctx context.Context, interval time.Duration, job Job) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case <-ticker.C:
			if !d.queues.Push(PriorityMaintenance, job) {
				logger.Warn("maintenance queue push failed")
			}
		}
	}
}
