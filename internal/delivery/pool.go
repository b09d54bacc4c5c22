package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maypok86/otter"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/shohag/mediarelay/internal/config"
	"github.com/shohag/mediarelay/internal/models"
)

var (
	ErrDuplicate = errors.New("delivery: same link already in progress for this user")
	ErrQueueFull = errors.New("delivery: dispatcher queue is full")
	ErrStopped   = errors.New("delivery: dispatcher stopped")
)

const (
	DefaultWorkers   = 16
	DefaultQueueSize = 256

	statusCapacity = 10_000
	statusTTL      = time.Hour
)

// JobStatus is the last known state of an accepted request.
type JobStatus struct {
	JobID     string    `json:"job_id"`
	UserID    int64     `json:"user_id"`
	URL       string    `json:"url"`
	Platform  string    `json:"platform"`
	State     State     `json:"state"`
	Attempt   int       `json:"attempt"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Dispatcher runs accepted requests through the scheduler on a bounded
// worker pool. A user cannot have the same link in flight twice.
type Dispatcher struct {
	sched    *Scheduler
	workers  int
	jobs     chan models.MediaRequest
	inflight *xsync.Map[string, string]
	statuses otter.Cache[string, JobStatus]

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	stopped  bool
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	now func() time.Time
	log zerolog.Logger
}

func NewDispatcher(cfg config.DeliveryConfig, sched *Scheduler, log zerolog.Logger) (*Dispatcher, error) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	statuses, err := otter.MustBuilder[string, JobStatus](statusCapacity).
		WithTTL(statusTTL).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build job status cache: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		sched:    sched,
		workers:  workers,
		jobs:     make(chan models.MediaRequest, queueSize),
		inflight: xsync.NewMap[string, string](),
		statuses: statuses,
		ctx:      ctx,
		cancel:   cancel,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		now:      time.Now,
		log:      log,
	}
	sched.onState = d.track
	return d, nil
}

func (d *Dispatcher) Start() {
	d.log.Info().Int("workers", d.workers).Msg("starting request dispatcher")
	go d.loop()
}

// Submit accepts a request for asynchronous processing and returns it with
// its job id set.
func (d *Dispatcher) Submit(req models.MediaRequest) (models.MediaRequest, error) {
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return req, ErrStopped
	}

	key := dedupeKey(req)
	if existing, loaded := d.inflight.LoadOrStore(key, req.JobID); loaded {
		d.log.Info().Str("job_id", existing).Int64("user_id", req.UserID).Msg("duplicate request ignored")
		req.JobID = existing
		return req, ErrDuplicate
	}

	d.track(req, StateAttempting, 0)
	select {
	case d.jobs <- req:
		return req, nil
	default:
		d.inflight.Delete(key)
		d.statuses.Delete(req.JobID)
		return req, ErrQueueFull
	}
}

// Status returns the last known state of a job. Entries expire an hour after
// their last update.
func (d *Dispatcher) Status(jobID string) (JobStatus, bool) {
	return d.statuses.Get(jobID)
}

func (d *Dispatcher) InFlight() int {
	return d.inflight.Size()
}

// Stop refuses new work and waits up to grace for running requests. Requests
// still running after that are cancelled.
func (d *Dispatcher) Stop(grace time.Duration) {
	d.stopOnce.Do(func() {
		d.log.Info().Msg("stopping request dispatcher")
		d.mu.Lock()
		d.stopped = true
		d.mu.Unlock()
		close(d.stop)

		select {
		case <-d.done:
		case <-time.After(grace):
			d.log.Warn().Int("in_flight", d.InFlight()).Msg("grace period elapsed, cancelling requests")
			d.cancel()
			<-d.done
		}
		d.cancel()
		d.log.Info().Msg("request dispatcher stopped")
	})
}

func (d *Dispatcher) loop() {
	defer close(d.done)

	p := pool.New().WithMaxGoroutines(d.workers)
	defer p.Wait()

	for {
		select {
		case <-d.stop:
			d.drain()
			return
		default:
		}

		select {
		case <-d.stop:
			d.drain()
			return
		case req := <-d.jobs:
			p.Go(func() {
				defer d.inflight.Delete(dedupeKey(req))
				d.sched.Run(d.ctx, req)
			})
		}
	}
}

// drain drops queued requests that never started.
func (d *Dispatcher) drain() {
	dropped := 0
	for {
		select {
		case req := <-d.jobs:
			d.inflight.Delete(dedupeKey(req))
			d.track(req, StateCancelled, 0)
			dropped++
		default:
			if dropped > 0 {
				d.log.Warn().Int("dropped", dropped).Msg("dropped queued requests on shutdown")
			}
			return
		}
	}
}

func (d *Dispatcher) track(req models.MediaRequest, st State, attempt int) {
	if req.JobID == "" {
		return
	}
	d.statuses.Set(req.JobID, JobStatus{
		JobID:     req.JobID,
		UserID:    req.UserID,
		URL:       req.URL,
		Platform:  req.Platform,
		State:     st,
		Attempt:   attempt,
		UpdatedAt: d.now(),
	})
}

func dedupeKey(req models.MediaRequest) string {
	return fmt.Sprintf("%d|%s", req.UserID, req.URL)
}
