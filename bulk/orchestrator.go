package bulk

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/minios-linux/lokitd/apperr"
	"github.com/minios-linux/lokitd/logger"
)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("bulk: orchestrator closed")

// Options tune the orchestrator. Zero values pick defaults.
type Options struct {
	// TargetTimeout bounds each RunFunc call. Default: 5m.
	TargetTimeout time.Duration
	// Retention is how long terminal jobs stay readable. Default: 1h.
	Retention time.Duration
	// SweepInterval is how often expired jobs are reclaimed. Default: 1m.
	SweepInterval time.Duration
	// Now is the clock, for tests.
	Now func() time.Time
}

func (o *Options) defaults() {
	if o.TargetTimeout <= 0 {
		o.TargetTimeout = 5 * time.Minute
	}
	if o.Retention <= 0 {
		o.Retention = time.Hour
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Minute
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// handle is the registry record of one job. snap is only ever replaced,
// never mutated in place.
type handle struct {
	snap      atomic.Pointer[Job]
	cancelled atomic.Bool
	done      chan struct{}
}

// Orchestrator owns the job registry.
type Orchestrator struct {
	opts Options
	log  *logger.Logger

	mu     sync.RWMutex
	jobs   map[string]*handle
	closed bool

	root     context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup
	sweeping chan struct{}
}

// New starts an orchestrator and its retention sweeper.
func New(opts Options) *Orchestrator {
	opts.defaults()
	root, stop := context.WithCancel(context.Background())
	o := &Orchestrator{
		opts:     opts,
		log:      logger.Named("bulk"),
		jobs:     make(map[string]*handle),
		root:     root,
		stop:     stop,
		sweeping: make(chan struct{}),
	}
	go o.sweepLoop()
	return o
}

// Start registers a job over a fixed target list and returns its id at once.
// A job with no targets is recorded as failed.
func (o *Orchestrator) Start(ctx context.Context, kind string, targets []Target, run RunFunc) (string, error) {
	fixed := append([]Target(nil), targets...)
	return o.StartEnumerated(ctx, kind, func(context.Context) ([]Target, error) {
		if len(fixed) == 0 {
			return nil, errors.New("no targets")
		}
		return fixed, nil
	}, run)
}

// StartEnumerated registers a job whose targets are listed by enumerate
// inside the worker. An enumeration error fails the whole job.
func (o *Orchestrator) StartEnumerated(ctx context.Context, kind string, enumerate EnumerateFunc, run RunFunc) (string, error) {
	if enumerate == nil || run == nil {
		return "", apperr.Validationf("bulk.Start", "enumerate and run are required")
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return "", apperr.Wrap(err, apperr.KindOrchestratorFault, "bulk.Start: allocate job id")
	}

	h := &handle{done: make(chan struct{})}
	h.snap.Store(&Job{
		ID:        id.String(),
		Kind:      kind,
		Status:    StatusPending,
		Results:   []TargetResult{},
		ErrorLog:  []string{},
		CreatedAt: o.opts.Now(),
	})

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", ErrClosed
	}
	o.jobs[id.String()] = h
	o.wg.Add(1)
	o.mu.Unlock()

	// The worker outlives the request that started it but keeps its values.
	wctx := context.WithoutCancel(ctx)
	go o.work(wctx, h, enumerate, run)
	return id.String(), nil
}

func (o *Orchestrator) publish(h *handle, j *Job) {
	h.snap.Store(j.clone())
}

func (o *Orchestrator) work(ctx context.Context, h *handle, enumerate EnumerateFunc, run RunFunc) {
	defer o.wg.Done()
	defer close(h.done)

	job := h.snap.Load().clone()
	log := o.log.With().Str("job", job.ID).Str("kind", job.Kind).Logger()

	now := o.opts.Now()
	job.Status = StatusRunning
	job.StartedAt = &now
	o.publish(h, job)

	// Stop work on Close as well as on the caller's values.
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-o.root.Done():
			stop()
		case <-ctx.Done():
		}
	}()

	targets, err := o.enumerate(ctx, enumerate)
	if err != nil {
		job.ErrorLog = append(job.ErrorLog, err.Error())
		o.finish(h, job, StatusFailed)
		log.Error().Err(err).Msg("job failed")
		return
	}
	job.TotalCount = len(targets)
	o.publish(h, job)
	log.Info().Int("targets", len(targets)).Msg("job started")

	for i, t := range targets {
		if h.cancelled.Load() || ctx.Err() != nil {
			for _, rest := range targets[i:] {
				job.Results = append(job.Results, TargetResult{TargetID: rest.Key(), Skipped: true, Error: "cancelled"})
			}
			job.CurrentTarget = ""
			o.finish(h, job, StatusCancelled)
			log.Info().Int("processed", job.ProcessedCount).Msg("job cancelled")
			return
		}

		job.CurrentTarget = t.Key()
		o.publish(h, job)

		n, err := o.runTarget(ctx, t, run)
		res := TargetResult{TargetID: t.Key(), EntriesCount: n, Success: err == nil}
		if err != nil {
			res.Error = err.Error()
			job.ErrorLog = append(job.ErrorLog, fmt.Sprintf("%s: %v", t.Key(), err))
			log.Warn().Err(err).Str("target", t.Key()).Msg("target failed")
		}
		job.Results = append(job.Results, res)
		job.ProcessedCount++
		job.setProgress()
		o.publish(h, job)
	}

	job.CurrentTarget = ""
	o.finish(h, job, StatusCompleted)
	log.Info().Int("processed", job.ProcessedCount).Int("failed", job.Failed()).Msg("job completed")
}

func (o *Orchestrator) enumerate(ctx context.Context, enumerate EnumerateFunc) (targets []Target, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("enumerate panicked: %v", r)
		}
		if err != nil {
			err = apperr.Wrap(err, apperr.KindOrchestratorFault, "bulk: enumerate targets")
		}
	}()
	targets, err = enumerate(ctx)
	if err == nil && len(targets) == 0 {
		err = errors.New("no targets")
	}
	return targets, err
}

type unitResult struct {
	n   int
	err error
}

// runTarget calls run with the per-target timeout. A RunFunc that ignores
// its context is abandoned when the timeout fires.
func (o *Orchestrator) runTarget(ctx context.Context, t Target, run RunFunc) (int, error) {
	tctx, cancel := context.WithTimeout(ctx, o.opts.TargetTimeout)
	defer cancel()

	ch := make(chan unitResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- unitResult{err: fmt.Errorf("target panicked: %v", r)}
			}
		}()
		n, err := run(tctx, t)
		ch <- unitResult{n: n, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return r.n, fmt.Errorf("timed out after %v: %w", o.opts.TargetTimeout, r.err)
		}
		return r.n, r.err
	case <-tctx.Done():
		return 0, fmt.Errorf("timed out after %v: %w", o.opts.TargetTimeout, tctx.Err())
	}
}

func (o *Orchestrator) finish(h *handle, job *Job, s Status) {
	now := o.opts.Now()
	job.Status = s
	job.FinishedAt = &now
	o.publish(h, job)
}

func (o *Orchestrator) get(id string) (*handle, error) {
	o.mu.RLock()
	h, ok := o.jobs[id]
	o.mu.RUnlock()
	if !ok {
		return nil, apperr.NotFoundf("bulk", "job %q not found", id)
	}
	return h, nil
}

// Status returns the latest snapshot. It never waits for the worker.
func (o *Orchestrator) Status(id string) (Job, error) {
	h, err := o.get(id)
	if err != nil {
		return Job{}, err
	}
	return *h.snap.Load().clone(), nil
}

// Cancel asks the worker to stop before its next target. The target in
// flight is allowed to finish. Cancelling a finished job is a no-op.
func (o *Orchestrator) Cancel(id string) error {
	h, err := o.get(id)
	if err != nil {
		return err
	}
	if !h.snap.Load().Status.Terminal() {
		h.cancelled.Store(true)
	}
	return nil
}

// Wait blocks until the job reaches a terminal state or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context, id string) (Job, error) {
	h, err := o.get(id)
	if err != nil {
		return Job{}, err
	}
	select {
	case <-h.done:
		return *h.snap.Load().clone(), nil
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// Ack reclaims a terminal job. It reports whether the job was removed.
func (o *Orchestrator) Ack(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	h, ok := o.jobs[id]
	if !ok || !h.snap.Load().Status.Terminal() {
		return false
	}
	delete(o.jobs, id)
	return true
}

// List returns snapshots of all live jobs, newest first.
func (o *Orchestrator) List() []Job {
	o.mu.RLock()
	out := make([]Job, 0, len(o.jobs))
	for _, h := range o.jobs {
		out = append(out, *h.snap.Load().clone())
	}
	o.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Sweep removes terminal jobs older than the retention window and returns
// how many were removed.
func (o *Orchestrator) Sweep() int {
	cutoff := o.opts.Now().Add(-o.opts.Retention)
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for id, h := range o.jobs {
		j := h.snap.Load()
		if j.Status.Terminal() && j.FinishedAt != nil && j.FinishedAt.Before(cutoff) {
			delete(o.jobs, id)
			n++
		}
	}
	return n
}

func (o *Orchestrator) sweepLoop() {
	defer close(o.sweeping)
	ticker := time.NewTicker(o.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.root.Done():
			return
		case <-ticker.C:
			if n := o.Sweep(); n > 0 {
				o.log.Debug().Int("reclaimed", n).Msg("swept expired jobs")
			}
		}
	}
}

// Close stops the sweeper, signals running workers and waits for them.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	o.stop()
	<-o.sweeping
	o.wg.Wait()
}
