// Package scheduler runs a job on a fixed interval in-process. It stands in
// for an external cron: each tick is one dispatch batch.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Job is one unit of periodic work. A returned error is recorded and logged;
// the scheduler keeps ticking.
type Job func(ctx context.Context) error

type Status struct {
	Running   bool       `json:"running"`
	Interval  string     `json:"interval"`
	Runs      int64      `json:"runs"`
	LastRunAt *time.Time `json:"lastRunAt,omitempty"`
	LastError string     `json:"lastError,omitempty"`
}

type Scheduler struct {
	interval time.Duration
	timeout  time.Duration
	job      Job

	running atomic.Bool
	runs    atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	lastMu    sync.Mutex
	lastRunAt time.Time
	lastErr   error
}

// New returns a stopped scheduler. Each tick is bounded by the interval
// unless WithTimeout raises the bound. Ticks never overlap; a tick that
// overruns the interval delays the next one.
func New(interval time.Duration, job Job) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if job == nil {
		return nil, errors.New("job must not be nil")
	}
	return &Scheduler{
		interval: interval,
		timeout:  interval,
		job:      job,
		done:     make(chan struct{}),
	}, nil
}

// WithTimeout raises the per-tick bound to d. It never drops below the
// interval. Call before Start.
func (s *Scheduler) WithTimeout(d time.Duration) *Scheduler {
	if d > s.timeout {
		s.timeout = d
	}
	return s
}

func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		slog.Info("dispatch scheduler started", "interval", s.interval.String())

		s.safeTick(ctx)

		for {
			select {
			case <-ctx.Done():
				slog.Info("dispatch scheduler stopping")
				return
			case <-ticker.C:
				s.safeTick(ctx)
			}
		}
	}()

	return true
}

// Stop cancels the running tick and waits for it to return.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	slog.Info("dispatch scheduler stopped", "runs", s.runs.Load())
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) Status() Status {
	st := Status{
		Running:  s.running.Load(),
		Interval: s.interval.String(),
		Runs:     s.runs.Load(),
	}

	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	if !s.lastRunAt.IsZero() {
		at := s.lastRunAt
		st.LastRunAt = &at
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

func (s *Scheduler) safeTick(ctx context.Context) {
	start := time.Now()
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			slog.Error("dispatch tick panic recovered", "panic", r)
		}
		s.record(start, err)
	}()

	tickCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err = s.job(tickCtx)
	if err != nil {
		slog.Error("dispatch tick failed", "err", err, "duration_ms", time.Since(start).Milliseconds())
		return
	}
	slog.Debug("dispatch tick completed", "duration_ms", time.Since(start).Milliseconds())
}

func (s *Scheduler) record(at time.Time, err error) {
	s.runs.Add(1)

	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	s.lastRunAt = at.UTC()
	s.lastErr = err
}
