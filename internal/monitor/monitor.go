// Package monitor waits for remote jobs to reach a terminal status.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/granuleflow/internal/jobqueue"
	"github.com/Lllllllleong/granuleflow/internal/models"
)

// JobFailedError reports a job the executor declared failed, or one it no
// longer knows about.
type JobFailedError struct {
	JobID      string
	Kind       models.JobKind
	LastStatus models.JobStatus
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("%s job %s failed with status %s", e.Kind, e.JobID, e.LastStatus)
}

// JobTimeoutError reports a job still non-terminal when the wait budget ran out.
type JobTimeoutError struct {
	JobID      string
	Kind       models.JobKind
	LastStatus models.JobStatus
	Waited     time.Duration
}

func (e *JobTimeoutError) Error() string {
	return fmt.Sprintf("%s job %s still %s after %s", e.Kind, e.JobID, e.LastStatus, e.Waited)
}

// Clock abstracts time so tests can drive the backoff schedule.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Observer is told about every status observed while waiting.
type Observer func(h jobqueue.Handle, status models.JobStatus)

// Monitor polls one job at a time. A single Monitor is safe for concurrent
// Await calls.
type Monitor struct {
	client         jobqueue.Client
	clock          Clock
	initialBackoff time.Duration
	logger         *slog.Logger
	observer       Observer
}

type Option func(*Monitor)

func WithClock(c Clock) Option { return func(m *Monitor) { m.clock = c } }

// WithInitialBackoff sets the first sleep between polls (default 1s).
func WithInitialBackoff(d time.Duration) Option {
	return func(m *Monitor) { m.initialBackoff = d }
}

func WithLogger(l *slog.Logger) Option { return func(m *Monitor) { m.logger = l } }

func WithObserver(o Observer) Option { return func(m *Monitor) { m.observer = o } }

func New(client jobqueue.Client, opts ...Option) *Monitor {
	m := &Monitor{
		client:         client,
		clock:          realClock{},
		initialBackoff: time.Second,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Interval returns the n-th sleep of the schedule: min(initial*2^n, max).
func Interval(initial, max time.Duration, n int) time.Duration {
	if initial <= 0 {
		return 0
	}
	if initial >= max {
		return max
	}
	d := initial
	for i := 0; i < n; i++ {
		if d > max/2 {
			return max
		}
		d *= 2
	}
	if d > max {
		return max
	}
	return d
}

// Await polls h until it is terminal. It polls immediately and then sleeps
// on the Interval schedule. Transient poll errors are retried on the same
// schedule without resetting the deadline. FAILED and UNKNOWN return a
// *JobFailedError at once; running past maxWait returns a *JobTimeoutError.
func (m *Monitor) Await(ctx context.Context, h jobqueue.Handle, maxWait, maxBackoff time.Duration) (models.JobStatus, error) {
	logCtx := m.logger.With("jobId", h.ID, "kind", h.Kind)
	start := m.clock.Now()
	deadline := start.Add(maxWait)
	last := models.JobStatusAccepted

	for attempt := 0; ; attempt++ {
		status, err := m.client.Poll(ctx, h)
		if err != nil {
			var transient *jobqueue.TransientPollError
			if !errors.As(err, &transient) {
				return last, fmt.Errorf("failed to poll job %s: %w", h.ID, err)
			}
			logCtx.Warn("Transient poll error, retrying.", "error", err, "attempt", attempt)
		} else {
			last = status
			if m.observer != nil {
				m.observer(h, status)
			}
			switch status {
			case models.JobStatusSucceeded:
				logCtx.Info("Job succeeded.", "elapsed", m.clock.Now().Sub(start))
				return status, nil
			case models.JobStatusFailed, models.JobStatusUnknown:
				logCtx.Error("Job did not succeed.", "status", status)
				return status, &JobFailedError{JobID: h.ID, Kind: h.Kind, LastStatus: status}
			}
		}

		remaining := deadline.Sub(m.clock.Now())
		if remaining <= 0 {
			logCtx.Error("Job exceeded its wait budget.", "status", last, "maxWait", maxWait)
			return last, &JobTimeoutError{JobID: h.ID, Kind: h.Kind, LastStatus: last, Waited: maxWait}
		}
		sleep := Interval(m.initialBackoff, maxBackoff, attempt)
		if sleep > remaining {
			sleep = remaining
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-m.clock.After(sleep):
		}
	}
}
