package cron

import (
	"context"
	"fmt"
	"time"
)

// Job represents a scheduled task that runs inside the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type entry struct {
	job     Job
	every   time.Duration
	lastRun time.Time
}

// Registry holds the jobs and how often each one should run. A job with no
// cadence runs on every cycle.
type Registry struct {
	entries []*entry
	byName  map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{byName: map[string]*entry{}}
}

// Register adds a job that runs on every cycle.
func (r *Registry) Register(job Job) error {
	return r.RegisterEvery(job, 0)
}

// RegisterEvery adds a job that runs at most once per every. Job names must
// be unique since metrics and logs are keyed by them.
func (r *Registry) RegisterEvery(job Job, every time.Duration) error {
	if job == nil {
		return fmt.Errorf("job required")
	}
	name := job.Name()
	if _, dup := r.byName[name]; dup {
		return fmt.Errorf("job %q already registered", name)
	}
	e := &entry{job: job, every: every}
	r.entries = append(r.entries, e)
	r.byName[name] = e
	return nil
}

// Due returns the jobs whose cadence has elapsed at now, in registration order.
func (r *Registry) Due(now time.Time) []Job {
	jobs := make([]Job, 0, len(r.entries))
	for _, e := range r.entries {
		if e.every <= 0 || e.lastRun.IsZero() || now.Sub(e.lastRun) >= e.every {
			jobs = append(jobs, e.job)
		}
	}
	return jobs
}

// MarkRun records a successful run. Failed jobs stay due.
func (r *Registry) MarkRun(name string, at time.Time) {
	if e, ok := r.byName[name]; ok {
		e.lastRun = at
	}
}

// Len reports how many jobs are registered.
func (r *Registry) Len() int { return len(r.entries) }
