package cron

import (
	"context"
	"time"
)

// Job represents a scheduled task that runs inside the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// dueJob is implemented by jobs on a slower cadence than the cron tick.
type dueJob interface {
	Due(now time.Time) bool
}

// Registry tracks registered cron jobs.
type Registry struct {
	jobs []Job
}

// NewRegistry builds a registry preloaded with the provided jobs.
func NewRegistry(jobs ...Job) *Registry {
	registry := &Registry{}
	for _, job := range jobs {
		registry.Register(job)
	}
	return registry
}

// Register adds a job to the registry.
func (r *Registry) Register(job Job) {
	if job == nil {
		return
	}
	r.jobs = append(r.jobs, job)
}

// Jobs returns the registered jobs in the order they were added.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, len(r.jobs))
	copy(jobs, r.jobs)
	return jobs
}

// Every wraps job so it runs at most once per interval. The first tick
// always runs it; a failed run still counts as the last run.
func Every(job Job, interval time.Duration) Job {
	if job == nil || interval <= 0 {
		return job
	}
	return &everyJob{Job: job, interval: interval}
}

type everyJob struct {
	Job
	interval time.Duration
	lastRun  time.Time
}

func (e *everyJob) Due(now time.Time) bool {
	if !e.lastRun.IsZero() && now.Sub(e.lastRun) < e.interval {
		return false
	}
	e.lastRun = now
	return true
}
