// Package base provides a small embeddable status tracker for scheduler
// jobs: embed a base struct for cross-cutting bookkeeping (last run time,
// last error, run count) instead of duplicating it per job.
package base

import (
	"sync"
	"time"
)

// JobBase tracks the last run outcome of a job. Jobs embed this to get
// LastRun()/LastErr() for free without each job managing its own lock.
type JobBase struct {
	mu      sync.Mutex
	lastRun time.Time
	lastErr error
}

// RecordRun stores the outcome of a completed run.
func (j *JobBase) RecordRun(at time.Time, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.lastRun = at
	j.lastErr = err
}

// LastRun returns when this job last completed, the zero time if never run.
func (j *JobBase) LastRun() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastRun
}

// LastErr returns the error from the last run, nil if it succeeded or never ran.
func (j *JobBase) LastErr() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastErr
}
