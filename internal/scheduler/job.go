// Package scheduler drives AShareInsight's periodic background job: a
// cron-triggered replay of the market-data sync, run through the Job
// interface (Name()/Run()) with last-run bookkeeping from base.JobBase,
// rather than an ad-hoc ticker loop.
package scheduler

import "context"

// Job is a schedulable unit of work. Name identifies it in logs and in the
// cron registration; Run performs the work and is expected to be idempotent
// since cron may fire a missed tick more than once after a restart.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}
