// Package scheduler registers named schedules (cron or fixed interval) and,
// on every trigger, enqueues the job into a task engine. It never runs jobs
// itself. Every schedule is skip-if-running: a trigger that fires while the
// previous run is queued or in flight is dropped.
package scheduler
