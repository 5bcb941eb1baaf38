// Package sweep runs retention ticks.
//
// Each tick reads one policy snapshot and dispatches at most one sweep per
// channel to a bounded worker pool. A channel stays Sweeping until its sweep
// finishes, so ticks that fire faster than a sweep completes skip it instead
// of starting a second one.
package sweep
