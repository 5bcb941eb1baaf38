package engine

import (
	"context"
	"sync/atomic"
	"time"
)

// Config controls one engine instance.
//
// devour runs two instances: "tasks" executes scheduler triggers (tick,
// cache refresh) and "sweep" executes per-channel sweeps. Workers is the hard
// cap on concurrently running tasks; QueueSize bounds what may wait.
type Config struct {
	Name      string
	Enabled   bool
	Workers   int
	QueueSize int

	// DefaultTimeout is used when Task.Timeout is 0.
	DefaultTimeout time.Duration

	// MaxQueueDelay drops tasks that waited longer than this before a worker
	// picked them up. 0 disables stale dropping.
	MaxQueueDelay time.Duration

	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "tasks"
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

type OverlapPolicy int

const (
	OverlapAllow OverlapPolicy = iota
	// OverlapSkipIfRunning skips a task while another with the same State is
	// running or queued.
	OverlapSkipIfRunning
)

// RunState marks a task as queued or running. The zero value is idle.
type RunState struct{ busy atomic.Bool }

func (s *RunState) tryAcquire() bool { return s == nil || s.busy.CompareAndSwap(false, true) }

func (s *RunState) release() {
	if s != nil {
		s.busy.Store(false)
	}
}

// Running reports whether a task holding this state is queued or running.
func (s *RunState) Running() bool { return s != nil && s.busy.Load() }

// Task is one unit of work. OnDrop, when set, is called at most once in
// place of Run if an accepted task is discarded before a worker runs it.
type Task struct {
	ID      string
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
	OnDrop  func(reason error)
	Overlap OverlapPolicy
	State   *RunState
}

type HistoryItem struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// TaskEvent is the payload of the task.* bus events.
type TaskEvent struct {
	Engine     string        `json:"engine"`
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// Snapshot feeds /status and the engine gauges.
type Snapshot struct {
	Name     string `json:"name"`
	Enabled  bool   `json:"enabled"`
	Running  bool   `json:"running"`
	Workers  int    `json:"workers"`
	InFlight int    `json:"in_flight"`
	QueueLen int    `json:"queue_len"`
	QueueCap int    `json:"queue_cap"`

	Dropped          uint64 `json:"dropped"`
	DroppedQueueFull uint64 `json:"dropped_queue_full"`
	DroppedStale     uint64 `json:"dropped_stale"`

	DefaultTimeout time.Duration `json:"default_timeout"`
	MaxQueueDelay  time.Duration `json:"max_queue_delay"`

	History []HistoryItem `json:"history,omitempty"`
}
