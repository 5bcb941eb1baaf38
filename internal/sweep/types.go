package sweep

import (
	"context"
	"time"

	"devour/internal/purge"
	"devour/internal/retention"
	"devour/internal/task/engine"
)

// State is a channel's position in the sweep state machine:
//
//	Idle -> Sweeping -> Idle
//	Idle -> Sweeping -> Failed -> (next tick) Sweeping
type State int

const (
	Idle State = iota
	Sweeping
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sweeping:
		return "sweeping"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// FailureKind qualifies the Failed state.
type FailureKind int

const (
	NoFailure FailureKind = iota
	RetryableFailure
	PermanentFailure
)

func (k FailureKind) String() string {
	switch k {
	case RetryableFailure:
		return "retryable"
	case PermanentFailure:
		return "permanent"
	}
	return ""
}

// Submitter hands tasks to a bounded worker pool. Submit blocks while the
// queue is full.
type Submitter interface {
	Submit(ctx context.Context, t engine.Task) error
}

type Sweeper interface {
	Sweep(ctx context.Context, channelID string, cutoff time.Time) purge.Result
}

// PolicyStore is the part of retention.Store a sweep reads and records to.
type PolicyStore interface {
	Get(ctx context.Context, channelID string) (retention.Policy, bool, error)
	RecordSwept(ctx context.Context, channelID, policyID string, at time.Time) error
}

type SnapshotSource interface {
	Snapshot() *retention.Snapshot
}

// Alerter notifies operators. key identifies the condition for dedup.
type Alerter interface {
	Alert(ctx context.Context, key, text string)
}

// Observer receives sweep and tick results, e.g. for metrics.
type Observer interface {
	ObserveSweep(r purge.Result, attempt int)
	ObserveTick(r TickReport)
}

type Config struct {
	// Timeout is the wall-clock budget of one sweep.
	Timeout time.Duration
	// GuildConcurrency caps sweeps running at once in one guild. 0 is
	// unlimited.
	GuildConcurrency int
}

// TickReport summarizes one tick.
type TickReport struct {
	At             time.Time     `json:"at"`
	Policies       int           `json:"policies"`
	Dispatched     int           `json:"dispatched"`
	Skipped        int           `json:"skipped"`
	DispatchFailed int           `json:"dispatch_failed"`
	Collected      int           `json:"collected"`
	Duration       time.Duration `json:"duration"`
}

// ChannelStatus is a read-only view of one channel's sweep state.
type ChannelStatus struct {
	ChannelID    string      `json:"channel_id"`
	PolicyID     string      `json:"policy_id,omitempty"`
	State        State       `json:"-"`
	StateName    string      `json:"state"`
	Failure      FailureKind `json:"-"`
	FailureName  string      `json:"failure,omitempty"`
	Attempt      int         `json:"attempt"`
	LastStarted  time.Time   `json:"last_started,omitempty"`
	LastFinished time.Time   `json:"last_finished,omitempty"`
	LastOutcome  string      `json:"last_outcome,omitempty"`
	LastDeleted  int         `json:"last_deleted"`
	LastError    string      `json:"last_error,omitempty"`
}

// task is one dispatched sweep.
type task struct {
	channelID string
	guildID   string
	policyID  string
	cutoff    time.Time
	tickAt    time.Time
	attempt   int
	runID     uint64
}
