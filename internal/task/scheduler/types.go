package scheduler

import (
	"context"
	"sync"
	"time"

	"devour/internal/task/engine"
	logx "devour/pkg/logx"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"
)

type Config struct {
	Enabled  bool
	Timezone string // IANA name such as "Europe/Berlin"; empty means Local
}

// Enqueuer is the part of engine.Service the scheduler needs.
type Enqueuer interface {
	Enqueue(t engine.Task) error
}

// schedule is one registered job. state survives re-registration so a
// reload cannot start a second run while one is in flight.
type schedule struct {
	name    string
	spec    string // cron expression or "@every <dur>"
	every   time.Duration
	timeout time.Duration
	run     func(ctx context.Context) error
	state   *engine.RunState
	warn    *rate.Sometimes

	entry  cron.EntryID
	spread time.Duration
}

type Service struct {
	log    logx.Logger
	engine Enqueuer

	mu     sync.Mutex
	cfg    Config
	loc    *time.Location
	cron   *cron.Cron
	byName map[string]*schedule
	order  []string
}

type ScheduleInfo struct {
	Name          string        `json:"name"`
	Spec          string        `json:"spec"`
	Timeout       time.Duration `json:"timeout"`
	StartupSpread time.Duration `json:"startup_spread"`
	Running       bool          `json:"running"`
	Next          time.Time     `json:"next"`
	Prev          time.Time     `json:"prev"`
}

type Snapshot struct {
	Enabled   bool           `json:"enabled"`
	Started   bool           `json:"started"`
	Timezone  string         `json:"timezone"`
	Schedules []ScheduleInfo `json:"schedules"`
}
