package app

import (
	"context"
	"errors"
	"time"

	"devour/internal/notifier"
	rtsup "devour/internal/runtime/supervisor"
	"devour/internal/sweep"
	"devour/internal/task/engine"
	"devour/internal/task/scheduler"
)

var errGatewayDown = errors.New("discord gateway not connected")

// Status is the document served at /status.
type Status struct {
	Version   string    `json:"version,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Gateway   bool      `json:"gateway_connected"`
	Storage   string    `json:"storage"`

	Policies       int       `json:"policies"`
	CacheLoadedAt  time.Time `json:"cache_loaded_at"`
	CacheError     string    `json:"cache_error,omitempty"`
	CacheErrorTime time.Time `json:"cache_error_at,omitempty"`

	LastTick  *sweep.TickReport      `json:"last_tick,omitempty"`
	Channels  []sweep.ChannelStatus  `json:"channels"`
	Engines   []engine.Snapshot      `json:"engines"`
	Scheduler scheduler.Snapshot     `json:"scheduler"`
	Alerts    []notifier.HistoryItem `json:"alerts,omitempty"`

	Supervisor *rtsup.Snapshot `json:"supervisor,omitempty"`
}

// ready backs /readyz: the gateway is connected and the store answers.
func (a *App) ready(ctx context.Context) error {
	if !a.gateway.Ready() {
		return errGatewayDown
	}
	return a.store.Ping(ctx)
}

func (a *App) status(context.Context) any {
	snap := a.cache.Snapshot()
	st := Status{
		Version:       a.version,
		StartedAt:     a.started,
		Gateway:       a.gateway.Ready(),
		Storage:       a.store.Driver(),
		Policies:      snap.Len(),
		CacheLoadedAt: snap.LoadedAt(),
		Channels:      a.sweeper.Status(),
		Engines:       []engine.Snapshot{a.tasks.Snapshot(), a.sweeps.Snapshot()},
		Scheduler:     a.sched.Snapshot(),
		Alerts:        a.notif.History(),
	}
	if at, err := a.cache.LastRefreshError(); err != nil {
		st.CacheError = err.Error()
		st.CacheErrorTime = at
	}
	if t, ok := a.sweeper.LastTick(); ok {
		st.LastTick = &t
	}
	if a.sup != nil {
		s := a.sup.Snapshot()
		st.Supervisor = &s
	}
	return st
}
