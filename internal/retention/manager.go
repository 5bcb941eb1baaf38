package retention

import (
	"context"
	"strings"
	"time"

	"devour/internal/eventbus"
	logx "devour/pkg/logx"
)

// Canceler stops an in-flight sweep for a channel.
type Canceler interface {
	Cancel(channelID string) bool
}

// AuditEntry records an operator change to a policy.
type AuditEntry struct {
	At        time.Time `json:"at"`
	ActorID   string    `json:"actor_id,omitempty"`
	GuildID   string    `json:"guild_id,omitempty"`
	ChannelID string    `json:"channel_id"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
}

type Auditor interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
}

// ConfigureRequest is a create-or-update request from a command.
type ConfigureRequest struct {
	GuildID   string
	ChannelID string
	Amount    int64
	Unit      string
	ActorID   string
}

// Manager is the write path for policies: it persists through the Store and
// makes every change visible in the Cache before returning.
type Manager struct {
	store    Store
	cache    *Cache
	canceler Canceler
	audit    Auditor
	bus      eventbus.Bus
	log      logx.Logger
}

type ManagerOption func(*Manager)

func WithCanceler(c Canceler) ManagerOption { return func(m *Manager) { m.canceler = c } }
func WithAuditor(a Auditor) ManagerOption   { return func(m *Manager) { m.audit = a } }
func WithBus(b eventbus.Bus) ManagerOption  { return func(m *Manager) { m.bus = b } }

func NewManager(store Store, cache *Cache, log logx.Logger, opts ...ManagerOption) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Manager{store: store, cache: cache, log: log, bus: eventbus.Nop{}}
	for _, o := range opts {
		o(m)
	}
	return m
}

// SetCanceler wires the sweep scheduler after construction; the scheduler
// itself depends on the cache this manager refreshes.
func (m *Manager) SetCanceler(c Canceler) { m.canceler = c }

// Configure validates req, upserts the policy and refreshes the cache. An
// empty unit means DefaultUnit; the amount is taken as given and must be
// positive.
func (m *Manager) Configure(ctx context.Context, req ConfigureRequest) (Policy, error) {
	unit, err := ParseUnit(req.Unit)
	if err != nil {
		return Policy{}, err
	}
	d, err := ToDuration(req.Amount, unit)
	if err != nil {
		return Policy{}, err
	}
	p := Policy{
		GuildID:       strings.TrimSpace(req.GuildID),
		ChannelID:     strings.TrimSpace(req.ChannelID),
		InactiveAfter: d,
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}

	saved, err := m.store.Upsert(ctx, p)
	if err != nil {
		return Policy{}, err
	}
	m.refresh(ctx)
	m.log.Info("policy.configured",
		logx.String("channel", saved.ChannelID),
		logx.String("guild", saved.GuildID),
		logx.Duration("inactive_after", saved.InactiveAfter),
		logx.String("actor", req.ActorID),
	)
	m.bus.Publish(eventbus.Event{Type: eventbus.TypePolicyChanged, Time: saved.UpdatedAt, Data: saved})
	m.appendAudit(ctx, AuditEntry{
		ActorID:   req.ActorID,
		GuildID:   saved.GuildID,
		ChannelID: saved.ChannelID,
		Action:    "configure",
		Detail:    FormatDuration(saved.InactiveAfter),
	})
	return saved, nil
}

// Remove deletes the channel's policy and cancels any in-flight sweep.
func (m *Manager) Remove(ctx context.Context, channelID, actorID string) (bool, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return false, &ValidationError{Field: "channel_id", Reason: "required"}
	}
	removed, err := m.store.Remove(ctx, channelID)
	if err != nil {
		return false, err
	}
	if !removed {
		return false, nil
	}
	m.refresh(ctx)
	canceled := false
	if m.canceler != nil {
		canceled = m.canceler.Cancel(channelID)
	}
	m.log.Info("policy.removed", logx.String("channel", channelID), logx.Bool("sweep_canceled", canceled), logx.String("actor", actorID))
	m.bus.Publish(eventbus.Event{Type: eventbus.TypePolicyRemoved, Time: time.Now(), Data: channelID})
	m.appendAudit(ctx, AuditEntry{ActorID: actorID, ChannelID: channelID, Action: "remove"})
	return true, nil
}

func (m *Manager) Get(ctx context.Context, channelID string) (Policy, bool, error) {
	return m.store.Get(ctx, strings.TrimSpace(channelID))
}

func (m *Manager) List(ctx context.Context) ([]Policy, error) {
	return m.store.ListAll(ctx)
}

// refresh makes a write visible to the next tick. Failures are logged only;
// the periodic refresh catches up.
func (m *Manager) refresh(ctx context.Context) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Refresh(ctx); err != nil {
		m.log.Warn("policy.cache_refresh_failed", logx.Err(err))
	}
}

func (m *Manager) appendAudit(ctx context.Context, e AuditEntry) {
	if m.audit == nil {
		return
	}
	e.At = time.Now()
	if err := m.audit.AppendAudit(ctx, e); err != nil {
		m.log.Debug("audit append failed", logx.Err(err))
	}
}
