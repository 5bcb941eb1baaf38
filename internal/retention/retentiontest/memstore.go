// Package retentiontest provides an in-memory retention.Store for tests.
package retentiontest

import (
	"context"
	"sort"
	"sync"
	"time"

	"devour/internal/retention"

	"github.com/google/uuid"
)

// MemStore is a retention.Store backed by a map. Set the Fail* fields to
// inject errors.
type MemStore struct {
	mu       sync.Mutex
	policies map[string]retention.Policy
	now      func() time.Time

	FailGet    error
	FailList   error
	FailRecord error

	Upserts  int
	Recorded []Record
}

// Record is one RecordSwept call that changed state.
type Record struct {
	ChannelID string
	PolicyID  string
	At        time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{policies: map[string]retention.Policy{}, now: time.Now}
}

// SetNow overrides the clock used for CreatedAt/UpdatedAt.
func (s *MemStore) SetNow(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *MemStore) Upsert(_ context.Context, p retention.Policy) (retention.Policy, error) {
	if err := p.Validate(); err != nil {
		return retention.Policy{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Upserts++
	now := s.now().UTC()
	if cur, ok := s.policies[p.ChannelID]; ok {
		cur.GuildID = p.GuildID
		cur.InactiveAfter = p.InactiveAfter
		cur.UpdatedAt = now
		s.policies[p.ChannelID] = cur
		return clone(cur), nil
	}
	p.ID = uuid.NewString()
	p.LastSweptAt = nil
	p.CreatedAt, p.UpdatedAt = now, now
	s.policies[p.ChannelID] = p
	return clone(p), nil
}

func (s *MemStore) Remove(_ context.Context, channelID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.policies[channelID]
	delete(s.policies, channelID)
	return ok, nil
}

func (s *MemStore) Get(_ context.Context, channelID string) (retention.Policy, bool, error) {
	if s.FailGet != nil {
		return retention.Policy{}, false, s.FailGet
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.policies[channelID]
	return clone(p), ok, nil
}

func (s *MemStore) ListAll(context.Context) ([]retention.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailList != nil {
		return nil, s.FailList
	}
	out := make([]retention.Policy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, clone(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out, nil
}

func (s *MemStore) RecordSwept(_ context.Context, channelID, policyID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailRecord != nil {
		return s.FailRecord
	}
	p, ok := s.policies[channelID]
	if !ok || (policyID != "" && p.ID != policyID) {
		return nil
	}
	if p.LastSweptAt != nil && !p.LastSweptAt.Before(at) {
		return nil
	}
	t := at.UTC()
	p.LastSweptAt = &t
	s.policies[channelID] = p
	s.Recorded = append(s.Recorded, Record{ChannelID: channelID, PolicyID: policyID, At: t})
	return nil
}

func (s *MemStore) Close() error { return nil }

func clone(p retention.Policy) retention.Policy {
	if p.LastSweptAt != nil {
		t := *p.LastSweptAt
		p.LastSweptAt = &t
	}
	return p
}
