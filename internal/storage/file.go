package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"devour/internal/retention"
	logx "devour/pkg/logx"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// fileStore is a dependency-free backend.
//
// Files:
//   - <prefix>.policies.snapshot.json / <prefix>.policies.journal.jsonl
//   - <prefix>.dedup.snapshot.json    / <prefix>.dedup.journal.jsonl
//   - <prefix>.audit.jsonl (append-only)
//
// Journals are compacted into their snapshots periodically and on Close.
type fileStore struct {
	log logx.Logger
	now func() time.Time

	mu sync.Mutex

	policies map[string]filePolicy
	polJ     *journal

	dedup  map[string]int64
	dedupJ *journal

	auditFile *os.File
}

type filePolicy struct {
	ID              string `json:"id"`
	GuildID         string `json:"guild_id"`
	ChannelID       string `json:"channel_id"`
	InactiveAfterMS int64  `json:"inactive_after_ms"`
	LastSweptAt     *int64 `json:"last_swept_at,omitempty"`
	CreatedAt       int64  `json:"created_at"`
	UpdatedAt       int64  `json:"updated_at"`
}

func (fp filePolicy) policy() retention.Policy {
	p := retention.Policy{
		ID:            fp.ID,
		GuildID:       fp.GuildID,
		ChannelID:     fp.ChannelID,
		InactiveAfter: time.Duration(fp.InactiveAfterMS) * time.Millisecond,
		CreatedAt:     time.UnixMilli(fp.CreatedAt).UTC(),
		UpdatedAt:     time.UnixMilli(fp.UpdatedAt).UTC(),
	}
	if fp.LastSweptAt != nil {
		t := time.UnixMilli(*fp.LastSweptAt).UTC()
		p.LastSweptAt = &t
	}
	return p
}

type policyRecord struct {
	Op        string      `json:"op"` // "put" or "del"
	Policy    *filePolicy `json:"policy,omitempty"`
	ChannelID string      `json:"channel_id,omitempty"`
}

type dedupRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

const (
	policyCompactEvery = 200
	dedupCompactEvery  = 1000
)

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for the file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create storage dir")
	}

	s := &fileStore{log: log, now: time.Now, policies: map[string]filePolicy{}, dedup: map[string]int64{}}

	polSnap, polJournal := prefix+".policies.snapshot.json", prefix+".policies.journal.jsonl"
	if err := loadSnapshot(polSnap, &s.policies); err != nil {
		return nil, errors.Wrap(err, "load policy snapshot")
	}
	if s.policies == nil {
		s.policies = map[string]filePolicy{}
	}
	if err := replay(polJournal, s.applyPolicy); err != nil {
		return nil, errors.Wrap(err, "replay policy journal")
	}

	dedupSnap, dedupJournal := prefix+".dedup.snapshot.json", prefix+".dedup.journal.jsonl"
	if err := loadSnapshot(dedupSnap, &s.dedup); err != nil {
		log.Warn("dedup snapshot unreadable; starting empty", logx.Err(err))
	}
	if s.dedup == nil {
		s.dedup = map[string]int64{}
	}
	_ = replay(dedupJournal, func(r dedupRecord) {
		if r.Key != "" {
			s.dedup[r.Key] = r.Until
		}
	})
	s.pruneDedupLocked()

	var err error
	if s.polJ, err = openJournal(polSnap, polJournal, policyCompactEvery, true); err != nil {
		return nil, err
	}
	if s.dedupJ, err = openJournal(dedupSnap, dedupJournal, dedupCompactEvery, false); err != nil {
		_ = s.polJ.close()
		return nil, err
	}
	if s.auditFile, err = os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600); err != nil {
		_ = s.polJ.close()
		_ = s.dedupJ.close()
		return nil, errors.Wrap(err, "open audit log")
	}

	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("policies", len(s.policies)))
	return s, nil
}

func (s *fileStore) applyPolicy(r policyRecord) {
	switch r.Op {
	case "put":
		if r.Policy != nil && r.Policy.ChannelID != "" {
			s.policies[r.Policy.ChannelID] = *r.Policy
		}
	case "del":
		delete(s.policies, r.ChannelID)
	}
}

func (s *fileStore) Driver() string { return "file" }

func (s *fileStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.polJ == nil || s.polJ.f == nil {
		return ErrClosed
	}
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.polJ != nil && s.polJ.f != nil {
		if err := s.polJ.compact(s.policies); err != nil {
			errs = append(errs, err)
		}
	}
	if s.dedupJ != nil && s.dedupJ.f != nil {
		s.pruneDedupLocked()
		if err := s.dedupJ.compact(s.dedup); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, s.polJ.close(), s.dedupJ.close())
	if s.auditFile != nil {
		errs = append(errs, s.auditFile.Close())
		s.auditFile = nil
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// writePolicyLocked journals rec, applies it and compacts when due. State is
// only changed after the record is durable.
func (s *fileStore) writePolicyLocked(rec policyRecord) error {
	compact, err := s.polJ.append(rec)
	if err != nil {
		return err
	}
	s.applyPolicy(rec)
	if compact {
		if err := s.polJ.compact(s.policies); err != nil {
			s.log.Warn("policy journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) Upsert(_ context.Context, p retention.Policy) (retention.Policy, error) {
	if err := p.Validate(); err != nil {
		return retention.Policy{}, err
	}
	ms := p.InactiveAfter.Milliseconds()
	if ms <= 0 {
		return retention.Policy{}, &retention.ValidationError{Field: "inactive_after", Reason: "must be at least 1ms"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UnixMilli()
	fp, ok := s.policies[p.ChannelID]
	if !ok {
		fp = filePolicy{ID: uuid.NewString(), ChannelID: p.ChannelID, CreatedAt: now}
	}
	fp.GuildID = p.GuildID
	fp.InactiveAfterMS = ms
	fp.UpdatedAt = now
	if err := s.writePolicyLocked(policyRecord{Op: "put", Policy: &fp}); err != nil {
		return retention.Policy{}, errors.Wrapf(err, "upsert policy for channel %s", p.ChannelID)
	}
	return fp.policy(), nil
}

func (s *fileStore) Remove(_ context.Context, channelID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[channelID]; !ok {
		return false, nil
	}
	if err := s.writePolicyLocked(policyRecord{Op: "del", ChannelID: channelID}); err != nil {
		return false, errors.Wrapf(err, "remove policy for channel %s", channelID)
	}
	return true, nil
}

func (s *fileStore) Get(_ context.Context, channelID string) (retention.Policy, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fp, ok := s.policies[channelID]
	if !ok {
		return retention.Policy{}, false, nil
	}
	return fp.policy(), true, nil
}

func (s *fileStore) ListAll(context.Context) ([]retention.Policy, error) {
	s.mu.Lock()
	out := make([]retention.Policy, 0, len(s.policies))
	for _, fp := range s.policies {
		out = append(out, fp.policy())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out, nil
}

func (s *fileStore) RecordSwept(_ context.Context, channelID, policyID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fp, ok := s.policies[channelID]
	if !ok || (policyID != "" && fp.ID != policyID) {
		return nil
	}
	ms := at.UnixMilli()
	if fp.LastSweptAt != nil && *fp.LastSweptAt >= ms {
		return nil
	}
	fp.LastSweptAt = &ms
	if err := s.writePolicyLocked(policyRecord{Op: "put", Policy: &fp}); err != nil {
		return errors.Wrapf(err, "record sweep for channel %s", channelID)
	}
	return nil
}

func (s *fileStore) AppendAudit(_ context.Context, e retention.AuditEntry) error {
	if e.At.IsZero() {
		e.At = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) PutDedup(_ context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()
	s.mu.Lock()
	defer s.mu.Unlock()
	compact, err := s.dedupJ.append(dedupRecord{Key: key, Until: ms})
	if err != nil {
		return err
	}
	s.dedup[key] = ms
	if compact {
		s.pruneDedupLocked()
		if err := s.dedupJ.compact(s.dedup); err != nil {
			s.log.Debug("dedup compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) pruneDedupLocked() {
	now := s.now().UnixMilli()
	for k, v := range s.dedup {
		if v < now {
			delete(s.dedup, k)
		}
	}
}
