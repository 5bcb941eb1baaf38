// Package purgetest provides an in-memory purge.MessageAPI.
package purgetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"devour/internal/purge"
)

// FakeAPI keeps messages per channel in memory. Message ids are zero-padded
// nanosecond timestamps, so string order is time order.
type FakeAPI struct {
	mu       sync.Mutex
	channels map[string][]purge.Message // oldest first
	seq      int64

	// Now is the clock used for the bulk window check.
	Now func() time.Time
	// BulkWindow rejects bulk deletes with purge.ErrBulkTooOld when any id is
	// older than this. Zero disables the check.
	BulkWindow time.Duration

	// Hooks run before the operation; a non-nil error is returned instead.
	OnList   func(ctx context.Context, channelID, before string) error
	OnDelete func(ctx context.Context, channelID, id string) error
	OnBulk   func(ctx context.Context, channelID string, ids []string) error

	ListCalls   int
	DeleteCalls int
	BulkCalls   [][]string
	deleted     map[string]int
}

func NewFakeAPI() *FakeAPI {
	return &FakeAPI{channels: map[string][]purge.Message{}, deleted: map[string]int{}, Now: time.Now}
}

// ID returns the message id for ts (without a collision suffix).
func ID(ts time.Time, seq int64) string {
	return fmt.Sprintf("%020d%06d", ts.UnixNano(), seq)
}

// Add stores a message with timestamp ts and returns its id.
func (f *FakeAPI) Add(channelID string, ts time.Time, pinned bool) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	m := purge.Message{ID: ID(ts, f.seq), Timestamp: ts, Pinned: pinned}
	msgs := append(f.channels[channelID], m)
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })
	f.channels[channelID] = msgs
	return m.ID
}

// Messages returns the remaining messages of a channel, oldest first.
func (f *FakeAPI) Messages(channelID string) []purge.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]purge.Message(nil), f.channels[channelID]...)
}

// DeletedTimes reports how many times id was deleted (should be 0 or 1).
func (f *FakeAPI) DeletedTimes(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleted[id]
}

// TotalDeletes counts delete attempts that removed a message.
func (f *FakeAPI) TotalDeletes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.deleted {
		n += c
	}
	return n
}

func (f *FakeAPI) ListMessagesBefore(ctx context.Context, channelID, before string, limit int) ([]purge.Message, error) {
	if f.OnList != nil {
		if err := f.OnList(ctx, channelID, before); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListCalls++
	msgs := f.channels[channelID]
	var out []purge.Message
	for i := len(msgs) - 1; i >= 0 && len(out) < limit; i-- {
		if before != "" && msgs[i].ID >= before {
			continue
		}
		out = append(out, msgs[i])
	}
	return out, nil
}

func (f *FakeAPI) DeleteMessage(ctx context.Context, channelID, id string) error {
	if f.OnDelete != nil {
		if err := f.OnDelete(ctx, channelID, id); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeleteCalls++
	if !f.removeLocked(channelID, id) {
		return purge.ErrUnknownMessage
	}
	return nil
}

func (f *FakeAPI) BulkDeleteMessages(ctx context.Context, channelID string, ids []string) error {
	if f.OnBulk != nil {
		if err := f.OnBulk(ctx, channelID, ids); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(ids) < 2 || len(ids) > 100 {
		return fmt.Errorf("bulk delete needs 2..100 ids, got %d", len(ids))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BulkWindow > 0 {
		now := f.Now()
		for _, id := range ids {
			if m, ok := f.findLocked(channelID, id); ok && now.Sub(m.Timestamp) >= f.BulkWindow {
				return purge.ErrBulkTooOld
			}
		}
	}
	f.BulkCalls = append(f.BulkCalls, append([]string(nil), ids...))
	for _, id := range ids {
		f.removeLocked(channelID, id)
	}
	return nil
}

func (f *FakeAPI) findLocked(channelID, id string) (purge.Message, bool) {
	for _, m := range f.channels[channelID] {
		if m.ID == id {
			return m, true
		}
	}
	return purge.Message{}, false
}

func (f *FakeAPI) removeLocked(channelID, id string) bool {
	msgs := f.channels[channelID]
	for i, m := range msgs {
		if m.ID == id {
			f.channels[channelID] = append(msgs[:i:i], msgs[i+1:]...)
			f.deleted[id]++
			return true
		}
	}
	return false
}

// CursorAPI adds purge.Cursorer to a FakeAPI.
type CursorAPI struct{ *FakeAPI }

// CursorFor returns the smallest id at time t, so listing before it yields
// only messages strictly older than t.
func (c CursorAPI) CursorFor(t time.Time) string { return ID(t, 0) }
