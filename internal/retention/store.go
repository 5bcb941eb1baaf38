package retention

import (
	"context"
	"time"
)

// Store is the durable source of truth for policies.
//
// Implementations serialize writes per channel. Upsert keeps ID, CreatedAt
// and LastSweptAt of an existing policy for the same channel.
type Store interface {
	Upsert(ctx context.Context, p Policy) (Policy, error)
	Remove(ctx context.Context, channelID string) (bool, error)
	Get(ctx context.Context, channelID string) (Policy, bool, error)
	// ListAll returns every policy ordered by channel id.
	ListAll(ctx context.Context) ([]Policy, error)
	// RecordSwept sets LastSweptAt to at when that moves it forward. It is a
	// no-op when the channel has no policy, or when policyID is non-empty and
	// the channel's policy has a different id.
	RecordSwept(ctx context.Context, channelID, policyID string, at time.Time) error
	Close() error
}
