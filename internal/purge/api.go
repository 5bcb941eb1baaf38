package purge

//go:generate mockgen -destination=mocks/mock_api.go -package=mocks devour/internal/purge MessageAPI

import (
	"context"
	"time"
)

// Message is the part of a remote message the executor needs.
type Message struct {
	ID        string
	Timestamp time.Time
	Pinned    bool
}

// MessageAPI is the remote chat platform.
//
// ListMessagesBefore returns up to limit messages strictly older than the
// message before, newest first. An empty before means the latest messages.
//
// Implementations translate platform errors into this package's taxonomy:
// *RateLimitError, *PermanentFailure, ErrUnknownMessage and ErrBulkTooOld.
// Anything else is treated as transient.
type MessageAPI interface {
	ListMessagesBefore(ctx context.Context, channelID, before string, limit int) ([]Message, error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	BulkDeleteMessages(ctx context.Context, channelID string, messageIDs []string) error
}

// Cursorer is implemented by APIs whose message ids encode time. The
// returned cursor makes the first page start at t, skipping newer pages.
type Cursorer interface {
	CursorFor(t time.Time) string
}
