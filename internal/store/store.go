// Package store defines the durable paid message log. The log exists for
// crash recovery only; live history is owned by the hub while the process
// is up.
package store

import (
	"context"
	"time"

	"github.com/overlaykit/chathub/internal/chat"
)

// PaidMessageStore is an append-ordered log of monetized messages, keyed
// by message id. Upsert is idempotent: re-appending the same id replaces
// the row rather than duplicating it.
type PaidMessageStore interface {
	Upsert(ctx context.Context, msg chat.Message) error
	Get(ctx context.Context, id string) (chat.Message, bool, error)
	// LoadRecent returns entries whose received_at is within maxAge of
	// now, ordered oldest first.
	LoadRecent(ctx context.Context, maxAge time.Duration) ([]chat.Message, error)
	Delete(ctx context.Context, id string) error
	// DeleteOlderThan drops entries past the retention age and returns
	// the number removed.
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)
	Close() error
}
