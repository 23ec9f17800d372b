// Package database provides storage backends for feed configuration, the
// digest item index and the rendered-feed cache.
package database

import (
	"context"
	"time"

	"github.com/ssaamm/rss2/internal/model"
)

// Store defines the interface for database operations.
// Both SQLite and PostgreSQL implementations satisfy this interface.
type Store interface {
	Close() error

	// DatabaseType returns the name of the database backend ("SQLite" or "PostgreSQL").
	DatabaseType() string

	// SupportsHighConcurrency returns true if the database can handle
	// many concurrent write operations (e.g., PostgreSQL).
	// SQLite returns false due to write locking limitations.
	SupportsHighConcurrency() bool

	// Feed operations. GetFeed, RecordAccess, DeleteFeed and
	// BackfillDigestMetadata return model.ErrFeedNotFound for missing or
	// soft-deleted feeds.
	InsertFeed(ctx context.Context, feed *model.Feed) error
	GetFeed(ctx context.Context, feedID string) (*model.Feed, error)
	RecordAccess(ctx context.Context, feedID string, t time.Time) error
	DeleteFeed(ctx context.Context, feedID string) error
	// BackfillDigestMetadata fills the title and description of a digest
	// feed's stored config where they are empty and returns the stored
	// config. The read and the write share one transaction, so the first
	// backfill wins.
	BackfillDigestMetadata(ctx context.Context, feedID, title, description string) (model.DigestConfig, error)

	// Item operations. UpsertFeedItems commits the whole batch or nothing.
	UpsertFeedItems(ctx context.Context, items []model.FeedItem) error
	GetItemsInWindow(ctx context.Context, feedID string, start, end time.Time) ([]model.FeedItem, error)
	GetFeedItems(ctx context.Context, feedID string) ([]model.FeedItem, error)
	// RecordClick increments the click count of an item and returns its link
	// in one transaction. It returns model.ErrItemNotFound if no row matches.
	RecordClick(ctx context.Context, feedID, itemID string) (string, error)

	// Cache operations
	GetCachedFeed(ctx context.Context, feedID string, notBefore time.Time) ([]byte, bool, error)
	SaveCachedFeed(ctx context.Context, feedID string, value []byte, created, expireBefore time.Time) error
}
