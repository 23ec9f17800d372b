// Package indexer refreshes the item index of digest feeds.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"
	"github.com/ssaamm/rss2/internal/ml"
	"github.com/ssaamm/rss2/internal/model"
	"github.com/ssaamm/rss2/internal/rss"
	"go.uber.org/zap"
)

// Fetcher retrieves one upstream feed.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*gofeed.Feed, error)
}

// Store is the part of database.Store the indexer writes to.
type Store interface {
	BackfillDigestMetadata(ctx context.Context, feedID, title, description string) (model.DigestConfig, error)
	UpsertFeedItems(ctx context.Context, items []model.FeedItem) error
}

// Indexer pulls a digest feed's source and upserts its entries.
type Indexer struct {
	fetcher Fetcher
	store   Store
	scorer  ml.Scorer
	logger  *zap.Logger
}

// New creates an indexer. scorer may be nil, in which case scores stay absent.
func New(fetcher Fetcher, store Store, scorer ml.Scorer, logger *zap.Logger) *Indexer {
	return &Indexer{
		fetcher: fetcher,
		store:   store,
		scorer:  scorer,
		logger:  logger.Named("indexer"),
	}
}

// Index fetches the source of a digest feed, scores its entries when a model
// exists, fills in a missing title or description and upserts all entries.
// It returns the number of items written.
func (ix *Indexer) Index(ctx context.Context, feed *model.Feed) (int, error) {
	cfg, ok := feed.Config.(model.DigestConfig)
	if !ok {
		return 0, fmt.Errorf("%w: cannot index %s feed %s", model.ErrConfigMismatch, feed.Type(), feed.ID)
	}

	upstream, err := ix.fetcher.Fetch(ctx, cfg.Source)
	if err != nil {
		return 0, err
	}

	items := BuildItems(feed.ID, upstream.Items)
	if ix.scorer != nil && len(items) > 0 {
		ix.applyScores(ctx, feed.ID, items)
	}

	// feed may be a stale snapshot; the store decides which fields are
	// still empty.
	if _, changed := cfg.WithMetadata(upstream.Title, upstream.Description); changed {
		stored, err := ix.store.BackfillDigestMetadata(ctx, feed.ID, upstream.Title, upstream.Description)
		if err != nil {
			return 0, fmt.Errorf("backfill metadata: %w", err)
		}
		feed.Config = stored
	}

	if err := ix.store.UpsertFeedItems(ctx, items); err != nil {
		return 0, fmt.Errorf("upsert items: %w", err)
	}
	return len(items), nil
}

func (ix *Indexer) applyScores(ctx context.Context, feedID string, items []model.FeedItem) {
	scores, err := ix.scorer.Score(ctx, feedID, items)
	if errors.Is(err, ml.ErrNoModel) {
		return
	}
	if err != nil {
		ix.logger.Warn("scoring failed", zap.String("feed_id", feedID), zap.Error(err))
		return
	}
	for i := range items {
		s := scores[i]
		items[i].Score = &s
	}
}

// BuildItems converts upstream entries into index rows. Entries without a link
// are skipped; a link seen twice keeps its last entry. Missing fields stay nil.
func BuildItems(feedID string, entries []*gofeed.Item) []model.FeedItem {
	items := make([]model.FeedItem, 0, len(entries))
	pos := make(map[string]int, len(entries))
	for _, entry := range entries {
		link := rss.EntryLink(entry)
		if link == "" {
			continue
		}
		it := model.FeedItem{
			FeedID:      feedID,
			Link:        link,
			Categories:  normalizeCategories(entry.Categories),
			PublishDate: rss.Published(entry),
		}
		if entry.Title != "" {
			title := entry.Title
			it.Title = &title
		}
		if author := rss.Author(entry, nil); author != "" {
			it.Author = &author
		}
		if i, ok := pos[link]; ok {
			items[i] = it
			continue
		}
		pos[link] = len(items)
		items = append(items, it)
	}
	return items
}

func normalizeCategories(categories []string) []string {
	out := make([]string, 0, len(categories))
	seen := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
