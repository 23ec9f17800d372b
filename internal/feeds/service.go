// Package feeds is the render pipeline: it checks the result cache, loads the
// feed, dispatches to a renderer and schedules digest re-indexing.
package feeds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/ssaamm/rss2/internal/model"
	"github.com/ssaamm/rss2/internal/opml"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Store is the part of database.Store the service uses.
type Store interface {
	InsertFeed(ctx context.Context, feed *model.Feed) error
	GetFeed(ctx context.Context, feedID string) (*model.Feed, error)
	RecordAccess(ctx context.Context, feedID string, t time.Time) error
	DeleteFeed(ctx context.Context, feedID string) error
	RecordClick(ctx context.Context, feedID, itemID string) (string, error)
}

// Cache stores rendered documents. *cache.Cache satisfies it.
type Cache interface {
	Get(ctx context.Context, feedID string) ([]byte, bool, error)
	Put(ctx context.Context, feedID string, value []byte) error
}

// Renderer renders a loaded feed. *render.Renderer satisfies it.
type Renderer interface {
	Render(ctx context.Context, feed *model.Feed) ([]byte, error)
}

// Indexer indexes a digest feed synchronously. *indexer.Indexer satisfies it.
type Indexer interface {
	Index(ctx context.Context, feed *model.Feed) (int, error)
}

// Scheduler runs index jobs in the background. *indexer.Queue satisfies it.
type Scheduler interface {
	Submit(feed *model.Feed) bool
}

// Service exposes the feed operations used by the API and the CLI.
type Service struct {
	store    Store
	cache    Cache
	renderer Renderer
	indexer  Indexer
	queue    Scheduler
	logger   *zap.Logger

	now   func() time.Time
	newID func() string
}

// New creates a service.
func New(store Store, cache Cache, renderer Renderer, indexer Indexer, queue Scheduler, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		cache:    cache,
		renderer: renderer,
		indexer:  indexer,
		queue:    queue,
		logger:   logger.Named("feeds"),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// WithClock replaces the clock used for access and creation times.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithIDs replaces the feed ID generator.
func (s *Service) WithIDs(newID func() string) *Service {
	s.newID = newID
	return s
}

// Render returns the RSS document of a feed. A cached document younger than
// the cache TTL is returned as is unless bypassCache is set. It returns
// model.ErrFeedNotFound for missing and deleted feeds.
func (s *Service) Render(ctx context.Context, feedID string, bypassCache bool) ([]byte, error) {
	var (
		cached  []byte
		hit     bool
		missing bool
	)
	// The cache lookup and the access update run independently; only a cache
	// failure fails the request.
	var g errgroup.Group
	if !bypassCache {
		g.Go(func() error {
			v, ok, err := s.cache.Get(ctx, feedID)
			if err != nil {
				return fmt.Errorf("cache get: %w", err)
			}
			cached, hit = v, ok
			return nil
		})
	}
	g.Go(func() error {
		err := s.store.RecordAccess(ctx, feedID, s.now())
		switch {
		case errors.Is(err, model.ErrFeedNotFound):
			missing = true
		case err != nil:
			s.logger.Warn("record access failed", zap.String("feed_id", feedID), zap.Error(err))
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if missing {
		return nil, model.ErrFeedNotFound
	}
	if hit {
		s.logger.Debug("cache hit", zap.String("feed_id", feedID))
		return cached, nil
	}

	feed, err := s.store.GetFeed(ctx, feedID)
	if err != nil {
		return nil, err
	}
	doc, err := s.renderer.Render(ctx, feed)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Put(ctx, feedID, doc); err != nil {
		s.logger.Warn("cache put failed", zap.String("feed_id", feedID), zap.Error(err))
	}
	if feed.Type() == model.TypeDigest && s.queue != nil {
		s.queue.Submit(feed)
	}
	return doc, nil
}

// CreateFeed validates cfg, stores a new feed and returns its ID. Digest
// feeds are indexed once before returning; an indexing failure is logged and
// left to the next read to retry.
func (s *Service) CreateFeed(ctx context.Context, cfg model.Config) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("%w: missing config", model.ErrInvalidConfig)
	}
	cfg = model.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	feed := &model.Feed{
		ID:      s.newID(),
		Config:  cfg,
		Created: s.now().UTC(),
	}
	if err := s.store.InsertFeed(ctx, feed); err != nil {
		return "", fmt.Errorf("insert feed: %w", err)
	}
	s.logger.Info("created feed", zap.String("feed_id", feed.ID), zap.String("type", string(feed.Type())))

	if feed.Type() == model.TypeDigest && s.indexer != nil {
		n, err := s.indexer.Index(ctx, feed)
		if err != nil {
			s.logger.Warn("initial index failed", zap.String("feed_id", feed.ID), zap.Error(err))
		} else {
			s.logger.Info("indexed new feed", zap.String("feed_id", feed.ID), zap.Int("items", n))
		}
	}
	return feed.ID, nil
}

// CreateFromOPML creates a combine feed from every feed listed in an OPML
// document.
func (s *Service) CreateFromOPML(ctx context.Context, r io.Reader) (string, error) {
	entries, err := opml.Parse(r)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrInvalidConfig, err)
	}
	cfg := model.CombineConfig{}
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.URL]; ok {
			continue
		}
		seen[e.URL] = struct{}{}
		cfg.URLs = append(cfg.URLs, e.URL)
	}
	return s.CreateFeed(ctx, cfg)
}

// ExportOPML returns an OPML document listing the upstream sources of a feed.
func (s *Service) ExportOPML(ctx context.Context, feedID string) ([]byte, error) {
	feed, err := s.store.GetFeed(ctx, feedID)
	if err != nil {
		return nil, err
	}
	var entries []opml.FeedEntry
	for _, src := range feed.Config.Sources() {
		entries = append(entries, opml.FeedEntry{Title: src, URL: src})
	}
	return opml.Export(fmt.Sprintf("Sources of %s feed %s", feed.Type(), feed.ID), entries, s.now())
}

// DeleteFeed soft-deletes a feed.
func (s *Service) DeleteFeed(ctx context.Context, feedID string) error {
	if err := s.store.DeleteFeed(ctx, feedID); err != nil {
		return err
	}
	s.logger.Info("deleted feed", zap.String("feed_id", feedID))
	return nil
}

// RecordClickAndGetLink counts a click on an indexed item and returns the
// item's link. It returns model.ErrItemNotFound when no such item exists.
func (s *Service) RecordClickAndGetLink(ctx context.Context, feedID, itemID string) (string, error) {
	return s.store.RecordClick(ctx, feedID, itemID)
}
