// Package render turns a feed's configuration plus upstream or indexed items
// into an RSS 2.0 document.
package render

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/ssaamm/rss2/internal/model"
	"go.uber.org/zap"
)

// Fetcher retrieves one upstream feed. *rss.Fetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*gofeed.Feed, error)
}

// ItemSource reads the digest item index. database.Store satisfies it.
type ItemSource interface {
	GetItemsInWindow(ctx context.Context, feedID string, start, end time.Time) ([]model.FeedItem, error)
}

// Links builds absolute URLs served by the API.
type Links struct {
	BaseURL string
}

// Feed returns the URL at which feedID is rendered.
func (l Links) Feed(feedID string) string {
	return strings.TrimRight(l.BaseURL, "/") + "/api/v1/feed/" + feedID
}

// Item returns the click-tracking redirect URL of an indexed item.
func (l Links) Item(feedID, itemID string) string {
	return l.Feed(feedID) + "/item/" + itemID
}

// Renderer renders the three feed types. It holds no per-feed state.
type Renderer struct {
	fetcher Fetcher
	items   ItemSource
	links   Links
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a renderer. baseURL prefixes every self and item link.
func New(fetcher Fetcher, items ItemSource, baseURL string, logger *zap.Logger) *Renderer {
	return &Renderer{
		fetcher: fetcher,
		items:   items,
		links:   Links{BaseURL: baseURL},
		logger:  logger.Named("render"),
		now:     time.Now,
	}
}

// WithClock replaces the clock used for lastBuildDate and digest windows.
func (r *Renderer) WithClock(now func() time.Time) *Renderer {
	r.now = now
	return r
}

// Links returns the link builder used by r.
func (r *Renderer) Links() Links {
	return r.links
}

// Render selects the strategy matching the feed's config.
func (r *Renderer) Render(ctx context.Context, feed *model.Feed) ([]byte, error) {
	switch feed.Config.(type) {
	case model.CombineConfig:
		return r.Combine(ctx, feed)
	case model.FilterConfig:
		return r.Filter(ctx, feed)
	case model.DigestConfig:
		return r.Digest(ctx, feed)
	default:
		return nil, fmt.Errorf("%w: %T", model.ErrUnknownFeedType, feed.Config)
	}
}

func mismatch(feed *model.Feed, want model.Type) error {
	return fmt.Errorf("%w: feed %s has %T, want %s", model.ErrConfigMismatch, feed.ID, feed.Config, want)
}
