package render

import (
	"context"
	"sort"

	"github.com/mmcdole/gofeed"
	"github.com/ssaamm/rss2/internal/model"
	"github.com/ssaamm/rss2/internal/rss"
	"golang.org/x/sync/errgroup"
)

// Combine fetches every source concurrently and merges their entries in
// ascending publish order. Any failed source fails the render.
func (r *Renderer) Combine(ctx context.Context, feed *model.Feed) ([]byte, error) {
	cfg, ok := feed.Config.(model.CombineConfig)
	if !ok {
		return nil, mismatch(feed, model.TypeCombine)
	}

	upstream := make([]*gofeed.Feed, len(cfg.URLs))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range cfg.URLs {
		i, src := i, src
		g.Go(func() error {
			parsed, err := r.fetcher.Fetch(gctx, src)
			if err != nil {
				return err
			}
			upstream[i] = parsed
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	type entry struct {
		item *gofeed.Item
		feed *gofeed.Feed
	}
	var entries []entry
	for _, f := range upstream {
		for _, it := range f.Items {
			entries = append(entries, entry{item: it, feed: f})
		}
	}
	// Undated entries sort last.
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := rss.Published(entries[i].item), rss.Published(entries[j].item)
		if a == nil || b == nil {
			return a != nil
		}
		return a.Before(*b)
	})

	title, description := cfg.Title, cfg.Description
	if title == "" {
		title = model.DefaultCombineTitle
	}
	if description == "" {
		description = model.DefaultCombineDescription
	}
	doc := rss.NewDocument(title, r.links.Feed(feed.ID), description, r.now())
	for _, e := range entries {
		doc.Channel.Items = append(doc.Channel.Items, rss.ItemFromEntry(e.item, e.feed, rss.EntryLink(e.item), r.logger))
	}
	return doc.Marshal()
}
