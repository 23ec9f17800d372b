package render

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strconv"
	"strings"

	"github.com/ssaamm/rss2/internal/model"
	"github.com/ssaamm/rss2/internal/rss"
	"golang.org/x/sync/errgroup"
)

// UnknownAuthor stands in for items indexed without an author.
const UnknownAuthor = "Unknown author"

// Digest renders one entry per non-empty completed window, built from the
// item index. Window queries run concurrently and never cancel each other,
// but any failed query fails the render: a digest with a silently missing
// window would be cached as if complete.
func (r *Renderer) Digest(ctx context.Context, feed *model.Feed) ([]byte, error) {
	cfg, ok := feed.Config.(model.DigestConfig)
	if !ok {
		return nil, mismatch(feed, model.TypeDigest)
	}

	now := r.now()
	windows, err := Windows(cfg.Start(), cfg.Cadence, cfg.Length, now)
	if err != nil {
		return nil, err
	}

	results := make([][]model.FeedItem, len(windows))
	var g errgroup.Group
	for i, w := range windows {
		i, w := i, w
		g.Go(func() error {
			items, err := r.items.GetItemsInWindow(ctx, feed.ID, w.Start, w.End)
			if err != nil {
				return fmt.Errorf("window %s: %w", w.Start.Format("2006-01-02T15:04Z07:00"), err)
			}
			results[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	title, description := cfg.Title, cfg.Description
	if title == "" {
		title = "Digest of " + cfg.Source
	}
	if description == "" {
		description = fmt.Sprintf("A %s digest of %s", cfg.Cadence, cfg.Source)
	}
	doc := rss.NewDocument(title, r.links.Feed(feed.ID), description, now)
	for i, w := range windows {
		if len(results[i]) == 0 {
			continue
		}
		doc.Channel.Items = append(doc.Channel.Items, r.digestEntry(feed.ID, cfg.Cadence, w, results[i]))
	}
	return doc.Marshal()
}

func (r *Renderer) digestEntry(feedID string, cadence model.Cadence, w Window, items []model.FeedItem) rss.Item {
	SortWindowItems(items)

	var body strings.Builder
	body.WriteString("<ul>")
	authors := make(map[string]struct{})
	categories := make(map[string]struct{})
	for _, it := range items {
		text := it.Link
		if it.Title != nil && *it.Title != "" {
			text = *it.Title
		}
		body.WriteString("<li>")
		if it.Score != nil {
			fmt.Fprintf(&body, "%.3f ", *it.Score)
		}
		fmt.Fprintf(&body, `<a href="%s">%s</a></li>`,
			html.EscapeString(r.links.Item(feedID, it.ID)), html.EscapeString(text))

		author := UnknownAuthor
		if it.Author != nil && *it.Author != "" {
			author = *it.Author
		}
		authors[author] = struct{}{}
		for _, c := range it.Categories {
			categories[c] = struct{}{}
		}
	}
	body.WriteString("</ul>")

	layout := "2006-01-02"
	if cadence == model.CadenceHourly {
		layout = "2006-01-02 15:04 MST"
	}
	anchor := strconv.FormatInt(w.Start.Unix(), 10)
	return rss.Item{
		Title:       fmt.Sprintf("%s from %s", countItems(len(items)), w.Start.UTC().Format(layout)),
		Link:        r.links.Feed(feedID) + "#" + anchor,
		Description: body.String(),
		Author:      strings.Join(sortedKeys(authors), ", "),
		Categories:  sortedKeys(categories),
		PubDate:     rss.FormatTime(w.Start),
		GUID:        &rss.GUID{Value: feedID + "/" + anchor},
	}
}

// SortWindowItems orders scored items by descending score ahead of unscored
// ones. Ties keep publish order.
func SortWindowItems(items []model.FeedItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		switch {
		case a.Score != nil && b.Score != nil && *a.Score != *b.Score:
			return *a.Score > *b.Score
		case (a.Score == nil) != (b.Score == nil):
			return a.Score != nil
		}
		if a.PublishDate != nil && b.PublishDate != nil {
			return a.PublishDate.Before(*b.PublishDate)
		}
		return false
	})
}

func countItems(n int) string {
	if n == 1 {
		return "1 item"
	}
	return fmt.Sprintf("%d items", n)
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
