package render

import (
	"context"
	"strings"

	"github.com/ssaamm/rss2/internal/model"
	"github.com/ssaamm/rss2/internal/rss"
)

// Filter passes through the entries of one source whose titles contain every
// required keyword and none of the disallowed ones. Channel metadata comes
// from the upstream feed.
func (r *Renderer) Filter(ctx context.Context, feed *model.Feed) ([]byte, error) {
	cfg, ok := feed.Config.(model.FilterConfig)
	if !ok {
		return nil, mismatch(feed, model.TypeFilter)
	}

	upstream, err := r.fetcher.Fetch(ctx, cfg.Source)
	if err != nil {
		return nil, err
	}

	doc := rss.NewDocument(upstream.Title, upstream.Link, upstream.Description, r.now())
	for _, entry := range upstream.Items {
		if !KeepTitle(entry.Title, cfg.RequireInTitle, cfg.DisallowInTitle) {
			continue
		}
		doc.Channel.Items = append(doc.Channel.Items, rss.ItemFromEntry(entry, upstream, rss.EntryLink(entry), r.logger))
	}
	return doc.Marshal()
}

// KeepTitle reports whether title contains all of require and none of
// disallow, case-insensitively.
func KeepTitle(title string, require, disallow []string) bool {
	t := strings.ToLower(title)
	for _, kw := range require {
		if !strings.Contains(t, strings.ToLower(kw)) {
			return false
		}
	}
	for _, kw := range disallow {
		if strings.Contains(t, strings.ToLower(kw)) {
			return false
		}
	}
	return true
}
