package rss

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"
)

// Document is the root of an RSS 2.0 document.
type Document struct {
	XMLName xml.Name `xml:"rss"`
	Version string   `xml:"version,attr"`
	Channel Channel  `xml:"channel"`
}

// Channel holds feed metadata and items.
type Channel struct {
	Title         string `xml:"title"`
	Link          string `xml:"link"`
	Description   string `xml:"description"`
	LastBuildDate string `xml:"lastBuildDate,omitempty"`
	Items         []Item `xml:"item"`
}

// Item is a single RSS entry. An item may carry several categories.
type Item struct {
	Title       string   `xml:"title,omitempty"`
	Link        string   `xml:"link,omitempty"`
	Description string   `xml:"description,omitempty"`
	Author      string   `xml:"author,omitempty"`
	Categories  []string `xml:"category"`
	PubDate     string   `xml:"pubDate,omitempty"`
	GUID        *GUID    `xml:"guid,omitempty"`
}

// GUID identifies an item.
type GUID struct {
	Value       string `xml:",chardata"`
	IsPermaLink bool   `xml:"isPermaLink,attr"`
}

// NewDocument creates an empty RSS 2.0 document.
func NewDocument(title, link, description string, built time.Time) *Document {
	return &Document{
		Version: "2.0",
		Channel: Channel{
			Title:         title,
			Link:          link,
			Description:   description,
			LastBuildDate: FormatTime(built),
		},
	}
}

// Marshal encodes the document with an XML declaration.
func (d *Document) Marshal() ([]byte, error) {
	output, err := xml.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode rss: %w", err)
	}
	return append([]byte(xml.Header), output...), nil
}

// FormatTime formats t for pubDate and lastBuildDate.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC1123Z)
}

// PermaLink returns a permalink GUID for link, or nil when link is empty.
func PermaLink(link string) *GUID {
	if link == "" {
		return nil
	}
	return &GUID{Value: link, IsPermaLink: true}
}

// Description returns the body of an upstream entry. Multiple content:encoded
// blocks are joined with <br>.
func Description(entry *gofeed.Item, logger *zap.Logger) string {
	if blocks := contentBlocks(entry); len(blocks) > 1 {
		logger.Warn("entry has more than one content block",
			zap.String("link", entry.Link), zap.Int("blocks", len(blocks)))
		return strings.Join(blocks, "<br>")
	}
	if entry.Content != "" {
		return entry.Content
	}
	return entry.Description
}

func contentBlocks(entry *gofeed.Item) []string {
	var blocks []string
	for _, ext := range entry.Extensions["content"]["encoded"] {
		if ext.Value != "" {
			blocks = append(blocks, ext.Value)
		}
	}
	return blocks
}

// Author returns the entry author, falling back to the first listed author and
// then to the feed-level author.
func Author(entry *gofeed.Item, feed *gofeed.Feed) string {
	if entry.Author != nil && entry.Author.Name != "" {
		return entry.Author.Name
	}
	for _, a := range entry.Authors {
		if a != nil && a.Name != "" {
			return a.Name
		}
	}
	if feed != nil {
		if feed.Author != nil && feed.Author.Name != "" {
			return feed.Author.Name
		}
		for _, a := range feed.Authors {
			if a != nil && a.Name != "" {
				return a.Name
			}
		}
	}
	return ""
}

// Published returns the entry publish time, falling back to its update time.
func Published(entry *gofeed.Item) *time.Time {
	if entry.PublishedParsed != nil {
		t := entry.PublishedParsed.UTC()
		return &t
	}
	if entry.UpdatedParsed != nil {
		t := entry.UpdatedParsed.UTC()
		return &t
	}
	return nil
}

// EntryLink returns the primary link of an entry, or an alternate for entries
// without one and for podcast episodes.
func EntryLink(entry *gofeed.Item) string {
	episodic := entry.ITunesExt != nil && entry.ITunesExt.EpisodeType != ""
	if entry.Link != "" && !episodic {
		return entry.Link
	}
	for _, l := range entry.Links {
		if l != "" && l != entry.Link {
			return l
		}
	}
	for _, enc := range entry.Enclosures {
		if enc != nil && enc.URL != "" {
			return enc.URL
		}
	}
	return entry.Link
}

// ItemFromEntry converts a parsed upstream entry into an output item using
// link as its link and GUID.
func ItemFromEntry(entry *gofeed.Item, feed *gofeed.Feed, link string, logger *zap.Logger) Item {
	item := Item{
		Title:       entry.Title,
		Link:        link,
		Description: Description(entry, logger),
		Author:      Author(entry, feed),
		Categories:  entry.Categories,
		GUID:        PermaLink(link),
	}
	if entry.GUID != "" {
		item.GUID = &GUID{Value: entry.GUID, IsPermaLink: entry.GUID == link}
	}
	if p := Published(entry); p != nil {
		item.PubDate = FormatTime(*p)
	}
	return item
}
