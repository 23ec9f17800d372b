// Package opml reads and writes OPML subscription lists.
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"
)

// OPML represents the root of an OPML document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains OPML metadata.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outlines.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline is either a feed (XMLURL set) or a folder of outlines.
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// FeedEntry is a feed with the folder path it was listed under.
type FeedEntry struct {
	FolderPath []string
	Title      string
	URL        string
}

// Parse reads an OPML document and returns every feed in document order.
// Folders are flattened into FolderPath.
func Parse(r io.Reader) ([]FeedEntry, error) {
	var doc OPML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}
	var entries []FeedEntry
	var walk func(outlines []Outline, path []string)
	walk = func(outlines []Outline, path []string) {
		for _, o := range outlines {
			if u := strings.TrimSpace(o.XMLURL); u != "" {
				title := o.Title
				if title == "" {
					title = o.Text
				}
				entries = append(entries, FeedEntry{
					FolderPath: append([]string{}, path...),
					Title:      title,
					URL:        u,
				})
				continue
			}
			if len(o.Outlines) > 0 {
				name := o.Text
				if name == "" {
					name = o.Title
				}
				walk(o.Outlines, append(path, name))
			}
		}
	}
	walk(doc.Body.Outlines, nil)
	if len(entries) == 0 {
		return nil, fmt.Errorf("opml lists no feeds")
	}
	return entries, nil
}

// Export writes entries as an OPML 2.0 document, nesting them under their
// folder paths in first-seen order.
func Export(title string, entries []FeedEntry, created time.Time) ([]byte, error) {
	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       title,
			DateCreated: created.UTC().Format(time.RFC1123Z),
		},
	}
	for _, e := range entries {
		text := e.Title
		if text == "" {
			text = e.URL
		}
		outlines := &doc.Body.Outlines
		for _, folder := range e.FolderPath {
			outlines = &folderOutline(outlines, folder).Outlines
		}
		*outlines = append(*outlines, Outline{
			Text:   text,
			Title:  text,
			Type:   "rss",
			XMLURL: e.URL,
		})
	}

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), output...), nil
}

// folderOutline returns the folder named name in outlines, appending it if
// missing.
func folderOutline(outlines *[]Outline, name string) *Outline {
	for i := range *outlines {
		o := &(*outlines)[i]
		if o.XMLURL == "" && o.Text == name {
			return o
		}
	}
	*outlines = append(*outlines, Outline{Text: name, Title: name})
	return &(*outlines)[len(*outlines)-1]
}
