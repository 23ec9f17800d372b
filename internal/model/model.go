// Package model defines shared data structures.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Errors shared by the store, renderers and the HTTP layer.
var (
	ErrFeedNotFound    = errors.New("feed not found")
	ErrItemNotFound    = errors.New("feed item not found")
	ErrConfigMismatch  = errors.New("feed config does not match feed type")
	ErrUnknownFeedType = errors.New("unknown feed type")
	ErrInvalidConfig   = errors.New("invalid feed config")
)

// Type identifies how a feed is rendered. It never changes after creation.
type Type string

const (
	TypeCombine Type = "combine"
	TypeFilter  Type = "filter"
	TypeDigest  Type = "digest"
)

// Cadence is the width of a digest window.
type Cadence string

const (
	CadenceHourly Cadence = "hourly"
	CadenceDaily  Cadence = "daily"
	CadenceWeekly Cadence = "weekly"
)

// Duration returns the window size for c, or false for an unknown cadence.
func (c Cadence) Duration() (time.Duration, bool) {
	switch c {
	case CadenceHourly:
		return time.Hour, true
	case CadenceDaily:
		return 24 * time.Hour, true
	case CadenceWeekly:
		return 7 * 24 * time.Hour, true
	}
	return 0, false
}

// Config is the type-specific configuration of a feed. The set of
// implementations is closed: CombineConfig, FilterConfig and DigestConfig.
type Config interface {
	Type() Type
	Validate() error
	// Sources returns the upstream feed URLs the config reads from.
	Sources() []string
	sealed()
}

// Defaults applied to combine feeds created without a title or description.
const (
	DefaultCombineTitle       = "A combined feed"
	DefaultCombineDescription = "A combination of feeds"
)

// DefaultDigestLength is the number of trailing windows shown when a digest
// feed is created without a length.
const DefaultDigestLength = 5

// MaxDigestLength bounds the number of windows, and so the per-render window
// queries, of a digest feed.
const MaxDigestLength = 1000

// CombineConfig merges several upstream feeds into one.
type CombineConfig struct {
	URLs        []string `json:"sources"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
}

func (CombineConfig) Type() Type { return TypeCombine }
func (CombineConfig) sealed()    {}

func (c CombineConfig) Sources() []string { return c.URLs }

func (c CombineConfig) Validate() error {
	if len(c.URLs) == 0 {
		return fmt.Errorf("%w: combine feed needs at least one source", ErrInvalidConfig)
	}
	for _, s := range c.URLs {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%w: empty source", ErrInvalidConfig)
		}
	}
	return nil
}

// FilterConfig keeps entries of one upstream feed by title keywords.
type FilterConfig struct {
	Source          string   `json:"source"`
	RequireInTitle  []string `json:"require_in_title"`
	DisallowInTitle []string `json:"disallow_in_title"`
}

func (FilterConfig) Type() Type { return TypeFilter }
func (FilterConfig) sealed()    {}

func (c FilterConfig) Sources() []string { return []string{c.Source} }

func (c FilterConfig) Validate() error {
	if strings.TrimSpace(c.Source) == "" {
		return fmt.Errorf("%w: filter feed needs a source", ErrInvalidConfig)
	}
	return nil
}

// DigestConfig rolls an upstream feed into periodic windows. Title and
// Description start empty and are filled from the upstream the first time it
// is indexed.
type DigestConfig struct {
	Source         string  `json:"source"`
	Cadence        Cadence `json:"cadence"`
	StartTimestamp float64 `json:"start_timestamp"`
	Length         int     `json:"length"`
	Title          string  `json:"title,omitempty"`
	Description    string  `json:"description,omitempty"`
}

func (DigestConfig) Type() Type { return TypeDigest }
func (DigestConfig) sealed()    {}

func (c DigestConfig) Sources() []string { return []string{c.Source} }

func (c DigestConfig) Validate() error {
	if strings.TrimSpace(c.Source) == "" {
		return fmt.Errorf("%w: digest feed needs a source", ErrInvalidConfig)
	}
	if _, ok := c.Cadence.Duration(); !ok {
		return fmt.Errorf("%w: unknown cadence %q", ErrInvalidConfig, c.Cadence)
	}
	if c.Length < 1 || c.Length > MaxDigestLength {
		return fmt.Errorf("%w: length must be between 1 and %d", ErrInvalidConfig, MaxDigestLength)
	}
	return nil
}

// WithMetadata fills Title and Description from the upstream feed where they
// are still empty. Set fields are never replaced.
func (c DigestConfig) WithMetadata(title, description string) (DigestConfig, bool) {
	changed := false
	if c.Title == "" && title != "" {
		c.Title = title
		changed = true
	}
	if c.Description == "" && description != "" {
		c.Description = description
		changed = true
	}
	return c, changed
}

// Start returns StartTimestamp as an instant.
func (c DigestConfig) Start() time.Time {
	sec, frac := math.Modf(c.StartTimestamp)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// ApplyDefaults fills the creation defaults into unset fields of cfg.
func ApplyDefaults(cfg Config) Config {
	switch c := cfg.(type) {
	case CombineConfig:
		if c.Title == "" {
			c.Title = DefaultCombineTitle
		}
		if c.Description == "" {
			c.Description = DefaultCombineDescription
		}
		return c
	case FilterConfig:
		if c.RequireInTitle == nil {
			c.RequireInTitle = []string{}
		}
		if c.DisallowInTitle == nil {
			c.DisallowInTitle = []string{}
		}
		return c
	case DigestConfig:
		if c.Length == 0 {
			c.Length = DefaultDigestLength
		}
		return c
	}
	return cfg
}

// ParseConfig decodes a flat creation request such as
// {"type": "filter", "source": "...", "require_in_title": ["go"]}.
func ParseConfig(raw []byte) (Config, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg, err := DecodeConfig(head.Type, raw)
	if err != nil {
		return nil, err
	}
	cfg = ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DecodeConfig parses the JSON config of a feed of type t. A digest config
// without a length gets DefaultDigestLength.
func DecodeConfig(t Type, raw []byte) (Config, error) {
	switch t {
	case TypeCombine:
		var c CombineConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		return c, nil
	case TypeFilter:
		var c FilterConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		return c, nil
	case TypeDigest:
		c := DigestConfig{Length: DefaultDigestLength}
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		return c, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFeedType, t)
}

// Feed is a stored configuration describing how to produce a derived RSS
// document.
type Feed struct {
	ID           string
	Config       Config
	Created      time.Time
	LastAccessed *time.Time // nil until first read
	Deleted      bool
}

// Type returns the feed type, derived from its config.
func (f *Feed) Type() Type {
	return f.Config.Type()
}

// FeedItem is one upstream entry indexed for a digest feed. (FeedID, Link) is
// unique. Nil fields were absent upstream.
type FeedItem struct {
	ID          string
	FeedID      string
	Link        string
	Title       *string
	Author      *string
	Categories  []string
	PublishDate *time.Time
	ClickCount  int64
	Score       *float64 // nil until a model is applied
}
