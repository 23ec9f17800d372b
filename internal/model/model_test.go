package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{"type":"combine","sources":["http://a/rss","http://b/rss"]}`))
	require.NoError(t, err)
	assert.Equal(t, CombineConfig{
		URLs:        []string{"http://a/rss", "http://b/rss"},
		Title:       DefaultCombineTitle,
		Description: DefaultCombineDescription,
	}, cfg)

	cfg, err = ParseConfig([]byte(`{"type":"filter","source":"http://a/rss","disallow_in_title":["sponsored"]}`))
	require.NoError(t, err)
	assert.Equal(t, FilterConfig{
		Source:          "http://a/rss",
		RequireInTitle:  []string{},
		DisallowInTitle: []string{"sponsored"},
	}, cfg)

	cfg, err = ParseConfig([]byte(`{"type":"digest","source":"http://a/rss","cadence":"weekly","start_timestamp":1700000000.5}`))
	require.NoError(t, err)
	digest := cfg.(DigestConfig)
	assert.Equal(t, DefaultDigestLength, digest.Length)
	assert.Equal(t, TypeDigest, digest.Type())
	assert.True(t, time.Unix(1700000000, 500000000).Equal(digest.Start()))
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"not json", `nope`, ErrInvalidConfig},
		{"unknown type", `{"type":"mirror"}`, ErrUnknownFeedType},
		{"missing type", `{"source":"http://a"}`, ErrUnknownFeedType},
		{"combine without sources", `{"type":"combine"}`, ErrInvalidConfig},
		{"combine blank source", `{"type":"combine","sources":["http://a"," "]}`, ErrInvalidConfig},
		{"filter without source", `{"type":"filter"}`, ErrInvalidConfig},
		{"digest bad cadence", `{"type":"digest","source":"http://a","cadence":"monthly"}`, ErrInvalidConfig},
		{"digest bad length", `{"type":"digest","source":"http://a","cadence":"daily","length":-1}`, ErrInvalidConfig},
		{"digest length too large", `{"type":"digest","source":"http://a","cadence":"hourly","length":1099511627776}`, ErrInvalidConfig},
		{"wrong field type", `{"type":"filter","source":3}`, ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.raw))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDigestLengthBounds(t *testing.T) {
	cfg := DigestConfig{Source: "http://a", Cadence: CadenceDaily, Length: MaxDigestLength}
	assert.NoError(t, cfg.Validate())
	cfg.Length = MaxDigestLength + 1
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestWithMetadata(t *testing.T) {
	cfg, changed := DigestConfig{Title: "Set"}.WithMetadata("Upstream", "Desc")
	assert.True(t, changed)
	assert.Equal(t, "Set", cfg.Title)
	assert.Equal(t, "Desc", cfg.Description)

	_, changed = cfg.WithMetadata("Other", "Other")
	assert.False(t, changed)
}

func TestApplyDefaultsKeepsSetFields(t *testing.T) {
	cfg := ApplyDefaults(CombineConfig{URLs: []string{"http://a"}, Title: "Mine"}).(CombineConfig)
	assert.Equal(t, "Mine", cfg.Title)
	assert.Equal(t, DefaultCombineDescription, cfg.Description)

	digest := ApplyDefaults(DigestConfig{Length: 2}).(DigestConfig)
	assert.Equal(t, 2, digest.Length)
}

func TestDecodeConfigKeepsStoredTitles(t *testing.T) {
	cfg, err := DecodeConfig(TypeCombine, []byte(`{"sources":["http://a"]}`))
	require.NoError(t, err)
	assert.Empty(t, cfg.(CombineConfig).Title)
}

func TestCadenceDuration(t *testing.T) {
	d, ok := CadenceWeekly.Duration()
	assert.True(t, ok)
	assert.Equal(t, 7*24*time.Hour, d)

	_, ok = Cadence("fortnightly").Duration()
	assert.False(t, ok)
}

func TestSources(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, CombineConfig{URLs: []string{"a", "b"}}.Sources())
	assert.Equal(t, []string{"a"}, FilterConfig{Source: "a"}.Sources())
	assert.Equal(t, []string{"a"}, DigestConfig{Source: "a"}.Sources())

	feed := &Feed{Config: FilterConfig{Source: "a"}}
	assert.Equal(t, TypeFilter, feed.Type())
}
