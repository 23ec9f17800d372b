package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ssaamm/rss2/internal/model"
	"github.com/ssaamm/rss2/internal/rss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeFeeds struct {
	renderErr error
	bypass    bool
	created   model.Config
	opml      string
	deleted   string
	links     map[string]string
}

func (f *fakeFeeds) Render(_ context.Context, feedID string, bypassCache bool) ([]byte, error) {
	f.bypass = bypassCache
	if f.renderErr != nil {
		return nil, f.renderErr
	}
	if feedID != "abc" {
		return nil, model.ErrFeedNotFound
	}
	return []byte("<rss/>"), nil
}

func (f *fakeFeeds) CreateFeed(_ context.Context, cfg model.Config) (string, error) {
	f.created = cfg
	return "new-id", nil
}

func (f *fakeFeeds) CreateFromOPML(_ context.Context, r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.opml = string(b)
	return "opml-id", nil
}

func (f *fakeFeeds) ExportOPML(_ context.Context, feedID string) ([]byte, error) {
	if feedID != "abc" {
		return nil, model.ErrFeedNotFound
	}
	return []byte("<opml/>"), nil
}

func (f *fakeFeeds) DeleteFeed(_ context.Context, feedID string) error {
	if feedID != "abc" {
		return model.ErrFeedNotFound
	}
	f.deleted = feedID
	return nil
}

func (f *fakeFeeds) RecordClickAndGetLink(_ context.Context, feedID, itemID string) (string, error) {
	link, ok := f.links[feedID+"/"+itemID]
	if !ok {
		return "", model.ErrItemNotFound
	}
	return link, nil
}

func newTestServer(t *testing.T) (*Server, *fakeFeeds) {
	f := &fakeFeeds{links: map[string]string{"abc/1": "https://example.com/post"}}
	return New(f, zaptest.NewLogger(t)), f
}

func do(s *Server, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestCreateFeed(t *testing.T) {
	s, f := newTestServer(t)

	rec := do(s, http.MethodPost, "/api/v1/feed",
		strings.NewReader(`{"type":"filter","source":"http://a/rss","require_in_title":["go"]}`), "application/json")
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "/api/v1/feed/new-id", resp["url"])
	assert.Equal(t, model.FilterConfig{
		Source:          "http://a/rss",
		RequireInTitle:  []string{"go"},
		DisallowInTitle: []string{},
	}, f.created)
}

func TestCreateFeedRejectsBadRequests(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{"type":`, http.StatusBadRequest},
		{"unknown type", `{"type":"mirror","source":"http://a"}`, http.StatusUnprocessableEntity},
		{"missing source", `{"type":"combine","sources":[]}`, http.StatusUnprocessableEntity},
		{"bad cadence", `{"type":"digest","source":"http://a","cadence":"yearly"}`, http.StatusUnprocessableEntity},
		{"huge digest length", `{"type":"digest","source":"http://a","cadence":"hourly","length":1099511627776}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(s, http.MethodPost, "/api/v1/feed", strings.NewReader(tt.body), "application/json")
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRenderFeed(t *testing.T) {
	s, f := newTestServer(t)

	rec := do(s, http.MethodGet, "/api/v1/feed/abc", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<rss/>", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/rss+xml")
	assert.False(t, f.bypass)

	do(s, http.MethodGet, "/api/v1/feed/abc?nocache=1", nil, "")
	assert.True(t, f.bypass)

	rec = do(s, http.MethodGet, "/api/v1/feed/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRenderErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"upstream", &rss.FetchError{URL: "http://a", Err: errors.New("refused")}, http.StatusBadGateway},
		{"mismatch", model.ErrConfigMismatch, http.StatusInternalServerError},
		{"store", errors.New("database is locked"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, f := newTestServer(t)
			f.renderErr = tt.err
			rec := do(s, http.MethodGet, "/api/v1/feed/abc", nil, "")
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestDeleteFeed(t *testing.T) {
	s, f := newTestServer(t)

	rec := do(s, http.MethodDelete, "/api/v1/feed/abc", nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "abc", f.deleted)

	rec = do(s, http.MethodDelete, "/api/v1/feed/other", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClickRedirect(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(s, http.MethodGet, "/api/v1/feed/abc/item/1", nil, "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com/post", rec.Header().Get("Location"))

	rec = do(s, http.MethodGet, "/api/v1/feed/abc/item/2", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOPML(t *testing.T) {
	s, f := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("opml", "subs.opml")
	require.NoError(t, err)
	_, err = part.Write([]byte(`<opml version="2.0"/>`))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rec := do(s, http.MethodPost, "/api/v1/feed/opml", &body, mw.FormDataContentType())
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/v1/feed/opml-id")
	assert.Equal(t, `<opml version="2.0"/>`, f.opml)

	rec = do(s, http.MethodPost, "/api/v1/feed/opml", strings.NewReader("x"), "text/plain")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(s, http.MethodGet, "/api/v1/feed/abc/opml", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<opml/>", rec.Body.String())
	assert.Equal(t, "attachment; filename=abc.opml", rec.Header().Get("Content-Disposition"))
}
