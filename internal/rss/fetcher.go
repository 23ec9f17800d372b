// Package rss fetches upstream feeds and builds RSS 2.0 output documents.
package rss

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"
)

// Fetch defaults.
const (
	DefaultTimeout   = 20 * time.Second
	DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:95.0) Gecko/20100101 Firefox/95.0"

	// MaxConcurrencyPerDomain limits parallel requests to any single domain.
	MaxConcurrencyPerDomain = 2
)

// FetchError reports a failure to retrieve or parse an upstream feed.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// domainLimiter caps concurrent requests per host so that a combine feed with
// many sources on one site does not flood it.
type domainLimiter struct {
	mu          sync.Mutex
	semaphores  map[string]chan struct{}
	lastRequest map[string]time.Time
	delay       time.Duration
}

func newDomainLimiter(delay time.Duration) *domainLimiter {
	return &domainLimiter{
		semaphores:  make(map[string]chan struct{}),
		lastRequest: make(map[string]time.Time),
		delay:       delay,
	}
}

// acquire gets a slot for the domain, blocking if necessary, and waits out
// the minimum delay since the previous request to it.
func (dl *domainLimiter) acquire(ctx context.Context, domain string) error {
	dl.mu.Lock()
	sem, ok := dl.semaphores[domain]
	if !ok {
		sem = make(chan struct{}, MaxConcurrencyPerDomain)
		dl.semaphores[domain] = sem
	}
	lastReq := dl.lastRequest[domain]
	dl.mu.Unlock()

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	if dl.delay > 0 && !lastReq.IsZero() {
		if wait := dl.delay - time.Since(lastReq); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				<-sem
				return ctx.Err()
			}
		}
	}
	return nil
}

// release returns a slot for the domain and records the request time.
func (dl *domainLimiter) release(domain string) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	dl.lastRequest[domain] = time.Now()
	if sem, ok := dl.semaphores[domain]; ok {
		<-sem
	}
}

// extractDomain gets the host from a URL.
func extractDomain(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil {
		return feedURL
	}
	return u.Host
}

// Options configures a Fetcher. Zero values select the defaults.
type Options struct {
	Timeout    time.Duration
	UserAgent  string
	HostDelay  time.Duration
	HTTPClient *http.Client
}

// Fetcher retrieves and parses upstream feeds.
type Fetcher struct {
	client        *http.Client
	timeout       time.Duration
	userAgent     string
	domainLimiter *domainLimiter
	logger        *zap.Logger
}

// NewFetcher creates a fetcher.
func NewFetcher(opts Options, logger *zap.Logger) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &Fetcher{
		client:        client,
		timeout:       opts.Timeout,
		userAgent:     opts.UserAgent,
		domainLimiter: newDomainLimiter(opts.HostDelay),
		logger:        logger.Named("fetcher"),
	}
}

// Fetch downloads and parses the feed at feedURL. Every failure, including the
// per-request timeout, is returned as a *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	domain := extractDomain(feedURL)
	if err := f.domainLimiter.acquire(ctx, domain); err != nil {
		return nil, &FetchError{URL: feedURL, Err: err}
	}
	defer f.domainLimiter.release(domain)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, &FetchError{URL: feedURL, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: feedURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{URL: feedURL, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	// gofeed.Parser is not safe for concurrent use.
	parsed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, &FetchError{URL: feedURL, Err: fmt.Errorf("parse: %w", err)}
	}
	f.logger.Debug("fetched feed",
		zap.String("url", feedURL),
		zap.Int("items", len(parsed.Items)),
		zap.Duration("took", time.Since(start)))
	return parsed, nil
}
