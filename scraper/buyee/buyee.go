// Package buyee fetches Mercari search results through the Buyee proxy.
package buyee

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"mercari-watcher/metrics"
	"mercari-watcher/models"
	"mercari-watcher/utils"
)

const (
	DefaultBaseURL        = "https://buyee.jp"
	DefaultTimeout        = 30 * time.Second
	DefaultMaxRetries     = 3
	DefaultRetryBaseDelay = 2 * time.Second

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Options configures both listing sources.
type Options struct {
	BaseURL        string
	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	ChromeBin      string // browser source only
}

func (o Options) withDefaults() Options {
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = DefaultRetryBaseDelay
	}
	return o
}

// SearchURL returns the newest-first, on-sale search page for keyword.
func SearchURL(base *url.URL, keyword string) string {
	u := base.ResolveReference(&url.URL{Path: "/mercari/search"})
	q := url.Values{}
	q.Set("keyword", keyword)
	q.Set("order-sort", "desc-created_time")
	q.Set("status", "on_sale")
	u.RawQuery = q.Encode()
	return u.String()
}

func newRetryPolicy(o Options, logger *utils.Logger, m *metrics.Metrics) *utils.RetryPolicy {
	return &utils.RetryPolicy{
		MaxAttempts: o.MaxRetries,
		BaseDelay:   o.RetryBaseDelay,
		Multiplier:  2,
		Logger:      logger,
		OnRetry:     func(int, error) { m.FetchRetries.Inc() },
	}
}

// Scraper is the plain HTTP listing source.
type Scraper struct {
	client  *resty.Client
	base    *url.URL
	retry   *utils.RetryPolicy
	logger  *utils.Logger
	metrics *metrics.Metrics
}

// New creates an HTTP Scraper.
func New(opts Options, logger *utils.Logger, m *metrics.Metrics) (*Scraper, error) {
	opts = opts.withDefaults()
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("buyee: invalid base url %q: %w", opts.BaseURL, err)
	}

	client := resty.New().
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8").
		SetHeader("Accept-Language", "ja,en-US;q=0.9,en;q=0.8")

	return &Scraper{
		client:  client,
		base:    base,
		retry:   newRetryPolicy(opts, logger, m),
		logger:  logger,
		metrics: m,
	}, nil
}

// Fetch loads the search page for keyword, follows its result iframe and
// returns the listed items, newest first.
func (s *Scraper) Fetch(ctx context.Context, keyword string) ([]models.ListingRecord, error) {
	searchURL := SearchURL(s.base, keyword)
	s.logger.Info("[buyee] Fetching search page: %s", searchURL)

	page, err := s.get(ctx, "fetch-search-page", searchURL)
	if err != nil {
		s.metrics.FetchFailures.Inc()
		return nil, fmt.Errorf("buyee: search page for %q: %w", keyword, err)
	}

	iframeURL, err := ExtractIframeURL(bytes.NewReader(page), s.base)
	if err != nil {
		return nil, fmt.Errorf("buyee: keyword %q: %w", keyword, err)
	}
	s.logger.Debug("[buyee] Extracted iframe URL: %s", iframeURL)

	results, err := s.get(ctx, "fetch-results", iframeURL)
	if err != nil {
		s.metrics.FetchFailures.Inc()
		return nil, fmt.Errorf("buyee: results for %q: %w", keyword, err)
	}

	records, err := ParseListings(bytes.NewReader(results), keyword, s.base)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		s.logger.Warn("[buyee] No item elements found for keyword: %s", keyword)
	} else {
		s.logger.Info("[buyee] Found %d listings for keyword: %s", len(records), keyword)
	}
	return records, nil
}

// get fetches target with retries. Client errors other than 429 are not
// retried.
func (s *Scraper) get(ctx context.Context, op, target string) ([]byte, error) {
	var body []byte
	err := s.retry.Do(ctx, op, func(ctx context.Context) error {
		resp, err := s.client.R().SetContext(ctx).Get(target)
		if err != nil {
			return err
		}
		if err := statusError(resp.StatusCode()); err != nil {
			return err
		}
		body = resp.Body()
		return nil
	})
	return body, err
}

func statusError(code int) error {
	switch {
	case code < 400:
		return nil
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("status %d", code)
	default:
		return utils.Permanent(fmt.Errorf("status %d", code))
	}
}
