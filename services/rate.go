package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"mercari-watcher/metrics"
	"mercari-watcher/models"
	"mercari-watcher/utils"
)

const (
	// DefaultFallbackRate is used when no live or cached rate exists.
	DefaultFallbackRate = 145.0
	// DefaultRateCacheDuration is how long a fetched rate stays fresh.
	DefaultRateCacheDuration = time.Hour

	openERAPIURL     = "https://open.er-api.com/v6/latest/USD"
	rateFetchTimeout = 5 * time.Second
)

// RateFetcher fetches a live USD→JPY rate.
type RateFetcher interface {
	FetchRate(ctx context.Context) (float64, error)
}

// RateProvider supplies a USD→JPY rate with time-boxed caching. It never
// fails: a stale cached rate is preferred over the fallback constant.
type RateProvider struct {
	fetcher  RateFetcher
	cacheFor time.Duration
	fallback float64
	now      func() time.Time
	logger   *utils.Logger
	metrics  *metrics.Metrics

	mu        sync.Mutex
	cached    float64
	fetchedAt time.Time
	hasCache  bool
}

// NewRateProvider creates a RateProvider. Non-positive cacheFor or
// fallback take the defaults.
func NewRateProvider(fetcher RateFetcher, cacheFor time.Duration, fallback float64, logger *utils.Logger, m *metrics.Metrics) *RateProvider {
	if cacheFor <= 0 {
		cacheFor = DefaultRateCacheDuration
	}
	if fallback <= 0 {
		fallback = DefaultFallbackRate
	}
	return &RateProvider{
		fetcher:  fetcher,
		cacheFor: cacheFor,
		fallback: fallback,
		now:      time.Now,
		logger:   logger,
		metrics:  m,
	}
}

// Rate returns the current rate and where it came from.
func (p *RateProvider) Rate(ctx context.Context) models.RateQuote {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.hasCache && now.Sub(p.fetchedAt) < p.cacheFor {
		p.logger.Debug("[rate] Using cached exchange rate: %v", p.cached)
		return models.RateQuote{Value: p.cached, Source: models.RateCached, FetchedAt: p.fetchedAt}
	}

	rate, err := p.fetcher.FetchRate(ctx)
	if err == nil {
		p.cached, p.fetchedAt, p.hasCache = rate, now, true
		p.logger.Info("[rate] Updated exchange rate: %v", rate)
		return models.RateQuote{Value: rate, Source: models.RateLive, FetchedAt: now}
	}

	if p.hasCache {
		p.logger.Warn("[rate] Exchange rate fetch failed, using cached rate %v: %v", p.cached, err)
		p.metrics.Fallbacks.WithLabelValues(metrics.FallbackRateCached).Inc()
		return models.RateQuote{Value: p.cached, Source: models.RateStaleCache, FetchedAt: p.fetchedAt}
	}

	p.logger.Warn("[rate] Exchange rate fetch failed, using default rate %v: %v", p.fallback, err)
	p.metrics.Fallbacks.WithLabelValues(metrics.FallbackRateDefault).Inc()
	return models.RateQuote{Value: p.fallback, Source: models.RateFallback}
}

// OpenERAPI fetches rates from open.er-api.com.
type OpenERAPI struct {
	client *resty.Client
	url    string
}

// NewOpenERAPI creates a fetcher against the public endpoint.
func NewOpenERAPI() *OpenERAPI {
	return newOpenERAPI(openERAPIURL)
}

func newOpenERAPI(url string) *OpenERAPI {
	client := resty.New()
	client.SetTimeout(rateFetchTimeout)
	return &OpenERAPI{client: client, url: url}
}

type erAPIResponse struct {
	Result string             `json:"result"`
	Rates  map[string]float64 `json:"rates"`
}

var errNoJPYRate = errors.New("response has no JPY rate")

// FetchRate returns the JPY rate for one US dollar.
func (o *OpenERAPI) FetchRate(ctx context.Context) (float64, error) {
	var body erAPIResponse
	resp, err := o.client.R().
		SetContext(ctx).
		SetResult(&body).
		Get(o.url)
	if err != nil {
		return 0, fmt.Errorf("rate: request: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("rate: status %d", resp.StatusCode())
	}
	if body.Result != "" && body.Result != "success" {
		return 0, fmt.Errorf("rate: result %q", body.Result)
	}

	jpy, ok := body.Rates["JPY"]
	if !ok || jpy <= 0 {
		return 0, fmt.Errorf("rate: %w", errNoJPYRate)
	}
	return jpy, nil
}
