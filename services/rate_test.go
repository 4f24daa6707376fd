package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercari-watcher/metrics"
	"mercari-watcher/models"
	"mercari-watcher/utils"
)

type stubFetcher struct {
	rates []float64
	errs  []error
	calls int
}

func (s *stubFetcher) FetchRate(context.Context) (float64, error) {
	i := s.calls
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	if err != nil {
		return 0, err
	}
	if i < len(s.rates) {
		return s.rates[i], nil
	}
	return 0, errors.New("no more rates")
}

func newTestRateProvider(f RateFetcher, now *time.Time) (*RateProvider, *metrics.Metrics) {
	m := metrics.New()
	p := NewRateProvider(f, time.Hour, 0, utils.NewNopLogger(), m)
	p.now = func() time.Time { return *now }
	return p, m
}

func TestRateProviderFallbackWithoutCache(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p, m := newTestRateProvider(&stubFetcher{errs: []error{errors.New("down")}}, &now)

	q := p.Rate(context.Background())

	assert.Equal(t, 145.0, q.Value)
	assert.Equal(t, models.RateFallback, q.Source)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Fallbacks.WithLabelValues(metrics.FallbackRateDefault)))
}

func TestRateProviderCachesWithinDuration(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := &stubFetcher{rates: []float64{150.5, 152.0}}
	p, _ := newTestRateProvider(f, &now)

	q := p.Rate(context.Background())
	assert.Equal(t, 150.5, q.Value)
	assert.Equal(t, models.RateLive, q.Source)

	now = now.Add(59 * time.Minute)
	q = p.Rate(context.Background())
	assert.Equal(t, 150.5, q.Value)
	assert.Equal(t, models.RateCached, q.Source)
	assert.Equal(t, 1, f.calls)

	now = now.Add(time.Minute)
	q = p.Rate(context.Background())
	assert.Equal(t, 152.0, q.Value)
	assert.Equal(t, models.RateLive, q.Source)
	assert.Equal(t, 2, f.calls)
}

func TestRateProviderStaleCacheOnFailure(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := &stubFetcher{rates: []float64{149.25}, errs: []error{nil, errors.New("timeout"), errors.New("timeout")}}
	p, m := newTestRateProvider(f, &now)

	require.Equal(t, 149.25, p.Rate(context.Background()).Value)

	now = now.Add(2 * time.Hour)
	q := p.Rate(context.Background())
	assert.Equal(t, 149.25, q.Value)
	assert.Equal(t, models.RateStaleCache, q.Source)

	// a failed refresh does not renew the cache, so the next call retries
	q = p.Rate(context.Background())
	assert.Equal(t, 149.25, q.Value)
	assert.Equal(t, 3, f.calls)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Fallbacks.WithLabelValues(metrics.FallbackRateCached)))
}

func TestRateProviderCustomFallback(t *testing.T) {
	p := NewRateProvider(&stubFetcher{errs: []error{errors.New("x")}}, 0, 160, utils.NewNopLogger(), metrics.New())
	assert.Equal(t, 160.0, p.Rate(context.Background()).Value)
	assert.Equal(t, DefaultRateCacheDuration, p.cacheFor)
}

func TestOpenERAPIFetchRate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":"success","base_code":"USD","rates":{"USD":1,"JPY":151.37}}`))
	}))
	defer srv.Close()

	rate, err := newOpenERAPI(srv.URL).FetchRate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 151.37, rate)
}

func TestOpenERAPIFetchRateErrors(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		},
		"missing jpy": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"result":"success","rates":{"EUR":0.9}}`))
		},
		"api error": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"result":"error","error-type":"unsupported-code"}`))
		},
	}

	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()

			_, err := newOpenERAPI(srv.URL).FetchRate(context.Background())
			assert.Error(t, err)
		})
	}
}
