package buyee

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"mercari-watcher/metrics"
	"mercari-watcher/models"
	"mercari-watcher/utils"
)

const (
	browserPageTimeout = 90 * time.Second
	renderWait         = 4 * time.Second
)

// BrowserScraper renders the search pages in headless Chrome. It is slower
// than Scraper but survives markup that is only filled in by JavaScript.
type BrowserScraper struct {
	opts    Options
	base    *url.URL
	retry   *utils.RetryPolicy
	logger  *utils.Logger
	metrics *metrics.Metrics

	once        sync.Once
	browserCtx  context.Context
	cancelAlloc context.CancelFunc
	cancelTab   context.CancelFunc
}

// NewBrowser creates a BrowserScraper. Chrome is started on first use.
func NewBrowser(opts Options, logger *utils.Logger, m *metrics.Metrics) (*BrowserScraper, error) {
	opts = opts.withDefaults()
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("buyee: invalid base url %q: %w", opts.BaseURL, err)
	}
	return &BrowserScraper{
		opts:    opts,
		base:    base,
		retry:   newRetryPolicy(opts, logger, m),
		logger:  logger,
		metrics: m,
	}, nil
}

func (b *BrowserScraper) start() {
	chromeBin := findChromeBinary(b.opts.ChromeBin)
	b.logger.Info("[buyee] Using browser binary: %s", chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.UserAgent(userAgent),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	// Suppress chromedp log noise
	browserCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	b.browserCtx = browserCtx
	b.cancelAlloc = cancelAlloc
	b.cancelTab = cancelTab
}

// Fetch renders the search page for keyword, then its result iframe, and
// hands the iframe HTML to the shared extractor.
func (b *BrowserScraper) Fetch(ctx context.Context, keyword string) ([]models.ListingRecord, error) {
	b.once.Do(b.start)

	searchURL := SearchURL(b.base, keyword)
	b.logger.Info("[buyee] Rendering search page: %s", searchURL)

	var iframeURL string
	err := b.retry.Do(ctx, "render-search-page", func(ctx context.Context) error {
		return b.run(ctx,
			chromedp.Navigate(searchURL),
			chromedp.WaitReady(iframeSelector, chromedp.ByQuery),
			chromedp.Sleep(renderWait),
			chromedp.Evaluate(`(function() {
				var f = document.querySelector('#search_result_iframe');
				return f && f.src ? f.src : '';
			})()`, &iframeURL),
		)
	})
	if err != nil {
		b.metrics.FetchFailures.Inc()
		return nil, fmt.Errorf("buyee: render search page for %q: %w", keyword, err)
	}

	iframeURL = resolveURL(b.base, iframeURL)
	if iframeURL == "" {
		return nil, fmt.Errorf("buyee: keyword %q: %w", keyword, ErrNoIframeURL)
	}

	var html string
	err = b.retry.Do(ctx, "render-results", func(ctx context.Context) error {
		return b.run(ctx,
			chromedp.Navigate(iframeURL),
			chromedp.Sleep(renderWait),
			// Scroll to load lazy images
			chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
			chromedp.Sleep(time.Second),
			chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		)
	})
	if err != nil {
		b.metrics.FetchFailures.Inc()
		return nil, fmt.Errorf("buyee: render results for %q: %w", keyword, err)
	}

	records, err := ParseListings(strings.NewReader(html), keyword, b.base)
	if err != nil {
		return nil, err
	}
	b.logger.Info("[buyee] Found %d listings for keyword: %s", len(records), keyword)
	return records, nil
}

// run executes actions in a fresh tab that is closed when ctx is done.
func (b *BrowserScraper) run(ctx context.Context, actions ...chromedp.Action) error {
	tabCtx, cancel := chromedp.NewContext(b.browserCtx)
	defer cancel()

	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, browserPageTimeout)
	defer cancelTimeout()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(tabCtx, actions...); err != nil {
		return fmt.Errorf("chromedp: %w", err)
	}
	return nil
}

// Close shuts the browser down.
func (b *BrowserScraper) Close() error {
	if b.cancelTab != nil {
		b.cancelTab()
		b.cancelAlloc()
	}
	return nil
}

// findChromeBinary locates Chrome/Chromium binary.
func findChromeBinary(configured string) string {
	if configured != "" {
		return configured
	}
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
