package services

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"strings"
	"time"

	"mercari-watcher/metrics"
	"mercari-watcher/models"
	"mercari-watcher/utils"
)

// ListingSource fetches the current listings for a keyword, newest first.
type ListingSource interface {
	Fetch(ctx context.Context, keyword string) ([]models.ListingRecord, error)
}

// SeenEvaluator decides whether a listing is actionable and records it.
// storage.SeenStore is the production implementation.
type SeenEvaluator interface {
	Evaluate(signature string, amount int64, timestamp string) models.Decision
}

// DiscoveryEngine turns a keyword's listings into the items worth notifying.
type DiscoveryEngine struct {
	source     ListingSource
	prices     *PriceParser
	translator *TitleTranslator
	counter    *DailyCounter
	logger     *utils.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewDiscoveryEngine(
	source ListingSource,
	prices *PriceParser,
	translator *TitleTranslator,
	counter *DailyCounter,
	logger *utils.Logger,
	m *metrics.Metrics,
) *DiscoveryEngine {
	return &DiscoveryEngine{
		source:     source,
		prices:     prices,
		translator: translator,
		counter:    counter,
		logger:     logger,
		metrics:    m,
		now:        time.Now,
	}
}

// Discover fetches listings for keyword, checks each against store and
// returns the new or cheaper ones, oldest first. Fetch failures and bad
// records never surface as errors; the result is just shorter.
func (e *DiscoveryEngine) Discover(ctx context.Context, keyword string, store SeenEvaluator, rate float64) []models.ActionableItem {
	records, err := e.source.Fetch(ctx, keyword)
	if err != nil {
		e.logger.Error("[discovery] Fetch failed for keyword %s: %v", keyword, err)
		return nil
	}
	if len(records) == 0 {
		e.logger.Info("[discovery] No listings found for keyword: %s", keyword)
		return nil
	}

	var items []models.ActionableItem
	for _, rec := range records {
		if item, ok := e.process(ctx, keyword, rec, store, rate); ok {
			items = append(items, item)
		}
	}

	// source order is newest first; notify oldest first
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}

	if e.counter != nil {
		e.counter.Increment(keyword, len(items))
	}
	e.logger.Info("[discovery] %d of %d listings actionable for keyword: %s", len(items), len(records), keyword)
	return items
}

func (e *DiscoveryEngine) process(ctx context.Context, keyword string, rec models.ListingRecord, store SeenEvaluator, rate float64) (item models.ActionableItem, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("[discovery] Error processing listing %q: %v", rec.Title, r)
			e.metrics.DroppedRecords.WithLabelValues(metrics.DropPanic).Inc()
			item, ok = models.ActionableItem{}, false
		}
	}()

	if !isAbsoluteURL(rec.URL) || !isAbsoluteURL(rec.ImageURL) {
		e.logger.Debug("[discovery] Skipping listing without absolute url or image: %s", rec.Title)
		e.metrics.DroppedRecords.WithLabelValues(metrics.DropMissingURL).Inc()
		return models.ActionableItem{}, false
	}

	price, parsed := e.prices.Parse(rec.RawPrice, rate)
	if !parsed || price.Amount == 0 {
		e.logger.Debug("[discovery] Skipping listing with unusable price %q: %s", rec.RawPrice, rec.Title)
		e.metrics.DroppedRecords.WithLabelValues(metrics.DropPrice).Inc()
		return models.ActionableItem{}, false
	}

	title := e.translator.TranslateTitle(ctx, rec.Title)
	if title.Fallback {
		e.logger.Debug("[discovery] Signing untranslated title: %s", rec.Title)
	}
	now := e.now().Format(models.TimestampLayout)

	// identity follows the displayed title so stores written by earlier
	// versions of the bot keep matching
	decision := store.Evaluate(Signature(title.Text, rec.ImageURL), price.Amount, now)
	e.metrics.Decisions.WithLabelValues(decision.String()).Inc()
	if !decision.Actionable() {
		return models.ActionableItem{}, false
	}

	return models.ActionableItem{
		Title:        title.Text,
		URL:          rec.URL,
		ImageURL:     rec.ImageURL,
		DisplayPrice: price.Display,
		Timestamp:    now,
		Keyword:      keyword,
		Decision:     decision,
	}, true
}

// Signature is the listing identity: hex MD5 of the lowercased title
// followed by the image URL.
func Signature(title, imageURL string) string {
	sum := md5.Sum([]byte(strings.ToLower(title) + imageURL))
	return hex.EncodeToString(sum[:])
}

func isAbsoluteURL(u string) bool {
	return strings.HasPrefix(u, "https://") || strings.HasPrefix(u, "http://")
}
