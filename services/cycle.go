package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mercari-watcher/metrics"
	"mercari-watcher/models"
	"mercari-watcher/utils"
)

const (
	msgShutdown          = "🔴 Mercari bot has stopped."
	defaultShutdownGrace = 15 * time.Second
)

// ErrCyclePanic is returned by Run when a cycle panicked.
var ErrCyclePanic = errors.New("cycle: unexpected failure")

// Notifier delivers messages to the chat. Delivery errors are handled by
// the implementation and never reach the caller.
type Notifier interface {
	SendText(ctx context.Context, message string)
	SendMedia(ctx context.Context, item models.ActionableItem)
}

// RateQuoter supplies the exchange rate for a cycle.
type RateQuoter interface {
	Rate(ctx context.Context) models.RateQuote
}

// CycleStore is the seen store as used by the runner.
type CycleStore interface {
	SeenEvaluator
	Save(ctx context.Context) error
}

// CycleConfig holds the scheduling parameters of a CycleRunner.
type CycleConfig struct {
	Keywords          []models.Keyword
	KeywordBatchDelay time.Duration
	FullCycleDelay    time.Duration
	DailySummaryTime  string // HH:MM, local time
	ShutdownGrace     time.Duration
}

// CycleStatus describes the last completed cycle.
type CycleStatus struct {
	FinishedAt time.Time
	Duration   time.Duration
	Items      int
	Rate       models.RateQuote
}

// CycleRunner drives discovery over all keywords, one keyword at a time.
type CycleRunner struct {
	cfg      CycleConfig
	engine   *DiscoveryEngine
	rates    RateQuoter
	store    CycleStore
	notifier Notifier
	counter  *DailyCounter
	summary  *SummaryService
	logger   *utils.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu   sync.RWMutex
	last CycleStatus
}

func NewCycleRunner(
	cfg CycleConfig,
	engine *DiscoveryEngine,
	rates RateQuoter,
	store CycleStore,
	notifier Notifier,
	counter *DailyCounter,
	logger *utils.Logger,
	m *metrics.Metrics,
) *CycleRunner {
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = defaultShutdownGrace
	}
	return &CycleRunner{
		cfg:      cfg,
		engine:   engine,
		rates:    rates,
		store:    store,
		notifier: notifier,
		counter:  counter,
		summary:  NewSummaryService(logger),
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// RunCycle makes one pass over the configured keywords and saves the seen
// store. It returns early only when ctx is cancelled.
func (r *CycleRunner) RunCycle(ctx context.Context) error {
	start := r.now()
	quote := r.rates.Rate(ctx)
	r.logger.Info("[cycle] Starting cycle over %d keywords (rate %v, %s)", len(r.cfg.Keywords), quote.Value, quote.Source)

	total := 0
	for _, kw := range r.cfg.Keywords {
		total += r.runKeyword(ctx, kw, quote.Value)

		// the pause runs after every keyword, however long it took
		if err := utils.SleepContext(ctx, r.cfg.KeywordBatchDelay); err != nil {
			return fmt.Errorf("cycle: %w", err)
		}
	}

	// the error is already logged and counted by the store
	_ = r.store.Save(ctx)

	elapsed := r.now().Sub(start)
	r.metrics.CycleDuration.Observe(elapsed.Seconds())

	r.mu.Lock()
	r.last = CycleStatus{FinishedAt: r.now(), Duration: elapsed, Items: total, Rate: quote}
	r.mu.Unlock()

	r.logger.Info("[cycle] ✅ Finished a full cycle of keyword searches (%d new items)", total)
	return nil
}

// runKeyword discovers and notifies one keyword. A panic is logged and the
// keyword skipped so the remaining ones still run.
func (r *CycleRunner) runKeyword(ctx context.Context, kw models.Keyword, rate float64) (sent int) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("[cycle] Error processing keyword '%s': %v", kw.Original, p)
			r.metrics.KeywordFailures.Inc()
			sent = 0
		}
	}()

	r.logger.Info("[cycle] 🔍 Starting search for keyword: %s (Translated: %s)", kw.Original, kw.Label())
	items := r.engine.Discover(ctx, kw.Original, r.store, rate)
	if len(items) == 0 {
		r.logger.Info("[cycle] No new items found for keyword: %s", kw.Original)
		return 0
	}

	r.notifier.SendText(ctx, fmt.Sprintf("🔍 Found new listings for: <b>%s</b>...", kw.Label()))
	r.logger.Info("[cycle] Sending %d items for keyword: %s", len(items), kw.Original)
	for _, item := range items {
		r.notifier.SendMedia(ctx, item)
	}
	r.notifier.SendText(ctx, fmt.Sprintf("✅ Done! Found <b>%d</b> new %s for <b>%s</b>.", len(items), pluralItems(len(items)), kw.Label()))
	return len(items)
}

// LastCycle returns the status of the last completed cycle. ok is false
// before the first one finishes.
func (r *CycleRunner) LastCycle() (CycleStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last, !r.last.FinishedAt.IsZero()
}

// Run schedules the daily summary and runs cycles until ctx is cancelled
// or a cycle panics. Either way it saves the store and announces the
// shutdown before returning. A panic is returned as an error.
func (r *CycleRunner) Run(ctx context.Context) error {
	spec, err := DailySpec(r.cfg.DailySummaryTime)
	if err != nil {
		return err
	}

	c := cron.New()
	if _, err := c.AddFunc(spec, func() { r.SendDailySummary(ctx) }); err != nil {
		return fmt.Errorf("cycle: schedule daily summary: %w", err)
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()
	defer r.shutdown(ctx)

	r.logger.Info("[cycle] 🚀 Mercari bot is starting (daily summary at %s)", r.cfg.DailySummaryTime)

	for {
		if err := r.safeCycle(ctx); err != nil {
			if errors.Is(err, ErrCyclePanic) {
				return err
			}
			r.logger.Info("[cycle] 🛑 Bot stopped by interrupt")
			return nil
		}

		r.logger.Info("[cycle] Waiting %s for next cycle...", r.cfg.FullCycleDelay)
		select {
		case <-ctx.Done():
			r.logger.Info("[cycle] 🛑 Bot stopped by interrupt")
			return nil
		case <-time.After(r.cfg.FullCycleDelay):
		}
	}
}

func (r *CycleRunner) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("[cycle] An unhandled critical error occurred: %v", p)
			r.notifier.SendText(context.WithoutCancel(ctx), fmt.Sprintf("❗️ An error occurred: %v", p))
			err = fmt.Errorf("%w: %v", ErrCyclePanic, p)
		}
	}()
	return r.RunCycle(ctx)
}

// shutdown runs on a detached context so an interrupt does not cut the
// final save short.
func (r *CycleRunner) shutdown(ctx context.Context) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.ShutdownGrace)
	defer cancel()

	_ = r.store.Save(sctx)
	r.notifier.SendText(sctx, msgShutdown)
	r.logger.Info("[cycle] 🔴 Mercari bot is shutting down")
}

// SendDailySummary flushes the daily counter and sends the summary.
func (r *CycleRunner) SendDailySummary(ctx context.Context) {
	counts := r.counter.Flush()
	report := r.summary.Generate(r.now(), counts, r.cfg.Keywords)
	r.notifier.SendText(ctx, r.summary.Format(report))
	r.logger.Info("[cycle] Daily summary sent (%d items) and daily counts cleared", report.Total)
}

// DailySpec converts "HH:MM" into a cron spec firing once a day.
func DailySpec(hhmm string) (string, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return "", fmt.Errorf("cycle: invalid daily summary time %q: %w", hhmm, err)
	}
	return fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour()), nil
}
