package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mercari-watcher/config"
	"mercari-watcher/metrics"
	"mercari-watcher/notify"
	"mercari-watcher/scraper/buyee"
	"mercari-watcher/server"
	"mercari-watcher/services"
	"mercari-watcher/storage"
	"mercari-watcher/utils"
)

var (
	cfgFile  string
	envFiles []string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "mercari-watcher: %v\n", err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "mercari-watcher",
		Short:         "Watch Mercari listings through Buyee and notify Telegram",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatcher(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./config.yaml)")
	root.PersistentFlags().StringSliceVar(&envFiles, "env", nil, "env files with BOT_TOKEN/CHAT_ID (default key.env,.env)")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the watcher until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatcher(cmd.Context())
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "once",
		Short: "Run a single discovery cycle and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd.Context())
		},
	})

	var out string
	export := &cobra.Command{
		Use:   "export",
		Short: "Write the seen store to CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExport(cmd.Context(), out)
		},
	}
	export.Flags().StringVar(&out, "out", "seen_items.csv", "output CSV path")
	root.AddCommand(export)

	return root
}

// app holds everything the commands share.
type app struct {
	cfg     *config.Config
	logger  *utils.Logger
	metrics *metrics.Metrics
	store   *storage.SeenStore
	closers []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Close failed: %v", err)
		}
	}
	_ = a.logger.Sync()
}

// setup loads configuration and the seen store.
func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load(config.Options{ConfigFile: cfgFile, EnvFiles: envFiles})
	if err != nil {
		return nil, err
	}

	logger := utils.NewLoggerWithOptions(cfg.LogLevel, cfg.LogFormat)
	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}

	persister, err := newPersister(ctx, cfg)
	if err != nil {
		logger.Error("Failed to open %s storage: %v", cfg.StorageBackend, err)
		return nil, err
	}

	a.store = storage.NewSeenStore(persister, cfg.MaxSeenItems, logger, a.metrics)
	a.closers = append(a.closers, a.store.Close)
	a.store.Load(ctx)
	logger.Info("Loaded %d seen items from %s storage", a.store.Len(), cfg.StorageBackend)
	return a, nil
}

func newPersister(ctx context.Context, cfg *config.Config) (storage.SeenPersister, error) {
	switch cfg.StorageBackend {
	case "postgres":
		return storage.NewPostgresPersister(ctx, cfg.DSN())
	case "redis":
		return storage.NewRedisPersister(ctx, storage.RedisOptions{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Key:      cfg.RedisKey,
		})
	default:
		return storage.NewFilePersister(cfg.SeenFile), nil
	}
}

func newSource(a *app) (services.ListingSource, error) {
	opts := buyee.Options{
		BaseURL:        a.cfg.BaseURL,
		Timeout:        a.cfg.FetchTimeout,
		MaxRetries:     a.cfg.MaxRetries,
		RetryBaseDelay: a.cfg.RetryBaseDelay,
		ChromeBin:      a.cfg.ChromeBin,
	}
	if a.cfg.FetchMode == "browser" {
		b, err := buyee.NewBrowser(opts, a.logger, a.metrics)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, b.Close)
		return b, nil
	}
	return buyee.New(opts, a.logger, a.metrics)
}

// newRunner wires the discovery pipeline and verifies the bot credentials.
func newRunner(ctx context.Context, a *app) (*services.CycleRunner, *services.DailyCounter, error) {
	source, err := newSource(a)
	if err != nil {
		return nil, nil, fmt.Errorf("listing source: %w", err)
	}

	var translator services.Translator = services.NopTranslator{}
	if a.cfg.TranslateEnabled {
		translator = services.NewGoogleTranslator()
	}

	counter := services.NewDailyCounter()
	engine := services.NewDiscoveryEngine(
		source,
		services.NewPriceParser(a.logger, a.metrics),
		services.NewTitleTranslator(translator, a.logger, a.metrics),
		counter,
		a.logger,
		a.metrics,
	)
	rates := services.NewRateProvider(services.NewOpenERAPI(), a.cfg.RateCacheDuration, a.cfg.FallbackRate, a.logger, a.metrics)

	bot := notify.NewTelegram(a.cfg.BotToken, a.cfg.ChatID, a.logger, a.metrics)
	if err := bot.Check(ctx); err != nil {
		a.logger.Error("Telegram bot check failed: %v", err)
		return nil, nil, err
	}

	runner := services.NewCycleRunner(services.CycleConfig{
		Keywords:          a.cfg.Keywords,
		KeywordBatchDelay: a.cfg.KeywordBatchDelay,
		FullCycleDelay:    a.cfg.FullCycleDelay,
		DailySummaryTime:  a.cfg.DailySummaryTime,
	}, engine, rates, a.store, bot, counter, a.logger, a.metrics)
	return runner, counter, nil
}

func runWatcher(ctx context.Context) error {
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	a.logger.Info("=== Mercari watcher starting ===")
	a.logger.Info("Config | keywords: %d | mode: %s | cycle delay: %s | summary at %s",
		len(a.cfg.Keywords), a.cfg.FetchMode, a.cfg.FullCycleDelay, a.cfg.DailySummaryTime)

	runner, counter, err := newRunner(ctx, a)
	if err != nil {
		return err
	}

	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	serverErr := make(chan error, 1)
	if a.cfg.StatusAddr != "" {
		status := server.New(a.cfg.StatusAddr, server.Deps{
			Cycles:  runner,
			Seen:    a.store,
			Daily:   counter,
			Metrics: a.metrics,
		}, a.logger)
		go func() { serverErr <- status.Run(serverCtx) }()
	}

	err = runner.Run(ctx)
	stopServer()
	if a.cfg.StatusAddr != "" {
		if serr := <-serverErr; serr != nil {
			a.logger.Error("Status server failed: %v", serr)
		}
	}
	if errors.Is(err, services.ErrCyclePanic) {
		a.logger.Error("Watcher stopped after an unexpected error: %v", err)
	}
	return err
}

func runOnce(ctx context.Context) error {
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	runner, _, err := newRunner(ctx, a)
	if err != nil {
		return err
	}
	if err := runner.RunCycle(ctx); err != nil {
		return err
	}
	status, _ := runner.LastCycle()
	a.logger.Info("Cycle done in %s | new items: %d | rate: %.2f (%s)",
		status.Duration, status.Items, status.Rate.Value, status.Rate.Source)
	return nil
}

func runExport(ctx context.Context, out string) error {
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	w, err := storage.NewCSVWriter(out)
	if err != nil {
		return err
	}
	n, err := exportSeen(w, a.store)
	if err != nil {
		return err
	}
	a.logger.Info("Exported %d seen items to %s", n, out)
	return nil
}

func exportSeen(w storage.SeenRecordWriter, store *storage.SeenStore) (int, error) {
	defer w.Close()
	records := store.Records()
	if err := w.WriteSeen(records); err != nil {
		return 0, err
	}
	return len(records), nil
}
