package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"mercari-watcher/models"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

var requiredSections = []string{"bot_settings", "schedule", "delays", "keywords"}

// Config holds all application configuration. Secrets come from the
// environment (optionally via key.env/.env), everything else from
// config.yaml with environment overrides.
type Config struct {
	BotToken string
	ChatID   string

	MaxSeenItems int
	SeenFile     string

	DailySummaryTime  string
	KeywordBatchDelay time.Duration
	FullCycleDelay    time.Duration

	RateCacheDuration time.Duration
	FallbackRate      float64

	FetchMode      string
	BaseURL        string
	MaxRetries     int
	RetryBaseDelay time.Duration
	FetchTimeout   time.Duration
	ChromeBin      string

	TranslateEnabled bool

	StorageBackend   string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
	RedisAddress     string
	RedisPassword    string
	RedisDB          int
	RedisKey         string

	StatusAddr string
	LogLevel   string
	LogFormat  string

	Keywords []models.Keyword
}

// Options tells Load where to look.
type Options struct {
	ConfigFile string   // default ./config.yaml
	EnvFiles   []string // default key.env, .env
}

// Load reads secrets and settings and validates them. Any error is a
// startup failure.
func Load(opts Options) (*Config, error) {
	envFiles := opts.EnvFiles
	if envFiles == nil {
		envFiles = []string{"key.env", ".env"}
	}
	// earlier files win; godotenv never overrides variables already set
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read config file: %w", err)
	}

	for _, section := range requiredSections {
		if !v.InConfig(section) {
			return nil, fmt.Errorf("%w: missing required section: %s", ErrInvalid, section)
		}
	}

	cfg := &Config{
		BotToken: os.Getenv("BOT_TOKEN"),
		ChatID:   os.Getenv("CHAT_ID"),

		MaxSeenItems: v.GetInt("bot_settings.max_seen_items"),
		SeenFile:     v.GetString("bot_settings.seen_file"),

		DailySummaryTime:  v.GetString("schedule.daily_summary_time"),
		KeywordBatchDelay: seconds(v, "delays.keyword_batch_delay"),
		FullCycleDelay:    seconds(v, "delays.full_cycle_delay"),

		RateCacheDuration: seconds(v, "rate.cache_duration"),
		FallbackRate:      v.GetFloat64("rate.fallback"),

		FetchMode:      strings.ToLower(v.GetString("fetch.mode")),
		BaseURL:        v.GetString("fetch.base_url"),
		MaxRetries:     v.GetInt("fetch.max_retries"),
		RetryBaseDelay: seconds(v, "fetch.retry_base_delay"),
		FetchTimeout:   seconds(v, "fetch.timeout"),
		ChromeBin:      v.GetString("fetch.chrome_bin"),

		TranslateEnabled: v.GetBool("translate.enabled"),

		StorageBackend:   strings.ToLower(v.GetString("storage.backend")),
		PostgresHost:     v.GetString("storage.postgres.host"),
		PostgresPort:     v.GetString("storage.postgres.port"),
		PostgresUser:     v.GetString("storage.postgres.user"),
		PostgresPassword: v.GetString("storage.postgres.password"),
		PostgresDB:       v.GetString("storage.postgres.dbname"),
		PostgresSSLMode:  v.GetString("storage.postgres.sslmode"),
		RedisAddress:     v.GetString("storage.redis.address"),
		RedisPassword:    v.GetString("storage.redis.password"),
		RedisDB:          v.GetInt("storage.redis.db"),
		RedisKey:         v.GetString("storage.redis.key"),

		StatusAddr: v.GetString("status.addr"),
		LogLevel:   v.GetString("log.level"),
		LogFormat:  v.GetString("log.format"),
	}

	if err := v.UnmarshalKey("keywords", &cfg.Keywords); err != nil {
		return nil, fmt.Errorf("%w: keywords: %v", ErrInvalid, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bot_settings.max_seen_items", 6000)
	v.SetDefault("bot_settings.seen_file", "seen_items.json")
	v.SetDefault("schedule.daily_summary_time", "12:30")
	v.SetDefault("delays.keyword_batch_delay", 10)
	v.SetDefault("delays.full_cycle_delay", 60)
	v.SetDefault("rate.cache_duration", 3600)
	v.SetDefault("rate.fallback", 145.0)
	v.SetDefault("fetch.mode", "http")
	v.SetDefault("fetch.base_url", "https://buyee.jp")
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.retry_base_delay", 2)
	v.SetDefault("fetch.timeout", 30)
	v.SetDefault("fetch.chrome_bin", "")
	v.SetDefault("translate.enabled", true)
	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.postgres.host", "localhost")
	v.SetDefault("storage.postgres.port", "5432")
	v.SetDefault("storage.postgres.user", "watcher")
	v.SetDefault("storage.postgres.password", "")
	v.SetDefault("storage.postgres.dbname", "mercari_watcher")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.redis.address", "localhost:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.key", "mercari-watcher:seen")
	v.SetDefault("status.addr", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// seconds reads a key holding a number of seconds.
func seconds(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetFloat64(key) * float64(time.Second))
}

// Validate checks the values Load cannot default.
func (c *Config) Validate() error {
	if c.BotToken == "" || c.ChatID == "" {
		return fmt.Errorf("%w: BOT_TOKEN and CHAT_ID must be set", ErrInvalid)
	}
	if len(c.Keywords) == 0 {
		return fmt.Errorf("%w: no keywords configured", ErrInvalid)
	}
	for i, kw := range c.Keywords {
		if strings.TrimSpace(kw.Original) == "" {
			return fmt.Errorf("%w: keyword %d has no original text", ErrInvalid, i+1)
		}
	}
	if _, err := time.Parse("15:04", c.DailySummaryTime); err != nil {
		return fmt.Errorf("%w: schedule.daily_summary_time %q is not HH:MM", ErrInvalid, c.DailySummaryTime)
	}
	if c.MaxSeenItems <= 0 {
		return fmt.Errorf("%w: bot_settings.max_seen_items must be positive", ErrInvalid)
	}
	if c.KeywordBatchDelay < 0 || c.FullCycleDelay < 0 {
		return fmt.Errorf("%w: delays must not be negative", ErrInvalid)
	}
	switch c.FetchMode {
	case "http", "browser":
	default:
		return fmt.Errorf("%w: fetch.mode must be http or browser, got %q", ErrInvalid, c.FetchMode)
	}
	switch c.StorageBackend {
	case "file", "postgres", "redis":
	default:
		return fmt.Errorf("%w: storage.backend must be file, postgres or redis, got %q", ErrInvalid, c.StorageBackend)
	}
	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}
