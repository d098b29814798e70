package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	dispute "github.com/goliatone/go-dispute"
	"github.com/goliatone/go-dispute/cache"
	"github.com/goliatone/go-dispute/fetch"
	"github.com/goliatone/go-dispute/flow"
	"github.com/goliatone/go-dispute/generation"
	"github.com/goliatone/go-dispute/notify"
	"github.com/goliatone/go-dispute/store"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Fetch      FetchConfig      `yaml:"fetch"`
	Cache      CacheConfig      `yaml:"cache"`
	Generation GenerationConfig `yaml:"generation"`
	Engine     EngineConfig     `yaml:"engine"`
	Notify     NotifyConfig     `yaml:"notify"`
	Cron       CronConfig       `yaml:"cron"`
	Log        LogConfig        `yaml:"log"`
	Fixtures   string           `yaml:"fixtures"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

type StoreConfig struct {
	Driver        string `yaml:"driver" validate:"oneof=memory sqlite postgres redis"`
	DSN           string `yaml:"dsn"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db" validate:"gte=0"`
}

type FetchConfig struct {
	MaxConcurrency int           `yaml:"max_concurrency" validate:"gte=1"`
	CallTimeout    time.Duration `yaml:"call_timeout" validate:"gt=0"`
	Deadline       time.Duration `yaml:"deadline" validate:"gt=0"`
	Retries        int           `yaml:"retries" validate:"gte=0,lte=5"`
}

type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl" validate:"gt=0"`
	Capacity   int           `yaml:"capacity" validate:"gte=1"`
	EvictBatch int           `yaml:"evict_batch" validate:"gte=1"`
}

type GenerationConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Timeout       time.Duration `yaml:"timeout" validate:"gt=0"`
	RatePerSecond float64       `yaml:"rate_per_second" validate:"gt=0"`
	Burst         int           `yaml:"burst" validate:"gte=1"`
}

type EngineConfig struct {
	CallTimeout  time.Duration `yaml:"call_timeout" validate:"gt=0"`
	PendingLimit int           `yaml:"pending_limit" validate:"gte=1"`
}

type NotifyConfig struct {
	Timeout        time.Duration     `yaml:"timeout" validate:"gt=0"`
	Retries        int               `yaml:"retries" validate:"gte=0,lte=10"`
	WebhookURL     string            `yaml:"webhook_url" validate:"omitempty,url"`
	WebhookHeaders map[string]string `yaml:"webhook_headers"`
}

type CronConfig struct {
	CacheSweep     string        `yaml:"cache_sweep"`
	ReviewReminder string        `yaml:"review_reminder"`
	ReminderAfter  time.Duration `yaml:"reminder_after" validate:"gte=0"`
	JobTimeout     time.Duration `yaml:"job_timeout" validate:"gte=0"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

// Defaults returns a configuration that runs entirely in memory.
func Defaults() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Store:  StoreConfig{Driver: store.DriverMemory},
		Fetch: FetchConfig{
			MaxConcurrency: fetch.DefaultMaxConcurrency,
			CallTimeout:    fetch.DefaultCallTimeout,
			Deadline:       fetch.DefaultDeadline,
			Retries:        1,
		},
		Cache: CacheConfig{TTL: cache.DefaultTTL, Capacity: cache.DefaultCapacity, EvictBatch: cache.DefaultEvictBatch},
		Generation: GenerationConfig{
			Enabled:       true,
			Timeout:       generation.DefaultTimeout,
			RatePerSecond: generation.DefaultRatePerSecond,
			Burst:         generation.DefaultBurst,
		},
		Engine: EngineConfig{CallTimeout: flow.DefaultCallTimeout, PendingLimit: flow.DefaultPendingLimit},
		Notify: NotifyConfig{Timeout: notify.DefaultTimeout, Retries: notify.DefaultRetries},
		Cron: CronConfig{
			CacheSweep:     "@every 10m",
			ReviewReminder: "@hourly",
			ReminderAfter:  24 * time.Hour,
			JobTimeout:     time.Minute,
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads a YAML file, expanding ${VAR} references, over Defaults.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(raw)
}

// Parse decodes YAML over Defaults and validates the result.
func Parse(raw []byte) (Config, error) {
	expanded := os.ExpandEnv(string(raw))
	expanded = strings.ReplaceAll(expanded, "\r\n", "\n")

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, dispute.NewError(dispute.ErrValidation, "invalid config", err, nil)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return dispute.NewError(dispute.ErrValidation, "invalid config: "+describe(err), err, nil)
	}
	switch c.Store.Driver {
	case store.DriverSQLite, store.DriverPostgres:
		if c.Store.DSN == "" {
			return dispute.NewError(dispute.ErrValidation, fmt.Sprintf("store.dsn is required when store.driver=%s", c.Store.Driver), nil, nil)
		}
	case store.DriverRedis:
		if c.Store.RedisAddr == "" {
			return dispute.NewError(dispute.ErrValidation, "store.redis_addr is required when store.driver=redis", nil, nil)
		}
	}
	if c.Fetch.CallTimeout > c.Fetch.Deadline {
		return dispute.NewError(dispute.ErrValidation, "fetch.call_timeout must not exceed fetch.deadline", nil, nil)
	}
	if c.Cache.EvictBatch > c.Cache.Capacity {
		return dispute.NewError(dispute.ErrValidation, "cache.evict_batch must not exceed cache.capacity", nil, nil)
	}
	if c.Cron.ReviewReminder != "" && c.Cron.ReminderAfter <= 0 {
		return dispute.NewError(dispute.ErrValidation, "cron.reminder_after is required when cron.review_reminder is set", nil, nil)
	}
	return nil
}

// StoreOptions maps the store section onto store.Open options.
func (c Config) StoreOptions() store.Options {
	return store.Options{
		Driver:        c.Store.Driver,
		DSN:           c.Store.DSN,
		RedisAddr:     c.Store.RedisAddr,
		RedisPassword: c.Store.RedisPassword,
		RedisDB:       c.Store.RedisDB,
	}
}

func describe(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Namespace()), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
