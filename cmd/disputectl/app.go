package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/goliatone/go-logger/glog"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	dispute "github.com/goliatone/go-dispute"
	"github.com/goliatone/go-dispute/api"
	"github.com/goliatone/go-dispute/cache"
	"github.com/goliatone/go-dispute/config"
	"github.com/goliatone/go-dispute/cron"
	"github.com/goliatone/go-dispute/fetch"
	"github.com/goliatone/go-dispute/flow"
	"github.com/goliatone/go-dispute/generation"
	"github.com/goliatone/go-dispute/metrics"
	"github.com/goliatone/go-dispute/notify"
	"github.com/goliatone/go-dispute/sandbox"
	"github.com/goliatone/go-dispute/store"
)

// app holds the wired service graph.
type app struct {
	cfg       config.Config
	logger    flow.Logger
	sys       *sandbox.Systems
	gateway   *generation.Gateway
	engine    *flow.Engine
	metrics   *metrics.Recorder
	notifier  *notify.Fanout
	scheduler *cron.Scheduler
	closers   []func() error
}

func newLogger(cfg config.LogConfig, out io.Writer) flow.Logger {
	if out == nil {
		out = os.Stderr
	}
	if cfg.Format == "json" {
		return flow.NewGlogLogger(glog.NewLogger(glog.WithWriter(out), glog.WithLevel(cfg.Level), glog.WithLoggerTypeJSON()))
	}
	return flow.NewGlogLogger(glog.NewLogger(glog.WithWriter(out), glog.WithLevel(cfg.Level)))
}

func component(l flow.Logger, name string) flow.Logger {
	if fl, ok := l.(flow.FieldsLogger); ok {
		return fl.WithFields(map[string]any{"component": name})
	}
	return l
}

func loadFixtures(path string) (*sandbox.Fixtures, error) {
	if strings.TrimSpace(path) == "" {
		return sandbox.ParseFixtures([]byte(sandbox.DefaultFixtures))
	}
	return sandbox.LoadFixtures(path)
}

func newApp(ctx context.Context, cfg config.Config, logger flow.Logger) (*app, error) {
	if logger == nil {
		logger = flow.NewFmtLogger(nil)
	}
	a := &app{cfg: cfg, logger: logger}

	runs, closeStore, err := store.Open(ctx, cfg.StoreOptions())
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeStore)

	fx, err := loadFixtures(cfg.Fixtures)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.sys = sandbox.NewSystems(fx)

	a.metrics = metrics.NewRecorder(prometheus.NewRegistry())

	var generator dispute.Generator
	if cfg.Generation.Enabled {
		generator = a.sys.Generator
	}
	resolutions := cache.New(
		cache.WithTTL(cfg.Cache.TTL),
		cache.WithCapacity(cfg.Cache.Capacity),
		cache.WithEvictBatch(cfg.Cache.EvictBatch),
	)
	a.gateway = generation.NewGateway(generator,
		generation.WithCache(resolutions),
		generation.WithRetriever(a.sys.Knowledge),
		generation.WithLimiter(rate.NewLimiter(rate.Limit(cfg.Generation.RatePerSecond), cfg.Generation.Burst)),
		generation.WithTimeout(cfg.Generation.Timeout),
		generation.WithLogger(component(logger, "generation")),
		generation.WithObserver(a.metrics),
	)
	if err := a.metrics.WatchCache(resolutions.Stats); err != nil {
		a.Close()
		return nil, err
	}

	coordinator := fetch.NewCoordinator(a.sys.Cases, a.sys.Billing, a.sys.Payments,
		fetch.WithMaxConcurrency(cfg.Fetch.MaxConcurrency),
		fetch.WithCallTimeout(cfg.Fetch.CallTimeout),
		fetch.WithDeadline(cfg.Fetch.Deadline),
		fetch.WithRetries(cfg.Fetch.Retries),
		fetch.WithLogger(component(logger, "fetch")),
	)

	notifyLogger := component(logger, "notify")
	targets := []dispute.Notifier{a.sys.Outbox, notify.LogNotifier{Logger: notifyLogger}}
	if cfg.Notify.WebhookURL != "" {
		targets = append(targets, &notify.Webhook{
			URL:     cfg.Notify.WebhookURL,
			Headers: cfg.Notify.WebhookHeaders,
			Client:  &http.Client{Timeout: cfg.Notify.Timeout},
		})
	}
	a.notifier = notify.NewFanout(targets,
		notify.WithTimeout(cfg.Notify.Timeout),
		notify.WithRetries(cfg.Notify.Retries),
		notify.WithLogger(notifyLogger),
	)

	a.engine, err = flow.NewEngine(flow.Dependencies{
		Store:    runs,
		Fetcher:  coordinator,
		Proposer: a.gateway,
		Cases:    a.sys.Cases,
		Billing:  a.sys.Billing,
		Payments: a.sys.Payments,
		Archiver: a.sys.Knowledge,
		Notifier: a.notifier,
	},
		flow.WithLogger(logger),
		flow.WithMetrics(a.metrics),
		flow.WithCallTimeout(cfg.Engine.CallTimeout),
		flow.WithPendingLimit(cfg.Engine.PendingLimit),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// schedule registers the maintenance jobs on a fresh scheduler.
func (a *app) schedule() ([]cron.Handle, error) {
	cronLogger := component(a.logger, "cron")
	a.scheduler = cron.NewScheduler(
		cron.WithLogger(cronLogger),
		cron.WithErrorHandler(func(err error) { cronLogger.Error("maintenance job failed: %v", err) }),
	)
	reminder := &cron.ReviewReminder{
		Runs:     a.engine,
		Notifier: a.notifier,
		After:    a.cfg.Cron.ReminderAfter,
		Logger:   cronLogger,
	}
	return cron.RegisterMaintenance(a.scheduler, cron.Maintenance{
		CacheSweep:     a.cfg.Cron.CacheSweep,
		ReviewReminder: a.cfg.Cron.ReviewReminder,
		Timeout:        a.cfg.Cron.JobTimeout,
	}, a.gateway.Cache(), reminder)
}

func (a *app) handler() http.Handler {
	return api.NewServer(a.engine,
		api.WithGeneration(a.gateway),
		api.WithMetricsHandler(a.metrics.Handler()),
		api.WithLogger(component(a.logger, "http")),
	)
}

// Close releases the store and stops the scheduler if one was started.
func (a *app) Close() error {
	var errs []error
	if a.scheduler != nil {
		if err := a.scheduler.Stop(context.Background()); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
