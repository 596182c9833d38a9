package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/alexjbarnes/fieldsync/internal/cache"
	"github.com/alexjbarnes/fieldsync/internal/config"
	"github.com/alexjbarnes/fieldsync/internal/kv"
	"github.com/alexjbarnes/fieldsync/internal/logging"
	"github.com/alexjbarnes/fieldsync/internal/offline"
	"github.com/alexjbarnes/fieldsync/internal/probe"
	"github.com/alexjbarnes/fieldsync/internal/reachability"
	"github.com/alexjbarnes/fieldsync/internal/remote"
	"github.com/alexjbarnes/fieldsync/internal/session"
	"github.com/alexjbarnes/fieldsync/internal/telemetry"
)

const httpTimeout = 30 * time.Second

// app holds every long-lived component. Components are built once here
// and injected; nothing is a package-level singleton.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	sink   *telemetry.AsyncSink

	secure  *kv.SecureStore
	plain   *kv.PlainStore
	cache   *cache.Cache
	session *session.Session
	client  *remote.Client
	monitor *reachability.Monitor
	prober  *probe.Prober
	orch    *offline.Orchestrator

	unsubscribe func()
}

// openApp loads config and opens every store. Store initialization
// failure is fatal.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLoggerWithLevel(cfg.Environment, cfg.LogLevel)
	logger.Debug("fieldsync starting",
		slog.String("version", Version),
		slog.String("data_dir", cfg.DataDir),
	)

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		sink:   telemetry.NewAsyncSink(telemetry.NewLogSink(logger)),
	}

	a.secure = kv.NewSecureStore(cfg.SecurePath(), kv.NewFileKeystore(cfg.KeystoreDir), logger, kv.SecureOptions{
		ServiceID: cfg.ServiceID,
		Strict:    cfg.Strict(),
		Sink:      a.sink,
	})

	if err := a.secure.Initialize(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("initializing secure store: %w", err)
	}

	a.plain, err = kv.OpenPlainStore(cfg.PlainPath(), logger, a.sink)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("opening plain store: %w", err)
	}

	a.cache, err = cache.Open(cfg.CachePath(), logger, a.sink)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("opening cache: %w", err)
	}

	a.session = session.New(a.secure)

	stored, _ := a.session.BaseURL()
	baseURL := resolveBaseURL(logger, cfg.APIURL, stored)

	a.client = remote.NewClient(baseURL, a.session, &http.Client{Timeout: httpTimeout}, logger)

	a.monitor = reachability.New(&reachability.TransportProber{URL: cfg.ReachabilityURL}, logger, reachability.Options{
		Debounce: cfg.Debounce,
		Sink:     a.sink,
	})

	_, a.unsubscribe = a.monitor.Subscribe(func(usable bool) {
		a.plain.SetBool(kv.LastKnownOnline, usable)
	})

	a.prober = probe.New(cfg.ProbeURL, a.monitor, logger, probe.Options{
		Attempts: cfg.ProbeAttempts,
		Timeout:  cfg.ProbeTimeout,
		Sink:     a.sink,
	})

	a.orch = offline.New(a.client, a.monitor, a.cache, logger, offline.Options{
		OfflineDelay: cfg.OfflineDelay,
		Sink:         a.sink,
	})

	return a, nil
}

// resolveBaseURL picks the API base URL. The URL stored at login wins,
// since the session tokens were issued by that server. A differing
// configured URL is logged so the override is visible; logging in again
// switches servers.
func resolveBaseURL(logger *slog.Logger, configured, stored string) string {
	if stored == "" {
		return configured
	}

	if stored != configured {
		logger.Warn("using API URL stored at login instead of FIELDSYNC_API_URL",
			slog.String("stored", stored),
			slog.String("configured", configured),
		)
	}

	return stored
}

// observe takes one immediate connectivity reading for one-shot commands.
func (a *app) observe(ctx context.Context) bool {
	usable := a.monitor.Refresh(ctx)
	a.plain.SetBool(kv.LastKnownOnline, usable)

	return usable
}

// Close releases everything openApp acquired, in reverse order.
func (a *app) Close() {
	if a.unsubscribe != nil {
		a.unsubscribe()
	}

	if a.monitor != nil {
		a.monitor.Close()
	}

	var errs []error

	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}

	if a.plain != nil {
		errs = append(errs, a.plain.Close())
	}

	if a.secure != nil {
		errs = append(errs, a.secure.Close())
	}

	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("closing stores", slog.String("error", err.Error()))
	}

	a.sink.Close()

	if n := a.sink.Dropped(); n > 0 {
		a.logger.Warn("telemetry records dropped", slog.Int64("count", n))
	}
}
