// Package app wires chimed together: config, logging, the dual store, the
// automation facility, the trigger evaluator, and the schedule service.
// The App is an explicitly constructed, explicitly owned instance with a
// defined start/stop lifecycle; nothing here is a global singleton.
package app

import (
	"context"
	"fmt"
	"sync"

	"chime/internal/automation"
	"chime/internal/config"
	"chime/internal/notify"
	"chime/internal/playback"
	"chime/internal/service"
	"chime/internal/store"
	"chime/internal/trigger"
	logx "chime/pkg/logx"
)

type App struct {
	cfgm   *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store *store.DualStore
	trig  *trigger.Service
	svc   *service.Service

	mu     sync.Mutex
	cancel context.CancelFunc
	sub    chan *config.Config
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(loggingConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	cacheCfg := store.CacheConfig{Driver: cfg.Storage.Driver, Path: cfg.Storage.Path, BusyTimeout: busy}
	if cacheCfg.Driver == "" {
		cacheCfg.Driver = "file"
	}
	if cacheCfg.Path == "" {
		cacheCfg.Path = "./data/schedules.json"
	}
	cache, err := store.OpenCache(cacheCfg, log.With(logx.String("comp", "cache")))
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	remoteTimeout, err := config.ParseDurationOrDefault("remote.timeout", cfg.Remote.Timeout, 0)
	if err != nil {
		return nil, err
	}
	remote := store.NewHTTPRemote(store.RemoteConfig{
		BaseURL:    cfg.Remote.BaseURL,
		Timeout:    remoteTimeout,
		PushPerSec: cfg.Remote.PushPerSec,
	}, log.With(logx.String("comp", "remote")))

	dstore := store.New(cache, remote, log.With(logx.String("comp", "store")))

	player := playback.NewExecPlayer(cfg.Playback.Command, log.With(logx.String("comp", "player")))
	resolver := playback.NewLocalResolver(cfg.Playback.ClipRoots, log.With(logx.String("comp", "resolver")))

	autoTimeout, err := config.ParseDurationOrDefault("automation.timeout", cfg.Automation.Timeout, 0)
	if err != nil {
		return nil, err
	}
	facility := automation.New(automation.Config{
		Enabled:       boolOr(cfg.Automation.Enabled, true),
		UnitDir:       cfg.Automation.UnitDir,
		PlayerCommand: cfg.Playback.Command,
		Timeout:       autoTimeout,
	}, log.With(logx.String("comp", "automation")))

	alerts := notify.New(notify.Config{
		Enabled:    cfg.Notify.Enabled,
		Token:      cfg.Notify.Token,
		ChatID:     cfg.Notify.ChatID,
		RatePerSec: cfg.Notify.RatePerSec,
	}, log.With(logx.String("comp", "notify")))

	svc := service.New(dstore, facility, resolver, player, alerts, log.With(logx.String("comp", "service")))

	interval, err := config.ParseDurationOrDefault("trigger.interval", cfg.Trigger.Interval, 0)
	if err != nil {
		return nil, err
	}
	playTimeout, err := config.ParseDurationOrDefault("trigger.play_timeout", cfg.Trigger.PlayTimeout, 0)
	if err != nil {
		return nil, err
	}
	trig := trigger.New(trigger.Config{
		Enabled:     boolOr(cfg.Trigger.Enabled, true),
		Interval:    interval,
		PlayTimeout: playTimeout,
	}, dstore, player, log.With(logx.String("comp", "trigger")))

	return &App{
		cfgm:   cfgm,
		logSvc: logSvc,
		log:    log.With(logx.String("comp", "app")),
		store:  dstore,
		trig:   trig,
		svc:    svc,
	}, nil
}

// Service exposes the schedule façade to the UI layer.
func (a *App) Service() *service.Service { return a.svc }

func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel

	if err := a.store.Load(runCtx); err != nil {
		// Neither remote nor cache could be consulted; start empty rather
		// than refusing to run, but make some noise.
		a.log.Error("schedule load failed, starting empty", logx.Err(err))
	}
	if a.store.NeedsReconcile() {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.store.ReconcileFromCache(runCtx)
		}()
	}

	if err := a.trig.Start(runCtx); err != nil {
		cancel()
		a.cancel = nil
		return err
	}

	// Config hot reload: only logging is applied live; everything else
	// takes effect on restart.
	a.sub = a.cfgm.Subscribe(1)
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(runCtx)
	}()
	go func() {
		defer a.wg.Done()
		for cfg := range a.sub {
			if cfg == nil {
				continue
			}
			a.logSvc.Apply(loggingConfig(cfg))
			a.log.Info("config reloaded")
		}
	}()

	a.log.Info("chimed started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	sub := a.sub
	a.sub = nil
	a.mu.Unlock()
	if cancel == nil {
		return nil
	}

	a.trig.Stop(ctx)
	cancel()
	if sub != nil {
		a.cfgm.Unsubscribe(sub)
	}
	a.wg.Wait()

	err := a.store.Close()
	a.log.Info("chimed stopped")
	_ = a.logSvc.Close()
	return err
}

func loggingConfig(cfg *config.Config) logx.Config {
	out := logx.Config{
		Level:   cfg.Logging.Level,
		Console: boolOr(cfg.Logging.Console, true),
	}
	out.File.Enabled = cfg.Logging.File.Enabled
	out.File.Path = cfg.Logging.File.Path
	return out
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
