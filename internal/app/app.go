// Package app wires the configuration, logging, storage, and services into
// one runnable daemon.
package app

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"livecast/internal/config"
	"livecast/internal/eventbus"
	"livecast/internal/jobs"
	"livecast/internal/notify"
	"livecast/internal/relay"
	"livecast/internal/services/chat"
	"livecast/internal/services/scheduler"
	"livecast/internal/services/session"
	"livecast/internal/storage"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	log       zerolog.Logger
	logCloser io.Closer

	bus   eventbus.Bus
	store storage.Store

	jobs     *jobs.Service
	sessions *session.Service
	chat     *chat.Service
	notif    *notify.Service
	sched    *scheduler.Service

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	bootLog := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
	cfgm := config.NewManager(cfgPath, bootLog.With().Str("comp", "config").Logger())
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	log, logCloser, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	// Storage (optional)
	var store storage.Store
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err = storage.Open(sc, log.With().Str("comp", "storage").Logger())
	if err != nil {
		return nil, err
	}
	if store != nil {
		log.Info().Str("driver", sc.Driver).Msg("storage enabled")
	}

	jcfg, err := mapJobsConfig(cfg)
	if err != nil {
		return nil, err
	}
	jobsSvc := jobs.New(jcfg, bus, log.With().Str("comp", "jobs").Logger())

	scfg, err := mapSessionConfig(cfg)
	if err != nil {
		return nil, err
	}
	issuer := relay.LocalIssuer{
		IngestBase:   cfg.Session.IngestBaseURL,
		PlaybackBase: cfg.Session.PlaybackBaseURL,
	}
	sessionSvc := session.New(scfg, issuer, bus, log.With().Str("comp", "session").Logger())

	ccfg, err := mapChatConfig(cfg)
	if err != nil {
		return nil, err
	}
	chatSvc := chat.New(ccfg, bus, log.With().Str("comp", "chat").Logger())

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	var sender notify.Sender
	if cfg.Telegram != nil {
		ts, err := notify.NewTelegramSender(notify.TelegramConfig{
			Token:  cfg.Telegram.Token,
			ChatID: cfg.Telegram.ChatID,
		})
		if err != nil {
			return nil, err
		}
		sender = ts
	} else {
		sender = notify.LogSender{Log: log.With().Str("comp", "notify").Logger()}
	}
	notifSvc := notify.New(ncfg, sender, log.With().Str("comp", "notify").Logger())

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	schedSvc := scheduler.New(schedCfg, scheduler.Deps{
		Sessions:   sessionSvc,
		Chat:       chatSvc,
		Jobs:       jobsSvc,
		Relay:      relay.LogRelay{Log: log.With().Str("comp", "relay").Logger()},
		Dispatcher: notifSvc,
		Store:      store,
		Bus:        bus,
	}, log.With().Str("comp", "scheduler").Logger())

	return &App{
		cfgPath:   cfgPath,
		cfgm:      cfgm,
		log:       log.With().Str("comp", "app").Logger(),
		logCloser: logCloser,
		bus:       bus,
		store:     store,
		jobs:      jobsSvc,
		sessions:  sessionSvc,
		chat:      chatSvc,
		notif:     notifSvc,
		sched:     schedSvc,
	}, nil
}

// Scheduler exposes the orchestrator API.
func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Chat exposes the moderation engine API.
func (a *App) Chat() *chat.Service { return a.chat }

// Sessions exposes the session manager API.
func (a *App) Sessions() *session.Service { return a.sessions }

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapSchedulerConfig(cfg); err != nil {
			return err
		}
		if _, err := mapSessionConfig(cfg); err != nil {
			return err
		}
		if _, err := mapChatConfig(cfg); err != nil {
			return err
		}
		if _, err := mapJobsConfig(cfg); err != nil {
			return err
		}
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if cfg.Telegram != nil {
			if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
				return err
			}
		}
		return nil
	})

	a.jobs.Start(runCtx)
	if err := a.jobs.AddEvery("broadcast.monitor", a.sched.MonitorInterval(), a.sched.RunMonitor); err != nil {
		return err
	}
	if err := a.jobs.AddEvery("chat.sweep", a.chat.SweepInterval(), func(context.Context) error {
		a.chat.Sweep()
		return nil
	}); err != nil {
		return err
	}
	if err := a.jobs.AddEvery("session.engagement", a.sessions.EngagementInterval(), a.sessions.TickEngagement); err != nil {
		return err
	}

	a.notif.Start(runCtx)

	// Debug subscriber: log every lifecycle event at debug level.
	events, unsub := a.bus.Subscribe(128)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer unsub()
		for {
			select {
			case <-runCtx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug().Str("topic", string(e.Topic)).Time("time", e.Time).Msg("event")
			}
		}
	}()

	// Hot reload: logging level applies live; everything else requires a
	// restart and is only announced.
	sub := a.cfgm.Subscribe(8)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-runCtx.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				if level, err := zerolog.ParseLevel(newCfg.Logging.Level); err == nil && level != zerolog.NoLevel {
					zerolog.SetGlobalLevel(level)
					a.log.Info().Str("level", level.String()).Msg("log level updated")
				}
				a.log.Info().Msg("config reloaded; service sections apply on restart")
			}
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil {
			a.log.Warn().Err(err).Msg("config watch stopped")
		}
	}()

	a.log.Info().Msg("app started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	a.notif.Stop(stopCtx)
	a.jobs.Stop(stopCtx)

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-stopCtx.Done():
		a.log.Warn().Msg("background loops did not stop in time")
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("storage close failed")
		}
	}

	a.log.Info().Msg("stopped")
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
	return nil
}
