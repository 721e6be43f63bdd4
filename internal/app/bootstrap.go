package app

import (
	"fmt"

	"livecast/internal/config"
	"livecast/internal/jobs"
	"livecast/internal/notify"
	"livecast/internal/services/chat"
	"livecast/internal/services/scheduler"
	"livecast/internal/services/session"
	"livecast/internal/storage"
)

// Config mapping: each map* function turns duration strings and omitted
// fields into the typed config a service expects. They double as reload
// validators, so they must reject rather than clamp bad values.

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	if cfg == nil {
		return scheduler.Config{}, nil
	}
	monitor, err := config.ParseDurationField("scheduler.monitor_interval", cfg.Scheduler.MonitorInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	grace, err := config.ParseDurationField("scheduler.overrun_grace", cfg.Scheduler.OverrunGrace)
	if err != nil {
		return scheduler.Config{}, err
	}
	delay, err := config.ParseDurationField("scheduler.delay_retry", cfg.Scheduler.DelayRetry)
	if err != nil {
		return scheduler.Config{}, err
	}
	startTimeout, err := config.ParseDurationField("scheduler.start_timeout", cfg.Scheduler.StartTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	if cfg.Scheduler.MaxOccurrences < 0 {
		return scheduler.Config{}, fmt.Errorf("scheduler.max_occurrences must be >= 0")
	}
	return scheduler.Config{
		MonitorInterval: monitor,
		MaxOccurrences:  cfg.Scheduler.MaxOccurrences,
		OverrunGrace:    grace,
		DelayRetry:      delay,
		StartTimeout:    startTimeout,
	}, nil
}

func mapSessionConfig(cfg *config.Config) (session.Config, error) {
	if cfg == nil {
		return session.Config{}, nil
	}
	interval, err := config.ParseDurationField("session.engagement_interval", cfg.Session.EngagementInterval)
	if err != nil {
		return session.Config{}, err
	}
	return session.Config{EngagementInterval: interval}, nil
}

func mapChatConfig(cfg *config.Config) (chat.Config, error) {
	if cfg == nil {
		return chat.Config{}, nil
	}
	retention, err := config.ParseDurationField("chat.retention", cfg.Chat.Retention)
	if err != nil {
		return chat.Config{}, err
	}
	sweep, err := config.ParseDurationField("chat.sweep_interval", cfg.Chat.SweepInterval)
	if err != nil {
		return chat.Config{}, err
	}
	if cfg.Chat.HistoryLimit < 0 {
		return chat.Config{}, fmt.Errorf("chat.history_limit must be >= 0")
	}
	return chat.Config{
		HistoryLimit:  cfg.Chat.HistoryLimit,
		Retention:     retention,
		SweepInterval: sweep,
	}, nil
}

func mapJobsConfig(cfg *config.Config) (jobs.Config, error) {
	if cfg == nil {
		return jobs.Config{}, nil
	}
	if cfg.Jobs.Workers < 0 {
		return jobs.Config{}, fmt.Errorf("jobs.workers must be >= 0")
	}
	if cfg.Jobs.QueueSize < 0 {
		return jobs.Config{}, fmt.Errorf("jobs.queue_size must be >= 0")
	}
	if cfg.Jobs.RetryMax < 0 {
		return jobs.Config{}, fmt.Errorf("jobs.retry_max must be >= 0")
	}
	defTimeout, err := config.ParseDurationField("jobs.default_timeout", cfg.Jobs.DefaultTimeout)
	if err != nil {
		return jobs.Config{}, err
	}
	retryBase, err := config.ParseDurationField("jobs.retry_base", cfg.Jobs.RetryBase)
	if err != nil {
		return jobs.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationField("jobs.retry_max_delay", cfg.Jobs.RetryMaxDelay)
	if err != nil {
		return jobs.Config{}, err
	}
	return jobs.Config{
		Workers:        cfg.Jobs.Workers,
		QueueSize:      cfg.Jobs.QueueSize,
		DefaultTimeout: defTimeout,
		RetryMax:       cfg.Jobs.RetryMax,
		RetryBase:      retryBase,
		RetryMaxDelay:  retryMaxDelay,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notify.Config, error) {
	// Omitted section means enabled with defaults.
	if cfg == nil || cfg.Notifier == nil {
		return notify.Config{Enabled: true}, nil
	}
	n := cfg.Notifier
	if n.QueueSize < 0 {
		return notify.Config{}, fmt.Errorf("notifier.queue_size must be >= 0")
	}
	if n.RatePerSec < 0 {
		return notify.Config{}, fmt.Errorf("notifier.rate_per_sec must be >= 0")
	}
	if n.RetryMax < 0 {
		return notify.Config{}, fmt.Errorf("notifier.retry_max must be >= 0")
	}
	retryBase, err := config.ParseDurationField("notifier.retry_base", n.RetryBase)
	if err != nil {
		return notify.Config{}, err
	}
	return notify.Config{
		Enabled:    n.Enabled,
		QueueSize:  n.QueueSize,
		RatePerSec: n.RatePerSec,
		RetryMax:   n.RetryMax,
		RetryBase:  retryBase,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}
