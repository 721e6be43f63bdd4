package config

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Session   SessionConfig   `json:"session,omitempty"`
	Chat      ChatConfig      `json:"chat,omitempty"`
	Jobs      JobsConfig      `json:"jobs,omitempty"`
	Notifier  *NotifierConfig `json:"notifier,omitempty"`
	Relay     RelayConfig     `json:"relay,omitempty"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Telegram  *TelegramConfig `json:"telegram,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the broadcast orchestrator.
//
// All durations are Go duration strings (e.g. "30s", "15m").
type SchedulerConfig struct {
	// MonitorInterval is the missed/overrun sweep period. Default "1m".
	MonitorInterval string `json:"monitor_interval,omitempty"`
	// MaxOccurrences caps recurrence expansion. Default 52.
	MaxOccurrences int `json:"max_occurrences,omitempty"`
	// OverrunGrace is the slack past planned duration before a live
	// broadcast counts as overrunning. Default "30m".
	OverrunGrace string `json:"overrun_grace,omitempty"`
	// DelayRetry is the push-forward applied by the delay host-absent
	// policy. Default "15m".
	DelayRetry string `json:"delay_retry,omitempty"`
	// StartTimeout bounds collaborator calls during start/end. Default "30s".
	StartTimeout string `json:"start_timeout,omitempty"`
}

type SessionConfig struct {
	// EngagementInterval is the periodic engagement recompute. Default "30s".
	EngagementInterval string `json:"engagement_interval,omitempty"`
	// IngestBaseURL and PlaybackBaseURL seed issued stream credentials.
	IngestBaseURL   string `json:"ingest_base_url,omitempty"`
	PlaybackBaseURL string `json:"playback_base_url,omitempty"`
}

type ChatConfig struct {
	// HistoryLimit caps retained messages per room. Default 1000.
	HistoryLimit int `json:"history_limit,omitempty"`
	// Retention is how long messages outlive a sweep. Default "24h".
	Retention string `json:"retention,omitempty"`
	// SweepInterval is the expiry sweep period. Default "5m".
	SweepInterval string `json:"sweep_interval,omitempty"`
}

// JobsConfig controls the timed-job engine.
type JobsConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`
	// DefaultTimeout is a Go duration string; "0s" disables it.
	DefaultTimeout string `json:"default_timeout,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
	RetryBase      string `json:"retry_base,omitempty"`
	RetryMaxDelay  string `json:"retry_max_delay,omitempty"`
}

// NotifierConfig controls the async reminder pipeline. If the whole section
// is omitted the notifier runs with defaults.
type NotifierConfig struct {
	Enabled    bool   `json:"enabled"`
	QueueSize  int    `json:"queue_size,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	RetryMax   int    `json:"retry_max,omitempty"`
	RetryBase  string `json:"retry_base,omitempty"`
}

type RelayConfig struct {
	// Driver selects the fan-out implementation: "log" (default) only logs
	// begin/end calls.
	Driver string `json:"driver,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./livecast.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// TelegramConfig enables the Telegram reminder channel.
type TelegramConfig struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}
