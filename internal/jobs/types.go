package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// Config controls the job runner.
type Config struct {
	Workers        int
	QueueSize      int
	DefaultTimeout time.Duration
	RetryMax       int
	RetryBase      time.Duration
	RetryMaxDelay  time.Duration
	RetryJitter    float64 // 0.2 = 20%
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 15 * time.Second
	}
	if c.RetryJitter <= 0 {
		c.RetryJitter = 0.2
	}
	return c
}

// Event topics published by the runner.
const (
	TopicFired  = "job.fired"
	TopicFailed = "job.failed"
)

// JobEvent is the bus payload for job lifecycle events.
type JobEvent struct {
	Key      string        `json:"key"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Attempts int           `json:"attempts"`
	Error    string        `json:"error,omitempty"`
}

type task struct {
	key     string
	timeout time.Duration
	run     func(ctx context.Context) error
}

type periodicDef struct {
	name    string
	every   time.Duration
	run     func(ctx context.Context) error
	entryID cron.EntryID
}

// Info describes a pending one-shot job.
type Info struct {
	Key    string
	FireAt time.Time
}
