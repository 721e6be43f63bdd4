// Package notify implements the notification dispatcher: an async pipeline
// (bounded queue, worker pool, rate limit, retry) that pushes broadcast
// reminders through a pluggable Sender. Delivery failure is never fatal to the
// broadcast lifecycle.
package notify

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// Notification is one reminder about an upcoming broadcast.
type Notification struct {
	BroadcastID   string
	Title         string
	Message       string
	MinutesBefore int
	Channels      []string
}

// Dispatcher is the interface the scheduler uses. Send enqueues and returns
// quickly; delivery is asynchronous.
type Dispatcher interface {
	Send(ctx context.Context, n Notification) error
}

// Sender delivers one rendered notification over one channel.
type Sender interface {
	Push(ctx context.Context, channel, text string) error
}

// Config controls the pipeline.
type Config struct {
	Enabled    bool
	Workers    int
	QueueSize  int
	RatePerSec int
	RetryMax   int
	RetryBase  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 128
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 10
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 200 * time.Millisecond
	}
	return c
}
