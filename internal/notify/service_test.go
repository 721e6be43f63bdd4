package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type captureSender struct {
	mu     sync.Mutex
	pushes []push
	fail   int // fail this many pushes before succeeding
}

type push struct {
	channel string
	text    string
}

func (c *captureSender) Push(_ context.Context, channel, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail > 0 {
		c.fail--
		return errors.New("push failed")
	}
	c.pushes = append(c.pushes, push{channel: channel, text: text})
	return nil
}

func (c *captureSender) snapshot() []push {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]push(nil), c.pushes...)
}

func startService(t *testing.T, cfg Config, sender Sender) *Service {
	t.Helper()
	s := New(cfg, sender, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		s.Stop(stopCtx)
		stopCancel()
		cancel()
	})
	return s
}

func waitPushes(t *testing.T, c *captureSender, want int) []push {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := c.snapshot()
		if len(got) >= want {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("pushes = %d, want %d", len(got), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSendDeliversToEveryChannel(t *testing.T) {
	t.Parallel()
	sender := &captureSender{}
	s := startService(t, Config{Enabled: true, RatePerSec: 1000}, sender)

	err := s.Send(context.Background(), Notification{
		BroadcastID:   "b1",
		Title:         "Launch",
		MinutesBefore: 10,
		Channels:      []string{"push", "email"},
	})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}

	got := waitPushes(t, sender, 2)
	if got[0].text != "Launch starts in 10 minutes" {
		t.Fatalf("text = %q", got[0].text)
	}
	channels := map[string]bool{}
	for _, p := range got {
		channels[p.channel] = true
	}
	if !channels["push"] || !channels["email"] {
		t.Fatalf("channels = %v, want push and email", channels)
	}
}

func TestSendUsesCustomMessageAndDefaultChannel(t *testing.T) {
	t.Parallel()
	sender := &captureSender{}
	s := startService(t, Config{Enabled: true, RatePerSec: 1000}, sender)

	if err := s.Send(context.Background(), Notification{Title: "X", Message: "going live soon"}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	got := waitPushes(t, sender, 1)
	if got[0].text != "going live soon" || got[0].channel != "default" {
		t.Fatalf("push = %+v", got[0])
	}
}

func TestSendRetriesFailedPush(t *testing.T) {
	t.Parallel()
	sender := &captureSender{fail: 2}
	s := startService(t, Config{Enabled: true, RatePerSec: 1000, RetryMax: 3, RetryBase: time.Millisecond}, sender)

	if err := s.Send(context.Background(), Notification{Title: "Retry"}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	waitPushes(t, sender, 1)
}

func TestSendDisabledAndStopped(t *testing.T) {
	t.Parallel()
	disabled := New(Config{Enabled: false}, &captureSender{}, zerolog.Nop())
	if err := disabled.Send(context.Background(), Notification{}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Send error = %v, want ErrDisabled", err)
	}

	stopped := New(Config{Enabled: true}, &captureSender{}, zerolog.Nop())
	if err := stopped.Send(context.Background(), Notification{}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Send error = %v, want ErrStopped", err)
	}
}

func TestSendQueueFull(t *testing.T) {
	t.Parallel()
	// Zero workers never drain the queue.
	s := New(Config{Enabled: true, QueueSize: 1}, &captureSender{}, zerolog.Nop())
	s.mu.Lock()
	s.stopCh = make(chan struct{}) // mark running without workers
	s.mu.Unlock()

	if err := s.Send(context.Background(), Notification{}); err != nil {
		t.Fatalf("first Send error: %v", err)
	}
	if err := s.Send(context.Background(), Notification{}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("second Send error = %v, want ErrQueueFull", err)
	}
}
