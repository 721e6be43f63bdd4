package notify

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type Service struct {
	mu sync.Mutex

	cfg     Config
	sender  Sender
	log     zerolog.Logger
	limiter *rate.Limiter

	queue  chan Notification
	stopCh chan struct{}
	// stopDone is non-nil while a Stop() is in progress; it is closed when
	// workers fully exit.
	stopDone chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}

func New(cfg Config, sender Sender, log zerolog.Logger) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		cfg:     cfg,
		sender:  sender,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		queue:   make(chan Notification, cfg.QueueSize),
	}
}

// Send enqueues a notification for asynchronous delivery.
func (s *Service) Send(_ context.Context, n Notification) error {
	s.mu.Lock()
	enabled := s.cfg.Enabled
	running := s.stopCh != nil
	s.mu.Unlock()
	if !enabled {
		return ErrDisabled
	}
	if !running {
		return ErrStopped
	}
	select {
	case s.queue <- n:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Service) Start(ctx context.Context) {
	for {
		s.mu.Lock()
		if s.stopCh == nil {
			break
		}
		done := s.stopDone
		if done == nil {
			// already running
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
	defer s.mu.Unlock()
	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	runCtx := s.runCtx
	stopCh := s.stopCh
	queue := s.queue
	workers := s.cfg.Workers

	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error().Int("worker", idx).Any("panic", r).Str("stack", string(debug.Stack())).Msg("panic in notify worker")
				}
			}()
			s.worker(runCtx, stopCh, queue)
		}()
	}
	s.log.Info().Int("workers", workers).Msg("notifier started")
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	stopCh := s.stopCh
	cancel := s.runCancel
	s.runCancel = nil
	s.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}

	go func() {
		s.workerWG.Wait()
		s.mu.Lock()
		s.stopCh = nil
		s.runCtx = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
		s.log.Info().Msg("notifier stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// stop continues in background
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case n := <-queue:
			s.deliver(ctx, n)
		}
	}
}

func (s *Service) deliver(ctx context.Context, n Notification) {
	text := n.Message
	if strings.TrimSpace(text) == "" {
		text = fmt.Sprintf("%s starts in %d minutes", n.Title, n.MinutesBefore)
	}
	channels := n.Channels
	if len(channels) == 0 {
		channels = []string{"default"}
	}
	for _, ch := range channels {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		var last error
		for attempt := 0; attempt <= s.cfg.RetryMax; attempt++ {
			if last = s.sender.Push(ctx, ch, text); last == nil {
				break
			}
			if attempt == s.cfg.RetryMax {
				break
			}
			delay := s.cfg.RetryBase * time.Duration(attempt+1)
			tmr := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				if !tmr.Stop() {
					<-tmr.C
				}
				return
			case <-tmr.C:
			}
		}
		if last != nil {
			s.log.Warn().Str("broadcast", n.BroadcastID).Str("channel", ch).Err(last).Msg("notification delivery failed")
		} else {
			s.log.Debug().Str("broadcast", n.BroadcastID).Str("channel", ch).Int("minutes_before", n.MinutesBefore).Msg("notification delivered")
		}
	}
}
