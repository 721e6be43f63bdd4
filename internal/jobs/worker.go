package jobs

import (
	"context"
	"math/rand"
	"time"

	"livecast/internal/eventbus"
)

func (s *Service) enqueue(t task) {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		s.log.Debug().Str("job", t.key).Msg("runner not running; dropping job")
		return
	}
	select {
	case q <- t:
	default:
		s.log.Warn().Str("job", t.key).Int("queue_len", len(q)).Int("queue_cap", cap(q)).Msg("job queue full; dropping job")
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan task) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
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
		case t := <-queue:
			s.execOne(ctx, stopCh, t)
		}
	}
}

func (s *Service) execOne(ctx context.Context, stopCh <-chan struct{}, t task) {
	start := time.Now()
	cfg := s.cfg

	var err error
	attempts := 0
	maxAttempts := 1 + cfg.RetryMax
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		// Per-attempt timeout so a timed-out first attempt doesn't poison retries.
		runCtx := ctx
		var cancel context.CancelFunc
		if t.timeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, t.timeout)
		}
		err = t.run(runCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil || attempt >= maxAttempts {
			break
		}

		delay := backoffDelay(cfg, attempt)
		s.log.Debug().Str("job", t.key).Int("attempt", attempt+1).Dur("delay", delay).Err(err).Msg("job retry scheduled")
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			err = ctx.Err()
		case <-stopCh:
			if !tmr.Stop() {
				<-tmr.C
			}
			return
		case <-tmr.C:
			continue
		}
		break
	}

	dur := time.Since(start)
	if err != nil {
		s.log.Warn().Str("job", t.key).Err(err).Dur("dur", dur).Int("attempts", attempts).Msg("job failed")
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Topic: TopicFailed, Data: JobEvent{Key: t.key, Started: start, Duration: dur, Attempts: attempts, Error: err.Error()}})
		}
		return
	}
	s.log.Debug().Str("job", t.key).Dur("dur", dur).Int("attempts", attempts).Msg("job completed")
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Topic: TopicFired, Data: JobEvent{Key: t.key, Started: start, Duration: dur, Attempts: attempts}})
	}
}

func backoffDelay(cfg Config, retry int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < retry; i++ {
		d *= 2
		if d > cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// jitter [1-j, 1+j]
	if j := cfg.RetryJitter; j > 0 {
		r := (rand.Float64()*2 - 1) * j
		d = time.Duration(float64(d) * (1 + r))
		if d < 0 {
			d = 0
		}
	}
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}
