package scheduler

import (
	"context"
	"errors"

	"livecast/internal/faults"
)

// RunMonitor is the periodic missed/overrun sweep. It never returns an
// error for individual broadcasts; failures are logged and published so one
// stuck broadcast cannot stall the sweep.
func (s *Service) RunMonitor(ctx context.Context) error {
	now := s.now()

	type missedEntry struct {
		id     string
		policy AbsentPolicy
	}
	type overrunEntry struct {
		id      string
		autoEnd bool
	}
	var missed []missedEntry
	var overruns []overrunEntry

	s.mu.RLock()
	for id, b := range s.broadcasts {
		switch b.Status {
		case StatusScheduled:
			if b.AutoStart.Enabled && b.AutoStart.AutoGoLive && now.Sub(b.ScheduledStart) > s.cfg.MonitorInterval {
				missed = append(missed, missedEntry{id: id, policy: b.AutoStart.OnHostAbsent})
			}
		case StatusLive:
			if b.ActualStart != nil && b.Duration > 0 && now.Sub(*b.ActualStart) > b.Duration+s.cfg.OverrunGrace {
				overruns = append(overruns, overrunEntry{id: id, autoEnd: b.AutoStart.AutoEndAfterDuration})
			}
		}
	}
	s.mu.RUnlock()

	for _, m := range missed {
		s.handleMissed(ctx, m.id, m.policy)
	}
	for _, o := range overruns {
		s.handleOverrun(ctx, o.id, o.autoEnd)
	}
	return nil
}

// handleMissed applies the host-absent policy to a broadcast whose start
// passed without it going live. A lost race with a concurrent start or
// cancel surfaces as an invalid-transition error and is treated as a no-op.
func (s *Service) handleMissed(ctx context.Context, id string, policy AbsentPolicy) {
	if policy == "" {
		policy = AbsentCancel
	}

	var err error
	switch policy {
	case AbsentCancel:
		err = s.CancelBroadcast(id, "host absent")
	case AbsentDelay:
		err = s.delayBroadcast(id)
	case AbsentAutoStart:
		err = s.StartBroadcast(ctx, id, false)
	default:
		s.log.Warn().Str("broadcast", id).Str("policy", string(policy)).Msg("unknown host-absent policy; cancelling")
		err = s.CancelBroadcast(id, "host absent")
	}
	if errors.Is(err, faults.ErrInvalidTransition) || errors.Is(err, faults.ErrNotFound) {
		return
	}

	ev := BroadcastEvent{BroadcastID: id, Policy: string(policy)}
	if err != nil {
		ev.Error = err.Error()
		s.log.Error().Str("broadcast", id).Str("policy", string(policy)).Err(err).Msg("missed-broadcast policy failed")
	} else {
		s.log.Warn().Str("broadcast", id).Str("policy", string(policy)).Msg("missed broadcast handled")
	}
	s.publish(TopicMissed, ev)
}

// delayBroadcast pushes a missed broadcast's window forward and re-arms its
// jobs. The next sweep retries it if it is missed again.
func (s *Service) delayBroadcast(id string) error {
	l := s.lockFor(id)
	l.Lock()
	terminal := false
	defer func() {
		l.Unlock()
		if terminal {
			s.releaseLock(id)
		}
	}()

	b, err := s.get(id)
	if err != nil {
		terminal = true
		return err
	}

	s.mu.Lock()
	if b.Status != StatusScheduled {
		status := b.Status
		terminal = status == StatusEnded || status == StatusCancelled
		s.mu.Unlock()
		return faults.InvalidTransition(id, string(status), string(StatusScheduled))
	}
	now := s.now()
	newStart := now.Add(s.cfg.DelayRetry)
	b.ScheduledEnd = b.ScheduledEnd.Add(newStart.Sub(b.ScheduledStart))
	b.ScheduledStart = newStart
	b.UpdatedAt = now
	snap := copyBroadcast(b)
	s.mu.Unlock()

	s.disarmJobs(id)
	if err := s.armJobs(snap); err != nil {
		return err
	}
	s.persistBroadcast(snap)
	return nil
}

// handleOverrun flags a live broadcast past its grace window, publishing the
// overrun event exactly once, and force-ends it when auto-end is on.
func (s *Service) handleOverrun(ctx context.Context, id string, autoEnd bool) {
	s.mu.Lock()
	b, ok := s.broadcasts[id]
	first := ok && b.Status == StatusLive && !b.Overrun
	if first {
		b.Overrun = true
		b.UpdatedAt = s.now()
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	if first {
		s.publish(TopicOverrun, BroadcastEvent{BroadcastID: id, Status: StatusLive})
		s.log.Warn().Str("broadcast", id).Bool("auto_end", autoEnd).Msg("broadcast overrunning")
	}
	if autoEnd {
		if _, err := s.EndBroadcast(ctx, id, true); err != nil && !errors.Is(err, faults.ErrInvalidTransition) && !errors.Is(err, faults.ErrNotFound) {
			s.log.Error().Str("broadcast", id).Err(err).Msg("overrun force-end failed")
		}
	}
}
