package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"livecast/internal/faults"
	"livecast/internal/notify"
	"livecast/internal/services/chat"
)

// CreateBroadcast validates the spec, registers the broadcast with
// status=scheduled, and arms its notification and auto-start jobs. A
// recurring spec is expanded into independent broadcast instances, each with
// its own jobs.
func (s *Service) CreateBroadcast(spec CreateSpec) (ScheduledBroadcast, error) {
	if err := validateSpec(spec); err != nil {
		return ScheduledBroadcast{}, err
	}
	now := s.now()
	starts := expandOccurrences(spec.ScheduledStart, spec.Recurrence, s.cfg.MaxOccurrences)

	created := make([]ScheduledBroadcast, 0, len(starts))
	for i, start := range starts {
		b := &ScheduledBroadcast{
			ID:             uuid.NewString(),
			Title:          spec.Title,
			HostID:         spec.HostID,
			HostName:       spec.HostName,
			ScheduledStart: start,
			ScheduledEnd:   start.Add(spec.Duration),
			Duration:       spec.Duration,
			Status:         StatusScheduled,
			Platforms:      append([]BroadcastPlatform(nil), spec.Platforms...),
			Notifications:  spec.Notifications,
			AutoStart:      spec.AutoStart,
			Stream:         spec.Stream,
			TemplateID:     spec.TemplateID,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		// The pattern stays on the first instance only; generated occurrences
		// are independent and never re-expanded.
		if i == 0 {
			b.Recurrence = spec.Recurrence
		}

		s.mu.Lock()
		s.broadcasts[b.ID] = b
		snap := copyBroadcast(b)
		s.mu.Unlock()

		if err := s.armJobs(snap); err != nil {
			// Unwind everything this call registered.
			s.unregister(snap.ID)
			for _, c := range created {
				s.unregister(c.ID)
			}
			return ScheduledBroadcast{}, err
		}
		created = append(created, snap)
	}

	for _, c := range created {
		s.persistBroadcast(c)
		s.publish(TopicScheduled, BroadcastEvent{BroadcastID: c.ID, Status: StatusScheduled})
	}
	s.log.Info().
		Str("broadcast", created[0].ID).
		Str("host", spec.HostID).
		Time("start", spec.ScheduledStart).
		Int("occurrences", len(created)).
		Msg("broadcast scheduled")
	return created[0], nil
}

// UpdateBroadcast applies a partial update. If timing, notification, or
// auto-start settings changed, all armed jobs for the id are cancelled and
// re-armed; a no-op update is safe.
func (s *Service) UpdateBroadcast(id string, upd Update) (ScheduledBroadcast, error) {
	if upd.Duration != nil && *upd.Duration <= 0 {
		return ScheduledBroadcast{}, faults.Validation("duration must be > 0")
	}
	if upd.Notifications != nil {
		for _, m := range upd.Notifications.MinutesBefore {
			if m < 0 {
				return ScheduledBroadcast{}, faults.Validation("notification minutes must be >= 0, got %d", m)
			}
		}
	}

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
		return ScheduledBroadcast{}, err
	}

	s.mu.Lock()
	if b.Status != StatusScheduled && b.Status != StatusPreparing {
		status := b.Status
		terminal = status == StatusEnded || status == StatusCancelled
		s.mu.Unlock()
		return ScheduledBroadcast{}, faults.Validation("broadcast %q is %s; updates allowed while scheduled or preparing", id, status)
	}
	rearm := false
	if upd.Title != nil {
		b.Title = *upd.Title
	}
	if upd.ScheduledStart != nil {
		b.ScheduledStart = *upd.ScheduledStart
		rearm = true
	}
	if upd.Duration != nil {
		b.Duration = *upd.Duration
		rearm = true
	}
	if upd.ScheduledStart != nil || upd.Duration != nil {
		b.ScheduledEnd = b.ScheduledStart.Add(b.Duration)
	}
	if upd.Platforms != nil {
		b.Platforms = append([]BroadcastPlatform(nil), (*upd.Platforms)...)
	}
	if upd.Notifications != nil {
		b.Notifications = *upd.Notifications
		rearm = true
	}
	if upd.AutoStart != nil {
		b.AutoStart = *upd.AutoStart
		rearm = true
	}
	if upd.Stream != nil {
		b.Stream = *upd.Stream
	}
	b.UpdatedAt = s.now()
	snap := copyBroadcast(b)
	s.mu.Unlock()

	if rearm {
		s.disarmJobs(id)
		if err := s.armJobs(snap); err != nil {
			return ScheduledBroadcast{}, err
		}
	}
	s.persistBroadcast(snap)
	return snap, nil
}

// CancelBroadcast cancels a broadcast that has not gone live yet and drops
// all its armed jobs.
func (s *Service) CancelBroadcast(id, reason string) error {
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
	if b.Status != StatusScheduled && b.Status != StatusPreparing {
		status := b.Status
		terminal = status == StatusEnded || status == StatusCancelled
		s.mu.Unlock()
		return faults.InvalidTransition(id, string(status), string(StatusCancelled))
	}
	b.Status = StatusCancelled
	b.UpdatedAt = s.now()
	terminal = true
	snap := copyBroadcast(b)
	s.mu.Unlock()

	s.disarmJobs(id)
	s.persistBroadcast(snap)
	s.publish(TopicCancelled, BroadcastEvent{BroadcastID: id, Status: StatusCancelled, Reason: reason})
	s.log.Info().Str("broadcast", id).Str("reason", reason).Msg("broadcast cancelled")
	return nil
}

// StartBroadcast takes a broadcast live: preparing status, session creation
// and credential issuance, chat room open, platform fan-out, then live. Any
// failure rolls the status back to scheduled and leaves no partially-opened
// session or room behind.
func (s *Service) StartBroadcast(ctx context.Context, id string, manual bool) error {
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
	if b.Status != StatusScheduled && b.Status != StatusPreparing {
		status := b.Status
		terminal = status == StatusEnded || status == StatusCancelled
		s.mu.Unlock()
		return faults.InvalidTransition(id, string(status), string(StatusLive))
	}
	now := s.now()
	b.Status = StatusPreparing
	b.ActualStart = &now
	b.UpdatedAt = now
	snap := copyBroadcast(b)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StartTimeout)
	defer cancel()

	creds, err := s.sessions.Create(ctx, id)
	if err != nil {
		s.rollbackStart(b, false, false, err)
		return err
	}

	chatOpen := false
	if snap.Stream.ChatEnabled {
		if _, err := s.chat.OpenRoom(id, snap.HostID); err != nil {
			s.rollbackStart(b, true, false, err)
			return err
		}
		chatOpen = true
	}

	if err := s.sessions.Start(id); err != nil {
		s.rollbackStart(b, true, chatOpen, err)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range snap.Platforms {
		if !p.Enabled {
			continue
		}
		platform := string(p.Platform)
		g.Go(func() error {
			if err := s.relay.Begin(gctx, platform, creds); err != nil {
				return fmt.Errorf("%s: %w", platform, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Tear down whichever relays did begin, best-effort.
		for _, p := range snap.Platforms {
			if p.Enabled {
				_ = s.relay.End(context.WithoutCancel(ctx), string(p.Platform))
			}
		}
		wrapped := faults.External("platform fan-out", err)
		s.rollbackStart(b, true, chatOpen, wrapped)
		return wrapped
	}

	s.mu.Lock()
	b.Status = StatusLive
	b.UpdatedAt = s.now()
	snap = copyBroadcast(b)
	s.mu.Unlock()

	if snap.AutoStart.AutoEndAfterDuration && snap.Duration > 0 {
		key := id + "/end"
		err := s.jobs.ScheduleAt(key, now.Add(snap.Duration), s.cfg.StartTimeout, func(ctx context.Context) error {
			_, err := s.EndBroadcast(ctx, id, true)
			if errors.Is(err, faults.ErrInvalidTransition) || errors.Is(err, faults.ErrNotFound) {
				// The broadcast was ended by hand (or by the overrun monitor)
				// before the timer fired.
				return nil
			}
			return err
		})
		if err != nil {
			s.log.Warn().Str("broadcast", id).Err(err).Msg("auto-end job arm failed")
		}
	}

	s.persistBroadcast(snap)
	s.publish(TopicStarted, BroadcastEvent{BroadcastID: id, Status: StatusLive, Manual: manual})
	s.log.Info().Str("broadcast", id).Bool("manual", manual).Msg("broadcast live")
	return nil
}

// rollbackStart reverts a failed start sequence: collaborators are closed in
// reverse order and the status returns to scheduled.
func (s *Service) rollbackStart(b *ScheduledBroadcast, sessionOpen, chatOpen bool, cause error) {
	if chatOpen {
		if err := s.chat.CloseRoom(b.ID); err != nil {
			s.log.Warn().Str("broadcast", b.ID).Err(err).Msg("rollback: chat close failed")
		}
	}
	if sessionOpen {
		if _, err := s.sessions.Stop(b.ID); err != nil {
			s.log.Warn().Str("broadcast", b.ID).Err(err).Msg("rollback: session stop failed")
		}
	}
	s.mu.Lock()
	b.Status = StatusScheduled
	b.ActualStart = nil
	b.UpdatedAt = s.now()
	snap := copyBroadcast(b)
	s.mu.Unlock()

	s.persistBroadcast(snap)
	s.publish(TopicStartFailed, BroadcastEvent{BroadcastID: b.ID, Status: StatusScheduled, Error: cause.Error()})
	s.log.Error().Str("broadcast", b.ID).Err(cause).Msg("broadcast start failed; rolled back")
}

// EndBroadcast stops the fan-out, closes the session and chat room,
// synthesizes the final analytics, and marks the broadcast ended. Cleanup is
// unconditional: a fan-out stop failure is logged and teardown proceeds.
func (s *Service) EndBroadcast(ctx context.Context, id string, automatic bool) (Analytics, error) {
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
		return Analytics{}, err
	}

	s.mu.Lock()
	if b.Status != StatusLive {
		status := b.Status
		terminal = status == StatusEnded || status == StatusCancelled
		s.mu.Unlock()
		return Analytics{}, faults.InvalidTransition(id, string(status), string(StatusEnded))
	}
	snap := copyBroadcast(b)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StartTimeout)
	defer cancel()

	for _, p := range snap.Platforms {
		if !p.Enabled {
			continue
		}
		if err := s.relay.End(ctx, string(p.Platform)); err != nil {
			s.log.Warn().Str("broadcast", id).Str("platform", string(p.Platform)).Err(err).Msg("relay stop failed; continuing teardown")
		}
	}

	metrics, err := s.sessions.Stop(id)
	if err != nil {
		s.log.Warn().Str("broadcast", id).Err(err).Msg("session stop failed; continuing teardown")
	}

	var chatSummary chat.Analytics
	if snap.Stream.ChatEnabled {
		if a, err := s.chat.GetAnalytics(id); err == nil {
			chatSummary = a
		}
		if err := s.chat.CloseRoom(id); err != nil {
			s.log.Warn().Str("broadcast", id).Err(err).Msg("chat close failed; continuing teardown")
		}
	}

	now := s.now()
	started := now
	if snap.ActualStart != nil {
		started = *snap.ActualStart
	}
	analytics := Analytics{
		BroadcastID:    id,
		Title:          snap.Title,
		HostID:         snap.HostID,
		StartedAt:      started,
		EndedAt:        now,
		Duration:       now.Sub(started),
		TotalViewers:   metrics.TotalViews,
		PeakViewers:    metrics.PeakViewers,
		ChatMessages:   chatSummary.TotalMessages,
		UniqueChatters: chatSummary.UniqueChatters,
		ProductViews:   metrics.ProductViews,
		Purchases:      metrics.Purchases,
		Revenue:        metrics.Revenue,
		EngagementRate: metrics.EngagementRate,
		TopChatters:    chatSummary.TopChatters,
		MessagesByHour: chatSummary.MessagesByHour,
	}

	s.disarmJobs(id)

	s.mu.Lock()
	b.Status = StatusEnded
	b.ActualEnd = &now
	b.UpdatedAt = now
	terminal = true
	s.analytics[id] = &analytics
	snap = copyBroadcast(b)
	s.mu.Unlock()

	s.persistBroadcast(snap)
	s.persistAnalytics(analytics)
	s.publish(TopicEnded, BroadcastEvent{BroadcastID: id, Status: StatusEnded, Manual: !automatic})
	s.log.Info().
		Str("broadcast", id).
		Bool("automatic", automatic).
		Int("total_viewers", analytics.TotalViewers).
		Int("chat_messages", analytics.ChatMessages).
		Msg("broadcast ended")
	return analytics, nil
}

// CreateTemplate registers reusable broadcast defaults.
func (s *Service) CreateTemplate(spec TemplateSpec) (Template, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return Template{}, faults.Validation("template name required")
	}
	t := &Template{
		ID:            uuid.NewString(),
		Name:          spec.Name,
		Title:         spec.Title,
		Duration:      spec.Duration,
		Platforms:     append([]BroadcastPlatform(nil), spec.Platforms...),
		Notifications: spec.Notifications,
		AutoStart:     spec.AutoStart,
		Stream:        spec.Stream,
		CreatedAt:     s.now(),
	}
	s.mu.Lock()
	s.templates[t.ID] = t
	s.mu.Unlock()
	s.persistTemplate(*t)
	return *t, nil
}

// CreateFromTemplate merges template defaults with the overrides and
// delegates to CreateBroadcast. Override fields win when set.
func (s *Service) CreateFromTemplate(templateID string, overrides CreateSpec) (ScheduledBroadcast, error) {
	s.mu.RLock()
	t, ok := s.templates[templateID]
	s.mu.RUnlock()
	if !ok {
		return ScheduledBroadcast{}, faults.NotFound("template", templateID)
	}

	merged := overrides
	if strings.TrimSpace(merged.Title) == "" {
		merged.Title = t.Title
	}
	if merged.Duration <= 0 {
		merged.Duration = t.Duration
	}
	if len(merged.Platforms) == 0 {
		merged.Platforms = append([]BroadcastPlatform(nil), t.Platforms...)
	}
	if !merged.Notifications.Enabled && merged.Notifications.MinutesBefore == nil {
		merged.Notifications = t.Notifications
	}
	if merged.AutoStart == (AutoStartSettings{}) {
		merged.AutoStart = t.AutoStart
	}
	if merged.Stream == (StreamSettings{}) {
		merged.Stream = t.Stream
	}
	merged.TemplateID = t.ID
	return s.CreateBroadcast(merged)
}

// armJobs registers the notification and auto-start jobs for one broadcast.
// Notification fire times already in the past fire immediately; an auto-start
// time in the past is a hard error unless a host-absent recovery policy will
// handle it.
func (s *Service) armJobs(b ScheduledBroadcast) error {
	id := b.ID
	if b.Notifications.Enabled {
		for _, min := range b.Notifications.MinutesBefore {
			minutes := min
			key := id + "/notify/" + strconv.Itoa(minutes)
			at := b.ScheduledStart.Add(-time.Duration(minutes) * time.Minute)
			err := s.jobs.ScheduleAt(key, at, 0, func(ctx context.Context) error {
				return s.sendReminder(ctx, id, minutes)
			})
			if err != nil {
				return faults.Timer(key, err)
			}
		}
	}
	if b.AutoStart.Enabled && b.AutoStart.AutoGoLive {
		key := id + "/start"
		if b.ScheduledStart.Before(s.now()) {
			if b.AutoStart.OnHostAbsent == "" {
				return faults.Timer(key, errors.New("scheduled start already passed"))
			}
			// The monitor owns already-missed broadcasts.
			return nil
		}
		err := s.jobs.ScheduleAt(key, b.ScheduledStart, s.cfg.StartTimeout, func(ctx context.Context) error {
			err := s.StartBroadcast(ctx, id, false)
			if errors.Is(err, faults.ErrInvalidTransition) {
				// A manual start won the per-id lock first.
				return nil
			}
			return err
		})
		if err != nil {
			return faults.Timer(key, err)
		}
	}
	return nil
}

// disarmJobs drops every pending job for the broadcast id.
func (s *Service) disarmJobs(id string) {
	s.jobs.CancelPrefix(id + "/")
}

func (s *Service) sendReminder(ctx context.Context, id string, minutes int) error {
	b, err := s.get(id)
	if err != nil {
		return nil
	}
	snap := s.snapshot(b)
	if snap.Status != StatusScheduled || s.dispatcher == nil {
		return nil
	}
	n := notify.Notification{
		BroadcastID:   id,
		Title:         snap.Title,
		Message:       renderReminder(snap.Notifications.Message, snap.Title, minutes),
		MinutesBefore: minutes,
		Channels:      snap.Notifications.Channels,
	}
	if err := s.dispatcher.Send(ctx, n); err != nil {
		// Delivery failure is non-fatal to the lifecycle.
		s.log.Warn().Str("broadcast", id).Int("minutes_before", minutes).Err(err).Msg("reminder dispatch failed")
	}
	return nil
}

func renderReminder(template, title string, minutes int) string {
	if strings.TrimSpace(template) == "" {
		return ""
	}
	out := strings.ReplaceAll(template, "{title}", title)
	return strings.ReplaceAll(out, "{minutes}", strconv.Itoa(minutes))
}

// unregister removes a broadcast and its jobs entirely (create rollback only).
func (s *Service) unregister(id string) {
	s.disarmJobs(id)
	s.mu.Lock()
	delete(s.broadcasts, id)
	s.mu.Unlock()
}

func validateSpec(spec CreateSpec) error {
	if strings.TrimSpace(spec.Title) == "" {
		return faults.Validation("title required")
	}
	if strings.TrimSpace(spec.HostID) == "" {
		return faults.Validation("host id required")
	}
	if spec.ScheduledStart.IsZero() {
		return faults.Validation("scheduled start required")
	}
	if spec.Duration <= 0 {
		return faults.Validation("duration must be > 0")
	}
	enabled := 0
	for _, p := range spec.Platforms {
		if p.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		return faults.Validation("at least one enabled platform required")
	}
	for _, m := range spec.Notifications.MinutesBefore {
		if m < 0 {
			return faults.Validation("notification minutes must be >= 0, got %d", m)
		}
	}
	if r := spec.Recurrence; r != nil {
		switch r.Frequency {
		case FreqDaily, FreqWeekly, FreqMonthly:
		default:
			return faults.Validation("unknown recurrence frequency %q", r.Frequency)
		}
	}
	return nil
}
