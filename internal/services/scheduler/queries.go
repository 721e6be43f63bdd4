package scheduler

import (
	"sort"
	"time"

	"livecast/internal/faults"
)

// Get returns a snapshot of one broadcast.
func (s *Service) Get(id string) (ScheduledBroadcast, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.broadcasts[id]
	if !ok {
		return ScheduledBroadcast{}, faults.NotFound("broadcast", id)
	}
	return copyBroadcast(b), nil
}

// Upcoming lists scheduled broadcasts whose start is still ahead, soonest
// first.
func (s *Service) Upcoming() []ScheduledBroadcast {
	now := s.now()
	out := s.collect(func(b *ScheduledBroadcast) bool {
		return b.Status == StatusScheduled && b.ScheduledStart.After(now)
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].ScheduledStart.Before(out[j].ScheduledStart)
	})
	return out
}

// LiveNow lists currently live broadcasts, earliest started first.
func (s *Service) LiveNow() []ScheduledBroadcast {
	out := s.collect(func(b *ScheduledBroadcast) bool {
		return b.Status == StatusLive
	})
	sort.Slice(out, func(i, j int) bool {
		return effectiveStart(out[i]).Before(effectiveStart(out[j]))
	})
	return out
}

// History lists ended broadcasts, most recent first. An empty hostID matches
// every host.
func (s *Service) History(hostID string) []ScheduledBroadcast {
	out := s.collect(func(b *ScheduledBroadcast) bool {
		if b.Status != StatusEnded {
			return false
		}
		return hostID == "" || b.HostID == hostID
	})
	sort.Slice(out, func(i, j int) bool {
		return effectiveStart(out[i]).After(effectiveStart(out[j]))
	})
	return out
}

// AnalyticsFor returns the synthesized report for an ended broadcast.
func (s *Service) AnalyticsFor(id string) (Analytics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.analytics[id]
	if !ok {
		return Analytics{}, faults.NotFound("analytics", id)
	}
	cp := *a
	cp.TopChatters = append(cp.TopChatters[:0:0], a.TopChatters...)
	return cp, nil
}

// Templates lists the registered templates, newest first.
func (s *Service) Templates() []Template {
	s.mu.RLock()
	out := make([]Template, 0, len(s.templates))
	for _, t := range s.templates {
		cp := *t
		cp.Platforms = append([]BroadcastPlatform(nil), t.Platforms...)
		out = append(out, cp)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *Service) collect(keep func(*ScheduledBroadcast) bool) []ScheduledBroadcast {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ScheduledBroadcast
	for _, b := range s.broadcasts {
		if keep(b) {
			out = append(out, copyBroadcast(b))
		}
	}
	return out
}

func effectiveStart(b ScheduledBroadcast) time.Time {
	if b.ActualStart != nil {
		return *b.ActualStart
	}
	return b.ScheduledStart
}
