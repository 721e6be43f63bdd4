package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"livecast/internal/eventbus"
	"livecast/internal/faults"
	"livecast/internal/relay"
)

type Service struct {
	mu       sync.RWMutex
	sessions map[string]*liveSession

	cfg    Config
	issuer relay.Issuer
	bus    eventbus.Bus
	log    zerolog.Logger

	now func() time.Time
}

func New(cfg Config, issuer relay.Issuer, bus eventbus.Bus, log zerolog.Logger) *Service {
	if cfg.EngagementInterval <= 0 {
		cfg.EngagementInterval = 30 * time.Second
	}
	return &Service{
		cfg:      cfg,
		sessions: map[string]*liveSession{},
		issuer:   issuer,
		bus:      bus,
		log:      log,
		now:      time.Now,
	}
}

// Create registers a session for the broadcast and issues stream credentials.
// The caller forwards the credentials to the platform relay.
func (s *Service) Create(ctx context.Context, broadcastID string) (relay.Credentials, error) {
	s.mu.Lock()
	if _, ok := s.sessions[broadcastID]; ok {
		s.mu.Unlock()
		return relay.Credentials{}, faults.Validation("session for broadcast %q already open", broadcastID)
	}
	s.sessions[broadcastID] = &liveSession{
		broadcastID: broadcastID,
		viewers:     map[string]struct{}{},
	}
	s.mu.Unlock()

	creds, err := s.issuer.Issue(ctx, broadcastID)
	if err != nil {
		// Roll the half-created session back so a retry starts clean.
		s.mu.Lock()
		delete(s.sessions, broadcastID)
		s.mu.Unlock()
		return relay.Credentials{}, faults.External("issue credentials", err)
	}
	s.log.Debug().Str("broadcast", broadcastID).Msg("session created")
	return creds, nil
}

// Start marks the session live.
func (s *Service) Start(broadcastID string) error {
	ls, err := s.lookup(broadcastID)
	if err != nil {
		return err
	}
	now := s.now()
	ls.mu.Lock()
	ls.startedAt = now
	ls.mu.Unlock()

	s.log.Info().Str("broadcast", broadcastID).Msg("session started")
	s.publish(TopicStarted, SessionEvent{BroadcastID: broadcastID, At: now})
	return nil
}

// Stop finalizes the session, removes it from the active registry, and
// returns the final metrics snapshot. The snapshot is retained by the caller,
// not by the session manager.
func (s *Service) Stop(broadcastID string) (Metrics, error) {
	s.mu.Lock()
	ls, ok := s.sessions[broadcastID]
	if !ok {
		s.mu.Unlock()
		return Metrics{}, faults.NotFound("session", broadcastID)
	}
	delete(s.sessions, broadcastID)
	s.mu.Unlock()

	now := s.now()
	ls.mu.Lock()
	ls.endedAt = now
	ls.metrics.recomputeEngagement()
	final := ls.metrics
	ls.mu.Unlock()

	s.log.Info().Str("broadcast", broadcastID).Int("peak_viewers", final.PeakViewers).Int("total_views", final.TotalViews).Msg("session stopped")
	s.publish(TopicEnded, SessionEvent{BroadcastID: broadcastID, Viewers: final.ViewerCount, At: now})
	return final, nil
}

// AddViewer adds userID to the viewer set. Adding a viewer that is already
// present is a no-op.
func (s *Service) AddViewer(broadcastID, userID string) error {
	ls, err := s.lookup(broadcastID)
	if err != nil {
		return err
	}
	ls.mu.Lock()
	if _, ok := ls.viewers[userID]; ok {
		ls.mu.Unlock()
		return nil
	}
	ls.viewers[userID] = struct{}{}
	ls.metrics.ViewerCount = len(ls.viewers)
	if ls.metrics.ViewerCount > ls.metrics.PeakViewers {
		ls.metrics.PeakViewers = ls.metrics.ViewerCount
	}
	ls.metrics.TotalViews++
	count := ls.metrics.ViewerCount
	ls.mu.Unlock()

	s.publish(TopicViewerJoin, SessionEvent{BroadcastID: broadcastID, UserID: userID, Viewers: count, At: s.now()})
	return nil
}

// RemoveViewer removes userID from the viewer set. Removing an absent viewer
// is a no-op.
func (s *Service) RemoveViewer(broadcastID, userID string) error {
	ls, err := s.lookup(broadcastID)
	if err != nil {
		return err
	}
	ls.mu.Lock()
	if _, ok := ls.viewers[userID]; !ok {
		ls.mu.Unlock()
		return nil
	}
	delete(ls.viewers, userID)
	ls.metrics.ViewerCount = len(ls.viewers)
	count := ls.metrics.ViewerCount
	ls.mu.Unlock()

	s.publish(TopicViewerLeave, SessionEvent{BroadcastID: broadcastID, UserID: userID, Viewers: count, At: s.now()})
	return nil
}

// RecordPurchase counts a purchase and its revenue.
func (s *Service) RecordPurchase(broadcastID, userID, productID string, amount float64) error {
	ls, err := s.lookup(broadcastID)
	if err != nil {
		return err
	}
	ls.mu.Lock()
	ls.metrics.Purchases++
	ls.metrics.Revenue += amount
	ls.mu.Unlock()

	s.publish(TopicPurchase, SessionEvent{BroadcastID: broadcastID, UserID: userID, ProductID: productID, Amount: amount, At: s.now()})
	return nil
}

// RecordProductView counts a product detail view.
func (s *Service) RecordProductView(broadcastID string) error {
	ls, err := s.lookup(broadcastID)
	if err != nil {
		return err
	}
	ls.mu.Lock()
	ls.metrics.ProductViews++
	ls.mu.Unlock()
	return nil
}

// RecordChatMessage counts a chat message toward engagement.
func (s *Service) RecordChatMessage(broadcastID string) error {
	ls, err := s.lookup(broadcastID)
	if err != nil {
		return err
	}
	ls.mu.Lock()
	ls.metrics.ChatMessages++
	ls.mu.Unlock()
	return nil
}

// Metrics returns the current metric snapshot for the broadcast.
func (s *Service) Metrics(broadcastID string) (Metrics, bool) {
	s.mu.RLock()
	ls, ok := s.sessions[broadcastID]
	s.mu.RUnlock()
	if !ok {
		return Metrics{}, false
	}
	ls.mu.Lock()
	m := ls.metrics
	ls.mu.Unlock()
	return m, true
}

// Snapshots lists all active sessions, for diagnostics.
func (s *Service) Snapshots() []Snapshot {
	s.mu.RLock()
	all := make([]*liveSession, 0, len(s.sessions))
	for _, ls := range s.sessions {
		all = append(all, ls)
	}
	s.mu.RUnlock()

	out := make([]Snapshot, 0, len(all))
	for _, ls := range all {
		ls.mu.Lock()
		out = append(out, Snapshot{BroadcastID: ls.broadcastID, Metrics: ls.metrics, StartedAt: ls.startedAt})
		ls.mu.Unlock()
	}
	return out
}

// TickEngagement recomputes the engagement rate for every live session. It is
// registered as a periodic job by the app wiring.
func (s *Service) TickEngagement(context.Context) error {
	s.mu.RLock()
	all := make([]*liveSession, 0, len(s.sessions))
	for _, ls := range s.sessions {
		all = append(all, ls)
	}
	s.mu.RUnlock()

	for _, ls := range all {
		ls.mu.Lock()
		ls.metrics.recomputeEngagement()
		ls.mu.Unlock()
	}
	return nil
}

// EngagementInterval exposes the configured tick period for wiring.
func (s *Service) EngagementInterval() time.Duration { return s.cfg.EngagementInterval }

func (s *Service) lookup(broadcastID string) (*liveSession, error) {
	s.mu.RLock()
	ls, ok := s.sessions[broadcastID]
	s.mu.RUnlock()
	if !ok {
		return nil, faults.NotFound("session", broadcastID)
	}
	return ls, nil
}

func (s *Service) publish(topic eventbus.Topic, data SessionEvent) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Topic: topic, Data: data})
	}
}
