package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"livecast/internal/eventbus"
	"livecast/internal/faults"
	"livecast/internal/jobs"
	"livecast/internal/notify"
	"livecast/internal/relay"
	"livecast/internal/services/chat"
	"livecast/internal/services/session"
	"livecast/internal/storage"
)

type Service struct {
	cfg Config

	// mu guards the registries and the fields of the broadcasts they hold.
	mu         sync.RWMutex
	broadcasts map[string]*ScheduledBroadcast
	templates  map[string]*Template
	analytics  map[string]*Analytics

	// Per-broadcast lifecycle lock: start/end/cancel/update for the same id
	// never run concurrently.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	sessions   *session.Service
	chat       *chat.Service
	jobs       *jobs.Service
	relay      relay.Relay
	dispatcher notify.Dispatcher
	store      storage.Store // nil when persistence is disabled

	bus eventbus.Bus
	log zerolog.Logger
	now func() time.Time
}

// Deps are the collaborators the orchestrator drives.
type Deps struct {
	Sessions   *session.Service
	Chat       *chat.Service
	Jobs       *jobs.Service
	Relay      relay.Relay
	Dispatcher notify.Dispatcher
	Store      storage.Store
	Bus        eventbus.Bus
}

func New(cfg Config, d Deps, log zerolog.Logger) *Service {
	return &Service{
		cfg:        cfg.withDefaults(),
		broadcasts: map[string]*ScheduledBroadcast{},
		templates:  map[string]*Template{},
		analytics:  map[string]*Analytics{},
		locks:      map[string]*sync.Mutex{},
		sessions:   d.Sessions,
		chat:       d.Chat,
		jobs:       d.Jobs,
		relay:      d.Relay,
		dispatcher: d.Dispatcher,
		store:      d.Store,
		bus:        d.Bus,
		log:        log,
		now:        time.Now,
	}
}

// MonitorInterval exposes the configured monitor period for wiring.
func (s *Service) MonitorInterval() time.Duration { return s.cfg.MonitorInterval }

// lockFor returns the lifecycle mutex for a broadcast id, creating it on
// first use.
func (s *Service) lockFor(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// get returns the stored broadcast pointer. Callers must hold the per-id
// lock before mutating and s.mu for field access.
// releaseLock drops the per-broadcast mutex once the broadcast reached a
// terminal status. Callers must have released the lifecycle lock first; a
// waiter holding the old mutex only ever observes the terminal state.
func (s *Service) releaseLock(id string) {
	s.locksMu.Lock()
	delete(s.locks, id)
	s.locksMu.Unlock()
}

func (s *Service) get(id string) (*ScheduledBroadcast, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.broadcasts[id]
	if !ok {
		return nil, faults.NotFound("broadcast", id)
	}
	return b, nil
}

// snapshot copies the broadcast under s.mu.
func (s *Service) snapshot(b *ScheduledBroadcast) ScheduledBroadcast {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyBroadcast(b)
}

func copyBroadcast(b *ScheduledBroadcast) ScheduledBroadcast {
	cp := *b
	cp.Platforms = append([]BroadcastPlatform(nil), b.Platforms...)
	if b.Recurrence != nil {
		rec := *b.Recurrence
		cp.Recurrence = &rec
	}
	if b.ActualStart != nil {
		t := *b.ActualStart
		cp.ActualStart = &t
	}
	if b.ActualEnd != nil {
		t := *b.ActualEnd
		cp.ActualEnd = &t
	}
	return cp
}

func (s *Service) publish(topic eventbus.Topic, ev BroadcastEvent) {
	if s.bus == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = s.now()
	}
	s.bus.Publish(eventbus.Event{Topic: topic, Data: ev})
}

// persistBroadcast writes the durable copy, best-effort.
func (s *Service) persistBroadcast(b ScheduledBroadcast) {
	if s.store == nil {
		return
	}
	payload, err := json.Marshal(b)
	if err != nil {
		s.log.Warn().Str("broadcast", b.ID).Err(err).Msg("broadcast marshal failed")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err = s.store.PutBroadcast(ctx, storage.BroadcastRecord{
		ID:       b.ID,
		HostID:   b.HostID,
		Status:   string(b.Status),
		StartsAt: b.ScheduledStart,
		Payload:  payload,
	})
	if err != nil {
		s.log.Warn().Str("broadcast", b.ID).Err(err).Msg("broadcast persist failed")
	}
}

func (s *Service) persistTemplate(t Template) {
	if s.store == nil {
		return
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.store.PutTemplate(ctx, storage.TemplateRecord{ID: t.ID, Name: t.Name, Payload: payload}); err != nil {
		s.log.Warn().Str("template", t.ID).Err(err).Msg("template persist failed")
	}
}

func (s *Service) persistAnalytics(a Analytics) {
	if s.store == nil {
		return
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.store.PutAnalytics(ctx, storage.AnalyticsRecord{BroadcastID: a.BroadcastID, EndedAt: a.EndedAt, Payload: payload}); err != nil {
		s.log.Warn().Str("broadcast", a.BroadcastID).Err(err).Msg("analytics persist failed")
	}
}
