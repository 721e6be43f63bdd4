package jobs

import (
	"context"
	"errors"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"livecast/internal/eventbus"
)

type Service struct {
	mu sync.Mutex

	cfg Config
	log zerolog.Logger
	bus eventbus.Bus

	c         *cron.Cron
	periodics []periodicDef

	queue  chan task
	stopCh chan struct{}
	// stopDone is non-nil while a Stop() is in progress; it is closed when
	// workers fully exit.
	stopDone chan struct{}

	// One-shot timers. timers are runtime state; fireAt/vers survive until the
	// job fires or is cancelled so stale callbacks can be detected.
	tmu     sync.Mutex
	timers  map[string]*time.Timer
	fireAt  map[string]time.Time
	runs    map[string]func(ctx context.Context) error
	timeout map[string]time.Duration
	vers    map[string]uint64

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}

func New(cfg Config, bus eventbus.Bus, log zerolog.Logger) *Service {
	return &Service{
		cfg:     cfg.withDefaults(),
		log:     log,
		bus:     bus,
		timers:  map[string]*time.Timer{},
		fireAt:  map[string]time.Time{},
		runs:    map[string]func(ctx context.Context) error{},
		timeout: map[string]time.Duration{},
		vers:    map[string]uint64{},
	}
}

func (s *Service) Start(ctx context.Context) {
	// If a Stop() is in progress, wait for it to complete (prevents double
	// worker pools).
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
			// loop and try again
		case <-ctx.Done():
			return
		}
	}
	defer s.mu.Unlock()
	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	// Fresh queue per run so tasks enqueued before a stop/start toggle don't
	// execute against the new run.
	s.queue = make(chan task, s.cfg.QueueSize)

	s.c = cron.New()
	for i := range s.periodics {
		s.addPeriodicLocked(&s.periodics[i])
	}
	s.c.Start()

	// Re-arm one-shot jobs retained across a stop. Versions are bumped so a
	// pre-stop timer callback that already fired loses against the new arm.
	s.tmu.Lock()
	rearmed := 0
	for key, at := range s.fireAt {
		ver := s.vers[key] + 1
		s.vers[key] = ver
		s.armLocked(key, at, ver)
		rearmed++
	}
	s.tmu.Unlock()

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
					s.log.Error().Int("worker", idx).Any("panic", r).Str("stack", string(debug.Stack())).Msg("panic in job worker")
				}
			}()
			s.worker(runCtx, stopCh, queue)
		}()
	}
	s.log.Info().Int("workers", workers).Int("periodics", len(s.periodics)).Int("rearmed", rearmed).Msg("job runner started")
}

func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	// If a stop is already in progress, just wait for it.
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
	c := s.c
	s.c = nil
	s.runCancel = nil
	s.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}
	if c != nil {
		<-c.Stop().Done()
	}

	// Stop runtime timers; definitions stay so pending jobs resume on the
	// next Start.
	s.tmu.Lock()
	for _, t := range s.timers {
		_ = t.Stop()
	}
	s.timers = map[string]*time.Timer{}
	s.tmu.Unlock()

	go func() {
		s.workerWG.Wait()
		s.mu.Lock()
		s.stopCh = nil
		s.runCtx = nil
		s.queue = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
		s.log.Info().Dur("took", time.Since(start)).Msg("job runner stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// stop continues in background
	}
}

// ScheduleAt registers (or replaces) the one-shot job under key, firing at
// the given time. A fire time in the past fires immediately.
func (s *Service) ScheduleAt(key string, at time.Time, timeout time.Duration, run func(ctx context.Context) error) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("job key required")
	}
	if run == nil {
		return errors.New("job func required")
	}
	if at.IsZero() {
		return errors.New("fire time required")
	}
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}

	s.tmu.Lock()
	if t, ok := s.timers[key]; ok {
		_ = t.Stop()
		delete(s.timers, key)
	}
	// Bump the version so callbacks from a previously armed timer no-op.
	ver := s.vers[key] + 1
	s.vers[key] = ver
	s.fireAt[key] = at
	s.runs[key] = run
	s.timeout[key] = timeout
	s.armLocked(key, at, ver)
	s.tmu.Unlock()

	s.log.Debug().Str("job", key).Time("at", at).Msg("job armed")
	return nil
}

// armLocked creates the runtime timer for key. Call with tmu held.
func (s *Service) armLocked(key string, at time.Time, ver uint64) {
	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	s.timers[key] = time.AfterFunc(delay, func() {
		s.tmu.Lock()
		curVer := s.vers[key]
		run := s.runs[key]
		timeout := s.timeout[key]
		if curVer != ver || run == nil {
			// Replaced or cancelled while the timer was in flight.
			s.tmu.Unlock()
			return
		}
		delete(s.timers, key)
		delete(s.fireAt, key)
		delete(s.runs, key)
		delete(s.timeout, key)
		delete(s.vers, key)
		s.tmu.Unlock()

		s.enqueue(task{key: key, timeout: timeout, run: run})
	})
}

// Cancel removes the one-shot job under key. It reports whether a job was
// pending.
func (s *Service) Cancel(key string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	return s.cancelLocked(key)
}

// CancelPrefix removes every one-shot job whose key starts with prefix and
// returns how many were pending. The scheduler uses this to drop all jobs for
// one broadcast id before re-arming or after a cancel.
func (s *Service) CancelPrefix(prefix string) int {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	n := 0
	for key := range s.fireAt {
		if strings.HasPrefix(key, prefix) {
			if s.cancelLocked(key) {
				n++
			}
		}
	}
	return n
}

func (s *Service) cancelLocked(key string) bool {
	_, ok := s.fireAt[key]
	if t, tok := s.timers[key]; tok {
		_ = t.Stop()
		delete(s.timers, key)
	}
	if !ok {
		return false
	}
	delete(s.fireAt, key)
	delete(s.runs, key)
	delete(s.timeout, key)
	// Bump instead of delete: an in-flight AfterFunc callback compares against
	// this version and must lose.
	s.vers[key]++
	return true
}

// Pending reports the fire time of the one-shot job under key, if armed.
func (s *Service) Pending(key string) (time.Time, bool) {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	at, ok := s.fireAt[key]
	return at, ok
}

// Snapshot lists all pending one-shot jobs, for diagnostics.
func (s *Service) Snapshot() []Info {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	out := make([]Info, 0, len(s.fireAt))
	for k, at := range s.fireAt {
		out = append(out, Info{Key: k, FireAt: at})
	}
	return out
}

// AddEvery registers (or replaces) a periodic entry. Entries registered while
// stopped are armed on the next Start.
func (s *Service) AddEvery(name string, every time.Duration, run func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if every <= 0 {
		return errors.New("interval must be > 0")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Upsert by name.
	for i := range s.periodics {
		if s.periodics[i].name == name {
			if s.c != nil && s.periodics[i].entryID != 0 {
				s.c.Remove(s.periodics[i].entryID)
			}
			s.periodics = append(s.periodics[:i], s.periodics[i+1:]...)
			break
		}
	}
	s.periodics = append(s.periodics, periodicDef{name: name, every: every, run: run})
	if s.c != nil {
		s.addPeriodicLocked(&s.periodics[len(s.periodics)-1])
	}
	return nil
}

// addPeriodicLocked registers d with the running cron. Call with mu held.
func (s *Service) addPeriodicLocked(d *periodicDef) {
	name := d.name
	run := d.run
	eid, err := s.c.AddFunc("@every "+d.every.String(), func() {
		s.enqueue(task{key: name, run: run})
	})
	if err != nil {
		s.log.Error().Str("name", name).Err(err).Msg("periodic register failed")
		return
	}
	d.entryID = eid
}
