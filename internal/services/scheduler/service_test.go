package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"livecast/internal/eventbus"
	"livecast/internal/faults"
	"livecast/internal/jobs"
	"livecast/internal/notify"
	"livecast/internal/relay"
	"livecast/internal/services/chat"
	"livecast/internal/services/session"
)

type fakeRelay struct {
	mu     sync.Mutex
	begun  []string
	ended  []string
	failOn string
}

func (f *fakeRelay) Begin(_ context.Context, platform string, _ relay.Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if platform == f.failOn {
		return errors.New("relay refused")
	}
	f.begun = append(f.begun, platform)
	return nil
}

func (f *fakeRelay) End(_ context.Context, platform string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, platform)
	return nil
}

func (f *fakeRelay) begunPlatforms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.begun...)
}

type fakeDispatcher struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (f *fakeDispatcher) Send(_ context.Context, n notify.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return nil
}

type fixture struct {
	svc      *Service
	sessions *session.Service
	chat     *chat.Service
	jobs     *jobs.Service
	relay    *fakeRelay
	notifs   *fakeDispatcher
	bus      eventbus.Bus
}

func newFixture(cfg Config) *fixture {
	bus := eventbus.New()
	f := &fixture{
		sessions: session.New(session.Config{}, relay.LocalIssuer{}, bus, zerolog.Nop()),
		chat:     chat.New(chat.Config{}, bus, zerolog.Nop()),
		jobs:     jobs.New(jobs.Config{}, bus, zerolog.Nop()),
		relay:    &fakeRelay{},
		notifs:   &fakeDispatcher{},
		bus:      bus,
	}
	f.svc = New(cfg, Deps{
		Sessions:   f.sessions,
		Chat:       f.chat,
		Jobs:       f.jobs,
		Relay:      f.relay,
		Dispatcher: f.notifs,
		Bus:        bus,
	}, zerolog.Nop())
	return f
}

func baseSpec(start time.Time) CreateSpec {
	return CreateSpec{
		Title:          "Product Launch",
		HostID:         "host-1",
		HostName:       "Host",
		ScheduledStart: start,
		Duration:       time.Hour,
		Platforms: []BroadcastPlatform{
			{Platform: PlatformYouTube, Enabled: true},
			{Platform: PlatformTwitch, Enabled: false},
		},
		Stream: StreamSettings{ChatEnabled: true},
	}
}

func TestCreateBroadcastValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(Config{})
	future := time.Now().Add(time.Hour)

	tests := []struct {
		name   string
		mutate func(*CreateSpec)
	}{
		{"empty title", func(s *CreateSpec) { s.Title = " " }},
		{"empty host", func(s *CreateSpec) { s.HostID = "" }},
		{"zero start", func(s *CreateSpec) { s.ScheduledStart = time.Time{} }},
		{"zero duration", func(s *CreateSpec) { s.Duration = 0 }},
		{"no platforms", func(s *CreateSpec) { s.Platforms = nil }},
		{"all platforms disabled", func(s *CreateSpec) {
			s.Platforms = []BroadcastPlatform{{Platform: PlatformYouTube, Enabled: false}}
		}},
		{"bad frequency", func(s *CreateSpec) {
			s.Recurrence = &RecurrencePattern{Frequency: "hourly"}
		}},
		{"negative notification minutes", func(s *CreateSpec) {
			s.Notifications = NotificationSettings{Enabled: true, MinutesBefore: []int{10, -5}}
		}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			spec := baseSpec(future)
			tt.mutate(&spec)
			if _, err := f.svc.CreateBroadcast(spec); !errors.Is(err, faults.ErrValidation) {
				t.Fatalf("CreateBroadcast error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestCreateBroadcastArmsJobs(t *testing.T) {
	t.Parallel()
	f := newFixture(Config{})
	start := time.Now().Add(2 * time.Hour)

	spec := baseSpec(start)
	spec.Notifications = NotificationSettings{Enabled: true, MinutesBefore: []int{60, 10}}
	spec.AutoStart = AutoStartSettings{Enabled: true, AutoGoLive: true}

	b, err := f.svc.CreateBroadcast(spec)
	if err != nil {
		t.Fatalf("CreateBroadcast error: %v", err)
	}
	if b.Status != StatusScheduled {
		t.Fatalf("Status = %s, want scheduled", b.Status)
	}
	if !b.ScheduledEnd.Equal(start.Add(time.Hour)) {
		t.Fatalf("ScheduledEnd = %v, want %v", b.ScheduledEnd, start.Add(time.Hour))
	}

	at, ok := f.jobs.Pending(b.ID + "/notify/60")
	if !ok {
		t.Fatal("60-minute reminder not armed")
	}
	if want := start.Add(-60 * time.Minute); !at.Equal(want) {
		t.Fatalf("reminder fire time = %v, want %v", at, want)
	}
	if _, ok := f.jobs.Pending(b.ID + "/notify/10"); !ok {
		t.Fatal("10-minute reminder not armed")
	}
	if at, ok := f.jobs.Pending(b.ID + "/start"); !ok || !at.Equal(start) {
		t.Fatalf("start job = (%v, %v), want armed at %v", at, ok, start)
	}
}

func TestCreateBroadcastAutoStartInPastFails(t *testing.T) {
	t.Parallel()
	f := newFixture(Config{})

	spec := baseSpec(time.Now().Add(-time.Hour))
	spec.AutoStart = AutoStartSettings{Enabled: true, AutoGoLive: true}

	if _, err := f.svc.CreateBroadcast(spec); !errors.Is(err, faults.ErrTimer) {
		t.Fatalf("CreateBroadcast error = %v, want ErrTimer", err)
	}
	// The failed create leaves nothing behind.
	f.svc.mu.RLock()
	n := len(f.svc.broadcasts)
	f.svc.mu.RUnlock()
	if n != 0 {
		t.Fatalf("registered broadcasts = %d, want 0", n)
	}

	// With a recovery policy the create succeeds; the monitor picks it up.
	spec.AutoStart.OnHostAbsent = AbsentDelay
	if _, err := f.svc.CreateBroadcast(spec); err != nil {
		t.Fatalf("CreateBroadcast with policy error: %v", err)
	}
}

func TestStartAndEndLifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(Config{})
	b, err := f.svc.CreateBroadcast(baseSpec(time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("CreateBroadcast error: %v", err)
	}

	if err := f.svc.StartBroadcast(context.Background(), b.ID, true); err != nil {
		t.Fatalf("StartBroadcast error: %v", err)
	}
	got, err := f.svc.Get(b.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Status != StatusLive {
		t.Fatalf("Status = %s, want live", got.Status)
	}
	if got.ActualStart == nil {
		t.Fatal("ActualStart not set")
	}
	// Only enabled platforms fan out.
	if begun := f.relay.begunPlatforms(); len(begun) != 1 || begun[0] != "youtube" {
		t.Fatalf("begun platforms = %v, want [youtube]", begun)
	}
	// The chat room opened with the host registered.
	if _, err := f.chat.SendMessage(b.ID, "host-1", "we are live", "", nil); err != nil {
		t.Fatalf("host chat message error: %v", err)
	}

	// Starting again is rejected.
	if err := f.svc.StartBroadcast(context.Background(), b.ID, true); !errors.Is(err, faults.ErrInvalidTransition) {
		t.Fatalf("second StartBroadcast error = %v, want ErrInvalidTransition", err)
	}

	analytics, err := f.svc.EndBroadcast(context.Background(), b.ID, false)
	if err != nil {
		t.Fatalf("EndBroadcast error: %v", err)
	}
	if analytics.ChatMessages != 1 {
		t.Fatalf("ChatMessages = %d, want 1", analytics.ChatMessages)
	}
	got, _ = f.svc.Get(b.ID)
	if got.Status != StatusEnded || got.ActualEnd == nil {
		t.Fatalf("after end: status = %s, actual end = %v", got.Status, got.ActualEnd)
	}

	// Teardown is complete: session and room are gone, re-end is rejected.
	if _, err := f.sessions.Stop(b.ID); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("session Stop error = %v, want ErrNotFound", err)
	}
	if err := f.chat.CloseRoom(b.ID); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("CloseRoom error = %v, want ErrNotFound", err)
	}
	if _, err := f.svc.EndBroadcast(context.Background(), b.ID, false); !errors.Is(err, faults.ErrInvalidTransition) {
		t.Fatalf("second EndBroadcast error = %v, want ErrInvalidTransition", err)
	}
}

func TestStartRollbackOnRelayFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(Config{})
	f.relay.failOn = "youtube"

	b, err := f.svc.CreateBroadcast(baseSpec(time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("CreateBroadcast error: %v", err)
	}

	err = f.svc.StartBroadcast(context.Background(), b.ID, true)
	if !errors.Is(err, faults.ErrExternal) {
		t.Fatalf("StartBroadcast error = %v, want ErrExternal", err)
	}

	got, _ := f.svc.Get(b.ID)
	if got.Status != StatusScheduled {
		t.Fatalf("Status = %s, want scheduled after rollback", got.Status)
	}
	if got.ActualStart != nil {
		t.Fatal("ActualStart still set after rollback")
	}
	// No session or chat room left behind; the start can be retried.
	if _, err := f.sessions.Stop(b.ID); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("session Stop error = %v, want ErrNotFound", err)
	}
	f.relay.failOn = ""
	if err := f.svc.StartBroadcast(context.Background(), b.ID, true); err != nil {
		t.Fatalf("retry StartBroadcast error: %v", err)
	}
}

func TestCancelBroadcast(t *testing.T) {
	t.Parallel()
	f := newFixture(Config{})
	start := time.Now().Add(2 * time.Hour)

	spec := baseSpec(start)
	spec.Notifications = NotificationSettings{Enabled: true, MinutesBefore: []int{30}}
	b, err := f.svc.CreateBroadcast(spec)
	if err != nil {
		t.Fatalf("CreateBroadcast error: %v", err)
	}

	if err := f.svc.CancelBroadcast(b.ID, "host request"); err != nil {
		t.Fatalf("CancelBroadcast error: %v", err)
	}
	got, _ := f.svc.Get(b.ID)
	if got.Status != StatusCancelled {
		t.Fatalf("Status = %s, want cancelled", got.Status)
	}
	if _, ok := f.jobs.Pending(b.ID + "/notify/30"); ok {
		t.Fatal("reminder still armed after cancel")
	}

	if err := f.svc.CancelBroadcast(b.ID, "again"); !errors.Is(err, faults.ErrInvalidTransition) {
		t.Fatalf("second CancelBroadcast error = %v, want ErrInvalidTransition", err)
	}
	if err := f.svc.StartBroadcast(context.Background(), b.ID, true); !errors.Is(err, faults.ErrInvalidTransition) {
		t.Fatalf("start after cancel error = %v, want ErrInvalidTransition", err)
	}
}

func TestLifecycleLockReleasedOnTerminalStatus(t *testing.T) {
	t.Parallel()
	f := newFixture(Config{})

	hasLock := func(id string) bool {
		f.svc.locksMu.Lock()
		defer f.svc.locksMu.Unlock()
		_, ok := f.svc.locks[id]
		return ok
	}

	cancelled, err := f.svc.CreateBroadcast(baseSpec(time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("CreateBroadcast error: %v", err)
	}
	if err := f.svc.CancelBroadcast(cancelled.ID, "moved"); err != nil {
		t.Fatalf("CancelBroadcast error: %v", err)
	}
	if hasLock(cancelled.ID) {
		t.Fatal("lifecycle lock kept after cancel")
	}

	ended, err := f.svc.CreateBroadcast(baseSpec(time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("CreateBroadcast error: %v", err)
	}
	if err := f.svc.StartBroadcast(context.Background(), ended.ID, true); err != nil {
		t.Fatalf("StartBroadcast error: %v", err)
	}
	if !hasLock(ended.ID) {
		t.Fatal("lifecycle lock missing while live")
	}
	if _, err := f.svc.EndBroadcast(context.Background(), ended.ID, false); err != nil {
		t.Fatalf("EndBroadcast error: %v", err)
	}
	if hasLock(ended.ID) {
		t.Fatal("lifecycle lock kept after end")
	}

	// A late call against a terminal broadcast must not re-create the entry.
	if err := f.svc.StartBroadcast(context.Background(), ended.ID, true); !errors.Is(err, faults.ErrInvalidTransition) {
		t.Fatalf("start after end error = %v, want ErrInvalidTransition", err)
	}
	if hasLock(ended.ID) {
		t.Fatal("lifecycle lock re-created by rejected start")
	}
}

func TestUpdateBroadcast(t *testing.T) {
	t.Parallel()
	f := newFixture(Config{})
	start := time.Now().Add(time.Hour)
	b, err := f.svc.CreateBroadcast(baseSpec(start))
	if err != nil {
		t.Fatalf("CreateBroadcast error: %v", err)
	}

	newStart := start.Add(30 * time.Minute)
	newDur := 2 * time.Hour
	title := "Rescheduled Launch"
	got, err := f.svc.UpdateBroadcast(b.ID, Update{
		Title:          &title,
		ScheduledStart: &newStart,
		Duration:       &newDur,
	})
	if err != nil {
		t.Fatalf("UpdateBroadcast error: %v", err)
	}
	if got.Title != title {
		t.Fatalf("Title = %q, want %q", got.Title, title)
	}
	if !got.ScheduledEnd.Equal(newStart.Add(newDur)) {
		t.Fatalf("ScheduledEnd = %v, want %v", got.ScheduledEnd, newStart.Add(newDur))
	}

	// A no-op update is fine.
	if _, err := f.svc.UpdateBroadcast(b.ID, Update{}); err != nil {
		t.Fatalf("empty UpdateBroadcast error: %v", err)
	}

	badDur := -time.Minute
	if _, err := f.svc.UpdateBroadcast(b.ID, Update{Duration: &badDur}); !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("negative duration error = %v, want ErrValidation", err)
	}
	badNotif := NotificationSettings{Enabled: true, MinutesBefore: []int{-1}}
	if _, err := f.svc.UpdateBroadcast(b.ID, Update{Notifications: &badNotif}); !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("negative notification minutes error = %v, want ErrValidation", err)
	}

	if err := f.svc.StartBroadcast(context.Background(), b.ID, true); err != nil {
		t.Fatalf("StartBroadcast error: %v", err)
	}
	if _, err := f.svc.UpdateBroadcast(b.ID, Update{Title: &title}); !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("update while live error = %v, want ErrValidation", err)
	}
	if _, err := f.svc.UpdateBroadcast("nope", Update{}); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("unknown id error = %v, want ErrNotFound", err)
	}
}

func TestSendReminderDispatches(t *testing.T) {
	t.Parallel()
	f := newFixture(Config{})
	spec := baseSpec(time.Now().Add(time.Hour))
	spec.Notifications = NotificationSettings{
		Enabled:       true,
		MinutesBefore: []int{10},
		Channels:      []string{"push", "email"},
		Message:       "{title} starts in {minutes} minutes!",
	}
	b, err := f.svc.CreateBroadcast(spec)
	if err != nil {
		t.Fatalf("CreateBroadcast error: %v", err)
	}

	if err := f.svc.sendReminder(context.Background(), b.ID, 10); err != nil {
		t.Fatalf("sendReminder error: %v", err)
	}
	f.notifs.mu.Lock()
	defer f.notifs.mu.Unlock()
	if len(f.notifs.sent) != 1 {
		t.Fatalf("notifications sent = %d, want 1", len(f.notifs.sent))
	}
	n := f.notifs.sent[0]
	if n.Message != "Product Launch starts in 10 minutes!" {
		t.Fatalf("Message = %q", n.Message)
	}
	if len(n.Channels) != 2 || n.MinutesBefore != 10 {
		t.Fatalf("notification = %+v", n)
	}
}

func TestAnalyticsSynthesis(t *testing.T) {
	t.Parallel()
	f := newFixture(Config{})
	b, err := f.svc.CreateBroadcast(baseSpec(time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("CreateBroadcast error: %v", err)
	}
	if err := f.svc.StartBroadcast(context.Background(), b.ID, true); err != nil {
		t.Fatalf("StartBroadcast error: %v", err)
	}

	_ = f.sessions.AddViewer(b.ID, "u1")
	_ = f.sessions.AddViewer(b.ID, "u2")
	_ = f.sessions.RemoveViewer(b.ID, "u1")
	_ = f.sessions.AddViewer(b.ID, "u1")
	_ = f.sessions.RecordPurchase(b.ID, "u1", "p1", 49.50)

	_ = f.chat.JoinRoom(b.ID, "u1", "u1", "", false)
	for i := 0; i < 3; i++ {
		if _, err := f.chat.SendMessage(b.ID, "u1", "great stream", "", nil); err != nil {
			t.Fatalf("SendMessage error: %v", err)
		}
	}

	a, err := f.svc.EndBroadcast(context.Background(), b.ID, false)
	if err != nil {
		t.Fatalf("EndBroadcast error: %v", err)
	}
	if a.PeakViewers != 2 {
		t.Fatalf("PeakViewers = %d, want 2", a.PeakViewers)
	}
	// u1 joined twice: every join counts as a view.
	if a.TotalViewers != 3 {
		t.Fatalf("TotalViewers = %d, want 3", a.TotalViewers)
	}
	if a.ChatMessages != 3 || a.UniqueChatters != 1 {
		t.Fatalf("chat summary = %d msgs / %d chatters, want 3 / 1", a.ChatMessages, a.UniqueChatters)
	}
	if a.Purchases != 1 || a.Revenue != 49.50 {
		t.Fatalf("purchases = %d revenue = %v", a.Purchases, a.Revenue)
	}
	if len(a.TopChatters) != 1 || a.TopChatters[0].UserID != "u1" {
		t.Fatalf("TopChatters = %+v", a.TopChatters)
	}

	stored, err := f.svc.AnalyticsFor(b.ID)
	if err != nil {
		t.Fatalf("AnalyticsFor error: %v", err)
	}
	if stored.TotalViewers != a.TotalViewers || stored.Revenue != a.Revenue {
		t.Fatalf("stored analytics diverge: %+v vs %+v", stored, a)
	}
	if _, err := f.svc.AnalyticsFor("nope"); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("AnalyticsFor(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestTemplates(t *testing.T) {
	t.Parallel()
	f := newFixture(Config{})

	tmpl, err := f.svc.CreateTemplate(TemplateSpec{
		Name:     "weekly-show",
		Title:    "Weekly Show",
		Duration: 90 * time.Minute,
		Platforms: []BroadcastPlatform{
			{Platform: PlatformTwitch, Enabled: true},
		},
		Stream: StreamSettings{ChatEnabled: true, Category: "talk"},
	})
	if err != nil {
		t.Fatalf("CreateTemplate error: %v", err)
	}
	if _, err := f.svc.CreateTemplate(TemplateSpec{}); !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("nameless template error = %v, want ErrValidation", err)
	}

	start := time.Now().Add(time.Hour)
	b, err := f.svc.CreateFromTemplate(tmpl.ID, CreateSpec{
		HostID:         "host-1",
		ScheduledStart: start,
	})
	if err != nil {
		t.Fatalf("CreateFromTemplate error: %v", err)
	}
	if b.Title != "Weekly Show" || b.Duration != 90*time.Minute {
		t.Fatalf("inherited fields wrong: title=%q duration=%v", b.Title, b.Duration)
	}
	if len(b.Platforms) != 1 || b.Platforms[0].Platform != PlatformTwitch {
		t.Fatalf("Platforms = %+v", b.Platforms)
	}
	if b.TemplateID != tmpl.ID {
		t.Fatalf("TemplateID = %q, want %q", b.TemplateID, tmpl.ID)
	}
	if b.Stream.Category != "talk" {
		t.Fatalf("Stream.Category = %q, want talk", b.Stream.Category)
	}

	// Overrides win over template defaults.
	b2, err := f.svc.CreateFromTemplate(tmpl.ID, CreateSpec{
		Title:          "Special Episode",
		HostID:         "host-1",
		ScheduledStart: start.Add(time.Hour),
		Duration:       2 * time.Hour,
	})
	if err != nil {
		t.Fatalf("CreateFromTemplate error: %v", err)
	}
	if b2.Title != "Special Episode" || b2.Duration != 2*time.Hour {
		t.Fatalf("overrides lost: title=%q duration=%v", b2.Title, b2.Duration)
	}

	if _, err := f.svc.CreateFromTemplate("missing", CreateSpec{}); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("unknown template error = %v, want ErrNotFound", err)
	}
	if got := len(f.svc.Templates()); got != 1 {
		t.Fatalf("Templates len = %d, want 1", got)
	}
}

func TestQueries(t *testing.T) {
	t.Parallel()
	f := newFixture(Config{})
	now := time.Now()

	late, err := f.svc.CreateBroadcast(baseSpec(now.Add(3 * time.Hour)))
	if err != nil {
		t.Fatalf("CreateBroadcast error: %v", err)
	}
	early, err := f.svc.CreateBroadcast(baseSpec(now.Add(1 * time.Hour)))
	if err != nil {
		t.Fatalf("CreateBroadcast error: %v", err)
	}
	done, err := f.svc.CreateBroadcast(baseSpec(now.Add(2 * time.Hour)))
	if err != nil {
		t.Fatalf("CreateBroadcast error: %v", err)
	}

	if err := f.svc.StartBroadcast(context.Background(), done.ID, true); err != nil {
		t.Fatalf("StartBroadcast error: %v", err)
	}
	live := f.svc.LiveNow()
	if len(live) != 1 || live[0].ID != done.ID {
		t.Fatalf("LiveNow = %+v, want [%s]", live, done.ID)
	}
	if _, err := f.svc.EndBroadcast(context.Background(), done.ID, false); err != nil {
		t.Fatalf("EndBroadcast error: %v", err)
	}

	up := f.svc.Upcoming()
	if len(up) != 2 {
		t.Fatalf("Upcoming len = %d, want 2", len(up))
	}
	if up[0].ID != early.ID || up[1].ID != late.ID {
		t.Fatal("Upcoming not sorted soonest first")
	}

	hist := f.svc.History("host-1")
	if len(hist) != 1 || hist[0].ID != done.ID {
		t.Fatalf("History = %+v, want [%s]", hist, done.ID)
	}
	if got := f.svc.History("someone-else"); len(got) != 0 {
		t.Fatalf("History(other host) len = %d, want 0", len(got))
	}
}
