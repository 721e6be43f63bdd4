package scheduler

import (
	"context"
	"testing"
	"time"
)

func missedSpec(start time.Time, policy AbsentPolicy) CreateSpec {
	spec := baseSpec(start)
	spec.AutoStart = AutoStartSettings{Enabled: true, AutoGoLive: true, OnHostAbsent: policy}
	return spec
}

func TestMonitorCancelPolicy(t *testing.T) {
	t.Parallel()
	f := newFixture(Config{})
	base := time.Now()

	b, err := f.svc.CreateBroadcast(missedSpec(base.Add(time.Minute), AbsentCancel))
	if err != nil {
		t.Fatalf("CreateBroadcast error: %v", err)
	}

	f.svc.now = func() time.Time { return base.Add(10 * time.Minute) }
	if err := f.svc.RunMonitor(context.Background()); err != nil {
		t.Fatalf("RunMonitor error: %v", err)
	}

	got, _ := f.svc.Get(b.ID)
	if got.Status != StatusCancelled {
		t.Fatalf("Status = %s, want cancelled", got.Status)
	}
}

func TestMonitorDelayPolicy(t *testing.T) {
	t.Parallel()
	f := newFixture(Config{DelayRetry: 15 * time.Minute})
	base := time.Now()

	b, err := f.svc.CreateBroadcast(missedSpec(base.Add(time.Minute), AbsentDelay))
	if err != nil {
		t.Fatalf("CreateBroadcast error: %v", err)
	}

	missedAt := base.Add(10 * time.Minute)
	f.svc.now = func() time.Time { return missedAt }
	if err := f.svc.RunMonitor(context.Background()); err != nil {
		t.Fatalf("RunMonitor error: %v", err)
	}

	got, _ := f.svc.Get(b.ID)
	if got.Status != StatusScheduled {
		t.Fatalf("Status = %s, want scheduled", got.Status)
	}
	wantStart := missedAt.Add(15 * time.Minute)
	if !got.ScheduledStart.Equal(wantStart) {
		t.Fatalf("ScheduledStart = %v, want %v", got.ScheduledStart, wantStart)
	}
	// The window keeps its length.
	if !got.ScheduledEnd.Equal(wantStart.Add(time.Hour)) {
		t.Fatalf("ScheduledEnd = %v, want %v", got.ScheduledEnd, wantStart.Add(time.Hour))
	}
	// The start job is re-armed at the delayed time.
	if at, ok := f.jobs.Pending(b.ID + "/start"); !ok || !at.Equal(wantStart) {
		t.Fatalf("start job = (%v, %v), want armed at %v", at, ok, wantStart)
	}
}

func TestMonitorAutoStartPolicy(t *testing.T) {
	t.Parallel()
	f := newFixture(Config{})
	base := time.Now()

	b, err := f.svc.CreateBroadcast(missedSpec(base.Add(time.Minute), AbsentAutoStart))
	if err != nil {
		t.Fatalf("CreateBroadcast error: %v", err)
	}

	f.svc.now = func() time.Time { return base.Add(10 * time.Minute) }
	if err := f.svc.RunMonitor(context.Background()); err != nil {
		t.Fatalf("RunMonitor error: %v", err)
	}

	got, _ := f.svc.Get(b.ID)
	if got.Status != StatusLive {
		t.Fatalf("Status = %s, want live", got.Status)
	}
	if begun := f.relay.begunPlatforms(); len(begun) != 1 {
		t.Fatalf("begun platforms = %v, want one", begun)
	}
}

func TestMonitorIgnoresFreshAndManualBroadcasts(t *testing.T) {
	t.Parallel()
	f := newFixture(Config{})
	base := time.Now()

	// Not yet due: inside the monitor interval.
	fresh, err := f.svc.CreateBroadcast(missedSpec(base.Add(time.Hour), AbsentCancel))
	if err != nil {
		t.Fatalf("CreateBroadcast error: %v", err)
	}
	// No auto-go-live: waits for the host forever.
	manualSpec := baseSpec(base.Add(time.Minute))
	manual, err := f.svc.CreateBroadcast(manualSpec)
	if err != nil {
		t.Fatalf("CreateBroadcast error: %v", err)
	}

	f.svc.now = func() time.Time { return base.Add(10 * time.Minute) }
	if err := f.svc.RunMonitor(context.Background()); err != nil {
		t.Fatalf("RunMonitor error: %v", err)
	}

	for _, id := range []string{fresh.ID, manual.ID} {
		got, _ := f.svc.Get(id)
		if got.Status != StatusScheduled {
			t.Fatalf("broadcast %s status = %s, want scheduled", id, got.Status)
		}
	}
}

func TestMonitorOverrunFlagsOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(Config{OverrunGrace: 30 * time.Minute})
	base := time.Now()

	b, err := f.svc.CreateBroadcast(baseSpec(base.Add(time.Minute)))
	if err != nil {
		t.Fatalf("CreateBroadcast error: %v", err)
	}
	f.svc.now = func() time.Time { return base }
	if err := f.svc.StartBroadcast(context.Background(), b.ID, true); err != nil {
		t.Fatalf("StartBroadcast error: %v", err)
	}

	events, unsub := f.bus.Subscribe(8, TopicOverrun)
	defer unsub()

	// Past duration+grace: 1h + 30m.
	f.svc.now = func() time.Time { return base.Add(2 * time.Hour) }
	if err := f.svc.RunMonitor(context.Background()); err != nil {
		t.Fatalf("RunMonitor error: %v", err)
	}
	if err := f.svc.RunMonitor(context.Background()); err != nil {
		t.Fatalf("second RunMonitor error: %v", err)
	}

	got, _ := f.svc.Get(b.ID)
	// No auto-end configured: the broadcast stays live but is flagged.
	if got.Status != StatusLive {
		t.Fatalf("Status = %s, want live", got.Status)
	}
	if !got.Overrun {
		t.Fatal("Overrun flag not set")
	}
	if n := len(events); n != 1 {
		t.Fatalf("overrun events = %d, want exactly 1", n)
	}
}

func TestMonitorOverrunAutoEnds(t *testing.T) {
	t.Parallel()
	f := newFixture(Config{OverrunGrace: 30 * time.Minute})
	base := time.Now()

	spec := baseSpec(base.Add(time.Minute))
	spec.AutoStart = AutoStartSettings{Enabled: true, AutoEndAfterDuration: true}
	b, err := f.svc.CreateBroadcast(spec)
	if err != nil {
		t.Fatalf("CreateBroadcast error: %v", err)
	}
	f.svc.now = func() time.Time { return base }
	if err := f.svc.StartBroadcast(context.Background(), b.ID, true); err != nil {
		t.Fatalf("StartBroadcast error: %v", err)
	}

	f.svc.now = func() time.Time { return base.Add(2 * time.Hour) }
	if err := f.svc.RunMonitor(context.Background()); err != nil {
		t.Fatalf("RunMonitor error: %v", err)
	}

	got, _ := f.svc.Get(b.ID)
	if got.Status != StatusEnded {
		t.Fatalf("Status = %s, want ended", got.Status)
	}
	if !got.Overrun {
		t.Fatal("Overrun flag not set")
	}
	if _, err := f.svc.AnalyticsFor(b.ID); err != nil {
		t.Fatalf("AnalyticsFor error: %v", err)
	}
}
