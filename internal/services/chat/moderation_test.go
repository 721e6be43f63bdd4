package chat

import (
	"errors"
	"testing"
	"time"

	"livecast/internal/faults"
)

func TestBanAndUnban(t *testing.T) {
	t.Parallel()
	s := newTestRoom(t, Config{})
	join(t, s, "troll", RoleViewer, false)

	if err := s.BanUser("b1", "host", "troll", "abuse"); err != nil {
		t.Fatalf("BanUser error: %v", err)
	}
	// Banned users are force-removed and stay rejected even without
	// membership.
	_, err := s.SendMessage("b1", "troll", "hi", "", nil)
	if got := rejectionReason(t, err); got != ReasonBanned {
		t.Fatalf("reason = %s, want %s", got, ReasonBanned)
	}
	err = s.JoinRoom("b1", "troll", "troll", RoleViewer, false)
	if got := rejectionReason(t, err); got != ReasonBanned {
		t.Fatalf("rejoin reason = %s, want %s", got, ReasonBanned)
	}

	if err := s.UnbanUser("b1", "host", "troll"); err != nil {
		t.Fatalf("UnbanUser error: %v", err)
	}
	if err := s.UnbanUser("b1", "host", "troll"); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("second UnbanUser error = %v, want ErrNotFound", err)
	}
	// Unban does not restore membership; the user must rejoin.
	if _, err := s.SendMessage("b1", "troll", "hi", "", nil); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("SendMessage before rejoin error = %v, want ErrNotFound", err)
	}
	join(t, s, "troll", RoleViewer, false)
	if _, err := s.SendMessage("b1", "troll", "reformed", "", nil); err != nil {
		t.Fatalf("SendMessage after rejoin error: %v", err)
	}
}

func TestTimeoutLazyExpiry(t *testing.T) {
	t.Parallel()
	s := newTestRoom(t, Config{})
	join(t, s, "u1", RoleViewer, false)

	base := time.Now()
	s.now = func() time.Time { return base }
	if err := s.TimeoutUser("b1", "host", "u1", 5*time.Minute, "calm down"); err != nil {
		t.Fatalf("TimeoutUser error: %v", err)
	}
	_, err := s.SendMessage("b1", "u1", "hello?", "", nil)
	if got := rejectionReason(t, err); got != ReasonTimedOut {
		t.Fatalf("reason = %s, want %s", got, ReasonTimedOut)
	}

	s.now = func() time.Time { return base.Add(6 * time.Minute) }
	if _, err := s.SendMessage("b1", "u1", "back", "", nil); err != nil {
		t.Fatalf("SendMessage after expiry error: %v", err)
	}

	if err := s.TimeoutUser("b1", "host", "u1", 0, ""); !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("zero-duration timeout error = %v, want ErrValidation", err)
	}
}

func TestDeleteMessageSoftDeletes(t *testing.T) {
	t.Parallel()
	s := newTestRoom(t, Config{})
	join(t, s, "u1", RoleViewer, false)

	msg, err := s.SendMessage("b1", "u1", "oops", "", nil)
	if err != nil {
		t.Fatalf("SendMessage error: %v", err)
	}
	if err := s.DeleteMessage("b1", msg.ID, "host"); err != nil {
		t.Fatalf("DeleteMessage error: %v", err)
	}
	if err := s.DeleteMessage("b1", "nope", "host"); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("DeleteMessage(missing) error = %v, want ErrNotFound", err)
	}

	msgs, _ := s.Messages("b1", 0)
	for _, m := range msgs {
		if m.ID == msg.ID {
			t.Fatal("deleted message still visible")
		}
	}
}

func TestModerationRequiresModerator(t *testing.T) {
	t.Parallel()
	s := newTestRoom(t, Config{})
	join(t, s, "u1", RoleViewer, false)
	join(t, s, "mod", RoleModerator, true)

	if err := s.BanUser("b1", "u1", "mod", "nope"); !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("viewer BanUser error = %v, want ErrValidation", err)
	}
	if err := s.SetSlowMode("b1", "ghost", true, time.Second); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("unknown moderator error = %v, want ErrNotFound", err)
	}
	if err := s.TimeoutUser("b1", "mod", "u1", time.Minute, "ok"); err != nil {
		t.Fatalf("moderator TimeoutUser error: %v", err)
	}
}

func TestActionsAudit(t *testing.T) {
	t.Parallel()
	s := newTestRoom(t, Config{})
	join(t, s, "u1", RoleViewer, false)

	_ = s.TimeoutUser("b1", "host", "u1", time.Minute, "first")
	_ = s.BanUser("b1", "host", "u1", "second")
	_ = s.SetSlowMode("b1", "host", true, 2*time.Second)

	actions, err := s.Actions("b1")
	if err != nil {
		t.Fatalf("Actions error: %v", err)
	}
	if len(actions) != 3 {
		t.Fatalf("actions = %d, want 3", len(actions))
	}
	want := []ActionKind{ActionTimeout, ActionBan, ActionSlowMode}
	for i, a := range actions {
		if a.Kind != want[i] {
			t.Fatalf("action[%d].Kind = %s, want %s", i, a.Kind, want[i])
		}
		if a.ID == "" || a.At.IsZero() {
			t.Fatalf("action[%d] missing id or timestamp", i)
		}
	}
}

func TestUpdateSettingsPartial(t *testing.T) {
	t.Parallel()
	s := newTestRoom(t, Config{})

	maxLen := 100
	allowLinks := true
	got, err := s.UpdateSettings("b1", "host", SettingsUpdate{
		MaxMessageLength: &maxLen,
		AllowLinks:       &allowLinks,
	})
	if err != nil {
		t.Fatalf("UpdateSettings error: %v", err)
	}
	if got.MaxMessageLength != 100 || !got.AllowLinks {
		t.Fatalf("settings = %+v, want max=100 links=true", got)
	}
	// Untouched fields keep their defaults.
	if !got.AutoModeration || len(got.BannedWords) != 3 {
		t.Fatalf("unrelated settings changed: %+v", got)
	}

	bad := 0
	if _, err := s.UpdateSettings("b1", "host", SettingsUpdate{MaxMessageLength: &bad}); !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("zero max length error = %v, want ErrValidation", err)
	}
}
