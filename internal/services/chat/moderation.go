package chat

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"livecast/internal/faults"
)

// DeleteMessage soft-deletes a message. Content is retained for moderation
// records; only the flag flips.
func (s *Service) DeleteMessage(broadcastID, messageID, moderatorID string) error {
	r, err := s.lookup(broadcastID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := requireModeratorLocked(r, moderatorID); err != nil {
		return err
	}
	for _, m := range r.messages {
		if m.ID == messageID {
			m.Deleted = true
			s.recordActionLocked(r, Action{ModeratorID: moderatorID, TargetID: m.UserID, Kind: ActionDelete, Reason: "message " + messageID})
			return nil
		}
	}
	return faults.NotFound("chat message", messageID)
}

// TimeoutUser blocks the target from sending until the duration elapses.
// Expiry is checked lazily on each send attempt.
func (s *Service) TimeoutUser(broadcastID, moderatorID, targetID string, duration time.Duration, reason string) error {
	if duration <= 0 {
		return faults.Validation("timeout duration must be > 0")
	}
	r, err := s.lookup(broadcastID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := requireModeratorLocked(r, moderatorID); err != nil {
		return err
	}
	r.timeouts[targetID] = s.now().Add(duration)
	s.recordActionLocked(r, Action{ModeratorID: moderatorID, TargetID: targetID, Kind: ActionTimeout, Duration: duration, Reason: reason})
	s.appendSystemLocked(r, fmt.Sprintf("%s was timed out for %s", displayNameLocked(r, targetID), duration))
	return nil
}

// BanUser adds the target to the permanent ban set and force-removes them
// from the room.
func (s *Service) BanUser(broadcastID, moderatorID, targetID, reason string) error {
	r, err := s.lookup(broadcastID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := requireModeratorLocked(r, moderatorID); err != nil {
		return err
	}
	name := displayNameLocked(r, targetID)
	r.banned[targetID] = struct{}{}
	delete(r.users, targetID)
	delete(r.limiters, targetID)
	s.recordActionLocked(r, Action{ModeratorID: moderatorID, TargetID: targetID, Kind: ActionBan, Reason: reason})
	s.appendSystemLocked(r, name+" was banned")
	return nil
}

// UnbanUser lifts a ban. The user must rejoin to chat again.
func (s *Service) UnbanUser(broadcastID, moderatorID, targetID string) error {
	r, err := s.lookup(broadcastID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := requireModeratorLocked(r, moderatorID); err != nil {
		return err
	}
	if _, ok := r.banned[targetID]; !ok {
		return faults.NotFound("ban for user", targetID)
	}
	delete(r.banned, targetID)
	s.recordActionLocked(r, Action{ModeratorID: moderatorID, TargetID: targetID, Kind: ActionUnban})
	return nil
}

// SetSlowMode toggles slow mode. Enabling resets per-user pacing state.
func (s *Service) SetSlowMode(broadcastID, moderatorID string, enabled bool, delay time.Duration) error {
	r, err := s.lookup(broadcastID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := requireModeratorLocked(r, moderatorID); err != nil {
		return err
	}
	r.settings.SlowMode = enabled
	r.settings.SlowModeDelay = delay
	clear(r.limiters)
	s.recordActionLocked(r, Action{ModeratorID: moderatorID, Kind: ActionSlowMode, Duration: delay, Reason: onOff(enabled)})
	return nil
}

// SetFollowersOnly toggles the followers-only gate.
func (s *Service) SetFollowersOnly(broadcastID, moderatorID string, enabled bool) error {
	return s.setGate(broadcastID, moderatorID, ActionFollowersOnly, enabled)
}

// SetSubscribersOnly toggles the subscribers-only gate.
func (s *Service) SetSubscribersOnly(broadcastID, moderatorID string, enabled bool) error {
	return s.setGate(broadcastID, moderatorID, ActionSubscribersOnly, enabled)
}

func (s *Service) setGate(broadcastID, moderatorID string, kind ActionKind, enabled bool) error {
	r, err := s.lookup(broadcastID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := requireModeratorLocked(r, moderatorID); err != nil {
		return err
	}
	switch kind {
	case ActionFollowersOnly:
		r.settings.FollowersOnly = enabled
	case ActionSubscribersOnly:
		r.settings.SubscribersOnly = enabled
	}
	s.recordActionLocked(r, Action{ModeratorID: moderatorID, Kind: kind, Reason: onOff(enabled)})
	return nil
}

// UpdateSettings applies a partial settings change. Changing the slow-mode
// fields resets per-user pacing state, same as SetSlowMode.
func (s *Service) UpdateSettings(broadcastID, moderatorID string, upd SettingsUpdate) (Settings, error) {
	r, err := s.lookup(broadcastID)
	if err != nil {
		return Settings{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := requireModeratorLocked(r, moderatorID); err != nil {
		return Settings{}, err
	}
	if upd.MaxMessageLength != nil && *upd.MaxMessageLength <= 0 {
		return Settings{}, faults.Validation("max message length must be > 0")
	}
	if upd.SlowMode != nil {
		r.settings.SlowMode = *upd.SlowMode
		clear(r.limiters)
	}
	if upd.SlowModeDelay != nil {
		r.settings.SlowModeDelay = *upd.SlowModeDelay
		clear(r.limiters)
	}
	if upd.FollowersOnly != nil {
		r.settings.FollowersOnly = *upd.FollowersOnly
	}
	if upd.SubscribersOnly != nil {
		r.settings.SubscribersOnly = *upd.SubscribersOnly
	}
	if upd.MaxMessageLength != nil {
		r.settings.MaxMessageLength = *upd.MaxMessageLength
	}
	if upd.AutoModeration != nil {
		r.settings.AutoModeration = *upd.AutoModeration
	}
	if upd.BannedWords != nil {
		r.settings.BannedWords = append([]string(nil), (*upd.BannedWords)...)
	}
	if upd.AllowLinks != nil {
		r.settings.AllowLinks = *upd.AllowLinks
	}
	return r.settings, nil
}

// Actions returns a copy of the moderation audit log.
func (s *Service) Actions(broadcastID string) ([]Action, error) {
	r, err := s.lookup(broadcastID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Action(nil), r.actions...), nil
}

// recordActionLocked appends to the audit log and publishes the moderation
// event. Call with r.mu held.
func (s *Service) recordActionLocked(r *room, a Action) {
	a.ID = uuid.NewString()
	a.At = s.now()
	r.actions = append(r.actions, a)
	s.log.Info().
		Str("broadcast", r.broadcastID).
		Str("action", string(a.Kind)).
		Str("moderator", a.ModeratorID).
		Str("target", a.TargetID).
		Msg("moderation action")
	s.publish(TopicModeration, RoomEvent{BroadcastID: r.broadcastID, UserID: a.TargetID, Action: string(a.Kind), At: a.At})
}

func requireModeratorLocked(r *room, userID string) error {
	u, ok := r.users[userID]
	if !ok {
		return faults.NotFound("chat user", userID)
	}
	if u.Role != RoleHost && u.Role != RoleModerator {
		return faults.Validation("user %q is not a moderator", userID)
	}
	return nil
}

func displayNameLocked(r *room, userID string) string {
	if u, ok := r.users[userID]; ok {
		return u.Username
	}
	return userID
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}
