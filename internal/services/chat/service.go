package chat

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"livecast/internal/eventbus"
	"livecast/internal/faults"
)

var (
	mentionRe = regexp.MustCompile(`@(\w+)`)
	emoteRe   = regexp.MustCompile(`:(\w+):`)
	linkRe    = regexp.MustCompile(`(?i)\bhttps?://|\bwww\.`)
)

type Service struct {
	mu    sync.RWMutex
	rooms map[string]*room

	cfg Config
	bus eventbus.Bus
	log zerolog.Logger

	now func() time.Time
}

func New(cfg Config, bus eventbus.Bus, log zerolog.Logger) *Service {
	return &Service{
		cfg:   cfg.withDefaults(),
		rooms: map[string]*room{},
		bus:   bus,
		log:   log,
		now:   time.Now,
	}
}

// OpenRoom creates the chat room for a broadcast and returns its settings.
func (s *Service) OpenRoom(broadcastID, hostID string) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[broadcastID]; ok {
		return Settings{}, faults.Validation("chat room for broadcast %q already open", broadcastID)
	}
	settings := DefaultSettings()
	r := &room{
		broadcastID: broadcastID,
		hostID:      hostID,
		settings:    settings,
		users:       map[string]*User{},
		banned:      map[string]struct{}{},
		timeouts:    map[string]time.Time{},
		limiters:    map[string]*rate.Limiter{},
		openedAt:    s.now(),
	}
	r.users[hostID] = &User{ID: hostID, Username: hostID, Role: RoleHost, JoinedAt: r.openedAt}
	s.rooms[broadcastID] = r

	s.log.Info().Str("broadcast", broadcastID).Str("host", hostID).Msg("chat room opened")
	s.publish(TopicRoomOpened, RoomEvent{BroadcastID: broadcastID, UserID: hostID})
	return settings, nil
}

// CloseRoom destroys the room for a broadcast.
func (s *Service) CloseRoom(broadcastID string) error {
	s.mu.Lock()
	_, ok := s.rooms[broadcastID]
	delete(s.rooms, broadcastID)
	s.mu.Unlock()
	if !ok {
		return faults.NotFound("chat room", broadcastID)
	}
	s.log.Info().Str("broadcast", broadcastID).Msg("chat room closed")
	s.publish(TopicRoomClosed, RoomEvent{BroadcastID: broadcastID})
	return nil
}

// JoinRoom registers a chat user and records a system message. Banned users
// cannot rejoin.
func (s *Service) JoinRoom(broadcastID, userID, username string, role Role, follower bool) error {
	r, err := s.lookup(broadcastID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, banned := r.banned[userID]; banned {
		return &Rejection{Reason: ReasonBanned}
	}
	if _, ok := r.users[userID]; ok {
		return nil
	}
	if role == "" {
		role = RoleViewer
	}
	r.users[userID] = &User{ID: userID, Username: username, Role: role, Follower: follower, JoinedAt: s.now()}
	s.appendSystemLocked(r, username+" joined the chat")
	return nil
}

// LeaveRoom removes a chat user and records a system message.
func (s *Service) LeaveRoom(broadcastID, userID string) error {
	r, err := s.lookup(broadcastID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil
	}
	delete(r.users, userID)
	delete(r.limiters, userID)
	s.appendSystemLocked(r, u.Username+" left the chat")
	return nil
}

// SendMessage runs the admission pipeline and appends the message on pass.
// Rejections return a *Rejection carrying the reason code; the log is left
// unchanged.
func (s *Service) SendMessage(broadcastID, userID, content string, typ MessageType, meta *Metadata) (*Message, error) {
	r, err := s.lookup(broadcastID)
	if err != nil {
		return nil, err
	}
	if typ == "" {
		typ = TypeMessage
	}
	now := s.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, banned := r.banned[userID]; banned {
		return nil, &Rejection{Reason: ReasonBanned}
	}
	if until, ok := r.timeouts[userID]; ok {
		if now.Before(until) {
			return nil, &Rejection{Reason: ReasonTimedOut}
		}
		// Lazy expiry.
		delete(r.timeouts, userID)
	}
	u, ok := r.users[userID]
	if !ok {
		return nil, faults.NotFound("chat user", userID)
	}

	set := r.settings
	if len(content) > set.MaxMessageLength {
		return nil, &Rejection{Reason: ReasonTooLong}
	}
	if set.AutoModeration {
		lower := strings.ToLower(content)
		for _, w := range set.BannedWords {
			if w != "" && strings.Contains(lower, strings.ToLower(w)) {
				return nil, &Rejection{Reason: ReasonBannedWord}
			}
		}
	}
	if !set.AllowLinks && linkRe.MatchString(content) {
		return nil, &Rejection{Reason: ReasonLinks}
	}
	if set.SubscribersOnly && u.Role == RoleViewer {
		return nil, &Rejection{Reason: ReasonSubscribersOnly}
	}
	if set.FollowersOnly && u.Role == RoleViewer && !u.Follower {
		return nil, &Rejection{Reason: ReasonFollowersOnly}
	}
	if set.SlowMode && u.Role != RoleHost && u.Role != RoleModerator {
		lim := r.limiters[userID]
		if lim == nil {
			delay := set.SlowModeDelay
			if delay <= 0 {
				delay = 3 * time.Second
			}
			lim = rate.NewLimiter(rate.Every(delay), 1)
			r.limiters[userID] = lim
		}
		if !lim.Allow() {
			return nil, &Rejection{Reason: ReasonSlowMode}
		}
	}

	msg := &Message{
		ID:       uuid.NewString(),
		UserID:   userID,
		Username: u.Username,
		Content:  content,
		Type:     typ,
		SentAt:   now,
		Mentions: extractTokens(mentionRe, content),
		Emotes:   extractTokens(emoteRe, content),
		Meta:     meta,
	}
	s.appendLocked(r, msg)
	u.MessageCount++

	s.publish(TopicMessage, RoomEvent{BroadcastID: broadcastID, UserID: userID, At: now})
	return msg, nil
}

// Messages returns the visible (non-deleted) tail of the room log, newest
// last, up to limit entries (0 means all).
func (s *Service) Messages(broadcastID string, limit int) ([]Message, error) {
	r, err := s.lookup(broadcastID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, 0, len(r.messages))
	for _, m := range r.messages {
		if !m.Deleted {
			out = append(out, *m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Settings returns the current room settings.
func (s *Service) Settings(broadcastID string) (Settings, error) {
	r, err := s.lookup(broadcastID)
	if err != nil {
		return Settings{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings, nil
}

// Sweep purges expired timeout entries and drops messages older than the
// retention window. It is registered as a periodic job by the app wiring.
func (s *Service) Sweep() {
	cutoff := s.now().Add(-s.cfg.Retention)
	now := s.now()

	s.mu.RLock()
	all := make([]*room, 0, len(s.rooms))
	for _, r := range s.rooms {
		all = append(all, r)
	}
	s.mu.RUnlock()

	for _, r := range all {
		r.mu.Lock()
		for uid, until := range r.timeouts {
			if !now.Before(until) {
				delete(r.timeouts, uid)
			}
		}
		n := 0
		for _, m := range r.messages {
			if m.SentAt.After(cutoff) {
				r.messages[n] = m
				n++
			}
		}
		if n < len(r.messages) {
			dropped := len(r.messages) - n
			r.messages = r.messages[:n]
			s.log.Debug().Str("broadcast", r.broadcastID).Int("dropped", dropped).Msg("swept old chat messages")
		}
		r.mu.Unlock()
	}
}

// SweepInterval exposes the configured sweep period for wiring.
func (s *Service) SweepInterval() time.Duration { return s.cfg.SweepInterval }

// appendLocked appends to the bounded log, evicting the oldest entry when
// full. Call with r.mu held.
func (s *Service) appendLocked(r *room, m *Message) {
	r.messages = append(r.messages, m)
	if over := len(r.messages) - s.cfg.HistoryLimit; over > 0 {
		r.messages = r.messages[over:]
	}
}

// appendSystemLocked records a system notice in the log. Call with r.mu held.
func (s *Service) appendSystemLocked(r *room, text string) {
	s.appendLocked(r, &Message{
		ID:       uuid.NewString(),
		Username: "system",
		Content:  text,
		Type:     TypeSystem,
		SentAt:   s.now(),
	})
}

func (s *Service) lookup(broadcastID string) (*room, error) {
	s.mu.RLock()
	r, ok := s.rooms[broadcastID]
	s.mu.RUnlock()
	if !ok {
		return nil, faults.NotFound("chat room", broadcastID)
	}
	return r, nil
}

func (s *Service) publish(topic eventbus.Topic, data RoomEvent) {
	if s.bus != nil {
		if data.At.IsZero() {
			data.At = s.now()
		}
		s.bus.Publish(eventbus.Event{Topic: topic, Data: data})
	}
}

func extractTokens(re *regexp.Regexp, content string) []string {
	matches := re.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}
