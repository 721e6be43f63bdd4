package chat

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"livecast/internal/eventbus"
	"livecast/internal/faults"
)

// Event topics published by the chat engine.
const (
	TopicRoomOpened eventbus.Topic = "chat.room_opened"
	TopicRoomClosed eventbus.Topic = "chat.room_closed"
	TopicMessage    eventbus.Topic = "chat.message"
	TopicModeration eventbus.Topic = "chat.moderation"
)

// RoomEvent is the bus payload for room lifecycle and moderation events.
type RoomEvent struct {
	BroadcastID string    `json:"broadcast_id"`
	UserID      string    `json:"user_id,omitempty"`
	Action      string    `json:"action,omitempty"`
	At          time.Time `json:"at"`
}

type Role string

const (
	RoleHost       Role = "host"
	RoleModerator  Role = "moderator"
	RoleSubscriber Role = "subscriber"
	RoleViewer     Role = "viewer"
)

type MessageType string

const (
	TypeMessage   MessageType = "message"
	TypeSystem    MessageType = "system"
	TypePurchase  MessageType = "purchase"
	TypeHighlight MessageType = "highlight"
	TypeReaction  MessageType = "reaction"
	TypeGift      MessageType = "gift"
)

// Metadata carries the type-specific payload of a message. Which fields are
// meaningful depends on the message type (purchase vs gift).
type Metadata struct {
	ProductID string  `json:"product_id,omitempty"`
	Price     float64 `json:"price,omitempty"`
	GiftType  string  `json:"gift_type,omitempty"`
}

// Message is immutable once created except for the soft-delete flag.
type Message struct {
	ID       string      `json:"id"`
	UserID   string      `json:"user_id"`
	Username string      `json:"username"`
	Content  string      `json:"content"`
	Type     MessageType `json:"type"`
	SentAt   time.Time   `json:"sent_at"`
	Deleted  bool        `json:"deleted"`
	Mentions []string    `json:"mentions,omitempty"`
	Emotes   []string    `json:"emotes,omitempty"`
	Meta     *Metadata   `json:"meta,omitempty"`
}

// User is a registered chat participant.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Role         Role      `json:"role"`
	Follower     bool      `json:"follower"`
	JoinedAt     time.Time `json:"joined_at"`
	MessageCount int       `json:"message_count"`
}

type ActionKind string

const (
	ActionTimeout         ActionKind = "timeout"
	ActionBan             ActionKind = "ban"
	ActionUnban           ActionKind = "unban"
	ActionDelete          ActionKind = "delete"
	ActionSlowMode        ActionKind = "slow_mode"
	ActionFollowersOnly   ActionKind = "followers_only"
	ActionSubscribersOnly ActionKind = "subscribers_only"
)

// Action is one entry of the append-only moderation audit log.
type Action struct {
	ID          string        `json:"id"`
	ModeratorID string        `json:"moderator_id"`
	TargetID    string        `json:"target_id,omitempty"`
	Kind        ActionKind    `json:"kind"`
	Duration    time.Duration `json:"duration,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	At          time.Time     `json:"at"`
}

// Settings are the per-room chat policies.
type Settings struct {
	SlowMode         bool          `json:"slow_mode"`
	SlowModeDelay    time.Duration `json:"slow_mode_delay"`
	FollowersOnly    bool          `json:"followers_only"`
	SubscribersOnly  bool          `json:"subscribers_only"`
	MaxMessageLength int           `json:"max_message_length"`
	AutoModeration   bool          `json:"auto_moderation"`
	BannedWords      []string      `json:"banned_words"`
	AllowLinks       bool          `json:"allow_links"`
}

// DefaultSettings returns the room defaults: slow mode off, 500 char limit,
// auto-moderation on with a seed banned-word list, no links.
func DefaultSettings() Settings {
	return Settings{
		MaxMessageLength: 500,
		AutoModeration:   true,
		BannedWords:      []string{"spam", "scam", "fake"},
		AllowLinks:       false,
	}
}

// SettingsUpdate is a partial settings change; nil fields are left untouched.
type SettingsUpdate struct {
	SlowMode         *bool
	SlowModeDelay    *time.Duration
	FollowersOnly    *bool
	SubscribersOnly  *bool
	MaxMessageLength *int
	AutoModeration   *bool
	BannedWords      *[]string
	AllowLinks       *bool
}

// RejectReason is the machine-readable code returned with message rejections.
type RejectReason string

const (
	ReasonTooLong         RejectReason = "too-long"
	ReasonBannedWord      RejectReason = "banned-word"
	ReasonLinks           RejectReason = "links-disallowed"
	ReasonSubscribersOnly RejectReason = "subscribers-only"
	ReasonFollowersOnly   RejectReason = "followers-only"
	ReasonBanned          RejectReason = "banned"
	ReasonTimedOut        RejectReason = "timed-out"
	ReasonSlowMode        RejectReason = "slow-mode"
)

// Rejection is returned when a message fails the admission pipeline. It
// unwraps to faults.ErrValidation.
type Rejection struct {
	Reason RejectReason
}

func (r *Rejection) Error() string { return fmt.Sprintf("message rejected: %s", r.Reason) }
func (r *Rejection) Unwrap() error { return faults.ErrValidation }

// Config controls the chat engine.
type Config struct {
	// HistoryLimit caps the per-room message log; oldest entries are evicted.
	HistoryLimit int
	// Retention is how long messages stay in the in-memory log before the
	// sweep discards them.
	Retention time.Duration
	// SweepInterval is how often the background sweep runs.
	SweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 1000
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Minute
	}
	return c
}

type room struct {
	mu          sync.Mutex
	broadcastID string
	hostID      string
	settings    Settings
	users       map[string]*User
	banned      map[string]struct{}
	timeouts    map[string]time.Time // user id -> expiry
	limiters    map[string]*rate.Limiter
	messages    []*Message
	actions     []Action
	openedAt    time.Time
}

// ChatterStat is one row of the top-chatters leaderboard.
type ChatterStat struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Messages int    `json:"messages"`
}

// Analytics is the derived per-room activity summary.
type Analytics struct {
	TotalMessages   int           `json:"total_messages"`
	UniqueChatters  int           `json:"unique_chatters"`
	AvgPerUser      float64       `json:"avg_per_user"`
	TopChatters     []ChatterStat `json:"top_chatters"`
	MessagesByHour  [24]int       `json:"messages_by_hour"`
	ModerationCount int           `json:"moderation_count"`
}
