package scheduler

import (
	"time"

	"livecast/internal/eventbus"
	"livecast/internal/services/chat"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusPreparing Status = "preparing"
	StatusLive      Status = "live"
	StatusEnded     Status = "ended"
	StatusCancelled Status = "cancelled"
)

type Platform string

const (
	PlatformYouTube  Platform = "youtube"
	PlatformTwitch   Platform = "twitch"
	PlatformFacebook Platform = "facebook"
	PlatformRTMP     Platform = "custom_rtmp"
)

// PlatformSettings is a tagged variant: exactly the member matching the
// platform kind is set.
type PlatformSettings struct {
	YouTube *YouTubeSettings `json:"youtube,omitempty"`
	Twitch  *TwitchSettings  `json:"twitch,omitempty"`
	RTMP    *RTMPSettings    `json:"rtmp,omitempty"`
}

type YouTubeSettings struct {
	Privacy     string `json:"privacy,omitempty"` // public, unlisted, private
	MadeForKids bool   `json:"made_for_kids,omitempty"`
}

type TwitchSettings struct {
	Category string   `json:"category,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

type RTMPSettings struct {
	URL string `json:"url,omitempty"`
	Key string `json:"key,omitempty"`
}

// BroadcastPlatform is one fan-out target owned by a broadcast.
type BroadcastPlatform struct {
	Platform Platform         `json:"platform"`
	Enabled  bool             `json:"enabled"`
	Settings PlatformSettings `json:"settings,omitempty"`
}

type Frequency string

const (
	FreqDaily   Frequency = "daily"
	FreqWeekly  Frequency = "weekly"
	FreqMonthly Frequency = "monthly"
)

// RecurrencePattern is only used to generate new broadcast instances at
// create time; it is never mutated after expansion.
type RecurrencePattern struct {
	Frequency      Frequency      `json:"frequency"`
	Interval       int            `json:"interval"`
	DaysOfWeek     []time.Weekday `json:"days_of_week,omitempty"`
	DayOfMonth     int            `json:"day_of_month,omitempty"`
	EndDate        *time.Time     `json:"end_date,omitempty"`
	MaxOccurrences int            `json:"max_occurrences,omitempty"`
}

type NotificationSettings struct {
	Enabled       bool     `json:"enabled"`
	MinutesBefore []int    `json:"minutes_before,omitempty"`
	Channels      []string `json:"channels,omitempty"`
	Message       string   `json:"message,omitempty"`
}

// AbsentPolicy is the missed-broadcast fallback applied by the monitor.
type AbsentPolicy string

const (
	AbsentCancel    AbsentPolicy = "cancel"
	AbsentDelay     AbsentPolicy = "delay"
	AbsentAutoStart AbsentPolicy = "auto_start"
)

type AutoStartSettings struct {
	Enabled              bool         `json:"enabled"`
	AutoGoLive           bool         `json:"auto_go_live"`
	OnHostAbsent         AbsentPolicy `json:"on_host_absent,omitempty"`
	AutoEndAfterDuration bool         `json:"auto_end_after_duration"`
}

type StreamSettings struct {
	Description      string `json:"description,omitempty"`
	Category         string `json:"category,omitempty"`
	ChatEnabled      bool   `json:"chat_enabled"`
	RecordingEnabled bool   `json:"recording_enabled"`
	Resolution       string `json:"resolution,omitempty"`
	MaxBitrateKbps   int    `json:"max_bitrate_kbps,omitempty"`
}

// ScheduledBroadcast is one scheduled-to-ended occurrence of going live.
type ScheduledBroadcast struct {
	ID             string               `json:"id"`
	Title          string               `json:"title"`
	HostID         string               `json:"host_id"`
	HostName       string               `json:"host_name,omitempty"`
	ScheduledStart time.Time            `json:"scheduled_start"`
	ScheduledEnd   time.Time            `json:"scheduled_end"`
	ActualStart    *time.Time           `json:"actual_start,omitempty"`
	ActualEnd      *time.Time           `json:"actual_end,omitempty"`
	Duration       time.Duration        `json:"duration"`
	Status         Status               `json:"status"`
	Platforms      []BroadcastPlatform  `json:"platforms"`
	Recurrence     *RecurrencePattern   `json:"recurrence,omitempty"`
	Notifications  NotificationSettings `json:"notifications"`
	AutoStart      AutoStartSettings    `json:"auto_start"`
	Stream         StreamSettings       `json:"stream"`
	TemplateID     string               `json:"template_id,omitempty"`
	Overrun        bool                 `json:"overrun,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// CreateSpec is the caller-supplied broadcast description.
type CreateSpec struct {
	Title          string
	HostID         string
	HostName       string
	ScheduledStart time.Time
	Duration       time.Duration
	Platforms      []BroadcastPlatform
	Recurrence     *RecurrencePattern
	Notifications  NotificationSettings
	AutoStart      AutoStartSettings
	Stream         StreamSettings
	TemplateID     string
}

// Update is a partial broadcast update; nil fields are left untouched.
type Update struct {
	Title          *string
	ScheduledStart *time.Time
	Duration       *time.Duration
	Platforms      *[]BroadcastPlatform
	Notifications  *NotificationSettings
	AutoStart      *AutoStartSettings
	Stream         *StreamSettings
}

// Template carries reusable broadcast defaults.
type Template struct {
	ID            string               `json:"id"`
	Name          string               `json:"name"`
	Title         string               `json:"title,omitempty"`
	Duration      time.Duration        `json:"duration"`
	Platforms     []BroadcastPlatform  `json:"platforms,omitempty"`
	Notifications NotificationSettings `json:"notifications"`
	AutoStart     AutoStartSettings    `json:"auto_start"`
	Stream        StreamSettings       `json:"stream"`
	CreatedAt     time.Time            `json:"created_at"`
}

// TemplateSpec is the caller-supplied template description.
type TemplateSpec struct {
	Name          string
	Title         string
	Duration      time.Duration
	Platforms     []BroadcastPlatform
	Notifications NotificationSettings
	AutoStart     AutoStartSettings
	Stream        StreamSettings
}

// Analytics is synthesized once at end-of-broadcast from the final session
// metrics and the chat summary, and is immutable afterwards.
type Analytics struct {
	BroadcastID    string             `json:"broadcast_id"`
	Title          string             `json:"title"`
	HostID         string             `json:"host_id"`
	StartedAt      time.Time          `json:"started_at"`
	EndedAt        time.Time          `json:"ended_at"`
	Duration       time.Duration      `json:"duration"`
	TotalViewers   int                `json:"total_viewers"`
	PeakViewers    int                `json:"peak_viewers"`
	ChatMessages   int                `json:"chat_messages"`
	UniqueChatters int                `json:"unique_chatters"`
	ProductViews   int                `json:"product_views"`
	Purchases      int                `json:"purchases"`
	Revenue        float64            `json:"revenue"`
	EngagementRate float64            `json:"engagement_rate"`
	TopChatters    []chat.ChatterStat `json:"top_chatters,omitempty"`
	MessagesByHour [24]int            `json:"messages_by_hour"`
}

// Config controls the orchestrator.
type Config struct {
	// MonitorInterval is the period of the missed/overrun monitor.
	MonitorInterval time.Duration
	// MaxOccurrences caps recurrence expansion when the pattern sets no cap.
	MaxOccurrences int
	// OverrunGrace is how far past its planned duration a live broadcast may
	// run before the monitor flags it.
	OverrunGrace time.Duration
	// DelayRetry is how far out a missed broadcast is pushed under the delay
	// policy.
	DelayRetry time.Duration
	// StartTimeout bounds collaborator calls during start/end.
	StartTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = time.Minute
	}
	if c.MaxOccurrences <= 0 {
		c.MaxOccurrences = 52
	}
	if c.OverrunGrace <= 0 {
		c.OverrunGrace = 30 * time.Minute
	}
	if c.DelayRetry <= 0 {
		c.DelayRetry = 15 * time.Minute
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = 30 * time.Second
	}
	return c
}

// Event topics published by the scheduler.
const (
	TopicScheduled   eventbus.Topic = "broadcast.scheduled"
	TopicStarted     eventbus.Topic = "broadcast.started"
	TopicEnded       eventbus.Topic = "broadcast.ended"
	TopicCancelled   eventbus.Topic = "broadcast.cancelled"
	TopicStartFailed eventbus.Topic = "broadcast.start_failed"
	TopicMissed      eventbus.Topic = "broadcast.missed"
	TopicOverrun     eventbus.Topic = "broadcast.overrun"
)

// BroadcastEvent is the bus payload for broadcast lifecycle events.
type BroadcastEvent struct {
	BroadcastID string    `json:"broadcast_id"`
	Status      Status    `json:"status"`
	Manual      bool      `json:"manual,omitempty"`
	Policy      string    `json:"policy,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}
