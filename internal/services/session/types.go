package session

import (
	"sync"
	"time"

	"livecast/internal/eventbus"
)

// Event topics published by the session manager.
const (
	TopicStarted     eventbus.Topic = "session.started"
	TopicEnded       eventbus.Topic = "session.ended"
	TopicViewerJoin  eventbus.Topic = "session.viewer_joined"
	TopicViewerLeave eventbus.Topic = "session.viewer_left"
	TopicPurchase    eventbus.Topic = "session.purchase"
)

// SessionEvent is the bus payload for session lifecycle events.
type SessionEvent struct {
	BroadcastID string    `json:"broadcast_id"`
	UserID      string    `json:"user_id,omitempty"`
	ProductID   string    `json:"product_id,omitempty"`
	Amount      float64   `json:"amount,omitempty"`
	Viewers     int       `json:"viewers,omitempty"`
	At          time.Time `json:"at"`
}

// Metrics is the per-session metric set. EngagementRate is derived:
// (chatMessages + productViews) / max(viewerCount, 1).
type Metrics struct {
	ViewerCount    int     `json:"viewer_count"`
	PeakViewers    int     `json:"peak_viewers"`
	TotalViews     int     `json:"total_views"`
	ChatMessages   int     `json:"chat_messages"`
	ProductViews   int     `json:"product_views"`
	Purchases      int     `json:"purchases"`
	Revenue        float64 `json:"revenue"`
	EngagementRate float64 `json:"engagement_rate"`
}

func (m *Metrics) recomputeEngagement() {
	viewers := m.ViewerCount
	if viewers < 1 {
		viewers = 1
	}
	m.EngagementRate = float64(m.ChatMessages+m.ProductViews) / float64(viewers)
}

// Config controls the session manager.
type Config struct {
	// EngagementInterval is how often engagement rates are recomputed for
	// live sessions.
	EngagementInterval time.Duration
}

type liveSession struct {
	mu          sync.Mutex
	broadcastID string
	viewers     map[string]struct{}
	metrics     Metrics
	startedAt   time.Time
	endedAt     time.Time
}

// Snapshot is a read-only view of one session for diagnostics.
type Snapshot struct {
	BroadcastID string
	Metrics     Metrics
	StartedAt   time.Time
}
