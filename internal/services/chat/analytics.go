package chat

import (
	"sort"
)

// GetAnalytics summarizes room activity: non-deleted message count, unique
// chatters, average messages per chatter, the top-10 leaderboard, and the
// hour-of-day histogram.
func (s *Service) GetAnalytics(broadcastID string) (Analytics, error) {
	r, err := s.lookup(broadcastID)
	if err != nil {
		return Analytics{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var a Analytics
	perUser := map[string]*ChatterStat{}
	for _, m := range r.messages {
		if m.Deleted || m.Type == TypeSystem {
			continue
		}
		a.TotalMessages++
		a.MessagesByHour[m.SentAt.Hour()]++
		st := perUser[m.UserID]
		if st == nil {
			st = &ChatterStat{UserID: m.UserID, Username: m.Username}
			perUser[m.UserID] = st
		}
		st.Messages++
	}
	a.UniqueChatters = len(perUser)
	if a.UniqueChatters > 0 {
		a.AvgPerUser = float64(a.TotalMessages) / float64(a.UniqueChatters)
	}
	a.ModerationCount = len(r.actions)

	top := make([]ChatterStat, 0, len(perUser))
	for _, st := range perUser {
		top = append(top, *st)
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Messages != top[j].Messages {
			return top[i].Messages > top[j].Messages
		}
		return top[i].UserID < top[j].UserID
	})
	if len(top) > 10 {
		top = top[:10]
	}
	a.TopChatters = top
	return a, nil
}
