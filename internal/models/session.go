package models

import "time"

// Session is the aggregate record for one monitored stream handle.
type Session struct {
	ID             int64     `json:"id"`
	TiktokUsername string    `json:"tiktokUsername"`
	IsActive       bool      `json:"isActive"`
	ViewerCount    int       `json:"viewerCount"`
	MessageCount   int       `json:"messageCount"`
	GiftCount      int       `json:"giftCount"`
	CoinCount      int       `json:"coinCount"`
	LikeCount      int       `json:"likeCount"`
	FollowCount    int       `json:"followCount"`
	ShareCount     int       `json:"shareCount"`
	StartedAt      time.Time `json:"startedAt"`
}

// StreamStats is the counter snapshot pushed to subscribers as stream-stats.
type StreamStats struct {
	ViewerCount  int `json:"viewerCount"`
	MessageCount int `json:"messageCount"`
	GiftCount    int `json:"giftCount"`
	CoinCount    int `json:"coinCount"`
	LikeCount    int `json:"likeCount"`
	FollowCount  int `json:"followCount"`
	ShareCount   int `json:"shareCount"`
}

// Stats returns the session's counters as a StreamStats snapshot.
func (s Session) Stats() StreamStats {
	return StreamStats{
		ViewerCount:  s.ViewerCount,
		MessageCount: s.MessageCount,
		GiftCount:    s.GiftCount,
		CoinCount:    s.CoinCount,
		LikeCount:    s.LikeCount,
		FollowCount:  s.FollowCount,
		ShareCount:   s.ShareCount,
	}
}
