package models

import "time"

// ChatEntry is a single chat message posted in a stream.
type ChatEntry struct {
	ID        int64     `json:"id"`
	StreamID  *int64    `json:"streamId"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// GiftEntry is a gift sent to the streamer. Coins is fixed when the entry is created.
type GiftEntry struct {
	ID        int64     `json:"id"`
	StreamID  *int64    `json:"streamId"`
	Username  string    `json:"username"`
	GiftName  string    `json:"giftName"`
	GiftID    int       `json:"giftId"`
	Count     int       `json:"count"`
	Coins     int       `json:"coins"`
	Timestamp time.Time `json:"timestamp"`
}

// LikeEntry is a burst of likes from one viewer.
type LikeEntry struct {
	ID             int64     `json:"id"`
	StreamID       *int64    `json:"streamId"`
	Username       string    `json:"username"`
	LikeCount      int       `json:"likeCount"`
	TotalLikeCount int       `json:"totalLikeCount"`
	Timestamp      time.Time `json:"timestamp"`
}

// FollowEntry records a new follower.
type FollowEntry struct {
	ID        int64     `json:"id"`
	StreamID  *int64    `json:"streamId"`
	Username  string    `json:"username"`
	Timestamp time.Time `json:"timestamp"`
}

// ShareEntry records a share of the stream.
type ShareEntry struct {
	ID        int64     `json:"id"`
	StreamID  *int64    `json:"streamId"`
	Username  string    `json:"username"`
	Timestamp time.Time `json:"timestamp"`
}

// MemberEntry records a viewer joining the stream.
type MemberEntry struct {
	ID        int64     `json:"id"`
	StreamID  *int64    `json:"streamId"`
	Username  string    `json:"username"`
	Timestamp time.Time `json:"timestamp"`
}
