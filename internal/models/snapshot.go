package models

import "time"

// SessionSnapshot is a point-in-time copy of a session and its recent history, used for exports.
type SessionSnapshot struct {
	Session    Session       `json:"session"`
	Chats      []ChatEntry   `json:"chats"`
	Gifts      []GiftEntry   `json:"gifts"`
	Likes      []LikeEntry   `json:"likes"`
	Follows    []FollowEntry `json:"follows"`
	Shares     []ShareEntry  `json:"shares"`
	Members    []MemberEntry `json:"members"`
	CapturedAt time.Time     `json:"capturedAt"`
}
