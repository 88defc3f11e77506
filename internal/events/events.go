// Package events defines the closed set of normalized live-stream events the relay understands.
package events

// Kind names an event kind. Values double as archive kinds and log fields.
type Kind string

const (
	KindChat    Kind = "chat"
	KindGift    Kind = "gift"
	KindLike    Kind = "like"
	KindFollow  Kind = "follow"
	KindShare   Kind = "share"
	KindMember  Kind = "member"
	KindViewers Kind = "viewers"
)

// Event is implemented only by the types in this package.
type Event interface {
	Kind() Kind
	sealed()
}

// ChatPosted is a chat comment.
type ChatPosted struct {
	Username string
	Text     string
}

// GiftSent is a gift with its coin value already attributed.
type GiftSent struct {
	Username string
	GiftName string
	GiftID   int
	Count    int
	Coins    int
}

// LikeBurst is a batch of likes from one viewer plus the upstream running total.
type LikeBurst struct {
	Username string
	Count    int
	Total    int
}

// Followed is a new follower.
type Followed struct {
	Username string
}

// Shared is a share of the stream.
type Shared struct {
	Username string
}

// MemberJoined is a viewer entering the room.
type MemberJoined struct {
	Username string
}

// ViewerCountChanged carries the current concurrent viewer count.
type ViewerCountChanged struct {
	Viewers int
}

func (ChatPosted) Kind() Kind         { return KindChat }
func (GiftSent) Kind() Kind           { return KindGift }
func (LikeBurst) Kind() Kind          { return KindLike }
func (Followed) Kind() Kind           { return KindFollow }
func (Shared) Kind() Kind             { return KindShare }
func (MemberJoined) Kind() Kind       { return KindMember }
func (ViewerCountChanged) Kind() Kind { return KindViewers }

func (ChatPosted) sealed()         {}
func (GiftSent) sealed()           {}
func (LikeBurst) sealed()          {}
func (Followed) sealed()           {}
func (Shared) sealed()             {}
func (MemberJoined) sealed()       {}
func (ViewerCountChanged) sealed() {}
