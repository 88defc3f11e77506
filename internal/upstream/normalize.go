package upstream

import (
	"encoding/json"
	"fmt"

	"github.com/aura-webinar/liverelay/internal/events"
)

// Raw event names emitted by the webcast bridge.
const (
	rawChat      = "chat"
	rawGift      = "gift"
	rawLike      = "like"
	rawFollow    = "follow"
	rawShare     = "share"
	rawMember    = "member"
	rawRoomUser  = "roomUser"
	rawConnected = "connected"
	rawError     = "error"
	rawStreamEnd = "streamEnd"
)

type rawUser struct {
	UniqueID string `json:"uniqueId"`
	Nickname string `json:"nickname"`
}

// rawPayload covers the fields the relay reads from any raw event.
// Older bridge versions flatten the user fields onto the event itself.
type rawPayload struct {
	User     *rawUser `json:"user"`
	UniqueID string   `json:"uniqueId"`
	Nickname string   `json:"nickname"`

	Comment string `json:"comment"`

	GiftID       int  `json:"giftId"`
	RepeatCount  *int `json:"repeatCount"`
	DiamondCount *int `json:"diamondCount"`
	Gift         *struct {
		Name         string `json:"name"`
		DiamondCount *int   `json:"diamondCount"`
	} `json:"gift"`
	GiftName string `json:"giftName"`

	LikeCount      *int `json:"likeCount"`
	TotalLikeCount int  `json:"totalLikeCount"`

	ViewerCount *int `json:"viewerCount"`
}

func (p rawPayload) username() string {
	var uniqueID, nickname string
	if p.User != nil {
		uniqueID, nickname = p.User.UniqueID, p.User.Nickname
	}
	return events.ResolveUsername(uniqueID, p.UniqueID, nickname, p.Nickname)
}

func (p rawPayload) gift() events.GiftSent {
	name := p.GiftName
	diamonds := p.DiamondCount
	if p.Gift != nil {
		if name == "" {
			name = p.Gift.Name
		}
		if diamonds == nil {
			diamonds = p.Gift.DiamondCount
		}
	}
	if name == "" {
		name = events.UnknownGift
	}
	return events.GiftSent{
		Username: p.username(),
		GiftName: name,
		GiftID:   p.GiftID,
		Count:    events.GiftCount(p.RepeatCount),
		Coins:    events.GiftCoins(diamonds, p.RepeatCount),
	}
}

// Normalize converts one raw bridge event into a typed event.
// Events the relay does not track return ErrUnsupportedEvent; so does a roomUser event without a viewer count.
func Normalize(name string, data json.RawMessage) (events.Event, error) {
	var p rawPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", name, err)
		}
	}

	switch name {
	case rawChat:
		return events.ChatPosted{Username: p.username(), Text: p.Comment}, nil
	case rawGift:
		return p.gift(), nil
	case rawLike:
		count := 1
		if p.LikeCount != nil && *p.LikeCount > 0 {
			count = *p.LikeCount
		}
		return events.LikeBurst{Username: p.username(), Count: count, Total: p.TotalLikeCount}, nil
	case rawFollow:
		return events.Followed{Username: p.username()}, nil
	case rawShare:
		return events.Shared{Username: p.username()}, nil
	case rawMember:
		return events.MemberJoined{Username: p.username()}, nil
	case rawRoomUser:
		if p.ViewerCount == nil {
			return nil, fmt.Errorf("%s without viewerCount: %w", name, ErrUnsupportedEvent)
		}
		return events.ViewerCountChanged{Viewers: *p.ViewerCount}, nil
	}
	return nil, fmt.Errorf("%q: %w", name, ErrUnsupportedEvent)
}
