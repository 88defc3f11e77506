package upstream

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/liverelay/internal/events"
)

func TestNormalizeChat(t *testing.T) {
	ev, err := Normalize("chat", json.RawMessage(`{"user":{"uniqueId":"alice","nickname":"Alice"},"comment":"hi"}`))
	require.NoError(t, err)
	require.Equal(t, events.ChatPosted{Username: "alice", Text: "hi"}, ev)

	ev, err = Normalize("chat", json.RawMessage(`{"nickname":"Bob","comment":"yo"}`))
	require.NoError(t, err)
	require.Equal(t, events.ChatPosted{Username: "Bob", Text: "yo"}, ev)

	ev, err = Normalize("chat", json.RawMessage(`{"comment":"who?"}`))
	require.NoError(t, err)
	require.Equal(t, events.ChatPosted{Username: events.AnonymousUser, Text: "who?"}, ev)
}

func TestNormalizeGift(t *testing.T) {
	ev, err := Normalize("gift", json.RawMessage(
		`{"user":{"uniqueId":"bob"},"giftId":5655,"repeatCount":5,"diamondCount":1,"gift":{"name":"Rose"}}`))
	require.NoError(t, err)
	require.Equal(t, events.GiftSent{Username: "bob", GiftName: "Rose", GiftID: 5655, Count: 5, Coins: 5}, ev)

	ev, err = Normalize("gift", json.RawMessage(`{"user":{"uniqueId":"bob"},"gift":{"diamondCount":10}}`))
	require.NoError(t, err)
	gift := ev.(events.GiftSent)
	require.Equal(t, events.UnknownGift, gift.GiftName)
	require.Equal(t, 1, gift.Count)
	require.Equal(t, 0, gift.Coins)
}

func TestNormalizeLike(t *testing.T) {
	ev, err := Normalize("like", json.RawMessage(`{"user":{"uniqueId":"c"},"likeCount":7,"totalLikeCount":120}`))
	require.NoError(t, err)
	require.Equal(t, events.LikeBurst{Username: "c", Count: 7, Total: 120}, ev)

	ev, err = Normalize("like", json.RawMessage(`{"user":{"uniqueId":"c"}}`))
	require.NoError(t, err)
	require.Equal(t, 1, ev.(events.LikeBurst).Count)
}

func TestNormalizeSocialEvents(t *testing.T) {
	payload := json.RawMessage(`{"user":{"uniqueId":"dana"}}`)
	cases := map[string]events.Event{
		"follow": events.Followed{Username: "dana"},
		"share":  events.Shared{Username: "dana"},
		"member": events.MemberJoined{Username: "dana"},
	}
	for name, want := range cases {
		got, err := Normalize(name, payload)
		require.NoError(t, err, name)
		require.Equal(t, want, got, name)
	}
}

func TestNormalizeRoomUser(t *testing.T) {
	ev, err := Normalize("roomUser", json.RawMessage(`{"viewerCount":0}`))
	require.NoError(t, err)
	require.Equal(t, events.ViewerCountChanged{Viewers: 0}, ev)

	_, err = Normalize("roomUser", json.RawMessage(`{}`))
	require.ErrorIs(t, err, ErrUnsupportedEvent)
}

func TestNormalizeRejects(t *testing.T) {
	_, err := Normalize("emote", json.RawMessage(`{}`))
	require.ErrorIs(t, err, ErrUnsupportedEvent)

	_, err = Normalize("chat", json.RawMessage(`{"comment":`))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrUnsupportedEvent)
}
