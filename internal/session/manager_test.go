package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aura-webinar/liverelay/internal/events"
	"github.com/aura-webinar/liverelay/internal/models"
	"github.com/aura-webinar/liverelay/internal/relay"
	"github.com/aura-webinar/liverelay/internal/store"
	"github.com/aura-webinar/liverelay/internal/upstream"
)

type sent struct {
	Type    string
	Payload interface{}
}

type recorder struct {
	mu   sync.Mutex
	msgs []sent
}

func (r *recorder) Broadcast(eventType string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, sent{eventType, payload})
}

func (r *recorder) Send(eventType string, payload interface{}) {
	r.Broadcast(eventType, payload)
}

func (r *recorder) all() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.msgs...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = nil
}

func (r *recorder) types() []string {
	var out []string
	for _, m := range r.all() {
		out = append(out, m.Type)
	}
	return out
}

type fakeConn struct {
	room     upstream.RoomInfo
	listener upstream.Listener
	mu       sync.Mutex
	closed   bool
}

func (c *fakeConn) Room() upstream.RoomInfo { return c.room }

func (c *fakeConn) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// emit delivers ev even after Disconnect, the way a late in-flight callback would.
func (c *fakeConn) emit(ev events.Event) { c.listener.OnEvent(ev) }

type fakeConnector struct {
	mu      sync.Mutex
	viewers map[string]int
	fail    map[string]error
	block   map[string]bool
	conns   map[string]*fakeConn
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		viewers: map[string]int{},
		fail:    map[string]error{},
		block:   map[string]bool{},
		conns:   map[string]*fakeConn{},
	}
}

func (f *fakeConnector) Connect(ctx context.Context, handle string, l upstream.Listener) (upstream.Conn, error) {
	f.mu.Lock()
	err, block, viewers := f.fail[handle], f.block[handle], f.viewers[handle]
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	c := &fakeConn{room: upstream.RoomInfo{RoomID: "room-" + handle, ViewerCount: viewers}, listener: l}
	f.mu.Lock()
	f.conns[handle] = c
	f.mu.Unlock()
	return c, nil
}

func (f *fakeConnector) conn(handle string) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[handle]
}

type fakeArchive struct {
	mu      sync.Mutex
	entries []events.Kind
	exports []models.SessionSnapshot
}

func (a *fakeArchive) ArchiveEntry(kind events.Kind, _ string, _ any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, kind)
}

func (a *fakeArchive) ExportSession(snap models.SessionSnapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.exports = append(a.exports, snap)
}

type fixture struct {
	store     *store.Store
	hub       *recorder
	connector *fakeConnector
	archive   *fakeArchive
	manager   *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     store.New(),
		hub:       &recorder{},
		connector: newFakeConnector(),
		archive:   &fakeArchive{},
	}
	f.manager = NewManager(f.store, f.hub, f.connector, Options{
		ConnectTimeout: time.Second,
		Archive:        f.archive,
		Logger:         zap.NewNop(),
	})
	return f
}

func TestConnectBroadcastsStatusThenStats(t *testing.T) {
	f := newFixture(t)
	f.connector.viewers["alice"] = 120

	require.NoError(t, f.manager.Connect(context.Background(), "alice", &recorder{}))

	msgs := f.hub.all()
	require.Len(t, msgs, 3)
	require.Equal(t, sent{relay.TypeConnectionStatus, relay.StatusPayload{Status: relay.StatusConnecting, Username: "alice"}}, msgs[0])
	require.Equal(t, sent{relay.TypeConnectionStatus, relay.StatusPayload{Status: relay.StatusConnected, Username: "alice"}}, msgs[1])
	require.Equal(t, sent{relay.TypeStreamStats, models.StreamStats{ViewerCount: 120}}, msgs[2])

	sess, ok := f.store.GetSession("alice")
	require.True(t, ok)
	require.True(t, sess.IsActive)

	info := f.manager.Status()
	require.Equal(t, relay.StatusConnected, info.Status)
	require.Equal(t, "alice", info.Username)
	require.Equal(t, sess.ID, *info.SessionID)
}

func TestGiftBroadcastsEntryThenStats(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.manager.Connect(context.Background(), "alice", nil))
	f.hub.reset()

	repeat, diamonds := 5, 1
	f.connector.conn("alice").emit(events.GiftSent{
		Username: "bob",
		GiftName: "Rose",
		Count:    events.GiftCount(&repeat),
		Coins:    events.GiftCoins(&diamonds, &repeat),
	})

	msgs := f.hub.all()
	require.Len(t, msgs, 2)
	require.Equal(t, relay.TypeNewGift, msgs[0].Type)
	gift := msgs[0].Payload.(models.GiftEntry)
	require.Equal(t, 5, gift.Count)
	require.Equal(t, 5, gift.Coins)
	require.Equal(t, relay.TypeStreamStats, msgs[1].Type)
	stats := msgs[1].Payload.(models.StreamStats)
	require.Equal(t, 1, stats.GiftCount)
	require.Equal(t, 5, stats.CoinCount)

	require.Equal(t, []events.Kind{events.KindGift}, f.archive.entries)
}

func TestEntryKindsAndStats(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.manager.Connect(context.Background(), "alice", nil))
	f.hub.reset()
	c := f.connector.conn("alice")

	c.emit(events.ChatPosted{Username: "a", Text: "hi"})
	c.emit(events.LikeBurst{Username: "a", Count: 3, Total: 3})
	c.emit(events.Followed{Username: "a"})
	c.emit(events.Shared{Username: "a"})
	c.emit(events.MemberJoined{Username: "a"})
	c.emit(events.ViewerCountChanged{Viewers: 7})

	require.Equal(t, []string{
		relay.TypeNewChat, relay.TypeStreamStats,
		relay.TypeNewLike, relay.TypeStreamStats,
		relay.TypeNewFollow, relay.TypeStreamStats,
		relay.TypeNewShare, relay.TypeStreamStats,
		relay.TypeNewMember,
		relay.TypeStreamStats,
	}, f.hub.types())

	msgs := f.hub.all()
	require.Equal(t, models.StreamStats{
		ViewerCount: 7, MessageCount: 1, LikeCount: 3, FollowCount: 1, ShareCount: 1,
	}, msgs[len(msgs)-1].Payload)
}

func TestSwitchingHandlesTearsDownPrevious(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.manager.Connect(context.Background(), "alice", nil))
	alice := f.connector.conn("alice")
	f.hub.reset()

	require.NoError(t, f.manager.Connect(context.Background(), "bob", nil))

	require.True(t, alice.isClosed())
	require.Equal(t, []string{relay.TypeConnectionStatus, relay.TypeConnectionStatus, relay.TypeStreamStats}, f.hub.types())
	msgs := f.hub.all()
	require.Equal(t, relay.StatusPayload{Status: relay.StatusConnecting, Username: "bob"}, msgs[0].Payload)
	require.Equal(t, relay.StatusPayload{Status: relay.StatusConnected, Username: "bob"}, msgs[1].Payload)

	aliceSess, _ := f.store.GetSession("alice")
	bobSess, _ := f.store.GetSession("bob")
	require.False(t, aliceSess.IsActive)
	require.True(t, bobSess.IsActive)
	require.Len(t, f.archive.exports, 1)
	require.Equal(t, "alice", f.archive.exports[0].Session.TiktokUsername)

	// Late events from the old connection are dropped.
	f.hub.reset()
	alice.emit(events.ChatPosted{Username: "late", Text: "x"})
	require.Empty(t, f.hub.all())
	require.Empty(t, f.store.RecentChats(aliceSess.ID, 0))
}

func TestReconnectReusesSession(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.manager.Connect(context.Background(), "alice", nil))
	f.connector.conn("alice").emit(events.ChatPosted{Username: "a", Text: "1"})
	first, _ := f.store.GetSession("alice")

	require.NoError(t, f.manager.Connect(context.Background(), "@alice ", nil))
	second, _ := f.store.GetSession("alice")
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 1, second.MessageCount)
	require.Len(t, f.store.ListSessions(), 1)
}

func TestConnectFailure(t *testing.T) {
	f := newFixture(t)
	f.connector.fail["ghost"] = fmt.Errorf("ghost is not live: %w", upstream.ErrRoomOffline)
	reply := &recorder{}

	err := f.manager.Connect(context.Background(), "ghost", reply)
	require.ErrorIs(t, err, upstream.ErrRoomOffline)

	require.Equal(t, []sent{{relay.TypeError, relay.ErrorPayload{Message: "Failed to connect: ghost is not live: room offline"}}}, reply.all())
	msgs := f.hub.all()
	require.Len(t, msgs, 2)
	require.Equal(t, relay.StatusPayload{Status: relay.StatusDisconnected, Error: "ghost is not live: room offline"}, msgs[1].Payload)

	sess, ok := f.store.GetSession("ghost")
	require.True(t, ok)
	require.False(t, sess.IsActive)
	require.Equal(t, relay.StatusDisconnected, f.manager.Status().Status)
	require.Nil(t, f.manager.Status().SessionID)
	require.Empty(t, f.archive.exports)

	// A failed connect leaves the manager ready for the next one.
	require.NoError(t, f.manager.Connect(context.Background(), "alice", nil))
}

func TestConnectTimeout(t *testing.T) {
	f := newFixture(t)
	f.manager.connectTimeout = 30 * time.Millisecond
	f.connector.block["slow"] = true
	reply := &recorder{}

	err := f.manager.Connect(context.Background(), "slow", reply)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, relay.ErrorPayload{Message: "Failed to connect: connection timed out"}, reply.all()[0].Payload)
}

func TestDisconnectWhileDisconnectedIsNoop(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.manager.Disconnect(context.Background(), nil))
	require.NoError(t, f.manager.Disconnect(context.Background(), nil))
	require.Empty(t, f.hub.all())
}

func TestDisconnect(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.manager.Connect(context.Background(), "alice", nil))
	c := f.connector.conn("alice")
	c.emit(events.ChatPosted{Username: "a", Text: "hi"})
	f.hub.reset()

	require.NoError(t, f.manager.Disconnect(context.Background(), nil))
	require.True(t, c.isClosed())
	require.Equal(t, []sent{{relay.TypeConnectionStatus, relay.StatusPayload{Status: relay.StatusDisconnected}}}, f.hub.all())

	sess, _ := f.store.GetSession("alice")
	require.False(t, sess.IsActive)
	require.Len(t, f.archive.exports, 1)
	require.Len(t, f.archive.exports[0].Chats, 1)

	require.NoError(t, f.manager.Disconnect(context.Background(), nil))
	require.Len(t, f.hub.all(), 1)
}

func TestDisconnectCancelsPendingConnect(t *testing.T) {
	f := newFixture(t)
	f.manager.connectTimeout = 5 * time.Second
	f.connector.block["slow"] = true

	done := make(chan error, 1)
	go func() { done <- f.manager.Connect(context.Background(), "slow", &recorder{}) }()
	require.Eventually(t, func() bool { return f.manager.Status().Status == relay.StatusConnecting }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.manager.Disconnect(context.Background(), nil))
	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(2 * time.Second):
		t.Fatal("pending connect was not cancelled")
	}
	require.Equal(t, relay.StatusDisconnected, f.manager.Status().Status)
	require.Equal(t, relay.TypeConnectionStatus, f.hub.all()[len(f.hub.all())-1].Type)
}

func TestUpstreamDisconnect(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.manager.Connect(context.Background(), "alice", nil))
	c := f.connector.conn("alice")
	f.hub.reset()

	c.listener.OnDisconnected(errors.New("socket closed"))
	require.Equal(t, []sent{{relay.TypeConnectionStatus, relay.StatusPayload{Status: relay.StatusDisconnected, Error: "socket closed"}}}, f.hub.all())
	sess, _ := f.store.GetSession("alice")
	require.False(t, sess.IsActive)

	// A second report from the same connection is stale.
	c.listener.OnDisconnected(errors.New("again"))
	require.Len(t, f.hub.all(), 1)
}

func TestStreamEndHasNoError(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.manager.Connect(context.Background(), "alice", nil))
	f.hub.reset()

	f.connector.conn("alice").listener.OnDisconnected(upstream.ErrStreamEnded)
	require.Equal(t, []sent{{relay.TypeConnectionStatus, relay.StatusPayload{Status: relay.StatusDisconnected}}}, f.hub.all())
}

func TestInvalidHandle(t *testing.T) {
	f := newFixture(t)
	reply := &recorder{}
	require.ErrorIs(t, f.manager.Connect(context.Background(), " @ ", reply), ErrInvalidHandle)
	require.Equal(t, relay.TypeError, reply.all()[0].Type)
	require.Empty(t, f.hub.all())
}

func TestAtMostOneActiveSession(t *testing.T) {
	f := newFixture(t)
	f.connector.fail["dead"] = upstream.ErrRoomOffline
	handles := []string{"a", "b", "dead", "a", "c", "b", "dead"}

	var wg sync.WaitGroup
	for round := 0; round < 5; round++ {
		for _, h := range handles {
			wg.Add(1)
			go func(h string) {
				defer wg.Done()
				_ = f.manager.Connect(context.Background(), h, nil)
			}(h)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.manager.Disconnect(context.Background(), nil)
		}()
	}
	wg.Wait()

	active := 0
	for _, s := range f.store.ListSessions() {
		if s.IsActive {
			active++
		}
	}
	require.LessOrEqual(t, active, 1)
	if active == 1 {
		require.Equal(t, relay.StatusConnected, f.manager.Status().Status)
	}
}

func TestIncrementalCountersMatchRecount(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.manager.Connect(context.Background(), "alice", nil))
	c := f.connector.conn("alice")
	for i := 0; i < 40; i++ {
		switch i % 4 {
		case 0:
			c.emit(events.ChatPosted{Username: "u", Text: "m"})
		case 1:
			c.emit(events.GiftSent{Username: "u", GiftName: "Rose", Count: 2, Coins: 2})
		case 2:
			c.emit(events.LikeBurst{Username: "u", Count: i})
		case 3:
			c.emit(events.Followed{Username: "u"})
		}
	}

	sess, _ := f.store.GetSession("alice")
	recount, err := f.store.Recount(sess.ID)
	require.NoError(t, err)
	require.Equal(t, recount, sess.Stats())
}
