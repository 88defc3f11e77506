package upstream

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/aura-webinar/liverelay/internal/events"
)

// OfflinePrefix marks handles the simulator reports as offline.
const OfflinePrefix = "offline"

var (
	simUsers   = []string{"mika.draws", "0xjules", "petra_live", "sunny", "kofi", "noor", "tomasz"}
	simChats   = []string{"hello!", "first time here", "love this", "where are you streaming from?", "lol", "🔥🔥🔥"}
	simGifts   = []string{"Rose", "TikTok", "Finger Heart", "Galaxy", "Doughnut"}
	simDiamond = []int{1, 1, 5, 1000, 30}
)

// SimulatorConnector produces synthetic room activity. It is used for local development and demos.
type SimulatorConnector struct {
	// Interval between events. Zero means one second.
	Interval time.Duration
	// EndAfter ends the simulated stream after this long. Zero means never.
	EndAfter time.Duration
	// Seed makes the event sequence reproducible.
	Seed uint64
}

// Connect starts a simulated room. Handles beginning with OfflinePrefix fail with ErrRoomOffline.
func (s *SimulatorConnector) Connect(ctx context.Context, handle string, l Listener) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.HasPrefix(strings.ToLower(handle), OfflinePrefix) {
		return nil, fmt.Errorf("%s: %w", handle, ErrRoomOffline)
	}

	interval := s.Interval
	if interval <= 0 {
		interval = time.Second
	}
	rng := rand.New(rand.NewPCG(s.Seed, uint64(len(handle))))
	c := &simConn{
		room:     RoomInfo{RoomID: "sim-" + handle, ViewerCount: 10 + rng.IntN(90)},
		listener: l,
		rng:      rng,
		stop:     make(chan struct{}),
	}
	go c.run(interval, s.EndAfter)
	return c, nil
}

type simConn struct {
	room     RoomInfo
	listener Listener
	rng      *rand.Rand
	stop     chan struct{}
	once     sync.Once
}

func (c *simConn) Room() RoomInfo {
	return c.room
}

func (c *simConn) Disconnect() {
	c.halt()
}

// halt closes the stop channel and reports whether this call did it.
func (c *simConn) halt() bool {
	halted := false
	c.once.Do(func() {
		close(c.stop)
		halted = true
	})
	return halted
}

func (c *simConn) isStopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

func (c *simConn) run(interval, endAfter time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var end <-chan time.Time
	if endAfter > 0 {
		timer := time.NewTimer(endAfter)
		defer timer.Stop()
		end = timer.C
	}

	viewers := c.room.ViewerCount
	for {
		select {
		case <-c.stop:
			return
		case <-end:
			if c.halt() {
				c.listener.OnDisconnected(ErrStreamEnded)
			}
			return
		case <-ticker.C:
			ev := c.next(&viewers)
			if c.isStopped() {
				return
			}
			c.listener.OnEvent(ev)
		}
	}
}

func (c *simConn) next(viewers *int) events.Event {
	user := simUsers[c.rng.IntN(len(simUsers))]
	switch n := c.rng.IntN(100); {
	case n < 45:
		return events.ChatPosted{Username: user, Text: simChats[c.rng.IntN(len(simChats))]}
	case n < 60:
		i := c.rng.IntN(len(simGifts))
		repeat := 1 + c.rng.IntN(5)
		diamonds := simDiamond[i]
		return events.GiftSent{
			Username: user,
			GiftName: simGifts[i],
			GiftID:   5000 + i,
			Count:    events.GiftCount(&repeat),
			Coins:    events.GiftCoins(&diamonds, &repeat),
		}
	case n < 75:
		return events.LikeBurst{Username: user, Count: 1 + c.rng.IntN(15)}
	case n < 80:
		return events.Followed{Username: user}
	case n < 84:
		return events.Shared{Username: user}
	case n < 92:
		return events.MemberJoined{Username: user}
	default:
		*viewers = max(0, *viewers+c.rng.IntN(11)-5)
		return events.ViewerCountChanged{Viewers: *viewers}
	}
}
