// Package store keeps sessions and their event history in process memory.
package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aura-webinar/liverelay/internal/events"
	"github.com/aura-webinar/liverelay/internal/models"
)

// DefaultLimit is the number of entries returned by Recent* when no limit is given.
const DefaultLimit = 50

var (
	// ErrSessionNotFound is returned when a session id is unknown.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUnknownEvent is returned by Apply for an event type it cannot store.
	ErrUnknownEvent = errors.New("unknown event")
)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRetention keeps at most n entries per kind per session. 0 keeps everything.
func WithRetention(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.retention = n
		}
	}
}

// SessionPatch lists the session fields that may be changed outside of appends.
// Counters are owned by the append operations and cannot be patched.
type SessionPatch struct {
	IsActive    *bool
	ViewerCount *int
}

// Applied is the result of storing one event.
type Applied struct {
	Kind    events.Kind
	Entry   any // nil for viewer count changes
	Session models.Session
}

// Store holds sessions and entries. All methods are safe for concurrent use;
// an append and the counter update it implies happen under one lock.
type Store struct {
	mu        sync.RWMutex
	now       func() time.Time
	retention int

	nextSessionID int64
	sessions      map[int64]*models.Session
	byHandle      map[string]int64

	chats   *history[models.ChatEntry]
	gifts   *history[models.GiftEntry]
	likes   *history[models.LikeEntry]
	follows *history[models.FollowEntry]
	shares  *history[models.ShareEntry]
	members *history[models.MemberEntry]
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		now:           time.Now,
		nextSessionID: 1,
		sessions:      make(map[int64]*models.Session),
		byHandle:      make(map[string]int64),
		chats:         newHistory[models.ChatEntry](),
		gifts:         newHistory[models.GiftEntry](),
		likes:         newHistory[models.LikeEntry](),
		follows:       newHistory[models.FollowEntry](),
		shares:        newHistory[models.ShareEntry](),
		members:       newHistory[models.MemberEntry](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetSession returns the session for a handle.
func (s *Store) GetSession(handle string) (models.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHandle[handle]
	if !ok {
		return models.Session{}, false
	}
	return *s.sessions[id], true
}

// GetSessionByID returns the session with the given id.
func (s *Store) GetSessionByID(id int64) (models.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return models.Session{}, false
	}
	return *sess, true
}

// ListSessions returns all sessions ordered by id.
func (s *Store) ListSessions() []models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CreateSession returns the session for handle, creating an inactive one with zeroed counters if none exists.
// Calling it again for the same handle never resets counters.
func (s *Store) CreateSession(handle string) models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byHandle[handle]; ok {
		return *s.sessions[id]
	}
	sess := &models.Session{
		ID:             s.nextSessionID,
		TiktokUsername: handle,
		StartedAt:      s.now(),
	}
	s.nextSessionID++
	s.sessions[sess.ID] = sess
	s.byHandle[handle] = sess.ID
	return *sess
}

// UpdateSession applies patch to the session with the given id.
func (s *Store) UpdateSession(id int64, patch SessionPatch) (models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return models.Session{}, fmt.Errorf("update session %d: %w", id, ErrSessionNotFound)
	}
	if patch.IsActive != nil {
		sess.IsActive = *patch.IsActive
	}
	if patch.ViewerCount != nil {
		sess.ViewerCount = max(*patch.ViewerCount, 0)
	}
	return *sess, nil
}

// Apply stores ev for the session and updates its counters atomically.
func (s *Store) Apply(sessionID int64, ev events.Event) (Applied, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return Applied{}, fmt.Errorf("apply %T: %w", ev, ErrSessionNotFound)
	}
	ref := &sessionID
	var entry any
	switch e := ev.(type) {
	case events.ChatPosted:
		entry = s.appendChat(ref, e.Username, e.Text)
	case events.GiftSent:
		entry = s.appendGift(ref, e)
	case events.LikeBurst:
		entry = s.appendLike(ref, e.Username, e.Count, e.Total)
	case events.Followed:
		entry = s.appendFollow(ref, e.Username)
	case events.Shared:
		entry = s.appendShare(ref, e.Username)
	case events.MemberJoined:
		entry = s.appendMember(ref, e.Username)
	case events.ViewerCountChanged:
		sess.ViewerCount = max(e.Viewers, 0)
	default:
		return Applied{}, fmt.Errorf("apply %T: %w", ev, ErrUnknownEvent)
	}
	return Applied{Kind: ev.Kind(), Entry: entry, Session: *sess}, nil
}

// AppendChat stores a chat entry. A nil sessionID stores an orphaned entry.
func (s *Store) AppendChat(sessionID *int64, username, message string) (models.ChatEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRef(sessionID); err != nil {
		return models.ChatEntry{}, err
	}
	return s.appendChat(sessionID, username, message), nil
}

// AppendGift stores a gift entry.
func (s *Store) AppendGift(sessionID *int64, gift events.GiftSent) (models.GiftEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRef(sessionID); err != nil {
		return models.GiftEntry{}, err
	}
	return s.appendGift(sessionID, gift), nil
}

// AppendLike stores a like burst.
func (s *Store) AppendLike(sessionID *int64, username string, count, total int) (models.LikeEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRef(sessionID); err != nil {
		return models.LikeEntry{}, err
	}
	return s.appendLike(sessionID, username, count, total), nil
}

// AppendFollow stores a follow.
func (s *Store) AppendFollow(sessionID *int64, username string) (models.FollowEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRef(sessionID); err != nil {
		return models.FollowEntry{}, err
	}
	return s.appendFollow(sessionID, username), nil
}

// AppendShare stores a share.
func (s *Store) AppendShare(sessionID *int64, username string) (models.ShareEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRef(sessionID); err != nil {
		return models.ShareEntry{}, err
	}
	return s.appendShare(sessionID, username), nil
}

// AppendMember stores a member join.
func (s *Store) AppendMember(sessionID *int64, username string) (models.MemberEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRef(sessionID); err != nil {
		return models.MemberEntry{}, err
	}
	return s.appendMember(sessionID, username), nil
}

// RecentChats returns up to limit of the newest chat entries for a session, oldest first.
func (s *Store) RecentChats(sessionID int64, limit int) []models.ChatEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chats.recent(sessionID, limit)
}

// RecentGifts returns up to limit of the newest gift entries for a session, oldest first.
func (s *Store) RecentGifts(sessionID int64, limit int) []models.GiftEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gifts.recent(sessionID, limit)
}

// RecentLikes returns up to limit of the newest like entries for a session, oldest first.
func (s *Store) RecentLikes(sessionID int64, limit int) []models.LikeEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.likes.recent(sessionID, limit)
}

// RecentFollows returns up to limit of the newest follow entries for a session, oldest first.
func (s *Store) RecentFollows(sessionID int64, limit int) []models.FollowEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.follows.recent(sessionID, limit)
}

// RecentShares returns up to limit of the newest share entries for a session, oldest first.
func (s *Store) RecentShares(sessionID int64, limit int) []models.ShareEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shares.recent(sessionID, limit)
}

// RecentMembers returns up to limit of the newest member entries for a session, oldest first.
func (s *Store) RecentMembers(sessionID int64, limit int) []models.MemberEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.members.recent(sessionID, limit)
}

// Snapshot copies a session and up to limit entries of each kind.
func (s *Store) Snapshot(sessionID int64, limit int) (models.SessionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return models.SessionSnapshot{}, fmt.Errorf("snapshot %d: %w", sessionID, ErrSessionNotFound)
	}
	return models.SessionSnapshot{
		Session:    *sess,
		Chats:      s.chats.recent(sessionID, limit),
		Gifts:      s.gifts.recent(sessionID, limit),
		Likes:      s.likes.recent(sessionID, limit),
		Follows:    s.follows.recent(sessionID, limit),
		Shares:     s.shares.recent(sessionID, limit),
		Members:    s.members.recent(sessionID, limit),
		CapturedAt: s.now(),
	}, nil
}

// Recount rebuilds a session's counters from its stored entries.
// With retention enabled the result only covers retained entries.
func (s *Store) Recount(sessionID int64) (models.StreamStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return models.StreamStats{}, fmt.Errorf("recount %d: %w", sessionID, ErrSessionNotFound)
	}
	stats := models.StreamStats{
		ViewerCount:  sess.ViewerCount,
		MessageCount: len(s.chats.all(sessionID)),
		GiftCount:    len(s.gifts.all(sessionID)),
		FollowCount:  len(s.follows.all(sessionID)),
		ShareCount:   len(s.shares.all(sessionID)),
	}
	for _, g := range s.gifts.all(sessionID) {
		stats.CoinCount += g.Coins
	}
	for _, l := range s.likes.all(sessionID) {
		stats.LikeCount += l.LikeCount
	}
	return stats, nil
}

func (s *Store) checkRef(sessionID *int64) error {
	if sessionID == nil {
		return nil
	}
	if _, ok := s.sessions[*sessionID]; !ok {
		return fmt.Errorf("session %d: %w", *sessionID, ErrSessionNotFound)
	}
	return nil
}

// owner returns the session an entry is attributed to, or nil for orphans.
func (s *Store) owner(sessionID *int64) *models.Session {
	if sessionID == nil {
		return nil
	}
	return s.sessions[*sessionID]
}

func (s *Store) appendChat(sessionID *int64, username, message string) models.ChatEntry {
	e := models.ChatEntry{
		ID:        s.chats.allocID(),
		StreamID:  copyRef(sessionID),
		Username:  username,
		Message:   message,
		Timestamp: s.now(),
	}
	s.chats.add(sessionID, e, s.retention)
	if sess := s.owner(sessionID); sess != nil {
		sess.MessageCount++
	}
	return e
}

func (s *Store) appendGift(sessionID *int64, g events.GiftSent) models.GiftEntry {
	e := models.GiftEntry{
		ID:        s.gifts.allocID(),
		StreamID:  copyRef(sessionID),
		Username:  g.Username,
		GiftName:  g.GiftName,
		GiftID:    g.GiftID,
		Count:     max(g.Count, 1),
		Coins:     max(g.Coins, 0),
		Timestamp: s.now(),
	}
	s.gifts.add(sessionID, e, s.retention)
	if sess := s.owner(sessionID); sess != nil {
		sess.GiftCount++
		sess.CoinCount += e.Coins
	}
	return e
}

func (s *Store) appendLike(sessionID *int64, username string, count, total int) models.LikeEntry {
	e := models.LikeEntry{
		ID:             s.likes.allocID(),
		StreamID:       copyRef(sessionID),
		Username:       username,
		LikeCount:      max(count, 1),
		TotalLikeCount: max(total, 0),
		Timestamp:      s.now(),
	}
	s.likes.add(sessionID, e, s.retention)
	if sess := s.owner(sessionID); sess != nil {
		sess.LikeCount += e.LikeCount
	}
	return e
}

func (s *Store) appendFollow(sessionID *int64, username string) models.FollowEntry {
	e := models.FollowEntry{ID: s.follows.allocID(), StreamID: copyRef(sessionID), Username: username, Timestamp: s.now()}
	s.follows.add(sessionID, e, s.retention)
	if sess := s.owner(sessionID); sess != nil {
		sess.FollowCount++
	}
	return e
}

func (s *Store) appendShare(sessionID *int64, username string) models.ShareEntry {
	e := models.ShareEntry{ID: s.shares.allocID(), StreamID: copyRef(sessionID), Username: username, Timestamp: s.now()}
	s.shares.add(sessionID, e, s.retention)
	if sess := s.owner(sessionID); sess != nil {
		sess.ShareCount++
	}
	return e
}

// Member joins are stored but not counted.
func (s *Store) appendMember(sessionID *int64, username string) models.MemberEntry {
	e := models.MemberEntry{ID: s.members.allocID(), StreamID: copyRef(sessionID), Username: username, Timestamp: s.now()}
	s.members.add(sessionID, e, s.retention)
	return e
}

func copyRef(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
