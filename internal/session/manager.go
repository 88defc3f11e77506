// Package session owns the single upstream connection and its lifecycle.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/liverelay/internal/events"
	"github.com/aura-webinar/liverelay/internal/models"
	"github.com/aura-webinar/liverelay/internal/relay"
	"github.com/aura-webinar/liverelay/internal/store"
	"github.com/aura-webinar/liverelay/internal/upstream"
)

// DefaultConnectTimeout bounds the upstream handshake.
const DefaultConnectTimeout = 20 * time.Second

var (
	// ErrInvalidHandle is returned when a connect request carries an empty handle.
	ErrInvalidHandle = errors.New("invalid handle")
	// ErrSuperseded is returned by Connect when a later connect or disconnect replaced it mid-dial.
	ErrSuperseded = errors.New("connect superseded")
)

// Broadcaster fans a message out to every subscriber.
type Broadcaster interface {
	Broadcast(eventType string, payload interface{})
}

// Archive receives stored entries and finished sessions. Implementations must not block.
type Archive interface {
	ArchiveEntry(kind events.Kind, handle string, record any)
	ExportSession(snap models.SessionSnapshot)
}

// Options configures a Manager.
type Options struct {
	ConnectTimeout time.Duration
	// HistoryLimit caps the entries per kind included in session exports.
	HistoryLimit int
	Archive      Archive
	Logger       *zap.Logger
}

// Info describes the current connection for status queries.
type Info struct {
	Status    relay.Status `json:"status"`
	Username  string       `json:"username,omitempty"`
	SessionID *int64       `json:"sessionId,omitempty"`
}

// Manager holds at most one upstream connection. Every state change and the broadcasts
// it causes happen under mu, so subscribers see them in a consistent order.
type Manager struct {
	store     *store.Store
	hub       Broadcaster
	connector upstream.Connector
	archive   Archive
	logger    *zap.Logger

	connectTimeout time.Duration
	historyLimit   int

	mu         sync.Mutex
	gen        uint64
	state      relay.Status
	handle     string
	sessionID  int64
	conn       upstream.Conn
	cancelDial context.CancelFunc
}

// NewManager creates a disconnected manager.
func NewManager(st *store.Store, hub Broadcaster, connector upstream.Connector, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = store.DefaultLimit
	}
	return &Manager{
		store:          st,
		hub:            hub,
		connector:      connector,
		archive:        opts.Archive,
		logger:         opts.Logger,
		connectTimeout: opts.ConnectTimeout,
		historyLimit:   opts.HistoryLimit,
		state:          relay.StatusDisconnected,
	}
}

// NormalizeHandle trims whitespace and a leading @ from a user-supplied handle.
func NormalizeHandle(handle string) string {
	return strings.TrimPrefix(strings.TrimSpace(handle), "@")
}

// dial is a connect attempt that has published its connecting state and awaits the upstream.
type dial struct {
	ctx       context.Context
	cancel    context.CancelFunc
	gen       uint64
	handle    string
	sessionID int64
	reply     relay.Replier
}

// Connect replaces any current upstream connection with one to handle and waits for the outcome.
// Failures are reported to reply and broadcast as a disconnected status before being returned.
func (m *Manager) Connect(ctx context.Context, handle string, reply relay.Replier) error {
	d, err := m.begin(ctx, handle, reply)
	if err != nil {
		return err
	}
	return m.settle(d)
}

// StartConnect is Connect without the wait. It returns once the previous connection is torn down
// and the connecting state is broadcast, so commands issued after it observe that state.
// The outcome reaches reply and subscribers the same way it does for Connect.
func (m *Manager) StartConnect(ctx context.Context, handle string, reply relay.Replier) error {
	d, err := m.begin(ctx, handle, reply)
	if err != nil {
		return err
	}
	go func() {
		if err := m.settle(d); err != nil {
			m.logger.Debug("connect settled", zap.String("handle", d.handle), zap.Error(err))
		}
	}()
	return nil
}

// begin takes the slot for handle. The dial it returns is cancelled by the connect timeout
// or by a later command, never by the caller's ctx.
func (m *Manager) begin(ctx context.Context, handle string, reply relay.Replier) (*dial, error) {
	handle = NormalizeHandle(handle)
	if handle == "" {
		if reply != nil {
			reply.Send(relay.TypeError, relay.ErrorPayload{Message: relay.MsgInvalidFormat})
		}
		return nil, ErrInvalidHandle
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
	sess := m.store.CreateSession(handle)
	m.state = relay.StatusConnecting
	m.handle = handle
	m.sessionID = sess.ID
	dialCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.connectTimeout)
	m.cancelDial = cancel
	m.hub.Broadcast(relay.TypeConnectionStatus, relay.StatusPayload{Status: relay.StatusConnecting, Username: handle})
	m.logger.Info("connecting upstream", zap.String("handle", handle), zap.Int64("session_id", sess.ID))
	return &dial{ctx: dialCtx, cancel: cancel, gen: m.gen, handle: handle, sessionID: sess.ID, reply: reply}, nil
}

// settle dials the upstream for d and records the result unless a later command replaced d.
func (m *Manager) settle(d *dial) error {
	conn, err := m.connector.Connect(d.ctx, d.handle, &listener{m: m, gen: d.gen})
	d.cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gen != d.gen {
		if conn != nil {
			conn.Disconnect()
		}
		return ErrSuperseded
	}
	m.cancelDial = nil

	if err != nil {
		m.logger.Warn("upstream connect failed", zap.String("handle", d.handle), zap.Error(err))
		m.resetLocked()
		m.deactivate(d.sessionID)
		msg := failureText(err)
		if d.reply != nil {
			d.reply.Send(relay.TypeError, relay.ErrorPayload{Message: "Failed to connect: " + msg})
		}
		m.hub.Broadcast(relay.TypeConnectionStatus, relay.StatusPayload{Status: relay.StatusDisconnected, Error: msg})
		return fmt.Errorf("connect %s: %w", d.handle, err)
	}

	m.conn = conn
	m.state = relay.StatusConnected
	room := conn.Room()
	active := true
	updated, err := m.store.UpdateSession(d.sessionID, store.SessionPatch{IsActive: &active, ViewerCount: &room.ViewerCount})
	if err != nil {
		m.logger.Warn("activate session", zap.Int64("session_id", d.sessionID), zap.Error(err))
		updated, _ = m.store.GetSessionByID(d.sessionID)
	}
	m.logger.Info("upstream connected", zap.String("handle", d.handle), zap.String("room_id", room.RoomID))
	m.hub.Broadcast(relay.TypeConnectionStatus, relay.StatusPayload{Status: relay.StatusConnected, Username: d.handle})
	m.hub.Broadcast(relay.TypeStreamStats, updated.Stats())
	return nil
}

// Disconnect tears down the current connection. It is a no-op when already disconnected.
func (m *Manager) Disconnect(_ context.Context, _ relay.Replier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == relay.StatusDisconnected {
		return nil
	}
	handle := m.handle
	m.teardownLocked()
	m.logger.Info("upstream disconnected", zap.String("handle", handle))
	m.hub.Broadcast(relay.TypeConnectionStatus, relay.StatusPayload{Status: relay.StatusDisconnected})
	return nil
}

// Status reports the current connection state.
func (m *Manager) Status() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := Info{Status: m.state, Username: m.handle}
	if m.state != relay.StatusDisconnected {
		id := m.sessionID
		info.SessionID = &id
	}
	return info
}

// Close disconnects without broadcasting. Used on shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
}

// teardownLocked drops the current connection, if any, and marks its session inactive without broadcasting.
func (m *Manager) teardownLocked() {
	wasConnected := m.state == relay.StatusConnected
	sessionID := m.sessionID
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	if m.conn != nil {
		m.conn.Disconnect()
	}
	m.resetLocked()
	if sessionID != 0 {
		m.deactivate(sessionID)
	}
	if wasConnected {
		m.export(sessionID)
	}
}

// resetLocked moves to disconnected and invalidates callbacks from the previous connection.
func (m *Manager) resetLocked() {
	m.gen++
	m.state = relay.StatusDisconnected
	m.handle = ""
	m.sessionID = 0
	m.conn = nil
}

func (m *Manager) deactivate(sessionID int64) {
	inactive := false
	if _, err := m.store.UpdateSession(sessionID, store.SessionPatch{IsActive: &inactive}); err != nil {
		m.logger.Warn("deactivate session", zap.Int64("session_id", sessionID), zap.Error(err))
	}
}

func (m *Manager) export(sessionID int64) {
	if m.archive == nil {
		return
	}
	snap, err := m.store.Snapshot(sessionID, m.historyLimit)
	if err != nil {
		m.logger.Warn("snapshot session", zap.Int64("session_id", sessionID), zap.Error(err))
		return
	}
	m.archive.ExportSession(snap)
}

func (m *Manager) handleEvent(gen uint64, ev events.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}

	applied, err := m.store.Apply(m.sessionID, ev)
	if err != nil {
		m.logger.Warn("store event", zap.String("kind", string(ev.Kind())), zap.Int64("session_id", m.sessionID), zap.Error(err))
		return
	}
	if eventType, ok := relay.EntryType(applied.Kind); ok {
		m.hub.Broadcast(eventType, applied.Entry)
		if m.archive != nil {
			m.archive.ArchiveEntry(applied.Kind, m.handle, applied.Entry)
		}
	}
	// Member joins are not counted, so the stats would be unchanged.
	if applied.Kind != events.KindMember {
		m.hub.Broadcast(relay.TypeStreamStats, applied.Session.Stats())
	}
}

func (m *Manager) handleDisconnected(gen uint64, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}

	handle := m.handle
	m.teardownLocked()

	status := relay.StatusPayload{Status: relay.StatusDisconnected}
	if cause != nil && !errors.Is(cause, upstream.ErrStreamEnded) {
		status.Error = cause.Error()
	}
	m.logger.Info("upstream ended", zap.String("handle", handle), zap.Error(cause))
	m.hub.Broadcast(relay.TypeConnectionStatus, status)
}

func failureText(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "connection timed out"
	}
	return err.Error()
}

// listener binds upstream callbacks to the connection generation they belong to.
type listener struct {
	m   *Manager
	gen uint64
}

func (l *listener) OnEvent(ev events.Event) {
	l.m.handleEvent(l.gen, ev)
}

func (l *listener) OnDisconnected(err error) {
	l.m.handleDisconnected(l.gen, err)
}
