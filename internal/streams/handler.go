// Package streams serves the read-only history API and the HTTP control endpoints.
package streams

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-webinar/liverelay/internal/relay"
	"github.com/aura-webinar/liverelay/internal/session"
	"github.com/aura-webinar/liverelay/internal/store"
	"github.com/aura-webinar/liverelay/pkg/response"
)

// MaxLimit caps the limit query parameter.
const MaxLimit = 1000

// Controller is the part of the session manager the handlers drive.
type Controller interface {
	Connect(ctx context.Context, handle string, reply relay.Replier) error
	Disconnect(ctx context.Context, reply relay.Replier) error
	Status() session.Info
}

// ConnectRequest is the body for POST /api/connect.
type ConnectRequest struct {
	Username string `json:"username" binding:"required"`
}

// Handler handles stream HTTP endpoints.
type Handler struct {
	store        *store.Store
	control      Controller
	defaultLimit int
	logger       *zap.Logger
}

// NewHandler creates a streams handler.
func NewHandler(st *store.Store, control Controller, defaultLimit int, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultLimit <= 0 {
		defaultLimit = store.DefaultLimit
	}
	return &Handler{store: st, control: control, defaultLimit: defaultLimit, logger: logger}
}

// Register mounts the read-only routes on g.
func (h *Handler) Register(g *gin.RouterGroup) {
	g.GET("/status", h.Status)
	g.GET("/streams/:username", h.Get)
	g.GET("/streams/:username/messages", h.Messages)
	g.GET("/streams/:username/gifts", h.Gifts)
	g.GET("/streams/:username/likes", h.Likes)
	g.GET("/streams/:username/follows", h.Follows)
	g.GET("/streams/:username/shares", h.Shares)
	g.GET("/streams/:username/members", h.Members)
}

// RegisterControl mounts the connect and disconnect routes on g behind guards.
func (h *Handler) RegisterControl(g *gin.RouterGroup, guards ...gin.HandlerFunc) {
	g.POST("/connect", append(append([]gin.HandlerFunc{}, guards...), h.Connect)...)
	g.POST("/disconnect", append(append([]gin.HandlerFunc{}, guards...), h.Disconnect)...)
}

// Get handles GET /streams/:username.
func (h *Handler) Get(c *gin.Context) {
	sess, ok := h.store.GetSession(session.NormalizeHandle(c.Param("username")))
	if !ok {
		response.NotFound(c, "Stream not found")
		return
	}
	response.OK(c, sess)
}

// Messages handles GET /streams/:username/messages.
func (h *Handler) Messages(c *gin.Context) { serveRecent(h, c, h.store.RecentChats) }

// Gifts handles GET /streams/:username/gifts.
func (h *Handler) Gifts(c *gin.Context) { serveRecent(h, c, h.store.RecentGifts) }

// Likes handles GET /streams/:username/likes.
func (h *Handler) Likes(c *gin.Context) { serveRecent(h, c, h.store.RecentLikes) }

// Follows handles GET /streams/:username/follows.
func (h *Handler) Follows(c *gin.Context) { serveRecent(h, c, h.store.RecentFollows) }

// Shares handles GET /streams/:username/shares.
func (h *Handler) Shares(c *gin.Context) { serveRecent(h, c, h.store.RecentShares) }

// Members handles GET /streams/:username/members.
func (h *Handler) Members(c *gin.Context) { serveRecent(h, c, h.store.RecentMembers) }

// serveRecent answers with the newest entries of one kind, oldest first. An unknown handle yields an empty list.
func serveRecent[T any](h *Handler, c *gin.Context, list func(sessionID int64, limit int) []T) {
	limit, ok := h.limit(c)
	if !ok {
		return
	}
	entries := []T{}
	if sess, found := h.store.GetSession(session.NormalizeHandle(c.Param("username"))); found {
		if got := list(sess.ID, limit); got != nil {
			entries = got
		}
	}
	response.OK(c, entries)
}

func (h *Handler) limit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return h.defaultLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		response.BadRequest(c, "limit must be a positive integer")
		return 0, false
	}
	return min(n, MaxLimit), true
}

// Status handles GET /status.
func (h *Handler) Status(c *gin.Context) {
	response.OK(c, h.control.Status())
}

// Connect handles POST /connect. It returns once the upstream is connected or has failed.
// The dial outlives an abandoned request, the same as a websocket connect outlives its socket.
func (h *Handler) Connect(c *gin.Context) {
	var req ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, relay.MsgInvalidFormat)
		return
	}

	reply := &capture{}
	err := h.control.Connect(c.Request.Context(), req.Username, reply)
	switch {
	case err == nil:
		response.OK(c, h.control.Status())
	case errors.Is(err, session.ErrInvalidHandle):
		response.BadRequest(c, relay.MsgInvalidFormat)
	case errors.Is(err, session.ErrSuperseded):
		response.Fail(c, http.StatusConflict, "connect was superseded by a later request")
	default:
		msg := reply.message()
		if msg == "" {
			msg = err.Error()
		}
		response.BadGateway(c, msg)
	}
}

// Disconnect handles POST /disconnect.
func (h *Handler) Disconnect(c *gin.Context) {
	if err := h.control.Disconnect(c.Request.Context(), &capture{}); err != nil {
		h.logger.Warn("disconnect failed", zap.Error(err))
		response.Internal(c, err.Error())
		return
	}
	response.OK(c, h.control.Status())
}

// capture records the error replies a command produced for the HTTP caller.
type capture struct {
	mu  sync.Mutex
	err string
}

func (r *capture) Send(eventType string, payload interface{}) {
	if eventType != relay.TypeError {
		return
	}
	if p, ok := payload.(relay.ErrorPayload); ok {
		r.mu.Lock()
		r.err = p.Message
		r.mu.Unlock()
	}
}

func (r *capture) message() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
