package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/liverelay/internal/events"
	"github.com/aura-webinar/liverelay/internal/relay"
	"github.com/aura-webinar/liverelay/internal/session"
	"github.com/aura-webinar/liverelay/internal/store"
	"github.com/aura-webinar/liverelay/internal/upstream"
)

type fakeControl struct {
	err    error
	reply  string
	status session.Info
}

func (f *fakeControl) Connect(_ context.Context, handle string, reply relay.Replier) error {
	if f.reply != "" {
		reply.Send(relay.TypeError, relay.ErrorPayload{Message: f.reply})
	}
	if f.err == nil {
		f.status = session.Info{Status: relay.StatusConnected, Username: handle}
	}
	return f.err
}

func (f *fakeControl) Disconnect(context.Context, relay.Replier) error {
	f.status = session.Info{Status: relay.StatusDisconnected}
	return nil
}

func (f *fakeControl) Status() session.Info { return f.status }

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func setup(t *testing.T, control *fakeControl) (*gin.Engine, *store.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st := store.New()
	h := NewHandler(st, control, 50, nil)
	r := gin.New()
	api := r.Group("/api")
	h.Register(api)
	h.RegisterControl(api)
	return r, st
}

func call(t *testing.T, r http.Handler, method, path, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w.Code, env
}

func TestGetStream(t *testing.T) {
	r, st := setup(t, &fakeControl{})

	code, env := call(t, r, http.MethodGet, "/api/streams/alice", "")
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "Stream not found", env.Error)

	st.CreateSession("alice")
	code, env = call(t, r, http.MethodGet, "/api/streams/@alice", "")
	require.Equal(t, http.StatusOK, code)
	require.True(t, env.Success)
	require.Contains(t, string(env.Data), `"tiktokUsername":"alice"`)
}

func TestRecentEntries(t *testing.T) {
	r, st := setup(t, &fakeControl{})
	sess := st.CreateSession("alice")
	for i := 0; i < 60; i++ {
		_, err := st.Apply(sess.ID, events.ChatPosted{Username: "u", Text: fmt.Sprint(i)})
		require.NoError(t, err)
	}

	_, env := call(t, r, http.MethodGet, "/api/streams/alice/messages", "")
	var chats []struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &chats))
	require.Len(t, chats, 50)
	require.Equal(t, "10", chats[0].Message)
	require.Equal(t, "59", chats[49].Message)

	_, env = call(t, r, http.MethodGet, "/api/streams/alice/messages?limit=3", "")
	require.NoError(t, json.Unmarshal(env.Data, &chats))
	require.Len(t, chats, 3)
	require.Equal(t, "57", chats[0].Message)

	code, _ := call(t, r, http.MethodGet, "/api/streams/alice/messages?limit=zero", "")
	require.Equal(t, http.StatusBadRequest, code)
}

func TestRecentEntriesForUnknownHandleIsEmpty(t *testing.T) {
	r, st := setup(t, &fakeControl{})
	st.CreateSession("quiet")

	for _, kind := range []string{"messages", "gifts", "likes", "follows", "shares", "members"} {
		for _, handle := range []string{"nobody", "quiet"} {
			code, env := call(t, r, http.MethodGet, "/api/streams/"+handle+"/"+kind, "")
			require.Equal(t, http.StatusOK, code, kind)
			require.JSONEq(t, `[]`, string(env.Data), kind)
		}
	}
}

func TestConnectAndDisconnect(t *testing.T) {
	control := &fakeControl{}
	r, _ := setup(t, control)

	code, env := call(t, r, http.MethodPost, "/api/connect", `{"username":"alice"}`)
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"status":"connected","username":"alice"}`, string(env.Data))

	code, env = call(t, r, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"status":"connected","username":"alice"}`, string(env.Data))

	code, env = call(t, r, http.MethodPost, "/api/disconnect", "")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"status":"disconnected"}`, string(env.Data))
}

func TestConnectErrors(t *testing.T) {
	code, env := call(t, mustRouter(t, &fakeControl{}), http.MethodPost, "/api/connect", `{}`)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, relay.MsgInvalidFormat, env.Error)

	failing := &fakeControl{
		err:   fmt.Errorf("connect ghost: %w", upstream.ErrRoomOffline),
		reply: "Failed to connect: room offline",
	}
	code, env = call(t, mustRouter(t, failing), http.MethodPost, "/api/connect", `{"username":"ghost"}`)
	require.Equal(t, http.StatusBadGateway, code)
	require.Equal(t, "Failed to connect: room offline", env.Error)

	code, _ = call(t, mustRouter(t, &fakeControl{err: session.ErrSuperseded}), http.MethodPost, "/api/connect", `{"username":"a"}`)
	require.Equal(t, http.StatusConflict, code)
}

func mustRouter(t *testing.T, control *fakeControl) *gin.Engine {
	r, _ := setup(t, control)
	return r
}
