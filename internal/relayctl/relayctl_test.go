package relayctl

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/liverelay/internal/auth"
	"github.com/aura-webinar/liverelay/internal/relay"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCommand(&out)
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestEndpoints(t *testing.T) {
	g := &globals{server: "https://relay.example.com/", token: "abc"}
	ws, err := g.wsEndpoint()
	require.NoError(t, err)
	require.Equal(t, "wss://relay.example.com/ws?token=abc", ws)

	u, err := g.endpoint("api", "streams", "alice")
	require.NoError(t, err)
	require.Equal(t, "https://relay.example.com/api/streams/alice", u.String())

	g = &globals{server: "localhost:8080"}
	_, err = g.wsEndpoint()
	require.Error(t, err)
}

func TestTokenCommand(t *testing.T) {
	out, err := run(t, "token", "--secret", "s3cret", "--role", auth.RoleOperator)
	require.NoError(t, err)
	role, err := auth.NewJWTService("s3cret", 1).Role(strings.TrimSpace(out))
	require.NoError(t, err)
	require.Equal(t, auth.RoleOperator, role)

	_, err = run(t, "token", "--secret", "s3cret", "--role", "admin")
	require.ErrorIs(t, err, auth.ErrUnknownRole)

	t.Setenv("JWT_SECRET", "")
	_, err = run(t, "token")
	require.Error(t, err)
}

func TestStreamCommand(t *testing.T) {
	var gotPath, gotLimit string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotLimit = r.URL.Query().Get("limit")
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, "/ghost") {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"success":false,"error":"Stream not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"data":[{"id":1,"giftName":"Rose"}]}`))
	}))
	defer srv.Close()

	out, err := run(t, "--server", srv.URL, "stream", "alice", "--kind", "gifts", "--limit", "3")
	require.NoError(t, err)
	require.Equal(t, "/api/streams/alice/gifts", gotPath)
	require.Equal(t, "3", gotLimit)
	require.Contains(t, out, `"giftName": "Rose"`)

	_, err = run(t, "--server", srv.URL, "stream", "ghost")
	require.ErrorContains(t, err, "Stream not found")

	_, err = run(t, "--server", srv.URL, "stream", "alice", "--kind", "polls")
	require.ErrorContains(t, err, "unknown kind")
}

func TestDisconnectSendsBearer(t *testing.T) {
	var gotAuth, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotMethod = r.Method
		_, _ = w.Write([]byte(`{"success":true,"data":{"status":"disconnected"}}`))
	}))
	defer srv.Close()

	out, err := run(t, "--server", srv.URL, "--token", "tok", "disconnect")
	require.NoError(t, err)
	require.Equal(t, http.MethodPost, gotMethod)
	require.Equal(t, "Bearer tok", gotAuth)
	require.Contains(t, out, `"status": "disconnected"`)
}

// relayStub answers a connect-tiktok command with the given frames.
func relayStub(t *testing.T, replies ...string) (*httptest.Server, chan relay.Envelope) {
	t.Helper()
	got := make(chan relay.Envelope, 1)
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		var env relay.Envelope
		if err := ws.ReadJSON(&env); err != nil {
			return
		}
		got <- env
		for _, f := range replies {
			if err := ws.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		// Hold the connection until the client leaves.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestConnectCommand(t *testing.T) {
	srv, got := relayStub(t,
		`{"type":"connection-status","data":{"status":"connecting","username":"alice"}}`,
		`{"type":"connection-status","data":{"status":"connected","username":"alice"}}`,
	)
	out, err := run(t, "--server", srv.URL, "--timeout", "5s", "connect", "@alice")
	require.NoError(t, err)
	require.Equal(t, "connected to @alice\n", out)

	env := <-got
	require.Equal(t, relay.TypeConnectTiktok, env.Type)
	var p relay.ConnectPayload
	require.NoError(t, json.Unmarshal(env.Data, &p))
	require.Equal(t, "alice", p.Username)
}

func TestConnectCommandFailure(t *testing.T) {
	srv, _ := relayStub(t,
		`{"type":"connection-status","data":{"status":"connecting","username":"ghost"}}`,
		`{"type":"error","data":{"message":"Failed to connect: ghost is not live: room offline"}}`,
	)
	_, err := run(t, "--server", srv.URL, "--timeout", "5s", "connect", "ghost")
	require.EqualError(t, err, "Failed to connect: ghost is not live: room offline")
}

func TestConnectOutcome(t *testing.T) {
	outcome := connectOutcome("alice")
	status := func(s relay.Status, user, errMsg string) json.RawMessage {
		b, _ := json.Marshal(relay.StatusPayload{Status: s, Username: user, Error: errMsg})
		return b
	}

	done, _ := outcome(relay.TypeConnectionStatus, status(relay.StatusConnecting, "alice", ""))
	require.False(t, done)
	done, _ = outcome(relay.TypeConnectionStatus, status(relay.StatusConnected, "bob", ""))
	require.False(t, done)
	done, _ = outcome(relay.TypeStreamStats, json.RawMessage(`{"viewerCount":1}`))
	require.False(t, done)

	done, err := outcome(relay.TypeConnectionStatus, status(relay.StatusConnected, "alice", ""))
	require.True(t, done)
	require.NoError(t, err)

	done, err = outcome(relay.TypeConnectionStatus, status(relay.StatusDisconnected, "", ""))
	require.True(t, done)
	require.ErrorIs(t, err, errSuperseded)

	done, err = outcome(relay.TypeConnectionStatus, status(relay.StatusDisconnected, "", "connection timed out"))
	require.True(t, done)
	require.EqualError(t, err, "connection timed out")
}

func TestConnectCommandRelayDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	_, err := run(t, "--server", url, "--timeout", "2s", "connect", "alice")
	require.ErrorContains(t, err, "open relay websocket")
}
