package onebot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway is a minimal OneBot forward-websocket server
type fakeGateway struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	respond  func(req APIRequest) APIResponse

	mu       sync.Mutex
	conn     *websocket.Conn
	requests []APIRequest
	authz    string
	ready    chan struct{}
}

func newFakeGateway(t *testing.T, respond func(req APIRequest) APIResponse) *fakeGateway {
	t.Helper()
	g := &fakeGateway{respond: respond, ready: make(chan struct{})}
	g.srv = httptest.NewServer(http.HandlerFunc(g.serve))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGateway) url() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http")
}

func (g *fakeGateway) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	g.mu.Lock()
	g.conn = conn
	g.authz = r.Header.Get("Authorization")
	g.mu.Unlock()
	close(g.ready)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req APIRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			continue
		}
		g.mu.Lock()
		g.requests = append(g.requests, req)
		g.mu.Unlock()

		if g.respond == nil {
			continue
		}
		resp := g.respond(req)
		resp.Echo = req.Echo
		g.send(resp)
	}
}

func (g *fakeGateway) send(v any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	_ = g.conn.WriteJSON(v)
}

func (g *fakeGateway) closeConn() {
	g.mu.Lock()
	defer g.mu.Unlock()
	_ = g.conn.Close()
}

func (g *fakeGateway) waitReady(t *testing.T) {
	t.Helper()
	select {
	case <-g.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("client never connected")
	}
}

func okResponse(data any) APIResponse {
	raw, _ := json.Marshal(data)
	return APIResponse{Status: "ok", RetCode: json.RawMessage("0"), Data: raw}
}

func startClient(t *testing.T, c *Client) chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- c.Start(context.Background()) }()
	t.Cleanup(c.Stop)
	return done
}

// startConnected starts c and returns once the client can issue actions
func startConnected(t *testing.T, c *Client) {
	t.Helper()
	connected := make(chan struct{}, 1)
	c.OnConnect(func(ctx context.Context) {
		select {
		case connected <- struct{}{}:
		default:
		}
	})
	startClient(t, c)

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("OnConnect not called")
	}
}

func TestClient_CallOverWebSocket(t *testing.T) {
	g := newFakeGateway(t, func(req APIRequest) APIResponse {
		switch req.Action {
		case "get_login_info":
			return okResponse(LoginInfo{UserID: 10001, Nickname: "relay"})
		case "get_group_info":
			return okResponse(GroupInfo{GroupID: 42, GroupName: "Gophers"})
		}
		return okResponse(nil)
	})

	connected := make(chan struct{}, 1)
	c := NewClient(Config{WSURL: g.url(), AccessToken: "secret", ActionTimeout: time.Second}, zerolog.Nop())
	c.OnConnect(func(ctx context.Context) { connected <- struct{}{} })
	startClient(t, c)

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("OnConnect not called")
	}
	g.waitReady(t)

	info, err := c.GetLoginInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(10001), info.UserID)
	assert.Equal(t, "relay", info.Nickname)

	group, err := c.GetGroupInfo(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "Gophers", group.GroupName)

	require.NoError(t, c.SendGroupMsg(context.Background(), 42, "hi"))

	g.mu.Lock()
	defer g.mu.Unlock()
	assert.Equal(t, "Bearer secret", g.authz)
	require.Len(t, g.requests, 3)
	assert.Equal(t, "send_group_msg", g.requests[2].Action)
	assert.NotEmpty(t, g.requests[2].Echo)
	assert.NotEqual(t, g.requests[0].Echo, g.requests[1].Echo)
}

func TestClient_ActionFailure(t *testing.T) {
	g := newFakeGateway(t, func(req APIRequest) APIResponse {
		return APIResponse{Status: "failed", RetCode: json.RawMessage("100"), Wording: "no such user"}
	})

	c := NewClient(Config{WSURL: g.url(), ActionTimeout: time.Second}, zerolog.Nop())
	startConnected(t, c)

	err := c.SendPrivateMsg(context.Background(), 1, "hi")
	var ae *ActionError
	require.True(t, errors.As(err, &ae), "got %v", err)
	assert.Equal(t, int64(100), ae.RetCode)
	assert.Equal(t, "send_private_msg", ae.Action)
	assert.Contains(t, err.Error(), "no such user")
}

func TestClient_ActionTimeout(t *testing.T) {
	g := newFakeGateway(t, nil)

	c := NewClient(Config{WSURL: g.url(), ActionTimeout: 50 * time.Millisecond}, zerolog.Nop())
	startConnected(t, c)

	err := c.SendPrivateMsg(context.Background(), 1, "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestClient_NotConnected(t *testing.T) {
	c := NewClient(Config{WSURL: "ws://127.0.0.1:1"}, zerolog.Nop())
	err := c.SendPrivateMsg(context.Background(), 1, "hi")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClient_EventDelivery(t *testing.T) {
	g := newFakeGateway(t, nil)

	events := make(chan *Event, 1)
	c := NewClient(Config{WSURL: g.url()}, zerolog.Nop())
	c.OnEvent(func(ctx context.Context, ev *Event) { events <- ev })
	startClient(t, c)
	g.waitReady(t)

	g.send(map[string]any{
		"post_type":    "message",
		"message_type": "group",
		"message_id":   "123",
		"user_id":      "555",
		"group_id":     42,
		"self_id":      10001,
		"time":         1700000000,
		"message":      "[CQ:at,qq=10001] hello",
		"raw_message":  "[CQ:at,qq=10001] hello",
		"sender":       map[string]any{"user_id": 555, "nickname": "alice", "card": "Alice"},
	})

	select {
	case ev := <-events:
		assert.Equal(t, PostMessage, ev.PostType)
		assert.True(t, ev.IsGroup())
		assert.Equal(t, "123", ev.MessageID)
		assert.Equal(t, int64(555), ev.UserID)
		assert.Equal(t, int64(42), ev.GroupID)
		assert.Equal(t, int64(10001), ev.SelfID)
		assert.Equal(t, time.Unix(1700000000, 0), ev.Time)
		assert.Equal(t, "alice", ev.Sender.Nickname)
		assert.Equal(t, "Alice", ev.Sender.Card)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestClient_HeartbeatNotDelivered(t *testing.T) {
	g := newFakeGateway(t, nil)

	events := make(chan *Event, 2)
	c := NewClient(Config{WSURL: g.url()}, zerolog.Nop())
	c.OnEvent(func(ctx context.Context, ev *Event) { events <- ev })
	startClient(t, c)
	g.waitReady(t)

	g.send(map[string]any{"post_type": "meta_event", "meta_event_type": "heartbeat", "status": map[string]any{"online": true, "good": true}})
	g.send(map[string]any{"post_type": "meta_event", "meta_event_type": "qrcode", "qrcode": "https://login/abc", "status": "waiting"})

	select {
	case ev := <-events:
		assert.Equal(t, MetaQRCode, ev.MetaEventType)
		assert.Equal(t, "https://login/abc", ev.QRCode)
		assert.Equal(t, "waiting", ev.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestClient_ConnectionLostWithoutReconnect(t *testing.T) {
	g := newFakeGateway(t, nil)

	disconnected := make(chan error, 1)
	c := NewClient(Config{WSURL: g.url()}, zerolog.Nop())
	c.OnDisconnect(func(ctx context.Context, err error) { disconnected <- err })
	done := startClient(t, c)
	g.waitReady(t)

	g.closeConn()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection lost")
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
	}
	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("OnDisconnect not called")
	}
}

func TestClient_StopEndsStart(t *testing.T) {
	g := newFakeGateway(t, nil)

	c := NewClient(Config{WSURL: g.url()}, zerolog.Nop())
	done := startClient(t, c)
	g.waitReady(t)

	c.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
	}
}

func TestClient_DialFailureWithoutReconnect(t *testing.T) {
	c := NewClient(Config{WSURL: "ws://127.0.0.1:1"}, zerolog.Nop())
	err := c.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect onebot")
}

func TestClient_HTTPActions(t *testing.T) {
	var (
		mu    sync.Mutex
		path  string
		authz string
		body  map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		path = r.URL.Path
		authz = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","retcode":0,"data":{"message_id":1}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{WSURL: "ws://unused", HTTPURL: srv.URL + "/", AccessToken: "tok"}, zerolog.Nop())
	require.NoError(t, c.SetFriendAddRequest(context.Background(), "flag-1", true))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/set_friend_add_request", path)
	assert.Equal(t, "Bearer tok", authz)
	assert.Equal(t, "flag-1", body["flag"])
	assert.Equal(t, true, body["approve"])
}

func TestClient_HTTPActionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"failed","retcode":1404,"message":"unknown action"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{HTTPURL: srv.URL}, zerolog.Nop())
	err := c.SendGroupMsg(context.Background(), 1, "x")
	var ae *ActionError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, int64(1404), ae.RetCode)
}
