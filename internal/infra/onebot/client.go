// Package onebot is a OneBot v11 client speaking the forward-websocket
// protocol, with an optional HTTP API for actions.
package onebot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrNotConnected is returned by action calls while no connection is up
var ErrNotConnected = errors.New("onebot websocket not connected")

const minReconnectInterval = 5 * time.Second

// Config configures the client
type Config struct {
	WSURL             string
	HTTPURL           string
	AccessToken       string
	ReconnectInterval time.Duration // 0 disables reconnecting
	ActionTimeout     time.Duration
}

// EventHandler receives every non-response frame, one goroutine per event
type EventHandler func(ctx context.Context, ev *Event)

// Client is a OneBot v11 client
type Client struct {
	cfg  Config
	http *resty.Client
	log  zerolog.Logger

	onEvent      EventHandler
	onConnect    func(ctx context.Context)
	onDisconnect func(ctx context.Context, err error)

	mu     sync.Mutex
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	lost   chan error

	writeMu sync.Mutex

	waitMu  sync.Mutex
	waiters map[string]chan APIResponse
}

// NewClient creates a new client
func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 8 * time.Second
	}
	if cfg.ReconnectInterval > 0 && cfg.ReconnectInterval < minReconnectInterval {
		cfg.ReconnectInterval = minReconnectInterval
	}

	c := &Client{
		cfg:     cfg,
		log:     log,
		lost:    make(chan error, 1),
		waiters: make(map[string]chan APIResponse),
	}

	if cfg.HTTPURL != "" {
		c.http = resty.New().
			SetBaseURL(strings.TrimRight(cfg.HTTPURL, "/")).
			SetHeader("Content-Type", "application/json").
			SetTimeout(cfg.ActionTimeout)
		if cfg.AccessToken != "" {
			c.http.SetAuthToken(cfg.AccessToken)
		}
	}
	return c
}

// OnEvent sets the event handler
func (c *Client) OnEvent(h EventHandler) {
	c.onEvent = h
}

// OnConnect sets a callback run after every successful dial, once the read loop is up
func (c *Client) OnConnect(f func(ctx context.Context)) {
	c.onConnect = f
}

// OnDisconnect sets a callback run when an established connection is lost
func (c *Client) OnDisconnect(f func(ctx context.Context, err error)) {
	c.onDisconnect = f
}

// Start connects and blocks until ctx is cancelled, Stop is called, or the
// connection is lost with reconnecting disabled.
func (c *Client) Start(ctx context.Context) error {
	if c.cfg.WSURL == "" {
		return fmt.Errorf("onebot ws_url not configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.ctx, c.cancel = runCtx, cancel
	c.mu.Unlock()
	defer c.Stop()

	c.log.Info().Str("ws_url", c.cfg.WSURL).Msg("connecting to onebot gateway")

	if err := c.connect(runCtx); err != nil {
		if c.cfg.ReconnectInterval == 0 {
			return fmt.Errorf("connect onebot: %w", err)
		}
		c.log.Warn().Err(err).Msg("initial connection failed, will retry in background")
	}

	if c.cfg.ReconnectInterval > 0 {
		go c.reconnectLoop(runCtx)
	}

	select {
	case <-runCtx.Done():
		return nil
	case err := <-c.lost:
		return fmt.Errorf("onebot connection lost: %w", err)
	}
}

// Stop closes the connection and ends Start
func (c *Client) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Client) connect(ctx context.Context) error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	header := http.Header{}
	if c.cfg.AccessToken != "" {
		header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.WSURL, header)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.log.Info().Msg("websocket connected")
	go c.listen(ctx, conn)
	if c.onConnect != nil {
		go c.onConnect(ctx)
	}
	return nil
}

func (c *Client) reconnectLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.ReconnectInterval):
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn != nil {
				continue
			}

			c.log.Info().Msg("attempting to reconnect")
			if err := c.connect(ctx); err != nil {
				c.log.Error().Err(err).Msg("reconnect failed")
			}
		}
	}
}

func (c *Client) listen(ctx context.Context, conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			c.dropConn(ctx, conn, err)
			return
		}

		var raw rawEvent
		if err := json.Unmarshal(payload, &raw); err != nil {
			c.log.Warn().Err(err).Str("payload", string(payload)).Msg("failed to unmarshal frame")
			continue
		}

		if raw.Echo != "" {
			c.dispatchResponse(payload, raw.Echo)
			continue
		}

		ev, err := raw.normalize()
		if err != nil {
			c.log.Warn().Err(err).Str("post_type", raw.PostType).Msg("failed to normalize event")
			continue
		}

		if ev.PostType == PostMetaEvent && ev.MetaEventType == MetaHeartbeat {
			continue
		}
		c.log.Debug().
			Str("post_type", ev.PostType).
			Str("message_type", ev.MessageType).
			Str("meta_event_type", ev.MetaEventType).
			Msg("event received")

		if c.onEvent != nil {
			go c.onEvent(ctx, ev)
		}
	}
}

func (c *Client) dropConn(ctx context.Context, conn *websocket.Conn, err error) {
	c.mu.Lock()
	current := c.conn == conn
	if current {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()

	// Closed by Stop
	if !current || ctx.Err() != nil {
		return
	}

	c.log.Error().Err(err).Msg("websocket read error")
	if c.onDisconnect != nil {
		c.onDisconnect(ctx, err)
	}
	if c.cfg.ReconnectInterval == 0 {
		select {
		case c.lost <- err:
		default:
		}
	}
}

func (c *Client) dispatchResponse(payload []byte, echo string) {
	var resp APIResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		resp = APIResponse{Status: "failed", Message: err.Error()}
	}
	resp.Echo = echo

	c.waitMu.Lock()
	waiter := c.waiters[echo]
	c.waitMu.Unlock()
	if waiter == nil {
		return
	}

	select {
	case waiter <- resp:
	default:
	}
}

// Call invokes an action and returns its response. Actions go over the HTTP
// API when one is configured, otherwise over the websocket.
func (c *Client) Call(ctx context.Context, action string, params any) (*APIResponse, error) {
	var (
		resp *APIResponse
		err  error
	)
	if c.http != nil {
		resp, err = c.callHTTP(ctx, action, params)
	} else {
		resp, err = c.callWS(ctx, action, params)
	}
	if err != nil {
		return nil, err
	}
	if err := resp.Err(action); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) callHTTP(ctx context.Context, action string, params any) (*APIResponse, error) {
	var out APIResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(params).
		SetResult(&out).
		Post("/" + action)
	if err != nil {
		return nil, fmt.Errorf("onebot %s: %w", action, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("onebot %s: http status %d", action, resp.StatusCode())
	}
	return &out, nil
}

func (c *Client) callWS(ctx context.Context, action string, params any) (*APIResponse, error) {
	c.mu.Lock()
	conn := c.conn
	runCtx := c.ctx
	c.mu.Unlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	echo := uuid.NewString()
	waiter := make(chan APIResponse, 1)

	c.waitMu.Lock()
	c.waiters[echo] = waiter
	c.waitMu.Unlock()
	defer func() {
		c.waitMu.Lock()
		delete(c.waiters, echo)
		c.waitMu.Unlock()
	}()

	payload, err := json.Marshal(APIRequest{Action: action, Params: params, Echo: echo})
	if err != nil {
		return nil, fmt.Errorf("marshal onebot request: %w", err)
	}

	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("write onebot request: %w", err)
	}

	timer := time.NewTimer(c.cfg.ActionTimeout)
	defer timer.Stop()

	var stopped <-chan struct{}
	if runCtx != nil {
		stopped = runCtx.Done()
	}

	select {
	case resp := <-waiter:
		return &resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("onebot %s: request timed out", action)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-stopped:
		return nil, fmt.Errorf("onebot %s: client stopped", action)
	}
}

// SendPrivateMsg sends text to a user
func (c *Client) SendPrivateMsg(ctx context.Context, userID int64, text string) error {
	_, err := c.Call(ctx, "send_private_msg", map[string]any{
		"user_id":     userID,
		"message":     text,
		"auto_escape": true,
	})
	return err
}

// SendGroupMsg sends text to a group
func (c *Client) SendGroupMsg(ctx context.Context, groupID int64, text string) error {
	_, err := c.Call(ctx, "send_group_msg", map[string]any{
		"group_id":    groupID,
		"message":     text,
		"auto_escape": true,
	})
	return err
}

// SetFriendAddRequest answers a friend request identified by flag
func (c *Client) SetFriendAddRequest(ctx context.Context, flag string, approve bool) error {
	_, err := c.Call(ctx, "set_friend_add_request", map[string]any{
		"flag":    flag,
		"approve": approve,
	})
	return err
}

// GetLoginInfo returns the logged-in account
func (c *Client) GetLoginInfo(ctx context.Context) (*LoginInfo, error) {
	resp, err := c.Call(ctx, "get_login_info", map[string]any{})
	if err != nil {
		return nil, err
	}
	var info LoginInfo
	if err := json.Unmarshal(resp.Data, &info); err != nil {
		return nil, fmt.Errorf("decode login info: %w", err)
	}
	return &info, nil
}

// GetGroupInfo returns group details
func (c *Client) GetGroupInfo(ctx context.Context, groupID int64) (*GroupInfo, error) {
	resp, err := c.Call(ctx, "get_group_info", map[string]any{"group_id": groupID})
	if err != nil {
		return nil, err
	}
	var info GroupInfo
	if err := json.Unmarshal(resp.Data, &info); err != nil {
		return nil, fmt.Errorf("decode group info: %w", err)
	}
	return &info, nil
}
