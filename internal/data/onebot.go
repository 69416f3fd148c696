package data

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chatrelay/chatgpt-relay/internal/biz/domain"
	"github.com/chatrelay/chatgpt-relay/internal/biz/repo"
	"github.com/chatrelay/chatgpt-relay/internal/infra/onebot"
)

// onebotAPI is the part of onebot.Client the transport drives
type onebotAPI interface {
	OnEvent(h onebot.EventHandler)
	OnConnect(f func(ctx context.Context))
	OnDisconnect(f func(ctx context.Context, err error))
	Start(ctx context.Context) error
	Stop()

	SendPrivateMsg(ctx context.Context, userID int64, text string) error
	SendGroupMsg(ctx context.Context, groupID int64, text string) error
	SetFriendAddRequest(ctx context.Context, flag string, approve bool) error
	GetLoginInfo(ctx context.Context) (*onebot.LoginInfo, error)
	GetGroupInfo(ctx context.Context, groupID int64) (*onebot.GroupInfo, error)
}

// onebotTransport implements repo.ChatTransport over a OneBot v11 gateway
type onebotTransport struct {
	api onebotAPI
	log zerolog.Logger

	onScan       repo.ScanHandler
	onLogin      repo.LoginHandler
	onLogout     repo.LogoutHandler
	onMessage    repo.MessageHandler
	onFriendship repo.FriendshipHandler

	mu       sync.Mutex
	self     *onebotContact
	loggedIn bool

	groupMu    sync.Mutex
	groupNames map[int64]string
}

// NewOneBotTransport creates a chat transport backed by a OneBot client
func NewOneBotTransport(client *onebot.Client, log zerolog.Logger) repo.ChatTransport {
	return newOneBotTransport(client, log)
}

func newOneBotTransport(api onebotAPI, log zerolog.Logger) *onebotTransport {
	t := &onebotTransport{
		api:        api,
		log:        log,
		groupNames: make(map[int64]string),
	}
	api.OnEvent(t.handleEvent)
	api.OnConnect(t.handleConnect)
	api.OnDisconnect(t.handleDisconnect)
	return t
}

func (t *onebotTransport) OnScan(h repo.ScanHandler)             { t.onScan = h }
func (t *onebotTransport) OnLogin(h repo.LoginHandler)           { t.onLogin = h }
func (t *onebotTransport) OnLogout(h repo.LogoutHandler)         { t.onLogout = h }
func (t *onebotTransport) OnMessage(h repo.MessageHandler)       { t.onMessage = h }
func (t *onebotTransport) OnFriendship(h repo.FriendshipHandler) { t.onFriendship = h }

func (t *onebotTransport) Start(ctx context.Context) error {
	return t.api.Start(ctx)
}

func (t *onebotTransport) Stop() {
	t.api.Stop()
	t.logout(context.Background(), "stopped")
}

func (t *onebotTransport) handleConnect(ctx context.Context) {
	t.login(ctx)
}

func (t *onebotTransport) handleDisconnect(ctx context.Context, err error) {
	t.logout(ctx, err.Error())
}

// login resolves the account once per connection and raises the login event
func (t *onebotTransport) login(ctx context.Context) {
	t.mu.Lock()
	if t.loggedIn {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	info, err := t.api.GetLoginInfo(ctx)
	if err != nil {
		t.log.Error().Err(err).Msg("failed to resolve login info")
		return
	}

	self := &onebotContact{api: t.api, id: info.UserID, name: info.Nickname}
	t.mu.Lock()
	if t.loggedIn {
		t.mu.Unlock()
		return
	}
	t.self = self
	t.loggedIn = true
	t.mu.Unlock()

	if t.onLogin != nil {
		t.onLogin(ctx, self)
	}
}

func (t *onebotTransport) logout(ctx context.Context, reason string) {
	t.mu.Lock()
	if !t.loggedIn {
		t.mu.Unlock()
		return
	}
	t.loggedIn = false
	self := t.self
	t.mu.Unlock()

	if t.onLogout != nil {
		t.onLogout(ctx, self, reason)
	}
}

func (t *onebotTransport) currentSelf() *onebotContact {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.self
}

func (t *onebotTransport) handleEvent(ctx context.Context, ev *onebot.Event) {
	switch ev.PostType {
	case onebot.PostMessage, onebot.PostMessageSent:
		t.handleMessage(ctx, ev)
	case onebot.PostRequest:
		t.handleRequest(ctx, ev)
	case onebot.PostMetaEvent:
		t.handleMeta(ctx, ev)
	default:
		t.log.Debug().Str("post_type", ev.PostType).Str("sub_type", ev.SubType).Msg("ignoring event")
	}
}

func (t *onebotTransport) handleMeta(ctx context.Context, ev *onebot.Event) {
	switch ev.MetaEventType {
	case onebot.MetaQRCode:
		if t.onScan != nil {
			t.onScan(ctx, ev.QRCode, domain.ParseScanStatus(ev.Status))
		}
	case onebot.MetaLifecycle:
		switch ev.SubType {
		case "connect", "enable":
			t.login(ctx)
		case "disable":
			t.logout(ctx, "disabled by gateway")
		}
	}
}

func (t *onebotTransport) handleRequest(ctx context.Context, ev *onebot.Event) {
	if ev.RequestType != "friend" {
		t.log.Debug().Str("request_type", ev.RequestType).Msg("ignoring request")
		return
	}
	if t.onFriendship == nil {
		return
	}

	t.onFriendship(ctx, &onebotFriendship{
		api:     t.api,
		flag:    ev.Flag,
		hello:   ev.Comment,
		contact: &onebotContact{api: t.api, id: ev.UserID},
	})
}

func (t *onebotTransport) handleMessage(ctx context.Context, ev *onebot.Event) {
	if t.onMessage == nil {
		return
	}

	self := t.currentSelf()
	selfID := ev.SelfID
	selfName := ""
	if self != nil {
		if selfID == 0 {
			selfID = self.id
		}
		selfName = self.name
	}
	// Until the nickname is known, mentions render as the account id and the
	// receiver carries the same name so group gating sees a consistent prefix.
	if selfName == "" && selfID != 0 {
		selfName = strconv.FormatInt(selfID, 10)
	}

	parsed := onebot.ParseMessage(ev.Message, ev.RawMessage, selfID, selfName)

	msgType := domain.MessageTypeOther
	switch {
	case parsed.Text != "":
		msgType = domain.MessageTypeText
	case parsed.HasImage:
		msgType = domain.MessageTypeImage
	}

	createTime := ev.Time
	if createTime.IsZero() {
		createTime = time.Now()
	}

	msg := &domain.Message{
		ID:           ev.MessageID,
		Type:         msgType,
		Text:         parsed.Text,
		CreateTime:   createTime,
		Talker:       &onebotContact{api: t.api, id: ev.UserID, name: ev.Sender.Nickname, alias: ev.Sender.Card},
		IsSelf:       ev.PostType == onebot.PostMessageSent || (selfID != 0 && ev.UserID == selfID),
		MentionsSelf: parsed.MentionsSelf,
	}
	if self != nil && self.name != "" {
		msg.Receiver = self
	} else {
		msg.Receiver = &onebotContact{api: t.api, id: selfID, name: selfName}
	}
	if ev.IsGroup() {
		msg.Room = &onebotRoom{t: t, id: ev.GroupID}
	}

	t.onMessage(ctx, msg)
}

// groupName returns the group's name, cached after the first lookup
func (t *onebotTransport) groupName(ctx context.Context, groupID int64) (string, error) {
	t.groupMu.Lock()
	name, ok := t.groupNames[groupID]
	t.groupMu.Unlock()
	if ok {
		return name, nil
	}

	info, err := t.api.GetGroupInfo(ctx, groupID)
	if err != nil {
		return "", err
	}

	t.groupMu.Lock()
	t.groupNames[groupID] = info.GroupName
	t.groupMu.Unlock()
	return info.GroupName, nil
}

// onebotContact is a OneBot user
type onebotContact struct {
	api   onebotAPI
	id    int64
	name  string
	alias string
}

func (c *onebotContact) ID() string    { return strconv.FormatInt(c.id, 10) }
func (c *onebotContact) Name() string  { return c.name }
func (c *onebotContact) Alias() string { return c.alias }

func (c *onebotContact) Say(ctx context.Context, text string) error {
	return c.api.SendPrivateMsg(ctx, c.id, text)
}

// onebotRoom is a OneBot group
type onebotRoom struct {
	t  *onebotTransport
	id int64
}

func (r *onebotRoom) ID() string { return strconv.FormatInt(r.id, 10) }

func (r *onebotRoom) Say(ctx context.Context, text string) error {
	return r.t.api.SendGroupMsg(ctx, r.id, text)
}

func (r *onebotRoom) Topic(ctx context.Context) (string, error) {
	return r.t.groupName(ctx, r.id)
}

// onebotFriendship is an inbound friend request
type onebotFriendship struct {
	api     onebotAPI
	flag    string
	hello   string
	contact *onebotContact
}

func (f *onebotFriendship) Type() domain.FriendshipType { return domain.FriendshipReceive }
func (f *onebotFriendship) Hello() string               { return f.hello }
func (f *onebotFriendship) Contact() domain.Contact     { return f.contact }

func (f *onebotFriendship) Accept(ctx context.Context) error {
	return f.api.SetFriendAddRequest(ctx, f.flag, true)
}
