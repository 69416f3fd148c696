package data

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chatrelay/chatgpt-relay/internal/biz/domain"
	"github.com/chatrelay/chatgpt-relay/internal/biz/repo"
	"github.com/chatrelay/chatgpt-relay/internal/infra/feishu"
)

// feishuAPI is the part of feishu.Client the transport drives
type feishuAPI interface {
	OnMessage(h feishu.MessageHandler)
	OnReady(f func(ctx context.Context, bot feishu.BotInfo))
	Start(ctx context.Context) error
	Stop()

	SendText(ctx context.Context, chatID, text string) error
	SendTextToUser(ctx context.Context, openID, text string) error
	ChatName(ctx context.Context, chatID string) (string, error)
	ChatMembers(ctx context.Context, chatID string) (map[string]string, error)
}

// feishuTransport implements repo.ChatTransport over Feishu.
// Feishu has no QR login or friend requests, so scan and friendship handlers never fire.
type feishuTransport struct {
	api feishuAPI
	log zerolog.Logger

	onLogin   repo.LoginHandler
	onLogout  repo.LogoutHandler
	onMessage repo.MessageHandler

	mu   sync.Mutex
	self *feishuContact

	memberMu sync.Mutex
	members  map[string]map[string]string // chat_id -> open_id -> name
}

// NewFeishuTransport creates a chat transport backed by a Feishu client
func NewFeishuTransport(client *feishu.Client, log zerolog.Logger) repo.ChatTransport {
	return newFeishuTransport(client, log)
}

func newFeishuTransport(api feishuAPI, log zerolog.Logger) *feishuTransport {
	t := &feishuTransport{api: api, log: log, members: make(map[string]map[string]string)}
	api.OnMessage(t.handleMessage)
	api.OnReady(t.handleReady)
	return t
}

func (t *feishuTransport) OnScan(h repo.ScanHandler)             {}
func (t *feishuTransport) OnLogin(h repo.LoginHandler)           { t.onLogin = h }
func (t *feishuTransport) OnLogout(h repo.LogoutHandler)         { t.onLogout = h }
func (t *feishuTransport) OnMessage(h repo.MessageHandler)       { t.onMessage = h }
func (t *feishuTransport) OnFriendship(h repo.FriendshipHandler) {}

func (t *feishuTransport) Start(ctx context.Context) error {
	return t.api.Start(ctx)
}

func (t *feishuTransport) Stop() {
	t.api.Stop()

	t.mu.Lock()
	self := t.self
	t.self = nil
	t.mu.Unlock()

	if self != nil && t.onLogout != nil {
		t.onLogout(context.Background(), self, "stopped")
	}
}

func (t *feishuTransport) handleReady(ctx context.Context, bot feishu.BotInfo) {
	self := &feishuContact{t: t, openID: bot.OpenID, name: bot.AppName}
	t.mu.Lock()
	t.self = self
	t.mu.Unlock()

	if t.onLogin != nil {
		t.onLogin(ctx, self)
	}
}

func (t *feishuTransport) handleMessage(ctx context.Context, m *feishu.Message) {
	if t.onMessage == nil {
		return
	}

	msgType := domain.MessageTypeOther
	switch {
	case m.Content != "":
		msgType = domain.MessageTypeText
	case m.HasImage:
		msgType = domain.MessageTypeImage
	}

	createTime := time.Now()
	if m.CreateTime > 0 {
		createTime = time.UnixMilli(m.CreateTime)
	}

	t.mu.Lock()
	self := t.self
	t.mu.Unlock()

	msg := &domain.Message{
		ID:           m.MsgID,
		Type:         msgType,
		Text:         m.Content,
		CreateTime:   createTime,
		IsSelf:       self != nil && self.openID != "" && m.SenderID == self.openID,
		MentionsSelf: m.MentionsBot,
	}

	talker := &feishuContact{t: t, openID: m.SenderID, name: t.senderName(ctx, m.ChatID, m.SenderID)}
	if m.IsGroup() {
		msg.Room = &feishuRoom{t: t, chatID: m.ChatID}
	} else {
		// Private replies go to the p2p chat
		talker.chatID = m.ChatID
	}
	msg.Talker = talker

	if self != nil {
		msg.Receiver = self
	} else {
		msg.Receiver = &feishuContact{t: t}
	}

	t.onMessage(ctx, msg)
}

// senderName resolves a sender's display name from the chat member list.
// The list is cached per chat and refreshed when an unknown sender appears.
func (t *feishuTransport) senderName(ctx context.Context, chatID, openID string) string {
	if chatID == "" || openID == "" {
		return openID
	}

	t.memberMu.Lock()
	name, ok := t.members[chatID][openID]
	t.memberMu.Unlock()
	if ok {
		return name
	}

	names, err := t.api.ChatMembers(ctx, chatID)
	if err != nil {
		t.log.Debug().Err(err).Str("chat_id", chatID).Msg("failed to resolve chat members")
		return openID
	}

	t.memberMu.Lock()
	t.members[chatID] = names
	t.memberMu.Unlock()

	if name, ok := names[openID]; ok && name != "" {
		return name
	}
	return openID
}

// feishuContact is a Feishu user or the bot itself
type feishuContact struct {
	t      *feishuTransport
	openID string
	chatID string // p2p chat with the bot, when known
	name   string
}

func (c *feishuContact) ID() string    { return c.openID }
func (c *feishuContact) Name() string  { return c.name }
func (c *feishuContact) Alias() string { return "" }

func (c *feishuContact) Say(ctx context.Context, text string) error {
	if c.chatID != "" {
		return c.t.api.SendText(ctx, c.chatID, text)
	}
	return c.t.api.SendTextToUser(ctx, c.openID, text)
}

// feishuRoom is a Feishu group chat
type feishuRoom struct {
	t      *feishuTransport
	chatID string
}

func (r *feishuRoom) ID() string { return r.chatID }

func (r *feishuRoom) Say(ctx context.Context, text string) error {
	return r.t.api.SendText(ctx, r.chatID, text)
}

func (r *feishuRoom) Topic(ctx context.Context) (string, error) {
	return r.t.api.ChatName(ctx, r.chatID)
}
