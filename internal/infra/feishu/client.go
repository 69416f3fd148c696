// Package feishu connects to Feishu/Lark over the event websocket and sends
// text replies through the IM API.
package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"
	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"
	"github.com/rs/zerolog"
)

const defaultOpenBaseURL = "https://open.feishu.cn"

// Message represents a received Feishu message
type Message struct {
	ChatID      string
	MsgID       string
	MsgType     string // text, image, post
	ChatType    string // p2p (private), group
	Content     string // Text content with mention placeholders replaced by names
	HasImage    bool
	SenderID    string // open_id
	SenderType  string // user, app
	MentionsBot bool
	CreateTime  int64 // Milliseconds since epoch
}

// IsGroup reports whether the message was posted in a group chat
func (m *Message) IsGroup() bool {
	return m.ChatType == "group"
}

// BotInfo identifies the bot account
type BotInfo struct {
	OpenID  string
	AppName string
}

// MessageHandler is the callback for received messages
type MessageHandler func(ctx context.Context, msg *Message)

// Client is the Feishu API client
type Client struct {
	appID     string
	appSecret string
	log       zerolog.Logger

	larkCli *lark.Client
	openAPI *resty.Client

	onMessage MessageHandler
	onReady   func(ctx context.Context, bot BotInfo)

	mu     sync.Mutex
	cancel context.CancelFunc
	bot    BotInfo
}

// NewClient creates a new Feishu client
func NewClient(appID, appSecret string, log zerolog.Logger) *Client {
	return &Client{
		appID:     appID,
		appSecret: appSecret,
		log:       log,
		larkCli:   lark.NewClient(appID, appSecret),
		openAPI:   resty.New().SetBaseURL(defaultOpenBaseURL),
	}
}

// SetOpenBaseURL points API calls at another host
func (c *Client) SetOpenBaseURL(base string) {
	base = strings.TrimRight(base, "/")
	c.openAPI.SetBaseURL(base)
	c.larkCli = lark.NewClient(c.appID, c.appSecret, lark.WithOpenBaseUrl(base))
}

// OnMessage sets the message handler
func (c *Client) OnMessage(handler MessageHandler) {
	c.onMessage = handler
}

// OnReady sets a callback run once the bot identity is known
func (c *Client) OnReady(f func(ctx context.Context, bot BotInfo)) {
	c.onReady = f
}

// Bot returns the bot identity, empty until Start resolved it
func (c *Client) Bot() BotInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bot
}

// Start connects to Feishu via WebSocket and blocks until ctx is cancelled or Stop is called
func (c *Client) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	bot, err := c.FetchBotInfo(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to fetch bot info")
	} else {
		c.mu.Lock()
		c.bot = *bot
		c.mu.Unlock()
		c.log.Info().Str("open_id", bot.OpenID).Str("name", bot.AppName).Msg("bot identity resolved")
		if c.onReady != nil {
			c.onReady(ctx, *bot)
		}
	}

	// The SDK acks after the handler returns, so handling is moved off its goroutine
	eventHandler := dispatcher.NewEventDispatcher("", "").
		OnP2MessageReceiveV1(func(_ context.Context, event *larkim.P2MessageReceiveV1) error {
			go c.handleEvent(ctx, event)
			return nil
		})

	wsCli := larkws.NewClient(c.appID, c.appSecret,
		larkws.WithEventHandler(eventHandler),
		larkws.WithLogLevel(larkcore.LogLevelInfo),
	)

	c.log.Info().Msg("starting websocket connection")
	errCh := make(chan error, 1)
	go func() { errCh <- wsCli.Start(ctx) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("feishu websocket: %w", err)
	}
}

// Stop ends Start
func (c *Client) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// FetchBotInfo resolves the bot's own open_id and name
func (c *Client) FetchBotInfo(ctx context.Context) (*BotInfo, error) {
	var token struct {
		Code              int    `json:"code"`
		Msg               string `json:"msg"`
		TenantAccessToken string `json:"tenant_access_token"`
	}
	resp, err := c.openAPI.R().
		SetContext(ctx).
		SetBody(map[string]string{"app_id": c.appID, "app_secret": c.appSecret}).
		SetResult(&token).
		Post("/open-apis/auth/v3/tenant_access_token/internal")
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	if resp.IsError() || token.Code != 0 {
		return nil, fmt.Errorf("get token: status=%d code=%d %s", resp.StatusCode(), token.Code, token.Msg)
	}

	var info struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Bot  struct {
			OpenID  string `json:"open_id"`
			AppName string `json:"app_name"`
		} `json:"bot"`
	}
	resp, err = c.openAPI.R().
		SetContext(ctx).
		SetAuthToken(token.TenantAccessToken).
		SetResult(&info).
		Get("/open-apis/bot/v3/info")
	if err != nil {
		return nil, fmt.Errorf("get bot info: %w", err)
	}
	if resp.IsError() || info.Code != 0 {
		return nil, fmt.Errorf("get bot info: status=%d code=%d %s", resp.StatusCode(), info.Code, info.Msg)
	}

	return &BotInfo{OpenID: info.Bot.OpenID, AppName: info.Bot.AppName}, nil
}

func (c *Client) handleEvent(ctx context.Context, event *larkim.P2MessageReceiveV1) {
	msg := fromEvent(event, c.Bot().OpenID)
	if msg == nil {
		return
	}

	c.log.Debug().
		Str("msg_type", msg.MsgType).
		Str("chat_type", msg.ChatType).
		Str("chat_id", msg.ChatID).
		Msg("message received")

	if c.onMessage != nil {
		c.onMessage(ctx, msg)
	}
}

// fromEvent converts a receive event, nil when it carries no message
func fromEvent(event *larkim.P2MessageReceiveV1, botOpenID string) *Message {
	if event == nil || event.Event == nil || event.Event.Message == nil {
		return nil
	}
	raw := event.Event.Message

	msg := &Message{
		ChatID:   deref(raw.ChatId),
		MsgID:    deref(raw.MessageId),
		MsgType:  deref(raw.MessageType),
		ChatType: deref(raw.ChatType),
	}
	if ts, err := strconv.ParseInt(deref(raw.CreateTime), 10, 64); err == nil {
		msg.CreateTime = ts
	}

	if sender := event.Event.Sender; sender != nil {
		msg.SenderType = deref(sender.SenderType)
		if sender.SenderId != nil {
			msg.SenderID = deref(sender.SenderId.OpenId)
		}
	}

	// Placeholder keys (@_user_1) map to display names
	mentionMap := make(map[string]string)
	for _, mention := range raw.Mentions {
		if mention == nil {
			continue
		}
		if mention.Id != nil && botOpenID != "" && deref(mention.Id.OpenId) == botOpenID {
			msg.MentionsBot = true
		}
		if mention.Key != nil && mention.Name != nil {
			mentionMap[*mention.Key] = *mention.Name
		}
	}

	content := deref(raw.Content)
	switch msg.MsgType {
	case "text":
		msg.Content = parseTextContent(content, mentionMap)
	case "post":
		msg.Content, msg.HasImage = parsePostContent(content, mentionMap)
	case "image":
		msg.HasImage = true
	}
	return msg
}

func parseTextContent(content string, mentionMap map[string]string) string {
	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return ""
	}
	return replaceMentions(parsed.Text, mentionMap)
}

func parsePostContent(content string, mentionMap map[string]string) (string, bool) {
	var parsed struct {
		Title   string `json:"title"`
		Content [][]struct {
			Tag    string `json:"tag"`
			Text   string `json:"text,omitempty"`
			UserID string `json:"user_id,omitempty"`
		} `json:"content"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return "", false
	}

	var lines []string
	hasImage := false
	if parsed.Title != "" {
		lines = append(lines, parsed.Title)
	}
	for _, line := range parsed.Content {
		var sb strings.Builder
		for _, elem := range line {
			switch elem.Tag {
			case "text":
				sb.WriteString(elem.Text)
			case "at":
				if name, ok := mentionMap[elem.UserID]; ok {
					sb.WriteString("@" + name)
				} else if elem.UserID != "" {
					sb.WriteString("@" + elem.UserID)
				}
			case "img":
				hasImage = true
			}
		}
		if sb.Len() > 0 {
			lines = append(lines, sb.String())
		}
	}
	return replaceMentions(strings.Join(lines, "\n"), mentionMap), hasImage
}

// replaceMentions replaces mention placeholders (@_user_1, @_user_2, ...) with real names
func replaceMentions(text string, mentionMap map[string]string) string {
	for key, name := range mentionMap {
		text = strings.ReplaceAll(text, key, "@"+name)
	}
	return text
}

// SendText sends a text message to a chat
func (c *Client) SendText(ctx context.Context, chatID, text string) error {
	return c.send(ctx, larkim.ReceiveIdTypeChatId, chatID, text)
}

// SendTextToUser sends a text message to a user by open_id
func (c *Client) SendTextToUser(ctx context.Context, openID, text string) error {
	return c.send(ctx, larkim.ReceiveIdTypeOpenId, openID, text)
}

func (c *Client) send(ctx context.Context, idType, receiveID, text string) error {
	contentJSON, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(idType).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(receiveID).
			MsgType(larkim.MsgTypeText).
			Content(string(contentJSON)).
			Build()).
		Build()

	resp, err := c.larkCli.Im.Message.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("send message failed: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("send message error: %s", resp.Msg)
	}
	return nil
}

// ChatName returns the name of a chat
func (c *Client) ChatName(ctx context.Context, chatID string) (string, error) {
	req := larkim.NewGetChatReqBuilder().
		ChatId(chatID).
		Build()

	resp, err := c.larkCli.Im.Chat.Get(ctx, req)
	if err != nil {
		return "", fmt.Errorf("get chat info failed: %w", err)
	}
	if !resp.Success() {
		return "", fmt.Errorf("get chat info error: %s", resp.Msg)
	}
	if resp.Data == nil {
		return "", nil
	}
	return deref(resp.Data.Name), nil
}

// ChatMembers returns the display names of a chat's members keyed by open_id
func (c *Client) ChatMembers(ctx context.Context, chatID string) (map[string]string, error) {
	members := make(map[string]string)
	var pageToken string

	for {
		reqBuilder := larkim.NewGetChatMembersReqBuilder().
			MemberIdType("open_id").
			ChatId(chatID).
			PageSize(100)
		if pageToken != "" {
			reqBuilder = reqBuilder.PageToken(pageToken)
		}

		resp, err := c.larkCli.Im.ChatMembers.Get(ctx, reqBuilder.Build())
		if err != nil {
			return nil, fmt.Errorf("get chat members failed: %w", err)
		}
		if !resp.Success() {
			return nil, fmt.Errorf("get chat members error: %s", resp.Msg)
		}
		if resp.Data == nil {
			break
		}

		for _, item := range resp.Data.Items {
			if item == nil || item.MemberId == nil {
				continue
			}
			members[*item.MemberId] = deref(item.Name)
		}

		if resp.Data.PageToken == nil || *resp.Data.PageToken == "" {
			break
		}
		pageToken = *resp.Data.PageToken
	}
	return members, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
