package feishu

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestFromEvent_TextWithBotMention(t *testing.T) {
	event := &larkim.P2MessageReceiveV1{
		Event: &larkim.P2MessageReceiveV1Data{
			Sender: &larkim.EventSender{
				SenderId:   &larkim.UserId{OpenId: strPtr("ou_alice")},
				SenderType: strPtr("user"),
			},
			Message: &larkim.EventMessage{
				MessageId:   strPtr("om_1"),
				ChatId:      strPtr("oc_group"),
				ChatType:    strPtr("group"),
				MessageType: strPtr("text"),
				CreateTime:  strPtr("1700000000123"),
				Content:     strPtr(`{"text":"@_user_1 gpt hello"}`),
				Mentions: []*larkim.MentionEvent{
					{Key: strPtr("@_user_1"), Name: strPtr("Relay"), Id: &larkim.UserId{OpenId: strPtr("ou_bot")}},
				},
			},
		},
	}

	msg := fromEvent(event, "ou_bot")
	require.NotNil(t, msg)
	assert.Equal(t, "om_1", msg.MsgID)
	assert.True(t, msg.IsGroup())
	assert.True(t, msg.MentionsBot)
	assert.Equal(t, "@Relay gpt hello", msg.Content)
	assert.Equal(t, "ou_alice", msg.SenderID)
	assert.Equal(t, "user", msg.SenderType)
	assert.Equal(t, int64(1700000000123), msg.CreateTime)
}

func TestFromEvent_Empty(t *testing.T) {
	assert.Nil(t, fromEvent(nil, ""))
	assert.Nil(t, fromEvent(&larkim.P2MessageReceiveV1{}, ""))
}

func TestParsePostContent(t *testing.T) {
	content := `{"title":"Q","content":[[{"tag":"at","user_id":"@_user_1"},{"tag":"text","text":" hi"}],[{"tag":"img","image_key":"k"}]]}`
	text, hasImage := parsePostContent(content, map[string]string{"@_user_1": "Relay"})
	assert.Equal(t, "Q\n@Relay hi", text)
	assert.True(t, hasImage)
}

func TestReplaceMentions(t *testing.T) {
	got := replaceMentions("@_user_1 and @_user_2", map[string]string{"@_user_1": "A", "@_user_2": "B"})
	assert.Equal(t, "@A and @B", got)
	assert.Equal(t, "plain", replaceMentions("plain", nil))
}

func TestFetchBotInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/open-apis/auth/v3/tenant_access_token/internal":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, "cli_x", body["app_id"])
			_, _ = w.Write([]byte(`{"code":0,"tenant_access_token":"t-123"}`))
		case "/open-apis/bot/v3/info":
			assert.Equal(t, "Bearer t-123", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`{"code":0,"bot":{"open_id":"ou_bot","app_name":"Relay"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient("cli_x", "secret", zerolog.Nop())
	c.SetOpenBaseURL(srv.URL)

	bot, err := c.FetchBotInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ou_bot", bot.OpenID)
	assert.Equal(t, "Relay", bot.AppName)
}

func TestFetchBotInfo_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":10003,"msg":"invalid app_secret"}`))
	}))
	defer srv.Close()

	c := NewClient("cli_x", "bad", zerolog.Nop())
	c.SetOpenBaseURL(srv.URL)

	_, err := c.FetchBotInfo(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid app_secret")
}

func newIMServer(t *testing.T, handle func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.HasPrefix(r.URL.Path, "/open-apis/auth/v3/tenant_access_token") {
			_, _ = w.Write([]byte(`{"code":0,"msg":"ok","tenant_access_token":"t-123","expire":7200}`))
			return
		}
		handle(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestChatName_NoData(t *testing.T) {
	srv := newIMServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/open-apis/im/v1/chats/oc_1", r.URL.Path)
		_, _ = w.Write([]byte(`{"code":0,"msg":"success"}`))
	})

	c := NewClient("cli_chatname", "secret", zerolog.Nop())
	c.SetOpenBaseURL(srv.URL)

	name, err := c.ChatName(context.Background(), "oc_1")
	require.NoError(t, err)
	assert.Equal(t, "", name)
}

func TestChatName(t *testing.T) {
	srv := newIMServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":0,"msg":"success","data":{"name":"Gophers"}}`))
	})

	c := NewClient("cli_chatname2", "secret", zerolog.Nop())
	c.SetOpenBaseURL(srv.URL)

	name, err := c.ChatName(context.Background(), "oc_1")
	require.NoError(t, err)
	assert.Equal(t, "Gophers", name)
}

func TestChatMembers_Paginates(t *testing.T) {
	srv := newIMServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/open-apis/im/v1/chats/oc_1/members", r.URL.Path)
		assert.Equal(t, "open_id", r.URL.Query().Get("member_id_type"))
		if r.URL.Query().Get("page_token") == "" {
			_, _ = w.Write([]byte(`{"code":0,"data":{"items":[{"member_id":"ou_alice","name":"Alice"}],"page_token":"p2","has_more":true}}`))
			return
		}
		_, _ = w.Write([]byte(`{"code":0,"data":{"items":[{"member_id":"ou_bob","name":"Bob"}],"page_token":"","has_more":false}}`))
	})

	c := NewClient("cli_members", "secret", zerolog.Nop())
	c.SetOpenBaseURL(srv.URL)

	members, err := c.ChatMembers(context.Background(), "oc_1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"ou_alice": "Alice", "ou_bob": "Bob"}, members)
}
