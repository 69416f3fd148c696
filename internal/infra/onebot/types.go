package onebot

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Post types
const (
	PostMessage     = "message"
	PostMessageSent = "message_sent"
	PostRequest     = "request"
	PostNotice      = "notice"
	PostMetaEvent   = "meta_event"
)

// Meta event types. MetaQRCode is a gateway extension carrying login QR codes.
const (
	MetaLifecycle = "lifecycle"
	MetaHeartbeat = "heartbeat"
	MetaQRCode    = "qrcode"
)

// rawEvent is a frame as received from the gateway. API responses share the
// frame shape and are told apart by a non-empty echo.
type rawEvent struct {
	PostType      string          `json:"post_type"`
	MessageType   string          `json:"message_type"`
	SubType       string          `json:"sub_type"`
	MetaEventType string          `json:"meta_event_type"`
	RequestType   string          `json:"request_type"`
	MessageID     json.RawMessage `json:"message_id"`
	UserID        json.RawMessage `json:"user_id"`
	GroupID       json.RawMessage `json:"group_id"`
	SelfID        json.RawMessage `json:"self_id"`
	Time          json.RawMessage `json:"time"`
	RawMessage    string          `json:"raw_message"`
	Message       json.RawMessage `json:"message"`
	Sender        json.RawMessage `json:"sender"`
	Comment       string          `json:"comment"`
	Flag          string          `json:"flag"`
	QRCode        string          `json:"qrcode"`
	Status        status          `json:"status"`
	Echo          string          `json:"echo"`
}

// status is either an object (heartbeat) or a string (API responses, qrcode events)
type status struct {
	Online bool
	Good   bool
	Text   string
}

func (s *status) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*s = status{}
		return nil
	}

	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*s = status{Text: strings.TrimSpace(text)}
		return nil
	}

	var obj struct {
		Online bool `json:"online"`
		Good   bool `json:"good"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*s = status{Online: obj.Online, Good: obj.Good}
	return nil
}

// Sender is the sender block of a message event
type Sender struct {
	UserID   int64  `json:"-"`
	Nickname string `json:"nickname"`
	Card     string `json:"card"` // Group card, set only in groups
}

// Event is a normalized gateway event
type Event struct {
	PostType      string
	MessageType   string // private, group
	SubType       string
	MetaEventType string
	RequestType   string // friend, group

	MessageID  string
	UserID     int64
	GroupID    int64
	SelfID     int64
	Time       time.Time
	Message    json.RawMessage
	RawMessage string
	Sender     Sender

	Comment string // Friend request greeting
	Flag    string // Friend request handle

	QRCode string
	Status string
}

// IsGroup reports whether a message event came from a group
func (e *Event) IsGroup() bool {
	return e.MessageType == "group"
}

func (r *rawEvent) normalize() (*Event, error) {
	userID, err := parseJSONInt64(r.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	groupID, _ := parseJSONInt64(r.GroupID)
	selfID, _ := parseJSONInt64(r.SelfID)
	ts, _ := parseJSONInt64(r.Time)

	ev := &Event{
		PostType:      r.PostType,
		MessageType:   r.MessageType,
		SubType:       r.SubType,
		MetaEventType: r.MetaEventType,
		RequestType:   r.RequestType,
		MessageID:     parseJSONString(r.MessageID),
		UserID:        userID,
		GroupID:       groupID,
		SelfID:        selfID,
		Message:       r.Message,
		RawMessage:    r.RawMessage,
		Comment:       r.Comment,
		Flag:          r.Flag,
		QRCode:        r.QRCode,
		Status:        r.Status.Text,
	}
	if ts > 0 {
		ev.Time = time.Unix(ts, 0)
	}

	if len(r.Sender) > 0 {
		var s struct {
			UserID   json.RawMessage `json:"user_id"`
			Nickname string          `json:"nickname"`
			Card     string          `json:"card"`
		}
		if err := json.Unmarshal(r.Sender, &s); err != nil {
			return nil, fmt.Errorf("parse sender: %w", err)
		}
		ev.Sender = Sender{Nickname: s.Nickname, Card: s.Card}
		ev.Sender.UserID, _ = parseJSONInt64(s.UserID)
	}
	if ev.Sender.UserID == 0 {
		ev.Sender.UserID = userID
	}
	return ev, nil
}

// APIRequest is an action call frame
type APIRequest struct {
	Action string `json:"action"`
	Params any    `json:"params"`
	Echo   string `json:"echo,omitempty"`
}

// APIResponse is the reply to an action call
type APIResponse struct {
	Status  string          `json:"status"`
	RetCode json.RawMessage `json:"retcode"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Wording string          `json:"wording"`
	Echo    string          `json:"echo"`
}

// Err converts a failed response into an error
func (r *APIResponse) Err(action string) error {
	code, _ := parseJSONInt64(r.RetCode)
	if r.Status != "failed" && code == 0 {
		return nil
	}
	msg := r.Wording
	if msg == "" {
		msg = r.Message
	}
	return &ActionError{Action: action, RetCode: code, Message: msg}
}

// ActionError is returned when the gateway rejects an action
type ActionError struct {
	Action  string
	RetCode int64
	Message string
}

func (e *ActionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("onebot %s failed: retcode=%d", e.Action, e.RetCode)
	}
	return fmt.Sprintf("onebot %s failed: retcode=%d: %s", e.Action, e.RetCode, e.Message)
}

// LoginInfo is the data of get_login_info
type LoginInfo struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
}

// GroupInfo is the data of get_group_info
type GroupInfo struct {
	GroupID   int64  `json:"group_id"`
	GroupName string `json:"group_name"`
}

func parseJSONInt64(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}

	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return 0, nil
		}
		return strconv.ParseInt(s, 10, 64)
	}
	return 0, fmt.Errorf("cannot parse as int64: %s", string(raw))
}

func parseJSONString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
