package onebot

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name       string
		message    string
		rawMessage string
		want       Parsed
	}{
		{
			name:    "plain string",
			message: `"  hello world "`,
			want:    Parsed{Text: "hello world"},
		},
		{
			name:    "cq at self",
			message: `"[CQ:at,qq=10001] ask what is go"`,
			want:    Parsed{Text: "@relay  ask what is go", MentionsSelf: true},
		},
		{
			name:    "cq at other",
			message: `"[CQ:at,qq=222,name=bob]hi"`,
			want:    Parsed{Text: "@bob hi"},
		},
		{
			name:    "cq image only",
			message: `"[CQ:image,file=a.jpg,url=http://x/a.jpg]"`,
			want:    Parsed{HasImage: true},
		},
		{
			name:    "cq escapes",
			message: `"a &#91;b&#93; &amp; c"`,
			want:    Parsed{Text: "a [b] & c"},
		},
		{
			name:    "segments with at self",
			message: `[{"type":"at","data":{"qq":"10001"}},{"type":"text","data":{"text":" gpt hi"}}]`,
			want:    Parsed{Text: "@relay  gpt hi", MentionsSelf: true},
		},
		{
			name:    "segments numeric qq",
			message: `[{"type":"at","data":{"qq":10001}},{"type":"text","data":{"text":"hi"}}]`,
			want:    Parsed{Text: "@relay hi", MentionsSelf: true},
		},
		{
			name:    "segments at all is not self",
			message: `[{"type":"at","data":{"qq":"all"}},{"type":"text","data":{"text":"hi"}}]`,
			want:    Parsed{Text: "@all hi"},
		},
		{
			name:    "segments image",
			message: `[{"type":"image","data":{"file":"a.jpg"}}]`,
			want:    Parsed{HasImage: true},
		},
		{
			name:       "falls back to raw_message",
			rawMessage: "[CQ:at,qq=10001] yo",
			want:       Parsed{Text: "@relay  yo", MentionsSelf: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var raw json.RawMessage
			if tt.message != "" {
				raw = json.RawMessage(tt.message)
			}
			got := ParseMessage(raw, tt.rawMessage, 10001, "relay")
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseMessage_SelfWithoutName(t *testing.T) {
	got := ParseMessage(json.RawMessage(`"[CQ:at,qq=10001]hi"`), "", 10001, "")
	assert.Equal(t, "@10001 hi", got.Text)
	assert.True(t, got.MentionsSelf)
}

func TestParseMessage_UnknownSelf(t *testing.T) {
	got := ParseMessage(json.RawMessage(`"[CQ:at,qq=0]hi"`), "", 0, "")
	assert.False(t, got.MentionsSelf)
}

func TestStatusUnmarshal(t *testing.T) {
	var s status
	assert.NoError(t, json.Unmarshal([]byte(`"scanned"`), &s))
	assert.Equal(t, "scanned", s.Text)

	assert.NoError(t, json.Unmarshal([]byte(`{"online":true,"good":false}`), &s))
	assert.True(t, s.Online)
	assert.Equal(t, "", s.Text)
}
