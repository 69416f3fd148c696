package onebot

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var cqPattern = regexp.MustCompile(`\[CQ:([a-zA-Z0-9_]+)(?:,([^\]]*))?\]`)

var cqUnescaper = strings.NewReplacer("&#91;", "[", "&#93;", "]", "&#44;", ",", "&amp;", "&")

// Parsed is the text rendering of a message
type Parsed struct {
	Text         string
	MentionsSelf bool
	HasImage     bool
}

// mention renders @-mentions the way chat clients display them
type mention struct {
	selfID   string
	selfName string
}

func (m mention) render(qq, name string) (string, bool) {
	if m.selfID != "" && m.selfID != "0" && qq == m.selfID {
		if m.selfName != "" {
			return "@" + m.selfName + " ", true
		}
		return "@" + qq + " ", true
	}
	if name != "" {
		return "@" + name + " ", false
	}
	return "@" + qq + " ", false
}

// ParseMessage renders a message body, which is either a CQ-code string or a
// segment array, into plain text. Mentions of selfID are rendered as @selfName.
func ParseMessage(raw json.RawMessage, rawMessage string, selfID int64, selfName string) Parsed {
	m := mention{selfID: strconv.FormatInt(selfID, 10), selfName: selfName}

	if len(raw) > 0 {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return parseCQ(s, m)
		}

		var segments []struct {
			Type string         `json:"type"`
			Data map[string]any `json:"data"`
		}
		if err := json.Unmarshal(raw, &segments); err == nil {
			var sb strings.Builder
			var p Parsed
			for _, seg := range segments {
				switch seg.Type {
				case "text":
					sb.WriteString(dataString(seg.Data["text"]))
				case "at":
					text, self := m.render(dataString(seg.Data["qq"]), dataString(seg.Data["name"]))
					sb.WriteString(text)
					p.MentionsSelf = p.MentionsSelf || self
				case "image":
					p.HasImage = true
				}
			}
			p.Text = strings.TrimSpace(sb.String())
			return p
		}
	}

	return parseCQ(rawMessage, m)
}

func parseCQ(content string, m mention) Parsed {
	matches := cqPattern.FindAllStringSubmatchIndex(content, -1)
	if len(matches) == 0 {
		return Parsed{Text: strings.TrimSpace(cqUnescaper.Replace(content))}
	}

	var sb strings.Builder
	var p Parsed
	cursor := 0
	for _, loc := range matches {
		if loc[0] > cursor {
			sb.WriteString(cqUnescaper.Replace(content[cursor:loc[0]]))
		}

		segType := content[loc[2]:loc[3]]
		paramsRaw := ""
		if loc[4] >= 0 {
			paramsRaw = content[loc[4]:loc[5]]
		}
		params := parseCQParams(paramsRaw)

		switch segType {
		case "at":
			text, self := m.render(params["qq"], params["name"])
			sb.WriteString(text)
			p.MentionsSelf = p.MentionsSelf || self
		case "image":
			p.HasImage = true
		}
		cursor = loc[1]
	}
	if cursor < len(content) {
		sb.WriteString(cqUnescaper.Replace(content[cursor:]))
	}

	p.Text = strings.TrimSpace(sb.String())
	return p
}

func parseCQParams(params string) map[string]string {
	result := make(map[string]string)
	if params == "" {
		return result
	}

	for _, item := range strings.Split(params, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(item), "=")
		if !ok || key == "" {
			continue
		}
		result[strings.TrimSpace(key)] = cqUnescaper.Replace(strings.TrimSpace(value))
	}
	return result
}

func dataString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}
