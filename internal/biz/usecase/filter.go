package usecase

import (
	"regexp"
	"strings"
	"sync"
)

// FilterConfig contains the keyword gating rules
type FilterConfig struct {
	AutoReply  bool
	PrivateKey string
	GroupKey   string
}

// FilterUsecase decides whether message content becomes a prompt
type FilterUsecase struct {
	cfg FilterConfig

	// Group patterns depend on the receiver name, which is only known per message
	patterns sync.Map // receiver name -> *regexp.Regexp
}

// NewFilterUsecase creates a new filter usecase
func NewFilterUsecase(cfg FilterConfig) *FilterUsecase {
	return &FilterUsecase{cfg: cfg}
}

// AutoReply returns whether private auto-reply is enabled
func (uc *FilterUsecase) AutoReply() bool {
	return uc.cfg.AutoReply
}

// groupPattern matches "@<receiver> <group key>" at the start of content.
// \p{Zs} lets the U+2005 space chat clients put after mentions count as whitespace.
func (uc *FilterUsecase) groupPattern(receiverName string) *regexp.Regexp {
	if re, ok := uc.patterns.Load(receiverName); ok {
		return re.(*regexp.Regexp)
	}
	re := regexp.MustCompile(`^@` + regexp.QuoteMeta(receiverName) +
		`[\s\p{Zs}]+` + regexp.QuoteMeta(uc.cfg.GroupKey) + `[\s\p{Zs}]*`)
	actual, _ := uc.patterns.LoadOrStore(receiverName, re)
	return actual.(*regexp.Regexp)
}

// GroupPrompt returns the prompt for a group message that mentioned receiverName.
// Content matching "@<receiver> <group key>" is out of scope; any other content
// is dispatched with the leading mention removed.
func (uc *FilterUsecase) GroupPrompt(receiverName, content string) (string, bool) {
	re := uc.groupPattern(receiverName)
	if re.MatchString(content) {
		return "", false
	}

	prompt := re.ReplaceAllString(content, "")
	prompt = strings.TrimPrefix(prompt, "@"+receiverName)
	return strings.TrimSpace(prompt), true
}

// PrivatePrompt returns the prompt for a private message. Content is passed on
// unchanged when auto-reply is on and it starts with the private key, or no key is set.
func (uc *FilterUsecase) PrivatePrompt(content string) (string, bool) {
	if !uc.cfg.AutoReply {
		return "", false
	}
	if uc.cfg.PrivateKey != "" && !strings.HasPrefix(content, uc.cfg.PrivateKey) {
		return "", false
	}
	return content, true
}
