package data

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/chatrelay/chatgpt-relay/internal/biz/repo"
	"github.com/chatrelay/chatgpt-relay/internal/conf"
	"github.com/chatrelay/chatgpt-relay/internal/infra/feishu"
	"github.com/chatrelay/chatgpt-relay/internal/infra/onebot"
	"github.com/chatrelay/chatgpt-relay/internal/infra/openai"
)

// Repositories contains all repositories
type Repositories struct {
	Completion repo.CompletionRepo
	Transport  repo.ChatTransport
	Seen       repo.SeenRepo
}

// NewRepositories creates all repositories from configuration
func NewRepositories(cfg *conf.Config, log zerolog.Logger) (*Repositories, error) {
	seen, err := NewSeenRepo(cfg.CacheOptions)
	if err != nil {
		return nil, err
	}

	transport, err := NewTransport(cfg.Transport, log)
	if err != nil {
		_ = seen.Close()
		return nil, err
	}

	return &Repositories{
		Completion: NewCompletionRepo(NewOpenAIClient(cfg), cfg.ChatGPTClient.Debug, log.With().Str("component", "completion").Logger()),
		Transport:  transport,
		Seen:       seen,
	}, nil
}

// NewOpenAIClient builds the AI client from configuration
func NewOpenAIClient(cfg *conf.Config) *openai.Client {
	cc := cfg.ChatGPTClient
	return openai.NewClient(openai.Options{
		APIKey:           cfg.APIKey,
		BaseURL:          cc.BaseURL,
		Model:            cc.Model,
		Temperature:      cc.Temperature,
		TopP:             cc.TopP,
		MaxTokens:        cc.MaxTokens,
		PresencePenalty:  cc.PresencePenalty,
		FrequencyPenalty: cc.FrequencyPenalty,
		PromptPrefix:     cc.PromptPrefix,
		UserLabel:        cc.UserLabel,
		ChatGPTLabel:     cc.ChatGPTLabel,
		Timeout:          cc.GetTimeout(),
	})
}

// NewSeenRepo creates the seen-message ledger selected by cache_options.store
func NewSeenRepo(cfg conf.CacheConfig) (repo.SeenRepo, error) {
	switch cfg.Store {
	case conf.CacheStoreMemory, "":
		return NewMemorySeenRepo(), nil
	case conf.CacheStoreSQLite:
		return NewSQLiteSeenRepo(cfg.Path, cfg.Namespace)
	default:
		return nil, fmt.Errorf("unknown cache store %q", cfg.Store)
	}
}

// NewTransport creates the chat transport selected by transport.kind
func NewTransport(cfg conf.TransportConfig, log zerolog.Logger) (repo.ChatTransport, error) {
	tlog := log.With().Str("component", "transport").Str("transport", cfg.Kind).Logger()

	switch cfg.Kind {
	case conf.TransportOneBot:
		ob := cfg.OneBot
		client := onebot.NewClient(onebot.Config{
			WSURL:             ob.WSURL,
			HTTPURL:           ob.HTTPURL,
			AccessToken:       ob.AccessToken,
			ReconnectInterval: time.Duration(ob.ReconnectInterval) * time.Second,
			ActionTimeout:     ob.GetActionTimeout(),
		}, tlog)
		return NewOneBotTransport(client, tlog), nil
	case conf.TransportFeishu:
		client := feishu.NewClient(cfg.Feishu.AppID, cfg.Feishu.AppSecret, tlog)
		return NewFeishuTransport(client, tlog), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Kind)
	}
}
