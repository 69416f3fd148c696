package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/chatrelay/chatgpt-relay/internal/biz/usecase"
)

// DefaultSettingsPath is used when no --settings flag is given
const DefaultSettingsPath = "./settings.yaml"

// ErrSettingsNotFound is returned by Load when the settings file does not exist
var ErrSettingsNotFound = errors.New("settings file does not exist")

// Transport kinds
const (
	TransportOneBot = "onebot"
	TransportFeishu = "feishu"
)

// Cache stores
const (
	CacheStoreMemory = "memory"
	CacheStoreSQLite = "sqlite"
)

// Config represents application configuration
type Config struct {
	// OpenAI credentials
	APIKey string `mapstructure:"api_key" yaml:"api_key"`

	// AI client options
	ChatGPTClient ChatGPTClientConfig `mapstructure:"chatgpt_client" yaml:"chatgpt_client"`

	// Seen-message ledger options
	CacheOptions CacheConfig `mapstructure:"cache_options" yaml:"cache_options"`

	// Reply behaviour
	AutoReply        bool   `mapstructure:"auto_reply" yaml:"auto_reply"`
	PrivateReplyMode bool   `mapstructure:"private_reply_mode" yaml:"private_reply_mode"` // Echo the prompt above private replies
	GroupReplyMode   bool   `mapstructure:"group_reply_mode" yaml:"group_reply_mode"`     // Echo the prompt above group replies
	PrivateKey       string `mapstructure:"private_key" yaml:"private_key"`
	GroupKey         string `mapstructure:"group_key" yaml:"group_key"`
	FriendshipRule   string `mapstructure:"friendship_rule" yaml:"friendship_rule"` // Regexp; empty disables auto-accept

	// Exit the process when initialization fails instead of idling
	ExitOnInitError bool `mapstructure:"exit_on_init_error" yaml:"exit_on_init_error"`

	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`

	friendshipPattern *regexp.Regexp
}

// ChatGPTClientConfig contains AI client options
type ChatGPTClientConfig struct {
	BaseURL          string  `mapstructure:"base_url" yaml:"base_url"` // Reverse proxy or OpenAI-compatible endpoint
	Model            string  `mapstructure:"model" yaml:"model"`
	Temperature      float32 `mapstructure:"temperature" yaml:"temperature"`
	TopP             float32 `mapstructure:"top_p" yaml:"top_p"`
	MaxTokens        int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	PresencePenalty  float32 `mapstructure:"presence_penalty" yaml:"presence_penalty"`
	FrequencyPenalty float32 `mapstructure:"frequency_penalty" yaml:"frequency_penalty"`
	PromptPrefix     string  `mapstructure:"prompt_prefix" yaml:"prompt_prefix"`
	UserLabel        string  `mapstructure:"user_label" yaml:"user_label"`
	ChatGPTLabel     string  `mapstructure:"chatgpt_label" yaml:"chatgpt_label"`
	Timeout          string  `mapstructure:"timeout" yaml:"timeout"`
	Debug            bool    `mapstructure:"debug" yaml:"debug"`
}

// GetTimeout parses Timeout, defaulting to 2 minutes
func (c *ChatGPTClientConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 2*time.Minute)
}

// CacheConfig contains seen-message ledger configuration
type CacheConfig struct {
	Store     string `mapstructure:"store" yaml:"store"` // memory, sqlite
	Path      string `mapstructure:"path" yaml:"path"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
	TTL       string `mapstructure:"ttl" yaml:"ttl"`
}

// GetTTL parses TTL, defaulting to 10 minutes
func (c *CacheConfig) GetTTL() time.Duration {
	return parseDuration(c.TTL, 10*time.Minute)
}

// TransportConfig selects and configures the chat transport
type TransportConfig struct {
	Kind   string       `mapstructure:"kind" yaml:"kind"`
	Name   string       `mapstructure:"name" yaml:"name"` // Bot instance name, shown in logs
	OneBot OneBotConfig `mapstructure:"onebot" yaml:"onebot"`
	Feishu FeishuConfig `mapstructure:"feishu" yaml:"feishu"`
}

// OneBotConfig contains OneBot gateway configuration
type OneBotConfig struct {
	WSURL             string `mapstructure:"ws_url" yaml:"ws_url"`
	HTTPURL           string `mapstructure:"http_url" yaml:"http_url"` // Optional; actions use the HTTP API when set
	AccessToken       string `mapstructure:"access_token" yaml:"access_token"`
	ReconnectInterval int    `mapstructure:"reconnect_interval" yaml:"reconnect_interval"` // Seconds, 0 disables reconnect
	ActionTimeout     string `mapstructure:"action_timeout" yaml:"action_timeout"`
}

// GetActionTimeout parses ActionTimeout, defaulting to 8 seconds
func (c *OneBotConfig) GetActionTimeout() time.Duration {
	return parseDuration(c.ActionTimeout, 8*time.Second)
}

// FeishuConfig contains Feishu configuration
type FeishuConfig struct {
	AppID     string `mapstructure:"app_id" yaml:"app_id"`
	AppSecret string `mapstructure:"app_secret" yaml:"app_secret"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // console, json
	File   string `mapstructure:"file" yaml:"file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_key", "")

	v.SetDefault("chatgpt_client.base_url", "")
	v.SetDefault("chatgpt_client.model", "gpt-3.5-turbo")
	v.SetDefault("chatgpt_client.temperature", 0.8)
	v.SetDefault("chatgpt_client.top_p", 1)
	v.SetDefault("chatgpt_client.max_tokens", 0)
	v.SetDefault("chatgpt_client.presence_penalty", 1)
	v.SetDefault("chatgpt_client.frequency_penalty", 0)
	v.SetDefault("chatgpt_client.prompt_prefix", "")
	v.SetDefault("chatgpt_client.user_label", "")
	v.SetDefault("chatgpt_client.chatgpt_label", "")
	v.SetDefault("chatgpt_client.timeout", "2m")
	v.SetDefault("chatgpt_client.debug", false)

	v.SetDefault("cache_options.store", CacheStoreMemory)
	v.SetDefault("cache_options.path", defaultCachePath())
	v.SetDefault("cache_options.namespace", "chatgpt-relay")
	v.SetDefault("cache_options.ttl", "10m")

	v.SetDefault("auto_reply", true)
	v.SetDefault("private_reply_mode", false)
	v.SetDefault("group_reply_mode", true)
	v.SetDefault("private_key", "")
	v.SetDefault("group_key", "")
	v.SetDefault("friendship_rule", "")
	v.SetDefault("exit_on_init_error", false)

	v.SetDefault("transport.kind", TransportOneBot)
	v.SetDefault("transport.name", "WechatEveryDay")
	v.SetDefault("transport.onebot.ws_url", "ws://127.0.0.1:3001")
	v.SetDefault("transport.onebot.http_url", "")
	v.SetDefault("transport.onebot.access_token", "")
	v.SetDefault("transport.onebot.reconnect_interval", 5)
	v.SetDefault("transport.onebot.action_timeout", "8s")
	v.SetDefault("transport.feishu.app_id", "")
	v.SetDefault("transport.feishu.app_secret", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
}

// Load loads the settings file at path.
// Priority: RELAY_* environment > settings file > defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSettingsNotFound, path)
		}
		return nil, fmt.Errorf("stat settings: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	if ext := filepath.Ext(path); ext == "" {
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}

	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if err := cfg.compile(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when every key is left at its default
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults are static, decoding them cannot fail
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func (c *Config) compile() error {
	if c.FriendshipRule == "" {
		c.friendshipPattern = nil
		return nil
	}
	re, err := regexp.Compile(c.FriendshipRule)
	if err != nil {
		return &ConfigError{Field: "friendship_rule", Message: err.Error()}
	}
	c.friendshipPattern = re
	return nil
}

// FriendshipPattern returns the compiled friend-request rule, nil when none is configured
func (c *Config) FriendshipPattern() *regexp.Regexp {
	if c.friendshipPattern == nil && c.FriendshipRule != "" {
		// Config built in code rather than through Load
		if re, err := regexp.Compile(c.FriendshipRule); err == nil {
			c.friendshipPattern = re
		}
	}
	return c.friendshipPattern
}

// ToReplyConfig converts to reply dispatcher configuration
func (c *Config) ToReplyConfig() usecase.ReplyConfig {
	return usecase.ReplyConfig{
		PrivateReplyMode: c.PrivateReplyMode,
		GroupReplyMode:   c.GroupReplyMode,
	}
}

// ToFilterConfig converts to message filter configuration
func (c *Config) ToFilterConfig() usecase.FilterConfig {
	return usecase.FilterConfig{
		AutoReply:  c.AutoReply,
		PrivateKey: c.PrivateKey,
		GroupKey:   c.GroupKey,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return &ConfigError{Field: "api_key/OPENAI_API_KEY", Message: "required"}
	}

	switch c.Transport.Kind {
	case TransportOneBot:
		if c.Transport.OneBot.WSURL == "" {
			return &ConfigError{Field: "transport.onebot.ws_url", Message: "required"}
		}
	case TransportFeishu:
		if c.Transport.Feishu.AppID == "" || c.Transport.Feishu.AppSecret == "" {
			return &ConfigError{Field: "transport.feishu.app_id/app_secret", Message: "required"}
		}
	default:
		return &ConfigError{Field: "transport.kind", Message: fmt.Sprintf("unknown transport %q", c.Transport.Kind)}
	}

	switch c.CacheOptions.Store {
	case CacheStoreMemory:
	case CacheStoreSQLite:
		if c.CacheOptions.Path == "" {
			return &ConfigError{Field: "cache_options.path", Message: "required for sqlite store"}
		}
	default:
		return &ConfigError{Field: "cache_options.store", Message: fmt.Sprintf("unknown store %q", c.CacheOptions.Store)}
	}

	return c.compile()
}

// Redacted returns a copy with secrets masked, for display
func (c *Config) Redacted() *Config {
	cp := *c
	cp.APIKey = mask(cp.APIKey)
	cp.Transport.OneBot.AccessToken = mask(cp.Transport.OneBot.AccessToken)
	cp.Transport.Feishu.AppSecret = mask(cp.Transport.Feishu.AppSecret)
	return &cp
}

// SaveTo writes cfg to path as YAML
func SaveTo(cfg *Config, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create settings dir: %w", err)
		}
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	// 0600: the file holds the API key
	return os.WriteFile(path, data, 0600)
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

func defaultCachePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "chatgpt-relay", "seen.db")
	}
	return filepath.Join(homeDir, ".chatgpt-relay", "seen.db")
}
