// Package openai wraps go-openai for single-turn chat completions.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// ErrNoChoices is returned when the backend answers without any choice.
var ErrNoChoices = errors.New("no response choices")

const defaultModel = openai.GPT3Dot5Turbo

// Options configures the client
type Options struct {
	APIKey           string
	BaseURL          string
	Model            string
	Temperature      float32
	TopP             float32
	MaxTokens        int
	PresencePenalty  float32
	FrequencyPenalty float32
	PromptPrefix     string
	UserLabel        string
	ChatGPTLabel     string
	Timeout          time.Duration
}

// Client is a chat completion client for OpenAI-compatible endpoints
type Client struct {
	client  *openai.Client
	opts    Options
	now     func() time.Time
	timeout time.Duration
}

// NewClient creates a new client
func NewClient(opts Options) *Client {
	if opts.Model == "" {
		opts.Model = defaultModel
	}

	config := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		config.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &Client{
		client:  openai.NewClientWithConfig(config),
		opts:    opts,
		now:     time.Now,
		timeout: timeout,
	}
}

// Model returns the configured model name
func (c *Client) Model() string {
	return c.opts.Model
}

// SystemPrompt builds the system message sent ahead of every prompt
func (c *Client) SystemPrompt() string {
	prompt := c.opts.PromptPrefix
	if prompt == "" {
		prompt = fmt.Sprintf("You are ChatGPT, a large language model trained by OpenAI. Respond conversationally.\nCurrent date: %s",
			c.now().Format("2006-01-02"))
	}

	var labels []string
	if c.opts.UserLabel != "" {
		labels = append(labels, fmt.Sprintf("The user is called %q.", c.opts.UserLabel))
	}
	if c.opts.ChatGPTLabel != "" {
		labels = append(labels, fmt.Sprintf("You are called %q.", c.opts.ChatGPTLabel))
	}
	if len(labels) > 0 {
		prompt += "\n" + strings.Join(labels, " ")
	}
	return prompt
}

func (c *Client) request(prompt string, stream bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: c.opts.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: c.SystemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature:      c.opts.Temperature,
		TopP:             c.opts.TopP,
		MaxTokens:        c.opts.MaxTokens,
		PresencePenalty:  c.opts.PresencePenalty,
		FrequencyPenalty: c.opts.FrequencyPenalty,
		Stream:           stream,
	}
}

// Chat sends prompt as a fresh conversation and returns the reply text
func (c *Client) Chat(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, c.request(prompt, false))
	if err != nil {
		return "", c.wrap(ctx, err)
	}

	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}

	return resp.Choices[0].Message.Content, nil
}

// ChatStream is like Chat but streams the reply, calling onDelta with every chunk
func (c *Client) ChatStream(ctx context.Context, prompt string, onDelta func(string)) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	stream, err := c.client.CreateChatCompletionStream(ctx, c.request(prompt, true))
	if err != nil {
		return "", c.wrap(ctx, err)
	}
	defer stream.Close()

	var sb strings.Builder
	received := false
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", c.wrap(ctx, err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		received = true
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		sb.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	}

	if !received {
		return "", ErrNoChoices
	}
	return sb.String(), nil
}

// TimeoutError reports that the backend did not answer within the deadline
type TimeoutError struct {
	After time.Duration
	Err   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("chat completion timed out after %s: %v", e.After, e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

func (c *Client) wrap(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{After: c.timeout, Err: err}
	}
	return fmt.Errorf("chat completion: %w", err)
}
