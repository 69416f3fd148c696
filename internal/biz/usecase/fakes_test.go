package usecase

import (
	"context"
	"sync"

	"github.com/chatrelay/chatgpt-relay/internal/biz/domain"
)

type mockCompletionRepo struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
	opts    []domain.ConversationOptions
}

func (m *mockCompletionRepo) SendMessage(ctx context.Context, prompt string, opts domain.ConversationOptions) (*domain.Reply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	m.opts = append(m.opts, opts)
	if m.err != nil {
		return nil, m.err
	}
	return &domain.Reply{Text: m.reply, ConversationID: "c", MessageID: "m"}, nil
}

func (m *mockCompletionRepo) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

type mockContact struct {
	id     string
	sayErr error
	said   []string
}

func (c *mockContact) ID() string    { return c.id }
func (c *mockContact) Name() string  { return c.id }
func (c *mockContact) Alias() string { return "" }

func (c *mockContact) Say(ctx context.Context, text string) error {
	c.said = append(c.said, text)
	return c.sayErr
}

type mockRoom struct {
	mockContact
}

func (r *mockRoom) Topic(ctx context.Context) (string, error) { return "room " + r.id, nil }
