package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chatrelay/chatgpt-relay/internal/biz/domain"
)

type mockCompletionRepo struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
}

func (m *mockCompletionRepo) SendMessage(ctx context.Context, prompt string, opts domain.ConversationOptions) (*domain.Reply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	if m.err != nil {
		return nil, m.err
	}
	return &domain.Reply{Text: m.reply}, nil
}

type mockContact struct {
	id    string
	name  string
	alias string
	said  []string
}

func (c *mockContact) ID() string    { return c.id }
func (c *mockContact) Name() string  { return c.name }
func (c *mockContact) Alias() string { return c.alias }

func (c *mockContact) Say(ctx context.Context, text string) error {
	c.said = append(c.said, text)
	return nil
}

type mockRoom struct {
	id    string
	topic string
	said  []string
}

func (r *mockRoom) ID() string { return r.id }

func (r *mockRoom) Say(ctx context.Context, text string) error {
	r.said = append(r.said, text)
	return nil
}

func (r *mockRoom) Topic(ctx context.Context) (string, error) {
	if r.topic == "" {
		return "", errors.New("unknown group")
	}
	return r.topic, nil
}

type mockSeenRepo struct {
	mu     sync.Mutex
	ids    map[string]time.Time
	err    error
	pruned []time.Time
}

func newMockSeenRepo() *mockSeenRepo {
	return &mockSeenRepo{ids: make(map[string]time.Time)}
}

func (m *mockSeenRepo) MarkSeen(ctx context.Context, msgID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.ids[msgID]; ok {
		return true, nil
	}
	m.ids[msgID] = at
	return false, nil
}

func (m *mockSeenRepo) Prune(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruned = append(m.pruned, before)
	var n int64
	for id, at := range m.ids {
		if at.Before(before) {
			delete(m.ids, id)
			n++
		}
	}
	return n, nil
}

func (m *mockSeenRepo) Close() error { return nil }

type mockFriendship struct {
	typ      domain.FriendshipType
	hello    string
	accepted int
	err      error
}

func (f *mockFriendship) Type() domain.FriendshipType { return f.typ }
func (f *mockFriendship) Hello() string               { return f.hello }
func (f *mockFriendship) Contact() domain.Contact     { return &mockContact{id: "u9", name: "newbie"} }

func (f *mockFriendship) Accept(ctx context.Context) error {
	f.accepted++
	return f.err
}
