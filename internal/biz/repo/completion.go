package repo

import (
	"context"

	"github.com/chatrelay/chatgpt-relay/internal/biz/domain"
)

// CompletionRepo is the conversational-AI backend interface
type CompletionRepo interface {
	// SendMessage sends prompt to the backend and returns the generated reply.
	// Errors that represent a timeout satisfy domain.IsTimeout.
	SendMessage(ctx context.Context, prompt string, opts domain.ConversationOptions) (*domain.Reply, error)
}
