package data

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chatrelay/chatgpt-relay/internal/biz/domain"
	"github.com/chatrelay/chatgpt-relay/internal/biz/repo"
	"github.com/chatrelay/chatgpt-relay/internal/infra/openai"
)

// chatCompleter is the part of openai.Client the repository needs
type chatCompleter interface {
	Chat(ctx context.Context, prompt string) (string, error)
	ChatStream(ctx context.Context, prompt string, onDelta func(string)) (string, error)
}

// completionRepo implements repo.CompletionRepo on top of an OpenAI-compatible client
type completionRepo struct {
	client chatCompleter
	debug  bool
	log    zerolog.Logger
}

// NewCompletionRepo creates a completion repository
func NewCompletionRepo(client *openai.Client, debug bool, log zerolog.Logger) repo.CompletionRepo {
	return newCompletionRepo(client, debug, log)
}

func newCompletionRepo(client chatCompleter, debug bool, log zerolog.Logger) *completionRepo {
	return &completionRepo{client: client, debug: debug, log: log}
}

// SendMessage sends prompt as a new single-turn conversation.
// Continuation ids in opts are not used to look up history.
func (r *completionRepo) SendMessage(ctx context.Context, prompt string, opts domain.ConversationOptions) (*domain.Reply, error) {
	if r.debug {
		r.log.Debug().Str("prompt", prompt).Msg("sending completion request")
	}

	var (
		text string
		err  error
	)
	if opts.OnProgress != nil {
		text, err = r.client.ChatStream(ctx, prompt, opts.OnProgress)
	} else {
		text, err = r.client.Chat(ctx, prompt)
	}
	if err != nil {
		var te *openai.TimeoutError
		if errors.As(err, &te) {
			return nil, fmt.Errorf("%w: %v", domain.ErrTimedOut, err)
		}
		return nil, err
	}

	if r.debug {
		r.log.Debug().Str("reply", text).Msg("completion received")
	}

	conversationID := opts.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	return &domain.Reply{
		Text:           text,
		ConversationID: conversationID,
		MessageID:      uuid.NewString(),
	}, nil
}
