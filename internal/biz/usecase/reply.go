package usecase

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/chatrelay/chatgpt-relay/internal/biz/domain"
	"github.com/chatrelay/chatgpt-relay/internal/biz/repo"
)

const (
	// EchoSeparator sits between the echoed prompt and the reply
	EchoSeparator = "\n-----------\n"

	// TimeoutNotice is sent below the prompt when the AI backend times out
	TimeoutNotice = "ERROR: Please try again, ChatGPT timed out for waiting response."
)

// ReplyConfig contains reply formatting options
type ReplyConfig struct {
	PrivateReplyMode bool // Echo the prompt above private replies
	GroupReplyMode   bool // Echo the prompt above group replies
}

// ReplyUsecase asks the AI backend and sends the answer to a target
type ReplyUsecase struct {
	completion repo.CompletionRepo
	cfg        ReplyConfig
	log        zerolog.Logger
}

// NewReplyUsecase creates a new reply usecase
func NewReplyUsecase(completion repo.CompletionRepo, cfg ReplyConfig, log zerolog.Logger) *ReplyUsecase {
	return &ReplyUsecase{completion: completion, cfg: cfg, log: log}
}

// Reply sends prompt to the AI backend as a new conversation and delivers the
// answer to target. An empty prompt does nothing. AI failures are logged; a
// timeout additionally sends a notice. Only a failed send is returned.
func (uc *ReplyUsecase) Reply(ctx context.Context, target domain.Target, prompt string) error {
	if prompt == "" {
		return nil
	}

	reply, err := uc.completion.SendMessage(ctx, prompt, domain.ConversationOptions{})
	if err != nil {
		uc.log.Error().Err(err).Str("target", target.ID()).Msg("AI request failed")
		if !domain.IsTimeout(err) {
			return nil
		}
		return uc.say(ctx, target, prompt+EchoSeparator+TimeoutNotice)
	}

	text := reply.Text
	if uc.echoes(target) {
		text = prompt + EchoSeparator + reply.Text
	}
	return uc.say(ctx, target, text)
}

// echoes reports whether replies to target repeat the prompt
func (uc *ReplyUsecase) echoes(target domain.Target) bool {
	if domain.IsGroup(target) {
		return uc.cfg.GroupReplyMode
	}
	return uc.cfg.PrivateReplyMode
}

func (uc *ReplyUsecase) say(ctx context.Context, target domain.Target, text string) error {
	if err := target.Say(ctx, text); err != nil {
		uc.log.Error().Err(err).Str("target", target.ID()).Msg("failed to send reply")
		return fmt.Errorf("send reply to %s: %w", target.ID(), err)
	}
	return nil
}
