package service

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/chatrelay/chatgpt-relay/internal/biz/domain"
	"github.com/chatrelay/chatgpt-relay/internal/biz/repo"
	"github.com/chatrelay/chatgpt-relay/internal/biz/usecase"
)

// RouterService decides which incoming messages reach the AI backend
type RouterService struct {
	replyUC   *usecase.ReplyUsecase
	filterUC  *usecase.FilterUsecase
	seen      repo.SeenRepo
	startTime time.Time
	log       zerolog.Logger
	now       func() time.Time
}

// NewRouterService creates a new router. Messages created before startTime are dropped.
// seen may be nil to disable duplicate suppression.
func NewRouterService(
	replyUC *usecase.ReplyUsecase,
	filterUC *usecase.FilterUsecase,
	seen repo.SeenRepo,
	startTime time.Time,
	log zerolog.Logger,
) *RouterService {
	return &RouterService{
		replyUC:   replyUC,
		filterUC:  filterUC,
		seen:      seen,
		startTime: startTime,
		log:       log,
		now:       time.Now,
	}
}

// HandleMessage routes one incoming message
func (s *RouterService) HandleMessage(ctx context.Context, msg *domain.Message) {
	// Backlog delivered after login
	if msg.IsBefore(s.startTime) {
		return
	}
	if msg.IsSelf {
		return
	}
	if s.isDuplicate(ctx, msg) {
		s.log.Debug().Str("msg_id", msg.ID).Msg("duplicate message ignored")
		return
	}

	content := strings.TrimSpace(msg.Text)

	if msg.InRoom() {
		s.handleGroup(ctx, msg, content)
		return
	}
	if msg.IsText() {
		s.handlePrivate(ctx, msg, content)
	}
}

func (s *RouterService) isDuplicate(ctx context.Context, msg *domain.Message) bool {
	if s.seen == nil || msg.ID == "" {
		return false
	}
	seen, err := s.seen.MarkSeen(ctx, msg.ID, s.now())
	if err != nil {
		s.log.Warn().Err(err).Str("msg_id", msg.ID).Msg("seen ledger unavailable")
		return false
	}
	return seen
}

func (s *RouterService) handleGroup(ctx context.Context, msg *domain.Message, content string) {
	if !msg.IsText() {
		s.log.Debug().Str("msg_id", msg.ID).Str("type", string(msg.Type)).Msg("non-text group message")
		return
	}

	topic, err := msg.Room.Topic(ctx)
	if err != nil {
		s.log.Warn().Err(err).Str("room", msg.Room.ID()).Msg("failed to get group topic")
	}
	s.log.Info().
		Str("group", topic).
		Str("sender", domain.DisplayName(msg.Talker)).
		Str("content", content).
		Msg("group message")

	if !msg.MentionsSelf {
		return
	}

	receiverName := ""
	if msg.Receiver != nil {
		receiverName = msg.Receiver.Name()
	}

	prompt, ok := s.filterUC.GroupPrompt(receiverName, content)
	if !ok {
		s.log.Info().Msg("content is not within the scope of the customization format")
		return
	}
	s.dispatch(ctx, msg.Room, prompt)
}

func (s *RouterService) handlePrivate(ctx context.Context, msg *domain.Message, content string) {
	s.log.Info().
		Str("sender", domain.DisplayName(msg.Talker)).
		Str("content", content).
		Msg("private message")

	if !s.filterUC.AutoReply() {
		return
	}

	prompt, ok := s.filterUC.PrivatePrompt(content)
	if !ok {
		s.log.Info().Msg("content is not within the scope of the customization format")
		return
	}
	s.dispatch(ctx, msg.Talker, prompt)
}

func (s *RouterService) dispatch(ctx context.Context, target domain.Target, prompt string) {
	if err := s.replyUC.Reply(ctx, target, prompt); err != nil {
		// Already logged by the dispatcher
		s.log.Debug().Err(err).Msg("reply not delivered")
	}
}
