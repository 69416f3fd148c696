package server

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/chatrelay/chatgpt-relay/internal/biz/usecase"
	"github.com/chatrelay/chatgpt-relay/internal/conf"
	"github.com/chatrelay/chatgpt-relay/internal/data"
	"github.com/chatrelay/chatgpt-relay/internal/service"
)

// RelayServer wires the chat transport to the router and lifecycle handlers
type RelayServer struct {
	name      string
	repos     *data.Repositories
	router    *service.RouterService
	lifecycle *service.LifecycleService
	janitor   *service.SeenJanitor
	startTime time.Time
	log       zerolog.Logger
}

// NewRelayServer creates a new relay server. Messages created before this call
// returns are treated as backlog and never answered.
func NewRelayServer(cfg *conf.Config, repos *data.Repositories, qrOut io.Writer, log zerolog.Logger) *RelayServer {
	replyUC := usecase.NewReplyUsecase(repos.Completion, cfg.ToReplyConfig(), component(log, "reply"))
	filterUC := usecase.NewFilterUsecase(cfg.ToFilterConfig())

	s := &RelayServer{
		name:      cfg.Transport.Name,
		repos:     repos,
		lifecycle: service.NewLifecycleService(cfg.AutoReply, cfg.FriendshipPattern(), qrOut, component(log, "lifecycle")),
		log:       log,
	}
	if repos.Seen != nil {
		s.janitor = service.NewSeenJanitor(repos.Seen, cfg.CacheOptions.GetTTL(), component(log, "janitor"))
	}

	s.startTime = time.Now()
	s.router = service.NewRouterService(replyUC, filterUC, repos.Seen, s.startTime, component(log, "router"))

	t := repos.Transport
	t.OnScan(s.lifecycle.OnScan)
	t.OnLogin(s.lifecycle.OnLogin)
	t.OnLogout(s.lifecycle.OnLogout)
	t.OnMessage(s.router.HandleMessage)
	if s.lifecycle.FriendshipEnabled() {
		t.OnFriendship(s.lifecycle.OnFriendship)
	}
	return s
}

func component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

// StartTime returns the cutoff before which messages are ignored
func (s *RelayServer) StartTime() time.Time {
	return s.startTime
}

// Start starts the janitor and runs the transport until ctx is cancelled
func (s *RelayServer) Start(ctx context.Context) error {
	if s.janitor != nil {
		if err := s.janitor.Start(); err != nil {
			return err
		}
	}

	s.log.Info().Str("name", s.name).Time("start_time", s.startTime).Msg("relay starting")
	if err := s.repos.Transport.Start(ctx); err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	return nil
}

// Stop disconnects the transport and releases the ledger
func (s *RelayServer) Stop() {
	s.repos.Transport.Stop()
	if s.janitor != nil {
		s.janitor.Stop()
	}
	if s.repos.Seen != nil {
		if err := s.repos.Seen.Close(); err != nil {
			s.log.Warn().Err(err).Msg("failed to close seen ledger")
		}
	}
}
