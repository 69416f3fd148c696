package service

import (
	"context"
	"io"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/mdp/qrterminal/v3"
	"github.com/rs/zerolog"

	"github.com/chatrelay/chatgpt-relay/internal/biz/domain"
)

const qrImageURL = "https://api.qrserver.com/v1/create-qr-code/?data="

// LifecycleService handles session events: QR login, login, logout and friend requests
type LifecycleService struct {
	autoReply      bool
	friendshipRule *regexp.Regexp
	qrOut          io.Writer
	log            zerolog.Logger
	now            func() time.Time
}

// NewLifecycleService creates a new lifecycle service. QR codes are drawn on qrOut.
// A nil friendshipRule disables auto-accepting friend requests.
func NewLifecycleService(autoReply bool, friendshipRule *regexp.Regexp, qrOut io.Writer, log zerolog.Logger) *LifecycleService {
	return &LifecycleService{
		autoReply:      autoReply,
		friendshipRule: friendshipRule,
		qrOut:          qrOut,
		log:            log,
		now:            time.Now,
	}
}

// QRImageURL returns a link that renders qrcode as an image
func QRImageURL(qrcode string) string {
	// encodeURIComponent-style escaping
	return qrImageURL + strings.ReplaceAll(url.QueryEscape(qrcode), "+", "%20")
}

// OnScan shows the login QR code while the gateway waits for a scan
func (s *LifecycleService) OnScan(ctx context.Context, qrcode string, status domain.ScanStatus) {
	if qrcode == "" || !status.NeedsRender() {
		s.log.Info().Str("status", status.String()).Msg("scan status")
		return
	}

	qrterminal.GenerateHalfBlock(qrcode, qrterminal.L, s.qrOut)
	s.log.Info().
		Str("status", status.String()).
		Str("url", QRImageURL(qrcode)).
		Msg("scan the QR code to log in")
}

// OnLogin logs the logged-in account
func (s *LifecycleService) OnLogin(ctx context.Context, self domain.Contact) {
	s.log.Info().Msgf("%s has logged in", domain.DisplayName(self))
	s.log.Info().Msgf("Current time: %s", s.now().Format(time.DateTime))
	if s.autoReply {
		s.log.Info().Msg("automatic robot chat mode has been activated")
	}
}

// OnLogout logs the logged-out account
func (s *LifecycleService) OnLogout(ctx context.Context, self domain.Contact, reason string) {
	s.log.Info().Str("reason", reason).Msgf("%s has logged out", domain.DisplayName(self))
}

// OnFriendship accepts inbound requests whose greeting matches the friendship rule
func (s *LifecycleService) OnFriendship(ctx context.Context, req domain.Friendship) {
	if s.friendshipRule == nil || req.Type() != domain.FriendshipReceive {
		return
	}
	if !s.friendshipRule.MatchString(req.Hello()) {
		s.log.Debug().Str("hello", req.Hello()).Msg("friend request does not match rule")
		return
	}

	if err := req.Accept(ctx); err != nil {
		s.log.Error().Err(err).Str("contact", req.Contact().ID()).Msg("failed to accept friend request")
		return
	}
	s.log.Info().Str("contact", req.Contact().ID()).Msg("friend request accepted")
}

// FriendshipEnabled reports whether friend requests should be handled at all
func (s *LifecycleService) FriendshipEnabled() bool {
	return s.friendshipRule != nil
}
