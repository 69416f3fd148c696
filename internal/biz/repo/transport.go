package repo

import (
	"context"

	"github.com/chatrelay/chatgpt-relay/internal/biz/domain"
)

// Event handler signatures raised by a chat transport
type (
	ScanHandler       func(ctx context.Context, qrcode string, status domain.ScanStatus)
	LoginHandler      func(ctx context.Context, self domain.Contact)
	LogoutHandler     func(ctx context.Context, self domain.Contact, reason string)
	MessageHandler    func(ctx context.Context, msg *domain.Message)
	FriendshipHandler func(ctx context.Context, req domain.Friendship)
)

// ChatTransport is the chat session layer: it delivers events and owns login state.
// Handlers must be registered before Start.
type ChatTransport interface {
	OnScan(h ScanHandler)
	OnLogin(h LoginHandler)
	OnLogout(h LogoutHandler)
	OnMessage(h MessageHandler)
	OnFriendship(h FriendshipHandler)

	// Start connects and blocks until ctx is cancelled or the session fails
	Start(ctx context.Context) error

	// Stop disconnects the session
	Stop()
}
