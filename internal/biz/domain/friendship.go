package domain

import "context"

// FriendshipType is the kind of contact-request event
type FriendshipType int

const (
	FriendshipUnknown FriendshipType = iota
	FriendshipConfirm
	FriendshipReceive // Inbound request, the only actionable type
	FriendshipVerify
)

func (t FriendshipType) String() string {
	switch t {
	case FriendshipConfirm:
		return "confirm"
	case FriendshipReceive:
		return "receive"
	case FriendshipVerify:
		return "verify"
	default:
		return "unknown"
	}
}

// Friendship is an incoming contact request
type Friendship interface {
	Type() FriendshipType
	Hello() string
	Contact() Contact
	Accept(ctx context.Context) error
}
