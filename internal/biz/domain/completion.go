package domain

import (
	"errors"
	"strings"
)

// ErrTimedOut marks an AI call that ran out of time
var ErrTimedOut = errors.New("request timed out")

// ConversationOptions carries the identifiers that would let a backend resume a prior
// conversation. The relay always sends the zero value, so every exchange starts fresh.
type ConversationOptions struct {
	ConversationID        string
	ParentMessageID       string
	ConversationSignature string
	ClientID              string
	InvocationID          string
	OnProgress            func(token string)
}

// IsZero reports whether no continuation parameter is set
func (o ConversationOptions) IsZero() bool {
	return o.ConversationID == "" && o.ParentMessageID == "" && o.ConversationSignature == "" &&
		o.ClientID == "" && o.InvocationID == "" && o.OnProgress == nil
}

// Reply is the result of one AI exchange
type Reply struct {
	Text           string
	ConversationID string
	MessageID      string
}

// IsTimeout reports whether err is a timeout-class AI failure
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTimedOut) || strings.Contains(err.Error(), "timed out")
}
