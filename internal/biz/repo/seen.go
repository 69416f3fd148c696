package repo

import (
	"context"
	"time"
)

// SeenRepo records delivered message IDs so redelivered events are handled once
type SeenRepo interface {
	// MarkSeen records msgID and reports whether it had already been recorded
	MarkSeen(ctx context.Context, msgID string, at time.Time) (seen bool, err error)

	// Prune removes records older than before
	Prune(ctx context.Context, before time.Time) (int64, error)

	Close() error
}
