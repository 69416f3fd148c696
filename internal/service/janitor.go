package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/chatrelay/chatgpt-relay/internal/biz/repo"
)

// SeenJanitor periodically prunes seen-message records older than the TTL
type SeenJanitor struct {
	seen repo.SeenRepo
	ttl  time.Duration
	log  zerolog.Logger
	now  func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewSeenJanitor creates a new janitor
func NewSeenJanitor(seen repo.SeenRepo, ttl time.Duration, log zerolog.Logger) *SeenJanitor {
	return &SeenJanitor{
		seen: seen,
		ttl:  ttl,
		log:  log,
		now:  time.Now,
	}
}

// Start schedules pruning every TTL
func (j *SeenJanitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", j.ttl), j.run); err != nil {
		return fmt.Errorf("schedule seen janitor: %w", err)
	}
	c.Start()

	j.cron = c
	j.running = true
	j.log.Info().Dur("ttl", j.ttl).Msg("seen janitor started")
	return nil
}

// Stop stops scheduling and waits for a running prune to finish
func (j *SeenJanitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.running {
		return
	}
	<-j.cron.Stop().Done()
	j.running = false
	j.log.Info().Msg("seen janitor stopped")
}

func (j *SeenJanitor) run() {
	if _, err := j.Prune(context.Background()); err != nil {
		j.log.Error().Err(err).Msg("failed to prune seen messages")
	}
}

// Prune removes records older than the TTL
func (j *SeenJanitor) Prune(ctx context.Context) (int64, error) {
	n, err := j.seen.Prune(ctx, j.now().Add(-j.ttl))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		j.log.Debug().Int64("removed", n).Msg("pruned seen messages")
	}
	return n, nil
}
