package data

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chatrelay/chatgpt-relay/internal/biz/repo"

	_ "modernc.org/sqlite"
)

// memorySeenRepo keeps seen message ids in process memory
type memorySeenRepo struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemorySeenRepo creates an in-memory seen-message ledger
func NewMemorySeenRepo() repo.SeenRepo {
	return &memorySeenRepo{seen: make(map[string]time.Time)}
}

func (r *memorySeenRepo) MarkSeen(ctx context.Context, msgID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.seen[msgID]; ok {
		return true, nil
	}
	r.seen[msgID] = at
	return false, nil
}

func (r *memorySeenRepo) Prune(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, at := range r.seen {
		if at.Before(before) {
			delete(r.seen, id)
			n++
		}
	}
	return n, nil
}

func (r *memorySeenRepo) Close() error {
	return nil
}

// sqliteSeenRepo persists seen message ids so restarts do not replay deliveries
type sqliteSeenRepo struct {
	db        *sql.DB
	namespace string
}

// NewSQLiteSeenRepo creates a sqlite-backed seen-message ledger
func NewSQLiteSeenRepo(dbPath, namespace string) (repo.SeenRepo, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single writer avoids SQLITE_BUSY between concurrent handlers
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS seen_messages (
			namespace TEXT NOT NULL,
			msg_id TEXT NOT NULL,
			seen_at INTEGER NOT NULL,
			PRIMARY KEY (namespace, msg_id)
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_seen_messages_seen_at ON seen_messages(seen_at)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return &sqliteSeenRepo{db: db, namespace: namespace}, nil
}

func (r *sqliteSeenRepo) MarkSeen(ctx context.Context, msgID string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO seen_messages (namespace, msg_id, seen_at)
		VALUES (?, ?, ?)
	`, r.namespace, msgID, at.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("mark seen: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark seen: %w", err)
	}
	return n == 0, nil
}

func (r *sqliteSeenRepo) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM seen_messages WHERE namespace = ? AND seen_at < ?
	`, r.namespace, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune seen: %w", err)
	}
	return res.RowsAffected()
}

func (r *sqliteSeenRepo) Close() error {
	return r.db.Close()
}
