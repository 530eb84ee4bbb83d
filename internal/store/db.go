package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/agora/internal/thread"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// AppendError is returned when the store rejects a write. Nothing from the
// rejected draft is persisted.
type AppendError struct {
	Kind thread.Kind
	Err  error
}

func (e *AppendError) Error() string {
	return fmt.Sprintf("append %s: %v", e.Kind, e.Err)
}

func (e *AppendError) Unwrap() error { return e.Err }

// InsertHook observes every committed insert. Hooks run synchronously after
// commit, in registration order, and act as the store's changefeed.
type InsertHook func(thread.Record)

// DB wraps the SQLite connection holding both message schemas and the
// notification table. Record inserts go through a separate single-connection
// pool whose transactions begin IMMEDIATE, so the write lock is held from
// the moment created_at is read until commit.
type DB struct {
	*sql.DB

	writer *sql.DB

	clockMu sync.Mutex
	now     func() time.Time
	lastMs  int64

	hookMu sync.RWMutex
	hooks  []InsertHook
}

// Open creates a new SQLite connection with WAL mode and foreign keys on.
// WAL gives each read transaction a stable snapshot, which FetchSnapshot
// relies on.
func Open(path string) (*DB, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	writer, err := sql.Open("sqlite3", dsn+"&_txlock=immediate")
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)
	if err := writer.Ping(); err != nil {
		_ = writer.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("ping writer: %w", err)
	}
	return &DB{DB: conn, writer: writer, now: time.Now}, nil
}

// Close closes both connection pools.
func (db *DB) Close() error {
	return errors.Join(db.writer.Close(), db.DB.Close())
}

// SetClock replaces the clock used to stamp appended rows.
func (db *DB) SetClock(now func() time.Time) {
	db.clockMu.Lock()
	db.now = now
	db.clockMu.Unlock()
}

// Mark returns a store time that splits records by commit: every record
// created before the mark is already committed, and every record committed
// after Mark returns is created at or after it. It briefly takes the write
// lock, the same lock Append stamps under.
func (db *DB) Mark(ctx context.Context) (time.Time, error) {
	tx, err := db.writer.BeginTx(ctx, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("mark: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	at, _ := db.stamp()
	return at, nil
}

// OnInsert registers a hook invoked after every committed Append.
func (db *DB) OnInsert(h InsertHook) {
	db.hookMu.Lock()
	db.hooks = append(db.hooks, h)
	db.hookMu.Unlock()
}

func (db *DB) emit(r thread.Record) {
	db.hookMu.RLock()
	hooks := db.hooks
	db.hookMu.RUnlock()
	for _, h := range hooks {
		h(r)
	}
}

// stamp returns the server timestamp truncated to the stored precision so
// the returned record matches what a later snapshot reads back. Stamps
// never go backwards, even if the clock does. Record stamps are taken with
// the write lock held.
func (db *DB) stamp() (time.Time, int64) {
	db.clockMu.Lock()
	defer db.clockMu.Unlock()
	ms := db.now().UnixMilli()
	if ms < db.lastMs {
		ms = db.lastMs
	}
	db.lastMs = ms
	return fromMillis(ms), ms
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
