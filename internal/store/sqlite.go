package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const defaultArchiveQueueSize = 256

// SQLiteArchiver copies committed messages into a SQLite table from a
// single background worker. It is write-only: the store never reloads
// from it, so restarting the process still starts with empty chats.
type SQLiteArchiver struct {
	db    *sql.DB
	queue chan Message
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewSQLiteArchiver(dataSourceName string, queueSize int) (*SQLiteArchiver, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	// SQLite allows one writer; the worker is the only one.
	db.SetMaxOpenConns(1)

	if queueSize <= 0 {
		queueSize = defaultArchiveQueueSize
	}
	a := &SQLiteArchiver{
		db:    db,
		queue: make(chan Message, queueSize),
		done:  make(chan struct{}),
	}
	if err = a.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	go a.run()
	return a, nil
}

func (a *SQLiteArchiver) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY, -- UUID
        chat_id TEXT NOT NULL,
        author TEXT NOT NULL CHECK (author IN ('user', 'assistant', 'system')),
        content TEXT NOT NULL,
        created_at DATETIME NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_messages_chat_id ON messages (chat_id, created_at);
    `
	_, err := a.db.Exec(schema)
	return err
}

// Archive enqueues msg without blocking. When the queue is full the
// message is dropped and a warning is logged.
func (a *SQLiteArchiver) Archive(msg Message) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- msg:
	default:
		slog.Warn("archive queue full, dropping message", "chat_id", msg.ChatID, "message_id", msg.ID)
	}
}

func (a *SQLiteArchiver) run() {
	defer close(a.done)

	stmt, err := a.db.Prepare("INSERT OR IGNORE INTO messages (id, chat_id, author, content, created_at) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		slog.Error("failed to prepare archive insert", "err", err)
		for range a.queue {
		}
		return
	}
	defer stmt.Close()

	for msg := range a.queue {
		if _, err := stmt.Exec(msg.ID, msg.ChatID, msg.Author, msg.Content, msg.CreatedAt); err != nil {
			slog.Error("failed to archive message", "chat_id", msg.ChatID, "message_id", msg.ID, "err", err)
		}
	}
}

// ArchivedMessages reads back the archived history of one chat, oldest first.
func (a *SQLiteArchiver) ArchivedMessages(chatID string) ([]Message, error) {
	rows, err := a.db.Query("SELECT id, chat_id, author, content, created_at FROM messages WHERE chat_id = ? ORDER BY created_at ASC, rowid ASC", chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.Author, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Close stops accepting messages, drains the queue and closes the database.
func (a *SQLiteArchiver) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done
	return a.db.Close()
}
