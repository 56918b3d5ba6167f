// Package database implements the durable article index for go-nzbindex.
//
// It is backed by a single SQLite database with one connection
// serialized for writes (writer lock) and concurrent readers. All
// schema creation is idempotent and runs at Open.
package database

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS groups(
	group_name TEXT PRIMARY KEY NOT NULL,
	watch BOOLEAN NOT NULL DEFAULT 0,
	missing BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS articles(
	message_id TEXT PRIMARY KEY NOT NULL,
	subject TEXT NOT NULL,
	poster TEXT NOT NULL,
	posted TIMESTAMP NOT NULL,
	bytes INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS article_subject ON articles(subject);

CREATE TABLE IF NOT EXISTS group_articles(
	group_name TEXT NOT NULL,
	number INTEGER NOT NULL,
	message_id TEXT NOT NULL,
	PRIMARY KEY(group_name, number)
);
CREATE UNIQUE INDEX IF NOT EXISTS group_article ON group_articles(group_name, message_id);

CREATE TABLE IF NOT EXISTS segments(
	message_id TEXT PRIMARY KEY NOT NULL,
	release_name TEXT NOT NULL,
	file_name TEXT NOT NULL,
	file_total INTEGER NOT NULL DEFAULT 0,
	file_number INTEGER NOT NULL DEFAULT 0,
	part_total INTEGER NOT NULL DEFAULT 0,
	part_number INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS segment_release ON segments(release_name);
`

// Database is the index store. Writes go through the writer mutex,
// one transaction per batch; reads run concurrently.
type Database struct {
	db     *sql.DB
	writer sync.Mutex
	path   string
}

// Open opens (or creates) the index database at path and applies the
// schema. Pass ":memory:" for an in-memory database (tests).
func Open(path string) (*Database, error) {
	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_loc=UTC", path)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database '%s': %w", path, err)
	}
	// A single connection keeps SQLite happy under concurrent writers;
	// the writer mutex serializes transactions above it anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	log.Printf("[STORE] opened index database '%s'", path)
	return &Database{db: db, path: path}, nil
}

// Close closes the underlying database.
func (d *Database) Close() error {
	return d.db.Close()
}

// withTx runs fn inside one write transaction under the writer lock,
// retrying busy errors per the store retry policy.
func (d *Database) withTx(fn func(*sql.Tx) error) error {
	d.writer.Lock()
	defer d.writer.Unlock()
	return retryableTransactionExec(d.db, fn)
}
