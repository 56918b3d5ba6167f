package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"
)

const (
	maxRetries = 3
	baseDelay  = 150 * time.Millisecond
)

// ErrStoreBusy surfaces after the writer exhausted its retries on
// SQLITE_BUSY-class errors.
var ErrStoreBusy = errors.New("store busy")

// isRetryableError checks if the error is a retryable SQLite error
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "database table is locked") ||
		strings.Contains(errStr, "busy") ||
		strings.Contains(errStr, "locked")
}

// retryDelay computes the backoff for one attempt: exponential with
// random jitter up to 50% of the delay.
func retryDelay(attempt int) time.Duration {
	delay := baseDelay << attempt
	jitter := time.Duration(rand.Int63n(int64(delay) / 2))
	return delay + jitter
}

// retryableQuery executes a read query with retry logic for lock conflicts
func retryableQuery(db *sql.DB, query string, args ...interface{}) (*sql.Rows, error) {
	var rows *sql.Rows
	var err error

	for attempt := 0; attempt < maxRetries; attempt++ {
		rows, err = db.Query(query, args...)

		if !isRetryableError(err) {
			return rows, err
		}

		if attempt < maxRetries-1 {
			log.Printf("[STORE] SQLite retry attempt %d/%d for query (first 50 chars): %s... Error: %v",
				attempt+1, maxRetries, truncateString(query, 50), err)
			time.Sleep(retryDelay(attempt))
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrStoreBusy, err)
}

// retryableQueryRowScan executes a QueryRow and Scan with retry logic
func retryableQueryRowScan(db *sql.DB, query string, args []interface{}, dest ...interface{}) error {
	var err error

	for attempt := 0; attempt < maxRetries; attempt++ {
		row := db.QueryRow(query, args...)
		err = row.Scan(dest...)

		if !isRetryableError(err) {
			return err
		}

		if attempt < maxRetries-1 {
			log.Printf("[STORE] SQLite retry attempt %d/%d for QueryRow scan (first 50 chars): %s... Error: %v",
				attempt+1, maxRetries, truncateString(query, 50), err)
			time.Sleep(retryDelay(attempt))
		}
	}

	return fmt.Errorf("%w: %v", ErrStoreBusy, err)
}

// retryableTransactionExec executes a write transaction with retry logic
func retryableTransactionExec(db *sql.DB, txFunc func(*sql.Tx) error) error {
	var err error

	for attempt := 0; attempt < maxRetries; attempt++ {
		var tx *sql.Tx
		tx, err = db.Begin()
		if err != nil {
			if !isRetryableError(err) {
				return err
			}
			if attempt < maxRetries-1 {
				log.Printf("[STORE] SQLite retry attempt %d/%d for transaction begin: %v", attempt+1, maxRetries, err)
				time.Sleep(retryDelay(attempt))
				continue
			}
			break
		}

		err = txFunc(tx)
		if err != nil {
			tx.Rollback()
			if !isRetryableError(err) {
				return err
			}
			if attempt < maxRetries-1 {
				log.Printf("[STORE] SQLite retry attempt %d/%d for transaction: %v", attempt+1, maxRetries, err)
				time.Sleep(retryDelay(attempt))
				continue
			}
			break
		}

		err = tx.Commit()
		if !isRetryableError(err) {
			return err
		}

		if attempt < maxRetries-1 {
			log.Printf("[STORE] SQLite retry attempt %d/%d for transaction commit: %v", attempt+1, maxRetries, err)
			time.Sleep(retryDelay(attempt))
		}
	}

	return fmt.Errorf("%w: %v", ErrStoreBusy, err)
}

// truncateString truncates a string to the specified length
func truncateString(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length]
}
