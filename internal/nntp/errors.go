package nntp

// Error classification for go-nzbindex NNTP operations.

import (
	"errors"
	"fmt"
	"net"
)

var (
	// ErrNewsgroupNotFound is returned when the server answers 411.
	ErrNewsgroupNotFound = errors.New("no such newsgroup")

	// ErrAuthFailed is permanent; callers must not retry it.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrPoolClosed is returned by Get/Put after ClosePool.
	ErrPoolClosed = errors.New("connection pool is closed")

	// ErrNotConnected is returned when a command is issued on a dead session.
	ErrNotConnected = errors.New("not connected")
)

// ProtocolError is an unexpected NNTP status line. Both 4xx and 5xx
// are worth a retry at task level; a 5xx additionally poisons the
// session, so the retry runs on a fresh connection.
type ProtocolError struct {
	Code int
	Text string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("nntp: %d %s", e.Code, e.Text)
}

// Transient reports whether the error is worth a retry.
func (e *ProtocolError) Transient() bool {
	return e.Code >= 400
}

// ConnError wraps TCP/TLS/handshake failures; always transient.
type ConnError struct {
	Addr string
	Err  error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("nntp: connection to %s failed: %v", e.Addr, e.Err)
}

func (e *ConnError) Unwrap() error { return e.Err }

// IsTransient classifies an error for the retry policy: connection
// failures, timeouts and unexpected status lines are transient; auth
// failures and missing newsgroups are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrNewsgroupNotFound) {
		return false
	}
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return perr.Transient()
	}
	var cerr *ConnError
	if errors.As(err, &cerr) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	if errors.Is(err, ErrNotConnected) {
		return true
	}
	return false
}
