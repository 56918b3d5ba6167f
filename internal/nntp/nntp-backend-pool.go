package nntp

// Package nntp provides connection pool management for go-nzbindex.

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-while/go-nzbindex/internal/config"
)

// DefaultAcquireTimeout bounds how long Get blocks waiting for capacity.
const DefaultAcquireTimeout = 30 * time.Second

// Pool manages at most MaxConns live NNTP sessions for one server.
// A session handed out by Get is owned exclusively by the caller until
// it is returned with Put. Poisoned sessions are discarded, not reused.
type Pool struct {
	mux            sync.RWMutex
	Server         *config.Server
	connections    chan *BackendConn
	maxConns       int
	acquireTimeout time.Duration
	activeConns    int
	closed         bool

	// Statistics
	totalCreated int64
	totalClosed  int64
}

// NewPool creates a new connection pool for one server.
func NewPool(server *config.Server) *Pool {
	if server.MaxConns < 1 {
		server.MaxConns = 1
	}
	return &Pool{
		Server:         server,
		connections:    make(chan *BackendConn, server.MaxConns),
		maxConns:       server.MaxConns,
		acquireTimeout: DefaultAcquireTimeout,
	}
}

// Get retrieves a connection from the pool or creates a new one.
// It blocks until capacity is available or DefaultAcquireTimeout passes.
func (p *Pool) Get() (*BackendConn, error) {
	p.mux.Lock()
	if p.closed {
		p.mux.Unlock()
		return nil, ErrPoolClosed
	}
	p.mux.Unlock()

	// Try to get an existing connection
	select {
	case pconn := <-p.connections:
		if p.isConnectionValid(pconn) {
			pconn.UpdateLastUsed()
			return pconn, nil
		}
		// stale, close it and fall through to create a replacement
		if err := p.CloseConn(pconn); err != nil {
			log.Printf("[NNTP-POOL] Failed to close stale connection: %v", err)
		}
	default:
		// No idle connections available
	}

	// Create new connection if under limit
	p.mux.Lock()
	if p.activeConns < p.maxConns {
		p.activeConns++
		p.mux.Unlock()
		pconn, err := p.createConnection()
		if err != nil {
			p.mux.Lock()
			p.activeConns--
			p.mux.Unlock()
			return nil, err
		}
		pconn.UpdateLastUsed()
		p.mux.Lock()
		p.totalCreated++
		p.mux.Unlock()
		return pconn, nil
	}
	p.mux.Unlock()

	// Wait for a connection to become available
	select {
	case pconn := <-p.connections:
		if p.isConnectionValid(pconn) {
			pconn.UpdateLastUsed()
			return pconn, nil
		}
		if err := p.CloseConn(pconn); err != nil {
			log.Printf("[NNTP-POOL] Failed to close stale connection: %v", err)
		}
		p.mux.Lock()
		p.activeConns++
		p.mux.Unlock()
		newPconn, err := p.createConnection()
		if err != nil {
			p.mux.Lock()
			p.activeConns--
			p.mux.Unlock()
			return nil, err
		}
		newPconn.UpdateLastUsed()
		p.mux.Lock()
		p.totalCreated++
		p.mux.Unlock()
		return newPconn, nil
	case <-time.After(p.acquireTimeout):
		// pool exhaustion is contention, not a fault: classify it
		// transient so the retry policy re-enqueues the task
		return nil, &ConnError{Addr: p.Server.Addr(),
			Err: fmt.Errorf("timeout waiting for pool connection after %v", p.acquireTimeout)}
	}
}

// Put returns a connection to the pool. Poisoned or dead sessions are
// closed instead of recycled.
func (p *Pool) Put(client *BackendConn) {
	if client == nil {
		log.Printf("[NNTP-POOL] ERROR: Attempted to put nil client back into pool")
		return
	}

	p.mux.Lock()
	closed := p.closed
	p.mux.Unlock()

	client.mu.RLock()
	usable := client.connected && !client.poisoned
	client.mu.RUnlock()

	if closed || !usable {
		if err := p.CloseConn(client); err != nil {
			log.Printf("[NNTP-POOL] Failed to close connection on put: %v", err)
		}
		return
	}

	client.UpdateLastUsed()
	select {
	case p.connections <- client:
	default:
		// Pool is full; should not happen with exclusive ownership.
		log.Printf("[NNTP-POOL] ERROR: Pool is full, closing connection for %s", p.Server.Addr())
		if err := p.CloseConn(client); err != nil {
			log.Printf("[NNTP-POOL] Failed to close overflow connection: %v", err)
		}
	}
}

// CloseConn closes a specific connection and releases its capacity.
func (p *Pool) CloseConn(client *BackendConn) error {
	if client == nil {
		return nil
	}
	if err := client.CloseFromPoolOnly(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	p.mux.Lock()
	p.totalClosed++
	p.activeConns--
	p.mux.Unlock()
	return nil
}

// ClosePool quits and closes all idle connections in the pool.
func (p *Pool) ClosePool() {
	p.mux.Lock()
	if p.closed {
		p.mux.Unlock()
		return
	}
	p.closed = true
	p.mux.Unlock()

	close(p.connections)
	for client := range p.connections { // drain channel
		_ = client.Quit()
		p.mux.Lock()
		p.totalClosed++
		p.activeConns--
		p.mux.Unlock()
	}
	p.mux.Lock()
	if p.activeConns > 0 {
		log.Printf("[NNTP-POOL] WARNING: pool '%s' closed with %d connections still handed out", p.Server.Addr(), p.activeConns)
	}
	p.mux.Unlock()
}

// Stats returns pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mux.RLock()
	defer p.mux.RUnlock()

	return PoolStats{
		MaxConnections:    p.maxConns,
		ActiveConnections: p.activeConns,
		IdleConnections:   len(p.connections),
		TotalCreated:      p.totalCreated,
		TotalClosed:       p.totalClosed,
		Closed:            p.closed,
	}
}

// PoolStats contains pool statistics.
type PoolStats struct {
	MaxConnections    int
	ActiveConnections int
	IdleConnections   int
	TotalCreated      int64
	TotalClosed       int64
	Closed            bool
}

// createConnection creates a new NNTP client connection.
func (p *Pool) createConnection() (*BackendConn, error) {
	client := NewConn(p.Server)
	client.Pool = p

	if err := client.Connect(); err != nil {
		log.Printf("[NNTP-POOL] Failed to create connection to %s: %v", p.Server.Addr(), err)
		return nil, err
	}
	return client, nil
}

// isConnectionValid checks if a connection is still usable.
func (p *Pool) isConnectionValid(client *BackendConn) bool {
	if client == nil {
		return false
	}
	client.mu.RLock()
	defer client.mu.RUnlock()
	return client.connected && !client.poisoned
}
