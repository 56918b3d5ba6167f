package nntp

// nntp provides NNTP client functionality for go-nzbindex.

import (
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"net/textproto"
	"sync"
	"time"

	"github.com/go-while/go-nzbindex/internal/config"
)

const (
	// NNTPWelcomeCodeMin is the minimum welcome code for NNTP servers.
	NNTPWelcomeCodeMin int = 200
	// NNTPWelcomeCodeMax is the maximum welcome code for NNTP servers.
	NNTPWelcomeCodeMax int = 201
	// NNTPMoreInfoCode indicates more information is required (e.g., password).
	NNTPMoreInfoCode int = 381
	// NNTPAuthSuccess indicates successful authentication.
	NNTPAuthSuccess int = 281
	// NNTPAuthRequired is sent when a command needs authentication first.
	NNTPAuthRequired int = 480
	// NNTPNotPermitted is sent for commands the server refuses permanently.
	NNTPNotPermitted int = 502

	// GroupSelected is the response to a successful GROUP command.
	GroupSelected int = 211
	// ListFollows indicates a LIST response follows (multi-line).
	ListFollows int = 215
	// OverviewFollows indicates an XOVER response follows (multi-line).
	OverviewFollows int = 224
	// NoSuchGroup indicates the requested group does not exist.
	NoSuchGroup int = 411

	// MaxReadLines is the maximum lines to read per response (allow for large group lists).
	MaxReadLines = 500000
)

// BackendConn represents one NNTP session to a server.
// It owns the protocol state (greeting, reader mode, authentication,
// selected group) and is used by at most one worker at a time.
type BackendConn struct {
	conn     net.Conn
	textConn *textproto.Conn
	Server   *config.Server
	mu       sync.RWMutex
	Pool     *Pool // link to parent pool

	// Connection state
	connected     bool
	authenticated bool
	readerMode    bool
	poisoned      bool
	selectedGroup string
	created       time.Time
	lastUsed      time.Time
}

// NewConn creates a new empty NNTP connection for the given server.
func NewConn(server *config.Server) *BackendConn {
	return &BackendConn{
		Server:  server,
		created: time.Now(),
	}
}

// Connect establishes the session: dial, greeting, MODE READER and
// authentication. If MODE READER answers 480 the order is flipped:
// authenticate first, then retry reader mode.
func (c *BackendConn) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return nil
	}

	serverAddr := net.JoinHostPort(c.Server.Host, fmt.Sprintf("%d", c.Server.Port))

	var conn net.Conn
	var err error

	if c.Server.SSL {
		tlsConfig := &tls.Config{
			ServerName: c.Server.Host,
			MinVersion: tls.VersionTLS12,
		}
		conn, err = tls.DialWithDialer(&net.Dialer{
			Timeout: c.Server.ConnectTimeout,
		}, "tcp", serverAddr, tlsConfig)
	} else {
		conn, err = net.DialTimeout("tcp", serverAddr, c.Server.ConnectTimeout)
	}
	if err != nil {
		return &ConnError{Addr: serverAddr, Err: err}
	}

	c.conn = conn
	c.textConn = textproto.NewConn(conn)

	// Read welcome message
	c.armDeadline()
	code, message, err := c.textConn.ReadCodeLine(-1)
	if err != nil {
		c.closeLocked()
		return &ConnError{Addr: serverAddr, Err: fmt.Errorf("failed to read welcome: %w", err)}
	}
	if code < NNTPWelcomeCodeMin || code > NNTPWelcomeCodeMax {
		log.Printf("[NNTP-CONN] Invalid welcome code %d from %s: %s", code, serverAddr, message)
		c.closeLocked()
		return &ProtocolError{Code: code, Text: message}
	}

	c.connected = true
	c.lastUsed = time.Now()

	// MODE READER first; some servers demand auth before switching.
	needAuthFirst, err := c.modeReader()
	if err != nil {
		c.closeLocked()
		return err
	}

	user, pass := c.Server.Username, c.Server.Password
	if user == "" {
		// .netrc is consulted only when nothing is configured.
		user, pass = netrcCredentials(c.Server.Host)
	}
	if user != "" {
		if err := c.authenticate(user, pass); err != nil {
			log.Printf("[NNTP-AUTH] Authentication FAILED for user '%s' on %s: %v", user, serverAddr, err)
			c.closeLocked()
			return err
		}
		if needAuthFirst {
			if _, err := c.modeReader(); err != nil {
				c.closeLocked()
				return err
			}
		}
	} else if needAuthFirst {
		c.closeLocked()
		return fmt.Errorf("%w: server requires authentication for reader mode", ErrAuthFailed)
	}

	return nil
}

// modeReader attempts MODE READER. It returns true when the server
// answered 480 and authentication must happen before the retry.
// 500/502 ("not implemented" / "not permitted") are tolerated.
func (c *BackendConn) modeReader() (bool, error) {
	id, err := c.textConn.Cmd("MODE READER")
	if err != nil {
		return false, fmt.Errorf("failed to send MODE READER: %w", err)
	}

	c.textConn.StartResponse(id)
	defer c.textConn.EndResponse(id)

	c.armDeadline()
	code, message, err := c.textConn.ReadCodeLine(-1)
	if err != nil {
		return false, fmt.Errorf("failed to read MODE READER response: %w", err)
	}

	switch {
	case code >= NNTPWelcomeCodeMin && code <= NNTPWelcomeCodeMax:
		c.readerMode = true
		return false, nil
	case code == NNTPAuthRequired:
		return true, nil
	case code == 500 || code == NNTPNotPermitted:
		// probably 'not implemented'; proceed without reader mode
		return false, nil
	default:
		return false, &ProtocolError{Code: code, Text: message}
	}
}

// authenticate performs AUTHINFO USER/PASS
func (c *BackendConn) authenticate(user, pass string) error {
	id, err := c.textConn.Cmd("AUTHINFO USER %s", user)
	if err != nil {
		return fmt.Errorf("failed to send AUTHINFO USER: %w", err)
	}

	c.textConn.StartResponse(id)
	c.armDeadline()
	code, message, err := c.textConn.ReadCodeLine(-1)
	c.textConn.EndResponse(id)
	if err != nil {
		return fmt.Errorf("failed to read AUTHINFO USER response: %w", err)
	}

	switch code {
	case NNTPAuthSuccess:
		c.authenticated = true
		return nil
	case NNTPMoreInfoCode:
		// password required
	default:
		return fmt.Errorf("%w: unexpected response to AUTHINFO USER: %d %s", ErrAuthFailed, code, message)
	}

	if pass == "" {
		return fmt.Errorf("%w: server wants a password but none is configured", ErrAuthFailed)
	}

	id, err = c.textConn.Cmd("AUTHINFO PASS %s", pass)
	if err != nil {
		return fmt.Errorf("failed to send AUTHINFO PASS: %w", err)
	}

	c.textConn.StartResponse(id)
	c.armDeadline()
	code, message, err = c.textConn.ReadCodeLine(-1)
	c.textConn.EndResponse(id)
	if err != nil {
		return fmt.Errorf("failed to read AUTHINFO PASS response: %w", err)
	}

	if code != NNTPAuthSuccess {
		return fmt.Errorf("%w: %d %s", ErrAuthFailed, code, message)
	}

	c.authenticated = true
	return nil
}

// Poison marks the session unusable. The pool discards poisoned
// connections on Put instead of recycling them.
func (c *BackendConn) Poison() {
	c.mu.Lock()
	c.poisoned = true
	c.mu.Unlock()
}

// Poisoned reports whether the session was marked poisoned.
func (c *BackendConn) Poisoned() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.poisoned
}

// SelectedGroup returns the group this session has selected, if any.
func (c *BackendConn) SelectedGroup() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selectedGroup
}

// armDeadline sets the per-command socket deadline.
func (c *BackendConn) armDeadline() {
	if c.conn == nil {
		return
	}
	timeout := c.Server.CommandTimeout
	if timeout <= 0 {
		timeout = config.DefaultCommandTimeout
	}
	if err := c.conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		log.Printf("[NNTP-CONN] failed to set deadline on %s: %v", c.Server.Addr(), err)
	}
}

// CloseFromPoolOnly closes a raw NNTP connection.
func (c *BackendConn) CloseFromPoolOnly() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}

func (c *BackendConn) closeLocked() {
	if c.textConn != nil {
		_ = c.textConn.Close()
	} else if c.conn != nil {
		_ = c.conn.Close()
	}
	c.connected = false
	c.authenticated = false
	c.readerMode = false
	c.selectedGroup = ""
	c.textConn = nil
	c.conn = nil
}

// UpdateLastUsed updates the last used timestamp.
func (c *BackendConn) UpdateLastUsed() {
	c.mu.Lock()
	c.lastUsed = time.Now()
	c.mu.Unlock()
}
