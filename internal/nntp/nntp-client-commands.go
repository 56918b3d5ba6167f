package nntp

// Package nntp provides NNTP command implementations for go-nzbindex.

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-while/go-nzbindex/internal/config"
	"github.com/go-while/go-nzbindex/internal/models"
)

// SelectGroup selects a newsgroup for operation and caches its name.
// A 411 answer returns ErrNewsgroupNotFound; the session stays usable.
func (c *BackendConn) SelectGroup(groupName string) (*models.GroupInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil, ErrNotConnected
	}

	c.lastUsed = time.Now()

	id, err := c.textConn.Cmd("GROUP %s", groupName)
	if err != nil {
		c.poisoned = true
		return nil, fmt.Errorf("failed to send GROUP '%s' command: %w", groupName, err)
	}

	c.textConn.StartResponse(id)
	defer c.textConn.EndResponse(id) // Always clean up response state

	c.armDeadline()
	code, message, err := c.textConn.ReadCodeLine(-1)
	if err != nil {
		c.poisoned = true
		return nil, fmt.Errorf("failed to read GROUP '%s' response: %w", groupName, err)
	}

	switch code {
	case GroupSelected:
		// fallthrough to parsing below
	case NoSuchGroup:
		return nil, fmt.Errorf("group '%s': %w", groupName, ErrNewsgroupNotFound)
	default:
		if code >= 500 {
			c.poisoned = true
		}
		return nil, &ProtocolError{Code: code, Text: message}
	}

	// RFC 3977: message format is "count first last group"
	parts := strings.Fields(message)
	if len(parts) < 4 {
		return nil, fmt.Errorf("malformed GROUP response (expected 'count first last group'): %s group %s", message, groupName)
	}

	count, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse count in GROUP '%s' response: %w", groupName, err)
	}
	first, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse first in GROUP '%s' response: %w", groupName, err)
	}
	last, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse last in GROUP '%s' response: %w", groupName, err)
	}

	c.selectedGroup = groupName

	return &models.GroupInfo{
		Name:  groupName,
		Count: count,
		First: first,
		Last:  last,
	}, nil
}

// XOver retrieves overview data for a range of article numbers in the
// currently selected group. The caller must have run SelectGroup first.
func (c *BackendConn) XOver(start, end int64) ([]models.Overview, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil, ErrNotConnected
	}
	if c.selectedGroup == "" {
		return nil, fmt.Errorf("error XOver: no group selected")
	}

	c.lastUsed = time.Now()

	var id uint
	var err error
	if end > 0 {
		id, err = c.textConn.Cmd("XOVER %d-%d", start, end)
	} else {
		id, err = c.textConn.Cmd("XOVER %d", start)
	}
	if err != nil {
		c.poisoned = true
		return nil, fmt.Errorf("failed to send XOVER command: %w", err)
	}

	c.textConn.StartResponse(id)
	defer c.textConn.EndResponse(id) // Always clean up response state

	c.armDeadline()
	code, message, err := c.textConn.ReadCodeLine(-1)
	if err != nil {
		c.poisoned = true
		return nil, fmt.Errorf("failed to read XOVER response: %w", err)
	}

	if code != OverviewFollows {
		if code >= 500 {
			c.poisoned = true
		}
		return nil, &ProtocolError{Code: code, Text: message}
	}

	lines, err := c.readMultilineResponse()
	if err != nil {
		c.poisoned = true
		return nil, fmt.Errorf("failed to read XOVER data: %w", err)
	}

	var overviews = make([]models.Overview, 0, len(lines))
	for _, line := range lines {
		overview, err := ParseOverviewLine(line)
		if err != nil {
			continue // Skip malformed lines
		}
		overviews = append(overviews, overview)
	}
	return overviews, nil
}

// ListGroups retrieves the list of available newsgroups.
func (c *BackendConn) ListGroups() ([]models.GroupInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil, ErrNotConnected
	}

	c.lastUsed = time.Now()

	id, err := c.textConn.Cmd("LIST")
	if err != nil {
		c.poisoned = true
		return nil, fmt.Errorf("failed to send LIST command: %w", err)
	}

	c.textConn.StartResponse(id)
	defer c.textConn.EndResponse(id) // Always clean up response state

	c.armDeadline()
	code, message, err := c.textConn.ReadCodeLine(-1)
	if err != nil {
		c.poisoned = true
		return nil, fmt.Errorf("failed to read LIST response: %w", err)
	}

	if code != ListFollows {
		if code >= 500 {
			c.poisoned = true
		}
		return nil, &ProtocolError{Code: code, Text: message}
	}

	lines, err := c.readMultilineResponse()
	if err != nil {
		c.poisoned = true
		return nil, fmt.Errorf("failed to read group list: %w", err)
	}

	var groups = make([]models.GroupInfo, 0, len(lines))
	for _, line := range lines {
		group, err := ParseGroupLine(line)
		if err != nil {
			continue // Skip malformed lines
		}
		groups = append(groups, group)
	}

	return groups, nil
}

// Quit ends the session cleanly: QUIT, then close the socket.
func (c *BackendConn) Quit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}

	id, err := c.textConn.Cmd("QUIT")
	if err == nil {
		c.textConn.StartResponse(id)
		c.armDeadline()
		_, _, _ = c.textConn.ReadCodeLine(-1)
		c.textConn.EndResponse(id)
	}
	c.closeLocked()
	return nil
}

// readMultilineResponse reads a multi-line response ending with "."
func (c *BackendConn) readMultilineResponse() ([]string, error) {
	var lines []string
	lineCount := 0

	for {
		if lineCount >= MaxReadLines {
			c.closeLocked()
			return nil, fmt.Errorf("too many lines in response (limit: %d)", MaxReadLines)
		}

		c.armDeadline()
		line, err := c.textConn.ReadLine()
		if err != nil {
			return nil, err
		}

		// Check for end marker
		if line == config.DOT {
			break
		}

		// Handle dot-stuffing (lines starting with .. become .)
		if strings.HasPrefix(line, "..") {
			line = line[1:]
		}

		lines = append(lines, line)
		lineCount++
	}

	return lines, nil
}

// ParseGroupLine parses a single line from a LIST command response.
// Format: "group last first posting"
func ParseGroupLine(line string) (models.GroupInfo, error) {
	parts := strings.Fields(line)
	if len(parts) < 4 {
		return models.GroupInfo{}, fmt.Errorf("malformed group line: %s", line)
	}

	last, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return models.GroupInfo{}, fmt.Errorf("invalid last article number in group line: %s", line)
	}
	first, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return models.GroupInfo{}, fmt.Errorf("invalid first article number in group line: %s", line)
	}
	postingOK := parts[3] == "y"

	count := int64(0)
	if last >= first {
		count = last - first + 1
	}

	return models.GroupInfo{
		Name:      parts[0],
		Count:     count,
		First:     first,
		Last:      last,
		PostingOK: postingOK,
	}, nil
}

// ParseOverviewLine parses a single XOVER response line.
// Format: articlenum<tab>subject<tab>from<tab>date<tab>message-id<tab>references<tab>bytes<tab>lines
// Trailing fields after lines are ignored.
func ParseOverviewLine(line string) (models.Overview, error) {
	parts := strings.Split(line, "\t")
	if len(parts) < 7 {
		return models.Overview{}, fmt.Errorf("malformed XOVER line: %s", line)
	}

	articleNum, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || articleNum <= 0 {
		return models.Overview{}, fmt.Errorf("invalid article number in XOVER line: %s", line)
	}
	bytes, _ := strconv.ParseInt(parts[6], 10, 64)
	lines := int64(0)
	if len(parts) > 7 {
		lines, _ = strconv.ParseInt(parts[7], 10, 64)
	}

	return models.Overview{
		ArticleNum: articleNum,
		Subject:    parts[1],
		From:       parts[2],
		Date:       parts[3],
		MessageID:  strings.TrimSpace(parts[4]),
		References: parts[5],
		Bytes:      bytes,
		Lines:      lines,
	}, nil
}
