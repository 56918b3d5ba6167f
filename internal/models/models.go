// Package models defines core data structures for go-nzbindex
package models

import (
	"time"
)

// Group represents a newsgroup known to the index.
// Groups are created by a LIST refresh and never deleted; only the
// Watch flag is mutable, via explicit watch/unwatch.
type Group struct {
	Name    string `json:"name" db:"group_name"`
	Watch   bool   `json:"watch" db:"watch"`
	Missing bool   `json:"missing" db:"missing"` // server answered 411 for this group
}

// Article is one header summary, keyed by its globally unique Message-ID.
// Attributes are immutable once set; the same article cross-posted to
// several groups reuses the row.
type Article struct {
	MessageID string    `json:"message_id" db:"message_id"`
	Subject   string    `json:"subject" db:"subject"`
	Poster    string    `json:"poster" db:"poster"`
	Posted    time.Time `json:"posted" db:"posted"` // always UTC
	Bytes     int64     `json:"bytes" db:"bytes"`
}

// GroupIndex binds an Article to its article number inside one group.
// Unique on (group_name, number) and on (group_name, message_id).
type GroupIndex struct {
	GroupName string `json:"group_name" db:"group_name"`
	Number    int64  `json:"number" db:"number"`
	MessageID string `json:"message_id" db:"message_id"`
}

// Segment tags an Article as one part of a multi-part binary release.
// A zero in any of the counters means "unknown".
type Segment struct {
	MessageID   string `json:"message_id" db:"message_id"`
	ReleaseName string `json:"release_name" db:"release_name"`
	FileName    string `json:"file_name" db:"file_name"`
	FileTotal   int    `json:"file_total" db:"file_total"`
	FileNumber  int    `json:"file_number" db:"file_number"`
	PartTotal   int    `json:"part_total" db:"part_total"`
	PartNumber  int    `json:"part_number" db:"part_number"`
}

// Overview represents one line of an XOVER response.
// Format: number subject from date message-id references bytes lines,
// tab separated. Trailing fields after lines are ignored.
type Overview struct {
	ArticleNum int64
	Subject    string
	From       string
	Date       string
	MessageID  string
	References string
	Bytes      int64
	Lines      int64
}

// GroupInfo represents the server-side state of a group as reported
// by GROUP (211) or one line of LIST (215).
type GroupInfo struct {
	Name      string
	Count     int64
	First     int64
	Last      int64
	PostingOK bool
}
