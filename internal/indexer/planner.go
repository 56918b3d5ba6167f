// Package indexer implements the fetch-and-index pipeline for
// go-nzbindex: the range planner, the task queue with its worker pool,
// and the facade the outer shell drives.
package indexer

import (
	"fmt"

	"github.com/go-while/go-nzbindex/internal/database"
)

// Chunk is one inclusive XOVER range [Lo, Hi].
type Chunk struct {
	Lo int64
	Hi int64
}

// Planner turns "watched group, server range [first,last], indexed set"
// into the bounded chunks that still have to be fetched.
type Planner struct {
	DB *database.Database
}

// Plan computes the ascending chunk list for one group.
//
// The lower bound is max(first, lastIndexed+1). A group with nothing
// indexed yet, whether from an explicit initial sweep or the first
// incremental contact, instead starts at max(first, last-backfill+1)
// so a fresh watch never plans the group's full history.
// Numbers already indexed inside the window are subtracted, the
// remaining missing set is compressed to maximal intervals, and every
// interval is split left-to-right into chunks of width <= span.
// A server range that moved below the index (last < lower bound)
// yields nothing; numbers expired below the server's first are left
// in the index but never refetched.
func (p *Planner) Plan(group string, first, last, span, backfill int64, initial bool) ([]Chunk, error) {
	if span < 1 {
		return nil, fmt.Errorf("planner: span must be >= 1, got %d", span)
	}
	if first > last {
		// empty group
		return nil, nil
	}

	var lo int64
	if initial {
		lo = last - backfill + 1
	} else {
		lastIndexed, err := p.DB.MaxIndexed(group)
		if err != nil {
			return nil, fmt.Errorf("planner: %w", err)
		}
		if lastIndexed == 0 {
			lo = last - backfill + 1
		} else {
			lo = lastIndexed + 1
		}
	}
	if lo < first {
		lo = first
	}
	if last < lo {
		return nil, nil
	}

	covered, err := p.DB.IndexedNumbers(group, lo, last)
	if err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}

	var chunks []Chunk
	cursor := lo
	for _, n := range covered {
		if n > cursor {
			chunks = appendChunks(chunks, cursor, n-1, span)
		}
		if n >= cursor {
			cursor = n + 1
		}
	}
	if cursor <= last {
		chunks = appendChunks(chunks, cursor, last, span)
	}
	return chunks, nil
}

// appendChunks splits the interval [lo, hi] into chunks of width <= span.
func appendChunks(chunks []Chunk, lo, hi, span int64) []Chunk {
	for start := lo; start <= hi; start += span {
		end := start + span - 1
		if end > hi {
			end = hi
		}
		chunks = append(chunks, Chunk{Lo: start, Hi: end})
	}
	return chunks
}
