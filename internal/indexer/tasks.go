package indexer

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/go-while/go-nzbindex/internal/database"
	"github.com/go-while/go-nzbindex/internal/models"
	"github.com/go-while/go-nzbindex/internal/nntp"
	"github.com/go-while/go-nzbindex/internal/utils"
)

// TaskKind tags a queued task.
type TaskKind int

const (
	// KindListGroups enumerates the server's groups into the store.
	KindListGroups TaskKind = iota
	// KindFetchRange fetches one XOVER chunk of one group.
	KindFetchRange
)

const (
	// MaxTaskRetries bounds re-enqueues of a transiently failed task.
	MaxTaskRetries = 3
	// retryBaseDelay is the first backoff step; it doubles per attempt
	// and is jittered by +-50%.
	retryBaseDelay = 1500 * time.Millisecond
)

// Task is a tagged unit of work for the worker pool.
type Task struct {
	Kind     TaskKind
	Server   string // pool key, see config.Server.Addr
	Group    string // FetchRange only
	Lo, Hi   int64  // FetchRange only
	Attempts int
}

func (t *Task) String() string {
	switch t.Kind {
	case KindListGroups:
		return fmt.Sprintf("ListGroups{%s}", t.Server)
	case KindFetchRange:
		return fmt.Sprintf("FetchRange{%s %s %d-%d}", t.Server, t.Group, t.Lo, t.Hi)
	default:
		return fmt.Sprintf("Task{kind=%d}", t.Kind)
	}
}

// retryDelay computes the backoff before re-enqueueing attempt n (1-based).
func retryDelay(attempt int) time.Duration {
	delay := retryBaseDelay << (attempt - 1)
	// jitter +-50%
	half := int64(delay) / 2
	return time.Duration(half + rand.Int63n(int64(delay)))
}

// worker consumes tasks until shutdown is observed.
func (ix *Indexer) worker(id int) {
	defer ix.wg.Done()
	for {
		select {
		case <-ix.quit:
			return
		case task := <-ix.tasks:
			if !ix.runTask(id, &task) {
				ix.pending.Add(-1)
			}
		}
	}
}

// runTask dispatches one task, classifies its error and handles the
// retry policy. Task types are handled exhaustively. It reports whether
// the task was re-enqueued, so the caller knows to keep it pending.
func (ix *Indexer) runTask(id int, task *Task) bool {
	var err error
	switch task.Kind {
	case KindListGroups:
		err = ix.runListGroups(task)
	case KindFetchRange:
		err = ix.runFetchRange(task)
	default:
		log.Printf("[WORKER-%d] ERROR: unknown task kind %d", id, task.Kind)
		return false
	}

	if err == nil {
		return false
	}
	if errors.Is(err, ErrShuttingDown) {
		return false
	}

	if nntp.IsTransient(err) && task.Attempts < MaxTaskRetries {
		task.Attempts++
		delay := retryDelay(task.Attempts)
		log.Printf("[WORKER-%d] %s failed (attempt %d/%d), retrying in %v: %v",
			id, task, task.Attempts, MaxTaskRetries, delay, err)
		select {
		case <-ix.quit:
			return false
		case <-time.After(delay):
		}
		select {
		case ix.tasks <- *task:
			return true
		case <-ix.quit:
			return false
		}
	}

	log.Printf("[WORKER-%d] %s dropped: %v", id, task, err)
	return false
}

// runListGroups executes LIST on one server and upserts every group
// name, preserving existing watch flags, in one transaction.
func (ix *Indexer) runListGroups(task *Task) error {
	pool, err := ix.pool(task.Server)
	if err != nil {
		return err
	}
	conn, err := pool.Get()
	if err != nil {
		return err
	}
	groups, err := conn.ListGroups()
	pool.Put(conn)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(groups))
	for i := range groups {
		names = append(names, groups[i].Name)
	}
	if err := ix.db.UpsertGroups(names); err != nil {
		return err
	}
	log.Printf("[WORKER] %s stored %d groups", task, len(names))
	return nil
}

// runFetchRange executes one XOVER chunk: select group, fetch the
// overview lines, decode and persist them, match subjects to segments.
// Article-level failures drop only that article, never the range.
func (ix *Indexer) runFetchRange(task *Task) error {
	if task.Lo > task.Hi {
		return nil
	}
	pool, err := ix.pool(task.Server)
	if err != nil {
		return err
	}
	conn, err := pool.Get()
	if err != nil {
		return err
	}

	_, err = conn.SelectGroup(task.Group)
	if err != nil {
		pool.Put(conn)
		if errors.Is(err, nntp.ErrNewsgroupNotFound) {
			log.Printf("[WORKER] %s: group vanished on server, marking missing", task)
			ix.seen.Forget(task.Group)
			if dbErr := ix.db.MarkGroupMissing(task.Group); dbErr != nil {
				log.Printf("[WORKER] failed to mark group '%s' missing: %v", task.Group, dbErr)
			}
			return nil // drop task
		}
		return err
	}

	overviews, err := conn.XOver(task.Lo, task.Hi)
	pool.Put(conn)
	if err != nil {
		return err
	}

	// skip numbers a previous chunk of this run already ingested
	fresh := overviews[:0]
	for i := range overviews {
		if !ix.seen.Seen(task.Group, overviews[i].ArticleNum) {
			fresh = append(fresh, overviews[i])
		}
	}

	entries := ix.decodeOverviews(task.Group, fresh)
	if len(entries) == 0 {
		return nil // empty XOVER response is a no-op
	}
	if err := ix.db.IngestBatch(task.Group, entries); err != nil {
		return err
	}
	numbers := make([]int64, 0, len(entries))
	for i := range entries {
		numbers = append(numbers, entries[i].Number)
	}
	ix.seen.MarkSeen(task.Group, numbers)
	log.Printf("[WORKER] %s ingested %d/%d articles", task, len(entries), len(overviews))
	return nil
}

// decodeOverviews turns raw XOVER lines into ingest entries, in
// server-returned order. Subjects and posters run through the charset
// fallback chain (lossy decodes are ingested with a warning);
// unparseable dates reject the article.
func (ix *Indexer) decodeOverviews(group string, overviews []models.Overview) []database.IngestEntry {
	entries := make([]database.IngestEntry, 0, len(overviews))
	for i := range overviews {
		ov := &overviews[i]
		if ov.MessageID == "" {
			continue
		}

		posted, err := utils.ParseNNTPDate(ov.Date)
		if err != nil {
			log.Printf("[WORKER] dropping article %s in '%s': %v", ov.MessageID, group, err)
			continue
		}

		subject, lossy := utils.DecodeHeaderField(ov.Subject)
		if lossy {
			log.Printf("[WORKER] WARN: lossy subject decode for %s in '%s'", ov.MessageID, group)
		}
		poster, lossy := utils.DecodeHeaderField(ov.From)
		if lossy {
			log.Printf("[WORKER] WARN: lossy poster decode for %s in '%s'", ov.MessageID, group)
		}

		bytes := ov.Bytes
		if bytes < 0 {
			bytes = 0
		}

		entry := database.IngestEntry{
			Number: ov.ArticleNum,
			Article: models.Article{
				MessageID: ov.MessageID,
				Subject:   subject,
				Poster:    poster,
				Posted:    posted,
				Bytes:     bytes,
			},
		}
		if seg, _, ok := ix.registry.Match(group, subject); ok {
			seg.MessageID = ov.MessageID
			entry.Segment = &seg
		}
		entries = append(entries, entry)
	}
	return entries
}
