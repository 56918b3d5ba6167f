package database

import (
	"database/sql"
	"fmt"

	"github.com/go-while/go-nzbindex/internal/models"
)

// IngestEntry is one decoded overview record ready for persistence.
// Segment is nil when no matcher captured the subject.
type IngestEntry struct {
	Number  int64
	Article models.Article
	Segment *models.Segment
}

// IngestBatch persists one XOVER range in a single transaction:
// article rows are insert-or-ignore (attributes immutable once set),
// group index rows are insert-or-replace so a re-offered number after
// server-side expiry adopts the new message-id, segments are written
// at most once per article.
func (d *Database) IngestBatch(group string, entries []IngestEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return d.withTx(func(tx *sql.Tx) error {
		insArticle, err := tx.Prepare(
			"INSERT OR IGNORE INTO articles(message_id, subject, poster, posted, bytes) VALUES (?, ?, ?, ?, ?)")
		if err != nil {
			return err
		}
		defer insArticle.Close()

		insIndex, err := tx.Prepare(
			"INSERT OR REPLACE INTO group_articles(group_name, number, message_id) VALUES (?, ?, ?)")
		if err != nil {
			return err
		}
		defer insIndex.Close()

		insSegment, err := tx.Prepare(
			"INSERT OR IGNORE INTO segments(message_id, release_name, file_name, file_total, file_number, part_total, part_number) VALUES (?, ?, ?, ?, ?, ?, ?)")
		if err != nil {
			return err
		}
		defer insSegment.Close()

		for i := range entries {
			e := &entries[i]
			a := &e.Article
			if _, err := insArticle.Exec(a.MessageID, a.Subject, a.Poster, a.Posted.UTC(), a.Bytes); err != nil {
				return fmt.Errorf("failed to upsert article '%s': %w", a.MessageID, err)
			}
			if _, err := insIndex.Exec(group, e.Number, a.MessageID); err != nil {
				return fmt.Errorf("failed to upsert group index (%s,%d): %w", group, e.Number, err)
			}
			if e.Segment != nil {
				s := e.Segment
				if _, err := insSegment.Exec(a.MessageID, s.ReleaseName, s.FileName,
					s.FileTotal, s.FileNumber, s.PartTotal, s.PartNumber); err != nil {
					return fmt.Errorf("failed to upsert segment '%s': %w", a.MessageID, err)
				}
			}
		}
		return nil
	})
}

// MaxIndexed returns the highest article number indexed for a group,
// or 0 when nothing is indexed yet.
func (d *Database) MaxIndexed(group string) (int64, error) {
	var max sql.NullInt64
	err := retryableQueryRowScan(d.db,
		"SELECT MAX(number) FROM group_articles WHERE group_name = ?",
		[]interface{}{group}, &max)
	if err != nil {
		return 0, fmt.Errorf("failed to query max indexed for '%s': %w", group, err)
	}
	if !max.Valid {
		return 0, nil
	}
	return max.Int64, nil
}

// IndexedNumbers returns the sorted article numbers already indexed
// for a group within [lo, hi]. The planner subtracts this covered set
// from the server range.
func (d *Database) IndexedNumbers(group string, lo, hi int64) ([]int64, error) {
	rows, err := retryableQuery(d.db,
		"SELECT number FROM group_articles WHERE group_name = ? AND number BETWEEN ? AND ? ORDER BY number",
		group, lo, hi)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var numbers []int64
	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		numbers = append(numbers, n)
	}
	return numbers, rows.Err()
}

// GetArticle fetches one article row by message-id.
func (d *Database) GetArticle(messageID string) (*models.Article, error) {
	var a models.Article
	err := retryableQueryRowScan(d.db,
		"SELECT message_id, subject, poster, posted, bytes FROM articles WHERE message_id = ?",
		[]interface{}{messageID}, &a.MessageID, &a.Subject, &a.Poster, &a.Posted, &a.Bytes)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.Posted = a.Posted.UTC()
	return &a, nil
}

// ListArticles returns articles whose subject contains subjectLike,
// ordered by post date, paginated.
func (d *Database) ListArticles(subjectLike string, limit, offset int) ([]models.Article, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if subjectLike != "" {
		rows, err = retryableQuery(d.db,
			"SELECT message_id, subject, poster, posted, bytes FROM articles WHERE subject LIKE ? ORDER BY posted LIMIT ? OFFSET ?",
			"%"+subjectLike+"%", limit, offset)
	} else {
		rows, err = retryableQuery(d.db,
			"SELECT message_id, subject, poster, posted, bytes FROM articles ORDER BY posted LIMIT ? OFFSET ?",
			limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanArticles(rows)
}

// UnmatchedArticles streams every article that has no segment row to
// fn, in message-id order. Used for offline re-matching after matcher
// template updates. Returning an error from fn stops the iteration.
func (d *Database) UnmatchedArticles(fn func(models.Article) error) error {
	rows, err := retryableQuery(d.db,
		"SELECT a.message_id, a.subject, a.poster, a.posted, a.bytes FROM articles a "+
			"LEFT JOIN segments s ON s.message_id = a.message_id WHERE s.message_id IS NULL "+
			"ORDER BY a.message_id")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var a models.Article
		if err := rows.Scan(&a.MessageID, &a.Subject, &a.Poster, &a.Posted, &a.Bytes); err != nil {
			return err
		}
		a.Posted = a.Posted.UTC()
		if err := fn(a); err != nil {
			return err
		}
	}
	return rows.Err()
}

// ArticleCount returns the number of indexed articles.
func (d *Database) ArticleCount() (int64, error) {
	var n int64
	err := retryableQueryRowScan(d.db, "SELECT COUNT(*) FROM articles", nil, &n)
	if err != nil {
		return 0, fmt.Errorf("failed to count articles: %w", err)
	}
	return n, nil
}

func scanArticles(rows *sql.Rows) ([]models.Article, error) {
	var articles []models.Article
	for rows.Next() {
		var a models.Article
		if err := rows.Scan(&a.MessageID, &a.Subject, &a.Poster, &a.Posted, &a.Bytes); err != nil {
			return nil, err
		}
		a.Posted = a.Posted.UTC()
		articles = append(articles, a)
	}
	return articles, rows.Err()
}
