package database

import (
	"database/sql"

	"github.com/go-while/go-nzbindex/internal/models"
)

// UpsertSegment writes a segment for an article at most once; an
// existing row is kept.
func (d *Database) UpsertSegment(seg *models.Segment) error {
	return d.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			"INSERT OR IGNORE INTO segments(message_id, release_name, file_name, file_total, file_number, part_total, part_number) VALUES (?, ?, ?, ?, ?, ?, ?)",
			seg.MessageID, seg.ReleaseName, seg.FileName,
			seg.FileTotal, seg.FileNumber, seg.PartTotal, seg.PartNumber)
		return err
	})
}

// UpsertSegments writes many segments in one transaction, keeping
// existing rows.
func (d *Database) UpsertSegments(segments []models.Segment) error {
	if len(segments) == 0 {
		return nil
	}
	return d.withTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(
			"INSERT OR IGNORE INTO segments(message_id, release_name, file_name, file_total, file_number, part_total, part_number) VALUES (?, ?, ?, ?, ?, ?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i := range segments {
			s := &segments[i]
			if _, err := stmt.Exec(s.MessageID, s.ReleaseName, s.FileName,
				s.FileTotal, s.FileNumber, s.PartTotal, s.PartNumber); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetSegment fetches the segment row for one article.
func (d *Database) GetSegment(messageID string) (*models.Segment, error) {
	var s models.Segment
	err := retryableQueryRowScan(d.db,
		"SELECT message_id, release_name, file_name, file_total, file_number, part_total, part_number FROM segments WHERE message_id = ?",
		[]interface{}{messageID}, &s.MessageID, &s.ReleaseName, &s.FileName,
		&s.FileTotal, &s.FileNumber, &s.PartTotal, &s.PartNumber)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ReleaseList returns the distinct release names, sorted.
func (d *Database) ReleaseList() ([]string, error) {
	rows, err := retryableQuery(d.db,
		"SELECT release_name FROM segments GROUP BY release_name ORDER BY release_name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var releases []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		releases = append(releases, name)
	}
	return releases, rows.Err()
}

// ReleaseFiles returns the distinct file names of one release, sorted.
func (d *Database) ReleaseFiles(release string) ([]string, error) {
	rows, err := retryableQuery(d.db,
		"SELECT file_name FROM segments WHERE release_name = ? GROUP BY file_name ORDER BY file_name",
		release)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		files = append(files, name)
	}
	return files, rows.Err()
}

// ReleaseFileParts returns the segments of one file within a release,
// ordered by file and part number.
func (d *Database) ReleaseFileParts(release, file string) ([]models.Segment, error) {
	rows, err := retryableQuery(d.db,
		"SELECT message_id, release_name, file_name, file_total, file_number, part_total, part_number "+
			"FROM segments WHERE release_name = ? AND file_name = ? ORDER BY file_number, part_number",
		release, file)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var segments []models.Segment
	for rows.Next() {
		var s models.Segment
		if err := rows.Scan(&s.MessageID, &s.ReleaseName, &s.FileName,
			&s.FileTotal, &s.FileNumber, &s.PartTotal, &s.PartNumber); err != nil {
			return nil, err
		}
		segments = append(segments, s)
	}
	return segments, rows.Err()
}

// MissingParts lists the part numbers of a file that are not indexed
// yet, judged against the highest part_total seen for that file.
// Files whose part_total is still unknown report nothing missing.
func (d *Database) MissingParts(release, file string) ([]int, error) {
	segments, err := d.ReleaseFileParts(release, file)
	if err != nil {
		return nil, err
	}
	partTotal := 0
	have := make(map[int]bool, len(segments))
	for _, s := range segments {
		if s.PartTotal > partTotal {
			partTotal = s.PartTotal
		}
		if s.PartNumber > 0 {
			have[s.PartNumber] = true
		}
	}
	var missing []int
	for n := 1; n <= partTotal; n++ {
		if !have[n] {
			missing = append(missing, n)
		}
	}
	return missing, nil
}

// SegmentCount returns the number of matched segments.
func (d *Database) SegmentCount() (int64, error) {
	var n int64
	err := retryableQueryRowScan(d.db, "SELECT COUNT(*) FROM segments", nil, &n)
	return n, err
}
