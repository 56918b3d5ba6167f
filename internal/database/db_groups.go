package database

import (
	"database/sql"
	"fmt"

	"github.com/go-while/go-nzbindex/internal/models"
)

// UpsertGroup inserts a group if it is not known yet. Existing rows,
// including their watch flag, are left untouched.
func (d *Database) UpsertGroup(name string) error {
	return d.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT OR IGNORE INTO groups(group_name) VALUES (?)", name)
		return err
	})
}

// UpsertGroups inserts every unknown group name in one transaction.
// Watch flags of existing rows are preserved; a group answering LIST
// again also clears its missing flag.
func (d *Database) UpsertGroups(names []string) error {
	if len(names) == 0 {
		return nil
	}
	return d.withTx(func(tx *sql.Tx) error {
		insert, err := tx.Prepare("INSERT OR IGNORE INTO groups(group_name) VALUES (?)")
		if err != nil {
			return err
		}
		defer insert.Close()
		revive, err := tx.Prepare("UPDATE groups SET missing = 0 WHERE group_name = ? AND missing = 1")
		if err != nil {
			return err
		}
		defer revive.Close()
		for _, name := range names {
			if _, err := insert.Exec(name); err != nil {
				return err
			}
			if _, err := revive.Exec(name); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetWatch updates the watch flag and reports whether the group row
// existed.
func (d *Database) SetWatch(name string, watch bool) (bool, error) {
	existed := false
	err := d.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec("UPDATE groups SET watch = ? WHERE group_name = ?", watch, name)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		existed = n > 0
		return nil
	})
	return existed, err
}

// MarkGroupMissing flags a group the server answered 411 for.
// The indexed articles stay; the planner skips missing groups.
func (d *Database) MarkGroupMissing(name string) error {
	return d.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec("UPDATE groups SET missing = 1 WHERE group_name = ?", name)
		return err
	})
}

// GetGroup fetches one group row.
func (d *Database) GetGroup(name string) (*models.Group, error) {
	var g models.Group
	err := retryableQueryRowScan(d.db,
		"SELECT group_name, watch, missing FROM groups WHERE group_name = ?",
		[]interface{}{name}, &g.Name, &g.Watch, &g.Missing)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// Watched returns every group with the watch flag set.
func (d *Database) Watched() ([]models.Group, error) {
	rows, err := retryableQuery(d.db,
		"SELECT group_name, watch, missing FROM groups WHERE watch ORDER BY group_name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGroups(rows)
}

// ListGroups returns groups whose name contains filter, paginated.
func (d *Database) ListGroups(filter string, limit, offset int) ([]models.Group, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if filter != "" {
		rows, err = retryableQuery(d.db,
			"SELECT group_name, watch, missing FROM groups WHERE group_name LIKE ? ORDER BY group_name LIMIT ? OFFSET ?",
			"%"+filter+"%", limit, offset)
	} else {
		rows, err = retryableQuery(d.db,
			"SELECT group_name, watch, missing FROM groups ORDER BY group_name LIMIT ? OFFSET ?",
			limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGroups(rows)
}

// GroupCount returns the number of known groups.
func (d *Database) GroupCount() (int64, error) {
	var n int64
	err := retryableQueryRowScan(d.db, "SELECT COUNT(*) FROM groups", nil, &n)
	if err != nil {
		return 0, fmt.Errorf("failed to count groups: %w", err)
	}
	return n, nil
}

func scanGroups(rows *sql.Rows) ([]models.Group, error) {
	var groups []models.Group
	for rows.Next() {
		var g models.Group
		if err := rows.Scan(&g.Name, &g.Watch, &g.Missing); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}
