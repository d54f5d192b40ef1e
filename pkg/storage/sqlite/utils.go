package sqlite

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

type dialect struct{}

func (dialect) Name() string { return "sqlite" }

func (dialect) Schema(profiles, logs string) []string {
	return []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			user_id TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			data TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`, profiles),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			user_id TEXT NOT NULL,
			tag_name TEXT NOT NULL,
			triggers TEXT NOT NULL,
			history TEXT NOT NULL,
			evidence TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, tag_name)
		)`, logs),
	}
}

func (dialect) UpsertLog(logs string) string {
	return fmt.Sprintf(`
		INSERT INTO %s (user_id, tag_name, triggers, history, evidence, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, tag_name) DO UPDATE SET
			triggers = excluded.triggers,
			history = excluded.history,
			evidence = excluded.evidence,
			updated_at = excluded.updated_at`, logs)
}

func (dialect) Rebind(query string) string { return query }

func (dialect) IsDuplicateKey(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || se.ExtendedCode == sqlite3.ErrConstraintUnique
}
