package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// uniqueViolation is the SQLSTATE of a unique constraint violation.
const uniqueViolation = "23505"

type dialect struct{}

func (dialect) Name() string { return "postgres" }

func (dialect) Schema(profiles, logs string) []string {
	return []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			user_id VARCHAR(255) PRIMARY KEY,
			version BIGINT NOT NULL,
			data TEXT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`, profiles),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			user_id VARCHAR(255) NOT NULL,
			tag_name VARCHAR(255) NOT NULL,
			triggers TEXT NOT NULL,
			history TEXT NOT NULL,
			evidence TEXT NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (user_id, tag_name)
		)`, logs),
	}
}

func (dialect) UpsertLog(logs string) string {
	return fmt.Sprintf(`
		INSERT INTO %s (user_id, tag_name, triggers, history, evidence, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, tag_name) DO UPDATE SET
			triggers = EXCLUDED.triggers,
			history = EXCLUDED.history,
			evidence = EXCLUDED.evidence,
			updated_at = EXCLUDED.updated_at`, logs)
}

// Rebind numbers ? placeholders starting from $1.
func (dialect) Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	argIndex := 1
	for _, r := range query {
		if r == '?' {
			fmt.Fprintf(&b, "$%d", argIndex)
			argIndex++
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (dialect) IsDuplicateKey(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
