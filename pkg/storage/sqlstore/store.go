// Package sqlstore implements storage.Repository on database/sql.
//
// The SQL backends (sqlite, postgres, oceanbase) share this implementation
// and differ only in their Dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oceanbase/tagprofile-go/pkg/storage"
	"github.com/oceanbase/tagprofile-go/pkg/tag"
)

// Dialect captures the SQL differences between backends.
type Dialect interface {
	// Name identifies the backend in errors and logs.
	Name() string

	// Schema returns the statements creating both tables.
	Schema(profiles, logs string) []string

	// UpsertLog returns the insert-or-replace statement for a tag log row
	// with columns (user_id, tag_name, triggers, history, evidence, updated_at).
	UpsertLog(logs string) string

	// Rebind rewrites ? placeholders into the backend's syntax.
	Rebind(query string) string

	// IsDuplicateKey reports whether err is a primary key violation.
	IsDuplicateKey(err error) bool
}

// Store is a Repository over a *sql.DB.
type Store struct {
	db       *sql.DB
	dialect  Dialect
	profiles string
	logs     string
	logger   *slog.Logger
}

// New creates a Store and initializes its tables. Table names are derived
// from prefix as <prefix>_profiles and <prefix>_tag_logs.
func New(ctx context.Context, db *sql.DB, dialect Dialect, prefix string, logger *slog.Logger) (*Store, error) {
	if prefix == "" {
		prefix = "tagprofile"
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		db:       db,
		dialect:  dialect,
		profiles: prefix + "_profiles",
		logs:     prefix + "_tag_logs",
		logger:   logger.With(slog.String("backend", dialect.Name())),
	}
	if err := s.initTables(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) initTables(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema(s.profiles, s.logs) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("initTables: %w", err)
		}
	}
	return nil
}

// LoadProfile returns the stored profile of userID.
func (s *Store) LoadProfile(ctx context.Context, userID string) (*tag.Profile, error) {
	query := s.dialect.Rebind(fmt.Sprintf(`SELECT version, data FROM %s WHERE user_id = ?`, s.profiles))

	var version int64
	var data string
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&version, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("LoadProfile: %w", err)
	}

	p, err := storage.DecodeProfile([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("LoadProfile: decode: %w", err)
	}
	p.Version = version
	return p, nil
}

// LoadTagLog returns the logs of one tag, empty when none are stored.
func (s *Store) LoadTagLog(ctx context.Context, userID, tagName string) (*tag.TagLog, error) {
	query := s.dialect.Rebind(fmt.Sprintf(
		`SELECT triggers, history, evidence FROM %s WHERE user_id = ? AND tag_name = ?`, s.logs))

	var parts storage.LogParts
	var triggers, history, evidence string
	err := s.db.QueryRowContext(ctx, query, userID, tagName).Scan(&triggers, &history, &evidence)
	if errors.Is(err, sql.ErrNoRows) {
		return tag.NewTagLog(tagName), nil
	}
	if err != nil {
		return nil, fmt.Errorf("LoadTagLog: %w", err)
	}
	parts.Triggers, parts.History, parts.Evidence = []byte(triggers), []byte(history), []byte(evidence)
	return s.decodeLog(userID, tagName, parts), nil
}

// ListTagLogs returns every tag log of userID ordered by tag name.
func (s *Store) ListTagLogs(ctx context.Context, userID string) ([]*tag.TagLog, error) {
	query := s.dialect.Rebind(fmt.Sprintf(
		`SELECT tag_name, triggers, history, evidence FROM %s WHERE user_id = ? ORDER BY tag_name`, s.logs))

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("ListTagLogs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*tag.TagLog
	for rows.Next() {
		var name, triggers, history, evidence string
		if err := rows.Scan(&name, &triggers, &history, &evidence); err != nil {
			return nil, fmt.Errorf("ListTagLogs: %w", err)
		}
		out = append(out, s.decodeLog(userID, name, storage.LogParts{
			Triggers: []byte(triggers),
			History:  []byte(history),
			Evidence: []byte(evidence),
		}))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListTagLogs: %w", err)
	}
	return out, nil
}

func (s *Store) decodeLog(userID, tagName string, parts storage.LogParts) *tag.TagLog {
	l, err := storage.DecodeLogParts(tagName, parts)
	if err != nil {
		s.logger.Warn("tag log degraded to empty",
			slog.String("user_id", userID),
			slog.String("tag", tagName),
			slog.Any("error", err))
	}
	return l
}

// Commit writes the profile and tag logs in one transaction. The profile
// write is conditional on ExpectedVersion.
func (s *Store) Commit(ctx context.Context, c *storage.Commit) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Commit: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	if c.Profile != nil {
		if err = s.writeProfile(ctx, tx, c, now); err != nil {
			return err
		}
	}

	if len(c.TagLogs) > 0 {
		upsert := s.dialect.Rebind(s.dialect.UpsertLog(s.logs))
		for _, l := range c.TagLogs {
			parts, encErr := storage.EncodeLogParts(l)
			if encErr != nil {
				err = fmt.Errorf("Commit: encode log %q: %w", l.TagName, encErr)
				return err
			}
			if _, err = tx.ExecContext(ctx, upsert,
				c.UserID, l.TagName, string(parts.Triggers), string(parts.History), string(parts.Evidence), now); err != nil {
				err = fmt.Errorf("Commit: write log %q: %w", l.TagName, err)
				return err
			}
		}
	}

	if err = tx.Commit(); err != nil {
		err = fmt.Errorf("Commit: %w", err)
		return err
	}
	if c.Profile != nil {
		c.Profile.Version = c.ExpectedVersion + 1
	}
	return nil
}

func (s *Store) writeProfile(ctx context.Context, tx *sql.Tx, c *storage.Commit, now time.Time) error {
	// The stored document carries the version it will have once committed.
	snapshot := *c.Profile
	snapshot.Version = c.ExpectedVersion + 1
	data, err := storage.EncodeProfile(&snapshot)
	if err != nil {
		return fmt.Errorf("Commit: encode profile: %w", err)
	}

	if c.ExpectedVersion == 0 {
		query := s.dialect.Rebind(fmt.Sprintf(
			`INSERT INTO %s (user_id, version, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`, s.profiles))
		if _, err := tx.ExecContext(ctx, query, c.UserID, snapshot.Version, string(data), now, now); err != nil {
			if s.dialect.IsDuplicateKey(err) {
				return storage.ErrVersionConflict
			}
			return fmt.Errorf("Commit: insert profile: %w", err)
		}
		return nil
	}

	query := s.dialect.Rebind(fmt.Sprintf(
		`UPDATE %s SET version = ?, data = ?, updated_at = ? WHERE user_id = ? AND version = ?`, s.profiles))
	res, err := tx.ExecContext(ctx, query, snapshot.Version, string(data), now, c.UserID, c.ExpectedVersion)
	if err != nil {
		return fmt.Errorf("Commit: update profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Commit: update profile: %w", err)
	}
	if n == 0 {
		return storage.ErrVersionConflict
	}
	return nil
}

// DeleteUser removes the profile and all tag logs of userID.
func (s *Store) DeleteUser(ctx context.Context, userID string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("DeleteUser: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, table := range []string{s.logs, s.profiles} {
		query := s.dialect.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE user_id = ?`, table))
		if _, err = tx.ExecContext(ctx, query, userID); err != nil {
			err = fmt.Errorf("DeleteUser: %w", err)
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		err = fmt.Errorf("DeleteUser: %w", err)
	}
	return err
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ storage.Repository = (*Store)(nil)
