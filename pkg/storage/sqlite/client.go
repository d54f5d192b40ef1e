// Package sqlite provides the SQLite repository backend.
//
// SQLite is a file-based database suitable for local development and
// single-node deployments. Profiles and tag logs are stored as JSON text.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/oceanbase/tagprofile-go/pkg/storage/sqlstore"
)

// Config contains configuration for creating a SQLite repository.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// TablePrefix prefixes the profile and tag log table names.
	TablePrefix string

	// BusyTimeoutMs is how long a writer waits for the database lock.
	// Defaults to 5000.
	BusyTimeoutMs int
}

// Client is a storage.Repository backed by SQLite.
type Client struct {
	*sqlstore.Store
}

// NewClient opens (and if needed creates) the database file and its tables.
func NewClient(ctx context.Context, cfg *Config, logger *slog.Logger) (*Client, error) {
	// Create parent directory if it doesn't exist
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("NewSQLiteClient: failed to create directory: %w", err)
		}
	}

	busy := cfg.BusyTimeoutMs
	if busy <= 0 {
		busy = 5000
	}
	// Immediate transactions take the write lock up front, so two
	// concurrent commits queue on the busy timeout instead of deadlocking.
	dsn := fmt.Sprintf("%s?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=%d&_txlock=immediate", cfg.DBPath, busy)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	store, err := sqlstore.New(ctx, db, dialect{}, cfg.TablePrefix, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}
	return &Client{Store: store}, nil
}
