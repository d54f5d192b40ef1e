// Package oceanbase provides the OceanBase repository backend over the
// MySQL wire protocol.
package oceanbase

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/go-sql-driver/mysql"

	"github.com/oceanbase/tagprofile-go/pkg/storage/sqlstore"
)

// Config contains OceanBase configuration.
type Config struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	TablePrefix string
}

// Client is a storage.Repository backed by OceanBase (or any MySQL
// compatible server).
type Client struct {
	*sqlstore.Store
}

// NewClient creates a new OceanBase client.
func NewClient(ctx context.Context, cfg *Config, logger *slog.Logger) (*Client, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
	}

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
	}

	store, err := sqlstore.New(ctx, db, dialect{}, cfg.TablePrefix, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
	}
	return &Client{Store: store}, nil
}
