package oceanbase

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// errDupEntry is the MySQL error number for a duplicate key.
const errDupEntry = 1062

type dialect struct{}

func (dialect) Name() string { return "oceanbase" }

// Schema keeps key columns at 191 characters so utf8mb4 indexes fit.
func (dialect) Schema(profiles, logs string) []string {
	return []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			user_id VARCHAR(191) PRIMARY KEY,
			version BIGINT NOT NULL,
			data LONGTEXT NOT NULL,
			created_at DATETIME(6),
			updated_at DATETIME(6)
		)`, profiles),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			user_id VARCHAR(191) NOT NULL,
			tag_name VARCHAR(191) NOT NULL,
			triggers LONGTEXT NOT NULL,
			history LONGTEXT NOT NULL,
			evidence LONGTEXT NOT NULL,
			updated_at DATETIME(6),
			PRIMARY KEY (user_id, tag_name)
		)`, logs),
	}
}

func (dialect) UpsertLog(logs string) string {
	return fmt.Sprintf(`
		INSERT INTO %s (user_id, tag_name, triggers, history, evidence, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			triggers = VALUES(triggers),
			history = VALUES(history),
			evidence = VALUES(evidence),
			updated_at = VALUES(updated_at)`, logs)
}

func (dialect) Rebind(query string) string { return query }

func (dialect) IsDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == errDupEntry
}
