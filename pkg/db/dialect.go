package db

import (
	"fmt"
	"strings"

	"github.com/smallbiznis/acpgateway/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Dialect picks the gorm driver for DATABASE_TYPE. Postgres is the
// multi-instance target; sqlite serves single-instance installs.
func Dialect(cfg config.Config) (gorm.Dialector, error) {
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}
	switch normalizeType(cfg.DBType) {
	case "mysql":
		return mysql.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	default:
		return postgres.Open(dsn), nil
	}
}

// DSN renders the connection string. All drivers are pinned to UTC so
// session timestamps compare consistently across instances.
func DSN(cfg config.Config) (string, error) {
	switch normalizeType(cfg.DBType) {
	case "postgres":
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode,
		), nil
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName,
		), nil
	case "sqlite":
		path := strings.TrimSpace(cfg.DBPath)
		if path == "" {
			path = "acp.db"
		}
		// Concurrent session writers wait on the file lock instead of
		// failing with SQLITE_BUSY.
		return "file:" + path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", nil
	default:
		return "", fmt.Errorf("unsupported database type %q", cfg.DBType)
	}
}

func normalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "postgresql" {
		return "postgres"
	}
	return t
}
