package db

import (
	"testing"

	"github.com/smallbiznis/acpgateway/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	cfg := config.Config{
		DBType:     "PostgreSQL",
		DBHost:     "db",
		DBPort:     "5432",
		DBName:     "acp",
		DBUser:     "acp",
		DBPassword: "secret",
		DBSSLMode:  "disable",
	}
	dsn, err := DSN(cfg)
	require.NoError(t, err)
	assert.Equal(t, "host=db port=5432 user=acp password=secret dbname=acp sslmode=disable TimeZone=UTC", dsn)

	cfg.DBType = "mysql"
	dsn, err = DSN(cfg)
	require.NoError(t, err)
	assert.Equal(t, "acp:secret@tcp(db:5432)/acp?charset=utf8mb4&parseTime=True&loc=UTC", dsn)

	cfg.DBType = "sqlite"
	dsn, err = DSN(cfg)
	require.NoError(t, err)
	assert.Equal(t, "file:acp.db?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", dsn)
}

func TestDialectRejectsUnknownType(t *testing.T) {
	_, err := Dialect(config.Config{DBType: "oracle"})
	assert.EqualError(t, err, `unsupported database type "oracle"`)
}
