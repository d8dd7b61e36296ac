package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/zulandar/marketyard/internal/config"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MySQL and PostgreSQL error codes for unique-key violations.
const (
	mysqlErrDuplicateEntry = 1062
	pgErrUniqueViolation   = "23505"
)

// MySQLDSN builds a MySQL-compatible DSN (MySQL or Dolt).
func MySQLDSN(user, password, host string, port int, database string) string {
	cfg := mysql.NewConfig()
	cfg.User = user
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", host, port)
	cfg.DBName = database
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

// PostgresDSN builds a libpq keyword/value DSN.
func PostgresDSN(user, password, host string, port int, database string) string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=disable", host, port, user, database)
	if password != "" {
		dsn += " password=" + password
	}
	return dsn
}

// SQLiteDSN returns the DSN for a SQLite file, with a busy timeout so
// concurrent writers wait instead of failing.
func SQLiteDSN(path string) string {
	if path == ":memory:" || strings.Contains(path, "?") {
		return path
	}
	return path + "?_busy_timeout=5000"
}

// Dialector returns the gorm dialector for the configured driver.
func Dialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case config.DriverMySQL:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = MySQLDSN(cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name)
		}
		return gormmysql.Open(dsn), nil
	case config.DriverPostgres:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = PostgresDSN(cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name)
		}
		return postgres.Open(dsn), nil
	case config.DriverSQLite, "":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = SQLiteDSN(cfg.Name)
		}
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", cfg.Driver)
	}
}

// Connect opens a GORM connection for the configured driver.
func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}
	level := logger.Silent
	if cfg.LogSQL {
		level = logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect to %s %s: %w", cfg.Driver, describe(cfg), err)
	}
	if cfg.Driver == config.DriverSQLite || cfg.Driver == "" {
		// SQLite allows one writer; a single connection keeps :memory:
		// databases shared and serialises writers.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("db: sqlite pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

func describe(cfg config.DatabaseConfig) string {
	if cfg.Driver == config.DriverSQLite || cfg.Driver == "" {
		return cfg.Name
	}
	return fmt.Sprintf("%s:%d/%s", cfg.Host, cfg.Port, cfg.Name)
}

// IsUniqueViolation reports whether err is a unique-key violation from any
// supported driver.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlErrDuplicateEntry
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
