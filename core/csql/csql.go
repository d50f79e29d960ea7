// Package csql opens the relational store behind the item service.
//
// Postgres is reached either through lib/pq (driver "postgres") or pgx (driver
// "pgx"), sqlite through the pure Go modernc driver (driver "sqlite"). Queries
// are written with "?" placeholders and rebound to the dialect with Rebind.
package csql

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // load database driver "pgx"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // load database driver for postgres
	_ "modernc.org/sqlite" // load pure go database driver for sqlite

	"github.com/relabs-tech/itemsvc/core/logger"
)

// supported driver names
const (
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
	DriverSqlite   = "sqlite"
)

func init() {
	// sqlx does not know the modernc driver name, it binds with "?" like sqlite3
	sqlx.BindDriver(DriverSqlite, sqlx.QUESTION)
}

// DB encapsulates a sqlx.DB with a schema
type DB struct {
	*sqlx.DB
	Schema string
}

// ErrNoRows is returned by Scan when QueryRow doesn't return a
// row. In such a case, QueryRow returns a placeholder *Row value that
// defers this error until a Scan.
var ErrNoRows = sql.ErrNoRows

// ParseURI derives the driver name and the driver specific data source name
// from a database URI. An explicit driver overrides the detection.
//
//	postgres://user@host/db         -> postgres
//	host=localhost dbname=items     -> postgres
//	sqlite:///var/lib/items.db      -> sqlite, /var/lib/items.db
//	sqlite://items.db               -> sqlite, items.db
//	file:items.db?cache=shared      -> sqlite
func ParseURI(driver, uri string) (string, string, error) {
	if uri == "" {
		return "", "", fmt.Errorf("database uri is empty")
	}
	dataSourceName := uri
	detected := ""
	switch {
	case strings.HasPrefix(uri, "postgres://"), strings.HasPrefix(uri, "postgresql://"):
		detected = DriverPostgres
	case strings.HasPrefix(uri, "sqlite://"):
		detected = DriverSqlite
		dataSourceName = strings.TrimPrefix(uri, "sqlite://")
	case strings.HasPrefix(uri, "file:"), strings.HasSuffix(uri, ".db"), uri == ":memory:":
		detected = DriverSqlite
	case strings.Contains(uri, "host=") || strings.Contains(uri, "dbname="):
		detected = DriverPostgres
	}
	if driver == "" {
		driver = detected
	}
	switch driver {
	case DriverPostgres, DriverPgx, DriverSqlite:
		return driver, dataSourceName, nil
	case "":
		return "", "", fmt.Errorf("cannot detect database driver for uri '%s'", uri)
	default:
		return "", "", fmt.Errorf("unsupported database driver '%s'", driver)
	}
}

// Open opens the database with driverName and a schema. For postgres the schema
// gets created if it does not exist yet, sqlite has no schemas and ignores it.
func Open(driverName, dataSourceName, schema string) (*DB, error) {
	logger.Default().Infof("connecting to %s database", driverName)
	db, err := sqlx.Open(driverName, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driverName, err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driverName, err)
	}
	if driverName == DriverSqlite {
		// a single connection serializes writers, sqlite would answer SQLITE_BUSY otherwise
		db.SetMaxOpenConns(1)
		if _, err = db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure sqlite: %w", err)
		}
		return &DB{DB: db}, nil
	}

	if len(schema) == 0 {
		schema = "public"
	} else {
		logger.Default().Infoln("selected database schema:", schema)
		_, err = db.Exec(`CREATE schema IF NOT EXISTS ` + QuoteIdentifier(schema) + `;`)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema %s: %w", schema, err)
		}
	}
	return &DB{DB: db, Schema: schema}, nil
}

// OpenURI combines ParseURI and Open
func OpenURI(driver, uri, schema string) (*DB, error) {
	driverName, dataSourceName, err := ParseURI(driver, uri)
	if err != nil {
		return nil, err
	}
	return Open(driverName, dataSourceName, schema)
}

// NewWithDB wraps an already opened database, typically a sqlmock, for the
// given driver name.
func NewWithDB(db *sql.DB, driverName, schema string) *DB {
	if driverName != DriverSqlite && schema == "" {
		schema = "public"
	}
	return &DB{DB: sqlx.NewDb(db, driverName), Schema: schema}
}

// IsSqlite returns true if the database is a sqlite database
func (db *DB) IsSqlite() bool {
	return db.DriverName() == DriverSqlite
}

// Table returns the quoted, schema qualified name of table
func (db *DB) Table(table string) string {
	if db.Schema == "" {
		return QuoteIdentifier(table)
	}
	return QuoteIdentifier(db.Schema) + "." + QuoteIdentifier(table)
}

// QuoteIdentifier quotes a table or column name
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// ClearTable removes all rows from table. Tests use it to start from a clean slate.
func (db *DB) ClearTable(table string) error {
	_, err := db.Exec(`DELETE FROM ` + db.Table(table) + `;`)
	if err != nil {
		logger.Default().WithError(err).Errorln("clear table error:", table)
	}
	return err
}
