package csql

import (
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		driver, uri        string
		wantDriver, wantDS string
		wantErr            bool
	}{
		{"", "postgres://user@localhost/items", DriverPostgres, "postgres://user@localhost/items", false},
		{"", "postgresql://user@localhost/items", DriverPostgres, "postgresql://user@localhost/items", false},
		{"", "host=localhost port=5432 dbname=items sslmode=disable", DriverPostgres, "host=localhost port=5432 dbname=items sslmode=disable", false},
		{"pgx", "postgres://user@localhost/items", DriverPgx, "postgres://user@localhost/items", false},
		{"", "sqlite:///var/lib/items.db", DriverSqlite, "/var/lib/items.db", false},
		{"", "sqlite://items.db", DriverSqlite, "items.db", false},
		{"", "file:items?cache=shared", DriverSqlite, "file:items?cache=shared", false},
		{"", "items.db", DriverSqlite, "items.db", false},
		{"", "mysql://root@localhost/items", "", "", true},
		{"oracle", "postgres://user@localhost/items", "", "", true},
		{"", "", "", "", true},
	}
	for _, tt := range tests {
		driver, ds, err := ParseURI(tt.driver, tt.uri)
		if tt.wantErr {
			assert.Error(t, err, tt.uri)
			continue
		}
		require.NoError(t, err, tt.uri)
		assert.Equal(t, tt.wantDriver, driver, tt.uri)
		assert.Equal(t, tt.wantDS, ds, tt.uri)
	}
}

func TestOpenSqlite(t *testing.T) {
	db, err := OpenURI("", "sqlite://"+filepath.Join(t.TempDir(), "items.db"), "ignored")
	require.NoError(t, err)
	defer db.Close()

	assert.True(t, db.IsSqlite())
	assert.Equal(t, "", db.Schema)
	assert.Equal(t, `"things"`, db.Table("things"))

	_, err = db.Exec(`CREATE TABLE things (id TEXT PRIMARY KEY)`)
	require.NoError(t, err)
	_, err = db.Exec(db.Rebind(`INSERT INTO things (id) VALUES (?)`), "a")
	require.NoError(t, err)
	require.NoError(t, db.ClearTable("things"))

	var count int
	require.NoError(t, db.Get(&count, `SELECT count(*) FROM things`))
	assert.Equal(t, 0, count)
}

func TestNewWithDBPostgresDialect(t *testing.T) {
	mockDB, _, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	db := NewWithDB(mockDB, DriverPostgres, "")
	assert.Equal(t, "public", db.Schema)
	assert.False(t, db.IsSqlite())
	assert.Equal(t, `"public"."items"`, db.Table("items"))
	assert.Equal(t, `SELECT * FROM t WHERE a = $1 AND b = $2`, db.Rebind(`SELECT * FROM t WHERE a = ? AND b = ?`))
}

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, `"a""b"`, QuoteIdentifier(`a"b`))
}
