package model

import (
	"context"
	"fmt"
	"strings"

	"github.com/relabs-tech/itemsvc/core/csql"
)

var postgresTypes = map[FieldType]string{
	TypeString:   "varchar",
	TypeText:     "text",
	TypeInteger:  "bigint",
	TypeNumber:   "double precision",
	TypeBoolean:  "boolean",
	TypeDate:     "date",
	TypeDateTime: "timestamptz",
}

// the sqlite driver parses DATE and DATETIME columns back into time.Time
var sqliteTypes = map[FieldType]string{
	TypeString:   "TEXT",
	TypeText:     "TEXT",
	TypeInteger:  "INTEGER",
	TypeNumber:   "REAL",
	TypeBoolean:  "BOOLEAN",
	TypeDate:     "DATE",
	TypeDateTime: "DATETIME",
}

// ColumnType returns the sql column type of field type t for the database
func ColumnType(db *csql.DB, t FieldType) string {
	if db.IsSqlite() {
		return sqliteTypes[t]
	}
	return postgresTypes[t]
}

func columnDefinition(db *csql.DB, f Field, withConstraints bool) string {
	def := csql.QuoteIdentifier(f.Name) + " " + ColumnType(db, f.Type)
	if withConstraints && f.Required {
		def += " NOT NULL"
	}
	return def
}

// CreateTableQuery returns the query which creates the item table if it does not exist yet
func (m *Model) CreateTableQuery(db *csql.DB) string {
	id := m.IDField()
	columns := []string{}
	for _, f := range m.description.Fields {
		def := columnDefinition(db, f, true)
		if f.Name == id.Name {
			def = csql.QuoteIdentifier(f.Name) + " " + ColumnType(db, f.Type) + " NOT NULL PRIMARY KEY"
		}
		columns = append(columns, def)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s);", db.Table(m.Table()), strings.Join(columns, ", "))
}

// AddColumnQuery returns the query which adds the column for field f to the item table.
// Added columns are nullable as the table may already hold rows.
func (m *Model) AddColumnQuery(db *csql.DB, f Field) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s;", db.Table(m.Table()), columnDefinition(db, f, false))
}

// tableColumns returns the names of the existing columns of the item table
func (m *Model) tableColumns(ctx context.Context, db *csql.DB) (map[string]bool, error) {
	var names []string
	var err error
	if db.IsSqlite() {
		err = db.SelectContext(ctx, &names, db.Rebind(`SELECT name FROM pragma_table_info(?);`), m.Table())
	} else {
		err = db.SelectContext(ctx, &names,
			db.Rebind(`SELECT column_name FROM information_schema.columns WHERE table_schema = ? AND table_name = ?;`),
			db.Schema, m.Table())
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read columns of %s: %w", m.Table(), err)
	}
	columns := make(map[string]bool, len(names))
	for _, name := range names {
		columns[name] = true
	}
	return columns, nil
}
