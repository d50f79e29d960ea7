package model

import (
	"context"
	"fmt"

	"github.com/relabs-tech/itemsvc/core/csql"
	"github.com/relabs-tech/itemsvc/core/logger"
	"github.com/relabs-tech/itemsvc/core/registry"
	"github.com/relabs-tech/itemsvc/core/source"
)

// Loader creates models from domain model descriptions
type Loader struct {
	// Reader reads the description from its location
	Reader source.Reader
}

// Create creates the model with the default loader, see Loader.Create
func Create(ctx context.Context, db *csql.DB, identifier string) (*Model, error) {
	return Loader{}.Create(ctx, db, identifier)
}

// Create reads the domain model description identified by identifier, a local path
// or an s3:// location, and prepares the store for it: the item table is created if
// it does not exist, and columns for fields added since the last start are added.
// It returns ErrNoDomainModel if identifier is empty.
func (l Loader) Create(ctx context.Context, db *csql.DB, identifier string) (*Model, error) {
	if identifier == "" {
		return nil, ErrNoDomainModel
	}
	rlog := logger.FromContext(ctx)
	rlog.Infoln("loading domain model:", identifier)

	data, err := l.Reader.Read(ctx, identifier)
	if err != nil {
		return nil, err
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", identifier, err)
	}
	if err = m.prepareStore(ctx, db); err != nil {
		return nil, err
	}
	rlog.Infof("domain model %s ready with %d fields in table %s", m.Name(), len(m.description.Fields), m.Table())
	return m, nil
}

func (m *Model) prepareStore(ctx context.Context, db *csql.DB) error {
	rlog := logger.FromContext(ctx)

	query := m.CreateTableQuery(db)
	rlog.Debugln("create table:", query)
	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("cannot create table %s: %w", m.Table(), err)
	}

	columns, err := m.tableColumns(ctx, db)
	if err != nil {
		return err
	}
	for _, f := range m.description.Fields {
		if columns[f.Name] {
			continue
		}
		query := m.AddColumnQuery(db, f)
		rlog.Infoln("add column:", query)
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("cannot add column %s to %s: %w", f.Name, m.Table(), err)
		}
	}

	reg, err := registry.New(db)
	if err != nil {
		return err
	}
	models := reg.Accessor("model")
	var previous Description
	timestamp, err := models.Read(m.Name(), &previous)
	if err != nil {
		return err
	}
	if !timestamp.IsZero() {
		for _, change := range m.changesSince(previous) {
			rlog.Warnln("domain model changed since", timestamp.Format("2006-01-02 15:04:05")+":", change)
		}
	}
	return models.Write(m.Name(), m.Description())
}

// changesSince lists the differences to a previous description which the
// store does not follow: removed fields and changed types.
func (m *Model) changesSince(previous Description) []string {
	var changes []string
	for _, f := range previous.Fields {
		current, ok := m.byName[f.Name]
		if !ok {
			changes = append(changes, fmt.Sprintf("field %s was removed, its column is kept", f.Name))
			continue
		}
		if current.Type != f.Type {
			changes = append(changes, fmt.Sprintf("field %s changed type from %s to %s, its column is kept", f.Name, f.Type, current.Type))
		}
	}
	return changes
}
