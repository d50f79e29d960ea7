// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package store is the data access layer of the item service.

A Session is a unit of work on top of one SQL transaction. Items loaded
through a session are tracked: mutations with SetValues, items scheduled
with Add and Delete are written to the database on Commit, in the order
inserts, updates, deletes. A session which is closed without commit is
rolled back.

	session, err := st.Begin(ctx)
	if err != nil {
		return err
	}
	defer session.Close()
	item, err := session.LoadItem(ctx, id)
	...
	item.SetValues(values)
	return session.Commit(ctx)
*/
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/relabs-tech/itemsvc/core/csql"
	"github.com/relabs-tech/itemsvc/core/logger"
	"github.com/relabs-tech/itemsvc/core/model"
)

// Store gives access to the items of one model
type Store struct {
	db    *csql.DB
	model *model.Model
	table string
}

// New returns a store for model m in db. The table must exist, see model.Create.
func New(db *csql.DB, m *model.Model) *Store {
	return &Store{db: db, model: m, table: db.Table(m.Table())}
}

// Model returns the model of the store
func (s *Store) Model() *model.Model {
	return s.model
}

// CreateItem returns a new item with values. The item is not attached to
// any session, use Session.Add to schedule its insertion.
func (s *Store) CreateItem(values model.Values) *Item {
	item := &Item{store: s, values: model.Values{}}
	for k, v := range values {
		item.values[k] = v
	}
	return item
}

// Begin starts a new session
func (s *Store) Begin(ctx context.Context) (*Session, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Session{store: s, tx: tx}, nil
}

// Item is a single row of the item table
type Item struct {
	store      *Store
	values     model.Values
	persistent bool
	dirty      bool
	deleted    bool
}

// ID returns the identifier of the item, nil if it has none
func (i *Item) ID() interface{} {
	return i.values[i.store.model.IDField().Name]
}

// Values returns a copy of the values of the item
func (i *Item) Values() model.Values {
	values := make(model.Values, len(i.values))
	for k, v := range i.values {
		values[k] = v
	}
	return values
}

// SetValues merges values into the item. The identifier and keys which are not
// fields of the model are ignored. Changes of a loaded item are written on commit.
func (i *Item) SetValues(values model.Values) {
	id := i.store.model.IDField().Name
	for k, v := range values {
		if k == id {
			continue
		}
		if _, ok := i.store.model.Field(k); !ok {
			continue
		}
		i.values[k] = v
		i.dirty = true
	}
}

// Session is a unit of work. It is not safe for concurrent use.
type Session struct {
	store    *Store
	tx       *sqlx.Tx
	loaded   []*Item
	added    []*Item
	deleted  []*Item
	finished bool
}

// LoadItems returns all items ordered by identifier
func (s *Session) LoadItems(ctx context.Context) ([]*Item, error) {
	m := s.store.model
	query := `SELECT * FROM ` + s.store.table + ` ORDER BY ` + csql.QuoteIdentifier(m.IDField().Name) + `;`
	rows, err := s.tx.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", m.Resource(), err)
	}
	defer rows.Close()
	items := []*Item{}
	for rows.Next() {
		row := map[string]interface{}{}
		if err = rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("scan %s: %w", m.Name(), err)
		}
		items = append(items, s.track(m.Scan(row)))
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("load %s: %w", m.Resource(), err)
	}
	return items, nil
}

// LoadItem returns the item with identifier id, or nil if there is no such item
func (s *Session) LoadItem(ctx context.Context, id interface{}) (*Item, error) {
	m := s.store.model
	query := s.tx.Rebind(`SELECT * FROM ` + s.store.table + ` WHERE ` + csql.QuoteIdentifier(m.IDField().Name) + `=?;`)
	row := map[string]interface{}{}
	err := s.tx.QueryRowxContext(ctx, query, id).MapScan(row)
	if errors.Is(err, csql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s %v: %w", m.Name(), id, err)
	}
	return s.track(m.Scan(row)), nil
}

func (s *Session) track(values model.Values) *Item {
	item := &Item{store: s.store, values: values, persistent: true}
	s.loaded = append(s.loaded, item)
	return item
}

// Add schedules the insertion of item
func (s *Session) Add(item *Item) {
	s.added = append(s.added, item)
}

// Delete schedules the deletion of item
func (s *Session) Delete(item *Item) {
	item.deleted = true
	s.deleted = append(s.deleted, item)
}

// Commit writes all scheduled changes and commits the transaction. On error the
// session stays open, the caller is expected to roll back.
func (s *Session) Commit(ctx context.Context) error {
	if s.finished {
		return sql.ErrTxDone
	}
	for _, item := range s.added {
		if item.deleted {
			continue
		}
		if err := s.insert(ctx, item); err != nil {
			return err
		}
	}
	for _, item := range s.loaded {
		if !item.dirty || item.deleted {
			continue
		}
		if err := s.update(ctx, item); err != nil {
			return err
		}
	}
	for _, item := range s.deleted {
		if !item.persistent {
			continue
		}
		if err := s.delete(ctx, item); err != nil {
			return err
		}
	}
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.finished = true
	for _, item := range s.added {
		item.persistent = true
	}
	for _, item := range s.loaded {
		item.dirty = false
	}
	return nil
}

// Rollback aborts the transaction. Rolling back a finished session is not an error.
func (s *Session) Rollback() error {
	if s.finished {
		return nil
	}
	s.finished = true
	err := s.tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// Close rolls back the session unless it was committed
func (s *Session) Close() {
	if err := s.Rollback(); err != nil {
		logger.Default().WithError(err).Errorln("close session")
	}
}

// columns returns the model columns with a value in values, the identifier first
func (s *Session) columns(values model.Values, withID bool) ([]string, []interface{}) {
	var (
		names []string
		args  []interface{}
	)
	id := s.store.model.IDField().Name
	for _, f := range s.store.model.Fields() {
		if f.Name == id && !withID {
			continue
		}
		v, ok := values[f.Name]
		if !ok {
			continue
		}
		names = append(names, f.Name)
		args = append(args, v)
	}
	return names, args
}

func (s *Session) insert(ctx context.Context, item *Item) error {
	m := s.store.model
	if item.ID() == nil {
		return fmt.Errorf("insert %s: missing %s", m.Name(), m.IDField().Name)
	}
	names, args := s.columns(item.values, true)
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = csql.QuoteIdentifier(name)
	}
	query := s.tx.Rebind(`INSERT INTO ` + s.store.table + ` (` + strings.Join(quoted, ",") +
		`) VALUES (` + strings.TrimSuffix(strings.Repeat("?,", len(names)), ",") + `);`)
	if _, err := s.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %s %v: %w", m.Name(), item.ID(), err)
	}
	return nil
}

func (s *Session) update(ctx context.Context, item *Item) error {
	m := s.store.model
	names, args := s.columns(item.values, false)
	if len(names) == 0 {
		return nil
	}
	assignments := make([]string, len(names))
	for i, name := range names {
		assignments[i] = csql.QuoteIdentifier(name) + "=?"
	}
	query := s.tx.Rebind(`UPDATE ` + s.store.table + ` SET ` + strings.Join(assignments, ",") +
		` WHERE ` + csql.QuoteIdentifier(m.IDField().Name) + `=?;`)
	if _, err := s.tx.ExecContext(ctx, query, append(args, item.ID())...); err != nil {
		return fmt.Errorf("update %s %v: %w", m.Name(), item.ID(), err)
	}
	return nil
}

func (s *Session) delete(ctx context.Context, item *Item) error {
	m := s.store.model
	query := s.tx.Rebind(`DELETE FROM ` + s.store.table + ` WHERE ` + csql.QuoteIdentifier(m.IDField().Name) + `=?;`)
	if _, err := s.tx.ExecContext(ctx, query, item.ID()); err != nil {
		return fmt.Errorf("delete %s %v: %w", m.Name(), item.ID(), err)
	}
	return nil
}
