// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package model describes the item resource of a deployment.

The field set of an item is not known at build time. It is read at startup
from a domain model description:

	name: item
	id: id
	fields:
	  - name: id
	    type: string
	  - name: title
	    type: string
	    required: true
	  - name: count
	    type: integer

Items are handled as Values, a mapping from field name to scalar value. The
Model converts values from and to their JSON representation and knows the SQL
column definitions for its table.
*/
package model

import (
	"errors"
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/itemsvc/core"
)

// FieldType is the value type of a field
type FieldType string

// all supported field types
const (
	TypeString   FieldType = "string"
	TypeText     FieldType = "text"
	TypeInteger  FieldType = "integer"
	TypeNumber   FieldType = "number"
	TypeBoolean  FieldType = "boolean"
	TypeDate     FieldType = "date"
	TypeDateTime FieldType = "datetime"
)

// Valid returns true if t is a supported field type
func (t FieldType) Valid() bool {
	switch t {
	case TypeString, TypeText, TypeInteger, TypeNumber, TypeBoolean, TypeDate, TypeDateTime:
		return true
	}
	return false
}

// Field is a single attribute of an item
type Field struct {
	Name     string    `yaml:"name" json:"name"`
	Type     FieldType `yaml:"type" json:"type"`
	Required bool      `yaml:"required,omitempty" json:"required,omitempty"`
}

// Description is the externally supplied domain model description
type Description struct {
	Name   string  `yaml:"name" json:"name"`
	Table  string  `yaml:"table,omitempty" json:"table,omitempty"`
	ID     string  `yaml:"id,omitempty" json:"id,omitempty"`
	Fields []Field `yaml:"fields" json:"fields"`
}

// Values maps field names to scalar values
type Values map[string]interface{}

// Model is the in-memory schema of the item resource. It is immutable once created.
type Model struct {
	description Description
	byName      map[string]Field
}

// ErrNoDomainModel is returned when no domain model is configured
var ErrNoDomainModel = errors.New("no domain model is configured")

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Parse parses a domain model description. JSON is accepted as well, as it
// is a subset of YAML.
func Parse(data []byte) (*Model, error) {
	var d Description
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse error in domain model: %w", err)
	}
	return New(d)
}

// New validates the description and returns the model for it
func New(d Description) (*Model, error) {
	if d.Name == "" {
		return nil, fmt.Errorf("domain model has no name")
	}
	if !identifierPattern.MatchString(d.Name) {
		return nil, fmt.Errorf("invalid domain model name '%s'", d.Name)
	}
	if d.ID == "" {
		d.ID = "id"
	}
	if d.Table == "" {
		d.Table = core.Plural(d.Name)
	}
	if !identifierPattern.MatchString(d.Table) {
		return nil, fmt.Errorf("invalid table name '%s'", d.Table)
	}
	if len(d.Fields) == 0 {
		return nil, fmt.Errorf("domain model %s has no fields", d.Name)
	}

	m := &Model{byName: make(map[string]Field, len(d.Fields))}
	for _, f := range d.Fields {
		if !identifierPattern.MatchString(f.Name) {
			return nil, fmt.Errorf("invalid field name '%s'", f.Name)
		}
		if !f.Type.Valid() {
			return nil, fmt.Errorf("field %s has unsupported type '%s'", f.Name, f.Type)
		}
		if _, ok := m.byName[f.Name]; ok {
			return nil, fmt.Errorf("duplicate field %s", f.Name)
		}
		m.byName[f.Name] = f
	}
	id, ok := m.byName[d.ID]
	if !ok {
		return nil, fmt.Errorf("identifier field %s is not a field of %s", d.ID, d.Name)
	}
	if id.Type != TypeString && id.Type != TypeInteger {
		return nil, fmt.Errorf("identifier field %s must be of type string or integer, not %s", d.ID, id.Type)
	}
	d.Fields = append([]Field(nil), d.Fields...)
	m.description = d
	return m, nil
}

// Name returns the resource name, for example "item"
func (m *Model) Name() string {
	return m.description.Name
}

// Table returns the name of the sql table
func (m *Model) Table() string {
	return m.description.Table
}

// Resource returns the plural resource name used in routes, for example "items"
func (m *Model) Resource() string {
	return core.Plural(m.description.Name)
}

// IDField returns the identifier field
func (m *Model) IDField() Field {
	return m.byName[m.description.ID]
}

// Fields returns all fields in declaration order
func (m *Model) Fields() []Field {
	return append([]Field(nil), m.description.Fields...)
}

// Field returns the field with name
func (m *Model) Field(name string) (Field, bool) {
	f, ok := m.byName[name]
	return f, ok
}

// Description returns a copy of the description the model was created from
func (m *Model) Description() Description {
	d := m.description
	d.Fields = m.Fields()
	return d
}
