/*
Package registry provides a persistent registry of objects in a SQL database

The package uses JSON to serialize the data. The item service keeps the
domain model description it created its table from in here, so it can detect
fields added between two deployments.
*/
package registry

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/itemsvc/core/csql"
)

const registryTable = "_registry_"

// New creates a new registry for the specified database
func New(db *csql.DB) (Registry, error) {
	_, err := db.Exec(`CREATE table IF NOT EXISTS ` + db.Table(registryTable) + `
(key varchar NOT NULL,
value text NOT NULL,
timestamp timestamp NOT NULL,
PRIMARY KEY(key)
);`)
	if err != nil {
		return Registry{}, fmt.Errorf("cannot create registry: %w", err)
	}
	return Registry{db: db}, nil
}

// Registry provides a persistent registry of objects in a sql database.
type Registry struct {
	db *csql.DB
}

// Accessor is an accessor with optional prefix
type Accessor struct {
	Prefix   string
	Registry Registry
}

// Accessor returns a registry accessor with prefix
func (r Registry) Accessor(prefix string) Accessor {
	return Accessor{
		Prefix:   prefix,
		Registry: r,
	}
}

func (r Accessor) key(key string) string {
	if len(r.Prefix) > 0 {
		return r.Prefix + ":" + key
	}
	return key
}

// Read reads a value from the registry. It returns the
// time when the value was written, or a zero timpestamp
// if there is no value.
//
// If the accessor has a prefix, the key is prepended with "{prefix}:"
func (r Accessor) Read(key string, value interface{}) (time.Time, error) {
	var (
		rawValue     string
		rawTimestamp interface{}
		timestamp    time.Time
	)
	key = r.key(key)
	db := r.Registry.db
	err := db.QueryRow(
		db.Rebind(`SELECT value, timestamp FROM `+db.Table(registryTable)+` WHERE key=?;`),
		key).Scan(&rawValue, &rawTimestamp)
	if errors.Is(err, csql.ErrNoRows) {
		return timestamp, nil
	}
	if err != nil {
		return timestamp, fmt.Errorf("cannot read key '%s': %w", key, err)
	}
	timestamp = asTime(rawTimestamp)
	err = json.Unmarshal([]byte(rawValue), value)
	return timestamp, err
}

// Write writes a value into the registry.
//
// If the accessor has a prefix, the key is prepended with "{prefix}:"
func (r Accessor) Write(key string, value interface{}) error {

	body, err := json.Marshal(value)
	if err != nil {
		return err
	}
	key = r.key(key)
	now := time.Now().UTC()
	db := r.Registry.db
	res, err := db.Exec(
		db.Rebind(`INSERT INTO `+db.Table(registryTable)+`(key,value,timestamp)
VALUES(?,?,?)
ON CONFLICT (key) DO UPDATE SET value=excluded.value,timestamp=excluded.timestamp;`),
		key, string(body), now)

	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("could not write key %s", key)
	}
	return nil
}

// asTime accepts the timestamp representations of the supported drivers
func asTime(v interface{}) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case []byte:
		return asTime(string(t))
	case string:
		for _, layout := range []string{"2006-01-02 15:04:05.999999999-07:00", time.RFC3339Nano, "2006-01-02 15:04:05"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed
			}
		}
	}
	return time.Time{}
}
