// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// DateLayout is the JSON representation of date fields
const DateLayout = "2006-01-02"

// timestamp layouts accepted for datetime fields, tried in order
var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ToJSON converts values into their JSON representation. Only fields of the
// model are part of the result.
func (m *Model) ToJSON(values Values) map[string]interface{} {
	object := make(map[string]interface{}, len(values))
	for _, f := range m.description.Fields {
		v, ok := values[f.Name]
		if !ok {
			continue
		}
		object[f.Name] = toJSONValue(f, Canonical(f, v))
	}
	return object
}

// FromJSON converts a JSON object into values. Every key is passed through,
// values of model fields are normalized to their canonical Go type. There is
// no validation, that is done against the generated API schema.
func (m *Model) FromJSON(object map[string]interface{}) Values {
	values := make(Values, len(object))
	for k, v := range object {
		if f, ok := m.byName[k]; ok {
			v = Canonical(f, v)
		}
		values[k] = v
	}
	return values
}

// Scan normalizes a row read from the database into values
func (m *Model) Scan(row map[string]interface{}) Values {
	values := make(Values, len(m.description.Fields))
	for _, f := range m.description.Fields {
		if v, ok := row[f.Name]; ok {
			values[f.Name] = Canonical(f, v)
		}
	}
	return values
}

// ParseID parses the textual identifier of a route into the type of the identifier field
func (m *Model) ParseID(raw string) (interface{}, error) {
	id := m.IDField()
	if id.Type == TypeInteger {
		i, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s '%s'", id.Name, raw)
		}
		return i, nil
	}
	if raw == "" {
		return nil, fmt.Errorf("empty %s", id.Name)
	}
	return raw, nil
}

// FormatID returns the textual representation of an identifier
func FormatID(id interface{}) string {
	switch v := id.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Canonical converts v into the canonical Go type of field f: string for
// string and text, int64 for integer, float64 for number, bool for boolean
// and time.Time (UTC) for date and datetime. Values which cannot be converted
// are returned unchanged.
func Canonical(f Field, v interface{}) interface{} {
	if v == nil {
		return nil
	}
	switch f.Type {
	case TypeString, TypeText:
		if b, ok := v.([]byte); ok {
			return string(b)
		}
	case TypeInteger:
		if i, ok := toInt64(v); ok {
			return i
		}
	case TypeNumber:
		if n, ok := toFloat64(v); ok {
			return n
		}
	case TypeBoolean:
		if b, ok := toBool(v); ok {
			return b
		}
	case TypeDate:
		if t, ok := toTime(v); ok {
			y, mo, d := t.Date()
			return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
		}
	case TypeDateTime:
		if t, ok := toTime(v); ok {
			return t.UTC()
		}
	}
	return v
}

func toJSONValue(f Field, v interface{}) interface{} {
	t, ok := v.(time.Time)
	if !ok {
		return v
	}
	if f.Type == TypeDate {
		return t.Format(DateLayout)
	}
	return t.Format(time.RFC3339Nano)
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		// float64(math.MaxInt64) rounds up to 2^63, which is out of range
		if n == math.Trunc(n) && n >= math.MinInt64 && n < math.MaxInt64 {
			return int64(n), true
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if fl, err := n.Float64(); err == nil {
			return toInt64(fl)
		}
	case []byte:
		return toInt64(string(n))
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case json.Number:
		if fl, err := n.Float64(); err == nil {
			return fl, true
		}
	case []byte:
		return toFloat64(string(n))
	case string:
		if fl, err := strconv.ParseFloat(n, 64); err == nil {
			return fl, true
		}
	}
	return 0, false
}

func toBool(v interface{}) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case int64:
		return b != 0, true
	case []byte:
		return toBool(string(b))
	case string:
		switch strings.ToLower(b) {
		case "t", "true", "1":
			return true, true
		case "f", "false", "0":
			return false, true
		}
	}
	return false, false
}

func toTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case []byte:
		return toTime(string(t))
	case string:
		if d, err := time.Parse(DateLayout, t); err == nil {
			return d, true
		}
		for _, layout := range dateTimeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}
