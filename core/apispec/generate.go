// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package apispec

import (
	"fmt"
	"math"

	"github.com/relabs-tech/itemsvc/core"
	"github.com/relabs-tech/itemsvc/core/model"
)

const (
	typeArray   = "array"
	typeBoolean = "boolean"
	typeInteger = "integer"
	typeNumber  = "number"
	typeObject  = "object"
	typeString  = "string"

	mediaTypeJSON = "application/json"
)

// Generate returns the complete API description for model m based on the base
// template. The base is not modified. The item schema and the type of the
// identifier path parameter always follow the model, item routes already present
// in the template are kept.
func Generate(base Document, m *model.Model) (Document, error) {
	doc, _ := deepCopy(map[string]interface{}(base)).(map[string]interface{})
	if doc == nil {
		doc = map[string]interface{}{}
	}
	if _, ok := doc["openapi"]; !ok {
		doc["openapi"] = "3.0.3"
	}
	info, err := object(doc, "info")
	if err != nil {
		return nil, err
	}
	if _, ok := info["title"]; !ok {
		info["title"] = core.Camel(m.Name()) + " service"
	}
	if _, ok := info["version"]; !ok {
		info["version"] = "1.0"
	}

	components, err := object(doc, "components")
	if err != nil {
		return nil, err
	}
	schemas, err := object(components, "schemas")
	if err != nil {
		return nil, err
	}
	schemaName := SchemaName(m)
	schemas[schemaName] = ItemSchema(m)

	parameters, err := object(components, "parameters")
	if err != nil {
		return nil, err
	}
	if _, ok := parameters["limit"]; !ok {
		parameters["limit"] = map[string]interface{}{
			"name":        "limit",
			"in":          "query",
			"description": "maximum number of items in the response",
			"required":    false,
			"schema": map[string]interface{}{
				"type":    typeInteger,
				"minimum": 0,
				"default": 100,
			},
		}
	}

	paths, err := object(doc, "paths")
	if err != nil {
		return nil, err
	}
	id := m.IDField()
	collectionPath := "/" + m.Resource()
	itemPath := collectionPath + "/{" + id.Name + "}"
	if _, ok := paths[collectionPath]; !ok {
		paths[collectionPath] = collectionOperations(m, schemaName)
	}
	if _, ok := paths[itemPath]; !ok {
		paths[itemPath] = itemOperations(m, schemaName)
	}
	for path, item := range paths {
		pathItem, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("invalid base api description: path %s is not an object", path)
		}
		setIdentifierSchema(pathItem, id)
	}
	return Document(doc), nil
}

// SchemaName returns the component name of the item schema, for example "Item"
func SchemaName(m *model.Model) string {
	return core.Camel(m.Name())
}

// ItemSchema synthesizes the schema of an item from the model fields. The identifier
// is taken from the route, so it is never required in a request body.
func ItemSchema(m *model.Model) map[string]interface{} {
	id := m.IDField()
	properties := map[string]interface{}{}
	required := []interface{}{}
	for _, f := range m.Fields() {
		schema := PropertySchema(f)
		if f.Required && f.Name != id.Name {
			required = append(required, f.Name)
		} else if f.Name != id.Name {
			schema["nullable"] = true
		}
		properties[f.Name] = schema
	}
	schema := map[string]interface{}{
		"type":                 typeObject,
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// PropertySchema returns the schema of a single field
func PropertySchema(f model.Field) map[string]interface{} {
	switch f.Type {
	case model.TypeInteger:
		return map[string]interface{}{
			"type":    typeInteger,
			"format":  "int64",
			"minimum": int64(math.MinInt64),
			"maximum": int64(math.MaxInt64),
		}
	case model.TypeNumber:
		return map[string]interface{}{"type": typeNumber, "format": "double"}
	case model.TypeBoolean:
		return map[string]interface{}{"type": typeBoolean}
	case model.TypeDate:
		return map[string]interface{}{"type": typeString, "format": "date"}
	case model.TypeDateTime:
		return map[string]interface{}{"type": typeString, "format": "date-time"}
	default:
		return map[string]interface{}{"type": typeString}
	}
}

func schemaRef(name string) map[string]interface{} {
	return map[string]interface{}{"$ref": "#/components/schemas/" + name}
}

func jsonContent(schema map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		mediaTypeJSON: map[string]interface{}{"schema": schema},
	}
}

func response(description string) map[string]interface{} {
	return map[string]interface{}{"description": description}
}

func collectionOperations(m *model.Model, schemaName string) map[string]interface{} {
	return map[string]interface{}{
		"get": map[string]interface{}{
			"operationId": OperationList,
			"summary":     "List " + m.Resource(),
			"parameters": []interface{}{
				map[string]interface{}{"$ref": "#/components/parameters/limit"},
			},
			"responses": map[string]interface{}{
				"200": map[string]interface{}{
					"description": "the " + m.Resource(),
					"content": jsonContent(map[string]interface{}{
						"type":  typeArray,
						"items": schemaRef(schemaName),
					}),
				},
			},
		},
	}
}

func itemOperations(m *model.Model, schemaName string) map[string]interface{} {
	id := m.IDField()
	name := m.Name()
	return map[string]interface{}{
		"parameters": []interface{}{
			map[string]interface{}{
				"name":     id.Name,
				"in":       "path",
				"required": true,
				"schema":   PropertySchema(id),
			},
		},
		"get": map[string]interface{}{
			"operationId": OperationGet,
			"summary":     "Read a single " + name,
			"responses": map[string]interface{}{
				"200": map[string]interface{}{
					"description": "the " + name,
					"content":     jsonContent(schemaRef(schemaName)),
				},
				"404": response(name + " does not exist"),
			},
		},
		"put": map[string]interface{}{
			"operationId": OperationPut,
			"summary":     "Create or update a " + name,
			"requestBody": map[string]interface{}{
				"required": true,
				"content":  jsonContent(schemaRef(schemaName)),
			},
			"responses": map[string]interface{}{
				"200": response(name + " updated"),
				"201": response(name + " created"),
				"400": response("invalid " + name),
			},
		},
		"delete": map[string]interface{}{
			"operationId": OperationDelete,
			"summary":     "Delete a " + name,
			"responses": map[string]interface{}{
				"204": response(name + " deleted"),
				"404": response(name + " does not exist"),
			},
		},
	}
}

// setIdentifierSchema sets the schema of all path parameters named like the
// identifier, on the path item and on each of its operations.
func setIdentifierSchema(pathItem map[string]interface{}, id model.Field) {
	update := func(parameters interface{}) {
		list, _ := parameters.([]interface{})
		for _, p := range list {
			parameter, ok := p.(map[string]interface{})
			if !ok {
				continue
			}
			if parameter["in"] == "path" && parameter["name"] == id.Name {
				parameter["schema"] = PropertySchema(id)
			}
		}
	}
	update(pathItem["parameters"])
	for _, operation := range pathItem {
		if op, ok := operation.(map[string]interface{}); ok {
			update(op["parameters"])
		}
	}
}

// object returns the object at key of parent, creating it if it does not exist
func object(parent map[string]interface{}, key string) (map[string]interface{}, error) {
	v, ok := parent[key]
	if !ok || v == nil {
		o := map[string]interface{}{}
		parent[key] = o
		return o, nil
	}
	o, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid base api description: %s is not an object", key)
	}
	return o, nil
}

func deepCopy(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		c := make(map[string]interface{}, len(t))
		for k, e := range t {
			c[k] = deepCopy(e)
		}
		return c
	case Document:
		return deepCopy(map[string]interface{}(t))
	case []interface{}:
		c := make([]interface{}, len(t))
		for i, e := range t {
			c[i] = deepCopy(e)
		}
		return c
	default:
		return v
	}
}
