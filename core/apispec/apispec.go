/*
Package apispec generates the API description of the item service.

The API description is an OpenAPI 3 document. A base template provides the
skeleton (info, shared parameters, optionally custom paths); Generate adds
the item schema synthesized from the domain model and the standard item
routes. The dispatcher binds operations by their operationId:

	listItems   GET    /items?limit=N
	getItem     GET    /items/{id}
	putItem     PUT    /items/{id}
	deleteItem  DELETE /items/{id}

The generated document is handed to the dispatcher through a temporary file,
see WithTempFile.
*/
package apispec

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/itemsvc/core/source"
)

// Document is an OpenAPI document
type Document map[string]interface{}

// operation ids of the item handlers
const (
	OperationList   = "listItems"
	OperationGet    = "getItem"
	OperationPut    = "putItem"
	OperationDelete = "deleteItem"
)

// ErrUnknownOperation is returned for operations the service has no handler for
var ErrUnknownOperation = errors.New("unknown operation")

//go:embed base.yaml
var defaultBase []byte

// DefaultBase returns the built-in base template
func DefaultBase() Document {
	doc, err := Parse(defaultBase)
	if err != nil {
		panic(err)
	}
	return doc
}

// LoadBase loads the base template from location, a local path or an s3:// location.
// An empty location returns the built-in template.
func LoadBase(ctx context.Context, reader source.Reader, location string) (Document, error) {
	if location == "" {
		return DefaultBase(), nil
	}
	data, err := reader.Read(ctx, location)
	if err != nil {
		return nil, err
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", location, err)
	}
	return doc, nil
}

// Parse parses a YAML or JSON document
func Parse(data []byte) (Document, error) {
	// a plain map, so nested objects decode as map[string]interface{} and not as Document
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse error in api description: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("api description is empty")
	}
	return Document(raw), nil
}

// Marshal serializes the document as YAML
func Marshal(doc Document) ([]byte, error) {
	data, err := yaml.Marshal(map[string]interface{}(doc))
	if err != nil {
		return nil, fmt.Errorf("cannot serialize api description: %w", err)
	}
	return data, nil
}

// WithTempFile writes doc to a temporary file and calls fn with its path. The
// file exists only for the duration of fn and is removed on every return path,
// including failures to write it.
func WithTempFile(doc Document, fn func(path string) error) error {
	data, err := Marshal(doc)
	if err != nil {
		return err
	}
	f, err := os.CreateTemp("", "api-description-*.yaml")
	if err != nil {
		return fmt.Errorf("cannot create api description file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err = f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("cannot write api description file: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("cannot write api description file: %w", err)
	}
	return fn(path)
}
