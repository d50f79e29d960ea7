package backend

import (
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/itemsvc/core"
	"github.com/relabs-tech/itemsvc/core/apispec"
	"github.com/relabs-tech/itemsvc/core/csql"
	"github.com/relabs-tech/itemsvc/core/logger"
	"github.com/relabs-tech/itemsvc/core/metrics"
	"github.com/relabs-tech/itemsvc/core/model"
	"github.com/relabs-tech/itemsvc/core/schema"
	"github.com/relabs-tech/itemsvc/core/store"
)

// Backend is the generic item REST backend
type Backend struct {
	description apispec.Document
	rawSpec     []byte
	model       *model.Model
	store       *store.Store
	router      *mux.Router
	notifier    core.Notifier
	metrics     *metrics.Metrics
	validator   *schema.Validator
	handlers    map[string]handlerFunc
}

// Builder is a builder helper for the Backend
type Builder struct {
	// Description is the path to the OpenAPI description of the service. This is mandatory.
	Description string
	// Model is the domain model of the items. This is mandatory.
	Model *model.Model
	// DB is the database holding the item table. This is mandatory.
	DB *csql.DB
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Notifier receives a notification for every committed change. This is optional.
	Notifier core.Notifier
	// Metrics records request metrics and serves /metrics. This is optional.
	Metrics *metrics.Metrics
}

// New realizes the actual backend. It reads the API description from the
// description file and adds a route for every operation to the router.
// Operations without a handler are an error wrapping apispec.ErrUnknownOperation.
func New(bb *Builder) (*Backend, error) {
	if bb.Model == nil {
		return nil, fmt.Errorf("model is missing")
	}
	if bb.DB == nil {
		return nil, fmt.Errorf("DB is missing")
	}
	if bb.Router == nil {
		return nil, fmt.Errorf("router is missing")
	}

	raw, err := os.ReadFile(bb.Description)
	if err != nil {
		return nil, fmt.Errorf("read api description: %w", err)
	}
	description, err := apispec.Parse(raw)
	if err != nil {
		return nil, err
	}

	validator, err := schema.NewValidatorFromObjects(nil)
	if err != nil {
		return nil, err
	}

	b := &Backend{
		description: description,
		rawSpec:     raw,
		model:       bb.Model,
		store:       store.New(bb.DB, bb.Model),
		router:      bb.Router,
		notifier:    bb.Notifier,
		metrics:     bb.Metrics,
		validator:   validator,
	}
	b.handlers = map[string]handlerFunc{
		apispec.OperationList:   b.listItems,
		apispec.OperationGet:    b.getItem,
		apispec.OperationPut:    b.putItem,
		apispec.OperationDelete: b.deleteItem,
	}

	operations, err := b.operations()
	if err != nil {
		return nil, err
	}

	logger.AddRequestID(b.router)
	b.handleCORS()
	b.handleCompression()
	b.handleVersion(b.router)
	b.handleDescription(b.router)
	if b.metrics != nil {
		b.metrics.HandleRoute(b.router)
	}
	for _, op := range operations {
		logger.Default().Debugf("  handle route: %s %s (%s)", op.method, op.path, op.id)
		b.router.Handle(op.path, b.metrics.Instrument(op.id, b.handle(op))).
			Methods(op.method, http.MethodOptions)
	}
	return b, nil
}

var methods = []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodPatch, http.MethodDelete}

// operations resolves all operations of the description, sorted by path
func (b *Backend) operations() ([]*operation, error) {
	paths, ok := b.description["paths"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("api description has no paths")
	}
	components, _ := b.description["components"].(map[string]interface{})

	keys := make([]string, 0, len(paths))
	for path := range paths {
		keys = append(keys, path)
	}
	sort.Strings(keys)

	var operations []*operation
	for _, path := range keys {
		pathItem, ok := paths[path].(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("path %s is not an object", path)
		}
		for _, method := range methods {
			definition, ok := pathItem[strings.ToLower(method)].(map[string]interface{})
			if !ok {
				continue
			}
			id, _ := definition["operationId"].(string)
			handler, ok := b.handlers[id]
			if !ok {
				return nil, fmt.Errorf("%w: '%s' for %s %s", apispec.ErrUnknownOperation, id, method, path)
			}
			op := &operation{id: id, method: method, path: path, handler: handler}
			if err := b.resolveParameters(op, components, pathItem["parameters"], definition["parameters"]); err != nil {
				return nil, fmt.Errorf("%s %s: %w", method, path, err)
			}
			if err := b.resolveBody(op, components, definition["requestBody"]); err != nil {
				return nil, fmt.Errorf("%s %s: %w", method, path, err)
			}
			operations = append(operations, op)
		}
	}
	return operations, nil
}
