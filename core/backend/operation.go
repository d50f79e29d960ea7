// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/itemsvc/core/logger"
	"github.com/relabs-tech/itemsvc/core/schema"
)

const parametersPrefix = "#/components/parameters/"

// request is the parsed input of an operation
type request struct {
	// params holds the typed path and query parameters
	params map[string]interface{}
	// body is the validated request body, nil if the operation has none
	body map[string]interface{}
}

// response is the result of an operation. A nil body is sent as empty body.
type response struct {
	status int
	body   interface{}
}

type handlerFunc func(ctx context.Context, req *request) (*response, error)

// statusError is an error which is reported to the client with its status and message
type statusError struct {
	status  int
	message string
}

func (e *statusError) Error() string {
	return e.message
}

func badRequest(format string, args ...interface{}) error {
	return &statusError{status: http.StatusBadRequest, message: fmt.Sprintf(format, args...)}
}

type parameter struct {
	name     string
	in       string
	required bool
	typ      string
	def      interface{}
	schemaID string
}

type operation struct {
	id           string
	method       string
	path         string
	handler      handlerFunc
	parameters   []*parameter
	bodySchemaID string
	bodyRequired bool
}

// resolveParameters collects the parameters of the path item and the operation. Operation
// parameters override path item parameters with the same name and location.
func (b *Backend) resolveParameters(op *operation, components map[string]interface{}, lists ...interface{}) error {
	byKey := map[string]int{}
	for _, list := range lists {
		if list == nil {
			continue
		}
		items, ok := list.([]interface{})
		if !ok {
			return fmt.Errorf("parameters is not a list")
		}
		for _, item := range items {
			definition, err := resolveParameterRef(item, components)
			if err != nil {
				return err
			}
			p, err := b.newParameter(op, definition, components)
			if err != nil {
				return err
			}
			key := p.in + "/" + p.name
			if i, ok := byKey[key]; ok {
				op.parameters[i] = p
				continue
			}
			byKey[key] = len(op.parameters)
			op.parameters = append(op.parameters, p)
		}
	}
	return nil
}

func resolveParameterRef(item interface{}, components map[string]interface{}) (map[string]interface{}, error) {
	definition, ok := item.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("parameter is not an object")
	}
	ref, ok := definition["$ref"].(string)
	if !ok {
		return definition, nil
	}
	parameters, _ := components["parameters"].(map[string]interface{})
	resolved, ok := parameters[strings.TrimPrefix(ref, parametersPrefix)].(map[string]interface{})
	if !strings.HasPrefix(ref, parametersPrefix) || !ok {
		return nil, fmt.Errorf("unresolved parameter reference %s", ref)
	}
	return resolved, nil
}

func (b *Backend) newParameter(op *operation, definition, components map[string]interface{}) (*parameter, error) {
	p := &parameter{typ: "string"}
	p.name, _ = definition["name"].(string)
	p.in, _ = definition["in"].(string)
	p.required, _ = definition["required"].(bool)
	if p.name == "" {
		return nil, fmt.Errorf("parameter without name")
	}
	switch p.in {
	case "path", "query", "header":
	default:
		return nil, fmt.Errorf("parameter %s: unsupported location '%s'", p.name, p.in)
	}

	definitionSchema, ok := definition["schema"]
	if !ok {
		return p, nil
	}
	converted, err := schema.FromOpenAPI(definitionSchema, components)
	if err != nil {
		return nil, fmt.Errorf("parameter %s: %w", p.name, err)
	}
	if t, ok := converted["type"].(string); ok {
		p.typ = t
	}
	switch p.typ {
	case "string", "integer", "number", "boolean":
	default:
		return nil, fmt.Errorf("parameter %s: unsupported type '%s'", p.name, p.typ)
	}
	if def, ok := converted["default"]; ok {
		if p.def, err = p.parse(fmt.Sprint(def)); err != nil {
			return nil, fmt.Errorf("parameter %s: invalid default: %w", p.name, err)
		}
	}
	p.schemaID = op.id + "/" + p.in + "/" + p.name
	if err = b.validator.Add(p.schemaID, converted); err != nil {
		return nil, err
	}
	return p, nil
}

// parse converts the raw value into the type of the parameter
func (p *parameter) parse(raw string) (interface{}, error) {
	switch p.typ {
	case "integer":
		return strconv.ParseInt(raw, 10, 64)
	case "number":
		return strconv.ParseFloat(raw, 64)
	case "boolean":
		return strconv.ParseBool(raw)
	default:
		return raw, nil
	}
}

// value returns the typed value of the parameter from r, nil if it is absent and has no default
func (b *Backend) value(p *parameter, r *http.Request) (interface{}, error) {
	var (
		raw     string
		present bool
	)
	switch p.in {
	case "path":
		raw, present = mux.Vars(r)[p.name]
	case "query":
		values, ok := r.URL.Query()[p.name]
		present = ok && len(values) > 0
		if present {
			raw = values[0]
		}
	case "header":
		raw = r.Header.Get(p.name)
		present = raw != ""
	}
	if !present {
		if p.required {
			return nil, errors.New("missing")
		}
		return p.def, nil
	}
	v, err := p.parse(raw)
	if err != nil {
		return nil, fmt.Errorf("'%s' is not a valid %s", raw, p.typ)
	}
	if p.schemaID != "" {
		if err = b.validator.ValidateValue(v, p.schemaID); err != nil {
			var verr *schema.ValidationError
			if errors.As(err, &verr) {
				return nil, errors.New(strings.Join(verr.Details, "; "))
			}
			return nil, err
		}
	}
	return v, nil
}

func (b *Backend) resolveBody(op *operation, components map[string]interface{}, requestBody interface{}) error {
	if requestBody == nil {
		return nil
	}
	definition, ok := requestBody.(map[string]interface{})
	if !ok {
		return fmt.Errorf("requestBody is not an object")
	}
	content, _ := definition["content"].(map[string]interface{})
	media, _ := content["application/json"].(map[string]interface{})
	bodySchema, ok := media["schema"]
	if !ok {
		return fmt.Errorf("requestBody has no application/json schema")
	}
	converted, err := schema.FromOpenAPI(bodySchema, components)
	if err != nil {
		return fmt.Errorf("requestBody: %w", err)
	}
	op.bodySchemaID = op.id + "/body"
	op.bodyRequired, _ = definition["required"].(bool)
	return b.validator.Add(op.bodySchemaID, converted)
}

// handle returns the http handler of op. It parses and validates the request, calls
// the operation handler and writes its response.
func (b *Backend) handle(op *operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rlog := logger.FromContext(r.Context())
		rlog.Debugln("called route for", r.URL, r.Method)

		req := &request{params: map[string]interface{}{}}
		known := map[string]bool{}
		for _, p := range op.parameters {
			if p.in == "query" {
				known[p.name] = true
			}
			v, err := b.value(p, r)
			if err != nil {
				http.Error(w, "parameter '"+p.name+"': "+err.Error(), http.StatusBadRequest)
				return
			}
			if v != nil {
				req.params[p.name] = v
			}
		}
		for key := range r.URL.Query() {
			if !known[key] {
				http.Error(w, "parameter '"+key+"': unknown query parameter", http.StatusBadRequest)
				return
			}
		}

		if op.bodySchemaID != "" {
			body, err := b.readBody(r, op)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			req.body = body
		}

		res, err := op.handler(r.Context(), req)
		if err != nil {
			var serr *statusError
			if errors.As(err, &serr) {
				http.Error(w, serr.message, serr.status)
				return
			}
			rlog.WithError(err).Errorf("Error 4701: %s failed", op.id)
			http.Error(w, "Error 4701", http.StatusInternalServerError)
			return
		}

		if res.body == nil {
			w.WriteHeader(res.status)
			return
		}
		data, err := json.Marshal(res.body)
		if err != nil {
			rlog.WithError(err).Errorf("Error 4702: cannot marshal response of %s", op.id)
			http.Error(w, "Error 4702", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(res.status)
		w.Write(data)
	}
}

// readBody decodes and validates the JSON body of r
func (b *Backend) readBody(r *http.Request, op *operation) (map[string]interface{}, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("cannot read request body: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		if op.bodyRequired {
			return nil, errors.New("missing request body")
		}
		return nil, nil
	}
	var body interface{}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err = decoder.Decode(&body); err != nil {
		return nil, fmt.Errorf("invalid json: %v", err)
	}
	if err = b.validator.ValidateValue(body, op.bodySchemaID); err != nil {
		return nil, err
	}
	object, ok := body.(map[string]interface{})
	if !ok {
		return nil, errors.New("request body is not a JSON object")
	}
	return object, nil
}
