// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package schema

import (
	"fmt"
	"strings"
)

const componentsPrefix = "#/components/schemas/"

// OpenAPI keywords without a JSON schema counterpart
var openAPIOnly = map[string]bool{
	"nullable":      true,
	"discriminator": true,
	"readOnly":      true,
	"writeOnly":     true,
	"xml":           true,
	"externalDocs":  true,
	"example":       true,
	"deprecated":    true,
}

// FromOpenAPI converts an OpenAPI 3.0 schema object into a self-contained JSON schema.
// References into the component schemas are inlined, nullable becomes a type union
// with null.
func FromOpenAPI(schema interface{}, components map[string]interface{}) (map[string]interface{}, error) {
	c := converter{components: components, resolving: map[string]bool{}}
	out, err := c.convert(schema)
	if err != nil {
		return nil, err
	}
	return out, nil
}

type converter struct {
	components map[string]interface{}
	resolving  map[string]bool
}

func (c *converter) convert(v interface{}) (map[string]interface{}, error) {
	in, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("schema is not an object: %v", v)
	}
	if ref, ok := in["$ref"].(string); ok {
		return c.resolve(ref)
	}

	out := make(map[string]interface{}, len(in))
	for k, e := range in {
		if openAPIOnly[k] {
			continue
		}
		switch k {
		case "properties":
			properties, ok := e.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("properties is not an object")
			}
			converted := make(map[string]interface{}, len(properties))
			for name, p := range properties {
				s, err := c.convert(p)
				if err != nil {
					return nil, fmt.Errorf("property %s: %w", name, err)
				}
				converted[name] = s
			}
			out[k] = converted
		case "items", "not":
			s, err := c.convert(e)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = s
		case "additionalProperties":
			if _, isBool := e.(bool); isBool {
				out[k] = e
				continue
			}
			s, err := c.convert(e)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = s
		case "allOf", "anyOf", "oneOf":
			list, ok := e.([]interface{})
			if !ok {
				return nil, fmt.Errorf("%s is not a list", k)
			}
			converted := make([]interface{}, len(list))
			for i, s := range list {
				cs, err := c.convert(s)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", k, err)
				}
				converted[i] = cs
			}
			out[k] = converted
		default:
			out[k] = e
		}
	}

	if nullable, _ := in["nullable"].(bool); nullable {
		if t, ok := out["type"].(string); ok {
			out["type"] = []interface{}{t, "null"}
		}
		if enum, ok := out["enum"].([]interface{}); ok {
			out["enum"] = append(append([]interface{}{}, enum...), nil)
		}
	}
	return out, nil
}

func (c *converter) resolve(ref string) (map[string]interface{}, error) {
	if !strings.HasPrefix(ref, componentsPrefix) {
		return nil, fmt.Errorf("unsupported reference %s", ref)
	}
	name := strings.TrimPrefix(ref, componentsPrefix)
	if c.resolving[name] {
		return nil, fmt.Errorf("recursive reference %s", ref)
	}
	schemas, _ := c.components["schemas"].(map[string]interface{})
	target, ok := schemas[name]
	if !ok {
		return nil, fmt.Errorf("unresolved reference %s", ref)
	}
	c.resolving[name] = true
	defer delete(c.resolving, name)
	return c.convert(target)
}
