package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"cohortweaver/internal/core"
)

// treeSchema is the JSON schema every tree definition must satisfy. Rules
// that span nodes (unique ids, non-empty containers) are checked by the
// compiler.
const treeSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "$ref": "#/definitions/node",
  "definitions": {
    "node": {
      "type": "object",
      "required": ["id", "kind"],
      "additionalProperties": false,
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "kind": {"enum": ["leaf", "container"]},
        "order": {"type": "integer"},
        "disabled": {"type": "boolean"},
        "sql": {"type": "string"},
        "operation": {"type": "string", "pattern": "^(?i)(union|intersect|except)$"},
        "children": {"type": "array", "items": {"$ref": "#/definitions/node"}}
      }
    }
  }
}`

var compiledTreeSchema = func() *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(treeSchema))
	if err != nil {
		panic(fmt.Sprintf("tree schema: %v", err))
	}
	return s
}()

// LoadTree reads a query tree definition. Files ending in .yaml or .yml are
// YAML; anything else is JSON.
func LoadTree(path string) (*core.Node, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tree: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return parseYAMLTree(b)
	default:
		return parseJSONTree(b)
	}
}

func parseJSONTree(b []byte) (*core.Node, error) {
	if err := validateTree(gojsonschema.NewBytesLoader(b)); err != nil {
		return nil, err
	}
	var root core.Node
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("parse tree json: %w", err)
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		return nil, fmt.Errorf("parse tree json: trailing data")
	}
	return normalizeTree(&root)
}

func parseYAMLTree(b []byte) (*core.Node, error) {
	var doc any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse tree yaml: %w", err)
	}
	if err := validateTree(gojsonschema.NewGoLoader(doc)); err != nil {
		return nil, err
	}
	var root core.Node
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("parse tree yaml: %w", err)
	}
	return normalizeTree(&root)
}

func validateTree(doc gojsonschema.JSONLoader) error {
	result, err := compiledTreeSchema.Validate(doc)
	if err != nil {
		return core.Configurationf("", "tree definition: %v", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return core.Configurationf("", "tree definition: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// normalizeTree upper-cases set operations.
func normalizeTree(root *core.Node) (*core.Node, error) {
	err := root.Walk(func(n *core.Node) error {
		if n.Operation == "" {
			return nil
		}
		op, err := core.ParseSetOperation(string(n.Operation))
		if err != nil {
			return core.Configurationf(n.ID, "%v", err)
		}
		n.Operation = op
		return nil
	})
	if err != nil {
		return nil, err
	}
	return root, nil
}
