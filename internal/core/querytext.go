package core

import (
	"fmt"
	"regexp"
	"strings"
)

// QueryBuilder turns a node into dialect-specific SQL text.
//
// Implementations must be deterministic: the same node and parameters always
// yield the same text, since the text is part of the node's fingerprint.
type QueryBuilder interface {
	BuildQueryText(node *Node, params Parameters) (string, error)
}

// QueryBuilderFunc adapts a function to QueryBuilder.
type QueryBuilderFunc func(node *Node, params Parameters) (string, error)

func (f QueryBuilderFunc) BuildQueryText(node *Node, params Parameters) (string, error) {
	return f(node, params)
}

var paramRef = regexp.MustCompile(`@([A-Za-z_][A-Za-z0-9_]*)`)

// TemplateBuilder is the default QueryBuilder.
//
// Leaves: the node's SQL with every @name replaced by the parameter value.
// Containers: each enabled child's text wrapped as a derived table and joined
// with the container's set operation, in sibling order.
type TemplateBuilder struct{}

// BuildQueryText implements QueryBuilder.
func (b TemplateBuilder) BuildQueryText(node *Node, params Parameters) (string, error) {
	if node == nil {
		return "", fmt.Errorf("nil node")
	}
	if !node.IsContainer() {
		return b.leafText(node, params)
	}

	children := node.EnabledChildren()
	if len(children) == 0 {
		return "", fmt.Errorf("container %q has no enabled children", node.ID)
	}
	if !node.Operation.Valid() {
		return "", fmt.Errorf("container %q: unknown set operation %q", node.ID, node.Operation)
	}

	parts := make([]string, 0, len(children))
	for i, c := range children {
		text, err := b.BuildQueryText(c, params)
		if err != nil {
			return "", err
		}
		parts = append(parts, fmt.Sprintf("SELECT * FROM (\n%s\n) AS q%d", text, i+1))
	}
	return strings.Join(parts, "\n"+string(node.Operation)+"\n"), nil
}

func (b TemplateBuilder) leafText(node *Node, params Parameters) (string, error) {
	sql := strings.TrimSpace(node.SQL)
	if sql == "" {
		return "", fmt.Errorf("leaf %q has no sql", node.ID)
	}
	sql = strings.TrimSuffix(sql, ";")

	var missing []string
	out := paramRef.ReplaceAllStringFunc(sql, func(ref string) string {
		name := ref[1:]
		v, ok := params[name]
		if !ok {
			missing = append(missing, ref)
			return ref
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("leaf %q references undeclared parameters: %s", node.ID, strings.Join(missing, ", "))
	}
	return out, nil
}
