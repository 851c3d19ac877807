package core

import (
	"fmt"
	"sort"
	"strings"
)

// Kind discriminates leaf queries from containers.
type Kind string

const (
	KindLeaf      Kind = "leaf"
	KindContainer Kind = "container"
)

// SetOperation is the set algebra a container applies to its children.
type SetOperation string

const (
	Union     SetOperation = "UNION"
	Intersect SetOperation = "INTERSECT"
	Except    SetOperation = "EXCEPT"
)

// ParseSetOperation accepts the operation name case-insensitively.
func ParseSetOperation(raw string) (SetOperation, error) {
	switch op := SetOperation(strings.ToUpper(strings.TrimSpace(raw))); op {
	case Union, Intersect, Except:
		return op, nil
	default:
		return "", fmt.Errorf("unknown set operation %q (expected UNION|INTERSECT|EXCEPT)", raw)
	}
}

// Valid reports whether op is one of the supported operations.
func (op SetOperation) Valid() bool {
	switch op {
	case Union, Intersect, Except:
		return true
	default:
		return false
	}
}

// Node is one element of a query tree snapshot.
//
// Nodes are owned by the tree store that produced them; the compiler only
// reads them. Children are owned by their parent and each node has exactly
// one parent, except the root.
type Node struct {
	// ID identifies the node in diagnostics and outcomes.
	ID string `json:"id" yaml:"id"`

	Kind Kind `json:"kind" yaml:"kind"`

	// Order positions the node among its siblings. EXCEPT is evaluated
	// left-to-right in ascending Order.
	Order int `json:"order" yaml:"order"`

	// Disabled nodes are left out of their parent's combination.
	Disabled bool `json:"disabled,omitempty" yaml:"disabled,omitempty"`

	// SQL is the leaf query template. Parameters are referenced as @name.
	SQL string `json:"sql,omitempty" yaml:"sql,omitempty"`

	// Operation and Children are only meaningful for containers.
	Operation SetOperation `json:"operation,omitempty" yaml:"operation,omitempty"`
	Children  []*Node      `json:"children,omitempty" yaml:"children,omitempty"`
}

// IsContainer reports whether the node combines children.
func (n *Node) IsContainer() bool { return n != nil && n.Kind == KindContainer }

// EnabledChildren returns the children that take part in the combination,
// sorted by Order. Children sharing an Order keep their declared position.
func (n *Node) EnabledChildren() []*Node {
	if n == nil {
		return nil
	}
	out := make([]*Node, 0, len(n.Children))
	for _, c := range n.Children {
		if c == nil || c.Disabled {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Walk visits n and its enabled descendants depth-first, children before
// parents. It stops at the first error returned by fn.
func (n *Node) Walk(fn func(*Node) error) error {
	if n == nil {
		return nil
	}
	for _, c := range n.EnabledChildren() {
		if err := c.Walk(fn); err != nil {
			return err
		}
	}
	return fn(n)
}

func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}
	if n.IsContainer() {
		return fmt.Sprintf("%s(%s)", n.ID, n.Operation)
	}
	return n.ID
}

// Parameters are the externally supplied parameter values, keyed by name
// without the leading '@'. Values are SQL literals and are substituted verbatim.
type Parameters map[string]string

// Names returns the parameter names in ascending order.
func (p Parameters) Names() []string {
	names := make([]string, 0, len(p))
	for k := range p {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
