package dag

import (
	"cohortweaver/internal/core"
)

// validateTree checks the shape of a query tree before anything is compiled.
//
// It rejects:
//   - a missing or disabled root
//   - empty or duplicate node ids (a node reachable twice is a duplicate)
//   - unknown kinds
//   - leaves with children
//   - containers with no enabled children or an unknown set operation
func validateTree(root *core.Node) error {
	if root == nil {
		return invalidf("", "query tree has no root")
	}
	if root.Disabled {
		return invalidf(root.ID, "root node is disabled")
	}
	seen := make(map[string]struct{})
	return validateNode(root, seen)
}

func validateNode(n *core.Node, seen map[string]struct{}) error {
	if n.ID == "" {
		return invalidf("", "node id is required")
	}
	if _, dup := seen[n.ID]; dup {
		return invalidf(n.ID, "duplicate node id")
	}
	seen[n.ID] = struct{}{}

	switch n.Kind {
	case core.KindLeaf:
		if len(n.Children) > 0 {
			return invalidf(n.ID, "leaf node has %d children", len(n.Children))
		}
		return nil
	case core.KindContainer:
	default:
		return invalidf(n.ID, "unknown node kind %q", n.Kind)
	}

	if !n.Operation.Valid() {
		return invalidf(n.ID, "unknown set operation %q", n.Operation)
	}
	children := n.EnabledChildren()
	if len(children) == 0 {
		return invalidf(n.ID, "container has no enabled children")
	}
	for _, c := range children {
		if err := validateNode(c, seen); err != nil {
			return err
		}
	}
	return nil
}
