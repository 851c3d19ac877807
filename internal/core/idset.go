package core

import (
	"encoding/json"
	"fmt"

	"github.com/google/btree"
)

const idsetDegree = 32

// IdentifierSet is an ordered set of record identifiers (a cohort or one
// node's contribution to it).
//
// A set is built with Add and then shared read-only: once a task has
// published it, nothing may modify it. Iteration is always ascending, which
// keeps combination output deterministic.
type IdentifierSet struct {
	tree *btree.BTreeG[string]
}

// NewIdentifierSet returns a set holding ids.
func NewIdentifierSet(ids ...string) *IdentifierSet {
	s := &IdentifierSet{tree: btree.NewOrderedG[string](idsetDegree)}
	for _, id := range ids {
		s.tree.ReplaceOrInsert(id)
	}
	return s
}

// Add inserts id. It must only be called while the set is being built.
func (s *IdentifierSet) Add(id string) {
	s.tree.ReplaceOrInsert(id)
}

// Len returns the number of identifiers. A nil set is empty.
func (s *IdentifierSet) Len() int {
	if s == nil {
		return 0
	}
	return s.tree.Len()
}

// Contains reports whether id is in the set.
func (s *IdentifierSet) Contains(id string) bool {
	if s == nil {
		return false
	}
	return s.tree.Has(id)
}

// Slice returns the identifiers in ascending order.
func (s *IdentifierSet) Slice() []string {
	out := make([]string, 0, s.Len())
	s.Ascend(func(id string) bool {
		out = append(out, id)
		return true
	})
	return out
}

// Ascend calls fn for each identifier in ascending order until fn returns false.
func (s *IdentifierSet) Ascend(fn func(id string) bool) {
	if s == nil {
		return
	}
	s.tree.Ascend(btree.ItemIteratorG[string](fn))
}

// MarshalJSON encodes the set as a sorted JSON array.
func (s *IdentifierSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

// UnmarshalJSON decodes a JSON array of identifiers.
func (s *IdentifierSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = *NewIdentifierSet(ids...)
	return nil
}

// UnionOf returns every identifier present in any of sets.
func UnionOf(sets ...*IdentifierSet) *IdentifierSet {
	out := NewIdentifierSet()
	for _, s := range sets {
		s.Ascend(func(id string) bool {
			out.tree.ReplaceOrInsert(id)
			return true
		})
	}
	return out
}

// IntersectionOf returns the identifiers present in all of sets.
// The intersection of no sets is empty.
func IntersectionOf(sets ...*IdentifierSet) *IdentifierSet {
	out := NewIdentifierSet()
	if len(sets) == 0 {
		return out
	}
	// Walk the smallest set and probe the others.
	smallest := 0
	for i, s := range sets {
		if s.Len() < sets[smallest].Len() {
			smallest = i
		}
	}
	sets[smallest].Ascend(func(id string) bool {
		for i, s := range sets {
			if i != smallest && !s.Contains(id) {
				return true
			}
		}
		out.tree.ReplaceOrInsert(id)
		return true
	})
	return out
}

// DifferenceOf returns sets[0] minus every following set, applied left to right.
func DifferenceOf(sets ...*IdentifierSet) *IdentifierSet {
	out := NewIdentifierSet()
	if len(sets) == 0 {
		return out
	}
	sets[0].Ascend(func(id string) bool {
		for _, s := range sets[1:] {
			if s.Contains(id) {
				return true
			}
		}
		out.tree.ReplaceOrInsert(id)
		return true
	})
	return out
}

// Combine applies op to sets, which must already be in sibling order.
func Combine(op SetOperation, sets []*IdentifierSet) (*IdentifierSet, error) {
	for i, s := range sets {
		if s == nil {
			return nil, fmt.Errorf("combining %s: input %d has no result", op, i)
		}
	}
	switch op {
	case Union:
		return UnionOf(sets...), nil
	case Intersect:
		return IntersectionOf(sets...), nil
	case Except:
		return DifferenceOf(sets...), nil
	default:
		return nil, fmt.Errorf("combining: unknown set operation %q", op)
	}
}
