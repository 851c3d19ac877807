package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeFingerprint_IdenticalInputsProduceSameFingerprint(t *testing.T) {
	node := &Node{ID: "a", Kind: KindLeaf}
	params := Parameters{"start": "'2020-01-01'", "age": "18"}

	f1 := ComputeFingerprint(node, "SELECT id FROM p", params)
	f2 := ComputeFingerprint(node, "SELECT id FROM p", Parameters{"age": "18", "start": "'2020-01-01'"})

	assert.Equal(t, f1, f2)
	assert.Len(t, f1.String(), 64)
}

func TestComputeFingerprint_IgnoresNodeIdentity(t *testing.T) {
	a := &Node{ID: "a", Kind: KindLeaf, Order: 1}
	b := &Node{ID: "b", Kind: KindLeaf, Order: 7}

	assert.Equal(t,
		ComputeFingerprint(a, "SELECT id FROM p", nil),
		ComputeFingerprint(b, "SELECT id FROM p", nil))
}

func TestComputeFingerprint_AnyChangeProducesNewFingerprint(t *testing.T) {
	leaf := &Node{ID: "a", Kind: KindLeaf}
	container := &Node{ID: "a", Kind: KindContainer}
	base := ComputeFingerprint(leaf, "SELECT id FROM p", Parameters{"x": "1"})

	cases := map[string]Fingerprint{
		"sql":         ComputeFingerprint(leaf, "SELECT id FROM q", Parameters{"x": "1"}),
		"param value": ComputeFingerprint(leaf, "SELECT id FROM p", Parameters{"x": "2"}),
		"param name":  ComputeFingerprint(leaf, "SELECT id FROM p", Parameters{"y": "1"}),
		"extra param": ComputeFingerprint(leaf, "SELECT id FROM p", Parameters{"x": "1", "y": "1"}),
		"no params":   ComputeFingerprint(leaf, "SELECT id FROM p", nil),
		"kind":        ComputeFingerprint(container, "SELECT id FROM p", Parameters{"x": "1"}),
	}
	for name, f := range cases {
		assert.NotEqual(t, base, f, name)
	}
}

func TestComputeFingerprint_LengthPrefixingAvoidsAmbiguity(t *testing.T) {
	leaf := &Node{Kind: KindLeaf}
	f1 := ComputeFingerprint(leaf, "q", Parameters{"ab": "c"})
	f2 := ComputeFingerprint(leaf, "q", Parameters{"a": "bc"})
	assert.NotEqual(t, f1, f2)
}

func TestFingerprint_Short(t *testing.T) {
	assert.Equal(t, "abc", Fingerprint("abc").Short())
	assert.Equal(t, "0123456789ab", Fingerprint("0123456789abcdef").Short())
}
