package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateBuilder_LeafSubstitutesParameters(t *testing.T) {
	leaf := &Node{ID: "l", Kind: KindLeaf, SQL: "SELECT id FROM p WHERE dob > @start AND sex = @sex;"}
	sql, err := TemplateBuilder{}.BuildQueryText(leaf, Parameters{"start": "'1990-01-01'", "sex": "'F'"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM p WHERE dob > '1990-01-01' AND sex = 'F'", sql)
}

func TestTemplateBuilder_LeafMissingParameter(t *testing.T) {
	leaf := &Node{ID: "l", Kind: KindLeaf, SQL: "SELECT id FROM p WHERE a = @a AND b = @b"}
	_, err := TemplateBuilder{}.BuildQueryText(leaf, Parameters{"a": "1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "@b")
}

func TestTemplateBuilder_ContainerFollowsOrderAndSkipsDisabled(t *testing.T) {
	root := &Node{ID: "root", Kind: KindContainer, Operation: Except, Children: []*Node{
		{ID: "second", Kind: KindLeaf, Order: 2, SQL: "SELECT id FROM b"},
		{ID: "off", Kind: KindLeaf, Order: 0, Disabled: true, SQL: "SELECT id FROM off"},
		{ID: "first", Kind: KindLeaf, Order: 1, SQL: "SELECT id FROM a"},
	}}
	sql, err := TemplateBuilder{}.BuildQueryText(root, nil)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT * FROM (\nSELECT id FROM a\n) AS q1\nEXCEPT\nSELECT * FROM (\nSELECT id FROM b\n) AS q2",
		sql)
}

func TestTemplateBuilder_ContainerErrors(t *testing.T) {
	empty := &Node{ID: "c", Kind: KindContainer, Operation: Union}
	_, err := TemplateBuilder{}.BuildQueryText(empty, nil)
	assert.Error(t, err)

	badOp := &Node{ID: "c", Kind: KindContainer, Operation: "XOR", Children: []*Node{{ID: "l", SQL: "SELECT 1"}}}
	_, err = TemplateBuilder{}.BuildQueryText(badOp, nil)
	assert.Error(t, err)
}

func TestParseSetOperation(t *testing.T) {
	op, err := ParseSetOperation(" intersect ")
	require.NoError(t, err)
	assert.Equal(t, Intersect, op)

	_, err = ParseSetOperation("minus")
	assert.Error(t, err)
}
