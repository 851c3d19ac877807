package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCombine_SetAlgebra(t *testing.T) {
	left := NewIdentifierSet("1", "2", "3")
	right := NewIdentifierSet("2", "3", "4")

	tests := []struct {
		op   SetOperation
		want []string
	}{
		{Union, []string{"1", "2", "3", "4"}},
		{Intersect, []string{"2", "3"}},
		{Except, []string{"1"}},
	}
	for _, tc := range tests {
		t.Run(string(tc.op), func(t *testing.T) {
			got, err := Combine(tc.op, []*IdentifierSet{left, right})
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Slice())
		})
	}
	// Inputs are untouched.
	assert.Equal(t, []string{"1", "2", "3"}, left.Slice())
	assert.Equal(t, []string{"2", "3", "4"}, right.Slice())
}

func TestCombine_ExceptIsLeftToRight(t *testing.T) {
	a := NewIdentifierSet("1", "2", "3", "4")
	b := NewIdentifierSet("2")
	c := NewIdentifierSet("4", "5")

	got, err := Combine(Except, []*IdentifierSet{a, b, c})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, got.Slice())

	got, err = Combine(Except, []*IdentifierSet{c, b, a})
	require.NoError(t, err)
	assert.Equal(t, []string{"5"}, got.Slice())
}

func TestCombine_EmptyResultIsNotAnError(t *testing.T) {
	got, err := Combine(Intersect, []*IdentifierSet{NewIdentifierSet("1"), NewIdentifierSet("2")})
	require.NoError(t, err)
	assert.Equal(t, 0, got.Len())
	assert.Equal(t, []string{}, got.Slice())
}

func TestCombine_Errors(t *testing.T) {
	_, err := Combine(Union, []*IdentifierSet{NewIdentifierSet("1"), nil})
	assert.Error(t, err)

	_, err = Combine(SetOperation("XOR"), []*IdentifierSet{NewIdentifierSet("1")})
	assert.Error(t, err)
}

func TestIdentifierSet_JSONRoundTripIsSorted(t *testing.T) {
	s := NewIdentifierSet("b", "a", "c", "a")
	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `["a","b","c"]`, string(data))

	var back IdentifierSet
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, 3, back.Len())
	assert.True(t, back.Contains("b"))
}

func TestIdentifierSet_NilIsEmpty(t *testing.T) {
	var s *IdentifierSet
	assert.Equal(t, 0, s.Len())
	assert.False(t, s.Contains("x"))
	assert.Empty(t, s.Slice())
}
