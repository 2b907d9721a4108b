package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWouldBreakDependents(t *testing.T) {
	tests := []struct {
		name string
		rel  Relations
		want bool
	}{
		{"high risk", Relations{BreakingChangeRisk: RiskLevelHigh}, true},
		{"public api", Relations{PublicAPI: true, BreakingChangeRisk: RiskLevelLow}, true},
		{"many callers", Relations{Callers: []string{"a", "b", "c", "d"}}, true},
		{"callers at threshold", Relations{Callers: []string{"a", "b", "c"}}, false},
		{"medium risk", Relations{BreakingChangeRisk: RiskLevelMedium}, false},
		{"empty", Relations{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rel.WouldBreakDependents(DefaultCallerThreshold))
		})
	}

	t.Run("threshold is configurable", func(t *testing.T) {
		rel := Relations{Callers: []string{"a", "b"}}
		assert.True(t, rel.WouldBreakDependents(1))
		assert.False(t, rel.WouldBreakDependents(2))
	})
}

func TestEntityValidate(t *testing.T) {
	valid := &Entity{Name: "Foo", Type: TypeClass, Path: "a.py", LineStart: 1, LineEnd: 4}
	require.NoError(t, valid.Validate())

	bad := []*Entity{
		{Type: TypeClass},
		{Name: "Foo", Type: "widget"},
		{Name: "Foo", Type: TypeClass, State: "gone"},
		{Name: "Foo", Type: TypeClass, LineStart: 5, LineEnd: 2},
		{Name: "Foo", Type: TypeClass, LineStart: -1},
	}
	for _, e := range bad {
		assert.Error(t, e.Validate(), "%+v", e)
	}
}

func TestSearchText(t *testing.T) {
	e := &Entity{Name: "Foo", Path: "pkg/foo.py"}
	assert.Equal(t, "Foo pkg/foo.py", e.SearchText())

	e.Docstring = "does things"
	assert.Equal(t, "Foo pkg/foo.py does things", e.SearchText())
}

func TestCloneIsDeep(t *testing.T) {
	e := &Entity{
		ID:       "x",
		Name:     "X",
		Metadata: map[string]interface{}{"owner": "core"},
	}
	e.Callers = []string{"y"}

	c := e.Clone()
	c.Callers[0] = "z"
	c.Metadata["owner"] = "other"

	assert.Equal(t, "y", e.Callers[0])
	assert.Equal(t, "core", e.Metadata["owner"])
	assert.Nil(t, c.Dependencies, "nil lists stay nil")
}

func TestComputeSignature(t *testing.T) {
	a := ComputeSignature("a.py", "Foo", TypeClass, "class Foo: pass")
	b := ComputeSignature("a.py", "Foo", TypeClass, "class Foo: pass")
	c := ComputeSignature("a.py", "Foo", TypeClass, "class Foo:\n    x = 1")

	assert.Len(t, a, 16)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestField(t *testing.T) {
	e := &Entity{ID: "1", Name: "Foo", Type: TypeClass, LineStart: 3}

	v, ok := e.Field(FieldType)
	require.True(t, ok)
	assert.Equal(t, "class", v)

	v, ok = e.Field(FieldLineEnd)
	require.True(t, ok)
	assert.Nil(t, v)

	v, ok = e.Field(FieldCallers)
	require.True(t, ok)
	assert.Equal(t, []string{}, v)

	_, ok = e.Field("entity_color")
	assert.False(t, ok)

	assert.False(t, IsSortable(FieldCallers))
	assert.True(t, IsSortable(FieldName))
}
