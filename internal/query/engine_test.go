package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usestring/esquery/pkg/types"
)

func TestEngine_Extract(t *testing.T) {
	engine := NewEngine()
	row := types.Row{
		"name":    "ada",
		"a.b":     "literal",
		"address": map[string]any{"city": "Paris", "geo": map[string]any{"lat": 48.8}},
		"deleted": nil,
	}

	tests := []struct {
		name  string
		field string
		want  any
		ok    bool
	}{
		{"top level", "name", "ada", true},
		{"literal dotted key wins", "a.b", "literal", true},
		{"nested", "address.city", "Paris", true},
		{"deeply nested", "address.geo.lat", 48.8, true},
		{"missing nested", "address.zip", nil, false},
		{"null value", "deleted", nil, false},
		{"missing", "nope", nil, false},
		{"path through non-object", "name.first", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := engine.Extract(row, tt.field)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEngine_Column(t *testing.T) {
	engine := NewEngine()
	rows := []types.Row{
		{"user": map[string]any{"id": "u1"}},
		{"user": map[string]any{}},
		{"user": map[string]any{"id": "u3"}},
	}
	assert.Equal(t, []any{"u1", "u3"}, engine.Column(rows, "user.id"))
}

func TestEngine_QueryRows_Deduplicate(t *testing.T) {
	engine := NewEngine()
	rows := []types.Row{{"name": "a"}, {"name": "a"}, {"name": "b"}}

	result, err := engine.QueryRows(rows, ".name", true, 0)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, result.Values)
	assert.Equal(t, 3, result.RawCount)
}

func TestEngine_QueryRows_MaxResults(t *testing.T) {
	engine := NewEngine()
	rows := []types.Row{{"n": 1}, {"n": 2}, {"n": 3}, {"n": 4}, {"n": 5}}

	result, err := engine.QueryRows(rows, ".n", false, 3)
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), float64(2), float64(3)}, result.Values)
}

func TestEngine_QueryRows_InvalidExpression(t *testing.T) {
	engine := NewEngine()

	_, err := engine.QueryRows([]types.Row{{"name": "John"}}, ".name[", false, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid jq expression")

	result, err := engine.QueryRows([]types.Row{{"foo": nil}}, ".foo[]", false, 0)
	require.NoError(t, err)
	assert.Empty(t, result.Values)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "may be missing")
}

func TestEngine_QueryRows(t *testing.T) {
	engine := NewEngine()
	rows := []types.Row{
		{"status": "active", "n": 1},
		{"status": "inactive", "n": 2},
		{"other": "x"},
		{"status": "active", "n": 3},
	}

	result, err := engine.QueryRows(rows, `select(.status == "active") | .n`, false, 0)
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), float64(3)}, result.Values)

	result, err = engine.QueryRows(rows, ".tags[]", false, 0)
	require.NoError(t, err)
	assert.Empty(t, result.Values)
	require.Len(t, result.Errors, 4)
	assert.Equal(t, "row[0]", result.Errors[0][:len("row[0]")])
}

func TestEngine_ValidateExpression(t *testing.T) {
	engine := NewEngine()

	assert.NoError(t, engine.ValidateExpression(".name"))
	assert.NoError(t, engine.ValidateExpression(`.[] | select(.status == "active")`))
	assert.Error(t, engine.ValidateExpression(".name["))
	assert.Error(t, engine.ValidateExpression("invalid("))
}
