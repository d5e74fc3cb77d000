package compile

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usestring/esquery/pkg/types"
)

type staticTypes map[string]string

func (s staticTypes) FieldTypes(_ context.Context, _ string) (map[string]string, error) {
	return s, nil
}

func toJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestLookupOperator(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"=", OpEq, true},
		{"EQ", OpEq, true},
		{"ne", OpNe, true},
		{"!=", OpNe, true},
		{">", OpGt, true},
		{">=", OpGte, true},
		{"<", OpLt, true},
		{"<=", OpLte, true},
		{"LIKE", OpLike, true},
		{"Not In", OpNotIn, true},
		{"notnull", OpNotNull, true},
		{"between", OpBetween, true},
		{"not  between", OpNotBetween, true},
		{"> TIME", OpGtTime, true},
		{">time", OpGtTime, true},
		{"notbetween time", OpNotBetweenTime, true},
		{"regex", "", false},
		{"~=", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := LookupOperator(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompileCondition_Like(t *testing.T) {
	c := New()
	tests := []struct {
		name  string
		value string
		kind  string
	}{
		{"both ends", "%abc%", "match_phrase"},
		{"leading only", "%abc", "match_phrase"},
		{"trailing only", "abc%", "match_phrase_prefix"},
		{"no wildcard", "abc", "term"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clause, err := c.CompileCondition(context.Background(), "t", "name", types.Cond{Op: "like", Value: tt.value})
			require.NoError(t, err)
			require.Len(t, clause, 1)
			assert.Contains(t, clause, tt.kind)
		})
	}

	clause, err := c.CompileCondition(context.Background(), "t", "name", types.Cond{Op: "like", Value: "%abc%"})
	require.NoError(t, err)
	assert.Equal(t, `{"match_phrase":{"name":{"query":"abc"}}}`, toJSON(t, clause))
}

func TestCompileCondition_NotBetweenIsNotNegatedBetween(t *testing.T) {
	c := New()
	ctx := context.Background()

	between, err := c.CompileCondition(ctx, "t", "age", types.Cond{Op: "between", Value: []any{10, 20}})
	require.NoError(t, err)
	notBetween, err := c.CompileCondition(ctx, "t", "age", types.Cond{Op: "not between", Value: "10,20"})
	require.NoError(t, err)

	assert.Equal(t, `{"range":{"age":{"gte":10,"lte":20}}}`, toJSON(t, between))
	assert.Equal(t, `{"range":{"age":{"gt":"20","lt":"10"}}}`, toJSON(t, notBetween))
	assert.NotContains(t, toJSON(t, notBetween), "must_not")
}

func TestCompileCondition_Kinds(t *testing.T) {
	c := New()
	tests := []struct {
		name string
		cond types.Cond
		want string
	}{
		{"eq", types.Cond{Op: "=", Value: 1}, `{"term":{"f":1}}`},
		{"ne", types.Cond{Op: "<>", Value: "x"}, `{"term":{"f":"x"}}`},
		{"gt", types.Cond{Op: ">", Value: 5}, `{"range":{"f":{"gt":5}}}`},
		{"unknown alias", types.Cond{Op: "elt", Value: 5}, ``},
		{"null", types.Cond{Op: "null"}, `{"bool":{"must_not":[{"exists":{"field":"f"}}]}}`},
		{"not null", types.Cond{Op: "not null"}, `{"exists":{"field":"f"}}`},
		{"exists", types.Cond{Op: "exists"}, `{"exists":{"field":"f"}}`},
		{"in string", types.Cond{Op: "in", Value: "a,b"}, `{"terms":{"f":["a","b"]}}`},
		{"in slice", types.Cond{Op: "in", Value: []int{1, 2}}, `{"terms":{"f":[1,2]}}`},
		{"not in", types.Cond{Op: "not in", Value: []string{"a"}}, `{"terms":{"f":["a"]}}`},
		{"raw", types.Cond{Op: "exp", Value: map[string]any{"wildcard": map[string]any{"f": "a*"}}}, `{"wildcard":{"f":"a*"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clause, err := c.CompileCondition(context.Background(), "t", "f", tt.cond)
			if tt.want == "" {
				require.Error(t, err)
				assert.True(t, errors.Is(err, types.ErrCompile))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, toJSON(t, clause))
		})
	}
}

func TestCompileCondition_UnknownOperator(t *testing.T) {
	_, err := New().CompileCondition(context.Background(), "t", "f", types.Cond{Op: "regex", Value: "a.*"})
	require.Error(t, err)

	var ce *types.CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "regex", ce.Token)
	assert.Contains(t, err.Error(), "regex")
}

func TestCompileCondition_BetweenNeedsTwoBounds(t *testing.T) {
	_, err := New().CompileCondition(context.Background(), "t", "f", types.Cond{Op: "between", Value: []any{1}})
	assert.ErrorIs(t, err, types.ErrCompile)
}

func TestCompileCondition_TimeNormalization(t *testing.T) {
	c := New(WithTypeResolver(staticTypes{
		"day":     "date",
		"at":      "yyyy-MM-dd HH:mm:ss",
		"stamp":   "long",
		"created": "epoch_millis",
	}))
	ctx := context.Background()
	when := time.Date(2024, 3, 5, 14, 30, 15, 0, time.Local)

	tests := []struct {
		name  string
		field string
		cond  types.Cond
		want  any
	}{
		{"date", "day", types.Cond{Op: "> time", Value: "2024-03-05 14:30:15"}, "2024-03-05"},
		{"datetime", "at", types.Cond{Op: "< time", Value: when}, "2024-03-05 14:30:15"},
		{"other known type", "stamp", types.Cond{Op: ">= time", Value: when}, when.Unix()},
		{"epoch millis", "created", types.Cond{Op: "<= time", Value: when}, when.UnixMilli()},
		{"unknown field keeps string", "nope", types.Cond{Op: "> time", Value: "2024-03-05"}, "2024-03-05"},
		{"unparseable keeps value", "day", types.Cond{Op: "> time", Value: "soon"}, "soon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clause, err := c.CompileCondition(ctx, "t", tt.field, tt.cond)
			require.NoError(t, err)
			rng := clause["range"].(map[string]any)[tt.field].(map[string]any)
			require.Len(t, rng, 1)
			for _, v := range rng {
				assert.Equal(t, tt.want, v)
			}
		})
	}

	clause, err := c.CompileCondition(ctx, "t", "day", types.Cond{Op: "not between time", Value: []any{"2024-01-01", "2024-02-01 10:00:00"}})
	require.NoError(t, err)
	assert.Equal(t, `{"range":{"day":{"gt":"2024-02-01","lt":"2024-01-01"}}}`, toJSON(t, clause))
}

func TestCompileFilter_EmptyIsMatchAll(t *testing.T) {
	q, err := New().CompileFilter(context.Background(), "t", types.NewTree())
	require.NoError(t, err)
	assert.Equal(t, `{"match_all":{}}`, toJSON(t, q))

	q, err = New().CompileFilter(context.Background(), "t", nil)
	require.NoError(t, err)
	assert.Equal(t, `{"match_all":{}}`, toJSON(t, q))
}

func TestCompileFilter_PhraseScoredAndFiltersNested(t *testing.T) {
	tree := types.NewTree()
	tree.Add(types.Must, "title", types.Cond{Op: "like", Value: "%go%"})
	tree.Add(types.Must, "status", types.Cond{Op: "=", Value: 1})
	tree.Add(types.MustNot, "tag", types.Cond{Op: "nin", Value: "a,b"})

	q, err := New().CompileFilter(context.Background(), "t", tree)
	require.NoError(t, err)
	assert.JSONEq(t, `{"bool":{
		"must":[{"match_phrase":{"title":{"query":"go"}}}],
		"filter":{"bool":{
			"must":[{"term":{"status":1}}],
			"must_not":[{"terms":{"tag":["a","b"]}}]
		}}
	}}`, toJSON(t, q))
}

func TestCompileFilter_MultiConditionKeepsBoth(t *testing.T) {
	tree := types.NewTree()
	tree.Add(types.Must, "age", types.Cond{Op: ">", Value: 18})
	tree.Add(types.Must, "age", types.Cond{Op: "<", Value: 65})
	require.True(t, tree.Get(types.Must, "age").Multi)

	q, err := New().CompileFilter(context.Background(), "t", tree)
	require.NoError(t, err)
	assert.JSONEq(t, `{"bool":{"filter":{"bool":{"must":[
		{"range":{"age":{"gt":18}}},
		{"range":{"age":{"lt":65}}}
	]}}}}`, toJSON(t, q))
}

func TestCompileFilter_CompositeFields(t *testing.T) {
	tree := types.NewTree()
	tree.Add(types.Must, "name|nick", types.Cond{Op: "=", Value: "bob"})
	tree.Add(types.Must, "a&b", types.Cond{Op: "exists"})

	q, err := New().CompileFilter(context.Background(), "t", tree)
	require.NoError(t, err)
	assert.JSONEq(t, `{"bool":{"filter":{"bool":{"must":[
		{"bool":{"should":[{"term":{"name":"bob"}},{"term":{"nick":"bob"}}]}},
		{"bool":{"must":[{"exists":{"field":"a"}},{"exists":{"field":"b"}}]}}
	]}}}}`, toJSON(t, q))
}

func TestSelect_EnvelopeIsIdempotent(t *testing.T) {
	c := New(WithDocType("_doc"))
	tree := types.NewTree()
	tree.Add(types.Must, "status", types.Cond{Op: "in", Value: []any{1, 2}})
	tree.Add(types.Should, "title", types.Cond{Op: "like", Value: "abc%"})
	spec := &types.Spec{
		Table:     "orders",
		Where:     tree,
		Fields:    []types.Projection{{Field: "id", Include: true}, {Field: "secret", Include: false}},
		Sort:      []types.SortField{{Field: "created", Dir: "desc"}, {Field: "id", Dir: "asc"}},
		Offset:    40,
		HasOffset: true,
		Limit:     20,
		MaxTime:   1500 * time.Millisecond,
	}

	first, err := c.Select(context.Background(), spec)
	require.NoError(t, err)
	second, err := c.Select(context.Background(), spec)
	require.NoError(t, err)

	a, err := first.JSON()
	require.NoError(t, err)
	b, err := second.JSON()
	require.NoError(t, err)
	assert.Equal(t, a, b)

	assert.Equal(t, "orders", first.Index)
	assert.Equal(t, "_doc", first.DocType)
	assert.Equal(t, 40, first.Body["from"])
	assert.Equal(t, 20, first.Body["size"])
	assert.Equal(t, "1500ms", first.Body["timeout"])
	assert.Equal(t, map[string]any{"includes": []string{"id"}, "excludes": []string{"secret"}}, first.Body["_source"])
	assert.Equal(t, []any{map[string]any{"created": "desc"}, map[string]any{"id": "asc"}}, first.Body["sort"])
}

func TestSelect_NoLimitNoSize(t *testing.T) {
	req, err := New().Select(context.Background(), &types.Spec{Table: "t"})
	require.NoError(t, err)
	assert.NotContains(t, req.Body, "size")
	assert.NotContains(t, req.Body, "from")
	assert.NotContains(t, req.Body, "_source")
}

func TestSelect_MissingTable(t *testing.T) {
	_, err := New().Select(context.Background(), &types.Spec{})
	assert.ErrorIs(t, err, types.ErrCompile)
}

func TestCount_OnlyQuery(t *testing.T) {
	req, err := New().Count(context.Background(), &types.Spec{Table: "t", Limit: 10, HasOffset: true})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"query": map[string]any{"match_all": map[string]any{}}}, req.Body)
}

func TestAggregate(t *testing.T) {
	c := New()
	req, err := c.Aggregate(context.Background(), &types.Spec{Table: "t", Limit: 1000}, "sum", "price")
	require.NoError(t, err)
	assert.Equal(t, `{"aggs":{"agg_result":{"sum":{"field":"price"}}},"query":{"match_all":{}},"size":0}`, toJSON(t, req.Body))

	req, err = c.Aggregate(context.Background(), &types.Spec{Table: "t", Limit: 50}, "distinct", "tag")
	require.NoError(t, err)
	assert.Equal(t, `{"aggs":{"agg_result":{"terms":{"field":"tag","size":50}}},"query":{"match_all":{}},"size":0}`, toJSON(t, req.Body))

	_, err = c.Aggregate(context.Background(), &types.Spec{Table: "t"}, "median", "price")
	assert.ErrorIs(t, err, types.ErrCompile)
}

func TestInsertAll_ActionPairsInOrder(t *testing.T) {
	c := New(WithDocType("_doc"))
	req, err := c.InsertAll(&types.Spec{Table: "users"}, []map[string]any{
		{"id": 7, "name": "a"},
		{"name": "b", "score": types.Increment{Step: 3}},
	})
	require.NoError(t, err)
	require.Len(t, req.Bulk, 4)
	assert.Equal(t, `{"index":{"_id":"7","_index":"users","_type":"_doc"}}`, toJSON(t, req.Bulk[0]))
	assert.Equal(t, `{"id":7,"name":"a"}`, toJSON(t, req.Bulk[1]))
	assert.Equal(t, `{"index":{"_index":"users","_type":"_doc"}}`, toJSON(t, req.Bulk[2]))
	assert.Equal(t, `{"name":"b","score":3}`, toJSON(t, req.Bulk[3]))
}

func TestUpdate_ByIDAndByQuery(t *testing.T) {
	c := New()
	ctx := context.Background()

	req, err := c.Update(ctx, &types.Spec{Table: "users"}, map[string]any{"name": "x"}, []string{"1"})
	require.NoError(t, err)
	assert.Equal(t, `[{"update":{"_id":"1","_index":"users"}},{"doc":{"name":"x"}}]`, toJSON(t, req.Bulk))
	assert.Nil(t, req.Body)

	req, err = c.Update(ctx, &types.Spec{Table: "users"}, map[string]any{"views": types.Increment{Step: 2}}, []string{"1", "2"})
	require.NoError(t, err)
	require.Len(t, req.Bulk, 4)
	assert.Equal(t, `{"script":{"lang":"painless","source":"ctx._source.views+=2;"}}`, toJSON(t, req.Bulk[1]))

	tree := types.NewTree()
	tree.Add(types.Must, "status", types.Cond{Op: "=", Value: 0})
	spec := &types.Spec{Table: "users", Where: tree, Limit: 1000}
	req, err = c.Update(ctx, spec, map[string]any{"status": 1, "note": "it's", "rank": types.Increment{Step: -1}}, nil)
	require.NoError(t, err)
	assert.Nil(t, req.Bulk)
	assert.Equal(t, `ctx._source.note='it\'s';ctx._source.rank-=1;ctx._source.status=1;`, req.Body["script"].(map[string]any)["source"])
	assert.NotContains(t, req.Body, "max_docs")

	spec.LimitSet = true
	req, err = c.Update(ctx, spec, map[string]any{"status": 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1000, req.Body["max_docs"])

	_, err = c.Update(ctx, spec, nil, nil)
	assert.ErrorIs(t, err, types.ErrCompile)
}

func TestDelete_ByIDAndByQuery(t *testing.T) {
	c := New()
	ctx := context.Background()

	req, err := c.Delete(ctx, &types.Spec{Table: "users"}, []string{"1", "2"})
	require.NoError(t, err)
	assert.Equal(t, `[{"delete":{"_id":"1","_index":"users"}},{"delete":{"_id":"2","_index":"users"}}]`, toJSON(t, req.Bulk))

	req, err = c.Delete(ctx, &types.Spec{Table: "users"}, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"query":{"match_all":{}}}`, toJSON(t, req.Body))
}

func TestRenderScript_Literals(t *testing.T) {
	got := RenderScript(map[string]any{
		"a": 1.5,
		"b": true,
		"c": nil,
		"d": `back\slash`,
		"e": json.Number("42"),
	})
	assert.Equal(t, `ctx._source.a=1.5;ctx._source.b=true;ctx._source.c=null;ctx._source.d='back\\slash';ctx._source.e=42;`, got)
}
