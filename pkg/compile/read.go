package compile

import (
	"context"
	"strings"

	"github.com/usestring/esquery/pkg/types"
)

// AggregateName is the aggregation key reads look for in the response.
const AggregateName = "agg_result"

// aggregateOps maps aggregate operations to engine aggregation types.
var aggregateOps = map[string]string{
	"count":    "value_count",
	"max":      "max",
	"min":      "min",
	"sum":      "sum",
	"avg":      "avg",
	"distinct": "terms",
}

// Select compiles a search request: query, projection, pagination, sort.
func (c *Compiler) Select(ctx context.Context, spec *types.Spec) (*types.Request, error) {
	if err := checkTable(spec); err != nil {
		return nil, err
	}
	query, err := c.CompileFilter(ctx, spec.Table, spec.Where)
	if err != nil {
		return nil, err
	}

	body := map[string]any{"query": query}
	CompileProjection(spec.Fields, body)
	CompileLimit(spec, body)
	CompileSort(spec.Sort, body)
	timeout(spec, body)
	return c.envelope(spec, body), nil
}

// Count compiles a count request. Only the query is sent.
func (c *Compiler) Count(ctx context.Context, spec *types.Spec) (*types.Request, error) {
	if err := checkTable(spec); err != nil {
		return nil, err
	}
	query, err := c.CompileFilter(ctx, spec.Table, spec.Where)
	if err != nil {
		return nil, err
	}
	return c.envelope(spec, map[string]any{"query": query}), nil
}

// Aggregate compiles a single-metric aggregation over the filtered documents.
// op is one of count, max, min, sum, avg or distinct. A distinct aggregation
// returns at most spec.Limit buckets.
func (c *Compiler) Aggregate(ctx context.Context, spec *types.Spec, op, field string) (*types.Request, error) {
	if err := checkTable(spec); err != nil {
		return nil, err
	}
	cmd, ok := aggregateOps[strings.ToLower(op)]
	if !ok {
		return nil, types.NewCompileError(op, "unknown aggregate")
	}
	if field == "" {
		return nil, types.NewCompileError(op, "aggregate without field")
	}
	query, err := c.CompileFilter(ctx, spec.Table, spec.Where)
	if err != nil {
		return nil, err
	}

	params := map[string]any{"field": field}
	if cmd == "terms" && spec.Limit > 0 {
		params["size"] = spec.Limit
	}
	body := map[string]any{
		"query": query,
		"size":  0,
		"aggs":  map[string]any{AggregateName: map[string]any{cmd: params}},
	}
	timeout(spec, body)
	return c.envelope(spec, body), nil
}

// CompileProjection splits requested fields into _source includes and
// excludes.
func CompileProjection(fields []types.Projection, body map[string]any) {
	var includes, excludes []string
	for _, f := range fields {
		name := strings.TrimSpace(f.Field)
		if name == "" {
			continue
		}
		if f.Include {
			includes = append(includes, name)
		} else {
			excludes = append(excludes, name)
		}
	}
	if len(includes) == 0 && len(excludes) == 0 {
		return
	}
	source := make(map[string]any, 2)
	if len(includes) > 0 {
		source["includes"] = includes
	}
	if len(excludes) > 0 {
		source["excludes"] = excludes
	}
	body["_source"] = source
}

// CompileLimit copies the offset into from when present and the limit into
// size when non-zero.
func CompileLimit(spec *types.Spec, body map[string]any) {
	if spec.HasOffset {
		body["from"] = spec.Offset
	}
	if spec.Limit > 0 {
		body["size"] = spec.Limit
	}
}

// CompileSort passes the sort list through as ordered field/direction pairs.
func CompileSort(sort []types.SortField, body map[string]any) {
	if len(sort) == 0 {
		return
	}
	out := make([]any, 0, len(sort))
	for _, s := range sort {
		out = append(out, map[string]any{s.Field: s.Dir})
	}
	body["sort"] = out
}
