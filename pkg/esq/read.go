package esq

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/usestring/esquery/pkg/client"
	"github.com/usestring/esquery/pkg/compile"
	"github.com/usestring/esquery/pkg/conn"
	"github.com/usestring/esquery/pkg/types"
)

func readRole(spec *types.Spec) conn.Role {
	if spec.Master {
		return conn.RoleWrite
	}
	return conn.RoleRead
}

// search runs a compiled search and returns its rows: document sources, or
// raw hits when FetchCursor is set.
func (db *DB) search(ctx context.Context, spec *types.Spec) ([]types.Row, error) {
	req, err := db.compiler.Select(ctx, spec)
	if err != nil {
		return nil, err
	}
	resp, err := db.router.Search(ctx, readRole(spec), req)
	if err != nil {
		return nil, err
	}

	rows := make([]types.Row, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		if spec.FetchCursor {
			rows = append(rows, types.Row{
				"_index":  h.Index,
				"_id":     h.ID,
				"_score":  h.Score,
				"_source": h.Source,
				"sort":    h.Sort,
			})
			continue
		}
		row := h.Source
		if row == nil {
			row = types.Row{}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (db *DB) storeResult(d *types.CacheDirective, key string, v any) {
	if d.Tag != "" {
		db.results.SetTagged(d.Tag, key, v, d.Expire)
		return
	}
	db.results.Set(key, v, d.Expire)
}

// cloneRow deep copies the objects and arrays of a row so cached rows
// never share them with callers.
func cloneRow(row types.Row) types.Row {
	if row == nil {
		return nil
	}
	return cloneValue(row).(map[string]any)
}

func cloneRows(rows []types.Row) []types.Row {
	if rows == nil {
		return nil
	}
	out := make([]types.Row, len(rows))
	for i, r := range rows {
		out[i] = cloneRow(r)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = cloneValue(x)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = cloneValue(x)
		}
		return out
	}
	return v
}

func notFound(spec *types.Spec) error {
	if spec.Model != "" {
		return &types.NotFoundError{Table: spec.Table, Message: "model data not found: " + spec.Model}
	}
	return &types.NotFoundError{Table: spec.Table, Message: "table data not found"}
}

// Find returns the first matching row, or nil when nothing matched.
func (q *Query) Find(ctx context.Context) (types.Row, error) {
	spec, err := q.finalize()
	if err != nil {
		return nil, err
	}
	return q.db.find(ctx, spec, "")
}

// FindByPK returns the row whose primary key is id.
func (q *Query) FindByPK(ctx context.Context, id any) (types.Row, error) {
	q.pkWhere(q.db.compiler.PrimaryKey(), []any{id})
	return q.Find(ctx)
}

// FindBy returns the first row whose field equals value.
func (q *Query) FindBy(ctx context.Context, field string, value any) (types.Row, error) {
	return q.Where(field, value).Find(ctx)
}

func (db *DB) find(ctx context.Context, spec *types.Spec, field string) (types.Row, error) {
	spec.Limit, spec.LimitSet = 1, true
	pk := db.compiler.PrimaryKey()
	id, byPK := pkEquality(spec, pk)

	var key string
	if spec.Cache != nil {
		key = spec.Cache.Key
		if key == "" && field == "" && byPK {
			key = pkCacheKey(spec.Table, id)
		}
		if key == "" {
			key = CacheKey(spec, field)
		}
		if v, ok := db.results.Get(key); ok {
			row, _ := v.(types.Row)
			if row == nil && spec.Fail {
				return nil, notFound(spec)
			}
			return cloneRow(row), nil
		}
	}

	if byPK {
		spec.Data = map[string]any{pk: id}
	}

	var row types.Row
	var hooked bool
	if db.hooks.BeforeFind != nil {
		row, hooked = db.hooks.BeforeFind(ctx, spec)
	}
	if !hooked {
		rows, err := db.search(ctx, spec)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			row = rows[0]
		}
	}

	if spec.Cache != nil {
		db.storeResult(spec.Cache, key, cloneRow(row))
	}
	if row == nil && spec.Fail {
		return nil, notFound(spec)
	}
	return row, nil
}

// Select returns every matching row, up to the limit.
func (q *Query) Select(ctx context.Context) ([]types.Row, error) {
	spec, err := q.finalize()
	if err != nil {
		return nil, err
	}
	return q.db.selectRows(ctx, spec, "")
}

// SelectByPK returns the rows whose primary key is among ids. A string id
// may hold several comma separated ids.
func (q *Query) SelectByPK(ctx context.Context, ids ...any) ([]types.Row, error) {
	q.pkWhere(q.db.compiler.PrimaryKey(), ids)
	return q.Select(ctx)
}

func (db *DB) selectRows(ctx context.Context, spec *types.Spec, field string) ([]types.Row, error) {
	var key string
	if spec.Cache != nil {
		key = spec.Cache.Key
		if key == "" {
			key = CacheKey(spec, field)
		}
		if v, ok := db.results.Get(key); ok {
			rows, _ := v.([]types.Row)
			if len(rows) == 0 && spec.Fail {
				return nil, notFound(spec)
			}
			return cloneRows(rows), nil
		}
	}

	var rows []types.Row
	var hooked bool
	if db.hooks.BeforeSelect != nil {
		rows, hooked = db.hooks.BeforeSelect(ctx, spec)
	}
	if !hooked {
		var err error
		if rows, err = db.search(ctx, spec); err != nil {
			return nil, err
		}
	}

	if spec.Cache != nil {
		db.storeResult(spec.Cache, key, cloneRows(rows))
	}
	if len(rows) == 0 && spec.Fail {
		return nil, notFound(spec)
	}
	return rows, nil
}

// Count returns the number of matching documents.
func (q *Query) Count(ctx context.Context) (int64, error) {
	spec, err := q.finalize()
	if err != nil {
		return 0, err
	}
	req, err := q.db.compiler.Count(ctx, spec)
	if err != nil {
		return 0, err
	}
	return q.db.router.Count(ctx, readRole(spec), req)
}

// Aggregate computes one metric over field: count, max, min, sum or avg.
// A metric over no documents is 0.
func (q *Query) Aggregate(ctx context.Context, op, field string) (float64, error) {
	if strings.EqualFold(strings.TrimSpace(op), "distinct") {
		q.reset()
		return 0, types.NewCompileError(op, "use Distinct for distinct values")
	}
	raw, err := q.aggregate(ctx, op, field)
	if err != nil || raw == nil {
		return 0, err
	}
	var m client.MetricAggregation
	if err := json.Unmarshal(raw, &m); err != nil {
		return 0, fmt.Errorf("decoding %s aggregation: %w", op, err)
	}
	if m.Value == nil {
		return 0, nil
	}
	return *m.Value, nil
}

// Max returns the largest value of field.
func (q *Query) Max(ctx context.Context, field string) (float64, error) {
	return q.Aggregate(ctx, "max", field)
}

// Min returns the smallest value of field.
func (q *Query) Min(ctx context.Context, field string) (float64, error) {
	return q.Aggregate(ctx, "min", field)
}

// Sum returns the sum of field.
func (q *Query) Sum(ctx context.Context, field string) (float64, error) {
	return q.Aggregate(ctx, "sum", field)
}

// Avg returns the mean of field.
func (q *Query) Avg(ctx context.Context, field string) (float64, error) {
	return q.Aggregate(ctx, "avg", field)
}

// Distinct returns the distinct values of field, at most the limit.
func (q *Query) Distinct(ctx context.Context, field string) ([]any, error) {
	raw, err := q.aggregate(ctx, "distinct", field)
	if err != nil || raw == nil {
		return nil, err
	}
	var terms client.TermsAggregation
	if err := json.Unmarshal(raw, &terms); err != nil {
		return nil, fmt.Errorf("decoding distinct aggregation: %w", err)
	}
	out := make([]any, 0, len(terms.Buckets))
	for _, b := range terms.Buckets {
		out = append(out, b.Key)
	}
	return out, nil
}

func (q *Query) aggregate(ctx context.Context, op, field string) (json.RawMessage, error) {
	spec, err := q.finalize()
	if err != nil {
		return nil, err
	}
	req, err := q.db.compiler.Aggregate(ctx, spec, op, field)
	if err != nil {
		return nil, err
	}
	resp, err := q.db.router.Search(ctx, readRole(spec), req)
	if err != nil {
		return nil, err
	}
	return resp.Aggregations[compile.AggregateName], nil
}

// Value returns field of the first matching row, or nil. Dotted names
// read nested objects.
func (q *Query) Value(ctx context.Context, field string) (any, error) {
	q.Field(field)
	spec, err := q.finalize()
	if err != nil {
		return nil, err
	}
	row, err := q.db.find(ctx, spec, field)
	if err != nil || row == nil {
		return nil, err
	}
	v, _ := q.db.extract.Extract(row, field)
	return v, nil
}

// ValueBy returns column of the first row whose field equals value.
func (q *Query) ValueBy(ctx context.Context, field string, value any, column string) (any, error) {
	return q.Where(field, value).Value(ctx, column)
}

// Column returns field of every matching row. Rows without it are
// skipped.
func (q *Query) Column(ctx context.Context, field string) ([]any, error) {
	q.Field(field)
	spec, err := q.finalize()
	if err != nil {
		return nil, err
	}
	rows, err := q.db.selectRows(ctx, spec, field)
	if err != nil {
		return nil, err
	}
	return q.db.extract.Column(rows, field), nil
}

// ColumnMap maps the key field of every matching row to its field value,
// or to the whole row when field is "*". Later rows win on equal keys.
func (q *Query) ColumnMap(ctx context.Context, field, key string) (map[string]any, error) {
	if field != "*" {
		q.Field(key, field)
	}
	spec, err := q.finalize()
	if err != nil {
		return nil, err
	}
	rows, err := q.db.selectRows(ctx, spec, key+","+field)
	if err != nil {
		return nil, err
	}

	out := make(map[string]any, len(rows))
	for _, row := range rows {
		k, ok := q.db.extract.Extract(row, key)
		if !ok {
			continue
		}
		if field == "*" {
			out[fmt.Sprint(k)] = row
			continue
		}
		v, _ := q.db.extract.Extract(row, field)
		out[fmt.Sprint(k)] = v
	}
	return out, nil
}

// Chunk walks the matching rows in pages of size ordered by column
// (the primary key when empty), calling fn for each page. It stops after a
// short page, or when fn returns false, in which case it reports false.
func (q *Query) Chunk(ctx context.Context, size int, fn func([]types.Row) bool, column string) (bool, error) {
	if column == "" {
		column = q.db.compiler.PrimaryKey()
	}
	if size <= 0 {
		q.reset()
		return false, types.NewCompileError("", "chunk size must be positive")
	}
	base := q.snapshot()

	rows, err := q.Limit(size).Order(column, "asc").Select(ctx)
	for {
		if err != nil {
			return false, err
		}
		if len(rows) == 0 {
			return true, nil
		}
		if !fn(rows) {
			return false, nil
		}
		if len(rows) < size {
			return true, nil
		}
		last, ok := q.db.extract.Extract(rows[len(rows)-1], column)
		if !ok {
			return false, fmt.Errorf("chunk column %q missing from row", column)
		}
		*q = base.snapshot()
		rows, err = q.Limit(size).Where(column, ">", last).Order(column, "asc").Select(ctx)
	}
}
