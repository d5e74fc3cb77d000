package esq

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/usestring/esquery/internal/config"
	"github.com/usestring/esquery/pkg/compile"
	"github.com/usestring/esquery/pkg/types"
)

// finalize turns the accumulated state into a Spec and clears the query.
// The state is cleared even when finalization fails.
func (q *Query) finalize() (*types.Spec, error) {
	defer q.reset()

	if q.err != nil {
		return nil, q.err
	}
	table := q.resolveTable()
	if table == "" {
		return nil, types.NewCompileError("", "missing target collection")
	}

	cfg := q.db.cfg
	spec := &types.Spec{
		Table:       table,
		Model:       q.model,
		Where:       q.where,
		Fields:      q.fields,
		Sort:        q.sort,
		Offset:      q.offset,
		HasOffset:   q.hasOffset,
		Limit:       q.limit,
		LimitSet:    q.limitSet,
		Data:        q.data,
		Cache:       q.cache,
		Fail:        q.fail,
		FetchCursor: q.fetchCursor,
		Master:      q.master,
		Comment:     q.comment,
		MaxTime:     q.maxTime,
	}
	if spec.Where == nil {
		spec.Where = types.NewTree()
	}
	if spec.Data == nil {
		spec.Data = map[string]any{}
	}
	if !spec.LimitSet {
		spec.Limit = cfg.DefaultLimit
	}

	if q.hasPage {
		page := q.page
		if page <= 0 {
			page = 1
		}
		size := q.pageSize
		if size <= 0 {
			size = spec.Limit
		}
		if size <= 0 {
			size = config.DefaultPageSizeValue
		}
		offset := size * (page - 1)
		if maxOffset := cfg.MaxPageOffset; maxOffset > 0 && offset > maxOffset {
			offset = maxOffset
		}
		spec.Offset, spec.HasOffset = offset, true
		spec.Limit, spec.LimitSet = size, true
	}
	return spec, nil
}

// snapshot copies the accumulated state so it can be replayed.
func (q *Query) snapshot() Query {
	cp := *q
	cp.where = q.where.Clone()
	cp.fields = append([]types.Projection(nil), q.fields...)
	cp.sort = append([]types.SortField(nil), q.sort...)
	if q.data != nil {
		cp.data = make(map[string]any, len(q.data))
		for k, v := range q.data {
			cp.data[k] = v
		}
	}
	return cp
}

func (q *Query) reset() {
	*q = Query{db: q.db, name: q.name}
}

func (q *Query) resolveTable() string {
	if q.table != "" {
		return q.table
	}
	if q.name == "" {
		return ""
	}
	return q.db.cfg.TablePrefix + snakeCase(q.name)
}

// CacheKey derives the cache key of a finalized specification: the hex
// SHA-256 of its JSON encoding, preceded by field for single field reads.
// Equal specifications always derive equal keys.
func CacheKey(spec *types.Spec, field string) string {
	b, err := json.Marshal(spec)
	if err != nil {
		b = []byte(fmt.Sprintf("%#v", spec))
	}
	h := sha256.New()
	h.Write([]byte(field))
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}

// pkCacheKey is the cache key of one document looked up by primary key.
func pkCacheKey(table string, id any) string {
	return "elastic:" + table + "|" + fmt.Sprint(id)
}

// pkCond returns the primary key condition of the must bucket when it is
// the only condition of the tree.
func pkCond(spec *types.Spec, pk string) (*types.FieldCond, bool) {
	fc := spec.Where.Get(types.Must, pk)
	if fc == nil || fc.Multi || len(fc.Conds) != 1 {
		return nil, false
	}
	for _, c := range types.Combinators {
		for _, other := range spec.Where.Fields(c) {
			if other != fc {
				return nil, false
			}
		}
	}
	return fc, true
}

// pkEquality returns the value of a single primary key equality.
func pkEquality(spec *types.Spec, pk string) (any, bool) {
	fc, ok := pkCond(spec, pk)
	if !ok {
		return nil, false
	}
	c := fc.Conds[0]
	if tok, _ := compile.LookupOperator(c.Op); tok != compile.OpEq {
		return nil, false
	}
	return c.Value, true
}

// pkIDs returns the document ids selected by a primary key equality or in
// condition.
func pkIDs(spec *types.Spec, pk string) ([]string, bool) {
	fc, ok := pkCond(spec, pk)
	if !ok {
		return nil, false
	}
	c := fc.Conds[0]
	switch tok, _ := compile.LookupOperator(c.Op); tok {
	case compile.OpEq:
		return []string{fmt.Sprint(c.Value)}, true
	case compile.OpIn:
		var ids []string
		for _, v := range splitIDs(c.Value) {
			ids = append(ids, fmt.Sprint(v))
		}
		return ids, len(ids) > 0
	}
	return nil, false
}

// splitIDs expands a primary key argument: slices element-wise, strings on
// commas.
func splitIDs(v any) []any {
	switch t := v.(type) {
	case string:
		var out []any
		for _, p := range strings.Split(t, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	case []any:
		return t
	}
	if isList(v) {
		return toAnySlice(v)
	}
	return []any{v}
}

// pkWhere adds the primary key condition for ids to q.
func (q *Query) pkWhere(pk string, ids []any) {
	if strings.Contains(pk, ",") {
		q.setErr(pk, "complex primary keys are not supported")
		return
	}
	var all []any
	for _, id := range ids {
		all = append(all, splitIDs(id)...)
	}
	switch len(all) {
	case 0:
		q.setErr(pk, "no primary key value given")
	case 1:
		q.addCond(types.Must, pk, Eq(all[0]))
	default:
		q.addCond(types.Must, pk, types.Cond{Op: compile.OpIn, Value: all})
	}
}

func toAnySlice(v any) []any {
	rv := reflect.ValueOf(v)
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}
