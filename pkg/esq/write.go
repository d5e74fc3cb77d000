package esq

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/usestring/esquery/pkg/types"
)

func affected(res *types.BulkResult) int {
	if res == nil {
		return 0
	}
	return res.Affected
}

func merge(base, over map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

// Insert indexes one document merged over the Data payload and returns
// the number of indexed documents. On success the primary key field of
// the document holds the assigned id.
func (q *Query) Insert(ctx context.Context, data map[string]any) (int, error) {
	res, err := q.insert(ctx, data)
	return affected(res), err
}

// InsertGetID indexes one document and returns its id.
func (q *Query) InsertGetID(ctx context.Context, data map[string]any) (string, error) {
	res, err := q.insert(ctx, data)
	if err != nil {
		return "", err
	}
	return res.LastID(), nil
}

func (q *Query) insert(ctx context.Context, data map[string]any) (*types.BulkResult, error) {
	spec, err := q.finalize()
	if err != nil {
		return nil, err
	}
	doc := merge(spec.Data, data)
	req, err := q.db.compiler.Insert(spec, doc)
	if err != nil {
		return nil, err
	}
	res, err := q.db.router.Bulk(ctx, req)
	if err != nil {
		return res, err
	}
	if id := res.LastID(); id != "" {
		doc[q.db.compiler.PrimaryKey()] = id
	}
	spec.Data = doc
	if q.db.hooks.AfterInsert != nil {
		q.db.hooks.AfterInsert(ctx, spec)
	}
	return res, nil
}

// InsertAll indexes rows in one bulk request. When some items fail the
// result describes the successful ones and the error is a
// *types.AggregateError.
func (q *Query) InsertAll(ctx context.Context, rows []map[string]any) (*types.BulkResult, error) {
	spec, err := q.finalize()
	if err != nil {
		return nil, err
	}
	req, err := q.db.compiler.InsertAll(spec, rows)
	if err != nil {
		return nil, err
	}
	res, err := q.db.router.Bulk(ctx, req)
	if err != nil {
		return res, err
	}
	if q.db.hooks.AfterInsert != nil {
		q.db.hooks.AfterInsert(ctx, spec)
	}
	return res, nil
}

// Update writes data merged over the Data payload to the matching
// documents and returns how many changed. Without conditions, the primary
// key field of data selects the document and is not written.
func (q *Query) Update(ctx context.Context, data map[string]any) (int64, error) {
	spec, err := q.finalize()
	if err != nil {
		return 0, err
	}
	return q.db.update(ctx, spec, data)
}

// SetField writes one field of the matching documents.
func (q *Query) SetField(ctx context.Context, field string, value any) (int64, error) {
	return q.Update(ctx, map[string]any{field: value})
}

func (db *DB) update(ctx context.Context, spec *types.Spec, data map[string]any) (int64, error) {
	pk := db.compiler.PrimaryKey()
	if strings.Contains(pk, ",") {
		return 0, types.NewCompileError(pk, "complex primary keys are not supported")
	}
	doc := merge(spec.Data, data)

	if spec.Where.Empty() {
		id, ok := doc[pk]
		if !ok || id == nil || fmt.Sprint(id) == "" {
			return 0, &types.PreconditionError{Message: "miss update condition"}
		}
		spec.Where.Add(types.Must, pk, Eq(id))
	}
	delete(doc, pk)

	var n int64
	ids, byID := pkIDs(spec, pk)
	if byID {
		req, err := db.compiler.Update(ctx, spec, doc, ids)
		if err != nil {
			return 0, err
		}
		res, err := db.router.Bulk(ctx, req)
		if err != nil {
			return int64(affected(res)), err
		}
		n = int64(res.Affected)
	} else {
		req, err := db.compiler.Update(ctx, spec, doc, nil)
		if err != nil {
			return 0, err
		}
		if n, err = db.router.UpdateByQuery(ctx, req); err != nil {
			return n, err
		}
	}

	db.invalidate(spec, ids)
	if db.hooks.AfterUpdate != nil {
		if byID && len(ids) == 1 {
			doc[pk] = ids[0]
		}
		spec.Data = doc
		db.hooks.AfterUpdate(ctx, spec)
	}
	return n, nil
}

// invalidate drops the cached rows a write may have changed: the explicit
// cache key and the per-id entries of the written ids.
func (db *DB) invalidate(spec *types.Spec, ids []string) {
	if spec.Cache != nil && spec.Cache.Key != "" {
		db.results.Remove(spec.Cache.Key)
	}
	for _, id := range ids {
		db.results.Remove(pkCacheKey(spec.Table, id))
	}
}

// Delete removes the matching documents and returns how many were
// removed. A query without conditions is refused; use DeleteAll.
func (q *Query) Delete(ctx context.Context) (int64, error) {
	spec, err := q.finalize()
	if err != nil {
		return 0, err
	}
	if spec.Where.Empty() {
		return 0, &types.PreconditionError{Message: "delete without condition"}
	}
	return q.db.delete(ctx, spec)
}

// DeleteByPK removes the documents whose primary key is among ids.
func (q *Query) DeleteByPK(ctx context.Context, ids ...any) (int64, error) {
	q.pkWhere(q.db.compiler.PrimaryKey(), ids)
	return q.Delete(ctx)
}

// DeleteAll removes the matching documents, every document of the
// collection when there are no conditions.
func (q *Query) DeleteAll(ctx context.Context) (int64, error) {
	spec, err := q.finalize()
	if err != nil {
		return 0, err
	}
	return q.db.delete(ctx, spec)
}

func (db *DB) delete(ctx context.Context, spec *types.Spec) (int64, error) {
	pk := db.compiler.PrimaryKey()
	var n int64
	ids, byID := pkIDs(spec, pk)
	if byID {
		req, err := db.compiler.Delete(ctx, spec, ids)
		if err != nil {
			return 0, err
		}
		res, err := db.router.Bulk(ctx, req)
		if err != nil {
			return int64(affected(res)), err
		}
		n = int64(res.Affected)
	} else {
		req, err := db.compiler.Delete(ctx, spec, nil)
		if err != nil {
			return 0, err
		}
		if n, err = db.router.DeleteByQuery(ctx, req); err != nil {
			return n, err
		}
	}

	db.invalidate(spec, ids)
	if db.hooks.AfterDelete != nil {
		if byID && len(ids) == 1 {
			spec.Data = map[string]any{pk: ids[0]}
		}
		db.hooks.AfterDelete(ctx, spec)
	}
	return n, nil
}

// Increment adds step to field of the matching documents. With a lazy
// window greater than zero, steps are coalesced per collection, field and
// condition: calls inside the window write nothing and report 0, and the
// first call after it writes the accumulated sum.
func (q *Query) Increment(ctx context.Context, field string, step float64, lazy time.Duration) (int64, error) {
	spec, err := q.finalize()
	if err != nil {
		return 0, err
	}
	if spec.Where.Empty() {
		return 0, &types.PreconditionError{Message: "no data to update"}
	}

	if lazy > 0 {
		total, ok := q.db.counter.Accumulate(lazyKey(spec, field), step, lazy)
		if !ok || total == 0 {
			return 0, nil
		}
		step = total
	}
	return q.db.update(ctx, spec, map[string]any{field: types.Increment{Step: step}})
}

// Decrement subtracts step from field of the matching documents. See
// Increment for the lazy window.
func (q *Query) Decrement(ctx context.Context, field string, step float64, lazy time.Duration) (int64, error) {
	return q.Increment(ctx, field, -step, lazy)
}

// lazyKey identifies one coalesced increment stream.
func lazyKey(spec *types.Spec, field string) string {
	where, err := json.Marshal(spec.Where)
	if err != nil {
		where = []byte(fmt.Sprintf("%v", spec.Where))
	}
	sum := sha256.Sum256([]byte(spec.Table + "_" + field + "_" + string(where)))
	return hex.EncodeToString(sum[:])
}
