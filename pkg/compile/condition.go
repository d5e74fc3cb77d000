package compile

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/usestring/esquery/pkg/types"
)

var timeRangeKeys = map[string]string{
	OpGtTime:  "gt",
	OpGteTime: "gte",
	OpLtTime:  "lt",
	OpLteTime: "lte",
}

// CompileCondition compiles a single condition on field into one clause.
// Negated operators (<>, not in, not like) compile to their positive clause;
// the caller is expected to register them under must_not.
func (c *Compiler) CompileCondition(ctx context.Context, table, field string, cond types.Cond) (map[string]any, error) {
	op, ok := LookupOperator(cond.Op)
	if !ok {
		return nil, types.NewCompileError(cond.Op, "where express error")
	}
	if field == "" && op != OpExp {
		return nil, types.NewCompileError(cond.Op, "condition without field")
	}

	switch op {
	case OpEq, OpNe:
		return term(field, cond.Value), nil

	case OpGt, OpGte, OpLt, OpLte:
		return rangeOf(field, map[string]any{op: cond.Value}), nil

	case OpNull:
		return map[string]any{"bool": map[string]any{"must_not": []any{exists(field)}}}, nil

	case OpNotNull, OpExists:
		return exists(field), nil

	case OpBetween, OpNotBetween:
		lo, hi, err := bounds(op, cond.Value)
		if err != nil {
			return nil, err
		}
		if op == OpBetween {
			return rangeOf(field, map[string]any{"gte": lo, "lte": hi}), nil
		}
		return rangeOf(field, map[string]any{"lt": lo, "gt": hi}), nil

	case OpLike, OpNotLike:
		return like(field, cond.Value), nil

	case OpIn, OpNotIn:
		return map[string]any{"terms": map[string]any{field: toList(cond.Value)}}, nil

	case OpExp:
		raw, ok := cond.Value.(map[string]any)
		if !ok || len(raw) == 0 {
			return nil, types.NewCompileError(cond.Op, "raw condition must be a clause object")
		}
		return raw, nil

	case OpGtTime, OpGteTime, OpLtTime, OpLteTime:
		v, err := c.normalizeDate(ctx, table, field, cond.Value)
		if err != nil {
			return nil, err
		}
		return rangeOf(field, map[string]any{timeRangeKeys[op]: v}), nil

	case OpBetweenTime, OpNotBetweenTime:
		lo, hi, err := bounds(op, cond.Value)
		if err != nil {
			return nil, err
		}
		if lo, err = c.normalizeDate(ctx, table, field, lo); err != nil {
			return nil, err
		}
		if hi, err = c.normalizeDate(ctx, table, field, hi); err != nil {
			return nil, err
		}
		if op == OpBetweenTime {
			return rangeOf(field, map[string]any{"gte": lo, "lte": hi}), nil
		}
		return rangeOf(field, map[string]any{"lt": lo, "gt": hi}), nil
	}

	return term(field, cond.Value), nil
}

func term(field string, value any) map[string]any {
	return map[string]any{"term": map[string]any{field: value}}
}

func rangeOf(field string, bounds map[string]any) map[string]any {
	return map[string]any{"range": map[string]any{field: bounds}}
}

func exists(field string) map[string]any {
	return map[string]any{"exists": map[string]any{"field": field}}
}

// like classifies by wildcard position: a leading % (with or without a
// trailing one) is a phrase match, only a trailing % is a phrase prefix,
// no % at all is an exact term.
func like(field string, value any) map[string]any {
	s := strings.TrimSpace(fmt.Sprint(value))
	leading := strings.HasPrefix(s, "%")
	trailing := len(s) > 1 && strings.HasSuffix(s, "%")
	text := strings.Trim(s, "%")

	switch {
	case leading:
		return map[string]any{"match_phrase": map[string]any{field: map[string]any{"query": text}}}
	case trailing:
		return map[string]any{"match_phrase_prefix": map[string]any{field: map[string]any{"query": text}}}
	default:
		return term(field, s)
	}
}

// toList turns an operand into a list: slices are copied, strings are split
// on commas, anything else becomes a single element list.
func toList(v any) []any {
	switch t := v.(type) {
	case nil:
		return []any{}
	case []any:
		return append([]any(nil), t...)
	case string:
		parts := strings.Split(t, ",")
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			out = append(out, strings.TrimSpace(p))
		}
		return out
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out
	}
	return []any{v}
}

func bounds(op string, v any) (any, any, error) {
	list := toList(v)
	if len(list) != 2 {
		return nil, nil, types.NewCompileError(op, "range operator needs exactly two bounds, got %d", len(list))
	}
	return list[0], list[1], nil
}
