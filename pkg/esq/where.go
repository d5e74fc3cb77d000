package esq

import (
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/usestring/esquery/pkg/compile"
	"github.com/usestring/esquery/pkg/types"
)

// Eq matches documents whose field equals v.
func Eq(v any) types.Cond { return types.Cond{Op: compile.OpEq, Value: v} }

// Ne matches documents whose field differs from v.
func Ne(v any) types.Cond { return types.Cond{Op: compile.OpNe, Value: v} }

// Op builds a condition from an operator token or alias.
func Op(op string, v any, extra ...any) types.Cond {
	c := types.Cond{Op: op, Value: v}
	if len(extra) > 0 {
		c.Extra = extra[0]
	}
	return c
}

// In matches any of values. A single slice or comma separated string is
// expanded.
func In(values ...any) types.Cond { return types.Cond{Op: compile.OpIn, Value: listArg(values)} }

// NotIn matches none of values.
func NotIn(values ...any) types.Cond { return types.Cond{Op: compile.OpNotIn, Value: listArg(values)} }

// Between matches lo <= field <= hi.
func Between(lo, hi any) types.Cond {
	return types.Cond{Op: compile.OpBetween, Value: []any{lo, hi}}
}

// NotBetween matches field < lo or field > hi.
func NotBetween(lo, hi any) types.Cond {
	return types.Cond{Op: compile.OpNotBetween, Value: []any{lo, hi}}
}

// Like matches a %-wildcarded pattern.
func Like(pattern string) types.Cond { return types.Cond{Op: compile.OpLike, Value: pattern} }

// NotLike excludes a %-wildcarded pattern.
func NotLike(pattern string) types.Cond { return types.Cond{Op: compile.OpNotLike, Value: pattern} }

// Null matches documents without the field.
func Null() types.Cond { return types.Cond{Op: compile.OpNull, Value: ""} }

// NotNull matches documents with the field.
func NotNull() types.Cond { return types.Cond{Op: compile.OpNotNull, Value: ""} }

// Raw embeds a clause object as is.
func Raw(clause map[string]any) types.Cond { return types.Cond{Op: compile.OpExp, Value: clause} }

func listArg(values []any) any {
	if len(values) == 1 {
		return values[0]
	}
	return values
}

// Where adds an AND condition on field. Accepted shapes:
//
//	Where("age", 30)                      // equality
//	Where("age", esq.Between(18, 30))     // structured condition
//	Where("age", ">", 30)                 // operator and operand
//	Where("at", "between time", []any{lo, hi})
//	Where("age", esq.Eq(1), esq.Eq(2), "or") // several conditions, trailing logic
//
// Not equal, not in and not like are always registered under must_not.
// Any other shape fails the next terminal call with a CompileError.
func (q *Query) Where(field string, args ...any) *Query {
	q.parseWhere(types.Must, field, args)
	return q
}

// WhereOr adds an OR condition on field. It accepts the shapes of Where.
func (q *Query) WhereOr(field string, args ...any) *Query {
	q.parseWhere(types.Should, field, args)
	return q
}

// WhereMap adds one AND condition per key, in key order. Structured values
// are used as is, slices mean in, anything else means equality.
func (q *Query) WhereMap(conds map[string]any) *Query {
	keys := make([]string, 0, len(conds))
	for k := range conds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := conds[k].(type) {
		case types.Cond:
			q.addCond(types.Must, k, v)
		default:
			if isList(v) {
				q.addCond(types.Must, k, types.Cond{Op: compile.OpIn, Value: v})
			} else {
				q.addCond(types.Must, k, Eq(v))
			}
		}
	}
	return q
}

// WhereNull matches documents without field.
func (q *Query) WhereNull(field string, logic ...string) *Query {
	q.addCond(combinator(logic), field, Null())
	return q
}

// WhereNotNull matches documents with field.
func (q *Query) WhereNotNull(field string, logic ...string) *Query {
	q.addCond(combinator(logic), field, NotNull())
	return q
}

// WhereExists matches documents with field.
func (q *Query) WhereExists(field string, logic ...string) *Query {
	q.addCond(combinator(logic), field, types.Cond{Op: compile.OpExists, Value: ""})
	return q
}

// WhereIn matches field against a list of values.
func (q *Query) WhereIn(field string, values any, logic ...string) *Query {
	q.addCond(combinator(logic), field, types.Cond{Op: compile.OpIn, Value: values})
	return q
}

// WhereNotIn excludes a list of values.
func (q *Query) WhereNotIn(field string, values any, logic ...string) *Query {
	q.addCond(combinator(logic), field, types.Cond{Op: compile.OpNotIn, Value: values})
	return q
}

// WhereLike matches a %-wildcarded pattern.
func (q *Query) WhereLike(field, pattern string, logic ...string) *Query {
	q.addCond(combinator(logic), field, Like(pattern))
	return q
}

// WhereNotLike excludes a %-wildcarded pattern.
func (q *Query) WhereNotLike(field, pattern string, logic ...string) *Query {
	q.addCond(combinator(logic), field, NotLike(pattern))
	return q
}

// WhereBetween matches an inclusive range given as a pair or "lo,hi".
func (q *Query) WhereBetween(field string, bounds any, logic ...string) *Query {
	q.addCond(combinator(logic), field, types.Cond{Op: compile.OpBetween, Value: bounds})
	return q
}

// WhereNotBetween matches values outside a range given as a pair or "lo,hi".
func (q *Query) WhereNotBetween(field string, bounds any, logic ...string) *Query {
	q.addCond(combinator(logic), field, types.Cond{Op: compile.OpNotBetween, Value: bounds})
	return q
}

// WhereRaw adds a raw clause object.
func (q *Query) WhereRaw(clause map[string]any, logic ...string) *Query {
	q.addCond(combinator(logic), "", Raw(clause))
	return q
}

// WhereTime compares field against time. With a range, op is a comparison
// (">", "<=", "between", ...) applied to the range. Without one, op is a
// symbol resolved against the clock: today (d), yesterday, week (w, this
// week), last week, month (m, this month), last month, year (y, this
// year), last year. Any other op is taken as a lower boundary.
func (q *Query) WhereTime(field, op string, rng ...any) *Query {
	if len(rng) == 0 {
		cmp, value := resolveTimeSymbol(op, q.db.now())
		return q.Where(field, cmp+" time", value)
	}
	var value any
	if len(rng) == 1 {
		value = rng[0]
	} else {
		value = rng
	}
	return q.Where(field, strings.ToLower(strings.TrimSpace(op))+" time", value)
}

func combinator(logic []string) types.Combinator {
	if len(logic) == 0 {
		return types.Must
	}
	return types.ParseCombinator(logic[0])
}

func (q *Query) setErr(token, format string, args ...any) {
	if q.err == nil {
		q.err = types.NewCompileError(token, format, args...)
	}
}

func (q *Query) parseWhere(comb types.Combinator, field string, args []any) {
	field = strings.TrimSpace(field)
	if field == "" {
		q.setErr("", "condition without field")
		return
	}

	switch len(args) {
	case 0:
		q.setErr(field, "condition without value")
		return
	case 1:
		switch v := args[0].(type) {
		case types.Cond:
			q.addCond(comb, field, v)
		case string:
			if isNullKeyword(v) {
				q.addCond(comb, field, types.Cond{Op: v, Value: ""})
				return
			}
			q.addCond(comb, field, Eq(v))
		default:
			if isList(v) {
				q.setErr(field, "query conditions do not conform to specifications")
				return
			}
			q.addCond(comb, field, Eq(v))
		}
		return
	}

	if _, ok := args[0].(types.Cond); ok {
		q.whereMulti(comb, field, args)
		return
	}

	op, ok := args[0].(string)
	if !ok {
		q.setErr(field, "operator must be a string")
		return
	}
	if isNullKeyword(op) {
		q.addCond(comb, field, types.Cond{Op: op, Value: ""})
		return
	}
	switch len(args) {
	case 2:
		q.addCond(comb, field, types.Cond{Op: op, Value: args[1]})
	case 3:
		q.addCond(comb, field, types.Cond{Op: op, Value: args[1], Extra: args[2]})
	default:
		q.setErr(op, "too many arguments for operator")
	}
}

// whereMulti registers several conditions on one field. The last argument
// names the logic joining them.
func (q *Query) whereMulti(comb types.Combinator, field string, args []any) {
	logic, ok := args[len(args)-1].(string)
	if !ok {
		q.setErr(field, "query conditions do not conform to specifications")
		return
	}
	conds := make([]types.Cond, 0, len(args)-1)
	for _, a := range args[:len(args)-1] {
		c, ok := a.(types.Cond)
		if !ok {
			q.setErr(field, "query conditions do not conform to specifications")
			return
		}
		conds = append(conds, c)
	}
	comb = types.ParseCombinator(logic)
	for _, c := range conds {
		q.addCond(comb, field, c)
	}
}

// isNullKeyword reports whether s is a null test usable without an
// operand in the shorthand forms.
func isNullKeyword(s string) bool {
	tok, ok := compile.LookupOperator(s)
	return ok && (tok == compile.OpNull || tok == compile.OpNotNull)
}

// addCond registers c, moving negated operators to must_not. An equality
// without an operand is refused.
func (q *Query) addCond(comb types.Combinator, field string, c types.Cond) {
	tok, ok := compile.LookupOperator(c.Op)
	if ok && (tok == compile.OpEq || tok == compile.OpNe) && c.Value == nil {
		q.setErr(field, "condition without value")
		return
	}
	if ok && compile.IsNegated(tok) {
		comb = types.MustNot
	}
	if q.where == nil {
		q.where = types.NewTree()
	}
	q.where.Add(comb, field, c)
}

// isList reports whether v is a slice or array other than raw bytes.
func isList(v any) bool {
	if v == nil {
		return false
	}
	if _, ok := v.([]byte); ok {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

// resolveTimeSymbol turns a relative time symbol into a comparison and its
// operand. Weeks start on Monday.
func resolveTimeSymbol(sym string, now time.Time) (string, any) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	week := day.AddDate(0, 0, -((int(day.Weekday()) + 6) % 7))
	month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	year := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location())

	switch strings.ToLower(strings.TrimSpace(sym)) {
	case "today", "d":
		return "between", []any{day, day.AddDate(0, 0, 1)}
	case "yesterday":
		return "between", []any{day.AddDate(0, 0, -1), day}
	case "week", "w", "this week":
		return ">", week
	case "last week":
		return "between", []any{week.AddDate(0, 0, -7), week}
	case "month", "m", "this month":
		return ">", month
	case "last month":
		return "between", []any{month.AddDate(0, -1, 0), month}
	case "year", "y", "this year":
		return ">", year
	case "last year":
		return "between", []any{year.AddDate(-1, 0, 0), year}
	}
	return ">", sym
}
