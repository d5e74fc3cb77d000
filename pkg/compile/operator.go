package compile

import (
	"strings"

	"golang.org/x/text/cases"
)

// Clause tokens understood by the compiler. Caller supplied operators are
// resolved to one of these through the operator table.
const (
	OpEq             = "="
	OpNe             = "<>"
	OpGt             = "gt"
	OpGte            = "gte"
	OpLt             = "lt"
	OpLte            = "lte"
	OpLike           = "like"
	OpNotLike        = "not like"
	OpIn             = "in"
	OpNotIn          = "nin"
	OpBetween        = "between"
	OpNotBetween     = "not between"
	OpExp            = "exp"
	OpExists         = "exists"
	OpNull           = "null"
	OpNotNull        = "not null"
	OpGtTime         = "> time"
	OpGteTime        = ">= time"
	OpLtTime         = "< time"
	OpLteTime        = "<= time"
	OpBetweenTime    = "between time"
	OpNotBetweenTime = "not between time"
)

var tokens = map[string]bool{
	OpEq: true, OpNe: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true,
	OpLike: true, OpNotLike: true, OpIn: true, OpNotIn: true,
	OpBetween: true, OpNotBetween: true, OpExp: true,
	OpExists: true, OpNull: true, OpNotNull: true,
	OpGtTime: true, OpGteTime: true, OpLtTime: true, OpLteTime: true,
	OpBetweenTime: true, OpNotBetweenTime: true,
}

// aliases maps human readable comparison names to clause tokens.
var aliases = map[string]string{
	"eq":              OpEq,
	"ne":              OpNe,
	"neq":             OpNe,
	"!=":              OpNe,
	">":               OpGt,
	">=":              OpGte,
	"<":               OpLt,
	"<=":              OpLte,
	"not in":          OpNotIn,
	"notin":           OpNotIn,
	"notlike":         OpNotLike,
	"notnull":         OpNotNull,
	"notbetween":      OpNotBetween,
	">time":           OpGtTime,
	">=time":          OpGteTime,
	"<time":           OpLtTime,
	"<=time":          OpLteTime,
	"notbetween time": OpNotBetweenTime,
}

// LookupOperator resolves op to a clause token. Tokens pass through as is,
// other names are folded to lower case and looked up in the alias table.
func LookupOperator(op string) (string, bool) {
	if tokens[op] {
		return op, true
	}
	key := strings.Join(strings.Fields(cases.Fold().String(op)), " ")
	if tokens[key] {
		return key, true
	}
	if tok, ok := aliases[key]; ok {
		return tok, true
	}
	return "", false
}

// IsNegated reports whether token must be registered under must_not.
func IsNegated(token string) bool {
	switch token {
	case OpNe, OpNotIn, OpNotLike:
		return true
	}
	return false
}

// IsTime reports whether token compares normalized dates.
func IsTime(token string) bool {
	switch token {
	case OpGtTime, OpGteTime, OpLtTime, OpLteTime, OpBetweenTime, OpNotBetweenTime:
		return true
	}
	return false
}
