package compile

import (
	"context"
	"strings"

	"github.com/usestring/esquery/pkg/types"
)

// CompileFilter compiles a filter tree into a bool query.
func (c *Compiler) CompileFilter(ctx context.Context, table string, tree *types.Tree) (map[string]any, error) {
	if tree.Empty() {
		return map[string]any{"match_all": map[string]any{}}, nil
	}

	a := &assembler{}
	for _, comb := range types.Combinators {
		for _, fc := range tree.Fields(comb) {
			if err := c.compileField(ctx, table, a, comb, fc); err != nil {
				return nil, err
			}
		}
	}
	return a.build(), nil
}

func (c *Compiler) compileField(ctx context.Context, table string, a *assembler, comb types.Combinator, fc *types.FieldCond) error {
	field := strings.TrimSpace(fc.Field)

	var sep string
	var joined types.Combinator
	switch {
	case strings.Index(field, "|") > 0:
		sep, joined = "|", types.Should
	case strings.Index(field, "&") > 0:
		sep, joined = "&", types.Must
	}

	if sep == "" {
		for _, cond := range fc.Conds {
			clause, err := c.CompileCondition(ctx, table, field, cond)
			if err != nil {
				return err
			}
			a.add(comb, clause)
		}
		return nil
	}

	// Composite fields compile once per member and join in a nested bool.
	var clauses []any
	phrase := false
	for _, member := range strings.Split(field, sep) {
		member = strings.TrimSpace(member)
		if member == "" {
			continue
		}
		for _, cond := range fc.Conds {
			clause, err := c.CompileCondition(ctx, table, member, cond)
			if err != nil {
				return err
			}
			phrase = phrase || isPhrase(clause)
			clauses = append(clauses, clause)
		}
	}
	nested := map[string]any{"bool": map[string]any{string(joined): clauses}}
	if phrase {
		a.addScored(comb, nested)
	} else {
		a.addFilter(comb, nested)
	}
	return nil
}

// assembler collects compiled clauses per combinator, keeping scored text
// matches apart from non-scoring filters.
type assembler struct {
	scored  map[types.Combinator][]any
	filters map[types.Combinator][]any
}

func (a *assembler) add(comb types.Combinator, clause map[string]any) {
	if isPhrase(clause) {
		a.addScored(comb, clause)
		return
	}
	a.addFilter(comb, clause)
}

func (a *assembler) addScored(comb types.Combinator, clause map[string]any) {
	if a.scored == nil {
		a.scored = make(map[types.Combinator][]any)
	}
	a.scored[comb] = append(a.scored[comb], clause)
}

func (a *assembler) addFilter(comb types.Combinator, clause map[string]any) {
	if a.filters == nil {
		a.filters = make(map[types.Combinator][]any)
	}
	a.filters[comb] = append(a.filters[comb], clause)
}

func (a *assembler) build() map[string]any {
	root := make(map[string]any)
	for comb, list := range a.scored {
		root[string(comb)] = list
	}
	if len(a.filters) > 0 {
		inner := make(map[string]any, len(a.filters))
		for comb, list := range a.filters {
			inner[string(comb)] = list
		}
		root["filter"] = map[string]any{"bool": inner}
	}
	return map[string]any{"bool": root}
}

func isPhrase(clause map[string]any) bool {
	_, phrase := clause["match_phrase"]
	_, prefix := clause["match_phrase_prefix"]
	return phrase || prefix
}
