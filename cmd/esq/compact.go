package main

import (
	"fmt"
	"unicode/utf8"

	"github.com/usestring/esquery/pkg/types"
)

// compaction bounds how much of each document search prints. Zero
// disables a bound.
type compaction struct {
	maxItems int
	maxChars int
}

func (c compaction) enabled() bool {
	return c.maxItems > 0 || c.maxChars > 0
}

// apply returns a copy of v with long arrays cut to maxItems, followed by
// a marker counting the dropped items, and long strings cut to maxChars.
func (c compaction) apply(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = c.apply(item)
		}
		return out
	case []any:
		n := len(t)
		if c.maxItems > 0 && n > c.maxItems {
			n = c.maxItems
		}
		out := make([]any, 0, n+1)
		for _, item := range t[:n] {
			out = append(out, c.apply(item))
		}
		if n < len(t) {
			out = append(out, fmt.Sprintf("... (%d more items)", len(t)-n))
		}
		return out
	case string:
		if c.maxChars <= 0 || utf8.RuneCountInString(t) <= c.maxChars {
			return t
		}
		runes := []rune(t)
		return string(runes[:c.maxChars]) + fmt.Sprintf("... (%d more chars)", len(runes)-c.maxChars)
	}
	return v
}

// toGeneric lifts a row slice to []any so apply can walk it.
func toGeneric(v any) any {
	rows, ok := v.([]types.Row)
	if !ok {
		return v
	}
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}
